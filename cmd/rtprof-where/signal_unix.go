//go:build !windows

package main

import "syscall"

// sendWhereSignal delivers the quit-equivalent signal internal/sig
// installs a handler for, waking the target process's where-listener
// thread.
func sendWhereSignal(pid int) error {
	return syscall.Kill(pid, syscall.SIGUSR2)
}
