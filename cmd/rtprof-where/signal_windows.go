//go:build windows

package main

import "fmt"

// sendWhereSignal has no equivalent on Windows: there is no SIGUSR2, and
// internal/sig's Windows build falls back to not installing a handler at
// all. A where request on Windows therefore has to be wired through a
// platform-specific IPC mechanism outside this command's scope.
func sendWhereSignal(pid int) error {
	return fmt.Errorf("rtprof-where: on-demand snapshot signalling is not supported on windows")
}
