//go:build linux

package saferead

import "runtime"

// processVMReadvNumber returns the Linux syscall number for
// process_vm_readv on the running architecture, or 0 if unknown (in which
// case the kernel strategy is unavailable and New falls back).
func processVMReadvNumber() uintptr {
	switch runtime.GOARCH {
	case "amd64":
		return 310
	case "arm64":
		return 270
	default:
		return 0
	}
}
