//go:build !windows

package sig

import (
	"os"
	"os/signal"
	"syscall"
)

// profileSignal and quitSignal pick SIGPROF/SIGQUIT-equivalents available
// on every unix Go targets; SIGPROF already carries the "periodic
// profiling timer expired" meaning on every unix the echion-style design
// this package follows runs on.
var (
	profileSignal os.Signal = syscall.SIGPROF
	quitSignal    os.Signal = syscall.SIGUSR2
)

func installPlatform(profileCh, quitCh chan os.Signal) {
	signal.Notify(profileCh, profileSignal)
	signal.Notify(quitCh, quitSignal)
}

func restorePlatform(profileCh, quitCh chan os.Signal) {
	signal.Stop(profileCh)
	signal.Stop(quitCh)
}
