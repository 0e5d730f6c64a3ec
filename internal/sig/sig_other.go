//go:build windows

package sig

import "os"

// Windows has no SIGPROF/SIGUSR2 equivalents wired through os/signal, so
// these are no-ops and no OS signal ever reaches profileCh or quitCh. The
// sampler is ticker-driven on every platform and does not depend on them.
func installPlatform(profileCh, quitCh chan os.Signal) {}

func restorePlatform(profileCh, quitCh chan os.Signal) {}
