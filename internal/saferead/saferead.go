// Package saferead implements fault-tolerant reads from addresses that may
// be invalid: stale pointers, unmapped pages, or structures caught mid
// mutation by a concurrently running thread. A failed read reports an
// error instead of crashing the process.
package saferead

import (
	"errors"
	"log"
	"unsafe"
)

// ErrFault is returned when a read could not be completed safely. dst may
// be partially populated; callers must not use its contents.
var ErrFault = errors.New("saferead: fault reading source address")

// ErrInvalidArgs is returned for inputs the contract explicitly disallows:
// reading into a destination that aliases the source address, or an
// unknown strategy. Reads from the zero page return ErrFault instead.
var ErrInvalidArgs = errors.New("saferead: invalid arguments")

// pageSize is the minimum granularity the trampoline and mirror strategies
// chunk reads by, so that a single faulting page only costs one miss.
const pageSize = 4096

// Strategy selects the mechanism a Reader uses to perform a cross-context
// memory copy. Modeled as a tagged variant rather than an interface
// hierarchy per the one implementation concern it exists to serve.
type Strategy int

const (
	// StrategyKernel uses a platform primitive that lets the kernel
	// validate the source range (process_vm_readv on Linux). Preferred
	// default where available.
	StrategyKernel Strategy = iota
	// StrategyTrampoline copies in page-bounded chunks with
	// debug.SetPanicOnFault armed, recovering a faulting chunk as
	// ErrFault; no signal handler is installed.
	StrategyTrampoline
	// StrategyMirror copies the source range the same recoverable way,
	// writes it to a backing temp file and reads it back with ReadAt; the
	// file is not memory-mapped.
	StrategyMirror
)

func (s Strategy) String() string {
	switch s {
	case StrategyKernel:
		return "kernel"
	case StrategyTrampoline:
		return "trampoline"
	case StrategyMirror:
		return "mirror"
	default:
		return "unknown"
	}
}

// Reader performs fault-tolerant copies from a possibly-invalid address
// into a caller-supplied buffer.
type Reader struct {
	strategy Strategy
	pid      int
	mirror   *mirror
	logger   *log.Logger
}

// Option configures a Reader constructed by New.
type Option func(*config)

type config struct {
	strategy Strategy
	pid      int
	logger   *log.Logger
}

// WithStrategy requests a specific strategy. New falls back to the next
// higher-numbered strategy (kernel, then trampoline, then mirror) if the
// requested one is unavailable on the current platform.
func WithStrategy(s Strategy) Option {
	return func(c *config) { c.strategy = s }
}

// WithPID targets reads at a specific process (used by the kernel
// strategy). Defaults to the current process, matching the in-process
// sampler's normal operating mode.
func WithPID(pid int) Option {
	return func(c *config) { c.pid = pid }
}

// WithLogger overrides the logger used to report strategy fallback.
// A nil logger defaults to log.Default().
func WithLogger(l *log.Logger) Option {
	return func(c *config) { c.logger = l }
}

// New constructs a Reader using the first available strategy at or after
// the requested one, in the order kernel, trampoline, mirror. The kernel
// strategy is attempted first by
// default; if it cannot be probed successfully, the Reader falls back to
// the trampoline strategy, and then to the mirror strategy, logging each
// fallback.
func New(opts ...Option) (*Reader, error) {
	cfg := config{strategy: StrategyKernel, pid: currentPID()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.Default()
	}

	r := &Reader{pid: cfg.pid, logger: cfg.logger}

	strategy := cfg.strategy
	for {
		switch strategy {
		case StrategyKernel:
			if probeKernelStrategy(cfg.pid) {
				r.strategy = StrategyKernel
				return r, nil
			}
			cfg.logger.Printf("saferead: kernel read strategy unavailable, falling back to trampoline")
			strategy = StrategyTrampoline
		case StrategyTrampoline:
			if probeTrampolineStrategy() {
				r.strategy = StrategyTrampoline
				installTrampolineHandler()
				return r, nil
			}
			cfg.logger.Printf("saferead: trampoline read strategy unavailable, falling back to mirror")
			strategy = StrategyMirror
		case StrategyMirror:
			m, err := newMirror()
			if err != nil {
				return nil, err
			}
			r.strategy = StrategyMirror
			r.mirror = m
			return r, nil
		default:
			return nil, ErrInvalidArgs
		}
	}
}

// Strategy reports the strategy actually in use (after any fallback).
func (r *Reader) Strategy() Strategy { return r.strategy }

// Copy copies n == len(dst) bytes from the (possibly invalid) address src
// into dst. It guarantees no write past len(dst); on fault dst may be
// partially populated but must not be used by the caller. Zero-length
// reads always succeed. Addresses below the first page are refused
// outright. dst aliasing src is disallowed.
func (r *Reader) Copy(dst []byte, src uintptr) error {
	if len(dst) == 0 {
		return nil
	}
	if src < pageSize {
		return ErrFault
	}
	if len(dst) > 0 && uintptr(unsafe.Pointer(&dst[0])) == src {
		return ErrInvalidArgs
	}

	switch r.strategy {
	case StrategyKernel:
		return r.copyKernel(dst, src)
	case StrategyTrampoline:
		return r.copyTrampoline(dst, src)
	case StrategyMirror:
		return r.mirror.copy(dst, src)
	default:
		return ErrInvalidArgs
	}
}

// Close releases any OS resources the Reader holds (the mirror strategy's
// backing file).
func (r *Reader) Close() error {
	if r.mirror != nil {
		return r.mirror.close()
	}
	return nil
}
