//  Copyright 2023 Stealth Rocket, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rtprof

import (
	"os"
	"time"

	"github.com/stealthrocket/rtprof/internal/saferead"
)

// VMReadMode selects the SafeReader strategy, numbered per spec.md §6
// rather than internal/saferead.Strategy's own numbering (which orders
// kernel first, as the preferred default).
type VMReadMode int

const (
	VMReadWritevMirror VMReadMode = 0
	VMReadKernel       VMReadMode = 1
	VMReadTrampoline   VMReadMode = 2
)

func (m VMReadMode) strategy() saferead.Strategy {
	switch m {
	case VMReadKernel:
		return saferead.StrategyKernel
	case VMReadTrampoline:
		return saferead.StrategyTrampoline
	default:
		return saferead.StrategyMirror
	}
}

// Config holds every process-wide option spec.md §6 lists. It is
// assembled via functional Options, the same pattern as cpu.go's
// CPUProfilerOption.
type Config struct {
	Interval                time.Duration
	CPU                     bool
	Memory                  bool
	Native                  bool
	Where                   bool
	MaxFrames               int
	PipeName                string
	IgnoreNonRunningThreads bool
	VMReadMode              VMReadMode
	OutputPath              string
}

// defaultConfig matches spec.md §6's stated defaults (interval=1000us,
// max_frames=2048) plus an output path honoring RTPROF_OUTPUT, the
// generalization of the source's ECHION_OUTPUT environment variable.
func defaultConfig() Config {
	cfg := Config{
		Interval:   time.Millisecond,
		MaxFrames:  2048,
		VMReadMode: VMReadKernel,
		OutputPath: os.Getenv("RTPROF_OUTPUT"),
	}
	if truthy(os.Getenv("RTPROF_ALT_VM_READ_FORCE")) {
		cfg.VMReadMode = VMReadTrampoline
	}
	return cfg
}

func truthy(s string) bool {
	switch s {
	case "1", "true", "TRUE", "True", "yes":
		return true
	default:
		return false
	}
}

// Option configures a Config constructed by NewConfig.
type Option func(*Config)

// WithInterval sets the Sampler's tick period. The default is 1ms
// (spec.md's default of 1000 microseconds).
func WithInterval(d time.Duration) Option {
	return func(c *Config) { c.Interval = d }
}

// WithCPUMode selects cpu-time sampling instead of wall-clock sampling.
func WithCPUMode(enable bool) Option {
	return func(c *Config) { c.CPU = enable }
}

// WithMemoryMode enables the allocator shim and suppresses time
// sampling, per spec.md §6.
func WithMemoryMode(enable bool) Option {
	return func(c *Config) { c.Memory = enable }
}

// WithNativeUnwinding enables native stack capture and interleaving.
func WithNativeUnwinding(enable bool) Option {
	return func(c *Config) { c.Native = enable }
}

// WithWhereMode requests a one-shot snapshot to PipeName instead of
// continuous sampling.
func WithWhereMode(enable bool) Option {
	return func(c *Config) { c.Where = enable }
}

// WithMaxFrames bounds a single stack's captured depth. The default is
// 2048.
func WithMaxFrames(n int) Option {
	return func(c *Config) { c.MaxFrames = n }
}

// WithPipeName sets the path where mode's snapshot pipe is created; its
// final path component typically includes the process id.
func WithPipeName(name string) Option {
	return func(c *Config) { c.PipeName = name }
}

// WithIgnoreNonRunningThreads, in cpu mode, skips threads that are not
// currently scheduled on a CPU.
func WithIgnoreNonRunningThreads(enable bool) Option {
	return func(c *Config) { c.IgnoreNonRunningThreads = enable }
}

// WithVMReadMode selects the SafeReader strategy explicitly, overriding
// the kernel-primitive-first default.
func WithVMReadMode(mode VMReadMode) Option {
	return func(c *Config) { c.VMReadMode = mode }
}

// WithOutputPath sets the binary event stream's destination file,
// overriding RTPROF_OUTPUT.
func WithOutputPath(path string) Option {
	return func(c *Config) { c.OutputPath = path }
}

// NewConfig builds a Config starting from the defaults (including
// environment variable overrides), applying opts in order, and
// validating the result. It returns ErrConfig wrapped with detail if the
// combination is invalid, per spec.md §7's "fail the configuration call;
// no global state changes."
func NewConfig(opts ...Option) (Config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.MaxFrames <= 0 {
		return wrapConfigError("max_frames must be positive")
	}
	if c.Interval <= 0 && !c.Where {
		return wrapConfigError("interval must be positive outside where mode")
	}
	if c.Memory && c.CPU {
		return wrapConfigError("memory mode and cpu mode are mutually exclusive")
	}
	if c.Where && c.PipeName == "" {
		return wrapConfigError("where mode requires a pipe_name")
	}
	return nil
}

func wrapConfigError(reason string) error {
	return &configError{reason: reason}
}

type configError struct{ reason string }

func (e *configError) Error() string { return "rtprof: invalid configuration: " + e.reason }

func (e *configError) Unwrap() error { return ErrConfig }
