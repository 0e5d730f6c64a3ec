package rtprof

import (
	"errors"
	"testing"
	"time"

	"github.com/stealthrocket/rtprof/internal/saferead"
)

func TestNewConfigAppliesDefaults(t *testing.T) {
	cfg, err := NewConfig(WithOutputPath("out.bin"))
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.Interval != time.Millisecond {
		t.Errorf("Interval = %v, want 1ms", cfg.Interval)
	}
	if cfg.MaxFrames != 2048 {
		t.Errorf("MaxFrames = %d, want 2048", cfg.MaxFrames)
	}
	if cfg.VMReadMode != VMReadKernel {
		t.Errorf("VMReadMode = %v, want VMReadKernel", cfg.VMReadMode)
	}
}

func TestNewConfigRejectsMemoryAndCPUTogether(t *testing.T) {
	_, err := NewConfig(WithOutputPath("out.bin"), WithMemoryMode(true), WithCPUMode(true))
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestNewConfigRequiresPipeNameInWhereMode(t *testing.T) {
	_, err := NewConfig(WithWhereMode(true))
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestNewConfigWhereModeSkipsIntervalCheck(t *testing.T) {
	cfg, err := NewConfig(WithWhereMode(true), WithPipeName("/tmp/rtprof-where.123"), WithInterval(0))
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if !cfg.Where {
		t.Error("expected Where to be true")
	}
}

func TestNewConfigRejectsNonPositiveMaxFrames(t *testing.T) {
	_, err := NewConfig(WithOutputPath("out.bin"), WithMaxFrames(0))
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestVMReadModeStrategyMapping(t *testing.T) {
	cases := []struct {
		mode VMReadMode
		want saferead.Strategy
	}{
		{VMReadWritevMirror, saferead.StrategyMirror},
		{VMReadKernel, saferead.StrategyKernel},
		{VMReadTrampoline, saferead.StrategyTrampoline},
	}
	for _, c := range cases {
		if got := c.mode.strategy(); got != c.want {
			t.Errorf("VMReadMode(%d).strategy() = %v, want %v", c.mode, got, c.want)
		}
	}
}
