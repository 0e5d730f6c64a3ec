// Command rtprof-where sends a running process an on-demand "where"
// request: the quit-equivalent signal spec.md §6 describes, which wakes
// that process's where-listener thread, causing it to render one live
// snapshot of every tracked thread to a named pipe, then shut that pass
// down. This command then reads the pipe and copies it to stdout.
//
// Grounded on cmd/wzprof/main.go's structure (an init() registering
// flags, a run(ctx) entry point, signal.NotifyContext for interrupt
// handling) generalized from single-dash stdlib flag to pflag's
// double-dash flags, per SPEC_FULL.md §3.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var (
	pid      int
	pipe     string
	mode     string
	interval time.Duration
)

func init() {
	pflag.IntVar(&pid, "pid", 0, "Process id of the rtprof-instrumented program to snapshot.")
	pflag.StringVar(&pipe, "pipe", "", "Path to the snapshot pipe (default: a process-id-qualified path under TMPDIR).")
	pflag.StringVar(&mode, "mode", "where", "Snapshot mode to request; only \"where\" is currently implemented.")
	pflag.DurationVar(&interval, "interval", 20*time.Millisecond, "How often to poll for the snapshot pipe to appear, and the overall wait budget multiplier (250x this value).")
}

func run(ctx context.Context) error {
	pflag.Parse()
	if pid <= 0 {
		return fmt.Errorf("usage: rtprof-where --pid <pid> [--pipe <path>] [--mode where]")
	}
	if mode != "where" {
		return fmt.Errorf("rtprof-where: unsupported --mode %q; only \"where\" is implemented", mode)
	}
	if pipe == "" {
		pipe = filepath.Join(os.TempDir(), "rtprof-where."+strconv.Itoa(pid))
	}

	if err := sendWhereSignal(pid); err != nil {
		return fmt.Errorf("signalling pid %d: %w", pid, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 250*interval)
	defer cancel()
	return copySnapshot(ctx, pipe, interval, os.Stdout)
}

// copySnapshot opens pipe and streams its contents to w, retrying every
// pollInterval while the process on the other end has not yet created
// the pipe file.
func copySnapshot(ctx context.Context, pipe string, pollInterval time.Duration, w io.Writer) error {
	for {
		f, err := os.Open(pipe)
		if err == nil {
			defer f.Close()
			_, err := io.Copy(w, f)
			return err
		}
		if !os.IsNotExist(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", pipe, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}
