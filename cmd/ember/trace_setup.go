package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ember/internal/config"
	"ember/internal/trace"
)

// setupTracing builds the tracer described by cfg and stores it in the
// command's context, where trace.FromContext finds it. The heartbeat is nil
// unless one was configured. The returned cleanup stops the heartbeat, writes
// the ring dump in ring mode and closes the tracer.
func setupTracing(cmd *cobra.Command, cfg config.Config) (*trace.Heartbeat, func(), error) {
	tc, err := cfg.TraceSettings()
	if err != nil {
		return nil, nil, err
	}

	// If level is off, skip tracing entirely.
	if tc.Level == trace.LevelOff {
		cmd.SetContext(trace.WithTracer(cmd.Context(), trace.Nop))
		return nil, func() {}, nil
	}

	tracer, err := trace.New(tc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	cmd.SetContext(trace.WithTracer(cmd.Context(), tracer))

	var heartbeat *trace.Heartbeat
	if tc.Heartbeat > 0 {
		heartbeat = trace.StartHeartbeat(tracer, tc.Heartbeat)
	}

	cleanup := func() {
		heartbeat.Stop()

		if tc.Mode == trace.ModeRing && tc.OutputPath != "" {
			if err := dumpRing(tracer, tc.OutputPath); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "trace: dump error: %v\n", err)
			}
		}
		if err := tracer.Flush(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: flush error: %v\n", err)
		}
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: close error: %v\n", err)
		}
	}
	return heartbeat, cleanup, nil
}

func dumpRing(tracer trace.Tracer, path string) error {
	ring := trace.RingOf(tracer)
	if ring == nil {
		return nil
	}
	if path == "-" {
		return ring.Dump(os.Stderr, trace.FormatText)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := ring.Dump(f, trace.FormatFromPath(path)); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
