package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"ember/internal/config"
	"ember/internal/firmware"
	"ember/internal/observ"
	"ember/internal/trace"
	"ember/internal/ui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot the demo firmware on the simulated chip",
	Long: `Boot the demo firmware: a ticker and a worker pool on core 0's thread-mode
executor, a blink task on an interrupt-mode executor, and a counter on core 1
woken across cores through the FIFO doorbell.`,
	Args: cobra.NoArgs,
	RunE: runExecution,
}

func init() {
	runCmd.Flags().String("ui", "auto", "live task view (auto|on|off)")
	runCmd.Flags().Bool("check", false, "verify executor state machines and tick counts after the run")
	runCmd.Flags().Duration("duration", 0, "stop the run after this long (0 waits for every task)")
	runCmd.Flags().Int("ticks", 20, "ticks the ticker task sends")
	runCmd.Flags().Duration("period", 10*time.Millisecond, "time between ticks")
	runCmd.Flags().Bool("json", false, "print the run report as JSON")
	runCmd.Flags().Bool("timings", false, "print phase timings")
}

func runExecution(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	heartbeat, cleanup, err := setupTracing(cmd, s.cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer stopProfiling()

	uiFlag, _ := cmd.Flags().GetString("ui")
	mode, err := readUIMode(uiFlag)
	if err != nil {
		return err
	}
	check, _ := cmd.Flags().GetBool("check")
	duration, _ := cmd.Flags().GetDuration("duration")
	ticks, _ := cmd.Flags().GetInt("ticks")
	period, _ := cmd.Flags().GetDuration("period")
	asJSON, _ := cmd.Flags().GetBool("json")
	timings, _ := cmd.Flags().GetBool("timings")

	opts, err := firmwareOptions(s.cfg)
	if err != nil {
		return err
	}
	timer := observ.NewTimer()
	opts.Ticks = ticks
	opts.Period = period
	opts.Check = check
	opts.Logger = s.log
	opts.Tracer = trace.FromContext(cmd.Context())
	opts.Timer = timer

	fw, err := firmware.New(opts)
	if err != nil {
		return err
	}
	heartbeat.Watch(func() string { return summarizeExecutors(fw.Executors()) })

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	var rep firmware.Report
	if shouldUseTUI(mode) {
		expected := duration
		if expected <= 0 {
			expected = time.Duration(ticks) * period
		}
		rep, err = runWithUI(ctx, fw, expected)
	} else {
		rep, err = fw.Run(ctx)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(rep); encErr != nil && err == nil {
			err = encErr
		}
	} else {
		printReport(out, rep)
	}
	if timings && !asJSON {
		fmt.Fprint(out, timer.Summary())
	}
	return err
}

func firmwareOptions(cfg config.Config) (firmware.Options, error) {
	opts := firmware.DefaultOptions()
	var err error
	if opts.Chip, err = cfg.Sizes(); err != nil {
		return opts, err
	}
	if opts.PoolSize, err = cfg.PoolSize(); err != nil {
		return opts, err
	}
	if opts.SWI, err = cfg.SWIInterrupt(); err != nil {
		return opts, err
	}
	if opts.BootRetries, err = cfg.BootRetries(); err != nil {
		return opts, err
	}
	opts.EchoTimeout = cfg.Multicore.EchoTimeout
	return opts, nil
}

// summarizeExecutors renders executor counters for heartbeat events.
func summarizeExecutors(stats []firmware.ExecutorStats) string {
	parts := make([]string, 0, len(stats))
	for _, ex := range stats {
		parts = append(parts, fmt.Sprintf("%s/c%d polls=%d idles=%d alarms=%d",
			ex.Name, ex.Core, ex.Stats.Polls, ex.Stats.Idles, ex.Stats.Alarms))
	}
	return strings.Join(parts, " ")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

type runOutcome struct {
	report firmware.Report
	err    error
}

func runWithUI(ctx context.Context, fw *firmware.Firmware, expected time.Duration) (firmware.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	snapshots := make(chan ui.Snapshot, 16)
	outcomeCh := make(chan runOutcome, 1)
	finished := make(chan struct{})

	go func() {
		rep, err := fw.Run(ctx)
		outcomeCh <- runOutcome{report: rep, err: err}
		close(finished)
	}()

	go func() {
		defer close(snapshots)
		start := time.Now()
		tick := time.NewTicker(50 * time.Millisecond)
		defer tick.Stop()
		send := func(note string) {
			snap := ui.Snapshot{Elapsed: time.Since(start), Note: note}
			for _, ex := range fw.Executors() {
				snap.Executors = append(snap.Executors, ui.ExecutorRow{Name: ex.Name, Core: ex.Core, Stats: ex.Stats})
			}
			select {
			case snapshots <- snap:
			default:
			}
		}
		for {
			select {
			case <-finished:
				send(fw.Chip().BootROM.String())
				return
			case <-tick.C:
				send(fw.Chip().BootROM.String())
			}
		}
	}()

	model := ui.NewTaskViewModel("ember run", expected, snapshots)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	// Quitting the view stops the firmware.
	cancel()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.report, uiErr
	}
	return outcome.report, outcome.err
}

func printReport(out io.Writer, rep firmware.Report) {
	status := "complete"
	if !rep.Complete {
		status = "stopped early"
	}
	fmt.Fprintf(out, "run %s: %d ticks, %d blinks, %d counted on core 1\n", status, rep.Ticks, rep.Blinks, rep.Counted)
	fmt.Fprintf(out, "boot: %d round trips\n", rep.BootRoundTrips)
	fmt.Fprintf(out, "pause: core 1 count %d (held: %v)\n", rep.CountAtPause, rep.PauseHeld)
	fmt.Fprintf(out, "workers: %d finished, %d rejected\n", rep.Workers, rep.Rejected)
	if rep.CheckedEvents > 0 {
		fmt.Fprintf(out, "check: %d trace events replayed\n", rep.CheckedEvents)
	}
	fmt.Fprintf(out, "%-10s %4s %8s %8s %8s %8s %8s\n", "executor", "core", "polls", "resumes", "spawned", "busy", "idle")
	for _, ex := range rep.Executors {
		st := ex.Stats
		fmt.Fprintf(out, "%-10s %4d %8d %8d %8d %8d %8d\n", ex.Name, ex.Core, st.Polls, st.Resumes, st.Spawned, st.Busy, st.Idles)
	}
}
