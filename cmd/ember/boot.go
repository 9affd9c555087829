package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ember/internal/chip"
	"ember/internal/multicore"
	"ember/internal/observ"
	"ember/internal/trace"
)

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Run the core 1 boot handshake on its own",
	Long: `Run only the inter-core FIFO boot handshake: send the six-word launch
sequence to core 1's boot ROM and wait for every word to be echoed. --drop
makes the boot ROM swallow echoes to exercise the restart path.`,
	Args: cobra.NoArgs,
	RunE: runBoot,
}

// reservedWords lists the FIFO words that never appear in a boot sequence.
var reservedWords = []struct {
	name string
	word uint32
}{
	{"pause", multicore.PauseToken},
	{"resume", multicore.ResumeToken},
	{"doorbell", multicore.DoorbellToken},
}

func init() {
	bootCmd.Flags().Int("drop", 0, "number of echoes the boot ROM swallows")
	bootCmd.Flags().Bool("verbose", false, "print the memory map and reserved FIFO words")
	bootCmd.Flags().Bool("timings", false, "print phase timings")
}

func runBoot(cmd *cobra.Command, args []string) error {
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

	drop, _ := cmd.Flags().GetInt("drop")
	verbose, _ := cmd.Flags().GetBool("verbose")
	timings, _ := cmd.Flags().GetBool("timings")

	sizes, err := s.cfg.Sizes()
	if err != nil {
		return err
	}
	retries, err := s.cfg.BootRetries()
	if err != nil {
		return err
	}
	timer := observ.NewTimer()
	chipPhase := timer.Begin("power up")
	ch, err := chip.New(sizes)
	if err != nil {
		return err
	}
	heartbeat.Watch(ch.BootROM.String)
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ch.Run(gctx) })
	timer.End(chipPhase, "")

	ctl := multicore.New(ch,
		multicore.WithBootRetries(retries),
		multicore.WithEchoTimeout(s.cfg.Multicore.EchoTimeout),
		multicore.WithLogger(s.log),
		multicore.WithTracer(trace.FromContext(cmd.Context())),
	)
	if drop > 0 {
		ch.BootROM.DropEchoes(drop)
	}

	launched := make(chan struct{})
	bootPhase := timer.Begin("boot core1")
	trips, err := spawnCore1(gctx, ctl, func(context.Context) { close(launched) })
	timer.End(bootPhase, fmt.Sprintf("%d round trips", trips))
	if err == nil {
		select {
		case <-launched:
		case <-time.After(time.Second):
			err = fmt.Errorf("core 1 acknowledged the handshake but never ran its entry")
		}
	}
	cancel()
	if waitErr := g.Wait(); waitErr != nil && err == nil {
		err = waitErr
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "core 1 started after %d round trips (%d echoes dropped)\n", trips, drop)
	fmt.Fprintln(out, ch.BootROM.String())
	if verbose {
		fmt.Fprintf(out, "flash %#010x  vector table %#010x  sram %#010x\n", chip.FlashBase, chip.VectorTableAddr, chip.SRAMBase)
		for _, r := range reservedWords {
			fmt.Fprintf(out, "  %-8s %#010x\n", r.name, r.word)
		}
	}
	if timings {
		fmt.Fprint(out, timer.Summary())
	}
	return nil
}

// spawnCore1 runs the handshake and turns a spent retry budget into an error
// so the command can exit cleanly.
func spawnCore1(ctx context.Context, ctl *multicore.Controller, entry chip.Entry) (trips int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fatal: %v", r)
		}
	}()
	return ctl.SpawnCore1(ctx, multicore.NewStack(1024), entry)
}
