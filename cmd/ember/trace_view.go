package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ember/internal/trace"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect trace ring dumps",
}

var traceViewCmd = &cobra.Command{
	Use:   "view <dump.mp>",
	Short: "Print the events of a msgpack ring dump",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceView,
}

func init() {
	traceViewCmd.Flags().String("format", "text", "event format (text|ndjson)")
	traceViewCmd.Flags().Bool("check", false, "replay the events through the executor state checker")
	traceCmd.AddCommand(traceViewCmd)
}

func runTraceView(cmd *cobra.Command, args []string) error {
	formatStr, _ := cmd.Flags().GetString("format")
	format, err := trace.ParseFormat(formatStr)
	if err != nil {
		return err
	}
	if format == trace.FormatMsgpack {
		return fmt.Errorf("trace view prints text or ndjson, not %s", formatStr)
	}
	check, _ := cmd.Flags().GetBool("check")

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	dump, err := trace.ReadDump(f)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	for i := range dump.Events {
		if _, err := out.Write(trace.FormatEvent(&dump.Events[i], format)); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d events at level %s\n", len(dump.Events), dump.Level)

	if check {
		checker := trace.NewStateChecker()
		if err := checker.CheckAll(dump.Events); err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "state machines ok (%d hook events)\n", checker.Events())
	}
	return nil
}
