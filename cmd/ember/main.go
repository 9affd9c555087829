package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"ember/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "ember",
	Short: "Cooperative task executor on a simulated dual-core chip",
	Long: `ember runs a cooperative executor on a simulated dual-core microcontroller:
thread-mode and interrupt-mode executors on core 0, and a second executor on
core 1 started through the inter-core FIFO boot handshake.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(bootCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(versionCmd)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "path to ember.toml (default: search upwards from the working directory)")
	pf.String("log-level", "", "log level (debug|info|warn|error)")
	pf.String("log-format", "", "log format (text|json)")
	pf.String("trace", "", "trace output file (- for stderr; .mp writes a msgpack ring dump)")
	pf.String("trace-level", "", "trace level (off|error|executor|task|debug)")
	pf.String("trace-mode", "", "trace storage mode (stream|ring|both)")
	pf.Int("trace-ring-size", 0, "trace ring buffer size in events")
	pf.Duration("trace-heartbeat", 0, "trace heartbeat interval (0 disables)")
	pf.String("cpu-profile", "", "write a CPU profile to file")
	pf.String("mem-profile", "", "write a heap profile to file when the command ends")
	pf.String("runtime-trace", "", "write a Go runtime trace to file")
}

// main executes the root command. Any command error exits with status 1.
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// isTerminal reports whether f is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
