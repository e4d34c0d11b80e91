// Package main implements the dexsmith CLI.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"dexsmith/internal/version"

	_ "dexsmith/internal/passes/builders"
)

var rootCmd = &cobra.Command{
	Use:   "dexsmith",
	Short: "Bytecode container optimizer",
	Long:  `dexsmith rewrites register-based bytecode containers: it expands method code into an editable form, runs transform passes over it, and re-encodes the result.`,
}

func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(optimizeCmd)
	rootCmd.AddCommand(disasmCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress non-essential output")
	rootCmd.PersistentFlags().Bool("timings", false, "show timing information")
	rootCmd.PersistentFlags().Int("max-diagnostics", 100, "maximum number of diagnostics to show")
	rootCmd.PersistentFlags().Int("jobs", 0, "worker count, 0 uses every CPU")

	rootCmd.PersistentFlags().String("trace", "", "trace output path (- for stderr)")
	rootCmd.PersistentFlags().String("trace-level", "off", "trace level (off|error|phase|detail|debug)")
	rootCmd.PersistentFlags().String("trace-mode", "stream", "trace storage (stream|ring|both)")
	rootCmd.PersistentFlags().Int("trace-ring-size", 4096, "trace ring buffer capacity")
	rootCmd.PersistentFlags().Duration("trace-heartbeat", 0*time.Second, "heartbeat interval, 0 disables")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// applyColorMode maps the --color flag onto the global color switch.
// "auto" keeps the library's own terminal detection.
func applyColorMode(cmd *cobra.Command) error {
	value, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return err
	}
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		return fmt.Errorf("invalid --color value %q (expected auto|on|off)", value)
	}
	return nil
}
