package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dexsmith/internal/config"
	"dexsmith/internal/dexpack"
	"dexsmith/internal/diag"
	"dexsmith/internal/driver"
	"dexsmith/internal/observ"
	"dexsmith/internal/pipeline"
	"dexsmith/internal/trace"
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize [flags] <input.dxp>",
	Short: "Run the configured transform passes over a container",
	Long:  "Load a .dxp container, run the configured transform passes over every method, and write the optimized container back.",
	Args:  cobra.ExactArgs(1),
	RunE:  optimizeExecution,
}

func init() {
	optimizeCmd.Flags().StringP("output", "o", "", "output path (defaults to rewriting the input)")
	optimizeCmd.Flags().String("config", "", "manifest path (defaults to the nearest dexsmith.toml)")
	optimizeCmd.Flags().String("ui", "auto", "user interface (auto|on|off)")
}

func optimizeExecution(cmd *cobra.Command, args []string) error {
	input := args[0]

	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	if output == "" {
		output = input
	}
	uiValue, err := cmd.Flags().GetString("ui")
	if err != nil {
		return err
	}
	uiModeValue, err := readUIMode(uiValue)
	if err != nil {
		return err
	}
	if err := applyColorMode(cmd); err != nil {
		return err
	}
	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return err
	}
	timings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return err
	}

	cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	tracer := trace.FromContext(cmd.Context())

	cfg, err := loadOptimizeConfig(cmd)
	if err != nil {
		return err
	}

	bag := diag.NewBag(cfg.Optimize.MaxDiagnostics)
	reporter := diag.NewDedupReporter(diag.BagReporter{Bag: bag})
	timer := observ.NewTimer()

	run := func(sink pipeline.ProgressSink) (*driver.Stats, error) {
		phase := timer.Begin("load")
		sink.OnEvent(pipeline.Event{Stage: pipeline.StageLoad, Status: pipeline.StatusWorking})
		scope, err := dexpack.Load(input)
		if err != nil {
			sink.OnEvent(pipeline.Event{Stage: pipeline.StageLoad, Status: pipeline.StatusError, Err: err})
			diag.ReportError(reporter, diag.IOLoadError, diag.Site{Addr: diag.NoAddr}, err.Error()).Emit()
			return nil, err
		}
		timer.End(phase, fmt.Sprintf("%d classes", len(scope.Classes)))
		sink.OnEvent(pipeline.Event{Stage: pipeline.StageLoad, Status: pipeline.StatusDone})

		stats, err := driver.Optimize(cmd.Context(), scope, driver.Options{
			Config: cfg,
			Report: reporter,
			Sink:   sink,
			Tracer: tracer,
			Timer:  timer,
		})
		if err != nil {
			return stats, err
		}

		phase = timer.Begin("save")
		sink.OnEvent(pipeline.Event{Stage: pipeline.StageSave, Status: pipeline.StatusWorking})
		if err := dexpack.Save(output, scope); err != nil {
			sink.OnEvent(pipeline.Event{Stage: pipeline.StageSave, Status: pipeline.StatusError, Err: err})
			diag.ReportError(reporter, diag.IOStoreError, diag.Site{Addr: diag.NoAddr}, err.Error()).Emit()
			return stats, err
		}
		timer.End(phase, "")
		sink.OnEvent(pipeline.Event{Stage: pipeline.StageSave, Status: pipeline.StatusDone})
		return stats, nil
	}

	var stats *driver.Stats
	var runErr error
	if shouldUseTUI(uiModeValue) {
		steps := make([]string, 0, len(cfg.Optimize.Passes)+4)
		steps = append(steps, string(pipeline.StageLoad), string(pipeline.StageBalloon))
		steps = append(steps, cfg.Optimize.Passes...)
		steps = append(steps, string(pipeline.StageSync), string(pipeline.StageSave))
		stats, runErr = runOptimizeWithUI("dexsmith optimize", steps, run)
	} else {
		stats, runErr = run(pipeline.NopSink{})
	}

	bag.Sort()
	bag.Dedup()
	if bag.Len() > 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), diag.FormatDiagnostics(bag.Items(), true))
	}
	if timings {
		printTimings(cmd.OutOrStdout(), timer)
	}
	if runErr != nil {
		return runErr
	}
	if !quiet && stats != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "optimized %d/%d methods -> %s\n", stats.Synced, stats.Methods, output)
	}
	if bag.HasErrors() {
		return errors.New("completed with errors")
	}
	return nil
}

// loadOptimizeConfig resolves the manifest: the --config flag wins, then
// the nearest dexsmith.toml up from the working directory, then the
// built-in defaults.
func loadOptimizeConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	var cfg *config.Config
	switch {
	case path != "":
		cfg, err = config.Load(path)
	default:
		var found bool
		path, found, err = config.Find(".")
		if err == nil && found {
			cfg, err = config.Load(path)
		} else if err == nil {
			cfg = config.Default()
		}
	}
	if err != nil {
		return nil, err
	}

	root := cmd.Root().PersistentFlags()
	if root.Changed("jobs") {
		if cfg.Optimize.Jobs, err = root.GetInt("jobs"); err != nil {
			return nil, err
		}
	}
	if root.Changed("max-diagnostics") {
		if cfg.Optimize.MaxDiagnostics, err = root.GetInt("max-diagnostics"); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
