package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wesleyorama2/herd/internal/engine"
	"github.com/wesleyorama2/herd/internal/logging"
	"github.com/wesleyorama2/herd/internal/output"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test from a configuration file",
		Long: `Run spawns virtual users following the configured load shape until the
shape stops or the process is interrupted, then prints a summary.

  herd run --config planner.yaml
  herd run -c planner.yaml --out result.json --metrics-addr :9090
  HERD_BASE_URL=https://staging.example.com herd run -c planner.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd, v)
		},
	}

	addConfigFlags(cmd.Flags())
	f := cmd.Flags()
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	f.StringP("out", "o", "", "Write the result to a file (format chosen by extension: .json, .yaml, .xml, .html, .txt)")
	f.String("format", string(output.FormatText), "Result format on stdout (text, json, yaml, junit, html)")
	f.BoolP("quiet", "q", false, "Only print PASSED or FAILED")
	f.Bool("no-color", false, "Disable colored output")
	f.Duration("update-interval", time.Second, "How often live progress is refreshed")
	return cmd
}

func runTest(cmd *cobra.Command, v *viper.Viper) error {
	format, err := output.ParseFormat(v.GetString("format"))
	if err != nil {
		return err
	}

	logger, err := logging.New(v.GetString("log-level"), v.GetString("log-format"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	eng, err := engine.NewEngine(cfg,
		engine.WithLogger(logger),
		engine.WithMetricsAddr(v.GetString("metrics-addr")),
	)
	if err != nil {
		return err
	}

	// Structured results go to stdout untouched, so live progress is
	// only drawn for the text format.
	quiet := v.GetBool("quiet")
	console := output.NewConsole(output.ConsoleConfig{
		TestName:      cfg.Name,
		TotalDuration: eng.Shape().TotalDuration(),
		Writer:        cmd.OutOrStdout(),
		Quiet:         quiet || format != output.FormatText,
		NoColor:       v.GetBool("no-color"),
	})
	console.PrintHeader(eng.RunID())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := runWithProgress(ctx, eng, console, v.GetDuration("update-interval"))
	if result == nil {
		return runErr
	}
	if runErr != nil {
		logger.Error("run did not complete cleanly", zap.Error(runErr))
	}

	if format == output.FormatText || quiet {
		console.PrintSummary(result)
	} else {
		data, err := output.FormatResult(result, format)
		if err != nil {
			return err
		}
		if _, err := cmd.OutOrStdout().Write(data); err != nil {
			return err
		}
	}

	if path := v.GetString("out"); path != "" {
		data, err := output.FormatResult(result, output.FormatForPath(path))
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
		logger.Info("result written", zap.String("path", path))
	}

	if !result.Passed {
		return ErrTestFailed
	}
	return nil
}

// runWithProgress runs the engine while refreshing live statistics on
// console every interval.
func runWithProgress(ctx context.Context, eng *engine.Engine, console *output.Console, interval time.Duration) (*engine.Result, error) {
	if interval <= 0 {
		interval = time.Second
	}

	type outcome struct {
		result *engine.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := eng.Run(ctx)
		done <- outcome{result, err}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	total := eng.Shape().TotalDuration()
	for {
		select {
		case o := <-done:
			return o.result, o.err
		case <-ticker.C:
			if !eng.IsRunning() {
				continue
			}
			pool := eng.PoolStats()
			stats := output.StatsFromSnapshot(eng.GetMetrics(), eng.GetProgress(), total, pool.Available, pool.Waiting)
			if console.IsTTY() {
				console.Update(stats)
			} else {
				console.PrintNonInteractiveUpdate(stats)
			}
		}
	}
}
