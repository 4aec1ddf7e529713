package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wesleyorama2/herd/internal/engine"
	"github.com/wesleyorama2/herd/internal/output"
)

func newValidateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration and its credentials file without sending traffic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cmd, v)
		},
	}
	addConfigFlags(cmd.Flags())
	cmd.Flags().Bool("no-color", false, "Disable colored output")
	return cmd
}

func validateConfig(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Building the engine validates the configuration, compiles every
	// schema and reads the credentials without contacting the target.
	eng, err := engine.NewEngine(cfg, engine.WithLogger(zap.NewNop()))
	if err != nil {
		return err
	}

	steps := 0
	for _, b := range cfg.Behaviors {
		steps += len(b.Steps)
	}

	noColor := v.GetBool("no-color")
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s is valid\n", output.SuccessIcon(noColor), v.GetString("config"))
	fmt.Fprintf(out, "  target:      %s\n", cfg.Target.BaseURL)
	fmt.Fprintf(out, "  shape:       %s, %s\n", cfg.Shape.Type, eng.Shape().TotalDuration())
	fmt.Fprintf(out, "  behaviors:   %d (%d steps)\n", len(cfg.Behaviors), steps)
	fmt.Fprintf(out, "  credentials: %d\n", eng.PoolStats().Total)
	return nil
}
