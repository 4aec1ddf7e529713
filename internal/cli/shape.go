package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/herd/internal/engine"
	"github.com/wesleyorama2/herd/internal/shape"
)

func newShapeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shape",
		Short: "Print the population targets a configuration's load shape produces",
		Long: `Shape evaluates the configured load shape at fixed intervals and prints
the target session count and spawn rate at each point, ending with the
point where the shape stops the test. No credentials are read.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printShape(cmd, v)
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to the test configuration (YAML or JSON)")
	cmd.Flags().Duration("step", time.Second, "Sampling interval")
	return cmd
}

func printShape(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	s, err := engine.BuildShape(&cfg.Shape)
	if err != nil {
		return fmt.Errorf("invalid shape: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ELAPSED\tSESSIONS\tSPAWN RATE\tSTAGE")
	for _, p := range shape.Sample(s, v.GetDuration("step")) {
		if p.Stop {
			fmt.Fprintf(w, "%s\tstop\t\t\n", p.Elapsed)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%g/s\t%d\n", p.Elapsed, p.Target.Sessions, p.Target.SpawnRate, p.Target.Stage+1)
	}
	return w.Flush()
}
