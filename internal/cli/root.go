// Package cli wires the herd commands.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/herd/internal/config"
	"github.com/wesleyorama2/herd/internal/logging"
)

var version = "0.1.0"

// ErrTestFailed is returned by the run command when the test completed
// but did not pass.
var ErrTestFailed = errors.New("load test failed")

// NewRootCmd builds the herd command tree. Every flag can also be set
// through a HERD_ environment variable, e.g. HERD_BASE_URL or
// HERD_LOG_LEVEL.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("HERD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:     "herd",
		Short:   "Drive a herd of authenticated virtual users against an HTTP service",
		Version: version,
		Long: `Herd runs load tests where each virtual user logs in with its own
credentials, performs a weighted mix of dependent tasks and logs out.
The number of live users follows a step ramp or a list of stages.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return v.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", logging.FormatConsole, "Log format (console, json)")

	root.AddCommand(newRunCmd(v))
	root.AddCommand(newValidateCmd(v))
	root.AddCommand(newShapeCmd(v))
	return root
}

// Execute runs the root command and reports errors on stderr.
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// addConfigFlags registers the flags that locate and override the test
// configuration.
func addConfigFlags(f *pflag.FlagSet) {
	f.StringP("config", "c", "", "Path to the test configuration (YAML or JSON)")
	f.String("base-url", "", "Override target.baseUrl")
	f.String("credentials", "", "Override credentials.file")
	f.Int64("seed", 0, "Override options.seed (0 keeps the configured seed)")
	f.Bool("insecure", false, "Skip TLS certificate verification")
}

// loadConfig loads the configuration named by --config, applies the
// command line overrides and fills in defaults.
func loadConfig(v *viper.Viper) (*config.TestConfig, error) {
	path := v.GetString("config")
	if path == "" {
		return nil, errors.New("--config is required")
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if s := v.GetString("base-url"); s != "" {
		cfg.Target.BaseURL = s
	}
	if s := v.GetString("credentials"); s != "" {
		cfg.Credentials.File = s
	}
	if seed := v.GetInt64("seed"); seed != 0 {
		cfg.Options.Seed = seed
	}
	if v.GetBool("insecure") {
		cfg.Target.InsecureSkipVerify = true
	}

	config.ApplyDefaults(cfg)
	return cfg, nil
}
