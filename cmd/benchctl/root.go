package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/benchctl/internal/config"
	"github.com/danmuck/benchctl/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// rootEnv holds the persistent flags shared by every subcommand.
type rootEnv struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	env := &rootEnv{}
	cmd := &cobra.Command{
		Use:   "benchctl",
		Short: "Run command sequences on benchmark hosts over SSH.",
		Long: `Run command sequences on benchmark hosts over SSH.

Every host gets its own connection and runs the commands in order; hosts run
concurrently. Hosts come from a mapping file, usually written by

	benchctl topology hosts --out public_ips.json
`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: env.setup,
	}

	cmd.PersistentFlags().StringVar(&env.configPath, "config", "", "run config file (default "+config.DefaultPath+" when present)")
	cmd.PersistentFlags().StringVar(&env.logLevel, "log-level", "", "log level: trace|debug|info|warn|error|disabled")

	cmd.AddCommand(
		getRunCmd(env),
		getCheckCmd(env),
		getTopologyCmd(env),
		getConfigCmd(env),
	)
	return cmd
}

func (r *rootEnv) setup(cmd *cobra.Command, args []string) error {
	logging.ConfigureRuntime()
	if r.logLevel == "" {
		return nil
	}
	lvl, ok := logging.ParseLevel(r.logLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", r.logLevel)
	}
	cfg := logging.DefaultConfig(logging.ProfileRuntime)
	cfg.Level = lvl
	logging.Apply(cfg)
	return nil
}

// loadConfig reads --config, or benchctl.toml in the working directory when it
// exists, or falls back to the defaults.
func (r *rootEnv) loadConfig() (config.RunConfig, error) {
	path := r.configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); errors.Is(err, os.ErrNotExist) {
			cfg := config.DefaultRunConfig()
			return cfg, config.Validate(&cfg)
		}
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.RunConfig{}, err
	}
	log.Debug().Str("component", "cli").Str("config", path).Msg("config loaded")
	return cfg, nil
}
