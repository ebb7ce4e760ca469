package main

import (
	"github.com/danmuck/benchctl/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// runEnv provides the environment for the run command.
type runEnv struct {
	root         *rootEnv
	flags        dispatchFlags
	commands     []string
	commandsFile string
}

func getRunCmd(root *rootEnv) *cobra.Command {
	env := &runEnv{root: root}
	cmd := &cobra.Command{
		Use:   "run [address...]",
		Short: "Run the configured commands on every host.",
		Long: `Run the configured commands on every host.

Commands come from the config file, --command flags and --commands-file, in that
order. {address} and {param} are replaced per host; with --layout params the
mapping value of each host is its {param}.

With policy isolate the exit status is zero once every host finished, whatever
happened on them. With fail-fast the first failing host stops the run and the
exit status is non-zero.`,
		RunE: env.runRunCmd,
	}

	env.flags.register(cmd.Flags())
	cmd.Flags().StringArrayVarP(&env.commands, "command", "c", nil, "command to run, repeatable")
	cmd.Flags().StringVarP(&env.commandsFile, "commands-file", "f", "", "file with one command per line")
	return cmd
}

func (r *runEnv) runRunCmd(cmd *cobra.Command, args []string) error {
	cfg, err := r.root.loadConfig()
	if err != nil {
		return err
	}
	if err := r.flags.apply(cmd.Flags(), &cfg); err != nil {
		return err
	}
	cfg.Commands = append(cfg.Commands, r.commands...)
	if cmd.Flags().Changed("commands-file") {
		cfg.CommandsFile = config.ExpandHome(r.commandsFile)
	}
	commands, err := cfg.ResolveCommands()
	if err != nil {
		return err
	}
	targets, err := loadTargets(cfg, args)
	if err != nil {
		return err
	}

	log.Info().
		Str("component", "cli").
		Int("targets", len(targets)).
		Int("commands", len(commands)).
		Bool("dry_run", r.flags.dryRun).
		Msg("run starting")

	_, err = runDispatch(cmd.Context(), dispatchRequest{
		cfg:      cfg,
		targets:  targets,
		commands: commands,
		dryRun:   r.flags.dryRun,
		summary:  r.flags.summary,
		out:      cmd.OutOrStdout(),
	})
	return err
}
