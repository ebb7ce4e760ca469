package main

import (
	"fmt"

	"github.com/danmuck/benchctl/internal/config"
	"github.com/spf13/cobra"
)

// configEnv provides the environment for the config commands.
type configEnv struct {
	root  *rootEnv
	force bool
}

func getConfigCmd(root *rootEnv) *cobra.Command {
	env := &configEnv{root: root}
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or validate a run config.",
	}
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a commented config template.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  env.runInitCmd,
	}
	initCmd.Flags().BoolVar(&env.force, "force", false, "overwrite an existing file")
	validateCmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Load a config and report the first problem.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  env.runValidateCmd,
	}
	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

func (c *configEnv) path(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	if c.root.configPath != "" {
		return c.root.configPath
	}
	return config.DefaultPath
}

func (c *configEnv) runInitCmd(cmd *cobra.Command, args []string) error {
	path := c.path(args)
	if err := config.WriteTemplate(path, c.force); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote config template to %s\n", path)
	return nil
}

func (c *configEnv) runValidateCmd(cmd *cobra.Command, args []string) error {
	path := c.path(args)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	commands := len(cfg.Commands)
	if cfg.CommandsFile != "" {
		resolved, err := cfg.ResolveCommands()
		if err != nil {
			return err
		}
		commands = len(resolved)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "validated %s: user=%s policy=%s hosts=%s commands=%d\n",
		path, cfg.User, cfg.Policy, cfg.HostsFile, commands)
	return nil
}
