package main

import (
	"errors"
	"fmt"

	"github.com/danmuck/benchctl/internal/dispatch"
	"github.com/spf13/cobra"
)

var errChecksFailed = errors.New("pre-flight checks failed")

// checkEnv provides the environment for the check command.
type checkEnv struct {
	root    *rootEnv
	flags   dispatchFlags
	command string
}

func getCheckCmd(root *rootEnv) *cobra.Command {
	env := &checkEnv{root: root}
	cmd := &cobra.Command{
		Use:   "check [address...]",
		Short: "Verify every host is reachable and can run a command.",
		Long: `Verify every host is reachable and can run a command.

Runs one probe command per host. Any connect failure, transport failure or
non-zero exit makes the check fail, regardless of policy.`,
		RunE: env.runCheckCmd,
	}
	env.flags.register(cmd.Flags())
	cmd.Flags().StringVar(&env.command, "probe", "hostname", "probe command")
	return cmd
}

func (c *checkEnv) runCheckCmd(cmd *cobra.Command, args []string) error {
	cfg, err := c.root.loadConfig()
	if err != nil {
		return err
	}
	if err := c.flags.apply(cmd.Flags(), &cfg); err != nil {
		return err
	}
	targets, err := loadTargets(cfg, args)
	if err != nil {
		return err
	}

	report, err := runDispatch(cmd.Context(), dispatchRequest{
		cfg:      cfg,
		targets:  targets,
		commands: []string{c.command},
		dryRun:   c.flags.dryRun,
		summary:  c.flags.summary,
		out:      cmd.OutOrStdout(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errChecksFailed, err)
	}
	if err := report.Err(); err != nil {
		return fmt.Errorf("%w: %w", errChecksFailed, err)
	}
	for _, res := range report.Ordered() {
		if res.NonZero() > 0 {
			return fmt.Errorf("%w: %s: probe exited %d", errChecksFailed, res.Target.Address, res.Executions[0].ExitStatus)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d hosts ok\n", report.Count(dispatch.StatusOK))
	return nil
}
