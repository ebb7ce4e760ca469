package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/benchctl/internal/config"
	"github.com/danmuck/benchctl/internal/tools"
	"github.com/danmuck/benchctl/internal/topology"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// topologyEnv provides the environment for the topology commands.
type topologyEnv struct {
	root   *rootEnv
	runner tools.CommandRunner
	dir    string
	from   string
	out    string

	clusterName string
	setupPrefix string
	extras      []string
	groups      []string
}

func getTopologyCmd(root *rootEnv) *cobra.Command {
	env := &topologyEnv{root: root, runner: tools.ExecRunner{}}
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Derive host files from terraform outputs.",
	}
	cmd.PersistentFlags().StringVar(&env.dir, "dir", "", "terraform working directory (default terraform_dir from config)")
	cmd.PersistentFlags().StringVar(&env.from, "from", "", "read saved terraform JSON outputs from this file instead of running terraform")
	cmd.PersistentFlags().StringVarP(&env.out, "out", "o", "", "write to this file instead of stdout")

	hosts := &cobra.Command{
		Use:   "hosts",
		Short: "Map each database host label to its public address.",
		Args:  cobra.NoArgs,
		RunE:  env.runHostsCmd,
	}
	clients := &cobra.Command{
		Use:   "clients",
		Short: "Pair each client address with a database private address.",
		Args:  cobra.NoArgs,
		RunE:  env.runClientsCmd,
	}
	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Render the cluster as a bash variable file.",
		Args:  cobra.NoArgs,
		RunE:  env.runEnvCmd,
	}
	envCmd.Flags().StringVar(&env.clusterName, "cluster-name", "", "CLUSTER_NAME override")
	envCmd.Flags().StringVar(&env.setupPrefix, "setup-prefix", "", "prefix trimmed from setup_name (default setup_prefix from config)")
	envCmd.Flags().StringArrayVar(&env.extras, "extra", nil, "scalar output to export, as output or output=NAME")
	envCmd.Flags().StringArrayVar(&env.groups, "group", nil, "list output to number, as NAME=output")

	cmd.AddCommand(hosts, clients, envCmd)
	return cmd
}

func (e *topologyEnv) outputs(cmd *cobra.Command) (topology.Outputs, config.RunConfig, error) {
	cfg, err := e.root.loadConfig()
	if err != nil {
		return nil, config.RunConfig{}, err
	}
	if e.from != "" {
		data, err := os.ReadFile(e.from)
		if err != nil {
			return nil, cfg, err
		}
		out, err := topology.ParseOutputs(data)
		return out, cfg, err
	}
	dir := cfg.TerraformDir
	if e.dir != "" {
		dir = e.dir
	}
	out, err := topology.Fetch(cmd.Context(), e.runner, dir)
	return out, cfg, err
}

func (e *topologyEnv) runHostsCmd(cmd *cobra.Command, args []string) error {
	outputs, _, err := e.outputs(cmd)
	if err != nil {
		return err
	}
	hosts, err := topology.PublicHosts(outputs)
	if err != nil {
		return err
	}
	for _, label := range hosts.Keys() {
		log.Info().Str("component", "topology").Str("label", label).Str("address", hosts[label]).Msg("host")
	}
	log.Info().Str("component", "topology").Int("hosts", len(hosts)).Msg("distinct hosts")
	return e.writeMapping(cmd, hosts)
}

func (e *topologyEnv) runClientsCmd(cmd *cobra.Command, args []string) error {
	outputs, _, err := e.outputs(cmd)
	if err != nil {
		return err
	}
	pairs, err := topology.ClientPairs(outputs)
	if err != nil {
		return err
	}
	log.Info().Str("component", "topology").Int("clients", len(pairs)).Msg("clients paired")
	return e.writeMapping(cmd, pairs)
}

func (e *topologyEnv) runEnvCmd(cmd *cobra.Command, args []string) error {
	outputs, cfg, err := e.outputs(cmd)
	if err != nil {
		return err
	}
	opts := topology.EnvOptions{
		ClusterName: e.clusterName,
		SetupPrefix: cfg.SetupPrefix,
	}
	if cmd.Flags().Changed("setup-prefix") {
		opts.SetupPrefix = e.setupPrefix
	}
	for _, raw := range e.extras {
		output, name, _ := strings.Cut(raw, "=")
		opts.Extra = append(opts.Extra, topology.EnvVar{Output: output, Name: name})
	}
	for _, raw := range e.groups {
		name, output, ok := strings.Cut(raw, "=")
		if !ok || name == "" || output == "" {
			return fmt.Errorf("invalid --group %q, want NAME=output", raw)
		}
		opts.Groups = append(opts.Groups, topology.EnvGroup{Name: name, Output: output})
	}

	var b strings.Builder
	if err := topology.RenderEnv(&b, outputs, opts); err != nil {
		return err
	}
	if e.out == "" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), b.String())
		return err
	}
	return os.WriteFile(e.out, []byte(b.String()), 0o644)
}

func (e *topologyEnv) writeMapping(cmd *cobra.Command, m topology.Mapping) error {
	if e.out != "" {
		if err := topology.WriteMapping(e.out, m); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d entries to %s\n", len(m), e.out)
		return nil
	}
	data, err := m.Encode(false)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
