package topology

import (
	"fmt"
	"io"
	"strings"

	"github.com/kballard/go-shellquote"
)

const (
	outServerPrivate = "server_private_ip"
	outServerPublic  = "server_public_ip"
	outServerType    = "server_instance_type"
	outSSHUser       = "server_ssh_user"
	outSetupName     = "setup_name"
	outClientPublic  = "client_public_ip"
	outSearchThreads = "search_threads"
)

// EnvVar copies a scalar output into a variable. Name defaults to the upper
// cased output name.
type EnvVar struct {
	Output string
	Name   string
}

// EnvGroup numbers every address of a list output as <Name>_<n>_E and counts
// them in <Name>_TOTAL_NODES.
type EnvGroup struct {
	Name   string
	Output string
}

type EnvOptions struct {
	// ClusterName wins over anything derived from the outputs.
	ClusterName string
	// SetupPrefix is trimmed from setup_name before it becomes CLUSTER_NAME.
	SetupPrefix string
	Extra       []EnvVar
	Groups      []EnvGroup
}

// RenderEnv writes a bash variable file describing the cluster. Server
// variables are only written when server_private_ip exists.
func RenderEnv(w io.Writer, o Outputs, opts EnvOptions) error {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n\n")

	var private, public []string
	if o.Has(outServerPrivate) {
		var err error
		if private, err = o.Strings(outServerPrivate); err != nil {
			return err
		}
		if o.Has(outServerPublic) {
			if public, err = o.Strings(outServerPublic); err != nil {
				return err
			}
		}
		setVar(&b, "TOTAL_NODES", fmt.Sprint(len(private)))
	}
	if o.Has(outSSHUser) {
		user, err := o.String(outSSHUser)
		if err != nil {
			return err
		}
		setVar(&b, "USER", user)
	}
	for _, extra := range opts.Extra {
		value, err := o.String(extra.Output)
		if err != nil {
			return err
		}
		name := extra.Name
		if name == "" {
			name = strings.ToUpper(extra.Output)
		}
		setVar(&b, name, value)
	}

	cluster, err := clusterName(o, opts, len(private))
	if err != nil {
		return err
	}
	if cluster != "" {
		setVar(&b, "CLUSTER_NAME", cluster)
	}
	if o.Has(outClientPublic) {
		client, err := o.String(outClientPublic)
		if err != nil {
			return err
		}
		b.WriteString("\n#client external IP addresses\n")
		setVar(&b, "CLIENT_E", client)
	}

	if len(private) > 0 {
		b.WriteString("\n#internal IP addresses\n")
		for i, ip := range private {
			fmt.Fprintf(&b, "B_M%d_I=%s\n", i+1, shellquote.Join(ip))
		}
	}
	if len(public) > 0 {
		b.WriteString("\n#external IP addresses\n")
		for i, ip := range public {
			fmt.Fprintf(&b, "B_M%d_E=%s\n", i+1, shellquote.Join(ip))
		}
	}

	for _, group := range opts.Groups {
		values, err := o.Strings(group.Output)
		if err != nil {
			return err
		}
		name := strings.ToUpper(group.Name)
		fmt.Fprintf(&b, "\n#%s external IP addresses\n", name)
		fmt.Fprintf(&b, "%s_TOTAL_NODES=%d\n", name, len(values))
		for i, ip := range values {
			fmt.Fprintf(&b, "%s_%d_E=%s\n", name, i+1, shellquote.Join(ip))
		}
	}

	_, err = io.WriteString(w, b.String())
	return err
}

func clusterName(o Outputs, opts EnvOptions, nodes int) (string, error) {
	if opts.ClusterName != "" {
		return opts.ClusterName, nil
	}
	if o.Has(outSetupName) {
		setup, err := o.String(outSetupName)
		if err != nil {
			return "", err
		}
		return underscored(strings.TrimPrefix(setup, opts.SetupPrefix)), nil
	}
	if !o.Has(outServerType) {
		return "", nil
	}
	instance, err := o.String(outServerType)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%d_nodes_%s", nodes, underscored(instance))
	if o.Has(outSearchThreads) {
		threads, err := o.String(outSearchThreads)
		if err != nil {
			return "", err
		}
		name += "_" + threads + "_threads"
	}
	return name, nil
}

func underscored(s string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(s)
}

func setVar(b *strings.Builder, name, value string) {
	fmt.Fprintf(b, "%s=%s\n\n", name, shellquote.Join(value))
}
