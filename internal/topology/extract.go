package topology

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrPairing = errors.New("topology: not enough database hosts for clients")

const (
	publicIPMarker  = "public_ip"
	privateIPMarker = "private_ip"
	clientMarker    = "client"
)

// Label names a host after its output: the first two underscore separated
// segments joined by a dot, so m5_2xlarge_public_ip becomes m5.2xlarge.
func Label(outputName string) string {
	parts := strings.SplitN(outputName, "_", 3)
	if len(parts) == 1 {
		return outputName
	}
	return parts[0] + "." + parts[1]
}

// PublicHosts maps each non-client host label to the first address of its
// public IP output. Empty outputs are left out.
func PublicHosts(o Outputs) (Mapping, error) {
	hosts := Mapping{}
	for _, name := range o.Names() {
		if !strings.Contains(name, publicIPMarker) || strings.Contains(name, clientMarker) {
			continue
		}
		values, err := o.Strings(name)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			log.Debug().Str("component", "topology").Str("output", name).Msg("skipping empty output")
			continue
		}
		hosts[Label(name)] = values[0]
	}
	return hosts, nil
}

// ClientPairs assigns client i (every address of the client public IP outputs,
// in output order) to database host i (hosts with a private IP output, in label
// order). The result maps client address to database private address. Empty
// private IP outputs are left out; malformed ones fail the whole pairing.
func ClientPairs(o Outputs) (Mapping, error) {
	var clients []string
	databases := map[string]string{}
	for _, name := range o.Names() {
		isClient := strings.Contains(name, clientMarker)
		switch {
		case isClient && strings.Contains(name, publicIPMarker):
			values, err := o.Strings(name)
			if err != nil {
				return nil, err
			}
			clients = append(clients, values...)
		case !isClient && strings.Contains(name, privateIPMarker):
			values, err := o.Strings(name)
			if err != nil {
				return nil, err
			}
			if len(values) == 0 {
				log.Debug().Str("component", "topology").Str("output", name).Msg("skipping empty output")
				continue
			}
			databases[Label(name)] = values[0]
		}
	}

	labels := make([]string, 0, len(databases))
	for label := range databases {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	if len(clients) > len(labels) {
		return nil, fmt.Errorf("%w: %d clients, %d database hosts", ErrPairing, len(clients), len(labels))
	}

	pairs := make(Mapping, len(clients))
	for i, client := range clients {
		pairs[client] = databases[labels[i]]
	}
	return pairs, nil
}
