package dispatch

import "strings"

const (
	PlaceholderAddress = "{address}"
	PlaceholderParam   = "{param}"
)

// Target is one remote host of a run.
type Target struct {
	Address string
	// Param is an optional per-target value, e.g. the paired database address.
	Param string
	Label string
}

func (t Target) String() string {
	if t.Label != "" && t.Label != t.Address {
		return t.Label + "(" + t.Address + ")"
	}
	return t.Address
}

// CommandList is an ordered sequence of shell commands.
type CommandList []string

// CommandsFor derives the command list of one target.
type CommandsFor func(Target) CommandList

// Static runs the same commands on every target.
func Static(cmds ...string) CommandsFor {
	list := append(CommandList(nil), cmds...)
	return func(Target) CommandList {
		return list
	}
}

// PerTarget substitutes {address} and {param} into every command.
func PerTarget(cmds ...string) CommandsFor {
	list := append(CommandList(nil), cmds...)
	return func(t Target) CommandList {
		out := make(CommandList, len(list))
		for i, cmd := range list {
			out[i] = Expand(cmd, t)
		}
		return out
	}
}

// Expand replaces the literal placeholders in cmd. There is no escaping and no
// other syntax.
func Expand(cmd string, t Target) string {
	if !strings.Contains(cmd, "{") {
		return cmd
	}
	return strings.NewReplacer(
		PlaceholderAddress, t.Address,
		PlaceholderParam, t.Param,
	).Replace(cmd)
}
