package remote

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// DryRunConnector pretends to connect and run commands. Nothing leaves the host.
type DryRunConnector struct {
	mu    sync.Mutex
	calls []string
}

func (d *DryRunConnector) Connect(ctx context.Context, address, user string, cred *Credential) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Info().
		Str("component", "remote").
		Str("target", address).
		Str("user", user).
		Msg("[DRY-RUN] would connect")
	return &dryRunConn{owner: d, address: address}, nil
}

// Calls returns every "address: command" pair seen so far.
func (d *DryRunConnector) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *DryRunConnector) record(call string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
}

type dryRunConn struct {
	owner   *DryRunConnector
	address string
}

func (c *dryRunConn) Execute(ctx context.Context, command string) (Output, error) {
	log.Info().
		Str("component", "remote").
		Str("target", c.address).
		Str("command", command).
		Msg("[DRY-RUN] would run")
	c.owner.record(c.address + ": " + command)
	return Output{}, nil
}

func (c *dryRunConn) Close() error {
	return nil
}
