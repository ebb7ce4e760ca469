package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

const (
	defaultSSHPort   = 22
	keepaliveRequest = "keepalive@openssh.com"
)

// SSHConnector dials targets over SSH with public key authentication.
type SSHConnector struct {
	// Port is used when the target address carries none. Zero means 22.
	Port int
	// Timeout bounds the TCP dial and the SSH handshake only. Commands have no deadline.
	Timeout  time.Duration
	HostKeys HostKeyPolicy
}

func (c SSHConnector) Connect(ctx context.Context, address, user string, cred *Credential) (Conn, error) {
	addr, err := c.address(address)
	if err != nil {
		return nil, err
	}
	config, err := c.clientConfig(user, cred)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: c.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnect, addr, err)
	}
	if c.Timeout > 0 {
		_ = netConn.SetDeadline(time.Now().Add(c.Timeout))
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if err != nil {
		netConn.Close()
		if errors.Is(err, ErrHostKeyMismatch) {
			return nil, fmt.Errorf("%w: handshake %s: %w", ErrConnect, addr, err)
		}
		return nil, fmt.Errorf("%w: handshake %s: %v", ErrConnect, addr, err)
	}
	if c.Timeout > 0 {
		_ = netConn.SetDeadline(time.Time{})
	}

	log.Debug().
		Str("component", "remote").
		Str("target", addr).
		Str("user", user).
		Msg("ssh connected")
	return &sshConn{client: ssh.NewClient(clientConn, chans, reqs), addr: addr}, nil
}

func (c SSHConnector) address(address string) (string, error) {
	host := strings.TrimSpace(address)
	if host == "" {
		return "", fmt.Errorf("%w: ssh host is required", ErrConnect)
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}

	port := c.Port
	if port <= 0 {
		port = defaultSSHPort
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(port)), nil
}

func (c SSHConnector) clientConfig(user string, cred *Credential) (*ssh.ClientConfig, error) {
	if strings.TrimSpace(user) == "" {
		return nil, fmt.Errorf("%w: ssh user is required", ErrConnect)
	}
	signer := cred.Signer()
	if signer == nil {
		return nil, fmt.Errorf("%w: no private key loaded", ErrInvalidCredential)
	}

	policy := c.HostKeys
	if policy == nil {
		policy = AcceptAny{}
	}
	hostKeyCallback, err := policy.Callback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.Timeout,
	}, nil
}

type sshConn struct {
	client    *ssh.Client
	addr      string
	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// Each command gets its own session on the shared client connection.
func (c *sshConn) Execute(ctx context.Context, command string) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	if c.closed.Load() {
		return Output{}, fmt.Errorf("%w: %s", ErrConnClosed, c.addr)
	}

	session, err := c.client.NewSession()
	if err != nil {
		return Output{}, fmt.Errorf("%w: open session on %s: %v", ErrTransport, c.addr, err)
	}
	defer session.Close()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run(command)
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return out, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		out.ExitStatus = exitErr.ExitStatus()
		return out, nil
	}
	var missingErr *ssh.ExitMissingError
	if errors.As(err, &missingErr) {
		// A dropped connection also closes the session without a status.
		if aliveErr := c.alive(); aliveErr != nil {
			return out, fmt.Errorf("%w: run on %s: connection lost: %v", ErrTransport, c.addr, aliveErr)
		}
		out.ExitStatus = -1
		return out, nil
	}
	return out, fmt.Errorf("%w: run on %s: %v", ErrTransport, c.addr, err)
}

// alive round-trips a global request. Servers may refuse it; only a send
// failure means the connection is gone.
func (c *sshConn) alive() error {
	_, _, err := c.client.SendRequest(keepaliveRequest, true, nil)
	return err
}

func (c *sshConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.client.Close()
		if errors.Is(c.closeErr, net.ErrClosed) {
			c.closeErr = nil
		}
	})
	return c.closeErr
}
