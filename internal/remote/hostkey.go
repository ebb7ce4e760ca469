package remote

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyPolicy decides which server host keys a connection accepts.
type HostKeyPolicy interface {
	Callback() (ssh.HostKeyCallback, error)
}

// AcceptAny trusts whatever key the server presents.
type AcceptAny struct{}

func (AcceptAny) Callback() (ssh.HostKeyCallback, error) {
	return ssh.InsecureIgnoreHostKey(), nil
}

// TrustOnFirstUse records unknown host keys in a known_hosts file and rejects
// keys that differ from a recorded one. Safe for concurrent connections.
type TrustOnFirstUse struct {
	path string
	mu   sync.Mutex
}

// NewTrustOnFirstUse uses path, or ~/.ssh/known_hosts when path is empty.
func NewTrustOnFirstUse(path string) (*TrustOnFirstUse, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return &TrustOnFirstUse{path: path}, nil
}

func (p *TrustOnFirstUse) Path() string {
	return p.path
}

func (p *TrustOnFirstUse) Callback() (ssh.HostKeyCallback, error) {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return nil, err
	}
	f.Close()
	return p.check, nil
}

func (p *TrustOnFirstUse) check(hostname string, remote net.Addr, key ssh.PublicKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-read on every handshake so keys recorded by sibling connections count.
	callback, err := knownhosts.New(p.path)
	if err != nil {
		return err
	}
	err = callback(hostname, remote, key)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) {
		return err
	}
	if len(keyErr.Want) > 0 {
		return fmt.Errorf("%w: %s presented %s", ErrHostKeyMismatch, hostname, ssh.FingerprintSHA256(key))
	}
	return p.record(hostname, key)
}

func (p *TrustOnFirstUse) record(hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := f.WriteString(line + "\n"); err != nil {
		return err
	}
	log.Info().
		Str("component", "remote").
		Str("target", hostname).
		Str("fingerprint", ssh.FingerprintSHA256(key)).
		Msg("trusting new host key")
	return nil
}
