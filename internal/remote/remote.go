package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

var (
	ErrConnect           = errors.New("remote: connect failed")
	ErrTransport         = errors.New("remote: transport failure")
	ErrInvalidCredential = errors.New("remote: invalid credential")
	ErrHostKeyMismatch   = errors.New("remote: host key mismatch")
	ErrConnClosed        = errors.New("remote: connection closed")
)

// Output is what one command left behind on the remote side.
type Output struct {
	Stdout     []byte
	Stderr     []byte
	ExitStatus int
}

// Conn is one live connection to a target.
type Conn interface {
	// Execute runs command to completion. A non-zero exit is reported through
	// Output.ExitStatus, never as an error.
	Execute(ctx context.Context, command string) (Output, error)
	Close() error
}

// Connector opens connections to targets.
type Connector interface {
	Connect(ctx context.Context, address, user string, cred *Credential) (Conn, error)
}

// Credential is a parsed private key shared read-only by every connection of a run.
type Credential struct {
	KeyPath string
	signer  ssh.Signer
}

// LoadCredential reads and parses the private key at path once.
func LoadCredential(path string, passphrase []byte) (*Credential, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: ssh key path is required", ErrInvalidCredential)
	}

	privateKey, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidCredential, path, err)
	}

	var signer ssh.Signer
	if len(passphrase) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(privateKey, passphrase)
	} else {
		signer, err = ssh.ParsePrivateKey(privateKey)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidCredential, path, err)
	}
	return &Credential{KeyPath: path, signer: signer}, nil
}

// NewCredential wraps an already parsed signer.
func NewCredential(signer ssh.Signer) *Credential {
	return &Credential{signer: signer}
}

func (c *Credential) Signer() ssh.Signer {
	if c == nil {
		return nil
	}
	return c.signer
}
