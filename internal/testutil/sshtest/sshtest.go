package sshtest

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// Handler answers one exec request.
type Handler func(command string) (stdout string, stderr string, status int)

// Hangup as a Handler status writes stdout and then drops the TCP connection
// without sending an exit status.
const Hangup = -1000

// Server is an in-process SSH server that accepts one authorized key and
// answers exec requests through a Handler.
type Server struct {
	Addr    string
	HostKey ssh.Signer

	listener net.Listener
	handler  Handler

	mu       sync.Mutex
	opened   int
	closed   int
	commands []string
}

// Key writes a fresh RSA private key under dir and returns its path and signer.
func Key(t testing.TB, dir string, name string) (string, ssh.Signer) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(dir, sanitize(name))
	if err := writePEM(path, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return path, signer
}

// EncryptedKey writes a passphrase-protected OpenSSH private key under dir.
func EncryptedKey(t testing.TB, dir string, name string, passphrase []byte) (string, ssh.Signer) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKeyWithPassphrase(key, name, passphrase)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	path := filepath.Join(dir, sanitize(name))
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return path, signer
}

// NewServer listens on a loopback port until the test ends. Only clients
// authenticating with authorized are let in.
func NewServer(t testing.TB, authorized ssh.PublicKey, handler Handler) *Server {
	t.Helper()

	_, hostKey := Key(t, t.TempDir(), "host_key")
	config := &ssh.ServerConfig{
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if authorized != nil && bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unauthorized key for %q", meta.User())
		},
	}
	config.AddHostKey(hostKey)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if handler == nil {
		handler = Echo
	}
	s := &Server{
		Addr:     ln.Addr().String(),
		HostKey:  hostKey,
		listener: ln,
		handler:  handler,
	}
	t.Cleanup(func() { ln.Close() })

	go s.accept(config)
	return s
}

// Echo handles "echo <text>", "fail <text>" (stderr, status 1) and
// "hangup <text>" (stdout, then the connection drops); anything else is echoed
// back on stdout.
func Echo(command string) (string, string, int) {
	switch {
	case strings.HasPrefix(command, "hangup "):
		return strings.TrimPrefix(command, "hangup ") + "\n", "", Hangup
	case strings.HasPrefix(command, "echo "):
		return strings.TrimPrefix(command, "echo ") + "\n", "", 0
	case strings.HasPrefix(command, "fail "):
		return "", strings.TrimPrefix(command, "fail ") + "\n", 1
	default:
		return command + "\n", "", 0
	}
}

// Opened counts completed handshakes.
func (s *Server) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Closed counts client connections that went away after a handshake.
func (s *Server) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Commands lists exec requests in arrival order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Server) accept(config *ssh.ServerConfig) {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.serveConn(nc, config)
	}
}

func (s *Server) serveConn(nc net.Conn, config *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(nc, config)
	if err != nil {
		nc.Close()
		return
	}
	s.mu.Lock()
	s.opened++
	s.mu.Unlock()
	defer func() {
		sconn.Close()
		s.mu.Lock()
		s.closed++
		s.mu.Unlock()
	}()

	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "only session channels")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.serveSession(nc, ch, requests)
	}
}

func (s *Server) serveSession(nc net.Conn, ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			return
		}
		req.Reply(true, nil)

		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()

		stdout, stderr, status := s.handler(payload.Command)
		ch.Write([]byte(stdout))
		if status == Hangup {
			nc.Close()
			return
		}
		ch.Stderr().Write([]byte(stderr))
		ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
		return
	}
}

func writePEM(path string, blockType string, der []byte, perm os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	return os.WriteFile(path, data, perm)
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "key"
	}
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return s
}
