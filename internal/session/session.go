// Package session owns the process-wide registry of open SSH/SFTP
// sessions.
package session

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/iu2frl/cloudshell/internal/credentials"
	"github.com/iu2frl/cloudshell/internal/hostkeys"
)

var log = logrus.WithField("component", "session")

// Kind distinguishes a shell session from an SFTP session.
type Kind string

const (
	KindShell Kind = "shell"
	KindSFTP  Kind = "sftp"
)

// Meta is the metadata recorded about a session, read back by teardown
// paths after the registry entry has been consumed.
type Meta struct {
	DeviceLabel string
	Principal   string
	SourceIP    string
}

// Session is an open SSH (and optionally SFTP) connection held by the
// registry.
type Session struct {
	ID   string
	Kind Kind
	Meta Meta

	client *ssh.Client
	sftp   *sftp.Client // nil for shell sessions

	mu  sync.Mutex
	sh  *shellState // nil until the bridge creates the PTY
}

type shellState struct {
	sshSession *ssh.Session
}

// SFTPClient returns the underlying *sftp.Client for an SFTP session, or
// nil for a shell session.
func (s *Session) SFTPClient() *sftp.Client { return s.sftp }

// SSHClient returns the underlying transport, shared by both kinds.
func (s *Session) SSHClient() *ssh.Client { return s.client }

// DialParams describes the remote endpoint and how to authenticate to it.
type DialParams struct {
	Hostname string
	Port     int
	Username string
	Cred     *credentials.Resolved
	Policy   *hostkeys.Policy
}

func dial(p DialParams) (*ssh.Client, error) {
	auths, err := authMethods(p.Cred)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	cfg := &ssh.ClientConfig{
		User:            p.Username,
		Auth:            auths,
		HostKeyCallback: p.Policy.HostKeyCallback(p.Hostname, p.Port),
		Timeout:         15 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", p.Hostname, p.Port)
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, classifyDialError(err)
	}
	return client, nil
}

func authMethods(cred *credentials.Resolved) ([]ssh.AuthMethod, error) {
	if cred.KeyPath != "" {
		signer, err := parseKeyFile(cred.KeyPath)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{ssh.Password(cred.Password)}, nil
}

func parseKeyFile(path string) (ssh.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return signer, nil
}

// DialKind is a stable classification of a dial-time failure, mapped by
// the HTTP edge onto the status codes spec.md §4.4/§7 require.
type DialKind string

const (
	DialKindAuthDenied        DialKind = "remote-auth-denied"
	DialKindHostKeyUnverified DialKind = "host-key-unverifiable"
	DialKindConnectionLost    DialKind = "connection-lost"
	DialKindNetwork           DialKind = "generic-network"
	DialKindProtocol          DialKind = "generic-protocol"
)

// DialError wraps a dial-time failure with its DialKind.
type DialError struct {
	Kind  DialKind
	cause error
}

func (e *DialError) Error() string { return string(e.Kind) + ": " + e.cause.Error() }
func (e *DialError) Unwrap() error  { return e.cause }

// classifyDialError maps the dial-time failure into the stable kinds the
// HTTP edge translates into status codes: authentication-denied,
// host-key-unverifiable, connection-lost, generic-network/protocol.
func classifyDialError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"):
		return &DialError{Kind: DialKindAuthDenied, cause: err}
	case strings.Contains(msg, "host key mismatch") || strings.Contains(msg, "key is unknown"):
		return &DialError{Kind: DialKindHostKeyUnverified, cause: err}
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no route to host") || strings.Contains(msg, "i/o timeout"):
		return &DialError{Kind: DialKindConnectionLost, cause: err}
	case strings.Contains(msg, "ssh:"):
		return &DialError{Kind: DialKindProtocol, cause: err}
	default:
		return &DialError{Kind: DialKindNetwork, cause: err}
	}
}

// Registry is the process-wide, mutex-guarded map of open sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// OpenShell dials the remote host and registers a shell session.
func (r *Registry) OpenShell(deviceLabel, principal, sourceIP string, p DialParams) (string, error) {
	client, err := dial(p)
	if err != nil {
		return "", err
	}
	return r.register(client, nil, KindShell, deviceLabel, principal, sourceIP), nil
}

// OpenSFTP dials the remote host, starts an SFTP subsystem client, and
// registers an SFTP session.
func (r *Registry) OpenSFTP(deviceLabel, principal, sourceIP string, p DialParams) (string, error) {
	client, err := dial(p)
	if err != nil {
		return "", err
	}
	sc, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return "", trace.Wrap(err)
	}
	return r.register(client, sc, KindSFTP, deviceLabel, principal, sourceIP), nil
}

func (r *Registry) register(client *ssh.Client, sc *sftp.Client, kind Kind, deviceLabel, principal, sourceIP string) string {
	id := uuid.NewString()
	s := &Session{
		ID:     id,
		Kind:   kind,
		Meta:   Meta{DeviceLabel: deviceLabel, Principal: principal, SourceIP: sourceIP},
		client: client,
		sftp:   sc,
	}
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	return id
}

// Get returns the session for id, or nil if unknown.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Meta returns the recorded metadata for id, or the zero value for an
// unknown id.
func (r *Registry) Meta(id string) Meta {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Meta{}
	}
	return s.Meta
}

// Close removes id from the registry, then best-effort tears down its
// SFTP client and transport in that order. Closing an unknown id is a
// no-op.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	if s.sh != nil && s.sh.sshSession != nil {
		if err := s.sh.sshSession.Close(); err != nil {
			log.WithError(err).Debug("error closing ssh session")
		}
	}
	s.mu.Unlock()

	if s.sftp != nil {
		if err := s.sftp.Close(); err != nil {
			log.WithError(err).Debug("error closing sftp client")
		}
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.WithError(err).Debug("error closing ssh transport")
		}
	}
}

// CloseAll tears down every open session, for graceful shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Close(id)
	}
}

// SetShell attaches the SSH shell session created by the bridge once the
// PTY is up, so Close can tear it down cleanly.
func (s *Session) SetShell(sshSession *ssh.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sh = &shellState{sshSession: sshSession}
}
