// Package hostkeys implements OpenSSH's StrictHostKeyChecking=accept-new
// policy against a persistent known_hosts file.
package hostkeys

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"
)

// Policy accepts unknown hosts on first contact and persists their key;
// known hosts must match exactly or the connection is rejected.
type Policy struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex // serializes this process's own appends in addition to flock
}

// New returns a Policy backed by the known_hosts file at path. If path is
// empty, host-key checking is disabled and every callback returns nil
// (accept), matching the development-only fallback.
func New(path string) (*Policy, error) {
	if path == "" {
		return &Policy{}, nil
	}
	if _, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND, 0o600); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Policy{path: path, lock: flock.New(path + ".lock")}, nil
}

// Disabled reports whether host-key checking is turned off (no data
// directory configured).
func (p *Policy) Disabled() bool { return p.path == "" }

// HostKeyCallback returns an ssh.HostKeyCallback implementing accept-new
// for the given host/port, suitable for ssh.ClientConfig.HostKeyCallback.
func (p *Policy) HostKeyCallback(host string, port int) ssh.HostKeyCallback {
	return func(_ string, _ net.Addr, key ssh.PublicKey) error {
		return p.Check(host, port, key)
	}
}

// Check implements the accept-new decision for a single presented key. It
// is exposed directly (rather than only through HostKeyCallback) so
// callers can apply the policy to a key without going through an
// ssh.HostKeyCallback.
func (p *Policy) Check(host string, port int, presented ssh.PublicKey) error {
	if p.Disabled() {
		return nil
	}

	marker := hostMarker(host, port)
	presentedLine := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(presented)))

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.lock.Lock(); err != nil {
		return trace.Wrap(err)
	}
	defer p.lock.Unlock()

	entries, err := p.readEntries(marker)
	if err != nil {
		// A parse failure on the whole file is treated as "no entries" —
		// never block connections because of a corrupt, pre-existing file.
		entries = nil
	}

	if len(entries) > 0 {
		for _, e := range entries {
			if e == presentedLine {
				return nil
			}
		}
		return trace.AccessDenied("host key mismatch for %s", marker)
	}

	return p.appendEntry(marker, presentedLine)
}

func hostMarker(host string, port int) string {
	if port == 22 {
		return host
	}
	return fmt.Sprintf("[%s]:%d", host, port)
}

func (p *Policy) readEntries(marker string) ([]string, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 || fields[0] != marker {
			continue
		}
		out = append(out, fields[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}

func (p *Policy) appendEntry(marker, keyLine string) error {
	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return trace.Wrap(err)
	}
	defer f.Close()

	line := marker + " " + keyLine + "\n"
	if _, err := f.WriteString(line); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(f.Sync())
}
