// Package knownhosts verifies SSH server identities against an
// OpenSSH-format known_hosts file and records first-use acceptances.
package knownhosts

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
)

// VerifyResult is the outcome of checking a presented host key.
type VerifyResult int

const (
	// Match means the presented key equals a stored key for the host.
	Match VerifyResult = iota
	// Unknown means no entry exists for the host (first connection).
	Unknown
	// Mismatch means an entry exists but the key differs. Hard refusal.
	Mismatch
)

// Verification carries the result and, on mismatch, the fingerprint of
// the stored key.
type Verification struct {
	Result            VerifyResult
	StoredFingerprint string
}

type entry struct {
	hosts   []string
	keyType string
	keyData string // base64, as stored
	line    int
}

// Store reads and appends known_hosts entries. All read-modify-write
// cycles are serialized by an internal mutex.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a store backed by path. The file does not need to
// exist yet.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Verify checks the presented key for host:port against the stored
// entries.
func (s *Store) Verify(host string, port int, key ssh.PublicKey) (Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return Verification{}, err
	}

	pattern := hostPattern(host, port)
	keyType := key.Type()
	keyData := marshalKeyData(key)

	var matched []entry
	for _, e := range entries {
		for _, h := range e.hosts {
			if h == pattern || (port == 22 && h == host) {
				matched = append(matched, e)
				break
			}
		}
	}
	if len(matched) == 0 {
		return Verification{Result: Unknown}, nil
	}
	for _, e := range matched {
		if e.keyType == keyType && e.keyData == keyData {
			return Verification{Result: Match}, nil
		}
	}

	stored := matched[0]
	fp := fmt.Sprintf("(unparsable key at line %d)", stored.line)
	if pk, err := parseStoredKey(stored.keyType, stored.keyData); err == nil {
		fp = Fingerprint(pk)
	}
	return Verification{Result: Mismatch, StoredFingerprint: fp}, nil
}

// Add appends host:port with the presented key and fsyncs. The file is
// created at 0600 if missing.
func (s *Store) Add(host string, port int, key ssh.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create known_hosts directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open known_hosts: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s %s %s\n", hostPattern(host, port), key.Type(), marshalKeyData(key))
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append known_hosts entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync known_hosts: %w", err)
	}
	slog.Info("added host key", "host", host, "port", port, "fingerprint", Fingerprint(key))
	return nil
}

// load parses the backing file, skipping comments and malformed lines.
func (s *Store) load() ([]entry, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open known_hosts: %w", err)
	}
	defer f.Close()

	var entries []entry
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			slog.Warn("skipping malformed known_hosts line", "line", lineNo)
			continue
		}
		entries = append(entries, entry{
			hosts:   strings.Split(fields[0], ","),
			keyType: fields[1],
			keyData: fields[2],
			line:    lineNo,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan known_hosts: %w", err)
	}
	return entries, nil
}

// Fingerprint formats a public key as "SHA256:" plus unpadded base64 of
// the key's SHA-256, the OpenSSH presentation.
func Fingerprint(key ssh.PublicKey) string {
	return ssh.FingerprintSHA256(key)
}

// hostPattern renders host and port the way OpenSSH stores them: the
// bare host for port 22, "[host]:port" otherwise.
func hostPattern(host string, port int) string {
	if port == 22 {
		return host
	}
	return fmt.Sprintf("[%s]:%d", host, port)
}

func marshalKeyData(key ssh.PublicKey) string {
	// authorized-keys wire format without the type prefix
	line := string(ssh.MarshalAuthorizedKey(key)) // "type base64\n"
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

func parseStoredKey(keyType, keyData string) (ssh.PublicKey, error) {
	pk, _, _, _, err := ssh.ParseAuthorizedKey([]byte(keyType + " " + keyData))
	return pk, err
}
