// Package token manages the daemon's bearer token: generation,
// persistence at 0600, and constant-time verification.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Header is the HTTP header clients present the token in.
const Header = "X-Tunnel-Token"

// Token holds the secret. Wipe it when the daemon shuts down.
type Token struct {
	value []byte
}

// LoadOrGenerate reads the token at path, or generates 32 bytes of
// cryptographically secure randomness, hex-encodes them, and persists
// the result at 0600. The second return reports whether a new token
// was written.
func LoadOrGenerate(path string) (*Token, bool, error) {
	if b, err := os.ReadFile(path); err == nil {
		v := strings.TrimSpace(string(b))
		if v != "" {
			slog.Info("loaded authentication token", "path", path)
			return &Token{value: []byte(v)}, false, nil
		}
		slog.Warn("token file is empty, regenerating", "path", path)
	} else if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("read token file: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, false, fmt.Errorf("generate token: %w", err)
	}
	v := hex.EncodeToString(raw)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, false, fmt.Errorf("create token directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(v), 0o600); err != nil {
		return nil, false, fmt.Errorf("write token file: %w", err)
	}
	slog.Info("generated new authentication token", "path", path, "token", Obfuscate(v))
	return &Token{value: []byte(v)}, true, nil
}

// Matches compares a candidate in constant time.
func (t *Token) Matches(candidate string) bool {
	if t == nil || len(t.value) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(t.value, []byte(candidate)) == 1
}

// Value returns the token string for embedding in the CLI snippet.
func (t *Token) Value() string {
	if t == nil {
		return ""
	}
	return string(t.value)
}

// Wipe overwrites the in-memory token bytes.
func (t *Token) Wipe() {
	if t == nil {
		return
	}
	for i := range t.value {
		t.value[i] = 0
	}
	t.value = nil
}

// Obfuscate masks a token for logging, keeping only the last four
// characters.
func Obfuscate(v string) string {
	if len(v) < 4 {
		return strings.Repeat("*", len(v))
	}
	return strings.Repeat("*", len(v)-4) + v[len(v)-4:]
}
