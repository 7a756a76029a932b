package token

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.token")

	tok, generated, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !generated {
		t.Fatal("expected a fresh token")
	}
	if len(tok.Value()) != 64 {
		t.Fatalf("token length %d, want 64 hex chars", len(tok.Value()))
	}

	again, generated2, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if generated2 {
		t.Fatal("second load must reuse the stored token")
	}
	if again.Value() != tok.Value() {
		t.Fatal("reloaded token differs")
	}
}

func TestFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.token")
	if _, _, err := LoadOrGenerate(path); err != nil {
		t.Fatalf("generate: %v", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if mode := st.Mode().Perm(); mode != 0o600 {
		t.Fatalf("token mode %o, want 0600", mode)
	}
}

func TestMatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.token")
	tok, _, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !tok.Matches(tok.Value()) {
		t.Fatal("token must match itself")
	}
	if tok.Matches("") || tok.Matches("nope") || tok.Matches(tok.Value()+"x") {
		t.Fatal("wrong candidates must not match")
	}
}

func TestWipe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.token")
	tok, _, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	v := tok.Value()
	tok.Wipe()
	if tok.Matches(v) {
		t.Fatal("wiped token must not match anything")
	}
	if tok.Value() != "" {
		t.Fatal("wiped token must be empty")
	}
}

func TestEmptyFileRegenerates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.token")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tok, generated, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !generated || tok.Value() == "" {
		t.Fatal("empty file must trigger regeneration")
	}
}

func TestObfuscate(t *testing.T) {
	if got := Obfuscate("abcdef"); got != "**cdef" {
		t.Fatalf("obfuscate: %q", got)
	}
	if got := Obfuscate("abc"); got != "***" {
		t.Fatalf("short obfuscate: %q", got)
	}
}
