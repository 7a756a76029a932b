package permissions

import (
	"os"
	"path/filepath"
	"testing"
)

func TestModes(t *testing.T) {
	if DirMode(false) != 0o700 || DirMode(true) != 0o770 {
		t.Fatal("directory modes wrong")
	}
	if SocketMode(false) != 0o600 || SocketMode(true) != 0o660 {
		t.Fatal("socket modes wrong")
	}
}

func TestEnsureDirEnforcesMode(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runtime")
	if err := EnsureDir(dir, false); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	st, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if mode := st.Mode().Perm(); mode != 0o700 {
		t.Fatalf("dir mode %o, want 0700", mode)
	}

	// Re-running on an existing directory keeps it and re-applies mode.
	if err := os.Chmod(dir, 0o755); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if err := EnsureDir(dir, false); err != nil {
		t.Fatalf("re-ensure: %v", err)
	}
	st, _ = os.Stat(dir)
	if mode := st.Mode().Perm(); mode != 0o700 {
		t.Fatalf("dir mode not re-enforced: %o", mode)
	}
}

func TestSetFilePrivate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := SetFilePrivate(path); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if mode := st.Mode().Perm(); mode != 0o600 {
		t.Fatalf("file mode %o, want 0600", mode)
	}
}
