// Package profile persists tunnel profiles as one TOML file per
// profile and resolves hybrid in-request profiles for remote clients.
package profile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/SchirmForge/ssh-tunnel-manager/internal/model"
)

var (
	// ErrNotFound is returned when no profile matches the id or name.
	ErrNotFound = errors.New("profile not found")
	// ErrExists is returned by Save when overwrite is false and the
	// profile file or name already exists.
	ErrExists = errors.New("profile already exists")
)

// Store reads and writes profiles under a directory. Writes to a given
// profile file are serialized; cross-file operations are not atomic.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the backing directory.
func (s *Store) Dir() string { return s.dir }

// List loads every parseable profile in the directory. Unreadable
// files are skipped with a warning.
func (s *Store) List() ([]*model.Profile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read profiles directory: %w", err)
	}

	var profiles []*model.Profile
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".toml" {
			continue
		}
		p, err := s.loadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			slog.Warn("skipping unreadable profile", "file", e.Name(), "error", err)
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// LoadByID loads a single profile by UUID.
func (s *Store) LoadByID(id uuid.UUID) (*model.Profile, error) {
	path := s.pathFor(id)
	p, err := s.loadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return p, nil
}

// LoadByName scans the directory for a profile with the given name.
func (s *Store) LoadByName(name string) (*model.Profile, error) {
	profiles, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// ExistsByName reports whether any stored profile carries the name.
func (s *Store) ExistsByName(name string) bool {
	_, err := s.LoadByName(name)
	return err == nil
}

// Save validates and writes the profile at 0600. With overwrite false,
// an existing file for the id or another profile with the same name is
// refused.
func (s *Store) Save(p *model.Profile, overwrite bool) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", fmt.Errorf("create profiles directory: %w", err)
	}

	path := s.pathFor(p.ID)
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("%w: %s", ErrExists, p.ID)
		}
		if existing, err := s.LoadByName(p.Name); err == nil && existing.ID != p.ID {
			return "", fmt.Errorf("%w: name %q", ErrExists, p.Name)
		}
	}

	p.ModifiedAt = time.Now().UTC()
	b, err := toml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("serialize profile: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return "", fmt.Errorf("write profile: %w", err)
	}
	slog.Debug("saved profile", "name", p.Name, "id", p.ID)
	return path, nil
}

// DeleteByID removes a stored profile file.
func (s *Store) DeleteByID(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(id)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

func (s *Store) pathFor(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+".toml")
}

func (s *Store) loadFile(path string) (*model.Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p model.Profile
	// Unknown keys are accepted for forward compatibility.
	if err := toml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return &p, nil
}

// PrepareHybrid clones a local profile for submission to a remote
// daemon: the key path is reduced to its bare filename so the daemon
// resolves it against its own ~/.ssh and no local path leaves this
// machine.
func PrepareHybrid(p *model.Profile) *model.Profile {
	remote := *p
	if kp := strings.TrimSpace(p.Connection.KeyPath); kp != "" {
		remote.Connection.KeyPath = filepath.Base(kp)
	}
	return &remote
}

// ResolveHybrid prepares a profile submitted in a start request for use
// on this daemon. Key paths must be bare filenames; they are resolved
// against the daemon's own ~/.ssh and must exist there. Absolute paths
// and path traversal are rejected.
func ResolveHybrid(p *model.Profile) (*model.Profile, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	resolved := *p
	kp := strings.TrimSpace(p.Connection.KeyPath)
	if kp == "" {
		return &resolved, nil
	}
	if filepath.IsAbs(kp) || strings.HasPrefix(kp, "~") {
		return nil, fmt.Errorf("hybrid profiles must reference keys by filename, not path: %s", kp)
	}
	if filepath.Base(kp) != kp {
		return nil, fmt.Errorf("invalid key filename: %s", kp)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home: %w", err)
	}
	full := filepath.Join(home, ".ssh", kp)
	if _, err := os.Stat(full); err != nil {
		return nil, fmt.Errorf(
			"SSH key not found on daemon: ~/.ssh/%s; copy it with scp and chmod 600 it", kp)
	}
	resolved.Connection.KeyPath = full
	return &resolved, nil
}
