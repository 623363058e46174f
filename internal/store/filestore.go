// Package store provides a directory-of-JSON-files implementation of
// internal/link.Datastore and internal/link.ConfigStore. The datastore
// is an external collaborator behind a narrow interface; a handful of
// small records per appliance doesn't warrant an embedded database, so
// this adapter stays on os + encoding/json.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ixsystems/zlinkd/internal/link"
	"github.com/ixsystems/zlinkd/internal/util/chainlock"
)

// FileStore persists ReplicationLink records and opaque config values as
// one JSON file per record under a root directory. Writes are atomic
// (write to a temp file, then rename) so a crash never leaves a record
// half-written.
type FileStore struct {
	linksDir  string
	configDir string

	mu chainlock.L
}

// New builds a FileStore rooted at dir, creating dir/links and
// dir/config if they don't already exist.
func New(dir string) (*FileStore, error) {
	s := &FileStore{
		linksDir:  filepath.Join(dir, "links"),
		configDir: filepath.Join(dir, "config"),
	}
	for _, d := range []string{s.linksDir, s.configDir} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", d, err)
		}
	}
	return s, nil
}

func (s *FileStore) linkPath(name string) string {
	return filepath.Join(s.linksDir, name+".json")
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Get implements link.Datastore.
func (s *FileStore) Get(_ context.Context, name string) (link.Link, bool, error) {
	var out link.Link
	var ok bool
	var err error
	s.mu.HoldWhile(func() {
		raw, readErr := os.ReadFile(s.linkPath(name))
		if readErr != nil {
			if os.IsNotExist(readErr) {
				return
			}
			err = fmt.Errorf("store: read link %q: %w", name, readErr)
			return
		}
		if unmarshalErr := json.Unmarshal(raw, &out); unmarshalErr != nil {
			err = fmt.Errorf("store: decode link %q: %w", name, unmarshalErr)
			return
		}
		ok = true
	})
	return out, ok, err
}

// Put implements link.Datastore.
func (s *FileStore) Put(_ context.Context, l link.Link) error {
	var err error
	s.mu.HoldWhile(func() {
		raw, marshalErr := json.MarshalIndent(l, "", "  ")
		if marshalErr != nil {
			err = fmt.Errorf("store: encode link %q: %w", l.Name, marshalErr)
			return
		}
		if writeErr := writeAtomic(s.linkPath(l.Name), raw); writeErr != nil {
			err = fmt.Errorf("store: persist link %q: %w", l.Name, writeErr)
		}
	})
	return err
}

// Delete implements link.Datastore.
func (s *FileStore) Delete(_ context.Context, name string) error {
	var err error
	s.mu.HoldWhile(func() {
		if removeErr := os.Remove(s.linkPath(name)); removeErr != nil && !os.IsNotExist(removeErr) {
			err = fmt.Errorf("store: delete link %q: %w", name, removeErr)
		}
	})
	return err
}

// List implements link.Datastore, returning records sorted by name so
// callers (conflict checks, CLI listings) see deterministic order.
func (s *FileStore) List(_ context.Context) ([]link.Link, error) {
	var out []link.Link
	var err error
	s.mu.HoldWhile(func() {
		entries, readErr := os.ReadDir(s.linksDir)
		if readErr != nil {
			err = fmt.Errorf("store: list links: %w", readErr)
			return
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
				continue
			}
			raw, readErr := os.ReadFile(filepath.Join(s.linksDir, e.Name()))
			if readErr != nil {
				err = fmt.Errorf("store: read %s: %w", e.Name(), readErr)
				return
			}
			var l link.Link
			if unmarshalErr := json.Unmarshal(raw, &l); unmarshalErr != nil {
				err = fmt.Errorf("store: decode %s: %w", e.Name(), unmarshalErr)
				return
			}
			out = append(out, l)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

// GetConfigValue implements link.ConfigStore.
func (s *FileStore) GetConfigValue(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	var ok bool
	var err error
	s.mu.HoldWhile(func() {
		raw, readErr := os.ReadFile(filepath.Join(s.configDir, key))
		if readErr != nil {
			if os.IsNotExist(readErr) {
				return
			}
			err = fmt.Errorf("store: read config value %q: %w", key, readErr)
			return
		}
		out, ok = raw, true
	})
	return out, ok, err
}

// SetConfigValue implements link.ConfigStore.
func (s *FileStore) SetConfigValue(_ context.Context, key string, value []byte) error {
	var err error
	s.mu.HoldWhile(func() {
		if writeErr := writeAtomic(filepath.Join(s.configDir, key), value); writeErr != nil {
			err = fmt.Errorf("store: persist config value %q: %w", key, writeErr)
		}
	})
	return err
}

var (
	_ link.Datastore   = (*FileStore)(nil)
	_ link.ConfigStore = (*FileStore)(nil)
)
