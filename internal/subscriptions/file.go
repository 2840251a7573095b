package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

type fileDocument struct {
	Subscriptions []string `yaml:"subscriptions"`
}

// FileStore keeps subscriptions in a YAML file. Every mutation rewrites the
// whole file through a temp file and rename.
type FileStore struct {
	path string

	mu       sync.Mutex
	channels []string
}

var _ Store = (*FileStore)(nil)

// OpenFileStore loads path, creating it with defaults when it does not exist.
func OpenFileStore(path string, defaults []string) (*FileStore, error) {
	s := &FileStore{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.channels = cleanDefaults(defaults)
		if err := s.save(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read subscriptions: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse subscriptions %s: %w", path, err)
	}
	s.channels = cleanDefaults(doc.Subscriptions)
	return s, nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.channels...), nil
}

func (s *FileStore) Add(ctx context.Context, channel string) ([]string, error) {
	_ = ctx
	name, err := Normalize(channel)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next, changed := appendChannel(append([]string{}, s.channels...), name)
	if changed {
		prev := s.channels
		s.channels = next
		if err := s.save(); err != nil {
			s.channels = prev
			return nil, err
		}
	}
	return append([]string{}, s.channels...), nil
}

func (s *FileStore) Remove(ctx context.Context, channel string) ([]string, error) {
	_ = ctx
	name, err := Normalize(channel)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next, changed := removeChannel(s.channels, name)
	if changed {
		prev := s.channels
		s.channels = next
		if err := s.save(); err != nil {
			s.channels = prev
			return nil, err
		}
	}
	return append([]string{}, s.channels...), nil
}

func (s *FileStore) Close() error { return nil }

// save must be called with mu held.
func (s *FileStore) save() error {
	data, err := yaml.Marshal(fileDocument{Subscriptions: s.channels})
	if err != nil {
		return fmt.Errorf("encode subscriptions: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create subscriptions directory: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write subscriptions: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace subscriptions: %w", err)
	}
	return nil
}
