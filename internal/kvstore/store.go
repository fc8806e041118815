// Package kvstore is the simple key-value persistence the bridge keeps its local state in.
// Each key maps to one JSON document; writes are durable before Put returns.
package kvstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/wc-bridge/internal/constants"
	"github.com/quantumauth-io/wc-bridge/internal/securefile"
)

var ErrInvalidKey = errors.New("invalid key")

var keyPattern = regexp.MustCompile(`^[a-z0-9_\-]+$`)

type Store interface {
	// Get decodes the document stored under key into out. Reports false when the key is absent.
	Get(key string, out any) (bool, error)
	Put(key string, v any) error
	Delete(key string) error
}

// FileStore keeps one <key>.json file per key under dir.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("kvstore: empty directory")
	}
	if err := os.MkdirAll(dir, constants.DirectoryPerm); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", errors.Wrapf(ErrInvalidKey, "%q", key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

func (s *FileStore) Get(key string, out any) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := securefile.ReadJSON[json.RawMessage](p)
	if errors.Is(err, securefile.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "kvstore get %s", key)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, errors.Wrapf(err, "kvstore decode %s", key)
	}
	return true, nil
}

func (s *FileStore) Put(key string, v any) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := securefile.WriteJSON(p, v, constants.FilePerm, constants.DirectoryPerm); err != nil {
		return errors.Wrapf(err, "kvstore put %s", key)
	}
	return nil
}

func (s *FileStore) Delete(key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "kvstore delete %s", key)
	}
	return nil
}

// Memory is an in-process Store. Values are round-tripped through JSON so callers
// observe the same decoding behavior as with FileStore.
type Memory struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Get(key string, out any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.docs[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, errors.Wrapf(err, "kvstore decode %s", key)
	}
	return true, nil
}

func (m *Memory) Put(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "kvstore encode %s", key)
	}

	m.mu.Lock()
	m.docs[key] = b
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	delete(m.docs, key)
	m.mu.Unlock()
	return nil
}
