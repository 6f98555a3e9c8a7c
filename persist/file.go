package persist

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
)

// FileAdapter is a file-backed Adapter, one file per key, grounded on
// gonzalop-mq's FileStore (one JSON file per pending publish under a base
// directory). Unlike that store, CORE's keys carry arbitrary transport
// URIs and client identifiers (colons, slashes), so the key itself can't
// be used as a filename directly; it's hex-encoded into the filename
// instead, and Keys hex-decodes each filename back to its key and matches
// the requested prefix against it.
type FileAdapter struct {
	dir  string
	perm os.FileMode
}

// FileAdapterOption configures a FileAdapter at construction time.
type FileAdapterOption func(*FileAdapter)

// WithFilePermissions overrides the default 0600 permission used for
// written entries.
func WithFilePermissions(perm os.FileMode) FileAdapterOption {
	return func(a *FileAdapter) { a.perm = perm }
}

// NewFileAdapter creates a FileAdapter rooted at dir, creating it if
// necessary.
func NewFileAdapter(dir string, opts ...FileAdapterOption) (*FileAdapter, error) {
	a := &FileAdapter{dir: dir, perm: 0o600}
	for _, opt := range opts {
		opt(a)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *FileAdapter) path(key string) string {
	return filepath.Join(a.dir, hex.EncodeToString([]byte(key)))
}

func (a *FileAdapter) Get(key string) (string, bool, error) {
	data, err := os.ReadFile(a.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func (a *FileAdapter) Set(key, value string) error {
	return os.WriteFile(a.path(key), []byte(value), a.perm)
}

func (a *FileAdapter) Remove(key string) error {
	err := os.Remove(a.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (a *FileAdapter) Keys(prefix string) ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		raw, err := hex.DecodeString(entry.Name())
		if err != nil {
			continue
		}
		key := string(raw)
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, key)
		}
	}
	return out, nil
}
