package recordstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileBackend keeps each document as <dir>/<doc>.json. Update is guarded
// by an in-process mutex, so a directory must not be shared by processes.
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

// NewFileBackend creates a FileBackend rooted at dir, creating it if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create store directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// DefaultDir returns the default document directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "chatgate-security")
	}
	return filepath.Join(home, ".chatgate", "security")
}

// Dir returns the directory holding the documents.
func (b *FileBackend) Dir() string {
	return b.dir
}

// Path returns the file backing doc.
func (b *FileBackend) Path(doc string) string {
	return filepath.Join(b.dir, doc+".json")
}

func (b *FileBackend) Read(ctx context.Context, doc string) ([]byte, error) {
	if err := validateDoc(doc); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.Path(doc))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *FileBackend) Write(ctx context.Context, doc string, data []byte) error {
	if err := validateDoc(doc); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeAtomic(b.Path(doc), data)
}

func (b *FileBackend) Update(ctx context.Context, doc string, fn func([]byte) ([]byte, error)) error {
	if err := validateDoc(doc); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.Path(doc)
	current, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		current = nil
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	return b.writeAtomic(path, next)
}

// Close is a no-op.
func (b *FileBackend) Close() error {
	return nil
}

// writeAtomic recreates the directory if it vanished, then writes via a
// temporary file and rename so readers never see a partial document.
func (b *FileBackend) writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
