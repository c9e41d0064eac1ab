package tombstone

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/vedsharma/apitester/internal/codec"
)

const (
	// Secure file permissions - owner read/write only
	secureFileMode = 0600 // -rw-------
	secureDirMode  = 0700 // drwx------
)

// File keeps the set as a JSON array in <dir>/<key>.json
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile creates a file-backed set named key inside dir
func NewFile(dir, key string) (*File, error) {
	if key == "" {
		key = DefaultKey
	}
	if err := os.MkdirAll(dir, secureDirMode); err != nil {
		return nil, err
	}
	return &File{path: filepath.Join(dir, key+".json")}, nil
}

// Path returns the backing file path
func (f *File) Path() string {
	return f.path
}

func (f *File) Load(ctx context.Context) (IDs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids, err := f.read()
	if err != nil {
		return nil, err
	}
	return newIDs(ids), nil
}

func (f *File) Add(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids, err := f.read()
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)

	data, err := codec.Marshal(ids)
	if err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, secureFileMode); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *File) read() ([]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return []string{}, nil
	}

	var ids []string
	if err := codec.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
