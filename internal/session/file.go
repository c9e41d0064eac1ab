package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/vedsharma/apitester/internal/codec"
)

// FileName is the file the CLI keeps the handed-over identity in
const FileName = "session.json"

type fileState struct {
	User string `json:"user"`
}

// File remembers the identity between CLI invocations. It only stores what
// the identity provider handed over; nothing here authenticates anyone.
type File struct {
	path string
}

// NewFile returns a session file inside dir
func NewFile(dir string) *File {
	return &File{path: filepath.Join(dir, FileName)}
}

// Load returns the remembered user, or "" when there is none
func (f *File) Load() (string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var st fileState
	if err := codec.Unmarshal(data, &st); err != nil {
		return "", err
	}
	return strings.TrimSpace(st.User), nil
}

// Save remembers userID; an empty id removes the file
func (f *File) Save(userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return err
	}
	data, err := codec.Marshal(fileState{User: userID})
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0600)
}
