package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/plauth/plauth/credential"
)

// FileStore keeps a credential in a JSON file, readable by other processes
// sharing the same token file. 0600 permissions; the file holds bearer
// tokens.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the given file path. The file and
// its parent directories are created on first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads and decodes the credential file. A missing file maps to
// ErrNotFound.
func (s *FileStore) Load(_ context.Context) (*credential.Credential, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read credential file %s: %w", s.path, err)
	}
	var cred credential.Credential
	if err := json.Unmarshal(b, &cred); err != nil {
		return nil, fmt.Errorf("parse credential file %s: %w", s.path, err)
	}
	if err := cred.Validate(); err != nil {
		return nil, fmt.Errorf("credential file %s: %w", s.path, err)
	}
	return &cred, nil
}

// Save writes the credential to a temp file in the same directory and
// renames it into place, so a crash mid-write cannot leave a truncated
// credential behind.
func (s *FileStore) Save(_ context.Context, cred *credential.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create credential directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace credential file %s: %w", s.path, err)
	}
	return nil
}

// Clear removes the credential file.
func (s *FileStore) Clear(_ context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
