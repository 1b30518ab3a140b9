// Package storage provides credential persistence backends. The on-disk
// backend is shared across process instances: writes are atomic (temp file +
// rename) and reads always hit the backing store so that a refresh performed
// by another process is picked up instead of repeated here.
package storage

import (
	"context"
	"errors"

	"github.com/plauth/plauth/credential"
)

// ErrNotFound is returned by Load when the backing store holds no credential.
var ErrNotFound = errors.New("storage: no credential found")

// Store persists a single client identity's current credential.
type Store interface {
	// Load returns the stored credential, or ErrNotFound.
	Load(ctx context.Context) (*credential.Credential, error)
	// Save replaces the stored credential atomically.
	Save(ctx context.Context, cred *credential.Credential) error
	// Clear removes the stored credential. Clearing an empty store is not
	// an error.
	Clear(ctx context.Context) error
}
