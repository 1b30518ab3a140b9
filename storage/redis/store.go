// Package redisstore provides a redis-backed credential store for
// deployments where workers share one client identity and a token file is
// impractical. Redis SET is atomic, so the same crash-consistency contract
// as the file backend holds.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/plauth/plauth/credential"
	"github.com/plauth/plauth/storage"
)

type Store struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// New creates a redis-backed store under keyPrefix+identity. A zero ttl
// keeps entries until overwritten; a positive ttl bounds how long a stale
// credential can linger after the owning client goes away.
func New(rdb *redis.Client, keyPrefix, identity string, ttl time.Duration) *Store {
	if keyPrefix == "" {
		keyPrefix = "plauth:credential:"
	}
	return &Store{rdb: rdb, key: keyPrefix + identity, ttl: ttl}
}

func (s *Store) Load(ctx context.Context) (*credential.Credential, error) {
	val, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cred credential.Credential
	if err := json.Unmarshal(val, &cred); err != nil {
		return nil, err
	}
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *Store) Save(ctx context.Context, cred *credential.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key, b, s.ttl).Err()
}

func (s *Store) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key).Err()
}
