package validator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sirupsen/logrus"

	"github.com/plauth/plauth/autherr"
)

// keyCache holds one issuer's signing key set. Expired sets are not
// evicted; they are refreshed on next use, with the prior set retained as a
// fallback inside the grace window so a slow JWKS endpoint does not fail
// otherwise-valid tokens.
type keyCache struct {
	mu        sync.RWMutex
	set       jwk.Set
	fetchedAt time.Time
}

func (c *keyCache) snapshot() (jwk.Set, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set, c.fetchedAt
}

func (c *keyCache) store(set jwk.Set) {
	c.mu.Lock()
	c.set = set
	c.fetchedAt = time.Now()
	c.mu.Unlock()
}

// signingKey resolves kid from the issuer's key set. A fresh set missing
// the kid triggers exactly one forced refresh before the miss is reported;
// issuers may rotate to keys the validator has not seen yet. Lookups never
// block beyond the HTTP client timeout and fail closed.
func (v *Validator) signingKey(ctx context.Context, e *issuerEntry, kid string) (jwk.Key, error) {
	set, fetchedAt := e.keys.snapshot()

	if set != nil && time.Since(fetchedAt) < v.keyTTL {
		if key, ok := set.LookupKeyID(kid); ok {
			return key, nil
		}
		// Fresh set without this kid: refetch once in case of rotation.
		refreshed, err := v.refreshKeys(ctx, e)
		if err != nil {
			return nil, err
		}
		if key, ok := refreshed.LookupKeyID(kid); ok {
			return key, nil
		}
		return nil, &autherr.UnknownSigningKeyError{Issuer: e.cfg.Issuer, KeyID: kid}
	}

	// No keys yet, or stale: refresh eagerly.
	refreshed, err := v.refreshKeys(ctx, e)
	if err != nil {
		if set != nil && time.Since(fetchedAt) < v.keyTTL+v.keyGrace {
			v.log.WithError(err).WithField("issuer", e.cfg.Issuer).
				Warn("JWKS refresh failed, using stale signing keys within grace window")
			refreshed = set
		} else {
			return nil, fmt.Errorf("fetch signing keys for %s: %w", e.cfg.Issuer, err)
		}
	}
	if key, ok := refreshed.LookupKeyID(kid); ok {
		return key, nil
	}
	return nil, &autherr.UnknownSigningKeyError{Issuer: e.cfg.Issuer, KeyID: kid}
}

// refreshKeys fetches the issuer's JWKS, deduplicating concurrent fetches
// per issuer.
func (v *Validator) refreshKeys(ctx context.Context, e *issuerEntry) (jwk.Set, error) {
	result, err, _ := v.group.Do(e.cfg.Issuer, func() (interface{}, error) {
		jwksURL := e.cfg.JWKSURL
		if jwksURL == "" {
			md, err := e.api.Discover(ctx)
			if err != nil {
				return nil, err
			}
			if md.JWKSURI == "" {
				return nil, fmt.Errorf("issuer %s advertises no jwks_uri", e.cfg.Issuer)
			}
			jwksURL = md.JWKSURI
		}
		set, err := jwk.Fetch(ctx, jwksURL, jwk.WithHTTPClient(v.httpClient))
		if err != nil {
			return nil, err
		}
		e.keys.store(set)
		v.log.WithFields(logrus.Fields{
			"issuer": e.cfg.Issuer,
			"keys":   set.Len(),
		}).Debug("refreshed signing key set")
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(jwk.Set), nil
}
