// Copyright 2026 The Gatehouse Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extauth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gatehouse-io/gatehouse/internal/apperr"
	"github.com/gatehouse-io/gatehouse/internal/observability/logger"
)

// HTTPClient abstracts the HTTP client used for JWKS fetches so tests can
// substitute their own transport. *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// JWK represents a single key in a JWKS response (RFC 7517). Only fields
// needed to rebuild RSA and EC public keys are kept.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	// RSA fields
	N string `json:"n"`
	E string `json:"e"`
	// EC fields
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// JWKS represents a JSON Web Key Set (RFC 7517)
type JWKS struct {
	Keys []JWK `json:"keys"`
}

type cacheEntry struct {
	keys      map[string]any // kid -> *rsa.PublicKey or *ecdsa.PublicKey
	fetchedAt time.Time
}

func (e *cacheEntry) fresh(ttl time.Duration) bool {
	return time.Since(e.fetchedAt) < ttl
}

// Cache caches key sets per jwks uri. It is shared and read-mostly; the
// only writer is the fetch-and-populate path, which runs under single-flight
// so key rotation under load costs one upstream fetch, not N.
//
// A cache entry whose provider config has been deleted is simply orphaned:
// it is evicted on the next fetch failure for its uri.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry

	group        singleflight.Group
	client       HTTPClient
	ttl          time.Duration
	fetchTimeout time.Duration
}

// NewCache creates a JWKS cache. ttl bounds how long a fetched key set is
// trusted; fetchTimeout bounds each upstream fetch.
func NewCache(client HTTPClient, ttl, fetchTimeout time.Duration) *Cache {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return &Cache{
		entries:      make(map[string]*cacheEntry),
		client:       client,
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
	}
}

// Key resolves the public key with the given kid from the key set at
// jwksURI.
//
// A fresh cache entry containing the kid is used directly. A miss, an
// expired entry, or a fresh entry without the kid (key rotation) triggers
// exactly one re-fetch under single-flight. If the fetch fails but a stale
// entry still holds the kid, the stale key is returned with a warning:
// known keys favor availability, unknown ones fail hard.
func (c *Cache) Key(ctx context.Context, jwksURI, kid string) (any, error) {
	c.mu.RLock()
	entry, ok := c.entries[jwksURI]
	if ok && entry.fresh(c.ttl) {
		if key, exists := entry.keys[kid]; exists {
			c.mu.RUnlock()
			return key, nil
		}
		// kid absent from a fresh set: possible rotation, fall through to
		// the one permitted re-fetch.
	}
	c.mu.RUnlock()

	keys, err := c.refresh(ctx, jwksURI)
	if err != nil {
		// Degrade to a stale entry only when it already knows this kid.
		c.mu.RLock()
		stale, hasStale := c.entries[jwksURI]
		c.mu.RUnlock()
		if hasStale {
			if key, exists := stale.keys[kid]; exists {
				slog.WarnContext(ctx, "jwks fetch failed, verifying against stale cache",
					logger.Component("extauth"),
					logger.JWKSURI(jwksURI),
					logger.KeyID(kid),
					logger.Error(err),
				)
				return key, nil
			}
			// Orphaned or useless entry; evict so a deleted provider does
			// not pin memory forever.
			c.Evict(jwksURI)
		}
		return nil, err
	}

	key, exists := keys[kid]
	if !exists {
		return nil, apperr.Newf(apperr.CodeTokenInvalid, "key id %q not present in key set %s", kid, jwksURI)
	}
	return key, nil
}

// refresh fetches and installs the key set for jwksURI, coalescing
// concurrent callers.
func (c *Cache) refresh(ctx context.Context, jwksURI string) (map[string]any, error) {
	v, err, _ := c.group.Do(jwksURI, func() (any, error) {
		// Re-check under the flight: a racing caller may have refreshed
		// while this one queued.
		c.mu.RLock()
		entry, ok := c.entries[jwksURI]
		c.mu.RUnlock()
		if ok && time.Since(entry.fetchedAt) < time.Second {
			return entry.keys, nil
		}

		keys, err := c.fetch(ctx, jwksURI)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[jwksURI] = &cacheEntry{keys: keys, fetchedAt: time.Now()}
		c.mu.Unlock()
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// Evict drops the cache entry for jwksURI.
func (c *Cache) Evict(jwksURI string) {
	c.mu.Lock()
	delete(c.entries, jwksURI)
	c.mu.Unlock()
}

// fetch performs one bounded HTTP GET of the key set and parses it.
func (c *Cache) fetch(ctx context.Context, jwksURI string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeJWKSFetchFailed, "failed to build jwks request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperr.Wrap(err, apperr.CodeJWKSFetchTimeout, "jwks fetch timed out")
		}
		return nil, apperr.Wrap(err, apperr.CodeJWKSFetchFailed, "jwks fetch failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.CodeJWKSFetchFailed, "jwks endpoint returned status %d", resp.StatusCode)
	}

	// Limit response body to 1 MB.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeJWKSFetchFailed, "failed to read jwks response")
	}

	var jwks JWKS
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeJWKSFetchFailed, "failed to parse jwks document")
	}

	keys := make(map[string]any, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kid == "" {
			continue
		}
		switch k.Kty {
		case "RSA":
			pub, err := parseRSAPublicKey(k.N, k.E)
			if err != nil {
				continue // skip malformed keys
			}
			keys[k.Kid] = pub
		case "EC":
			pub, err := parseECPublicKey(k.Crv, k.X, k.Y)
			if err != nil {
				continue
			}
			keys[k.Kid] = pub
		}
	}
	return keys, nil
}

// parseRSAPublicKey constructs an *rsa.PublicKey from base64url-encoded
// modulus and exponent values.
func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode RSA modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode RSA exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// parseECPublicKey constructs an *ecdsa.PublicKey from a curve name and
// base64url-encoded coordinates.
func parseECPublicKey(crv, xBase64, yBase64 string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported EC curve %q", crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(xBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode EC x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode EC y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
