// Package auth verifies bearer tokens against a rotating JWKS key set.
// The key set is the only cross-request shared mutable state in the whole
// pipeline: reads go through an atomic snapshot and refreshes coalesce onto
// a single fetch per cache generation.
package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-jose/go-jose/v4"
	log "github.com/jensneuse/abstractlogger"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

const DefaultKeyTTL = 5 * time.Minute

// KeySet is one immutable snapshot of the published verification keys.
// Entries without a key id, an algorithm, or usable key material never make
// it into a snapshot, so a lookup either returns a complete entry or misses.
type KeySet struct {
	keys      map[string]jose.JSONWebKey
	fetchedAt time.Time
	expiresAt time.Time
}

func (s *KeySet) Key(kid string) (jose.JSONWebKey, bool) {
	key, ok := s.keys[kid]
	return key, ok
}

func (s *KeySet) Len() int {
	return len(s.keys)
}

func (s *KeySet) Expired(now time.Time) bool {
	return now.After(s.expiresAt)
}

// KeySetClient caches KeySet snapshots fetched from a JWKS endpoint.
type KeySetClient struct {
	endpoint   string
	ttl        time.Duration
	httpClient *http.Client
	log        log.Logger

	current    atomic.Pointer[KeySet]
	generation atomic.Int64
	group      singleflight.Group
}

func NewKeySetClient(endpoint string, ttl time.Duration, httpClient *http.Client, logger log.Logger) *KeySetClient {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = log.NoopLogger
	}
	return &KeySetClient{
		endpoint:   endpoint,
		ttl:        ttl,
		httpClient: httpClient,
		log:        logger,
	}
}

// Current returns the latest snapshot, which may be nil or expired.
func (c *KeySetClient) Current() *KeySet {
	return c.current.Load()
}

// KeyFor resolves kid against a fresh snapshot. A stale snapshot or a miss
// triggers exactly one coalesced refresh and one retry; a miss after the
// retry is terminal.
func (c *KeySetClient) KeyFor(ctx context.Context, kid string) (jose.JSONWebKey, error) {
	if set := c.current.Load(); set != nil && !set.Expired(time.Now()) {
		if key, ok := set.Key(kid); ok {
			return key, nil
		}
	}

	refreshed, err := c.Refresh(ctx)
	if err != nil {
		return jose.JSONWebKey{}, err
	}
	if key, ok := refreshed.Key(kid); ok {
		return key, nil
	}
	return jose.JSONWebKey{}, newVerificationError(ReasonUnknownKey, nil)
}

// Refresh fetches a new snapshot. Concurrent callers holding the same cache
// generation share one in-flight fetch; callers arriving after a completed
// refresh reuse the fresh snapshot instead of fetching again.
func (c *KeySetClient) Refresh(ctx context.Context) (*KeySet, error) {
	generation := c.generation.Load()
	result, err, _ := c.group.Do(strconv.FormatInt(generation, 10), func() (interface{}, error) {
		if c.generation.Load() != generation {
			if set := c.current.Load(); set != nil {
				return set, nil
			}
		}
		// Every coalesced waiter shares this one fetch, so it must not die
		// with the initiating caller. The HTTP client timeout still bounds it.
		set, err := c.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.current.Store(set)
		c.generation.Inc()
		c.log.Debug("KeySetClient.Refresh",
			log.String("endpoint", c.endpoint),
			log.Int("keys", set.Len()),
		)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*KeySet), nil
}

func (c *KeySetClient) fetch(ctx context.Context) (*KeySet, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrUpstreamUnavailable, "build request for %q: %v", c.endpoint, err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, errors.Wrapf(ErrUpstreamUnavailable, "fetch %q: %v", c.endpoint, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrUpstreamUnavailable, "fetch %q: unexpected status %d", c.endpoint, response.StatusCode)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, errors.Wrapf(ErrUpstreamUnavailable, "read key set from %q: %v", c.endpoint, err)
	}

	var document jose.JSONWebKeySet
	if err := json.Unmarshal(body, &document); err != nil {
		return nil, errors.Wrapf(ErrUpstreamUnavailable, "decode key set from %q: %v", c.endpoint, err)
	}

	now := time.Now()
	keys := make(map[string]jose.JSONWebKey, len(document.Keys))
	for _, key := range document.Keys {
		if key.KeyID == "" || key.Algorithm == "" || !key.Valid() {
			c.log.Warn("KeySetClient.fetch: dropping incomplete key entry",
				log.String("keyID", key.KeyID),
			)
			continue
		}
		keys[key.KeyID] = key
	}

	return &KeySet{
		keys:      keys,
		fetchedAt: now,
		expiresAt: now.Add(c.ttl),
	}, nil
}
