package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	log "github.com/jensneuse/abstractlogger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/sjson"
	"go.uber.org/goleak"
)

func TestKeySetClientRefresh(t *testing.T) {
	t.Run("should fetch and index keys by kid", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))

		client := NewKeySetClient(server.URL, time.Minute, noKeepAliveClient(), log.NoopLogger)
		set, err := client.Refresh(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, set.Len())
		key, ok := set.Key("kid-1")
		require.True(t, ok)
		assert.Equal(t, "RS256", key.Algorithm)
	})

	t.Run("should drop entries missing kid or algorithm", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		document := jwksDocument(t, fixture.jwk(), newKeyFixture(t, "kid-2").jwk())

		document, err := sjson.DeleteBytes(document, "keys.0.kid")
		require.NoError(t, err)
		document, err = sjson.SetBytes(document, "keys.1.alg", "")
		require.NoError(t, err)

		server := newJWKSServer(t, document)
		client := NewKeySetClient(server.URL, time.Minute, noKeepAliveClient(), log.NoopLogger)

		set, err := client.Refresh(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, set.Len())
	})

	t.Run("should wrap endpoint failures as upstream unavailable", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))
		endpoint := server.URL
		server.Close()

		client := NewKeySetClient(endpoint, time.Minute, noKeepAliveClient(), log.NoopLogger)
		_, err := client.Refresh(context.Background())
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	})
}

func TestKeySetClientKeyFor(t *testing.T) {
	t.Run("should serve lookups from the cached snapshot without refetching", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))
		client := NewKeySetClient(server.URL, time.Minute, noKeepAliveClient(), log.NoopLogger)

		_, err := client.Refresh(context.Background())
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			_, err := client.KeyFor(context.Background(), "kid-1")
			require.NoError(t, err)
		}
		assert.Equal(t, int64(1), server.fetches.Load())
	})

	t.Run("should refresh on an unknown kid and pick up rotated keys", func(t *testing.T) {
		oldKey := newKeyFixture(t, "kid-old")
		newKey := newKeyFixture(t, "kid-new")
		server := newJWKSServer(t, jwksDocument(t, oldKey.jwk()))
		client := NewKeySetClient(server.URL, time.Minute, noKeepAliveClient(), log.NoopLogger)

		_, err := client.KeyFor(context.Background(), "kid-old")
		require.NoError(t, err)

		server.setDocument(jwksDocument(t, oldKey.jwk(), newKey.jwk()))

		key, err := client.KeyFor(context.Background(), "kid-new")
		require.NoError(t, err)
		assert.Equal(t, "kid-new", key.KeyID)
		assert.Equal(t, int64(2), server.fetches.Load())
	})

	t.Run("should fail terminally when the kid stays unknown after a refresh", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))
		client := NewKeySetClient(server.URL, time.Minute, noKeepAliveClient(), log.NoopLogger)

		_, err := client.KeyFor(context.Background(), "kid-unknown")
		require.Error(t, err)

		var verificationError *VerificationError
		require.True(t, errors.As(err, &verificationError))
		assert.Equal(t, ReasonUnknownKey, verificationError.Reason)
		assert.Equal(t, int64(1), server.fetches.Load())
	})

	t.Run("should refetch once the snapshot ttl has passed", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))
		client := NewKeySetClient(server.URL, 5*time.Millisecond, noKeepAliveClient(), log.NoopLogger)

		_, err := client.KeyFor(context.Background(), "kid-1")
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)

		_, err = client.KeyFor(context.Background(), "kid-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), server.fetches.Load())
	})
}

func TestKeySetClientCoalescing(t *testing.T) {
	t.Run("should coalesce concurrent refreshes onto one fetch", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))
		server.delay.Store(50 * time.Millisecond)

		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

		client := NewKeySetClient(server.URL, time.Minute, noKeepAliveClient(), log.NoopLogger)

		const workers = 20
		var wg sync.WaitGroup
		failures := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := client.KeyFor(context.Background(), "kid-1"); err != nil {
					failures <- err
				}
			}()
		}
		wg.Wait()
		close(failures)

		for err := range failures {
			t.Errorf("concurrent KeyFor failed: %v", err)
		}
		assert.Equal(t, int64(1), server.fetches.Load())
	})

	t.Run("should complete the shared fetch after the initiating caller gives up", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))
		server.delay.Store(150 * time.Millisecond)

		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

		client := NewKeySetClient(server.URL, time.Minute, noKeepAliveClient(), log.NoopLogger)

		initiatorCtx, abandonInitiator := context.WithCancel(context.Background())
		initiator := make(chan error, 1)
		go func() {
			_, err := client.Refresh(initiatorCtx)
			initiator <- err
		}()

		// Let the initiator start the fetch, then join its flight with a
		// caller that stays connected.
		time.Sleep(30 * time.Millisecond)
		waiter := make(chan error, 1)
		go func() {
			_, err := client.Refresh(context.Background())
			waiter <- err
		}()

		time.Sleep(30 * time.Millisecond)
		abandonInitiator()

		assert.NoError(t, <-waiter, "a live caller must not inherit the initiator's cancellation")
		assert.NoError(t, <-initiator)
		assert.Equal(t, int64(1), server.fetches.Load())

		current := client.Current()
		require.NotNil(t, current)
		_, ok := current.Key("kid-1")
		assert.True(t, ok)
	})
}
