package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(t *testing.T, server *jwksServer, mutate ...func(*Config)) *Verifier {
	t.Helper()
	config := Config{
		JWKSEndpoint: server.URL,
		KeyTTL:       time.Minute,
		HTTPClient:   noKeepAliveClient(),
	}
	for _, m := range mutate {
		m(&config)
	}
	verifier, err := NewVerifier(config)
	require.NoError(t, err)
	return verifier
}

func assertReason(t *testing.T, err error, reason Reason) {
	t.Helper()
	var verificationError *VerificationError
	require.True(t, errors.As(err, &verificationError), "expected a verification error, got %v", err)
	assert.Equal(t, reason, verificationError.Reason)
}

// mutateSignature flips the first signature character. The first character
// holds six significant bits, so the decoded signature always changes.
func mutateSignature(t *testing.T, token string) string {
	t.Helper()
	i := strings.LastIndexByte(token, '.')
	require.NotEqual(t, -1, i)
	signature := []byte(token[i+1:])
	if signature[0] == 'A' {
		signature[0] = 'B'
	} else {
		signature[0] = 'A'
	}
	return token[:i+1] + string(signature)
}

func TestVerifierVerify(t *testing.T) {
	t.Run("should accept a well signed token and expose its claims", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))
		verifier := newTestVerifier(t, server)

		token := fixture.sign(t, jwt.MapClaims{
			"sub":   "user|123",
			"scope": "read:things",
			"exp":   time.Now().Add(time.Hour).Unix(),
		})

		authContext, err := verifier.Verify(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "user|123", authContext.Subject)
		assert.Equal(t, "read:things", authContext.Claims["scope"])
		assert.WithinDuration(t, time.Now(), authContext.VerifiedAt, 5*time.Second)
	})

	t.Run("should reject an empty token", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))
		verifier := newTestVerifier(t, server)

		_, err := verifier.Verify(context.Background(), "")
		assertReason(t, err, ReasonMissingToken)
		assert.Equal(t, int64(0), server.fetches.Load())
	})

	t.Run("should reject garbage that is not a jwt", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))
		verifier := newTestVerifier(t, server)

		_, err := verifier.Verify(context.Background(), "not.a.jwt")
		assertReason(t, err, ReasonMalformedToken)
	})

	t.Run("should reject a token without a key id", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))
		verifier := newTestVerifier(t, server)

		token := fixture.signWithoutKeyID(t, jwt.MapClaims{
			"sub": "user|123",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		_, err := verifier.Verify(context.Background(), token)
		assertReason(t, err, ReasonMissingKeyID)
	})

	t.Run("should reject a token signed by a key the set does not hold", func(t *testing.T) {
		published := newKeyFixture(t, "kid-1")
		rogue := newKeyFixture(t, "kid-rogue")
		server := newJWKSServer(t, jwksDocument(t, published.jwk()))
		verifier := newTestVerifier(t, server)

		token := rogue.sign(t, jwt.MapClaims{
			"sub": "user|123",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		_, err := verifier.Verify(context.Background(), token)
		assertReason(t, err, ReasonUnknownKey)
	})

	t.Run("should reject a tampered signature", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))
		verifier := newTestVerifier(t, server)

		token := fixture.sign(t, jwt.MapClaims{
			"sub": "user|123",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		_, err := verifier.Verify(context.Background(), mutateSignature(t, token))
		assertReason(t, err, ReasonInvalidSignature)
	})

	t.Run("should reject an expired token", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))
		verifier := newTestVerifier(t, server)

		token := fixture.sign(t, jwt.MapClaims{
			"sub": "user|123",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})

		_, err := verifier.Verify(context.Background(), token)
		assertReason(t, err, ReasonTokenExpired)
	})

	t.Run("should reject a token that is not valid yet", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))
		verifier := newTestVerifier(t, server)

		token := fixture.sign(t, jwt.MapClaims{
			"sub": "user|123",
			"nbf": time.Now().Add(time.Hour).Unix(),
			"exp": time.Now().Add(2 * time.Hour).Unix(),
		})

		_, err := verifier.Verify(context.Background(), token)
		assertReason(t, err, ReasonTokenNotYetValid)
	})

	t.Run("should tolerate clock skew within the configured leeway", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))
		verifier := newTestVerifier(t, server, func(config *Config) {
			config.Leeway = time.Minute
		})

		token := fixture.sign(t, jwt.MapClaims{
			"sub": "user|123",
			"exp": time.Now().Add(-10 * time.Second).Unix(),
		})

		_, err := verifier.Verify(context.Background(), token)
		assert.NoError(t, err)
	})

	t.Run("should reject a token for another audience", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))
		verifier := newTestVerifier(t, server, func(config *Config) {
			config.Audience = "expected-api"
		})

		token := fixture.sign(t, jwt.MapClaims{
			"sub": "user|123",
			"aud": "other-api",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		_, err := verifier.Verify(context.Background(), token)
		assertReason(t, err, ReasonClaimMismatch)
	})

	t.Run("should reject a token from another issuer", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))
		verifier := newTestVerifier(t, server, func(config *Config) {
			config.Issuer = "https://issuer.example/"
		})

		token := fixture.sign(t, jwt.MapClaims{
			"sub": "user|123",
			"iss": "https://other.example/",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		_, err := verifier.Verify(context.Background(), token)
		assertReason(t, err, ReasonClaimMismatch)
	})

	t.Run("should reject a token whose algorithm differs from the registered key", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwkWithAlgorithm("ES256")))
		verifier := newTestVerifier(t, server)

		token := fixture.sign(t, jwt.MapClaims{
			"sub": "user|123",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		_, err := verifier.Verify(context.Background(), token)
		assertReason(t, err, ReasonAlgorithmMismatch)
	})

	t.Run("should reject symmetric signing methods outright", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))
		verifier := newTestVerifier(t, server)

		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "user|123",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		token.Header["kid"] = fixture.kid
		signed, err := token.SignedString([]byte("shared-secret"))
		require.NoError(t, err)

		_, err = verifier.Verify(context.Background(), signed)
		assertReason(t, err, ReasonInvalidSignature)
		assert.Equal(t, int64(0), server.fetches.Load())
	})

	t.Run("should surface an unreachable key set as upstream unavailable", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))
		endpoint := server.URL
		server.Close()

		verifier, err := NewVerifier(Config{
			JWKSEndpoint: endpoint,
			KeyTTL:       time.Minute,
			HTTPClient:   noKeepAliveClient(),
		})
		require.NoError(t, err)

		token := fixture.sign(t, jwt.MapClaims{
			"sub": "user|123",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		_, err = verifier.Verify(context.Background(), token)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)

		var verificationError *VerificationError
		assert.False(t, errors.As(err, &verificationError), "an unreachable endpoint must not read as an authentication failure")
	})

	t.Run("should pick up rotated keys without restarting", func(t *testing.T) {
		oldKey := newKeyFixture(t, "kid-old")
		newKey := newKeyFixture(t, "kid-new")
		server := newJWKSServer(t, jwksDocument(t, oldKey.jwk()))
		verifier := newTestVerifier(t, server)

		_, err := verifier.Verify(context.Background(), oldKey.sign(t, jwt.MapClaims{
			"sub": "user|123",
			"exp": time.Now().Add(time.Hour).Unix(),
		}))
		require.NoError(t, err)

		server.setDocument(jwksDocument(t, oldKey.jwk(), newKey.jwk()))

		_, err = verifier.Verify(context.Background(), newKey.sign(t, jwt.MapClaims{
			"sub": "user|456",
			"exp": time.Now().Add(time.Hour).Unix(),
		}))
		require.NoError(t, err)
		assert.Equal(t, int64(2), server.fetches.Load())
	})
}

func TestNewVerifier(t *testing.T) {
	t.Run("should require a jwks endpoint", func(t *testing.T) {
		_, err := NewVerifier(Config{})
		assert.Error(t, err)
	})
}

func TestVerifierKeySet(t *testing.T) {
	t.Run("should let a caller pre-warm the key set verification uses", func(t *testing.T) {
		fixture := newKeyFixture(t, "kid-1")
		server := newJWKSServer(t, jwksDocument(t, fixture.jwk()))
		verifier := newTestVerifier(t, server)

		keys := verifier.KeySet()
		require.NotNil(t, keys)
		assert.Nil(t, keys.Current())

		_, err := keys.Refresh(context.Background())
		require.NoError(t, err)

		token := fixture.sign(t, jwt.MapClaims{
			"sub": "user|123",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		_, err = verifier.Verify(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, int64(1), server.fetches.Load())
	})
}

func TestDomainConfig(t *testing.T) {
	t.Run("should derive the usual oidc layout from a bare domain", func(t *testing.T) {
		config := DomainConfig("tenant.example.com", "my-api")
		assert.Equal(t, "https://tenant.example.com/.well-known/jwks.json", config.JWKSEndpoint)
		assert.Equal(t, "https://tenant.example.com/", config.Issuer)
		assert.Equal(t, "my-api", config.Audience)
	})
}

func TestBearerFromHeader(t *testing.T) {
	t.Run("should extract the token after the bearer scheme", func(t *testing.T) {
		token, ok := BearerFromHeader("Bearer abc.def.ghi")
		assert.True(t, ok)
		assert.Equal(t, "abc.def.ghi", token)
	})

	t.Run("should reject an absent header", func(t *testing.T) {
		_, ok := BearerFromHeader("")
		assert.False(t, ok)
	})

	t.Run("should reject other schemes", func(t *testing.T) {
		_, ok := BearerFromHeader("Basic dXNlcjpwYXNz")
		assert.False(t, ok)
	})

	t.Run("should reject a bearer scheme without a token", func(t *testing.T) {
		_, ok := BearerFromHeader("Bearer ")
		assert.False(t, ok)
	})
}
