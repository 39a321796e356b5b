package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type keyFixture struct {
	privateKey *rsa.PrivateKey
	kid        string
}

func newKeyFixture(t *testing.T, kid string) *keyFixture {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &keyFixture{privateKey: privateKey, kid: kid}
}

func (f *keyFixture) jwk() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       &f.privateKey.PublicKey,
		KeyID:     f.kid,
		Algorithm: "RS256",
		Use:       "sig",
	}
}

// jwkWithAlgorithm registers the same key under a different algorithm, for
// confusion tests.
func (f *keyFixture) jwkWithAlgorithm(algorithm string) jose.JSONWebKey {
	key := f.jwk()
	key.Algorithm = algorithm
	return key
}

func (f *keyFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = f.kid
	signed, err := token.SignedString(f.privateKey)
	require.NoError(t, err)
	return signed
}

func (f *keyFixture) signWithoutKeyID(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(f.privateKey)
	require.NoError(t, err)
	return signed
}

func jwksDocument(t *testing.T, keys ...jose.JSONWebKey) []byte {
	t.Helper()
	document, err := json.Marshal(jose.JSONWebKeySet{Keys: keys})
	require.NoError(t, err)
	return document
}

// jwksServer serves a swappable JWKS document and counts fetches.
type jwksServer struct {
	*httptest.Server
	fetches  *atomic.Int64
	document *atomic.String
	delay    *atomic.Duration
}

func newJWKSServer(t *testing.T, document []byte) *jwksServer {
	t.Helper()
	server := &jwksServer{
		fetches:  atomic.NewInt64(0),
		document: atomic.NewString(string(document)),
		delay:    atomic.NewDuration(0),
	}
	server.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		server.fetches.Inc()
		if delay := server.delay.Load(); delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(server.document.Load()))
	}))
	t.Cleanup(server.Close)
	return server
}

func (s *jwksServer) setDocument(document []byte) {
	s.document.Store(string(document))
}

// noKeepAliveClient keeps test connections from outliving the test, which
// matters for the goroutine leak checks.
func noKeepAliveClient() *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}
}
