package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/jensneuse/abstractlogger"
	"github.com/pkg/errors"
)

// allowedAlgorithms are the signing algorithms a key set entry may use.
// Symmetric HMAC methods are excluded on purpose: accepting them would let a
// client sign tokens with the public key material itself.
var allowedAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// AuthContext is the verified identity of the caller. It is created at most
// once per HTTP request and shared read-only by every operation in a batch.
type AuthContext struct {
	Subject    string
	Claims     map[string]interface{}
	VerifiedAt time.Time
}

// Config configures a Verifier. JWKSEndpoint is required; everything else
// has workable defaults.
type Config struct {
	// JWKSEndpoint is the URL the key set is fetched from.
	JWKSEndpoint string
	// Audience, when set, must appear in the token's aud claim.
	Audience string
	// Issuer, when set, must equal the token's iss claim.
	Issuer string
	// Leeway tolerates clock skew on exp and nbf checks.
	Leeway time.Duration
	// KeyTTL bounds how long a fetched key set snapshot is trusted.
	KeyTTL time.Duration
	// HTTPClient performs the key set fetches.
	HTTPClient *http.Client
	// Logger defaults to a noop logger.
	Logger log.Logger
}

// DomainConfig derives endpoint and issuer from a bare auth domain the same
// way the usual OIDC layout publishes them.
func DomainConfig(domain, audience string) Config {
	return Config{
		JWKSEndpoint: fmt.Sprintf("https://%s/.well-known/jwks.json", domain),
		Issuer:       fmt.Sprintf("https://%s/", domain),
		Audience:     audience,
	}
}

// Verifier validates bearer tokens against the cached key set.
type Verifier struct {
	keys   *KeySetClient
	parser *jwt.Parser
	log    log.Logger
}

func NewVerifier(config Config) (*Verifier, error) {
	if config.JWKSEndpoint == "" {
		return nil, errors.New("auth: JWKS endpoint is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = log.NoopLogger
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods(allowedAlgorithms),
	}
	if config.Leeway > 0 {
		parserOptions = append(parserOptions, jwt.WithLeeway(config.Leeway))
	}
	if config.Audience != "" {
		parserOptions = append(parserOptions, jwt.WithAudience(config.Audience))
	}
	if config.Issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(config.Issuer))
	}

	return &Verifier{
		keys:   NewKeySetClient(config.JWKSEndpoint, config.KeyTTL, config.HTTPClient, logger),
		parser: jwt.NewParser(parserOptions...),
		log:    logger,
	}, nil
}

// KeySet exposes the underlying key set client.
func (v *Verifier) KeySet() *KeySetClient {
	return v.keys
}

// Verify checks the raw bearer token and returns the caller's identity.
// Failures are *VerificationError (401) except an unreachable key set
// endpoint, which surfaces ErrUpstreamUnavailable (503).
func (v *Verifier) Verify(ctx context.Context, token string) (*AuthContext, error) {
	if token == "" {
		return nil, newVerificationError(ReasonMissingToken, nil)
	}

	claims := jwt.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, v.keyfunc(ctx))
	if err != nil {
		classified := v.classify(err)
		v.log.Debug("Verifier.Verify",
			log.Error(err),
		)
		return nil, classified
	}
	if !parsed.Valid {
		return nil, newVerificationError(ReasonMalformedToken, nil)
	}

	subject, _ := claims.GetSubject()
	return &AuthContext{
		Subject:    subject,
		Claims:     claims,
		VerifiedAt: time.Now(),
	}, nil
}

// keyfunc resolves the token's kid against the key set and pins the token
// algorithm to the one the key was registered with, so a token cannot pick
// a weaker scheme than its key announces.
func (v *Verifier) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, newVerificationError(ReasonMissingKeyID, nil)
		}
		key, err := v.keys.KeyFor(ctx, kid)
		if err != nil {
			return nil, err
		}
		if key.Algorithm != token.Method.Alg() {
			return nil, newVerificationError(ReasonAlgorithmMismatch, nil)
		}
		return key.Key, nil
	}
}

func (v *Verifier) classify(err error) error {
	var verification *VerificationError
	if errors.As(err, &verification) {
		return verification
	}
	if errors.Is(err, ErrUpstreamUnavailable) {
		return err
	}

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return newVerificationError(ReasonTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return newVerificationError(ReasonTokenNotYetValid, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return newVerificationError(ReasonInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience), errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return newVerificationError(ReasonClaimMismatch, err)
	default:
		return newVerificationError(ReasonMalformedToken, err)
	}
}

// BearerFromHeader extracts the token from an Authorization header value.
// The second return is false when the header is absent or not Bearer.
func BearerFromHeader(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}
