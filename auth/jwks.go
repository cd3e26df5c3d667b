/*
jwks.go - Identity provider signing keys

PURPOSE:
  Resolves a token's `kid` header to the RSA public key that signed it.
  JWKS wraps a keyfunc.Keyfunc over the provider's key set document
  ({issuer}/.well-known/jwks.json for Cognito).

CACHING:
  jwkset refreshes the set in the background every refresh interval and keeps
  the last good set when a refresh fails. A kid that is not cached triggers
  one immediate refetch (the provider rotated keys), limited to once per
  minRefetchGap so a flood of forged kids cannot hammer the provider.

FAILURE:
  A lookup that misses while no keys are cached, or whose refetch failed,
  is ErrAuthServiceUnavailable. Any other miss is ErrKeyNotFound.
*/
package auth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// KeySource resolves a key id to the RSA key used to verify signatures.
type KeySource interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

const (
	DefaultJWKSTimeout = 3 * time.Second
	DefaultJWKSRefresh = time.Hour
	minRefetchGap      = 10 * time.Second
)

// JWKS is a KeySource backed by a remote JSON Web Key Set.
type JWKS struct {
	keys     keyfunc.Keyfunc
	failures atomic.Uint64
	log      zerolog.Logger
}

// NewJWKS starts a key source for url. The first fetch happens before it
// returns; a failure there is logged, not returned, so the server can start
// while the provider is down. Cancelling ctx stops the background refresh.
// Zero durations use the defaults.
func NewJWKS(ctx context.Context, url string, timeout, refresh time.Duration, log zerolog.Logger) (*JWKS, error) {
	if timeout <= 0 {
		timeout = DefaultJWKSTimeout
	}
	if refresh <= 0 {
		refresh = DefaultJWKSRefresh
	}

	j := &JWKS{log: log}
	kf, err := keyfunc.NewDefaultOverrideCtx(ctx, []string{url}, keyfunc.Override{
		HTTPTimeout:             timeout,
		RateLimitWaitMax:        timeout,
		RefreshInterval:         refresh,
		RefreshUnknownKID:       rate.NewLimiter(rate.Every(minRefetchGap), 1),
		RefreshErrorHandlerFunc: j.refreshFailed,
	})
	if err != nil {
		return nil, fmt.Errorf("creating key set client for %s: %w", url, err)
	}
	j.keys = kf
	return j, nil
}

// CognitoJWKSURL is the key set location for a Cognito user pool.
func CognitoJWKSURL(issuer string) string {
	return issuer + "/.well-known/jwks.json"
}

func (j *JWKS) refreshFailed(url string) func(ctx context.Context, err error) {
	return func(_ context.Context, err error) {
		j.failures.Add(1)
		j.log.Error().Err(err).Str("url", url).Msg("key set refresh failed")
	}
}

// Key returns the key for kid.
func (j *JWKS) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	failures := j.failures.Load()

	header := &jwt.Token{Header: map[string]any{
		"kid": kid,
		"alg": jwt.SigningMethodRS256.Alg(),
	}}
	key, err := j.keys.KeyfuncCtx(ctx)(header)
	if err != nil {
		if j.failures.Load() != failures || !j.cached(ctx) {
			return nil, fmt.Errorf("%w: %v", ErrAuthServiceUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyNotFound, err)
	}

	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: kid %q is a %T, not an RSA key", ErrKeyNotFound, kid, key)
	}
	return pub, nil
}

func (j *JWKS) cached(ctx context.Context) bool {
	all, err := j.keys.Storage().KeyReadAll(ctx)
	return err == nil && len(all) > 0
}
