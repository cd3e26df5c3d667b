/*
Package auth decides whether a bearer token may call the protected routes.

PURPOSE:
  Gate.Authorize turns an Authorization header into a Decision: either an
  allowed principal with its claims and policy document, or a denial with a
  reason. Authorize never panics and never returns an error; every failure
  is a denied Decision whose Err says why.

CHECK ORDER:
  1. Bearer token present                      ErrMissingToken
  2. Not on the signout denylist               ErrTokenRevoked
  3. RS256 signature against the provider key  ErrInvalidSignature
  4. exp in the future                         ErrTokenExpired
  5. iss equals the configured issuer          ErrIssuerMismatch
  6. client_id / aud equals the app client     ErrAudienceMismatch

  Key set or denylist backend failures deny with ErrAuthServiceUnavailable.

POLICY:
  The allowed resource list is static configuration (see config/resources.go)
  and is the same for every principal.

SEE ALSO:
  - api/middleware.go: Maps decisions onto HTTP responses
  - identity/local.go: Issues tokens this gate accepts in local mode
*/
package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Claims are the token fields the gate reads. Cognito access tokens carry
// client_id; id tokens carry aud.
type Claims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id,omitempty"`
	TokenUse string `json:"token_use,omitempty"`
	Username string `json:"username,omitempty"`
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed     bool
	PrincipalID string
	Claims      *Claims
	Policy      PolicyDocument

	Err     error
	Message string
}

func deny(err error) Decision {
	return Decision{Err: err, Message: err.Error()}
}

// Config is the static input of a Gate.
type Config struct {
	Issuer    string
	ClientID  string
	Resources []string
	Timeout   time.Duration
}

// CognitoIssuer is the issuer of tokens minted by a Cognito user pool.
func CognitoIssuer(region, poolID string) string {
	return "https://cognito-idp." + region + ".amazonaws.com/" + poolID
}

// Gate validates bearer tokens.
type Gate struct {
	cfg      Config
	keys     KeySource
	denylist Denylist
	now      func() time.Time
	log      zerolog.Logger
}

type Option func(*Gate)

func WithDenylist(d Denylist) Option { return func(g *Gate) { g.denylist = d } }

// WithClock replaces time.Now for the expiry check.
func WithClock(now func() time.Time) Option { return func(g *Gate) { g.now = now } }

func WithLogger(log zerolog.Logger) Option { return func(g *Gate) { g.log = log } }

func NewGate(cfg Config, keys KeySource, opts ...Option) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultJWKSTimeout
	}
	g := &Gate{
		cfg:      cfg,
		keys:     keys,
		denylist: NopDenylist{},
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize validates the Authorization header value.
func (g *Gate) Authorize(ctx context.Context, header string) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error().Interface("panic", r).Msg("authorizer panicked")
			d = deny(ErrAuthServiceUnavailable)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	token := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), "Bearer "))
	if token == "" {
		return deny(ErrMissingToken)
	}

	revoked, err := g.denylist.IsRevoked(ctx, token)
	if err != nil {
		g.log.Error().Err(err).Msg("denylist lookup failed")
		return deny(ErrAuthServiceUnavailable)
	}
	if revoked {
		return deny(ErrTokenRevoked)
	}

	claims, err := g.verify(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrAuthInvalid) {
			g.log.Error().Err(err).Msg("token verification unavailable")
		}
		return deny(err)
	}

	return Decision{
		Allowed:     true,
		PrincipalID: claims.Subject,
		Claims:      claims,
		Policy:      NewAllowPolicy(g.cfg.Resources),
	}
}

func (g *Gate) verify(ctx context.Context, token string) (*Claims, error) {
	var keyErr error
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			var key *rsa.PublicKey
			key, keyErr = g.keys.Key(ctx, kid)
			if keyErr != nil {
				return nil, keyErr
			}
			return key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if keyErr != nil && !errors.Is(keyErr, ErrKeyNotFound) {
		return nil, ErrAuthServiceUnavailable
	}
	if err != nil {
		return nil, ErrInvalidSignature
	}

	if claims.ExpiresAt == nil || !g.now().Before(claims.ExpiresAt.Time) {
		return nil, ErrTokenExpired
	}
	if claims.Issuer != g.cfg.Issuer {
		return nil, ErrIssuerMismatch
	}
	if g.cfg.ClientID != "" {
		if claims.ClientID != "" && claims.ClientID != g.cfg.ClientID {
			return nil, ErrAudienceMismatch
		}
		if len(claims.Audience) > 0 && !slices.Contains(claims.Audience, g.cfg.ClientID) {
			return nil, ErrAudienceMismatch
		}
	}
	if claims.Subject == "" {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}

// Revoke puts token on the denylist for the rest of its lifetime. Tokens
// whose expiry cannot be read are kept for fallbackTTL.
func (g *Gate) Revoke(ctx context.Context, token string) error {
	const fallbackTTL = time.Hour

	ttl := fallbackTTL
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil && claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Time.Sub(g.now())
	}
	if ttl <= 0 {
		return nil
	}
	return g.denylist.Revoke(ctx, token, ttl)
}
