package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/calculator-engine/auth"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenTTL   = time.Hour
	minPasswordLength = 8
	localKeyID        = "local-1"
)

// LocalConfig configures the in-process provider.
type LocalConfig struct {
	Issuer      string
	ClientID    string
	TokenTTL    time.Duration
	AutoConfirm bool // skip the confirmation step
	BcryptCost  int  // zero means bcrypt.DefaultCost
}

type localUser struct {
	sub          string
	passwordHash []byte
	confirmed    bool
	code         string
}

// Local is an in-memory Provider that signs RS256 access tokens shaped like
// Cognito's. It also implements auth.KeySource for its own key.
type Local struct {
	cfg LocalConfig
	key *rsa.PrivateKey
	now func() time.Time
	log zerolog.Logger

	mu    sync.Mutex
	users map[string]*localUser
}

// NewLocal generates a fresh signing key.
func NewLocal(cfg LocalConfig, log zerolog.Logger) (*Local, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Local{
		cfg:   cfg,
		key:   key,
		now:   time.Now,
		log:   log,
		users: make(map[string]*localUser),
	}, nil
}

// Key implements auth.KeySource.
func (l *Local) Key(_ context.Context, kid string) (*rsa.PublicKey, error) {
	if kid != localKeyID {
		return nil, auth.ErrKeyNotFound
	}
	return &l.key.PublicKey, nil
}

func (l *Local) SignUp(_ context.Context, username, password string) (SignUpResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(password) < minPasswordLength {
		return SignUpResult{}, fmt.Errorf("%w: password must have at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), l.cfg.BcryptCost)
	if err != nil {
		return SignUpResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.users[username]; ok {
		return SignUpResult{}, ErrUsernameExists
	}

	u := &localUser{
		sub:          uuid.NewString(),
		passwordHash: hash,
		confirmed:    l.cfg.AutoConfirm,
	}
	if !u.confirmed {
		u.code, err = confirmationCode()
		if err != nil {
			return SignUpResult{}, err
		}
		l.log.Info().Str("username", username).Str("code", u.code).Msg("confirmation code issued")
	}
	l.users[username] = u

	return SignUpResult{UserSub: u.sub, UserConfirmed: u.confirmed}, nil
}

// PendingCode returns the confirmation code of an unconfirmed user.
func (l *Local) PendingCode(username string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[username]
	if !ok || u.confirmed {
		return "", false
	}
	return u.code, true
}

func (l *Local) Confirm(_ context.Context, username, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[username]
	switch {
	case !ok:
		return ErrUserNotFound
	case u.confirmed:
		return ErrAlreadyConfirmed
	case code != u.code:
		return ErrCodeMismatch
	}
	u.confirmed = true
	u.code = ""
	return nil
}

func (l *Local) SignIn(_ context.Context, username, password string) (Session, error) {
	l.mu.Lock()
	u, ok := l.users[username]
	l.mu.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) != nil {
		return Session{}, ErrNotAuthorized
	}
	if !u.confirmed {
		return Session{}, ErrUserNotConfirmed
	}

	token, err := l.issue(u.sub, username)
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: token, ExpiresIn: l.cfg.TokenTTL}, nil
}

// SignOut accepts any token this provider signed. Revocation itself is the
// gate's denylist.
func (l *Local) SignOut(ctx context.Context, accessToken string) error {
	_, err := jwt.ParseWithClaims(accessToken, &auth.Claims{},
		func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			return l.Key(ctx, kid)
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(l.now),
	)
	if err != nil {
		return ErrNotAuthorized
	}
	return nil
}

func (l *Local) issue(sub, username string) (string, error) {
	now := l.now()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    l.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(l.cfg.TokenTTL)),
			ID:        uuid.NewString(),
		},
		ClientID: l.cfg.ClientID,
		TokenUse: "access",
		Username: username,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = localKeyID
	signed, err := tok.SignedString(l.key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

func confirmationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generating confirmation code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

var (
	_ Provider       = (*Local)(nil)
	_ auth.KeySource = (*Local)(nil)
)
