/*
Package identity wraps the external identity provider used for signup,
confirmation, signin and signout.

PURPOSE:
  The calculator never stores passwords itself. Accounts live in the
  identity provider; the ledger only keeps the provider's subject id
  (User.ExternalID) next to the balance.

IMPLEMENTATIONS:
  Cognito: AWS Cognito user pool, USER_PASSWORD_AUTH flow
  Local:   in-process provider for development and tests; also publishes the
           RSA key its tokens are signed with, so it can back auth.Gate

ERRORS:
  Provider-specific failures are translated to the sentinels below so the
  HTTP layer can choose messages without knowing which provider is active.
*/
package identity

import (
	"context"
	"errors"
	"time"
)

// Provider is the identity provider contract.
type Provider interface {
	SignUp(ctx context.Context, username, password string) (SignUpResult, error)
	Confirm(ctx context.Context, username, code string) error
	SignIn(ctx context.Context, username, password string) (Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// SignUpResult is returned by a successful signup.
type SignUpResult struct {
	UserSub       string `json:"UserSub"`
	UserConfirmed bool   `json:"UserConfirmed"`
}

// Session holds the tokens issued at signin.
type Session struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresIn    time.Duration
}

var (
	ErrUsernameExists   = errors.New("username already exists")
	ErrNotAuthorized    = errors.New("incorrect username or password")
	ErrUserNotConfirmed = errors.New("user is not confirmed")
	ErrUserNotFound     = errors.New("user not found")
	ErrCodeMismatch     = errors.New("invalid confirmation code")
	ErrAlreadyConfirmed = errors.New("user is already confirmed")
	ErrInvalidInput     = errors.New("invalid username or password format")
)
