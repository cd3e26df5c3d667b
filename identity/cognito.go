package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
)

// cognitoAPI is the part of the Cognito client the adapter calls.
type cognitoAPI interface {
	SignUp(ctx context.Context, in *cip.SignUpInput, optFns ...func(*cip.Options)) (*cip.SignUpOutput, error)
	ConfirmSignUp(ctx context.Context, in *cip.ConfirmSignUpInput, optFns ...func(*cip.Options)) (*cip.ConfirmSignUpOutput, error)
	InitiateAuth(ctx context.Context, in *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	GlobalSignOut(ctx context.Context, in *cip.GlobalSignOutInput, optFns ...func(*cip.Options)) (*cip.GlobalSignOutOutput, error)
}

// DefaultTimeout bounds each call to the identity provider.
const DefaultTimeout = 5 * time.Second

// Cognito is a Provider backed by an AWS Cognito user pool app client.
type Cognito struct {
	client   cognitoAPI
	clientID string
	timeout  time.Duration
}

// NewCognito builds a client for region. The calls used here are public
// app-client operations, so no AWS credentials are attached. Every call,
// retries included, gives up after timeout; zero uses DefaultTimeout.
func NewCognito(ctx context.Context, region, clientID string, timeout time.Duration) (*Cognito, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
		awsconfig.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(timeout)),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return &Cognito{client: cip.NewFromConfig(cfg), clientID: clientID, timeout: timeout}, nil
}

// bound caps ctx at the call timeout. The HTTP client timeout covers one
// attempt; this covers the SDK's retries as well.
func (c *Cognito) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Cognito) SignUp(ctx context.Context, username, password string) (SignUpResult, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	out, err := c.client.SignUp(ctx, &cip.SignUpInput{
		ClientId: aws.String(c.clientID),
		Username: aws.String(username),
		Password: aws.String(password),
	})
	if err != nil {
		return SignUpResult{}, translateCognitoError(err)
	}
	return SignUpResult{
		UserSub:       aws.ToString(out.UserSub),
		UserConfirmed: out.UserConfirmed,
	}, nil
}

func (c *Cognito) Confirm(ctx context.Context, username, code string) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	_, err := c.client.ConfirmSignUp(ctx, &cip.ConfirmSignUpInput{
		ClientId:         aws.String(c.clientID),
		Username:         aws.String(username),
		ConfirmationCode: aws.String(code),
	})
	if err == nil {
		return nil
	}
	// Cognito answers NotAuthorized when confirming a confirmed user.
	var notAuthorized *types.NotAuthorizedException
	if errors.As(err, &notAuthorized) {
		return ErrAlreadyConfirmed
	}
	return translateCognitoError(err)
}

func (c *Cognito) SignIn(ctx context.Context, username, password string) (Session, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	out, err := c.client.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: types.AuthFlowTypeUserPasswordAuth,
		ClientId: aws.String(c.clientID),
		AuthParameters: map[string]string{
			"USERNAME": username,
			"PASSWORD": password,
		},
	})
	if err != nil {
		return Session{}, translateCognitoError(err)
	}
	res := out.AuthenticationResult
	if res == nil {
		return Session{}, fmt.Errorf("cognito returned challenge %q instead of tokens", out.ChallengeName)
	}
	return Session{
		AccessToken:  aws.ToString(res.AccessToken),
		IDToken:      aws.ToString(res.IdToken),
		RefreshToken: aws.ToString(res.RefreshToken),
		ExpiresIn:    time.Duration(res.ExpiresIn) * time.Second,
	}, nil
}

func (c *Cognito) SignOut(ctx context.Context, accessToken string) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	_, err := c.client.GlobalSignOut(ctx, &cip.GlobalSignOutInput{
		AccessToken: aws.String(accessToken),
	})
	if err != nil {
		return translateCognitoError(err)
	}
	return nil
}

func translateCognitoError(err error) error {
	var (
		exists        *types.UsernameExistsException
		notAuthorized *types.NotAuthorizedException
		notConfirmed  *types.UserNotConfirmedException
		notFound      *types.UserNotFoundException
		mismatch      *types.CodeMismatchException
		badPassword   *types.InvalidPasswordException
		badParam      *types.InvalidParameterException
	)
	switch {
	case errors.As(err, &exists):
		return ErrUsernameExists
	case errors.As(err, &notAuthorized):
		return ErrNotAuthorized
	case errors.As(err, &notConfirmed):
		return ErrUserNotConfirmed
	case errors.As(err, &notFound):
		return ErrUserNotFound
	case errors.As(err, &mismatch):
		return ErrCodeMismatch
	case errors.As(err, &badPassword), errors.As(err, &badParam):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	default:
		return fmt.Errorf("cognito: %w", err)
	}
}

var _ Provider = (*Cognito)(nil)
