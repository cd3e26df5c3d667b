package records

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/calculator-engine/ledger"
)

// WithDefaultBalance sets the starting balance of newly registered users.
func WithDefaultBalance(d decimal.Decimal) Option {
	return func(s *Service) { s.defaultBalance = d }
}

// RegisterUser links an identity provider subject to a new ledger account.
func (s *Service) RegisterUser(ctx context.Context, username, externalID string) (ledger.User, error) {
	u, err := s.store.CreateUser(ctx, ledger.User{
		Username:   username,
		Status:     true,
		Balance:    s.defaultBalance,
		ExternalID: externalID,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		return ledger.User{}, err
	}
	s.log.Info().Int64("user_id", int64(u.ID)).Str("username", username).Msg("user registered")
	return u, nil
}

// UserByUsername returns the ledger account for a username.
func (s *Service) UserByUsername(ctx context.Context, username string) (ledger.User, error) {
	return s.store.GetUserByUsername(ctx, username)
}
