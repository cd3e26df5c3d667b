/*
service.go - Record Service

PURPOSE:
  The use cases behind the /v1/records routes: price and run an operation,
  charge the caller, and keep the history.

CREATE FLOW:
  1. Pricer:  operation id -> symbol + cost           (ErrOperationNotFound)
  2. Users:   principal -> ledger user                 (ErrUserNotFound)
  3. Engine:  num1, num2, symbol -> result text        (ErrDivisionByZero aborts)
  4. WithTx:  Debit + InsertRecord, all or nothing     (ErrInsufficientBalance)

  A result that reports invalid input in-band is still charged: the cost is
  for running the service, not for a useful answer. Non-arithmetic
  operations (random_string) record num1 as the response without touching
  the engine.

  A lost optimistic race (ErrConcurrentModification) reruns step 4 up to
  maxAttempts times.

OWNERSHIP:
  Get and Delete only see the caller's records. Someone else's id looks
  exactly like a missing one.

SEE ALSO:
  - ledger/debit.go: Balance check and debit
  - calculator/engine.go: Evaluate
*/
package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/calculator-engine/calculator"
	"github.com/warp/calculator-engine/ledger"
)

const maxAttempts = 3

// CreateInput is what a client submits to run an operation.
type CreateInput struct {
	OperationID ledger.OperationID
	Num1        string
	Num2        string
}

// ListQuery selects a page of the caller's history.
type ListQuery struct {
	Page          int
	PerPage       int
	OperationType string
}

// Page is one page of records and the size of the full result set.
type Page struct {
	Records []ledger.Record
	Total   int
}

// Service implements the record use cases.
type Service struct {
	store  ledger.Store
	pricer *ledger.Pricer
	now    func() time.Time
	log    zerolog.Logger

	defaultBalance decimal.Decimal
}

type Option func(*Service)

// WithClock replaces time.Now for record dates.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLogger(log zerolog.Logger) Option { return func(s *Service) { s.log = log } }

func NewService(store ledger.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		pricer: ledger.NewPricer(store),
		now:    time.Now,
		log:    zerolog.Nop(),

		defaultBalance: ledger.DefaultBalance,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Operations returns the catalog.
func (s *Service) Operations(ctx context.Context) ([]ledger.Operation, error) {
	return s.store.ListOperations(ctx)
}

// =============================================================================
// CREATE
// =============================================================================

func (s *Service) Create(ctx context.Context, principal string, in CreateInput) (ledger.Record, error) {
	op, err := s.pricer.Price(ctx, in.OperationID)
	if err != nil {
		return ledger.Record{}, err
	}

	user, err := s.store.GetUserByExternalID(ctx, principal)
	if err != nil {
		return ledger.Record{}, err
	}

	response := in.Num1
	if op.IsArithmetic {
		response, err = calculator.Evaluate(in.Num1, in.Num2, op.Symbol)
		if err != nil {
			return ledger.Record{}, err
		}
	}

	var rec ledger.Record
	for attempt := 1; ; attempt++ {
		rec, err = s.charge(ctx, user.ID, op, response)
		if err == nil || !ledger.IsRetryable(err) || attempt == maxAttempts {
			break
		}
		s.log.Warn().Err(err).Int("attempt", attempt).Int64("user_id", int64(user.ID)).Msg("retrying debit")
	}
	if err != nil {
		return ledger.Record{}, err
	}

	s.log.Info().
		Int64("record_id", int64(rec.ID)).
		Int64("user_id", int64(user.ID)).
		Str("operation", op.Type).
		Str("amount", ledger.FormatMoney(rec.Amount)).
		Str("user_balance", ledger.FormatMoney(rec.UserBalance)).
		Msg("record created")
	return rec, nil
}

func (s *Service) charge(ctx context.Context, userID ledger.UserID, op ledger.Operation, response string) (ledger.Record, error) {
	var rec ledger.Record
	err := s.store.WithTx(ctx, func(tx ledger.Tx) error {
		balance, err := ledger.Debit(ctx, tx, userID, op)
		if err != nil {
			return err
		}
		rec, err = tx.InsertRecord(ctx, ledger.Record{
			UserID:            userID,
			OperationID:       op.ID,
			Amount:            op.Cost,
			UserBalance:       balance,
			OperationResponse: response,
			Date:              s.now().UTC(),
			Active:            true,
		})
		return err
	})
	return rec, err
}

// =============================================================================
// READ
// =============================================================================

// List returns the caller's active records. Page and PerPage must be positive.
func (s *Service) List(ctx context.Context, principal string, q ListQuery) (Page, error) {
	filter := ledger.RecordFilter{
		ExternalID:    principal,
		OperationType: q.OperationType,
		Page:          q.Page,
		PerPage:       q.PerPage,
	}
	if err := filter.Validate(); err != nil {
		return Page{}, err
	}

	recs, total, err := s.store.ListRecords(ctx, filter)
	if err != nil {
		return Page{}, fmt.Errorf("listing records: %w", err)
	}
	return Page{Records: recs, Total: total}, nil
}

// Get returns one of the caller's records, active or not.
func (s *Service) Get(ctx context.Context, principal string, id ledger.RecordID) (ledger.Record, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return ledger.Record{}, err
	}
	if rec.User == nil || rec.User.ExternalID != principal {
		return ledger.Record{}, ledger.ErrRecordNotFound
	}
	return rec, nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete soft-deletes one of the caller's records. Deleting an already
// inactive record succeeds.
func (s *Service) Delete(ctx context.Context, principal string, id ledger.RecordID) error {
	if _, err := s.Get(ctx, principal, id); err != nil {
		return err
	}
	if err := s.store.DeactivateRecord(ctx, id); err != nil {
		if errors.Is(err, ledger.ErrRecordNotFound) {
			return err
		}
		return fmt.Errorf("deleting record %d: %w", id, err)
	}
	s.log.Info().Int64("record_id", int64(id)).Msg("record deactivated")
	return nil
}
