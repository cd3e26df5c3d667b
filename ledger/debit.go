/*
debit.go - Balance Ledger

PURPOSE:
  Charges an operation's cost against a user's balance. This is the one
  place balances change, and it only runs inside Store.WithTx so the debit
  and the Record insert commit or roll back together.

CRITICAL INVARIANTS:
  1. NON-NEGATIVE: a debit that would take the balance below zero is rejected
  2. SERIALIZED: the user row is locked for the rest of the transaction
  3. NO LOST UPDATES: the write is conditional on the version read under lock

CONCURRENCY:
  Two requests for the same user: the second LockUser blocks until the first
  transaction ends, then sees the already-debited balance. If a store cannot
  hold a row lock, the version check catches the race and the caller gets
  ErrConcurrentModification to retry.

SEE ALSO:
  - store.go: Tx contract
  - records/service.go: Calls Debit during record creation
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Debit subtracts op.Cost from the user's balance and returns the new balance.
func Debit(ctx context.Context, tx Tx, userID UserID, op Operation) (decimal.Decimal, error) {
	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}

	if user.Balance.LessThan(op.Cost) {
		return decimal.Zero, &InsufficientBalanceError{
			UserID:    user.ID,
			Available: user.Balance,
			Requested: op.Cost,
		}
	}

	user.Balance = user.Balance.Sub(op.Cost)
	if err := tx.UpdateBalance(ctx, user); err != nil {
		return decimal.Zero, err
	}
	return user.Balance, nil
}
