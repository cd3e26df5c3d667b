package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/calculator-engine/calculator"
	"github.com/warp/calculator-engine/ledger"
)

// ErrUnsupportedOperation marks an arithmetic catalog entry whose symbol the
// engine has no handler for. Seeding it would charge users for a result that
// is always an in-band error.
var ErrUnsupportedOperation = errors.New("operation symbol has no handler")

// CheckCatalog rejects arithmetic operations the engine cannot run.
func CheckCatalog(ops []ledger.Operation) error {
	for _, op := range ops {
		if op.IsArithmetic && !calculator.Supported(op.Symbol) {
			return fmt.Errorf("%w: %s %q", ErrUnsupportedOperation, op.Type, op.Symbol)
		}
	}
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ready reports whether the store can serve requests. Stores that cannot be
// pinged are always ready.
func (s *Service) Ready(ctx context.Context) error {
	p, ok := s.store.(pinger)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}
