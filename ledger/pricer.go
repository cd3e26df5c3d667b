package ledger

import "context"

// OperationReader is the slice of Store the pricer needs.
type OperationReader interface {
	GetOperation(ctx context.Context, id OperationID) (Operation, error)
}

// Pricer maps an operation id to its symbol and cost.
type Pricer struct {
	ops OperationReader
}

func NewPricer(ops OperationReader) *Pricer {
	return &Pricer{ops: ops}
}

// Price returns the operation or ErrOperationNotFound.
func (p *Pricer) Price(ctx context.Context, id OperationID) (Operation, error) {
	return p.ops.GetOperation(ctx, id)
}
