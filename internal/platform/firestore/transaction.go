package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// Contention on a single order or counter document resolves within a few retries; a
// transaction that needs more is reported instead of retried further.
const (
	txMaxAttempts = 5
	txTimeout     = 10 * time.Second
)

// TxFunc is executed within a Firestore transaction. Firestore retries it on contention,
// so it must be free of side effects outside tx.
type TxFunc = func(ctx context.Context, tx *firestore.Transaction) error

// RunTransaction runs fn on client, bounded by txTimeout unless ctx ends sooner. Errors
// are classified under op.
func RunTransaction(ctx context.Context, client *firestore.Client, op string, fn TxFunc) error {
	switch {
	case client == nil:
		return WrapError(op, errors.New("firestore: client is nil"))
	case fn == nil:
		return WrapError(op, errors.New("firestore: transaction function is nil"))
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > txTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, txTimeout)
		defer cancel()
	}
	return WrapError(op, client.RunTransaction(ctx, fn, firestore.MaxAttempts(txMaxAttempts)))
}
