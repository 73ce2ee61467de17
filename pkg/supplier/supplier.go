// Package supplier defines the contract a remote update source must meet to
// feed a Source (pkg/source), plus a retry policy (Fetcher) that wraps any
// Supplier with backoff, non-recoverable error short-circuiting, and
// rate-limit handling.
package supplier

import (
	"context"

	"github.com/armadaproject/botrunner/pkg/update"
)

// Supplier pulls the next batch of updates starting at offset, requesting
// at most batchSize of them. Implementations must clamp batchSize into
// [1, 100] themselves and return 0..batchSize updates. ctx carries the
// Source's abort signal: Supply must return promptly once ctx is done,
// with ctx.Err() or a *runnererrors.ErrAborted.
type Supplier interface {
	Supply(ctx context.Context, offset int64, batchSize int) (update.Batch, error)
}

// SupplierFunc adapts a plain function to a Supplier.
type SupplierFunc func(ctx context.Context, offset int64, batchSize int) (update.Batch, error)

func (f SupplierFunc) Supply(ctx context.Context, offset int64, batchSize int) (update.Batch, error) {
	return f(ctx, offset, batchSize)
}

func clampBatchSize(n int) int {
	if n < 1 {
		return 1
	}
	if n > 100 {
		return 100
	}
	return n
}
