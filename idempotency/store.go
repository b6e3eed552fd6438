package idempotency

import (
	"context"

	"github.com/lojacheckout/paylink"
)

// Store is a replay guard backend. Implementations must be safe for
// concurrent use, and IsDuplicate must check and mark in one atomic step:
// of N concurrent calls for the same id, exactly one sees false.
type Store interface {
	paylink.ReplayGuard

	// Reset drops every mark and counter. Meant for tests and support tooling.
	Reset(ctx context.Context) error
}
