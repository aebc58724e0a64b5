// Package venue defines the external lending venue the pool deposits into.
// The venue holds the pooled underlying balance, accrues yield on it
// out-of-band, and executes the transfers surrounding every mint and burn.
package venue

import (
	"context"
	"errors"
	"math/big"
)

var (
	// ErrInsufficientFunds indicates the depositor's spendable balance at the
	// venue is below the requested transfer.
	ErrInsufficientFunds = errors.New("venue: insufficient funds for transfer")
	// ErrUnavailable indicates the venue could not be reached or timed out;
	// callers may retry.
	ErrUnavailable = errors.New("venue: unavailable")
)

// Venue is the minimal collaborator surface the coordinator depends on. All
// calls block until the venue responds; callers bound them with a context
// deadline.
type Venue interface {
	// BalanceHeld reports the total underlying-asset balance the pool
	// currently controls at the venue, including accrued yield.
	BalanceHeld(ctx context.Context) (*big.Int, error)
	// Supply transfers amount of underlying from the account's wallet into
	// the pooled position.
	Supply(ctx context.Context, account string, amount *big.Int) error
	// Withdraw releases amount of underlying from the pooled position to the
	// account's wallet and reports the amount actually released, which may
	// differ from the request when the venue applies exit rounding.
	Withdraw(ctx context.Context, account string, amount *big.Int) (*big.Int, error)
}
