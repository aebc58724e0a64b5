// Package coordinator serialises deposits and withdrawals against the share
// ledger and the external lending venue. Every mutating operation runs inside
// a single mutual-exclusion domain together with the venue balance reads it
// depends on, so a deposit and a withdrawal can never observe a half-updated
// balance.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"sharepool/native/pool"
	"sharepool/observability"
	"sharepool/venue"
)

const defaultVenueTimeout = 10 * time.Second

// Store persists ledger snapshots after each completed mutation.
type Store interface {
	SaveSnapshot(snap *pool.Snapshot) error
}

// AuditEntry describes one operation attempt for the audit trail. Amount
// fields are decimal strings; empty fields were not applicable.
type AuditEntry struct {
	Operation     string
	Account       string
	Amount        string
	Shares        string
	BalanceBefore string
	BalanceAfter  string
	Failure       string
}

// AuditRecorder receives an entry for every operation attempt, successful or
// not. Recording happens outside the mutual-exclusion domain but still on
// the request path, so it should bound its own latency.
type AuditRecorder interface {
	RecordOperation(ctx context.Context, entry AuditEntry)
}

// Config carries the coordinator knobs.
type Config struct {
	// VenueTimeout bounds every venue round-trip. Zero selects the default.
	VenueTimeout time.Duration
}

// Coordinator glues the share ledger to the venue transfer primitives.
type Coordinator struct {
	mu      sync.Mutex
	ledger  *pool.Ledger
	venue   venue.Venue
	store   Store
	audit   AuditRecorder
	logger  *slog.Logger
	metrics *observability.PoolOperationMetrics
	timeout time.Duration
}

// DepositReceipt reports the outcome of a completed deposit.
type DepositReceipt struct {
	Account       string
	SharesMinted  *big.Int
	BalanceBefore *big.Int
	BalanceAfter  *big.Int
}

// WithdrawReceipt reports the outcome of a completed withdrawal. Released is
// the amount the venue actually delivered, which the venue may round below
// the requested amount.
type WithdrawReceipt struct {
	Account      string
	SharesBurned *big.Int
	Released     *big.Int
}

// New constructs a coordinator over the given ledger and venue. The store and
// audit recorder are optional; a nil logger falls back to the default.
func New(ledger *pool.Ledger, v venue.Venue, store Store, audit AuditRecorder, logger *slog.Logger, cfg Config) (*Coordinator, error) {
	if ledger == nil {
		return nil, fmt.Errorf("coordinator: ledger required")
	}
	if v == nil {
		return nil, fmt.Errorf("coordinator: venue required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.VenueTimeout
	if timeout <= 0 {
		timeout = defaultVenueTimeout
	}
	return &Coordinator{
		ledger:  ledger,
		venue:   v,
		store:   store,
		audit:   audit,
		logger:  logger,
		metrics: observability.PoolMetrics(),
		timeout: timeout,
	}, nil
}

// Deposit supplies amount of underlying from the account's venue wallet into
// the pool and mints shares for the balance delta actually received. The
// ledger is only mutated once both transfers and balance reads succeeded, so
// a venue failure leaves no partial state behind.
func (c *Coordinator) Deposit(ctx context.Context, account string, amount *big.Int) (*DepositReceipt, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, pool.ErrEmptyAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, pool.ErrZeroAmount
	}

	start := time.Now()
	entry := AuditEntry{Operation: "deposit", Account: account, Amount: amount.String()}

	c.mu.Lock()
	receipt, err := c.depositLocked(ctx, account, amount, &entry)
	c.mu.Unlock()

	c.finish(ctx, "deposit", entry, err, start)
	return receipt, err
}

func (c *Coordinator) depositLocked(ctx context.Context, account string, amount *big.Int, entry *AuditEntry) (*DepositReceipt, error) {
	before, err := c.balanceHeld(ctx)
	if err != nil {
		return nil, fmt.Errorf("read pool balance: %w", err)
	}
	entry.BalanceBefore = before.String()

	if err := c.venueCall(ctx, func(ctx context.Context) error {
		return c.venue.Supply(ctx, account, amount)
	}); err != nil {
		return nil, fmt.Errorf("supply to venue: %w", err)
	}

	after, err := c.balanceHeld(ctx)
	if err != nil {
		// The supply completed but the accounting could not: no shares were
		// minted, and the unminted delta folds into the pool balance for
		// existing holders on the next operation. The audit row records the
		// pre-supply balance and the failure so operators can reconcile the
		// stranded amount.
		return nil, fmt.Errorf("read pool balance after supply: %w", err)
	}
	entry.BalanceAfter = after.String()

	minted, err := c.ledger.Mint(account, amount, before, after)
	if err != nil {
		return nil, err
	}
	entry.Shares = minted.String()

	c.persist()

	return &DepositReceipt{
		Account:       account,
		SharesMinted:  minted,
		BalanceBefore: before,
		BalanceAfter:  after,
	}, nil
}

// Withdraw burns shares from the holder and releases the corresponding
// underlying from the venue. A failed venue payout rolls the ledger back to
// its pre-operation state.
func (c *Coordinator) Withdraw(ctx context.Context, account string, shares *big.Int) (*WithdrawReceipt, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, pool.ErrEmptyAccount
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, pool.ErrZeroAmount
	}

	start := time.Now()
	entry := AuditEntry{Operation: "withdraw", Account: account, Shares: shares.String()}

	c.mu.Lock()
	receipt, err := c.withdrawLocked(ctx, account, func(balance *big.Int) (*big.Int, *big.Int, error) {
		amount, err := c.ledger.Burn(account, shares, balance)
		return amount, shares, err
	}, &entry)
	c.mu.Unlock()

	c.finish(ctx, "withdraw", entry, err, start)
	return receipt, err
}

// WithdrawAll burns the holder's entire share balance, leaving the account at
// exactly zero.
func (c *Coordinator) WithdrawAll(ctx context.Context, account string) (*WithdrawReceipt, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, pool.ErrEmptyAccount
	}

	start := time.Now()
	entry := AuditEntry{Operation: "withdraw_all", Account: account}

	c.mu.Lock()
	receipt, err := c.withdrawLocked(ctx, account, func(balance *big.Int) (*big.Int, *big.Int, error) {
		return c.ledger.BurnAll(account, balance)
	}, &entry)
	c.mu.Unlock()

	c.finish(ctx, "withdraw_all", entry, err, start)
	return receipt, err
}

func (c *Coordinator) withdrawLocked(ctx context.Context, account string, burn func(balance *big.Int) (*big.Int, *big.Int, error), entry *AuditEntry) (*WithdrawReceipt, error) {
	snap := c.ledger.Snapshot()

	balance, err := c.balanceHeld(ctx)
	if err != nil {
		return nil, fmt.Errorf("read pool balance: %w", err)
	}
	entry.BalanceBefore = balance.String()

	amount, burned, err := burn(balance)
	if err != nil {
		return nil, err
	}
	entry.Shares = burned.String()
	entry.Amount = amount.String()

	var released *big.Int
	if err := c.venueCall(ctx, func(ctx context.Context) error {
		var callErr error
		released, callErr = c.venue.Withdraw(ctx, account, amount)
		return callErr
	}); err != nil {
		if restoreErr := c.ledger.Restore(snap); restoreErr != nil {
			c.logger.Error("ledger rollback failed after venue error",
				"account", account, "error", restoreErr)
		}
		return nil, fmt.Errorf("withdraw from venue: %w", err)
	}

	c.persist()

	return &WithdrawReceipt{
		Account:      account,
		SharesBurned: burned,
		Released:     released,
	}, nil
}

// ShareOf reports the holder's current share balance.
func (c *Coordinator) ShareOf(account string) *big.Int {
	return c.ledger.ShareOf(account)
}

// ValueOfShares converts a share amount into underlying units at the current
// venue balance.
func (c *Coordinator) ValueOfShares(ctx context.Context, shares *big.Int) (*big.Int, error) {
	balance, err := c.balanceHeld(ctx)
	if err != nil {
		return nil, fmt.Errorf("read pool balance: %w", err)
	}
	return c.ledger.ValueOfShares(shares, balance)
}

// Stats reports the pool-wide totals.
func (c *Coordinator) Stats(ctx context.Context) (totalShares, underlying *big.Int, err error) {
	underlying, err = c.balanceHeld(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read pool balance: %w", err)
	}
	return c.ledger.TotalShares(), underlying, nil
}

func (c *Coordinator) balanceHeld(ctx context.Context) (*big.Int, error) {
	var balance *big.Int
	err := c.venueCall(ctx, func(ctx context.Context) error {
		var callErr error
		balance, callErr = c.venue.BalanceHeld(ctx)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if balance == nil || balance.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid balance", venue.ErrUnavailable)
	}
	return balance, nil
}

func (c *Coordinator) venueCall(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return fn(callCtx)
}

// persist writes the current ledger snapshot. The share mutation already
// committed against a completed venue transfer, so a write failure is
// reported for operators rather than rolled back; the next successful
// operation rewrites the full snapshot.
func (c *Coordinator) persist() {
	if c.store == nil {
		return
	}
	if err := c.store.SaveSnapshot(c.ledger.Snapshot()); err != nil {
		c.metrics.PersistFailure()
		c.logger.Error("ledger snapshot write failed", "error", err)
	}
}

// finish runs after the mutex is released so a slow audit write never
// stalls the next operation.
func (c *Coordinator) finish(ctx context.Context, operation string, entry AuditEntry, err error, start time.Time) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		entry.Failure = err.Error()
	}
	c.metrics.Observe(operation, outcome, time.Since(start))
	if c.audit != nil {
		c.audit.RecordOperation(ctx, entry)
	}
}
