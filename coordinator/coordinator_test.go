package coordinator

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sharepool/native/pool"
	"sharepool/venue"
)

// fakeVenue is an in-memory venue with controllable failures. Supply and
// Withdraw move the pooled balance; tests mutate balance directly to simulate
// out-of-band yield accrual.
type fakeVenue struct {
	mu          sync.Mutex
	balance     *big.Int
	supplySkim  *big.Int
	supplyErr   error
	withdrawErr error
	balanceErr  error
	balanceOK   int
	delay       time.Duration
}

func newFakeVenue(initial int64) *fakeVenue {
	return &fakeVenue{balance: big.NewInt(initial)}
}

func (f *fakeVenue) wait(ctx context.Context) error {
	if f.delay <= 0 {
		return nil
	}
	select {
	case <-time.After(f.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeVenue) BalanceHeld(ctx context.Context) (*big.Int, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		if f.balanceOK <= 0 {
			return nil, f.balanceErr
		}
		f.balanceOK--
	}
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeVenue) Supply(ctx context.Context, account string, amount *big.Int) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.supplyErr != nil {
		return f.supplyErr
	}
	received := new(big.Int).Set(amount)
	if f.supplySkim != nil {
		received.Sub(received, f.supplySkim)
	}
	f.balance.Add(f.balance, received)
	return nil
}

func (f *fakeVenue) Withdraw(ctx context.Context, account string, amount *big.Int) (*big.Int, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.withdrawErr != nil {
		return nil, f.withdrawErr
	}
	f.balance.Sub(f.balance, amount)
	return new(big.Int).Set(amount), nil
}

func (f *fakeVenue) accrue(amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance.Add(f.balance, big.NewInt(amount))
}

type fakeStore struct {
	mu   sync.Mutex
	last *pool.Snapshot
	err  error
}

func (s *fakeStore) SaveSnapshot(snap *pool.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.last = snap
	return nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (r *fakeRecorder) RecordOperation(_ context.Context, entry AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *fakeRecorder) lastEntry(t *testing.T) AuditEntry {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.entries)
	return r.entries[len(r.entries)-1]
}

// blockingRecorder stalls its first write until the gate closes, so tests
// can hold an audit write open while issuing further operations.
type blockingRecorder struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	gate    chan struct{}
}

func (r *blockingRecorder) RecordOperation(_ context.Context, _ AuditEntry) {
	r.mu.Lock()
	r.calls++
	first := r.calls == 1
	r.mu.Unlock()
	if first {
		close(r.entered)
		<-r.gate
	}
}

func newTestCoordinator(t *testing.T, v venue.Venue, store Store, audit AuditRecorder) (*Coordinator, *pool.Ledger) {
	t.Helper()
	ledger := pool.NewLedger()
	c, err := New(ledger, v, store, audit, nil, Config{VenueTimeout: time.Second})
	require.NoError(t, err)
	return c, ledger
}

func TestDepositMintsSharesAndPersists(t *testing.T) {
	fv := newFakeVenue(0)
	store := &fakeStore{}
	recorder := &fakeRecorder{}
	c, ledger := newTestCoordinator(t, fv, store, recorder)

	receipt, err := c.Deposit(context.Background(), "alice", big.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, "1000", receipt.SharesMinted.String())
	require.Equal(t, "0", receipt.BalanceBefore.String())
	require.Equal(t, "1000", receipt.BalanceAfter.String())
	require.Equal(t, "1000", ledger.ShareOf("alice").String())

	require.NotNil(t, store.last)
	require.Equal(t, "1000", store.last.TotalShares)

	entry := recorder.lastEntry(t)
	require.Equal(t, "deposit", entry.Operation)
	require.Empty(t, entry.Failure)
	require.Equal(t, "1000", entry.Shares)
}

func TestDepositMintsForActualDeltaUnderVenueSkim(t *testing.T) {
	fv := newFakeVenue(0)
	fv.supplySkim = big.NewInt(3)
	c, ledger := newTestCoordinator(t, fv, nil, nil)

	receipt, err := c.Deposit(context.Background(), "alice", big.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, "997", receipt.SharesMinted.String())
	require.Equal(t, "997", ledger.TotalShares().String())
}

func TestDepositSupplyFailureLeavesLedgerUntouched(t *testing.T) {
	fv := newFakeVenue(500)
	fv.supplyErr = venue.ErrInsufficientFunds
	recorder := &fakeRecorder{}
	c, ledger := newTestCoordinator(t, fv, nil, recorder)

	_, err := c.Deposit(context.Background(), "alice", big.NewInt(1000))
	require.ErrorIs(t, err, venue.ErrInsufficientFunds)
	require.Equal(t, "0", ledger.TotalShares().String())

	entry := recorder.lastEntry(t)
	require.Equal(t, "deposit", entry.Operation)
	require.NotEmpty(t, entry.Failure)
}

func TestDepositBalanceReadFailureAfterSupplyMintsNothing(t *testing.T) {
	fv := newFakeVenue(0)
	c, ledger := newTestCoordinator(t, fv, nil, nil)

	_, err := c.Deposit(context.Background(), "alice", big.NewInt(100))
	require.NoError(t, err)

	// The pre-supply read succeeds, the post-supply read fails.
	fv.mu.Lock()
	fv.balanceErr = venue.ErrUnavailable
	fv.balanceOK = 1
	fv.mu.Unlock()
	_, err = c.Deposit(context.Background(), "bob", big.NewInt(100))
	require.ErrorIs(t, err, venue.ErrUnavailable)
	require.Equal(t, "100", ledger.TotalShares().String())
	require.Equal(t, "0", ledger.ShareOf("bob").String())
}

func TestWithdrawRollsBackOnVenueFailure(t *testing.T) {
	fv := newFakeVenue(0)
	c, ledger := newTestCoordinator(t, fv, nil, nil)

	_, err := c.Deposit(context.Background(), "alice", big.NewInt(1000))
	require.NoError(t, err)

	fv.mu.Lock()
	fv.withdrawErr = venue.ErrUnavailable
	fv.mu.Unlock()

	_, err = c.Withdraw(context.Background(), "alice", big.NewInt(400))
	require.ErrorIs(t, err, venue.ErrUnavailable)
	require.Equal(t, "1000", ledger.ShareOf("alice").String())
	require.Equal(t, "1000", ledger.TotalShares().String())
}

func TestWithdrawAllAfterYieldAccrual(t *testing.T) {
	fv := newFakeVenue(0)
	c, ledger := newTestCoordinator(t, fv, nil, nil)

	_, err := c.Deposit(context.Background(), "alice", big.NewInt(1000))
	require.NoError(t, err)
	_, err = c.Deposit(context.Background(), "bob", big.NewInt(1000))
	require.NoError(t, err)

	fv.accrue(200)

	receipt, err := c.WithdrawAll(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, "1000", receipt.SharesBurned.String())
	require.Equal(t, "1100", receipt.Released.String())
	require.Equal(t, "0", ledger.ShareOf("alice").String())

	bobValue, err := c.ValueOfShares(context.Background(), ledger.ShareOf("bob"))
	require.NoError(t, err)
	require.Equal(t, "1100", bobValue.String())
}

func TestWithdrawRejectsOverdraw(t *testing.T) {
	fv := newFakeVenue(0)
	c, ledger := newTestCoordinator(t, fv, nil, nil)

	_, err := c.Deposit(context.Background(), "alice", big.NewInt(1000))
	require.NoError(t, err)

	_, err = c.Withdraw(context.Background(), "alice", big.NewInt(1001))
	require.ErrorIs(t, err, pool.ErrInsufficientShares)
	require.Equal(t, "1000", ledger.ShareOf("alice").String())
}

func TestVenueTimeoutSurfacesAsRetryable(t *testing.T) {
	fv := newFakeVenue(0)
	fv.delay = 200 * time.Millisecond
	ledger := pool.NewLedger()
	c, err := New(ledger, fv, nil, nil, nil, Config{VenueTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.Deposit(context.Background(), "alice", big.NewInt(100))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, "0", ledger.TotalShares().String())
}

func TestSlowAuditWriteDoesNotStallOperations(t *testing.T) {
	fv := newFakeVenue(0)
	rec := &blockingRecorder{entered: make(chan struct{}), gate: make(chan struct{})}
	c, _ := newTestCoordinator(t, fv, nil, rec)

	firstDone := make(chan struct{})
	go func() {
		_, _ = c.Deposit(context.Background(), "alice", big.NewInt(100))
		close(firstDone)
	}()
	<-rec.entered

	// The first deposit is stuck in its audit write; a second deposit must
	// still get through the mutual-exclusion domain.
	secondDone := make(chan error, 1)
	go func() {
		_, err := c.Deposit(context.Background(), "bob", big.NewInt(100))
		secondDone <- err
	}()
	select {
	case err := <-secondDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("deposit stalled behind an in-flight audit write")
	}

	close(rec.gate)
	<-firstDone
}

func TestStatsReportsTotals(t *testing.T) {
	fv := newFakeVenue(0)
	c, _ := newTestCoordinator(t, fv, nil, nil)

	_, err := c.Deposit(context.Background(), "alice", big.NewInt(750))
	require.NoError(t, err)
	fv.accrue(50)

	totalShares, underlying, err := c.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, "750", totalShares.String())
	require.Equal(t, "800", underlying.String())
}
