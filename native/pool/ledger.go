package pool

import (
	"errors"
	"math/big"
	"strings"
	"sync"
)

var (
	ErrZeroAmount         = errors.New("pool ledger: amount must be positive")
	ErrNoPosition         = errors.New("pool ledger: account holds no shares")
	ErrInsufficientShares = errors.New("pool ledger: share balance below requested burn")
	ErrDrainedPool        = errors.New("pool ledger: shares outstanding against a zero pool balance")
	ErrBalanceRegression  = errors.New("pool ledger: pool balance decreased across a deposit transfer")
	ErrValueOutOfRange    = errors.New("pool ledger: negative or missing value")
	ErrEmptyAccount       = errors.New("pool ledger: account identifier required")
)

// Ledger tracks total shares outstanding and the per-account share balances
// that represent proportional claims on the pooled underlying balance. Share
// amounts are big integers to match venue-side precision.
//
// The ledger never observes the underlying balance itself; callers read it
// from the venue and pass the snapshot into every conversion so the value is
// always fresh. Conversions truncate toward zero, which rounds fractions of a
// unit in favour of the pool on every burn.
type Ledger struct {
	mu          sync.RWMutex
	totalShares *big.Int
	balances    map[string]*big.Int
}

// NewLedger constructs an empty ledger with zero shares outstanding.
func NewLedger() *Ledger {
	return &Ledger{
		totalShares: big.NewInt(0),
		balances:    make(map[string]*big.Int),
	}
}

// Mint issues shares to the depositor for the underlying delta received by
// the pool. The first deposit seeds the exchange rate at 1:1 with the actual
// balance delta, which may differ from the nominal deposit amount when the
// venue applies fees or rounding. Subsequent deposits grow total shares so
// that existing holders' per-share value is unchanged:
//
//	totalSharesAfter = totalShares * balanceAfter / balanceBefore
//
// with truncating division. The issued amount is returned; no state is
// mutated when any precondition fails.
func (l *Ledger) Mint(depositor string, depositAmount, balanceBefore, balanceAfter *big.Int) (*big.Int, error) {
	depositor = strings.TrimSpace(depositor)
	if depositor == "" {
		return nil, ErrEmptyAccount
	}
	if depositAmount == nil || depositAmount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if balanceBefore == nil || balanceBefore.Sign() < 0 || balanceAfter == nil || balanceAfter.Sign() < 0 {
		return nil, ErrValueOutOfRange
	}
	if balanceAfter.Cmp(balanceBefore) < 0 {
		return nil, ErrBalanceRegression
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	issued, err := sharesForDeposit(l.totalShares, balanceBefore, balanceAfter)
	if err != nil {
		return nil, err
	}
	if issued.Sign() > 0 {
		current := l.balances[depositor]
		if current == nil {
			current = big.NewInt(0)
		}
		l.balances[depositor] = new(big.Int).Add(current, issued)
		l.totalShares = new(big.Int).Add(l.totalShares, issued)
	}
	return issued, nil
}

// Burn debits sharesToBurn from the holder and returns the underlying amount
// the caller should release, computed against the supplied pool balance with
// the same truncating rule as ValueOfShares. Preconditions are checked before
// any mutation; a failed burn leaves the ledger untouched.
func (l *Ledger) Burn(holder string, sharesToBurn, poolBalance *big.Int) (*big.Int, error) {
	holder = strings.TrimSpace(holder)
	if holder == "" {
		return nil, ErrEmptyAccount
	}
	if sharesToBurn == nil || sharesToBurn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if poolBalance == nil || poolBalance.Sign() < 0 {
		return nil, ErrValueOutOfRange
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.burnLocked(holder, sharesToBurn, poolBalance)
}

// BurnAll burns the holder's entire share balance, leaving the account at
// exactly zero. It returns the amount to release and the shares burned.
func (l *Ledger) BurnAll(holder string, poolBalance *big.Int) (*big.Int, *big.Int, error) {
	holder = strings.TrimSpace(holder)
	if holder == "" {
		return nil, nil, ErrEmptyAccount
	}
	if poolBalance == nil || poolBalance.Sign() < 0 {
		return nil, nil, ErrValueOutOfRange
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	held := l.balances[holder]
	if held == nil || held.Sign() == 0 {
		return nil, nil, ErrNoPosition
	}
	burned := new(big.Int).Set(held)
	amount, err := l.burnLocked(holder, burned, poolBalance)
	if err != nil {
		return nil, nil, err
	}
	return amount, burned, nil
}

func (l *Ledger) burnLocked(holder string, sharesToBurn, poolBalance *big.Int) (*big.Int, error) {
	held := l.balances[holder]
	if held == nil || held.Sign() == 0 {
		return nil, ErrNoPosition
	}
	if held.Cmp(sharesToBurn) < 0 {
		return nil, ErrInsufficientShares
	}

	amount := amountForShares(poolBalance, sharesToBurn, l.totalShares)

	remaining := new(big.Int).Sub(held, sharesToBurn)
	total := new(big.Int).Sub(l.totalShares, sharesToBurn)
	if remaining.Sign() < 0 || total.Sign() < 0 {
		return nil, ErrValueOutOfRange
	}
	if remaining.Sign() == 0 {
		delete(l.balances, holder)
	} else {
		l.balances[holder] = remaining
	}
	l.totalShares = total
	return amount, nil
}

// ShareOf reports the holder's current share balance; unknown accounts hold
// zero shares.
func (l *Ledger) ShareOf(account string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	held := l.balances[strings.TrimSpace(account)]
	if held == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(held)
}

// TotalShares reports the shares outstanding across all accounts.
func (l *Ledger) TotalShares() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.totalShares)
}

// ValueOfShares converts a share amount into underlying units against the
// supplied pool balance. The result is zero while no shares are outstanding
// and truncates toward zero otherwise, matching Burn.
func (l *Ledger) ValueOfShares(shares, poolBalance *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() < 0 {
		return nil, ErrValueOutOfRange
	}
	if poolBalance == nil || poolBalance.Sign() < 0 {
		return nil, ErrValueOutOfRange
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.totalShares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return amountForShares(poolBalance, shares, l.totalShares), nil
}
