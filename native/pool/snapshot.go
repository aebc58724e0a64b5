package pool

import (
	"fmt"
	"math/big"
	"sort"
)

// Snapshot is a serialisable copy of the ledger state. Amounts are encoded as
// decimal strings so the snapshot survives JSON round-trips without precision
// loss.
type Snapshot struct {
	TotalShares string            `json:"totalShares"`
	Balances    map[string]string `json:"balances,omitempty"`
}

// Snapshot copies the current ledger state. The copy is detached; later
// mutations do not affect it.
func (l *Ledger) Snapshot() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := &Snapshot{
		TotalShares: l.totalShares.String(),
		Balances:    make(map[string]string, len(l.balances)),
	}
	for account, held := range l.balances {
		if held == nil || held.Sign() == 0 {
			continue
		}
		snap.Balances[account] = held.String()
	}
	return snap
}

// Restore replaces the ledger state with the snapshot after validating the
// proportionality invariant: every balance non-negative and the balances
// summing to the recorded total shares.
func (l *Ledger) Restore(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("pool ledger: nil snapshot")
	}
	total, ok := new(big.Int).SetString(snap.TotalShares, 10)
	if !ok || total.Sign() < 0 {
		return fmt.Errorf("pool ledger: invalid total shares %q", snap.TotalShares)
	}

	balances := make(map[string]*big.Int, len(snap.Balances))
	sum := big.NewInt(0)
	for account, raw := range snap.Balances {
		held, ok := new(big.Int).SetString(raw, 10)
		if !ok || held.Sign() < 0 {
			return fmt.Errorf("pool ledger: invalid share balance %q for account %s", raw, account)
		}
		if held.Sign() == 0 {
			continue
		}
		balances[account] = held
		sum.Add(sum, held)
	}
	if sum.Cmp(total) != 0 {
		return fmt.Errorf("pool ledger: snapshot balances sum to %s, total shares %s", sum, total)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalShares = total
	l.balances = balances
	return nil
}

// Accounts lists the accounts with a nonzero share balance in lexical order.
func (l *Ledger) Accounts() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	accounts := make([]string, 0, len(l.balances))
	for account := range l.balances {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	return accounts
}
