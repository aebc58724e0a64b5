package pool

import "math/big"

// sharesForDeposit computes the shares to issue for a deposit that moved the
// pool balance from before to after. With no shares outstanding the issuance
// equals the balance delta; otherwise total shares scale by after/before with
// truncating division so existing holders keep their per-share value. A zero
// prior balance with shares outstanding means underlying left the venue
// without a matching burn and must surface as an error, never a division by
// zero.
func sharesForDeposit(totalShares, before, after *big.Int) (*big.Int, error) {
	if totalShares.Sign() == 0 {
		return new(big.Int).Sub(after, before), nil
	}
	if before.Sign() == 0 {
		return nil, ErrDrainedPool
	}
	scaled := new(big.Int).Mul(totalShares, after)
	scaled.Quo(scaled, before)
	return scaled.Sub(scaled, totalShares), nil
}

// amountForShares converts shares into underlying units at the current pool
// balance, truncating toward zero. Callers must ensure totalShares is
// positive.
func amountForShares(poolBalance, shares, totalShares *big.Int) *big.Int {
	amount := new(big.Int).Mul(poolBalance, shares)
	return amount.Quo(amount, totalShares)
}
