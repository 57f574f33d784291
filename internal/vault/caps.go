package vault

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/money"
)

// ProductCaps bounds how much learning budget a single product may absorb.
// Operational spends are not capped per product.
type ProductCaps struct {
	Day1     decimal.Decimal
	Lifetime decimal.Decimal
}

// DefaultProductCaps matches the foundational limits: a product may burn at
// most 10.00 on its first day and 30.00 over its lifetime.
func DefaultProductCaps() ProductCaps {
	return ProductCaps{
		Day1:     money.MustFromString("10.00"),
		Lifetime: money.MustFromString("30.00"),
	}
}

// CappedVault layers per-product spend caps on top of a Vault. The check
// order is fixed: positive amount, reserve protection, pool availability,
// day-1 cap, then lifetime cap. The first failing check wins and its reason
// is returned alone.
type CappedVault struct {
	*Vault
	caps           ProductCaps
	spentByProduct map[string]decimal.Decimal
}

// NewCapped wraps a vault with product cap tracking.
func NewCapped(v *Vault, caps ProductCaps) *CappedVault {
	return &CappedVault{
		Vault:          v,
		caps:           caps,
		spentByProduct: make(map[string]decimal.Decimal),
	}
}

// ProductSpent returns the lifetime learning spend recorded for a product.
func (cv *CappedVault) ProductSpent(productID string) decimal.Decimal {
	if s, ok := cv.spentByProduct[productID]; ok {
		return s
	}
	return money.Zero
}

// RequestProductSpend attempts a spend attributed to a product. day is the
// experiment age in days; the day-1 cap only applies when day == 1.
func (cv *CappedVault) RequestProductSpend(productID string, amount decimal.Decimal, pool Pool, day int) (Outcome, error) {
	if productID == "" {
		return Outcome{}, fmt.Errorf("product id is required")
	}
	amt := money.Q2(amount)

	if reason, ok := cv.checkSpend(amt, pool); !ok {
		return Deny(pool, amt, reason), nil
	}

	if pool == PoolLearning {
		spent := cv.ProductSpent(productID)
		if day == 1 && spent.Add(amt).GreaterThan(cv.caps.Day1) {
			return Deny(pool, amt, ReasonDay1CapReached), nil
		}
		if spent.Add(amt).GreaterThan(cv.caps.Lifetime) {
			return Deny(pool, amt, ReasonProductCapReached), nil
		}
	}

	if err := cv.debit(amt, pool); err != nil {
		return Outcome{}, err
	}
	if pool == PoolLearning {
		cv.spentByProduct[productID] = money.Q2(cv.ProductSpent(productID).Add(amt))
	}

	cv.logger.Info("product_spend_approved",
		"product_id", productID,
		"pool", string(pool),
		"amount", amt.StringFixed(2),
		"day", day,
	)
	return Approve(pool, amt), nil
}

// RollbackProduct reverses a product-attributed debit: the pool counter and
// the product tracker move back by the same amount.
func (cv *CappedVault) RollbackProduct(pool Pool, productID string, amount decimal.Decimal) error {
	amt := money.Q2(amount)
	if err := cv.Rollback(pool, amt); err != nil {
		return err
	}
	if pool == PoolLearning {
		next := money.Q2(cv.ProductSpent(productID).Sub(amt))
		if next.IsNegative() {
			next = money.Zero
		}
		cv.spentByProduct[productID] = next
	}
	return nil
}
