package vault

import (
	"github.com/shopspring/decimal"

	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/money"
)

// Hold is money already collected but not yet released by the payment
// processor.
type Hold struct {
	Amount        decimal.Decimal
	ReleaseInDays int
}

// CashflowState is a point-in-time solvency projection. It is recomputed on
// demand by the caller feeding it and never persisted; the vault may say a
// budget exists while the bank account says the cash does not.
type CashflowState struct {
	AvailableCash        decimal.Decimal
	Holds                []Hold
	ProjectedRefunds     decimal.Decimal
	ProjectedChargebacks decimal.Decimal
	SafetyBuffer         decimal.Decimal
}

// NetAvailable is the cash spendable today after conservative deductions,
// clamped at zero.
func (c CashflowState) NetAvailable() decimal.Decimal {
	net := c.AvailableCash.Sub(c.ProjectedRefunds).Sub(c.ProjectedChargebacks)
	if net.IsNegative() {
		return money.Zero
	}
	return money.Q2(net)
}

// ProjectedAvailableIn projects available cash after the holds releasing
// within the given number of days land, minus projected refunds.
func (c CashflowState) ProjectedAvailableIn(days int) decimal.Decimal {
	total := c.AvailableCash
	for _, h := range c.Holds {
		if h.ReleaseInDays <= days {
			total = total.Add(h.Amount)
		}
	}
	return money.Q2(total.Sub(c.ProjectedRefunds))
}

// CanSpend reports whether spending amount today would keep net available
// cash at or above the safety buffer. Non-positive amounts never pass.
func (c CashflowState) CanSpend(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	return c.NetAvailable().Sub(amount).GreaterThanOrEqual(c.SafetyBuffer)
}

// RunwayDays estimates how many days of the given daily burn the net
// available cash covers. ok is false when dailyBurn is not positive.
func (c CashflowState) RunwayDays(dailyBurn decimal.Decimal) (decimal.Decimal, bool) {
	if !dailyBurn.IsPositive() {
		return money.Zero, false
	}
	return c.NetAvailable().DivRound(dailyBurn, 2), true
}
