// Package vault implements the budget ledger at the center of the capital
// core: three fixed pools (learning, operational, reserve) with mutable
// spent counters, per-product cap tracking, and an independent cashflow
// solvency guard. Reserve is structurally unspendable through the automated
// path; every spend decision is returned as a tagged Outcome value.
package vault

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/money"
)

// Pool names the three budget buckets.
type Pool string

const (
	PoolLearning    Pool = "learning"
	PoolOperational Pool = "operational"
	PoolReserve     Pool = "reserve"
)

// Reason is the closed enumeration of spend decision reasons.
type Reason string

const (
	ReasonApproved          Reason = "approved"
	ReasonAmountNotPositive Reason = "amount_must_be_positive"
	ReasonReserveProtected  Reason = "reserve_protected"
	ReasonInsufficientFunds Reason = "insufficient_funds"
	ReasonUnknownPool       Reason = "unknown_pool"
	ReasonDay1CapReached    Reason = "day1_cap_reached"
	ReasonProductCapReached Reason = "product_total_cap_reached"
)

// Outcome is the tagged result of one allocation attempt. Denials are
// values, never errors; an error from RequestSpend means the vault itself
// failed (persistence), not that the business said no.
type Outcome struct {
	Approved bool
	Pool     Pool
	Amount   decimal.Decimal
	Reason   Reason
}

// Approve builds an approved outcome.
func Approve(pool Pool, amount decimal.Decimal) Outcome {
	return Outcome{Approved: true, Pool: pool, Amount: amount, Reason: ReasonApproved}
}

// Deny builds a denied outcome with the given reason.
func Deny(pool Pool, amount decimal.Decimal, reason Reason) Outcome {
	return Outcome{Approved: false, Pool: pool, Amount: amount, Reason: reason}
}

// BudgetPool is one named, capped bucket of money.
type BudgetPool struct {
	Name  Pool
	Total decimal.Decimal
	Spent decimal.Decimal
}

// Available returns total minus spent, clamped at zero.
func (p *BudgetPool) Available() decimal.Decimal {
	a := money.Q2(p.Total.Sub(p.Spent))
	if a.IsNegative() {
		return money.Zero
	}
	return a
}

// Vault holds the three pools. Callers must serialize calls to RequestSpend;
// the vault provides no internal locking (single-writer model).
type Vault struct {
	learning    BudgetPool
	operational BudgetPool
	reserve     BudgetPool

	stateFile string
	logger    *slog.Logger
}

// Option configures a Vault at construction.
type Option func(*Vault)

// WithStateFile enables snapshot persistence at the given path. The file is
// atomically rewritten after every approved spend.
func WithStateFile(path string) Option {
	return func(v *Vault) { v.stateFile = path }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

// New builds a vault from explicit sub-budgets. The pool-sum invariant
// (learning + operational + reserve == total) holds by construction.
func New(learning, operational, reserve decimal.Decimal, opts ...Option) (*Vault, error) {
	for name, b := range map[string]decimal.Decimal{
		"learning": learning, "operational": operational, "reserve": reserve,
	} {
		if b.IsNegative() {
			return nil, fmt.Errorf("%s budget must be non-negative, got %s", name, b)
		}
	}

	v := &Vault{
		learning:    BudgetPool{Name: PoolLearning, Total: money.Q2(learning), Spent: money.Zero},
		operational: BudgetPool{Name: PoolOperational, Total: money.Q2(operational), Spent: money.Zero},
		reserve:     BudgetPool{Name: PoolReserve, Total: money.Q2(reserve), Spent: money.Zero},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.stateFile != "" {
		v.loadState()
	}
	return v, nil
}

// NewFromTotal builds a vault by splitting a total budget with the given
// ratios. Ratios must sum to exactly 1.00; reserve absorbs the rounding
// remainder so the pool totals still sum to the total budget to the cent.
func NewFromTotal(total, learningRatio, operationalRatio, reserveRatio decimal.Decimal, opts ...Option) (*Vault, error) {
	if !learningRatio.Add(operationalRatio).Add(reserveRatio).Equal(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("split ratios must sum to exactly 1.00, got %s",
			learningRatio.Add(operationalRatio).Add(reserveRatio))
	}
	tb := money.Q2(total)
	learning := money.Q2(tb.Mul(learningRatio))
	operational := money.Q2(tb.Mul(operationalRatio))
	reserve := money.Q2(tb.Sub(learning).Sub(operational))
	return New(learning, operational, reserve, opts...)
}

// TotalBudget returns the sum of the three pool totals.
func (v *Vault) TotalBudget() decimal.Decimal {
	return money.Q2(v.learning.Total.Add(v.operational.Total).Add(v.reserve.Total))
}

func (v *Vault) poolFor(pool Pool) *BudgetPool {
	switch pool {
	case PoolLearning:
		return &v.learning
	case PoolOperational:
		return &v.operational
	case PoolReserve:
		return &v.reserve
	default:
		return nil
	}
}

// checkSpend runs the spendability checks without mutating state. ok is
// true when the spend would be allowed.
func (v *Vault) checkSpend(amount decimal.Decimal, pool Pool) (Reason, bool) {
	if !amount.IsPositive() {
		return ReasonAmountNotPositive, false
	}
	if pool == PoolReserve {
		return ReasonReserveProtected, false
	}
	p := v.poolFor(pool)
	if p == nil {
		return ReasonUnknownPool, false
	}
	if amount.GreaterThan(p.Available()) {
		return ReasonInsufficientFunds, false
	}
	return ReasonApproved, true
}

// debit applies an already-validated spend and persists the new snapshot.
// If persistence fails the in-memory debit is reverted and a fatal error is
// returned: the vault never acknowledges money it could not make durable.
func (v *Vault) debit(amount decimal.Decimal, pool Pool) error {
	p := v.poolFor(pool)
	p.Spent = money.Q2(p.Spent.Add(amount))
	if err := v.saveState(); err != nil {
		p.Spent = money.Q2(p.Spent.Sub(amount))
		return fmt.Errorf("vault state persistence failed after debit of %s from %s: %w", amount, pool, err)
	}
	return nil
}

// RequestSpend attempts to spend amount from the given pool. Business
// denials come back in the Outcome; a non-nil error is a fatal persistence
// failure and the caller must not treat the spend as approved.
func (v *Vault) RequestSpend(amount decimal.Decimal, pool Pool) (Outcome, error) {
	amt := money.Q2(amount)

	if reason, ok := v.checkSpend(amt, pool); !ok {
		return Deny(pool, amt, reason), nil
	}
	if err := v.debit(amt, pool); err != nil {
		return Outcome{}, err
	}

	v.logger.Info("spend_approved",
		"pool", string(pool),
		"amount", amt.StringFixed(2),
		"remaining", v.poolFor(pool).Available().StringFixed(2),
	)
	return Approve(pool, amt), nil
}

// Rollback reverses a previously approved debit. It is the compensating
// action used when a later check in the same logical operation denies the
// spend; it never drives spent below zero.
func (v *Vault) Rollback(pool Pool, amount decimal.Decimal) error {
	p := v.poolFor(pool)
	if p == nil {
		return fmt.Errorf("unknown pool %q in rollback", pool)
	}
	amt := money.Q2(amount)
	if !amt.IsPositive() {
		return fmt.Errorf("rollback amount must be positive, got %s", amt)
	}
	p.Spent = money.Q2(p.Spent.Sub(amt))
	if p.Spent.IsNegative() {
		p.Spent = money.Zero
	}
	if err := v.saveState(); err != nil {
		return fmt.Errorf("vault state persistence failed after rollback of %s to %s: %w", amt, pool, err)
	}
	v.logger.Info("spend_rolled_back", "pool", string(pool), "amount", amt.StringFixed(2))
	return nil
}

// AdminMoveToReserve moves available operational budget into reserve. This
// is the only operation that changes reserve, it is manual-only, and it only
// ever moves money in.
func (v *Vault) AdminMoveToReserve(amount decimal.Decimal) error {
	amt := money.Q2(amount)
	if !amt.IsPositive() {
		return fmt.Errorf("reserve transfer amount must be positive, got %s", amt)
	}
	take := decimal.Min(amt, v.operational.Available())
	if take.IsZero() {
		return nil
	}
	v.operational.Spent = money.Q2(v.operational.Spent.Add(take))
	v.reserve.Total = money.Q2(v.reserve.Total.Add(take))
	if err := v.saveState(); err != nil {
		return fmt.Errorf("vault state persistence failed after reserve transfer: %w", err)
	}
	v.logger.Info("reserve_transfer", "amount", take.StringFixed(2))
	return nil
}

// Snapshot is an immutable view of vault state for logs and analysis.
type Snapshot struct {
	TotalBudget      decimal.Decimal
	LearningTotal    decimal.Decimal
	OperationalTotal decimal.Decimal
	ReserveTotal     decimal.Decimal
	LearningSpent    decimal.Decimal
	OperationalSpent decimal.Decimal
}

// TotalSpent returns spent across the spendable pools. Reserve never spends.
func (s Snapshot) TotalSpent() decimal.Decimal {
	return money.Q2(s.LearningSpent.Add(s.OperationalSpent))
}

// RemainingLearning returns the unspent learning budget.
func (s Snapshot) RemainingLearning() decimal.Decimal {
	return money.Q2(s.LearningTotal.Sub(s.LearningSpent))
}

// RemainingOperational returns the unspent operational budget.
func (s Snapshot) RemainingOperational() decimal.Decimal {
	return money.Q2(s.OperationalTotal.Sub(s.OperationalSpent))
}

// RemainingTotal returns the unspent total budget, reserve included.
func (s Snapshot) RemainingTotal() decimal.Decimal {
	return money.Q2(s.TotalBudget.Sub(s.TotalSpent()))
}

// Snapshot returns the current state.
func (v *Vault) Snapshot() Snapshot {
	return Snapshot{
		TotalBudget:      v.TotalBudget(),
		LearningTotal:    v.learning.Total,
		OperationalTotal: v.operational.Total,
		ReserveTotal:     v.reserve.Total,
		LearningSpent:    v.learning.Spent,
		OperationalSpent: v.operational.Spent,
	}
}

// CanSpend reports whether a spend would be approved, without mutating
// state or touching the state file.
func (v *Vault) CanSpend(amount decimal.Decimal, pool Pool) bool {
	_, ok := v.checkSpend(money.Q2(amount), pool)
	return ok
}
