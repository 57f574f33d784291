// Package shield is the capital-allocation decision layer. CapitalShield
// gates a single budget request behind the upstream product decision and
// the Vault; SpendPolicy composes Vault approval with the cashflow guard
// and performs the compensating rollback when the second check denies.
package shield

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/money"
	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/vault"
)

// Spender is the budget backend the shield sits in front of. Every vault
// variant returns the same tagged Outcome; the shield matches on the tag.
type Spender interface {
	RequestSpend(amount decimal.Decimal, pool vault.Pool) (vault.Outcome, error)
}

// Capital decision reasons.
const (
	ReasonApproved           = "approved"
	ReasonNotApproved        = "not_approved"
	ReasonInsufficientBudget = "insufficient_budget"
)

// CapitalDecision is the immutable result of one allocation attempt.
type CapitalDecision struct {
	Allocated decimal.Decimal
	Reason    string
}

// CapitalShield decides whether a product may spend at all. An unapproved
// product never reaches the Vault; a broken Vault backend denies rather
// than crashing the caller.
type CapitalShield struct {
	vault       Spender
	defaultPool vault.Pool
	logger      *slog.Logger
}

// ShieldOption configures a CapitalShield.
type ShieldOption func(*CapitalShield)

// WithDefaultPool sets the pool used when the caller passes none.
func WithDefaultPool(p vault.Pool) ShieldOption {
	return func(s *CapitalShield) { s.defaultPool = p }
}

// WithShieldLogger overrides the default logger.
func WithShieldLogger(l *slog.Logger) ShieldOption {
	return func(s *CapitalShield) { s.logger = l }
}

// NewCapitalShield creates a shield over the given budget backend.
func NewCapitalShield(spender Spender, opts ...ShieldOption) *CapitalShield {
	s := &CapitalShield{
		vault:       spender,
		defaultPool: vault.PoolLearning,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// requestSpendSafe calls the backend and converts any error or panic into
// a denial. Fail safe: a broken budget backend must deny, never allow.
func (s *CapitalShield) requestSpendSafe(amount decimal.Decimal, pool vault.Pool) (out vault.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("vault_backend_panic", "pool", pool, "amount", amount.StringFixed(2), "panic", r)
			out = vault.Deny(pool, amount, vault.ReasonInsufficientFunds)
		}
	}()

	result, err := s.vault.RequestSpend(amount, pool)
	if err != nil {
		s.logger.Error("vault_backend_error", "pool", pool, "amount", amount.StringFixed(2), "error", err)
		return vault.Deny(pool, amount, vault.ReasonInsufficientFunds)
	}
	return result
}

// DecideForProduct returns the allocation for one product. A negative
// requested amount is a programmer error; everything else comes back as a
// decision value.
func (s *CapitalShield) DecideForProduct(finalDecision string, requestedAmount decimal.Decimal, pool vault.Pool) (CapitalDecision, error) {
	amount := money.Q2(requestedAmount)
	if amount.IsNegative() {
		return CapitalDecision{}, fmt.Errorf("requested amount must not be negative, got %s", amount.StringFixed(2))
	}

	if finalDecision != "approved" {
		// Unapproved products never touch the Vault; keeps audit logs quiet.
		return CapitalDecision{Allocated: money.Zero, Reason: ReasonNotApproved}, nil
	}

	if pool == "" {
		pool = s.defaultPool
	}

	outcome := s.requestSpendSafe(amount, pool)
	if !outcome.Approved {
		return CapitalDecision{Allocated: money.Zero, Reason: ReasonInsufficientBudget}, nil
	}
	return CapitalDecision{Allocated: amount, Reason: ReasonApproved}, nil
}
