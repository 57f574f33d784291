package shield

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/eventlog"
	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/journal"
	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/money"
	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/vault"
	"github.com/3duardoambrosio-bit/trendify-f1-sub001/pkg/audit"
)

// Ledger is the double-entry backend approved spends are posted to.
type Ledger interface {
	Record(entries []journal.Entry) (journal.Transaction, error)
}

// ReasonCashflowGuard denies a spend the Vault approved because paying for
// it would breach the solvency buffer.
const ReasonCashflowGuard = "cashflow_guard"

// Event types emitted to the event ledger.
const (
	EventSpendApproved = "SPEND_APPROVED"
	EventSpendDenied   = "SPEND_DENIED"
)

// PolicyDecision is the combined result of the Vault and cashflow gates.
type PolicyDecision struct {
	Allowed     bool
	Reason      string
	VaultReason vault.Reason
	CashflowOK  bool
}

// SpendPolicy orders the two gates: Vault first (caps, reserve, funds),
// then cashflow (real liquidity). A cashflow denial after a Vault approval
// triggers a compensating rollback so the persisted vault state never
// reflects money that was ultimately not spent.
type SpendPolicy struct {
	vault    *vault.CappedVault
	cashflow *vault.CashflowState
	ledger   Ledger
	events   *eventlog.Writer
	trail    *audit.Trail
	logger   *slog.Logger
}

// PolicyOption configures a SpendPolicy.
type PolicyOption func(*SpendPolicy)

// WithEventLog wires decision events into the event ledger.
func WithEventLog(w *eventlog.Writer) PolicyOption {
	return func(p *SpendPolicy) { p.events = w }
}

// WithDecisionTrail wires decisions into the hash-chained audit trail.
func WithDecisionTrail(t *audit.Trail) PolicyOption {
	return func(p *SpendPolicy) { p.trail = t }
}

// WithSpendLedger posts every approved spend to the double-entry ledger as
// a balanced (ad_spend:<product>, cash) pair. A failed post rolls the vault
// debit back and fails the request: money the audit trail cannot account
// for is money not spent.
func WithSpendLedger(l Ledger) PolicyOption {
	return func(p *SpendPolicy) { p.ledger = l }
}

// WithPolicyLogger overrides the default logger.
func WithPolicyLogger(l *slog.Logger) PolicyOption {
	return func(p *SpendPolicy) { p.logger = l }
}

// NewSpendPolicy creates a policy over the capped vault and a cashflow
// projection.
func NewSpendPolicy(cv *vault.CappedVault, cf *vault.CashflowState, opts ...PolicyOption) *SpendPolicy {
	p := &SpendPolicy{
		vault:    cv,
		cashflow: cf,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// emit records the decision in the event ledger and the audit trail. Both
// are best-effort telemetry: a failed emit never changes a capital decision
// that is already durable in the vault state.
func (p *SpendPolicy) emit(eventType, productID, action, reason string, amount decimal.Decimal, critical bool) {
	if p.trail != nil {
		p.trail.Append(productID, action, amount.StringFixed(2), reason)
	}
	if p.events == nil {
		return
	}
	_, err := p.events.Write(eventType, "product", productID, map[string]any{
		"amount": amount.StringFixed(2),
		"reason": reason,
	}, "", critical)
	if err != nil {
		p.logger.Warn("policy_event_emit_failed", "event_type", eventType, "product_id", productID, "error", err)
	}
}

// Request runs one spend request through both gates. The more concrete
// denial wins: a Vault denial keeps its own reason; only a Vault-approved,
// cashflow-denied request reports cashflow_guard.
func (p *SpendPolicy) Request(pool vault.Pool, productID string, amount decimal.Decimal, day int) (PolicyDecision, error) {
	amt := money.Q2(amount)

	outcome, err := p.vault.RequestProductSpend(productID, amt, pool, day)
	if err != nil {
		return PolicyDecision{}, err
	}

	if !outcome.Approved {
		p.emit(EventSpendDenied, productID, "spend_denied", string(outcome.Reason), amt, false)
		return PolicyDecision{
			Allowed:     false,
			Reason:      string(outcome.Reason),
			VaultReason: outcome.Reason,
			CashflowOK:  p.cashflow.CanSpend(amt),
		}, nil
	}

	if !p.cashflow.CanSpend(amt) {
		if rbErr := p.vault.RollbackProduct(pool, productID, amt); rbErr != nil {
			// Rollback failed: vault state now overstates spend. This is a
			// persistence-level fault, not a business denial.
			return PolicyDecision{}, fmt.Errorf("cashflow denial rollback failed: %w", rbErr)
		}
		p.emit(EventSpendDenied, productID, "spend_denied", ReasonCashflowGuard, amt, false)
		return PolicyDecision{
			Allowed:     false,
			Reason:      ReasonCashflowGuard,
			VaultReason: outcome.Reason,
			CashflowOK:  false,
		}, nil
	}

	if p.ledger != nil {
		if err := p.recordSpend(productID, amt, pool, day); err != nil {
			if rbErr := p.vault.RollbackProduct(pool, productID, amt); rbErr != nil {
				return PolicyDecision{}, fmt.Errorf("ledger write failed (%v) and rollback failed: %w", err, rbErr)
			}
			return PolicyDecision{}, fmt.Errorf("failed to record approved spend: %w", err)
		}
	}

	p.emit(EventSpendApproved, productID, "spend_approved", ReasonApproved, amt, true)
	return PolicyDecision{
		Allowed:     true,
		Reason:      ReasonApproved,
		VaultReason: outcome.Reason,
		CashflowOK:  true,
	}, nil
}

// recordSpend posts the balanced pair for one approved spend: a debit on
// the product's ad-spend account and a matching credit on cash.
func (p *SpendPolicy) recordSpend(productID string, amount decimal.Decimal, pool vault.Pool, day int) error {
	txID := journal.NewTransactionID()
	memo := fmt.Sprintf("pool=%s day=%d", pool, day)
	_, err := p.ledger.Record([]journal.Entry{
		journal.NewEntry(txID, "ad_spend:"+productID, amount, memo),
		journal.NewEntry(txID, "cash", amount.Neg(), memo),
	})
	return err
}
