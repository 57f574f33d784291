package autopilot

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/eventlog"
	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/money"
	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/shield"
)

// Action is the autopilot's next-cycle instruction for an experiment.
type Action string

const (
	ActionHold  Action = "hold"
	ActionTest  Action = "test"
	ActionScale Action = "scale"
	ActionPause Action = "pause"
	ActionKill  Action = "kill"
)

// Autopilot decision reasons.
const (
	ReasonNotApprovedByBuyer = "not_approved_by_buyer"
	ReasonKillRuleTriggered  = "kill_rule_triggered"
	ReasonPauseRuleTriggered = "pause_rule_triggered"
	ReasonNoBudgetRequested  = "no_budget_requested"
	ReasonInsufficientVault  = "insufficient_budget_from_vault"
	ReasonScaleUpWinner      = "scale_up_winner"
	ReasonTestWithinBudget   = "test_within_budget"
)

// Context is everything the autopilot needs for one decision.
type Context struct {
	ProductID       string
	FinalDecision   string // upstream buyer/quality verdict; "approved" or anything else
	CurrentROAS     float64
	Spend           decimal.Decimal
	RequestedBudget decimal.Decimal
}

// Decision is the autopilot's verdict, carrying the raw kill and capital
// decisions for the event trail.
type Decision struct {
	Action          Action
	AllocatedBudget decimal.Decimal
	KillDecision    *KillDecision
	CapitalDecision *shield.CapitalDecision
	Reason          string
}

// Autopilot orders the rules: buyer approval, then kill criteria, then
// capital. Kill and pause short-circuit before any budget is touched.
type Autopilot struct {
	shield *shield.CapitalShield
	events *eventlog.Writer
	logger *slog.Logger
}

// AutopilotOption configures an Autopilot.
type AutopilotOption func(*Autopilot)

// WithEventLog emits one event per decision to the event ledger.
func WithEventLog(w *eventlog.Writer) AutopilotOption {
	return func(a *Autopilot) { a.events = w }
}

// WithAutopilotLogger overrides the default logger.
func WithAutopilotLogger(l *slog.Logger) AutopilotOption {
	return func(a *Autopilot) { a.logger = l }
}

// New creates an Autopilot over the given capital shield.
func New(s *shield.CapitalShield, opts ...AutopilotOption) *Autopilot {
	a := &Autopilot{shield: s, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Autopilot) record(ctx Context, d Decision) Decision {
	a.logger.Info("autopilot_decision",
		"product_id", ctx.ProductID,
		"action", string(d.Action),
		"reason", d.Reason,
		"allocated", d.AllocatedBudget.StringFixed(2),
	)
	if a.events != nil {
		critical := d.Action == ActionKill
		_, err := a.events.Write("AUTOPILOT_DECISION", "product", ctx.ProductID, map[string]any{
			"action":    string(d.Action),
			"reason":    d.Reason,
			"allocated": d.AllocatedBudget.StringFixed(2),
			"roas":      ctx.CurrentROAS,
			"spend":     ctx.Spend.StringFixed(2),
		}, "", critical)
		if err != nil {
			a.logger.Warn("autopilot_event_emit_failed", "product_id", ctx.ProductID, "error", err)
		}
	}
	return d
}

// Decide returns the next-cycle action for one experiment. The only side
// effect is the vault debit when budget is granted.
func (a *Autopilot) Decide(ctx Context) (Decision, error) {
	if ctx.FinalDecision != "approved" {
		return a.record(ctx, Decision{
			Action:          ActionHold,
			AllocatedBudget: money.Zero,
			Reason:          ReasonNotApprovedByBuyer,
		}), nil
	}

	kill, err := EvaluateKillCriteria(ctx.CurrentROAS, ctx.Spend)
	if err != nil {
		return Decision{}, err
	}

	switch kill.Action {
	case KillKill:
		return a.record(ctx, Decision{
			Action:          ActionKill,
			AllocatedBudget: money.Zero,
			KillDecision:    &kill,
			Reason:          ReasonKillRuleTriggered,
		}), nil
	case KillPause:
		return a.record(ctx, Decision{
			Action:          ActionPause,
			AllocatedBudget: money.Zero,
			KillDecision:    &kill,
			Reason:          ReasonPauseRuleTriggered,
		}), nil
	}

	if !ctx.RequestedBudget.IsPositive() {
		return a.record(ctx, Decision{
			Action:          ActionHold,
			AllocatedBudget: money.Zero,
			KillDecision:    &kill,
			Reason:          ReasonNoBudgetRequested,
		}), nil
	}

	capital, err := a.shield.DecideForProduct(ctx.FinalDecision, ctx.RequestedBudget, "")
	if err != nil {
		return Decision{}, err
	}

	if !capital.Allocated.IsPositive() {
		reason := ReasonInsufficientVault
		if capital.Reason == shield.ReasonNotApproved {
			reason = ReasonNotApprovedByBuyer
		}
		return a.record(ctx, Decision{
			Action:          ActionHold,
			AllocatedBudget: money.Zero,
			KillDecision:    &kill,
			CapitalDecision: &capital,
			Reason:          reason,
		}), nil
	}

	action, reason := ActionTest, ReasonTestWithinBudget
	if ctx.CurrentROAS >= ScaleROASThreshold && ctx.Spend.GreaterThanOrEqual(MinSpendForScaling) {
		action, reason = ActionScale, ReasonScaleUpWinner
	}
	return a.record(ctx, Decision{
		Action:          action,
		AllocatedBudget: capital.Allocated,
		KillDecision:    &kill,
		CapitalDecision: &capital,
		Reason:          reason,
	}), nil
}
