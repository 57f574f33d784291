// Package autopilot holds the per-experiment decision layer: a pure
// kill-criteria function over (ROAS, spend) and the Autopilot that composes
// it with the capital shield into a next-cycle action.
package autopilot

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// KillAction is what the kill criteria recommend for an experiment.
type KillAction string

const (
	KillContinue KillAction = "continue"
	KillPause    KillAction = "pause"
	KillKill     KillAction = "kill"
)

// Kill-criteria reasons.
const (
	ReasonInsufficientData = "insufficient_data"
	ReasonBelowHardKill    = "roas_below_hard_threshold"
	ReasonBetweenKillBands = "roas_between_hard_and_soft_threshold"
	ReasonROASAcceptable   = "roas_acceptable"
)

// Decision thresholds. Below MinSpendForDecision no action is ever taken;
// there is not enough evidence yet.
var (
	MinSpendForDecision = decimal.NewFromInt(10)
	MinSpendForScaling  = decimal.NewFromInt(20)
)

const (
	HardKillROAS       = 0.7
	SoftKillROAS       = 1.0
	ScaleROASThreshold = 1.5
)

// KillDecision is the life-or-death verdict for one experiment.
type KillDecision struct {
	Action KillAction
	Reason string
}

// clampROAS bounds ROAS to a sane range before evaluation.
func clampROAS(roas float64) float64 {
	if roas < 0 {
		return 0
	}
	if roas > 100 {
		return 100
	}
	return roas
}

// EvaluateKillCriteria is the pure decision tree over observed ROAS and
// cumulative spend. Negative spend is a programmer error.
func EvaluateKillCriteria(roas float64, spend decimal.Decimal) (KillDecision, error) {
	if spend.IsNegative() {
		return KillDecision{}, fmt.Errorf("spend must not be negative, got %s", spend)
	}

	r := clampROAS(roas)

	if spend.LessThan(MinSpendForDecision) {
		return KillDecision{Action: KillContinue, Reason: ReasonInsufficientData}, nil
	}
	if r < HardKillROAS {
		return KillDecision{Action: KillKill, Reason: ReasonBelowHardKill}, nil
	}
	if r < SoftKillROAS {
		return KillDecision{Action: KillPause, Reason: ReasonBetweenKillBands}, nil
	}
	return KillDecision{Action: KillContinue, Reason: ReasonROASAcceptable}, nil
}
