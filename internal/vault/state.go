package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/money"
)

// stateSchemaVersion must match exactly on load; any other value means the
// file was written by an incompatible version and is ignored.
const stateSchemaVersion = "vault_state_v1"

type persistedBudgets struct {
	Total       string `json:"total"`
	Learning    string `json:"learning"`
	Operational string `json:"operational"`
	Reserve     string `json:"reserve"`
}

type persistedSpent struct {
	LearningSpent    string `json:"learning_spent"`
	OperationalSpent string `json:"operational_spent"`
}

type persistedState struct {
	SchemaVersion string           `json:"schema_version"`
	Timestamp     string           `json:"timestamp"`
	Budgets       persistedBudgets `json:"budgets"`
	Spent         persistedSpent   `json:"spent"`
}

// saveState atomically rewrites the state file: temp file in the same
// directory, flush, fsync, rename. A crash leaves either the old or the new
// snapshot intact, never a partial one. No-op when persistence is disabled.
func (v *Vault) saveState() error {
	if v.stateFile == "" {
		return nil
	}

	st := persistedState{
		SchemaVersion: stateSchemaVersion,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Budgets: persistedBudgets{
			Total:       v.TotalBudget().StringFixed(2),
			Learning:    v.learning.Total.StringFixed(2),
			Operational: v.operational.Total.StringFixed(2),
			Reserve:     v.reserve.Total.StringFixed(2),
		},
		Spent: persistedSpent{
			LearningSpent:    v.learning.Spent.StringFixed(2),
			OperationalSpent: v.operational.Spent.StringFixed(2),
		},
	}

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode vault state: %w", err)
	}

	dir := filepath.Dir(v.stateFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".vault_state_*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, v.stateFile); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// loadState restores spent counters from a previous snapshot. Absence is
// normal. Anything suspicious (unreadable file, bad JSON, wrong schema,
// budgets that disagree with the configured ones) falls back to zero spent
// with a warning: the conservative state never unlocks spending that a
// trusted snapshot would have blocked.
func (v *Vault) loadState() {
	data, err := os.ReadFile(v.stateFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			v.logger.Warn("vault state unreadable, starting from zero spent",
				"path", v.stateFile, "error", err)
		}
		return
	}

	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		v.logger.Warn("vault state malformed, starting from zero spent",
			"path", v.stateFile, "error", err)
		return
	}
	if st.SchemaVersion != stateSchemaVersion {
		v.logger.Warn("vault state schema mismatch, starting from zero spent",
			"path", v.stateFile, "got", st.SchemaVersion, "want", stateSchemaVersion)
		return
	}

	total, err1 := money.FromString(st.Budgets.Total)
	learning, err2 := money.FromString(st.Budgets.Learning)
	operational, err3 := money.FromString(st.Budgets.Operational)
	reserve, err4 := money.FromString(st.Budgets.Reserve)
	learningSpent, err5 := money.FromString(st.Spent.LearningSpent)
	operationalSpent, err6 := money.FromString(st.Spent.OperationalSpent)
	for _, err := range []error{err1, err2, err3, err4, err5, err6} {
		if err != nil {
			v.logger.Warn("vault state has invalid amounts, starting from zero spent",
				"path", v.stateFile, "error", err)
			return
		}
	}

	if !total.Equal(v.TotalBudget()) ||
		!learning.Equal(v.learning.Total) ||
		!operational.Equal(v.operational.Total) ||
		!reserve.Equal(v.reserve.Total) {
		v.logger.Warn("vault state budgets disagree with configuration, starting from zero spent",
			"path", v.stateFile,
			"persisted_total", total.StringFixed(2),
			"configured_total", v.TotalBudget().StringFixed(2))
		return
	}

	if learningSpent.IsNegative() || operationalSpent.IsNegative() ||
		learningSpent.GreaterThan(v.learning.Total) ||
		operationalSpent.GreaterThan(v.operational.Total) {
		v.logger.Warn("vault state spent counters out of range, starting from zero spent",
			"path", v.stateFile)
		return
	}

	v.learning.Spent = learningSpent
	v.operational.Spent = operationalSpent
}
