package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/autopilot"
	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/config"
	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/eventlog"
	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/idempotency"
	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/journal"
	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/maintenance"
	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/shield"
	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/vault"
	"github.com/3duardoambrosio-bit/trendify-f1-sub001/pkg/audit"
)

// daemon is the composition root: the decision core plus the stores it
// writes through. Embedded callers reach the core via this process; the
// daemon itself only keeps the stores healthy.
type daemon struct {
	vault  *vault.Vault
	policy *shield.SpendPolicy
	pilot  *autopilot.Autopilot
	guard  *idempotency.Guard
	events *eventlog.Writer
	ledger *journal.Journal
	runner *maintenance.Runner
	logger *slog.Logger
}

func main() {
	if err := run(); err != nil {
		slog.Error("capitald_fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Environment)
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}

	// Budget pools, persisted across restarts.
	v, err := vault.NewFromTotal(
		cfg.TotalBudget,
		cfg.LearningRatio, cfg.OperationalRatio, cfg.ReserveRatio,
		vault.WithStateFile(cfg.VaultStatePath()),
		vault.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	capped := vault.NewCapped(v, vault.ProductCaps{
		Day1:     cfg.Day1Cap,
		Lifetime: cfg.LifetimeCap,
	})

	// Append-only stores: event trail and double-entry ledger.
	events, err := eventlog.NewWriter(cfg.EventDir(),
		eventlog.WithBatchSize(cfg.EventBatchSize),
		eventlog.WithMaxFileBytes(cfg.EventMaxFileBytes),
		eventlog.WithFlushInterval(cfg.EventFlushEvery),
		eventlog.WithWriterLogger(logger),
	)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := events.Close(); cerr != nil {
			logger.Error("eventlog_close_failed", "error", cerr)
		}
	}()

	ledger, err := journal.NewJournal(cfg.JournalPath(), journal.WithJournalLogger(logger))
	if err != nil {
		return err
	}

	// The file is the ledger of record; PostgreSQL mirrors it for SQL
	// queryability when a URL is configured.
	var spendLedger shield.Ledger = ledger
	if cfg.PostgresURL != "" {
		pool, perr := pgxpool.New(context.Background(), cfg.PostgresURL)
		if perr != nil {
			return perr
		}
		defer pool.Close()

		pg := journal.NewPostgresJournal(pool, journal.WithPostgresLogger(logger))
		schemaCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := pg.EnsureSchema(schemaCtx); serr != nil {
			return serr
		}
		spendLedger = journal.NewMirrored(ledger, pg, journal.WithMirrorLogger(logger))
		logger.Info("postgres_journal_ready")
	}

	guard, err := idempotency.NewGuard(cfg.IdempotencyDB,
		idempotency.WithTTL(cfg.IdempotencyTTL),
		idempotency.WithGuardLogger(logger),
	)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := guard.Close(); cerr != nil {
			logger.Error("idempotency_close_failed", "error", cerr)
		}
	}()

	// Decision surfaces. The cashflow snapshot starts at the configured
	// budget; operators refresh it as settlement data arrives.
	cashflow := &vault.CashflowState{
		AvailableCash: cfg.TotalBudget,
		SafetyBuffer:  cfg.SafetyBuffer,
	}
	policy := shield.NewSpendPolicy(capped, cashflow,
		shield.WithSpendLedger(spendLedger),
		shield.WithEventLog(events),
		shield.WithDecisionTrail(audit.NewTrail()),
		shield.WithPolicyLogger(logger),
	)
	pilot := autopilot.New(
		shield.NewCapitalShield(v, shield.WithShieldLogger(logger)),
		autopilot.WithEventLog(events),
		autopilot.WithAutopilotLogger(logger),
	)

	runner := maintenance.NewRunner(events, ledger, guard,
		maintenance.WithRunnerLogger(logger),
	)
	if err := runner.Start(); err != nil {
		return err
	}
	defer runner.Stop()

	d := &daemon{
		vault:  v,
		policy: policy,
		pilot:  pilot,
		guard:  guard,
		events: events,
		ledger: ledger,
		runner: runner,
		logger: logger,
	}

	// Verify both ledgers before accepting any work.
	runner.RunIntegritySweep()
	d.logReadiness(cfg)

	return d.wait()
}

func (d *daemon) logReadiness(cfg *config.Config) {
	snap := d.vault.Snapshot()
	d.logger.Info("capitald_started",
		"environment", cfg.Environment,
		"total_budget", cfg.TotalBudget.StringFixed(2),
		"remaining", snap.RemainingTotal().StringFixed(2),
		"day1_cap", cfg.Day1Cap.StringFixed(2),
		"lifetime_cap", cfg.LifetimeCap.StringFixed(2),
		"data_dir", cfg.DataDir,
	)
}

// wait blocks until SIGINT or SIGTERM. SIGHUP triggers an on-demand
// integrity sweep without restarting.
func (d *daemon) wait() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			d.logger.Info("capitald_sweep_requested")
			d.runner.RunIntegritySweep()
			continue
		}
		d.logger.Info("capitald_stopping", "signal", sig.String())
		return nil
	}
	return nil
}

func newLogger(environment string) *slog.Logger {
	if environment == "development" {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
