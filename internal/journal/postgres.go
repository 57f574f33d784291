package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/money"
)

// DB is the subset of pgxpool.Pool the journal needs. Tests substitute a
// mock; production passes *pgxpool.Pool directly.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PostgresJournal is the relational twin of the file journal: the same
// double-entry contract, backed by a journal_entries table and SERIALIZABLE
// transactions.
type PostgresJournal struct {
	db     DB
	logger *slog.Logger
}

// PostgresOption configures a PostgresJournal.
type PostgresOption func(*PostgresJournal)

// WithPostgresLogger overrides the default logger.
func WithPostgresLogger(l *slog.Logger) PostgresOption {
	return func(p *PostgresJournal) { p.logger = l }
}

// NewPostgresJournal creates a journal over db.
func NewPostgresJournal(db DB, opts ...PostgresOption) *PostgresJournal {
	p := &PostgresJournal{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureSchema creates the journal table if it does not exist.
func (p *PostgresJournal) EnsureSchema(ctx context.Context) error {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := p.db.Exec(queryCtx, `
		CREATE TABLE IF NOT EXISTS journal_entries (
			id             TEXT PRIMARY KEY,
			transaction_id TEXT NOT NULL,
			account        TEXT NOT NULL,
			amount         NUMERIC(18,2) NOT NULL,
			created_at     TEXT NOT NULL,
			memo           TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	_, err = p.db.Exec(queryCtx, `
		CREATE INDEX IF NOT EXISTS journal_entries_account_idx ON journal_entries (account)
	`)
	if err != nil {
		return fmt.Errorf("failed to create journal index: %w", err)
	}
	return nil
}

// Record validates and posts a balanced transaction. All entries land in
// one SERIALIZABLE transaction; serialization failures are retried.
func (p *PostgresJournal) Record(ctx context.Context, entries []Entry) (Transaction, error) {
	if err := ValidateTransaction(entries); err != nil {
		return Transaction{}, err
	}

	const maxRetries = 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := p.recordOnce(ctx, entries)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "40001" {
				// Serialization failure, retry
				if attempt == maxRetries-1 {
					return Transaction{}, fmt.Errorf("failed to record transaction after %d retries due to serialization failure: %w", maxRetries, err)
				}
				time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
				continue
			}
			return Transaction{}, fmt.Errorf("failed to record transaction: %w", err)
		}
		break
	}

	return Transaction{
		ID:        entries[0].TransactionID,
		Entries:   entries,
		CreatedAt: entries[0].CreatedAt,
	}, nil
}

func (p *PostgresJournal) recordOnce(ctx context.Context, entries []Entry) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := p.db.BeginTx(queryCtx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(queryCtx)

	for _, e := range entries {
		_, err = tx.Exec(queryCtx, `
			INSERT INTO journal_entries (id, transaction_id, account, amount, created_at, memo)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, e.ID, e.TransactionID, e.Account, money.Q2(e.Amount).StringFixed(2), e.CreatedAt, e.Memo)
		if err != nil {
			return fmt.Errorf("failed to insert journal entry: %w", err)
		}
	}

	if err := tx.Commit(queryCtx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Balance returns the summed amount posted to an account.
func (p *PostgresJournal) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	if account == "" {
		return money.Zero, fmt.Errorf("account is required")
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var raw string
	err := p.db.QueryRow(queryCtx, `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM journal_entries
		WHERE account = $1
	`, account).Scan(&raw)
	if err != nil {
		return money.Zero, fmt.Errorf("failed to get balance: %w", err)
	}

	balance, err := money.FromString(raw)
	if err != nil {
		return money.Zero, fmt.Errorf("failed to parse balance: %w", err)
	}
	return money.Q2(balance), nil
}

// TotalBalance re-asserts the conservation invariant over the whole table.
func (p *PostgresJournal) TotalBalance(ctx context.Context) (decimal.Decimal, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var raw string
	err := p.db.QueryRow(queryCtx, `
		SELECT COALESCE(SUM(amount), 0)::text FROM journal_entries
	`).Scan(&raw)
	if err != nil {
		return money.Zero, fmt.Errorf("failed to get total balance: %w", err)
	}

	total, err := money.FromString(raw)
	if err != nil {
		return money.Zero, fmt.Errorf("failed to parse total balance: %w", err)
	}
	total = money.Q2(total)
	if !total.IsZero() {
		ierr := &IntegrityError{
			Path:   "journal_entries",
			Detail: fmt.Sprintf("ledger unbalanced: total is %s, want 0.00", total.StringFixed(2)),
		}
		p.logger.Error("journal_unbalanced",
			"store", "postgres",
			"total", total.StringFixed(2),
			"expected", "0.00",
		)
		return money.Zero, ierr
	}
	return money.Zero, nil
}

// TransactionEntries returns every entry recorded under a transaction id,
// in posting order.
func (p *PostgresJournal) TransactionEntries(ctx context.Context, transactionID string) ([]Entry, error) {
	if transactionID == "" {
		return nil, fmt.Errorf("transaction id is required")
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := p.db.Query(queryCtx, `
		SELECT id, transaction_id, account, amount::text, created_at, memo
		FROM journal_entries
		WHERE transaction_id = $1
		ORDER BY created_at ASC
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var raw string
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.Account, &raw, &e.CreatedAt, &e.Memo); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		amount, err := money.FromString(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse entry amount: %w", err)
		}
		e.Amount = amount
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transaction entries: %w", err)
	}
	return entries, nil
}
