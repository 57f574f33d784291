package journal

import (
	"context"
	"log/slog"
	"time"
)

const mirrorTimeout = 5 * time.Second

// MirroredJournal posts every transaction to the NDJSON ledger and mirrors
// it to PostgreSQL for SQL queryability. The file is the ledger of record:
// a transaction is acknowledged once the file write is durable, and a
// failed mirror write is logged loudly instead of failing the spend.
type MirroredJournal struct {
	file   *Journal
	pg     *PostgresJournal
	logger *slog.Logger
}

// MirrorOption configures a MirroredJournal.
type MirrorOption func(*MirroredJournal)

// WithMirrorLogger overrides the default logger.
func WithMirrorLogger(l *slog.Logger) MirrorOption {
	return func(m *MirroredJournal) { m.logger = l }
}

// NewMirrored wraps the file journal with a PostgreSQL mirror.
func NewMirrored(file *Journal, pg *PostgresJournal, opts ...MirrorOption) *MirroredJournal {
	m := &MirroredJournal{file: file, pg: pg, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record appends the transaction to the file ledger, then mirrors it to
// PostgreSQL. The returned transaction reflects the file write.
func (m *MirroredJournal) Record(entries []Entry) (Transaction, error) {
	tx, err := m.file.Record(entries)
	if err != nil {
		return Transaction{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if _, err := m.pg.Record(ctx, entries); err != nil {
		m.logger.Error("journal_mirror_failed",
			"transaction_id", tx.ID,
			"entries", len(entries),
			"error", err,
		)
	}
	return tx, nil
}
