// Package journal is the audit ledger of record: a double-entry,
// append-only transaction log. Every recorded transaction balances to zero
// at 2-decimal precision, entries are never mutated or deleted, and
// balances are computed by full replay.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/money"
)

// MaxReplayLines bounds how many lines a replay will read before refusing
// to continue, guarding against unbounded memory and runaway files.
const MaxReplayLines = 200_000

// Entry is a single debit (positive) or credit (negative) line.
type Entry struct {
	ID            string
	TransactionID string
	Account       string
	Amount        decimal.Decimal
	CreatedAt     string
	Memo          string
}

// Transaction is an immutable, balanced set of at least two entries.
type Transaction struct {
	ID        string
	Entries   []Entry
	CreatedAt string
}

// IntegrityError signals that the ledger itself cannot be trusted:
// corrupted lines, an unbalanced total, or a file too large to replay.
// It is fatal for the current operation, never downgraded to a denial.
type IntegrityError struct {
	Path   string
	Line   int
	Detail string
	Err    error
}

func (e *IntegrityError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("ledger integrity violation at %s:%d: %s", e.Path, e.Line, e.Detail)
	}
	return fmt.Sprintf("ledger integrity violation at %s: %s", e.Path, e.Detail)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// entryRecord fixes the on-disk field order to the canonical sorted-key
// form, one JSON object per line. Amount is a fixed 2-decimal string.
type entryRecord struct {
	Account       string `json:"account"`
	Amount        string `json:"amount"`
	CreatedAt     string `json:"created_at"`
	ID            string `json:"id"`
	Memo          string `json:"memo"`
	TransactionID string `json:"transaction_id"`
}

// Journal is the NDJSON-backed double-entry ledger. Single writer; callers
// serialize Record calls.
type Journal struct {
	path   string
	logger *slog.Logger
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithJournalLogger overrides the default logger.
func WithJournalLogger(l *slog.Logger) JournalOption {
	return func(j *Journal) { j.logger = l }
}

// NewJournal opens (or prepares to create) the ledger file at path.
func NewJournal(path string, opts ...JournalOption) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	j := &Journal{path: path, logger: slog.Default()}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// NewTransactionID returns a fresh 32-hex-char transaction id.
func NewTransactionID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewEntry builds an entry for the given transaction. Amount keeps its sign:
// positive is a debit, negative a credit.
func NewEntry(transactionID, account string, amount decimal.Decimal, memo string) Entry {
	return Entry{
		ID:            strings.ReplaceAll(uuid.New().String(), "-", ""),
		TransactionID: transactionID,
		Account:       account,
		Amount:        money.Q2(amount),
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
		Memo:          memo,
	}
}

// ValidateTransaction checks the preconditions shared by every journal
// backend: at least two entries, one transaction id, populated accounts and
// timestamps, and a 2-decimal sum of exactly zero.
func ValidateTransaction(entries []Entry) error {
	if len(entries) < 2 {
		return fmt.Errorf("transaction requires at least 2 entries, got %d", len(entries))
	}
	txID := entries[0].TransactionID
	if strings.TrimSpace(txID) == "" {
		return fmt.Errorf("transaction id is required")
	}
	sum := money.Zero
	for i, e := range entries {
		if e.TransactionID != txID {
			return fmt.Errorf("entry %d has transaction id %q, want %q", i, e.TransactionID, txID)
		}
		if strings.TrimSpace(e.Account) == "" {
			return fmt.Errorf("entry %d has empty account", i)
		}
		if strings.TrimSpace(e.CreatedAt) == "" {
			return fmt.Errorf("entry %d has empty created_at", i)
		}
		sum = sum.Add(money.Q2(e.Amount))
	}
	if !sum.IsZero() {
		return fmt.Errorf("transaction must be balanced: sum of amounts is %s, want 0.00", sum.StringFixed(2))
	}
	return nil
}

// Record validates and durably appends a balanced transaction. The entries
// are flushed and fsynced before Record returns; an acknowledged
// transaction survives a crash.
func (j *Journal) Record(entries []Entry) (Transaction, error) {
	if err := ValidateTransaction(entries); err != nil {
		return Transaction{}, err
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, e := range entries {
		line, err := json.Marshal(entryRecord{
			Account:       e.Account,
			Amount:        money.Q2(e.Amount).StringFixed(2),
			CreatedAt:     e.CreatedAt,
			ID:            e.ID,
			Memo:          e.Memo,
			TransactionID: e.TransactionID,
		})
		if err != nil {
			return Transaction{}, fmt.Errorf("failed to encode journal entry: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return Transaction{}, fmt.Errorf("failed to append journal entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return Transaction{}, fmt.Errorf("failed to flush journal: %w", err)
	}
	if err := f.Sync(); err != nil {
		return Transaction{}, fmt.Errorf("failed to sync journal: %w", err)
	}

	return Transaction{
		ID:        entries[0].TransactionID,
		Entries:   entries,
		CreatedAt: entries[0].CreatedAt,
	}, nil
}

// replay streams every entry through fn in append order.
func (j *Journal) replay(fn func(Entry)) error {
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open journal for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if line > MaxReplayLines {
			ierr := &IntegrityError{Path: j.path, Line: line, Detail: "journal exceeds replay limit"}
			j.logger.Error("journal_replay_refused", "path", j.path, "limit", MaxReplayLines)
			return ierr
		}
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var rec entryRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			ierr := &IntegrityError{Path: j.path, Line: line, Detail: "corrupted journal line", Err: err}
			j.logger.Error("journal_corrupt_line", "path", j.path, "line", line, "error", err)
			return ierr
		}
		amount, err := money.FromString(rec.Amount)
		if err != nil {
			ierr := &IntegrityError{Path: j.path, Line: line, Detail: "invalid amount in journal line", Err: err}
			j.logger.Error("journal_corrupt_amount", "path", j.path, "line", line, "error", err)
			return ierr
		}
		fn(Entry{
			ID:            rec.ID,
			TransactionID: rec.TransactionID,
			Account:       rec.Account,
			Amount:        amount,
			CreatedAt:     rec.CreatedAt,
			Memo:          rec.Memo,
		})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	return nil
}

// Balance returns the replay-sum of all entries for an account.
func (j *Journal) Balance(account string) (decimal.Decimal, error) {
	if strings.TrimSpace(account) == "" {
		return money.Zero, fmt.Errorf("account is required")
	}
	total := money.Zero
	err := j.replay(func(e Entry) {
		if e.Account == account {
			total = total.Add(e.Amount)
		}
	})
	if err != nil {
		return money.Zero, err
	}
	return money.Q2(total), nil
}

// TotalBalance replays the whole ledger and re-asserts the conservation
// invariant: the sum of every entry is exactly 0.00. A nonzero total means
// the audit trail is corrupted and comes back as an IntegrityError.
func (j *Journal) TotalBalance() (decimal.Decimal, error) {
	total := money.Zero
	if err := j.replay(func(e Entry) {
		total = total.Add(e.Amount)
	}); err != nil {
		return money.Zero, err
	}
	total = money.Q2(total)
	if !total.IsZero() {
		ierr := &IntegrityError{
			Path:   j.path,
			Detail: fmt.Sprintf("ledger unbalanced: total is %s, want 0.00", total.StringFixed(2)),
		}
		j.logger.Error("journal_unbalanced",
			"path", j.path,
			"total", total.StringFixed(2),
			"expected", "0.00",
		)
		return money.Zero, ierr
	}
	return money.Zero, nil
}
