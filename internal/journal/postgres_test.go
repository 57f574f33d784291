package journal

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDB stands in for *pgxpool.Pool.
type mockDB struct {
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row

	beginCalls int
	tx         *mockTx
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRowWithValues{values: []any{"0.00"}}
}

func (m *mockDB) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	m.beginCalls++
	if m.tx == nil {
		m.tx = &mockTx{}
	}
	return m.tx, nil
}

// mockTx implements pgx.Tx; only Exec, Commit and Rollback carry behavior.
type mockTx struct {
	execFunc  func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	execCalls int
	commits   int
	rollbacks int
}

func (t *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }

func (t *mockTx) Commit(ctx context.Context) error {
	t.commits++
	return nil
}

func (t *mockTx) Rollback(ctx context.Context) error {
	t.rollbacks++
	return nil
}

func (t *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (t *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }

func (t *mockTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }

func (t *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (t *mockTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execCalls++
	if t.execFunc != nil {
		return t.execFunc(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return &mockRows{}, nil
}

func (t *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return &mockRowWithValues{}
}

func (t *mockTx) Conn() *pgx.Conn { return nil }

type mockRows struct {
	rows [][]any
	pos  int
}

func (r *mockRows) Close()                                       {}
func (r *mockRows) Err() error                                   { return nil }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

func (r *mockRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	return scanInto(dest, r.rows[r.pos-1])
}

func (r *mockRows) Values() ([]any, error) { return r.rows[r.pos-1], nil }

type mockRowWithValues struct {
	values []any
	err    error
}

func (r *mockRowWithValues) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(dest, r.values)
}

func scanInto(dest, values []any) error {
	for i := range dest {
		if i >= len(values) {
			break
		}
		if s, ok := dest[i].(*string); ok {
			if v, ok := values[i].(string); ok {
				*s = v
			}
		}
	}
	return nil
}

func balancedPair(txID string) []Entry {
	return []Entry{
		NewEntry(txID, "ad_spend:sku-1", d("20.00"), "campaign"),
		NewEntry(txID, "cash", d("-20.00"), "campaign"),
	}
}

func TestPostgresRecordPostsAllEntries(t *testing.T) {
	db := &mockDB{tx: &mockTx{}}
	pj := NewPostgresJournal(db)

	txID := NewTransactionID()
	tx, err := pj.Record(context.Background(), balancedPair(txID))
	require.NoError(t, err)

	assert.Equal(t, txID, tx.ID)
	assert.Equal(t, 1, db.beginCalls)
	assert.Equal(t, 2, db.tx.execCalls)
	assert.Equal(t, 1, db.tx.commits)
}

func TestPostgresRecordRejectsUnbalanced(t *testing.T) {
	db := &mockDB{}
	pj := NewPostgresJournal(db)

	txID := NewTransactionID()
	entries := []Entry{
		NewEntry(txID, "ad_spend:sku-1", d("20.00"), ""),
		NewEntry(txID, "cash", d("-19.00"), ""),
	}
	_, err := pj.Record(context.Background(), entries)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be balanced")
	assert.Equal(t, 0, db.beginCalls, "no transaction must be opened for invalid input")
}

func TestPostgresRecordRetriesSerializationFailure(t *testing.T) {
	attempts := 0
	tx := &mockTx{}
	tx.execFunc = func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		if attempts == 0 {
			attempts++
			return pgconn.CommandTag{}, &pgconn.PgError{Code: "40001"}
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	db := &mockDB{tx: tx}
	pj := NewPostgresJournal(db)

	_, err := pj.Record(context.Background(), balancedPair(NewTransactionID()))
	require.NoError(t, err)
	assert.Equal(t, 2, db.beginCalls, "first attempt fails, second succeeds")
	assert.Equal(t, 1, tx.commits)
}

func TestPostgresBalance(t *testing.T) {
	db := &mockDB{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRowWithValues{values: []any{"42.50"}}
		},
	}
	pj := NewPostgresJournal(db)

	balance, err := pj.Balance(context.Background(), "ad_spend:sku-1")
	require.NoError(t, err)
	assert.Equal(t, "42.50", balance.StringFixed(2))
}

func TestPostgresTotalBalanceDetectsDrift(t *testing.T) {
	db := &mockDB{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRowWithValues{values: []any{"3.00"}}
		},
	}
	pj := NewPostgresJournal(db)

	_, err := pj.TotalBalance(context.Background())
	require.Error(t, err)
	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Contains(t, ierr.Detail, "unbalanced")
}

func TestPostgresTransactionEntries(t *testing.T) {
	db := &mockDB{
		queryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return &mockRows{rows: [][]any{
				{"e1", "tx-1", "ad_spend:sku-1", "20.00", "2026-01-01T00:00:00Z", "campaign"},
				{"e2", "tx-1", "cash", "-20.00", "2026-01-01T00:00:00Z", "campaign"},
			}}, nil
		},
	}
	pj := NewPostgresJournal(db)

	entries, err := pj.TransactionEntries(context.Background(), "tx-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "ad_spend:sku-1", entries[0].Account)
	assert.Equal(t, "20.00", entries[0].Amount.StringFixed(2))
	assert.Equal(t, "-20.00", entries[1].Amount.StringFixed(2))
}
