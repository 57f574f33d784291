package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3duardoambrosio-bit/trendify-f1-sub001/internal/money"
)

func d(s string) decimal.Decimal { return money.MustFromString(s) }

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "ledger.ndjson"))
	require.NoError(t, err)
	return j
}

func adSpendEntries(txID, product, amount string) []Entry {
	return []Entry{
		NewEntry(txID, "ad_spend:"+product, d(amount), "facebook campaign"),
		NewEntry(txID, "cash", d(amount).Neg(), "facebook campaign"),
	}
}

func TestRecordAndBalance(t *testing.T) {
	j := newTestJournal(t)

	txID := NewTransactionID()
	tx, err := j.Record(adSpendEntries(txID, "sku-1", "25.00"))
	require.NoError(t, err)
	assert.Equal(t, txID, tx.ID)
	assert.Len(t, tx.Entries, 2)

	spent, err := j.Balance("ad_spend:sku-1")
	require.NoError(t, err)
	assert.Equal(t, "25.00", spent.StringFixed(2))

	cash, err := j.Balance("cash")
	require.NoError(t, err)
	assert.Equal(t, "-25.00", cash.StringFixed(2))

	total, err := j.TotalBalance()
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestRecordRejectsUnbalanced(t *testing.T) {
	j := newTestJournal(t)

	txID := NewTransactionID()
	entries := []Entry{
		NewEntry(txID, "ad_spend:sku-1", d("25.00"), ""),
		NewEntry(txID, "cash", d("-24.99"), ""),
	}
	_, err := j.Record(entries)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be balanced")

	// Nothing was written.
	total, err := j.TotalBalance()
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestRecordValidation(t *testing.T) {
	j := newTestJournal(t)
	txID := NewTransactionID()

	testCases := []struct {
		name    string
		entries []Entry
		wantErr string
	}{
		{
			"single entry",
			[]Entry{NewEntry(txID, "cash", d("1.00"), "")},
			"at least 2 entries",
		},
		{
			"mixed transaction ids",
			[]Entry{
				NewEntry(txID, "cash", d("1.00"), ""),
				NewEntry(NewTransactionID(), "ad_spend:x", d("-1.00"), ""),
			},
			"transaction id",
		},
		{
			"empty account",
			[]Entry{
				NewEntry(txID, "", d("1.00"), ""),
				NewEntry(txID, "cash", d("-1.00"), ""),
			},
			"empty account",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := j.Record(tc.entries)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRoundingDoesNotBreakConservation(t *testing.T) {
	j := newTestJournal(t)

	// Sub-cent inputs are quantized before the zero-sum check.
	txID := NewTransactionID()
	entries := []Entry{
		NewEntry(txID, "ad_spend:sku-1", d("10.005"), ""),
		NewEntry(txID, "cash", d("-10.005"), ""),
	}
	_, err := j.Record(entries)
	require.NoError(t, err)

	spent, err := j.Balance("ad_spend:sku-1")
	require.NoError(t, err)
	assert.Equal(t, "10.01", spent.StringFixed(2))

	total, err := j.TotalBalance()
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestBalanceSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.ndjson")

	j1, err := NewJournal(path)
	require.NoError(t, err)
	_, err = j1.Record(adSpendEntries(NewTransactionID(), "sku-9", "12.50"))
	require.NoError(t, err)
	_, err = j1.Record(adSpendEntries(NewTransactionID(), "sku-9", "7.50"))
	require.NoError(t, err)

	j2, err := NewJournal(path)
	require.NoError(t, err)
	spent, err := j2.Balance("ad_spend:sku-9")
	require.NoError(t, err)
	assert.Equal(t, "20.00", spent.StringFixed(2))
}

func TestCorruptedLineIsIntegrityError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.ndjson")
	j, err := NewJournal(path)
	require.NoError(t, err)

	_, err = j.Record(adSpendEntries(NewTransactionID(), "sku-1", "5.00"))
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("THIS IS NOT JSON\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = j.TotalBalance()
	require.Error(t, err)
	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 3, ierr.Line)
	assert.Contains(t, err.Error(), path)
}

func TestTamperedAmountIsIntegrityError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.ndjson")
	j, err := NewJournal(path)
	require.NoError(t, err)

	_, err = j.Record(adSpendEntries(NewTransactionID(), "sku-1", "5.00"))
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"-5.00"`, `"-4.00"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	_, err = j.TotalBalance()
	require.Error(t, err)
	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Contains(t, ierr.Detail, "unbalanced")
}

func TestReplayLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.ndjson")
	j, err := NewJournal(path)
	require.NoError(t, err)

	// Write just over the limit without going through Record.
	f, err := os.Create(path)
	require.NoError(t, err)
	line := `{"account":"cash","amount":"0.00","created_at":"2026-01-01T00:00:00Z","id":"x","memo":"","transaction_id":"t"}` + "\n"
	for i := 0; i <= MaxReplayLines; i++ {
		_, err = f.WriteString(line)
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	_, err = j.Balance("cash")
	require.Error(t, err)
	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Contains(t, ierr.Detail, "replay limit")
}

func TestEmptyJournalBalancesToZero(t *testing.T) {
	j := newTestJournal(t)

	b, err := j.Balance("cash")
	require.NoError(t, err)
	assert.True(t, b.IsZero())

	total, err := j.TotalBalance()
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestMultiLegTransaction(t *testing.T) {
	j := newTestJournal(t)

	txID := NewTransactionID()
	entries := []Entry{
		NewEntry(txID, "cash", d("-30.00"), "split campaign"),
		NewEntry(txID, "ad_spend:sku-1", d("10.00"), "split campaign"),
		NewEntry(txID, "ad_spend:sku-2", d("20.00"), "split campaign"),
	}
	_, err := j.Record(entries)
	require.NoError(t, err)

	for account, want := range map[string]string{
		"cash":           "-30.00",
		"ad_spend:sku-1": "10.00",
		"ad_spend:sku-2": "20.00",
	} {
		b, err := j.Balance(account)
		require.NoError(t, err)
		assert.Equal(t, want, b.StringFixed(2), "account %s", account)
	}
}

func BenchmarkRecord(b *testing.B) {
	j, err := NewJournal(filepath.Join(b.TempDir(), "ledger.ndjson"))
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := j.Record(adSpendEntries(NewTransactionID(), fmt.Sprintf("sku-%d", i), "1.00")); err != nil {
			b.Fatal(err)
		}
	}
}
