package audit

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/taut-ln/taut/src/common"
)

func TestLedgerAppendGet(t *testing.T) {
	ledger, err := NewLedger(filepath.Join(t.TempDir(), "events"))
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()

	if ledger.Length() != 0 {
		t.Fatalf("new ledger should be empty, got length %d", ledger.Length())
	}

	seq, err := ledger.Append(Record{"event": "hello", "peer": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if seq != 0 {
		t.Fatalf("first record should get sequence 0, not %d", seq)
	}

	seq, err = ledger.Append(Record{"event": "payInvoice"})
	if err != nil {
		t.Fatal(err)
	}
	if seq != 1 {
		t.Fatalf("second record should get sequence 1, not %d", seq)
	}

	if ledger.Length() != 2 {
		t.Fatalf("ledger should hold 2 records, not %d", ledger.Length())
	}

	rec, err := ledger.Get(0)
	if err != nil {
		t.Fatal(err)
	}
	if rec["event"] != "hello" {
		t.Fatalf("record 0 should be the hello event, got %v", rec["event"])
	}
	if _, ok := rec["timestamp"]; !ok {
		t.Fatal("records should be stamped with a timestamp")
	}
}

func TestLedgerRecoversLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events")

	ledger, err := NewLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := ledger.Append(Record{"event": "tick"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := ledger.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	if reopened.Length() != 3 {
		t.Fatalf("reopened ledger should report length 3, not %d", reopened.Length())
	}

	seq, err := reopened.Append(Record{"event": "tick"})
	if err != nil {
		t.Fatal(err)
	}
	if seq != 3 {
		t.Fatalf("append after reopen should get sequence 3, not %d", seq)
	}
}

func TestLedgerGetRecent(t *testing.T) {
	ledger, err := NewLedger(filepath.Join(t.TempDir(), "events"))
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()

	names := []string{"a", "b", "c", "d", "e"}
	for _, name := range names {
		if _, err := ledger.Append(Record{"name": name}); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := ledger.GetRecent(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 {
		t.Fatalf("should get 3 recent records, not %d", len(recent))
	}

	// oldest first
	if recent[0]["name"] != "c" || recent[2]["name"] != "e" {
		t.Fatalf("recent window should span records c..e, got %v..%v", recent[0]["name"], recent[2]["name"])
	}

	all, err := ledger.GetRecent(100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("asking for more than the length should return everything, got %d", len(all))
	}
}

func TestRegistryReturnsSameLedger(t *testing.T) {
	registry := NewRegistry()
	defer registry.Close()

	path := filepath.Join(t.TempDir(), "events")

	first, err := registry.Open(path)
	if err != nil {
		t.Fatal(err)
	}

	second, err := registry.Open(path)
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Fatal("opening the same path twice should return the same ledger")
	}
}

func TestTransactionNormalisation(t *testing.T) {
	ledger, err := NewLedger(filepath.Join(t.TempDir(), "transactions"))
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()

	txLedger := NewTransactionLedger(ledger)

	if _, err := txLedger.Add(TransactionRecord{
		PaidTo: "alice",
		PaidBy: "bob",
		Amount: decimal.NewFromInt(25),
		State:  "Complete",
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := txLedger.Add(TransactionRecord{PaidTo: "carol"}); err != nil {
		t.Fatal(err)
	}

	txs, err := txLedger.Recent(10, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 {
		t.Fatalf("should recover 2 transactions, not %d", len(txs))
	}

	if txs[0].State != "complete" {
		t.Fatalf("state should be lower-cased, got %q", txs[0].State)
	}
	if !txs[0].Amount.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("amount should survive the round trip, got %s", txs[0].Amount)
	}
	if txs[0].Timestamp == 0 {
		t.Fatal("transactions should be stamped")
	}

	if txs[1].State != "unknown" {
		t.Fatalf("unset state should default to unknown, got %q", txs[1].State)
	}
	if !txs[1].Amount.IsZero() {
		t.Fatalf("unset amount should default to 0, got %s", txs[1].Amount)
	}
}

func TestTransactionFilter(t *testing.T) {
	ledger, err := NewLedger(filepath.Join(t.TempDir(), "transactions"))
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()

	txLedger := NewTransactionLedger(ledger)

	cutoff := time.Now().UnixMilli() - 1

	states := []string{"complete", "failed", "complete"}
	for i, state := range states {
		payer := "bob"
		if i == 1 {
			payer = "alice"
		}
		if _, err := txLedger.Add(TransactionRecord{
			PaidBy: payer,
			Amount: decimal.NewFromInt(int64(i + 1)),
			State:  state,
		}); err != nil {
			t.Fatal(err)
		}
	}

	txs, err := txLedger.Recent(100, Filter{Since: cutoff, PaidBy: "bob", State: "complete"})
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 {
		t.Fatalf("filter should match 2 transactions, not %d", len(txs))
	}

	txs, err = txLedger.Recent(100, Filter{Since: time.Now().UnixMilli() + time.Hour.Milliseconds()})
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 0 {
		t.Fatalf("a future cutoff should match nothing, got %d", len(txs))
	}
}

func TestLoggerMasksSensitiveKeys(t *testing.T) {
	ledger, err := NewLedger(filepath.Join(t.TempDir(), "events"))
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()

	auditLogger := NewLogger(ledger, common.NewTestEntry(t, logrus.DebugLevel), true, []string{"invoice", "secret"})

	auditLogger.Event("payInvoice", map[string]interface{}{
		"invoice": "lnbc1234567890abcdef",
		"peer":    "alice",
		"secret":  42,
	})

	rec, err := ledger.Get(0)
	if err != nil {
		t.Fatal(err)
	}

	masked, ok := rec["maskedData"].(map[string]interface{})
	if !ok {
		t.Fatalf("event record should carry maskedData, got %T", rec["maskedData"])
	}

	invoice, _ := masked["invoice"].(string)
	if !strings.HasPrefix(invoice, "lnbc1234") {
		t.Fatalf("masked invoice should keep an 8 char prefix, got %q", invoice)
	}
	if !strings.HasSuffix(invoice, "************") || strings.Contains(invoice, "abcdef") {
		t.Fatalf("masked invoice should hide the remainder, got %q", invoice)
	}

	if masked["peer"] != "alice" {
		t.Fatalf("unlisted keys should pass through, got %v", masked["peer"])
	}

	if masked["secret"] != "**[protected data]**" {
		t.Fatalf("non-string sensitive values should be replaced, got %v", masked["secret"])
	}
}
