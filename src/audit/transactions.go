package audit

import (
	"strings"

	"github.com/shopspring/decimal"
)

// TransactionRecord is one completed or attempted rebalance payment as it
// appears in the transaction ledger.
type TransactionRecord struct {
	PaidTo    string          `json:"paidTo"`
	PaidBy    string          `json:"paidBy"`
	ChannelID string          `json:"channelId"`
	Amount    decimal.Decimal `json:"amount"`
	Invoice   string          `json:"invoice"`
	State     string          `json:"state"`
	Timestamp int64           `json:"timestamp"`
}

// Filter selects transactions. Zero values match everything.
type Filter struct {
	// Since keeps transactions stamped at or after this time, in
	// milliseconds.
	Since int64

	// PaidBy keeps transactions paid by this public key.
	PaidBy string

	// State keeps transactions in this state.
	State string
}

func (f Filter) matches(tx TransactionRecord) bool {
	if f.Since != 0 && tx.Timestamp < f.Since {
		return false
	}
	if f.PaidBy != "" && tx.PaidBy != f.PaidBy {
		return false
	}
	if f.State != "" && tx.State != f.State {
		return false
	}
	return true
}

// TransactionLedger records rebalance payments. Records are normalised on
// the way in so the ledger only ever holds the transaction shape, whatever
// the caller handed us.
type TransactionLedger struct {
	ledger *Ledger
}

// NewTransactionLedger wraps the given ledger.
func NewTransactionLedger(ledger *Ledger) *TransactionLedger {
	return &TransactionLedger{ledger: ledger}
}

// Add normalises the transaction and appends it.
func (t *TransactionLedger) Add(tx TransactionRecord) (uint64, error) {
	return t.ledger.Append(normalise(tx))
}

// normalise forces the record to the transaction shape: known properties
// only, state lower-cased, unset state reported as unknown. The timestamp is
// stamped by the ledger.
func normalise(tx TransactionRecord) Record {
	state := strings.ToLower(tx.State)
	if state == "" {
		state = "unknown"
	}

	return Record{
		"paidTo":    tx.PaidTo,
		"paidBy":    tx.PaidBy,
		"channelId": tx.ChannelID,
		"amount":    tx.Amount.String(),
		"invoice":   tx.Invoice,
		"state":     state,
	}
}

// Recent returns up to count transactions from the tail of the ledger,
// oldest first, keeping only those the filter matches.
func (t *TransactionLedger) Recent(count int, filter Filter) ([]TransactionRecord, error) {
	records, err := t.ledger.GetRecent(count)
	if err != nil {
		return nil, err
	}

	txs := make([]TransactionRecord, 0, len(records))
	for _, rec := range records {
		tx := toTransaction(rec)
		if filter.matches(tx) {
			txs = append(txs, tx)
		}
	}

	return txs, nil
}

// Length returns the number of transactions recorded.
func (t *TransactionLedger) Length() uint64 {
	return t.ledger.Length()
}

func toTransaction(rec Record) TransactionRecord {
	tx := TransactionRecord{}

	tx.PaidTo, _ = rec["paidTo"].(string)
	tx.PaidBy, _ = rec["paidBy"].(string)
	tx.ChannelID, _ = rec["channelId"].(string)
	tx.Invoice, _ = rec["invoice"].(string)
	tx.State, _ = rec["state"].(string)

	if amount, ok := rec["amount"].(string); ok {
		if d, err := decimal.NewFromString(amount); err == nil {
			tx.Amount = d
		}
	}

	switch ts := rec["timestamp"].(type) {
	case int64:
		tx.Timestamp = ts
	case uint64:
		tx.Timestamp = int64(ts)
	case float64:
		tx.Timestamp = int64(ts)
	}

	return tx
}
