// Package audit implements the append-only ledgers behind the daemon's audit
// trail. Events and transactions are written to badger-backed ledgers keyed
// by sequence number; the Logger wraps the event ledger and masks sensitive
// values before anything reaches disk or screen.
package audit

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/ugorji/go/codec"
)

// Record is one ledger entry. Every record carries a "timestamp" property
// stamped at append time, in milliseconds.
type Record map[string]interface{}

// Ledger is an append-only log of Records backed by a badger database. Keys
// are big-endian uint64 sequence numbers so iteration order is append order.
type Ledger struct {
	sync.Mutex
	db     *badger.DB
	path   string
	length uint64
}

// NewLedger opens (or creates) the ledger at the given path and recovers its
// length from the highest key present.
func NewLedger(path string) (*Ledger, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	ledger := &Ledger{
		db:   db,
		path: path,
	}

	if err := ledger.recoverLength(); err != nil {
		db.Close()
		return nil, err
	}

	return ledger, nil
}

func (l *Ledger) recoverLength() error {
	return l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
		if it.Valid() {
			l.length = binary.BigEndian.Uint64(it.Item().Key()) + 1
		}

		return nil
	})
}

// Path returns the ledger's storage path.
func (l *Ledger) Path() string {
	return l.path
}

// Length returns the number of records in the ledger.
func (l *Ledger) Length() uint64 {
	l.Lock()
	defer l.Unlock()
	return l.length
}

// Append stamps the record with the current time and writes it at the next
// sequence number, which it returns.
func (l *Ledger) Append(rec Record) (uint64, error) {
	l.Lock()
	defer l.Unlock()

	stamped := make(Record, len(rec)+1)
	for k, v := range rec {
		stamped[k] = v
	}
	stamped["timestamp"] = time.Now().UnixMilli()

	data, err := marshalRecord(stamped)
	if err != nil {
		return 0, err
	}

	seq := l.length

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(seqKey(seq), data)
	})
	if err != nil {
		return 0, err
	}

	l.length++

	return seq, nil
}

// Get returns the record at the given sequence number.
func (l *Ledger) Get(index uint64) (Record, error) {
	var rec Record

	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(seqKey(index))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r, err := unmarshalRecord(val)
			rec = r
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("ledger %s: record %d: %w", l.path, index, err)
	}

	return rec, nil
}

// GetRecent returns up to count records from the tail of the ledger, oldest
// first.
func (l *Ledger) GetRecent(count int) ([]Record, error) {
	length := l.Length()

	if length == 0 || count <= 0 {
		return []Record{}, nil
	}

	start := uint64(0)
	if uint64(count) < length {
		start = length - uint64(count)
	}

	records := make([]Record, 0, length-start)
	for i := start; i < length; i++ {
		rec, err := l.Get(i)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func marshalRecord(rec Record) ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(rec); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func unmarshalRecord(data []byte) (Record, error) {
	rec := Record{}
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}

	return rec, nil
}

// Registry hands out ledgers keyed by path. Opening the same path twice
// returns the same ledger; badger would refuse a second handle anyway.
type Registry struct {
	sync.Mutex
	ledgers map[string]*Ledger
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		ledgers: map[string]*Ledger{},
	}
}

// Open returns the ledger at the given path, creating it on first use.
func (r *Registry) Open(path string) (*Ledger, error) {
	r.Lock()
	defer r.Unlock()

	if ledger, ok := r.ledgers[path]; ok {
		return ledger, nil
	}

	ledger, err := NewLedger(path)
	if err != nil {
		return nil, err
	}

	r.ledgers[path] = ledger

	return ledger, nil
}

// Close closes every ledger in the registry.
func (r *Registry) Close() error {
	r.Lock()
	defer r.Unlock()

	var firstErr error
	for path, ledger := range r.ledgers {
		if err := ledger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.ledgers, path)
	}

	return firstErr
}
