package lightning

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// InmemBackend is an in-memory NodeBackend used in tests. Invoices are plain
// strings of the form "lntest:<amount>:<destination>", so an invoice created
// by one InmemBackend can be decoded by another.
type InmemBackend struct {
	sync.Mutex

	publicKey string
	alias     string
	connected bool

	channels []Channel

	// failure injection
	ListErr error
	PayErr  error

	invoiceSeq int
	payments   []string
}

// NewInmemBackend returns a connected in-memory backend with the given
// identity.
func NewInmemBackend(publicKey, alias string) *InmemBackend {
	return &InmemBackend{
		publicKey: publicKey,
		alias:     alias,
	}
}

// NodeType implements the NodeBackend interface.
func (i *InmemBackend) NodeType() string { return "inmem" }

// PublicKey implements the NodeBackend interface.
func (i *InmemBackend) PublicKey() string { return i.publicKey }

// Alias implements the NodeBackend interface.
func (i *InmemBackend) Alias() string { return i.alias }

// Connect implements the NodeBackend interface.
func (i *InmemBackend) Connect(ctx context.Context) error {
	i.Lock()
	defer i.Unlock()
	i.connected = true
	return nil
}

// Disconnect implements the NodeBackend interface.
func (i *InmemBackend) Disconnect() error {
	i.Lock()
	defer i.Unlock()
	i.connected = false
	return nil
}

// HasConnection implements the NodeBackend interface.
func (i *InmemBackend) HasConnection() bool {
	i.Lock()
	defer i.Unlock()
	return i.connected
}

// SetChannels replaces the channel list returned by ListChannels.
func (i *InmemBackend) SetChannels(channels ...Channel) {
	i.Lock()
	defer i.Unlock()
	i.channels = channels
}

// ListChannels implements the NodeBackend interface.
func (i *InmemBackend) ListChannels(ctx context.Context) ([]Channel, error) {
	i.Lock()
	defer i.Unlock()

	if i.ListErr != nil {
		return nil, i.ListErr
	}

	out := make([]Channel, len(i.channels))
	copy(out, i.channels)
	return out, nil
}

// CreateInvoice implements the NodeBackend interface.
func (i *InmemBackend) CreateInvoice(ctx context.Context, amount decimal.Decimal, lifespan time.Duration) (string, error) {
	i.Lock()
	defer i.Unlock()

	i.invoiceSeq++
	return fmt.Sprintf("lntest:%s:%s", amount.String(), i.publicKey), nil
}

// PayInvoice implements the NodeBackend interface.
func (i *InmemBackend) PayInvoice(ctx context.Context, invoice string, channelHint string) (*Payment, error) {
	i.Lock()
	defer i.Unlock()

	if i.PayErr != nil {
		return nil, i.PayErr
	}

	i.payments = append(i.payments, invoice)

	return &Payment{
		PaymentID:   fmt.Sprintf("payment-%d", len(i.payments)),
		Confirmed:   true,
		ConfirmedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// Payments returns the invoices paid so far.
func (i *InmemBackend) Payments() []string {
	i.Lock()
	defer i.Unlock()

	out := make([]string, len(i.payments))
	copy(out, i.payments)
	return out
}

// DecodeInvoice implements the NodeBackend interface.
func (i *InmemBackend) DecodeInvoice(ctx context.Context, invoice string) (*Invoice, error) {
	parts := strings.Split(invoice, ":")
	if len(parts) != 3 || parts[0] != "lntest" {
		return nil, fmt.Errorf("not a test invoice: %s", invoice)
	}

	amount, err := decimal.NewFromString(parts[1])
	if err != nil {
		return nil, err
	}

	return &Invoice{Amount: amount, Destination: parts[2]}, nil
}
