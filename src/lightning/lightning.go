// Package lightning abstracts the node implementations this daemon can
// front for. The coordinator and gatekeeper only ever see the NodeBackend
// interface; concrete implementations are selected by a factory keyed on the
// configured node type.
package lightning

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Channel is this daemon's view of one payment channel. It is refreshed
// wholesale from the backend; it is never partially mutated. Balances and
// capacity are arbitrary-precision decimals because they are money.
type Channel struct {
	ID              string
	LocalAlias      string
	LocalPublicKey  string
	RemotePublicKey string
	LocalBalance    decimal.Decimal
	RemoteBalance   decimal.Decimal
	Capacity        decimal.Decimal
	IsActive        bool
	IsClosing       bool
	IsOpening       bool
	IsPrivate       bool
}

// Invoice is the decoded form of a payment request.
type Invoice struct {
	Amount      decimal.Decimal
	Destination string
}

// Payment is the outcome of a payment attempt.
type Payment struct {
	PaymentID   string
	Confirmed   bool
	ConfirmedAt string
	Preimage    string
}

// NodeBackend is the capability interface over one lightning node
// implementation. All operations may fail; callers catch and log failures
// rather than letting them propagate.
type NodeBackend interface {
	// Connect establishes the connection and reads the node identity.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down.
	Disconnect() error

	// HasConnection reports whether the backend is usable.
	HasConnection() bool

	// PublicKey is the lightning node's public key, available after Connect.
	PublicKey() string

	// Alias is the lightning node's alias, available after Connect.
	Alias() string

	// NodeType names the concrete implementation.
	NodeType() string

	// ListChannels returns all channels, mapped to the internal format.
	ListChannels(ctx context.Context) ([]Channel, error)

	// CreateInvoice returns a bolt11 payment request for the given amount.
	CreateInvoice(ctx context.Context, amount decimal.Decimal, lifespan time.Duration) (string, error)

	// PayInvoice attempts to pay a bolt11 payment request, optionally through
	// the given outgoing channel.
	PayInvoice(ctx context.Context, invoice string, channelHint string) (*Payment, error)

	// DecodeInvoice decodes a bolt11 payment request.
	DecodeInvoice(ctx context.Context, invoice string) (*Invoice, error)
}

// Credentials selects and authenticates one concrete backend.
type Credentials struct {
	Type     string `mapstructure:"type"`
	Cert     string `mapstructure:"cert"`
	Macaroon string `mapstructure:"macaroon"`
	Socket   string `mapstructure:"socket"`
}

// New is the backend factory, keyed on the declared node type.
func New(creds Credentials, logger *logrus.Entry) (NodeBackend, error) {
	switch creds.Type {
	case "lnd":
		return NewLndBackend(creds, logger), nil
	case "cln-rest":
		return NewClnRestBackend(creds, logger), nil
	default:
		return nil, fmt.Errorf("unknown lightning implementation: %s", creds.Type)
	}
}
