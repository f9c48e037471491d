package node

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds the parameters of a Node.
type Config struct {
	// Moniker is a friendly name for this node in logs and handshakes. It
	// does not need to be unique in the cluster.
	Moniker string

	// Secret is the cluster's shared secret. Every protocol message is
	// signed with it, and the overlay topic is derived from it.
	Secret string

	// DialInterval is how often the node re-attempts connections to peers
	// from its address book that are not currently connected.
	DialInterval time.Duration

	// InvoiceLifespan is how long rebalance invoices stay payable.
	InvoiceLifespan time.Duration

	// Logger is the logger the node and its components write to.
	Logger *logrus.Entry
}

// NewConfig returns a filled-in Config.
func NewConfig(
	moniker string,
	secret string,
	dialInterval time.Duration,
	invoiceLifespan time.Duration,
	logger *logrus.Entry,
) *Config {
	return &Config{
		Moniker:         moniker,
		Secret:          secret,
		DialInterval:    dialInterval,
		InvoiceLifespan: invoiceLifespan,
		Logger:          logger,
	}
}

// DefaultConfig returns a Config with sane defaults and a discarding logger.
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.ErrorLevel

	return &Config{
		Moniker:         "taut",
		DialInterval:    30 * time.Second,
		InvoiceLifespan: 30 * time.Second,
		Logger:          logrus.NewEntry(logger),
	}
}
