package net

import "errors"

// ErrNoConnection is returned by Send when there is no live connection to
// the target peer.
var ErrNoConnection = errors.New("no connection to peer")

// ErrTransportShutdown is returned when operations on a transport are
// invoked after it was closed.
var ErrTransportShutdown = errors.New("transport shutdown")

// ConnEventType says whether a peer appeared or went away.
type ConnEventType int

const (
	// Connected fires after a successful handshake.
	Connected ConnEventType = iota

	// Disconnected fires when a peer's connection is torn down.
	Disconnected
)

// ConnEvent notifies the node of a change in the connection set.
type ConnEvent struct {
	Type      ConnEventType
	PublicKey string
	Moniker   string
}

// Inbound is one verified-format envelope received from a peer. The
// signature has NOT been checked; that needs the secret, which the transport
// never holds in full trust.
type Inbound struct {
	PublicKey string
	Envelope  *Envelope
}

// Transport moves envelopes between overlay peers. Connections are keyed by
// the remote's overlay public key, learned in the handshake; for any key the
// most recent connection wins.
type Transport interface {
	// Listen starts accepting inbound connections.
	Listen()

	// Dial connects out to a peer address and runs the handshake.
	Dial(address string) error

	// Consumer returns the channel inbound envelopes are delivered on.
	Consumer() <-chan Inbound

	// Events returns the channel connection events are delivered on.
	Events() <-chan ConnEvent

	// Send writes an envelope to the peer with the given public key. It
	// returns ErrNoConnection if there is no live connection.
	Send(publicKey string, env *Envelope) error

	// IsDialed reports whether a live connection to the given address was
	// dialed by us. The redial loop uses it to skip addresses that are
	// already connected.
	IsDialed(address string) bool

	// LocalPublicKey returns this node's overlay identity.
	LocalPublicKey() string

	// AdvertiseAddr returns the publicly-reachable address of this node.
	AdvertiseAddr() string

	// Close tears down the listener and every connection.
	Close() error
}
