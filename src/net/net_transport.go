package net

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// handshake is the single frame each side sends on a fresh connection,
// before any envelope. A peer presenting the wrong topic does not hold the
// cluster secret and is dropped.
type handshake struct {
	Topic     string `json:"topic"`
	PublicKey string `json:"publicKey"`
	Moniker   string `json:"moniker"`
}

// peerConn is one live connection after a successful handshake.
type peerConn struct {
	conn      net.Conn
	publicKey string
	moniker   string
	dialAddr  string
	enc       *json.Encoder
	dec       *json.Decoder
	writeLock sync.Mutex
}

// NetworkTransport carries envelopes over a StreamLayer. Both sides of every
// connection prove membership by presenting the topic derived from the
// cluster secret; after that, envelopes flow in both directions until one
// side goes away.
type NetworkTransport struct {
	stream    StreamLayer
	topic     string
	publicKey string
	moniker   string
	timeout   time.Duration
	keepAlive time.Duration
	logger    *logrus.Entry

	connLock sync.Mutex
	conns    map[string]*peerConn

	consumerCh chan Inbound
	eventCh    chan ConnEvent

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
}

// NewNetworkTransport returns a transport ready to Listen. timeout bounds
// handshakes and individual writes; keepAlive is applied to TCP connections.
func NewNetworkTransport(
	stream StreamLayer,
	topic string,
	publicKey string,
	moniker string,
	timeout time.Duration,
	keepAlive time.Duration,
	logger *logrus.Entry,
) *NetworkTransport {
	return &NetworkTransport{
		stream:     stream,
		topic:      topic,
		publicKey:  publicKey,
		moniker:    moniker,
		timeout:    timeout,
		keepAlive:  keepAlive,
		logger:     logger.WithField("component", "transport"),
		conns:      map[string]*peerConn{},
		consumerCh: make(chan Inbound, 128),
		eventCh:    make(chan ConnEvent, 16),
		shutdownCh: make(chan struct{}),
	}
}

// Consumer implements the Transport interface.
func (n *NetworkTransport) Consumer() <-chan Inbound {
	return n.consumerCh
}

// Events implements the Transport interface.
func (n *NetworkTransport) Events() <-chan ConnEvent {
	return n.eventCh
}

// AdvertiseAddr implements the Transport interface.
func (n *NetworkTransport) AdvertiseAddr() string {
	return n.stream.AdvertiseAddr()
}

// LocalPublicKey returns this node's overlay identity.
func (n *NetworkTransport) LocalPublicKey() string {
	return n.publicKey
}

// Listen implements the Transport interface.
func (n *NetworkTransport) Listen() {
	go n.listen()
}

func (n *NetworkTransport) listen() {
	for {
		conn, err := n.stream.Accept()
		if err != nil {
			select {
			case <-n.shutdownCh:
				return
			default:
				n.logger.WithError(err).Error("failed to accept connection")
				return
			}
		}

		n.logger.WithFields(logrus.Fields{
			"node": n.stream.Addr().String(),
			"from": conn.RemoteAddr().String(),
		}).Debug("accepted connection")

		go func() {
			if _, err := n.setup(conn, ""); err != nil {
				n.logger.WithError(err).Debug("inbound handshake failed")
			}
		}()
	}
}

// Dial implements the Transport interface.
func (n *NetworkTransport) Dial(address string) error {
	conn, err := n.stream.Dial(address, n.timeout)
	if err != nil {
		return err
	}

	_, err = n.setup(conn, address)
	return err
}

// IsDialed implements the Transport interface.
func (n *NetworkTransport) IsDialed(address string) bool {
	n.connLock.Lock()
	defer n.connLock.Unlock()

	for _, pc := range n.conns {
		if pc.dialAddr == address {
			return true
		}
	}
	return false
}

// setup exchanges handshakes on a fresh connection and, on success,
// registers it and starts its reader. dialAddr is empty for inbound
// connections.
func (n *NetworkTransport) setup(conn net.Conn, dialAddr string) (*peerConn, error) {
	if tcp, ok := conn.(*net.TCPConn); ok && n.keepAlive > 0 {
		tcp.SetKeepAlive(true)
		tcp.SetKeepAlivePeriod(n.keepAlive)
	}

	pc := &peerConn{
		conn:     conn,
		dialAddr: dialAddr,
		enc:      json.NewEncoder(conn),
		dec:      json.NewDecoder(conn),
	}

	conn.SetDeadline(time.Now().Add(n.timeout))

	// Both sides send their frame first. The write runs concurrently with
	// the read because a synchronous pipe cannot buffer it.
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- pc.enc.Encode(handshake{
			Topic:     n.topic,
			PublicKey: n.publicKey,
			Moniker:   n.moniker,
		})
	}()

	var hs handshake
	if err := pc.dec.Decode(&hs); err != nil {
		conn.Close()
		<-writeErr
		return nil, err
	}

	if err := <-writeErr; err != nil {
		conn.Close()
		return nil, err
	}

	conn.SetDeadline(time.Time{})

	if hs.Topic != n.topic {
		conn.Close()
		return nil, fmt.Errorf("peer %s presented the wrong topic", conn.RemoteAddr())
	}
	if hs.PublicKey == "" || hs.PublicKey == n.publicKey {
		conn.Close()
		return nil, fmt.Errorf("peer %s presented an unusable identity", conn.RemoteAddr())
	}

	pc.publicKey = hs.PublicKey
	pc.moniker = hs.Moniker

	n.register(pc)

	go n.readLoop(pc)

	return pc, nil
}

// register installs the connection, replacing any previous connection for
// the same public key. The most recent connection wins.
func (n *NetworkTransport) register(pc *peerConn) {
	n.connLock.Lock()
	if old, ok := n.conns[pc.publicKey]; ok {
		old.conn.Close()
	}
	n.conns[pc.publicKey] = pc
	n.connLock.Unlock()

	n.logger.WithFields(logrus.Fields{
		"peer":    pc.publicKey,
		"moniker": pc.moniker,
	}).Debug("peer connected")

	n.emitEvent(ConnEvent{
		Type:      Connected,
		PublicKey: pc.publicKey,
		Moniker:   pc.moniker,
	})
}

// deregister removes the connection if it still owns its key. A replaced
// connection does not tear down its successor.
func (n *NetworkTransport) deregister(pc *peerConn) {
	n.connLock.Lock()
	owner := n.conns[pc.publicKey] == pc
	if owner {
		delete(n.conns, pc.publicKey)
	}
	n.connLock.Unlock()

	pc.conn.Close()

	if !owner {
		return
	}

	n.logger.WithField("peer", pc.publicKey).Debug("peer disconnected")

	n.emitEvent(ConnEvent{
		Type:      Disconnected,
		PublicKey: pc.publicKey,
		Moniker:   pc.moniker,
	})
}

func (n *NetworkTransport) emitEvent(ev ConnEvent) {
	select {
	case n.eventCh <- ev:
	case <-n.shutdownCh:
	}
}

func (n *NetworkTransport) readLoop(pc *peerConn) {
	for {
		var env Envelope
		if err := pc.dec.Decode(&env); err != nil {
			n.deregister(pc)
			return
		}

		select {
		case n.consumerCh <- Inbound{PublicKey: pc.publicKey, Envelope: &env}:
		case <-n.shutdownCh:
			return
		}
	}
}

// Send implements the Transport interface.
func (n *NetworkTransport) Send(publicKey string, env *Envelope) error {
	n.connLock.Lock()
	pc, ok := n.conns[publicKey]
	n.connLock.Unlock()

	if !ok {
		return ErrNoConnection
	}

	pc.writeLock.Lock()
	pc.conn.SetWriteDeadline(time.Now().Add(n.timeout))
	err := pc.enc.Encode(env)
	pc.writeLock.Unlock()

	if err != nil {
		n.deregister(pc)
		return err
	}

	return nil
}

// Close implements the Transport interface.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()

	if n.shutdown {
		return nil
	}

	n.shutdown = true
	close(n.shutdownCh)

	n.connLock.Lock()
	for _, pc := range n.conns {
		pc.conn.Close()
	}
	n.conns = map[string]*peerConn{}
	n.connLock.Unlock()

	return n.stream.Close()
}
