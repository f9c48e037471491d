// Package node ties one lightning node into the cluster: it maintains the
// overlay connections, authenticates every message, and runs the rebalance
// coordinator and payment gatekeeper against the node's backend.
package node

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taut-ln/taut/src/audit"
	"github.com/taut-ln/taut/src/lightning"
	"github.com/taut-ln/taut/src/net"
	"github.com/taut-ln/taut/src/peers"
)

// replayWindow bounds how long a captured message can be replayed, and
// tolerates modest clock skew between peers.
const replayWindow = 5000 * time.Millisecond

// channelOwner records which peer speaks for a shared channel.
type channelOwner struct {
	remotePeer      string
	remoteLightning string
}

// Node runs the coordination protocol for one lightning node. The main loop
// owns the protocol state; message handlers run in bounded goroutines.
type Node struct {
	state

	conf        *Config
	logger      *logrus.Entry
	trans       net.Transport
	backend     lightning.NodeBackend
	coordinator *Coordinator
	gatekeeper  *Gatekeeper
	peerStore   peers.PeerStore
	audit       *audit.Logger

	coreLock      sync.Mutex
	channelOwners map[string]channelOwner

	pollTimer *ControlTimer
	dialTimer *ControlTimer

	ctx    context.Context
	cancel context.CancelFunc

	shutdownCh chan struct{}
	exit       sync.Once
}

// NewNode is the Node constructor.
func NewNode(
	conf *Config,
	trans net.Transport,
	backend lightning.NodeBackend,
	coordinator *Coordinator,
	gatekeeper *Gatekeeper,
	peerStore peers.PeerStore,
	auditLogger *audit.Logger,
) *Node {
	ctx, cancel := context.WithCancel(context.Background())

	return &Node{
		conf:          conf,
		logger:        conf.Logger.WithField("moniker", conf.Moniker),
		trans:         trans,
		backend:       backend,
		coordinator:   coordinator,
		gatekeeper:    gatekeeper,
		peerStore:     peerStore,
		audit:         auditLogger,
		channelOwners: map[string]channelOwner{},
		pollTimer:     NewIntervalControlTimer(),
		dialTimer:     NewIntervalControlTimer(),
		ctx:           ctx,
		cancel:        cancel,
		shutdownCh:    make(chan struct{}),
	}
}

// Init connects the backend and primes the channel cache. It must be called
// before Run.
func (n *Node) Init() error {
	n.audit.Event("booting", map[string]interface{}{"moniker": n.conf.Moniker})

	if err := n.backend.Connect(n.ctx); err != nil {
		return err
	}

	n.audit.Event("lightningConnected", map[string]interface{}{
		"alias":     n.backend.Alias(),
		"publicKey": n.backend.PublicKey(),
		"type":      n.backend.NodeType(),
	})

	n.coordinator.Refresh(n.ctx)

	return nil
}

// Run starts the transport and services the main loop until Shutdown.
func (n *Node) Run() {
	n.setState(Balancing)

	go n.pollTimer.Run(n.coordinator.PollInterval())
	go n.dialTimer.Run(n.conf.DialInterval)

	n.trans.Listen()
	n.dialPeers()

	for {
		select {
		case <-n.pollTimer.tickCh:
			n.goFunc(func() { n.coordinator.Poll(n.ctx) })
			n.pollTimer.resetCh <- n.coordinator.PollInterval()

		case <-n.dialTimer.tickCh:
			n.dialPeers()
			n.dialTimer.resetCh <- n.conf.DialInterval

		case ev := <-n.trans.Events():
			n.handleConnEvent(ev)

		case in := <-n.trans.Consumer():
			n.goFunc(func() { n.handleMessage(in) })

		case req := <-n.coordinator.Requests():
			n.requestRebalance(req)

		case <-n.shutdownCh:
			return
		}
	}
}

// Shutdown tears the node down: timers first, then the transport, then the
// backend, so no peer message is answered after the transport is gone.
func (n *Node) Shutdown() {
	n.exit.Do(func() {
		n.logger.Debug("shutdown")
		n.audit.Event("shutdown", map[string]interface{}{"moniker": n.conf.Moniker})

		n.setState(Shutdown)
		close(n.shutdownCh)
		n.cancel()

		n.pollTimer.Shutdown()
		n.dialTimer.Shutdown()

		n.trans.Close()

		n.waitRoutines()

		if err := n.backend.Disconnect(); err != nil {
			n.logger.WithError(err).Error("disconnecting backend")
		}
	})
}

// GetState returns the node's current state.
func (n *Node) GetState() State {
	return n.getState()
}

// dialPeers attempts a connection to every address book entry without a
// live connection dialed by us.
func (n *Node) dialPeers() {
	known, err := n.peerStore.Peers()
	if err != nil {
		n.logger.WithError(err).Debug("reading address book")
		return
	}

	for _, p := range known {
		addr := p.NetAddr
		if addr == n.trans.AdvertiseAddr() || n.trans.IsDialed(addr) {
			continue
		}

		n.goFunc(func() {
			if err := n.trans.Dial(addr); err != nil {
				n.logger.WithField("addr", addr).WithError(err).Debug("dialing peer")
			}
		})
	}
}

func (n *Node) handleConnEvent(ev net.ConnEvent) {
	switch ev.Type {
	case net.Connected:
		n.audit.Event("peerConnected", map[string]interface{}{"remotePeer": ev.PublicKey})

		n.goFunc(func() { n.sendHello(ev.PublicKey) })

	case net.Disconnected:
		n.audit.Event("peerDisconnected", map[string]interface{}{"remotePeer": ev.PublicKey})

		n.dropOwnership(ev.PublicKey)
	}
}

// sendHello announces the lightning node behind us to a freshly connected
// peer.
func (n *Node) sendHello(remotePeer string) {
	n.send(remotePeer, net.Hello{
		Type:        net.TypeHello,
		LnPublicKey: n.backend.PublicKey(),
		LnAlias:     n.backend.Alias(),
	})
}

// dropOwnership unwatches and forgets every channel owned by the peer.
func (n *Node) dropOwnership(remotePeer string) {
	n.coreLock.Lock()
	var dropped []string
	for id, owner := range n.channelOwners {
		if owner.remotePeer == remotePeer {
			dropped = append(dropped, id)
			delete(n.channelOwners, id)
		}
	}
	n.coreLock.Unlock()

	for _, id := range dropped {
		n.coordinator.Unwatch(id)
	}
}

// handleMessage authenticates one inbound envelope and dispatches it.
func (n *Node) handleMessage(in net.Inbound) {
	env := in.Envelope

	if !env.Verify(n.conf.Secret, in.PublicKey) {
		n.audit.Event("errorBadSig", map[string]interface{}{
			"remotePeer": in.PublicKey,
			"message":    string(env.Message),
		})
		return
	}

	age := time.Since(time.UnixMilli(env.Timestamp))
	if age < 0 {
		age = -age
	}
	if age > replayWindow {
		n.audit.Event("errorOldMsg", map[string]interface{}{
			"remotePeer": in.PublicKey,
			"messageAge": age.Milliseconds(),
			"message":    string(env.Message),
		})
		return
	}

	switch env.MessageType() {
	case net.TypeHello:
		var msg net.Hello
		if err := env.Open(&msg); err == nil {
			n.handleHello(in.PublicKey, msg)
		}

	case net.TypePayInvoice:
		var msg net.PayInvoice
		if err := env.Open(&msg); err == nil {
			n.handlePayInvoice(in.PublicKey, msg)
		}

	case net.TypePaymentResult:
		var msg net.PaymentResult
		if err := env.Open(&msg); err == nil {
			n.handlePaymentResult(in.PublicKey, msg)
		}

	default:
		n.logger.WithFields(logrus.Fields{
			"remotePeer": in.PublicKey,
			"type":       env.MessageType(),
		}).Warning("unknown action from remote peer")
	}
}

// handleHello records ownership of every channel shared with the announcing
// peer and starts watching those channels.
func (n *Node) handleHello(remotePeer string, msg net.Hello) {
	n.audit.Event("peerHello", map[string]interface{}{
		"remotePeer": remotePeer,
		"publicKey":  msg.LnPublicKey,
		"alias":      msg.LnAlias,
	})

	channels := n.coordinator.FindChannelsByPeer(n.ctx, msg.LnPublicKey)

	for _, c := range channels {
		n.audit.Event("peerSharedChannel", map[string]interface{}{
			"remotePeer":  remotePeer,
			"remoteAlias": msg.LnAlias,
			"localAlias":  n.backend.Alias(),
			"channelId":   c.ID,
		})

		n.coreLock.Lock()
		n.channelOwners[c.ID] = channelOwner{
			remotePeer:      remotePeer,
			remoteLightning: msg.LnPublicKey,
		}
		n.coreLock.Unlock()

		n.coordinator.Watch(c.ID)
	}
}

// handlePayInvoice runs the gatekeeper and replies with the outcome.
func (n *Node) handlePayInvoice(remotePeer string, msg net.PayInvoice) {
	n.audit.Event("onPayInvoice", map[string]interface{}{
		"channelId": msg.ChannelID,
		"invoice":   msg.Invoice,
		"amount":    msg.Tokens.String(),
	})

	result := n.gatekeeper.PayInvoice(n.ctx, msg)

	n.send(remotePeer, result)
}

// handlePaymentResult forwards the outcome to the coordinator's cooldown
// release.
func (n *Node) handlePaymentResult(remotePeer string, msg net.PaymentResult) {
	n.audit.Event("onPaymentResult", map[string]interface{}{
		"remotePeer": remotePeer,
		"channelId":  msg.ChannelID,
		"confirmed":  msg.Confirmed,
		"reason":     msg.Reason,
	})

	n.coordinator.ConfirmPayment(msg)
}

// requestRebalance routes an invoice to the peer owning the channel.
func (n *Node) requestRebalance(req RebalanceRequest) {
	n.coreLock.Lock()
	owner, ok := n.channelOwners[req.Channel.ID]
	n.coreLock.Unlock()

	if !ok {
		return
	}

	n.audit.Event("onRequestRebalance", map[string]interface{}{
		"remotePeer": owner.remotePeer,
		"invoice":    req.Invoice,
		"amount":     req.Tokens.String(),
		"channelId":  req.Channel.ID,
	})

	n.send(owner.remotePeer, net.PayInvoice{
		Type:      net.TypePayInvoice,
		Invoice:   req.Invoice,
		Tokens:    req.Tokens,
		ChannelID: req.Channel.ID,
		PaidTo:    n.backend.PublicKey(),
	})
}

// send seals a message and writes it to the peer. A missing connection is a
// no-op; the message is never queued or retried at this layer.
func (n *Node) send(remotePeer string, message interface{}) {
	env, err := net.Seal(n.conf.Secret, n.trans.LocalPublicKey(), message)
	if err != nil {
		n.logger.WithError(err).Error("sealing message")
		return
	}

	if err := n.trans.Send(remotePeer, env); err != nil {
		n.audit.Event("missingConnection", map[string]interface{}{"remotePeer": remotePeer})
	}
}

// Stats returns a snapshot of the node for the status service.
func (n *Node) Stats() map[string]string {
	n.coreLock.Lock()
	owned := len(n.channelOwners)
	remotes := map[string]bool{}
	for _, owner := range n.channelOwners {
		remotes[owner.remotePeer] = true
	}
	n.coreLock.Unlock()

	return map[string]string{
		"moniker":        n.conf.Moniker,
		"state":          n.getState().String(),
		"ln_alias":       n.backend.Alias(),
		"ln_public_key":  n.backend.PublicKey(),
		"ln_type":        n.backend.NodeType(),
		"peers":          strconv.Itoa(len(remotes)),
		"owned_channels": strconv.Itoa(owned),
		"watched":        strconv.Itoa(len(n.coordinator.Watched())),
		"cooldowns":      strconv.Itoa(len(n.coordinator.Cooldowns())),
	}
}

// Channels returns the coordinator's current view of the backend channels.
func (n *Node) Channels() []lightning.Channel {
	return n.coordinator.Refresh(n.ctx)
}

// Moniker returns the node's configured moniker.
func (n *Node) Moniker() string {
	return n.conf.Moniker
}
