// Package taut wires the daemon together: one protocol node per configured
// lightning node, a shared address book, the audit ledgers, and the optional
// status service.
package taut

import (
	"crypto/ecdsa"
	"fmt"
	stdnet "net"
	"os"
	"strconv"

	"github.com/taut-ln/taut/src/audit"
	"github.com/taut-ln/taut/src/config"
	"github.com/taut-ln/taut/src/crypto"
	"github.com/taut-ln/taut/src/crypto/keys"
	"github.com/taut-ln/taut/src/lightning"
	"github.com/taut-ln/taut/src/net"
	"github.com/taut-ln/taut/src/node"
	"github.com/taut-ln/taut/src/peers"
	"github.com/taut-ln/taut/src/service"
)

// Taut is the top-level engine. Each configured lightning node gets its own
// protocol node with its own overlay identity, listening port and ledgers.
type Taut struct {
	Config  *config.Config
	Nodes   []*node.Node
	Peers   peers.PeerStore
	Service *service.Service

	registry *audit.Registry
}

// NewTaut instantiates an engine with a config object. Call Init before Run.
func NewTaut(conf *config.Config) *Taut {
	return &Taut{
		Config:   conf,
		registry: audit.NewRegistry(),
	}
}

// Init builds every component from the configuration. It fails fast; after a
// successful Init the daemon only degrades and logs, never exits.
func (t *Taut) Init() error {
	if t.Config.Secret == "" {
		return fmt.Errorf("no cluster secret configured")
	}

	if len(t.Config.LightningNodes) == 0 {
		return fmt.Errorf("no lightning nodes configured")
	}

	if err := os.MkdirAll(t.Config.StorageDir(), 0700); err != nil {
		return err
	}

	if err := t.initPeers(); err != nil {
		return err
	}

	if err := t.initNodes(); err != nil {
		return err
	}

	if err := t.initService(); err != nil {
		return err
	}

	return nil
}

func (t *Taut) initPeers() error {
	t.Peers = peers.NewJSONPeers(t.Config.DataDir)

	known, err := t.Peers.Peers()
	if err != nil {
		// first run: start with an empty address book the operator can edit
		if err := t.Peers.SetPeers([]*peers.Peer{}); err != nil {
			return err
		}
	}

	t.Config.Logger().WithField("peers", len(known)).Debug("Loaded address book")

	return nil
}

func (t *Taut) initNodes() error {
	logger := t.Config.Logger()
	topic := crypto.Topic(t.Config.Secret)

	for i, creds := range t.Config.LightningNodes {
		moniker := t.Config.Moniker
		if len(t.Config.LightningNodes) > 1 {
			moniker = fmt.Sprintf("%s-%d", t.Config.Moniker, i)
		}

		key, err := t.initKey(i)
		if err != nil {
			return err
		}
		publicKey := keys.PublicKeyHex(&key.PublicKey)

		backend, err := lightning.New(creds, logger.WithField("moniker", moniker))
		if err != nil {
			return err
		}

		bindAddr, err := offsetPort(t.Config.BindAddr, i)
		if err != nil {
			return err
		}

		advertiseAddr := ""
		if t.Config.AdvertiseAddr != "" {
			advertiseAddr, err = offsetPort(t.Config.AdvertiseAddr, i)
			if err != nil {
				return err
			}
		}

		trans, err := net.NewTCPTransport(
			bindAddr,
			advertiseAddr,
			topic,
			publicKey,
			moniker,
			t.Config.TCPTimeout,
			t.Config.KeepAlivePeriod,
			logger.WithField("moniker", moniker),
		)
		if err != nil {
			return err
		}

		events, err := t.registry.Open(t.Config.LedgerPath(ledgerName(t.Config.Audit.EventLog, i)))
		if err != nil {
			return err
		}

		transactions, err := t.registry.Open(t.Config.LedgerPath(ledgerName(t.Config.Audit.TransactionLog, i)))
		if err != nil {
			return err
		}

		auditLogger := audit.NewLogger(
			events,
			logger.WithField("moniker", moniker),
			t.Config.Audit.Verbose,
			t.Config.Audit.ShouldMask,
		)

		resolver := t.Config.Resolver()

		coordinator := node.NewCoordinator(
			backend,
			resolver,
			auditLogger,
			t.Config.InvoiceLifespan,
			logger.WithField("moniker", moniker),
		)

		gatekeeper := node.NewGatekeeper(
			backend,
			coordinator,
			resolver,
			audit.NewTransactionLedger(transactions),
			auditLogger,
			logger.WithField("moniker", moniker),
		)

		conf := node.NewConfig(
			moniker,
			t.Config.Secret,
			t.Config.DialInterval,
			t.Config.InvoiceLifespan,
			logger,
		)

		n := node.NewNode(conf, trans, backend, coordinator, gatekeeper, t.Peers, auditLogger)

		if err := n.Init(); err != nil {
			return fmt.Errorf("failed to initialize node %s: %s", moniker, err)
		}

		t.Nodes = append(t.Nodes, n)
	}

	return nil
}

// initKey loads or creates the overlay identity of node i. Each node has its
// own keyfile so local nodes present distinct identities on the overlay.
func (t *Taut) initKey(i int) (*ecdsa.PrivateKey, error) {
	keyfile := keys.NewSimpleKeyfile(keyfilePath(t.Config, i))

	key, err := keyfile.ReadKey()
	if err != nil {
		t.Config.Logger().WithError(err).Warn("Cannot read private key from file")

		key, err = keys.GenerateECDSAKey()
		if err != nil {
			return nil, err
		}

		if err := keyfile.WriteKey(key); err != nil {
			return nil, err
		}

		t.Config.Logger().WithField("publicKey", keys.PublicKeyHex(&key.PublicKey)).Info("Created a new key")
	}

	return key, nil
}

func (t *Taut) initService() error {
	if !t.Config.NoService && t.Config.ServiceAddr != "" {
		t.Service = service.NewService(
			t.Config.ServiceAddr,
			t.Nodes,
			t.Peers,
			t.Config.Logger(),
		)
	}
	return nil
}

// Run starts the service and every node. It blocks until Shutdown.
func (t *Taut) Run() {
	if t.Service != nil {
		go t.Service.Serve()
	}

	for _, n := range t.Nodes[1:] {
		go n.Run()
	}

	t.Nodes[0].Run()
}

// Shutdown stops every node and closes the ledgers.
func (t *Taut) Shutdown() {
	for _, n := range t.Nodes {
		n.Shutdown()
	}

	if err := t.registry.Close(); err != nil {
		t.Config.Logger().WithError(err).Error("closing ledgers")
	}
}

// keyfilePath returns the keyfile of node i. The first node uses the plain
// keyfile, so keygen and single-node setups agree on its location.
func keyfilePath(conf *config.Config, i int) string {
	if i == 0 {
		return conf.Keyfile()
	}
	return fmt.Sprintf("%s.%d", conf.Keyfile(), i)
}

// ledgerName suffixes a ledger name for nodes beyond the first.
func ledgerName(name string, i int) string {
	if i == 0 {
		return name
	}
	return fmt.Sprintf("%s.%d", name, i)
}

// offsetPort shifts the port of a host:port address by n, giving each local
// node its own listening port.
func offsetPort(address string, n int) (string, error) {
	if n == 0 {
		return address, nil
	}

	host, portStr, err := stdnet.SplitHostPort(address)
	if err != nil {
		return "", err
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", err
	}

	return stdnet.JoinHostPort(host, strconv.Itoa(port+n)), nil
}
