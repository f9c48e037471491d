package lightning

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/macaroons"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	macaroon "gopkg.in/macaroon.v2"
)

const invoiceMemo = "channel rebalance"

// LndBackend talks to an lnd node over its gRPC interface, authenticated
// with a TLS certificate and an admin macaroon.
type LndBackend struct {
	creds  Credentials
	logger *logrus.Entry

	conn   *grpc.ClientConn
	client lnrpc.LightningClient

	publicKey string
	alias     string
	version   string
}

// NewLndBackend returns an unconnected lnd backend.
func NewLndBackend(creds Credentials, logger *logrus.Entry) *LndBackend {
	return &LndBackend{
		creds:  creds,
		logger: logger.WithField("backend", "lnd"),
	}
}

// NodeType implements the NodeBackend interface.
func (l *LndBackend) NodeType() string { return "LND" }

// PublicKey implements the NodeBackend interface.
func (l *LndBackend) PublicKey() string { return l.publicKey }

// Alias implements the NodeBackend interface.
func (l *LndBackend) Alias() string { return l.alias }

// HasConnection implements the NodeBackend interface.
func (l *LndBackend) HasConnection() bool { return l.conn != nil }

// Connect implements the NodeBackend interface. It dials the gRPC socket and
// reads the wallet identity.
func (l *LndBackend) Connect(ctx context.Context) error {
	if l.conn != nil {
		return nil
	}

	tlsCreds, err := credentials.NewClientTLSFromFile(l.creds.Cert, "")
	if err != nil {
		return fmt.Errorf("loading tls cert: %w", err)
	}

	macBytes, err := os.ReadFile(l.creds.Macaroon)
	if err != nil {
		return fmt.Errorf("reading macaroon: %w", err)
	}

	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macBytes); err != nil {
		return fmt.Errorf("parsing macaroon: %w", err)
	}

	macCred, err := macaroons.NewMacaroonCredential(mac)
	if err != nil {
		return fmt.Errorf("wrapping macaroon: %w", err)
	}

	conn, err := grpc.Dial(
		l.creds.Socket,
		grpc.WithTransportCredentials(tlsCreds),
		grpc.WithPerRPCCredentials(macCred),
	)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", l.creds.Socket, err)
	}

	client := lnrpc.NewLightningClient(conn)

	info, err := client.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		conn.Close()
		return fmt.Errorf("getinfo: %w", err)
	}

	l.conn = conn
	l.client = client
	l.publicKey = info.IdentityPubkey
	l.alias = info.Alias
	l.version = info.Version

	l.logger.WithFields(logrus.Fields{
		"alias":      l.alias,
		"public_key": l.publicKey,
		"ln_version": l.version,
	}).Debug("connected")

	return nil
}

// Disconnect implements the NodeBackend interface.
func (l *LndBackend) Disconnect() error {
	if l.conn == nil {
		return nil
	}

	err := l.conn.Close()
	l.conn = nil
	l.client = nil
	l.publicKey = ""
	l.alias = "disconnected"

	return err
}

// ListChannels implements the NodeBackend interface.
func (l *LndBackend) ListChannels(ctx context.Context) ([]Channel, error) {
	resp, err := l.client.ListChannels(ctx, &lnrpc.ListChannelsRequest{})
	if err != nil {
		return nil, err
	}

	channels := make([]Channel, 0, len(resp.Channels))
	for _, c := range resp.Channels {
		channels = append(channels, Channel{
			ID:              strconv.FormatUint(c.ChanId, 10),
			LocalAlias:      l.alias,
			LocalPublicKey:  l.publicKey,
			RemotePublicKey: c.RemotePubkey,
			LocalBalance:    decimal.NewFromInt(c.LocalBalance),
			RemoteBalance:   decimal.NewFromInt(c.RemoteBalance),
			Capacity:        decimal.NewFromInt(c.Capacity),
			IsActive:        c.Active,
			IsPrivate:       c.Private,
		})
	}

	return channels, nil
}

// CreateInvoice implements the NodeBackend interface.
func (l *LndBackend) CreateInvoice(ctx context.Context, amount decimal.Decimal, lifespan time.Duration) (string, error) {
	resp, err := l.client.AddInvoice(ctx, &lnrpc.Invoice{
		Memo:   invoiceMemo,
		Value:  amount.IntPart(),
		Expiry: int64(lifespan / time.Second),
	})
	if err != nil {
		return "", err
	}

	return resp.PaymentRequest, nil
}

// PayInvoice implements the NodeBackend interface.
func (l *LndBackend) PayInvoice(ctx context.Context, invoice string, channelHint string) (*Payment, error) {
	req := &lnrpc.SendRequest{
		PaymentRequest: invoice,
	}

	if channelHint != "" {
		if chanID, err := strconv.ParseUint(channelHint, 10, 64); err == nil {
			req.OutgoingChanId = chanID
		}
	}

	resp, err := l.client.SendPaymentSync(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.PaymentError != "" {
		return &Payment{Confirmed: false}, fmt.Errorf("payment failed: %s", resp.PaymentError)
	}

	return &Payment{
		PaymentID:   hex.EncodeToString(resp.PaymentHash),
		Confirmed:   true,
		ConfirmedAt: time.Now().UTC().Format(time.RFC3339),
		Preimage:    hex.EncodeToString(resp.PaymentPreimage),
	}, nil
}

// DecodeInvoice implements the NodeBackend interface.
func (l *LndBackend) DecodeInvoice(ctx context.Context, invoice string) (*Invoice, error) {
	resp, err := l.client.DecodePayReq(ctx, &lnrpc.PayReqString{PayReq: invoice})
	if err != nil {
		return nil, err
	}

	return &Invoice{
		Amount:      decimal.NewFromInt(resp.NumSatoshis),
		Destination: resp.Destination,
	}, nil
}
