package lightning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var msatPerSat = decimal.NewFromInt(1000)

// ClnRestBackend talks to a core-lightning node through its REST plugin,
// authenticated with a hex-encoded macaroon header.
type ClnRestBackend struct {
	creds  Credentials
	logger *logrus.Entry
	http   *http.Client

	publicKey string
	alias     string
	version   string
}

// NewClnRestBackend returns an unconnected core-lightning backend.
func NewClnRestBackend(creds Credentials, logger *logrus.Entry) *ClnRestBackend {
	return &ClnRestBackend{
		creds:  creds,
		logger: logger.WithField("backend", "cln-rest"),
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// NodeType implements the NodeBackend interface.
func (c *ClnRestBackend) NodeType() string { return "Core Lightning" }

// PublicKey implements the NodeBackend interface.
func (c *ClnRestBackend) PublicKey() string { return c.publicKey }

// Alias implements the NodeBackend interface.
func (c *ClnRestBackend) Alias() string { return c.alias }

// HasConnection implements the NodeBackend interface.
func (c *ClnRestBackend) HasConnection() bool { return c.publicKey != "" }

func (c *ClnRestBackend) callAPI(ctx context.Context, method, path string, params interface{}, out interface{}) error {
	var body io.Reader
	if params != nil {
		buf, err := json.Marshal(params)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.creds.Socket+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("macaroon", c.creds.Macaroon)
	req.Header.Set("encodingtype", "hex")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, msg)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// Connect implements the NodeBackend interface. It reads the node identity
// to verify the credentials work.
func (c *ClnRestBackend) Connect(ctx context.Context) error {
	var info struct {
		ID      string `json:"id"`
		Alias   string `json:"alias"`
		Version string `json:"version"`
	}

	if err := c.callAPI(ctx, http.MethodGet, "/v1/getinfo", nil, &info); err != nil {
		return err
	}

	c.publicKey = info.ID
	c.alias = info.Alias
	c.version = info.Version

	c.logger.WithFields(logrus.Fields{
		"alias":      c.alias,
		"public_key": c.publicKey,
		"ln_version": c.version,
	}).Debug("connected")

	return nil
}

// Disconnect implements the NodeBackend interface.
func (c *ClnRestBackend) Disconnect() error {
	c.publicKey = ""
	c.alias = "disconnected"
	return nil
}

// ListChannels implements the NodeBackend interface.
func (c *ClnRestBackend) ListChannels(ctx context.Context) ([]Channel, error) {
	var list []struct {
		ShortChannelID string `json:"short_channel_id"`
		ID             string `json:"id"`
		MsatoshiToUs   int64  `json:"msatoshi_to_us"`
		MsatoshiToThem int64  `json:"msatoshi_to_them"`
		MsatoshiTotal  int64  `json:"msatoshi_total"`
		Connected      bool   `json:"connected"`
		Private        bool   `json:"private"`
	}

	if err := c.callAPI(ctx, http.MethodGet, "/v1/channel/listChannels", nil, &list); err != nil {
		return nil, err
	}

	channels := make([]Channel, 0, len(list))
	for _, ch := range list {
		channels = append(channels, Channel{
			ID:              ch.ShortChannelID,
			LocalAlias:      c.alias,
			LocalPublicKey:  c.publicKey,
			RemotePublicKey: ch.ID,
			LocalBalance:    decimal.NewFromInt(ch.MsatoshiToUs).Div(msatPerSat),
			RemoteBalance:   decimal.NewFromInt(ch.MsatoshiToThem).Div(msatPerSat),
			Capacity:        decimal.NewFromInt(ch.MsatoshiTotal).Div(msatPerSat),
			IsActive:        ch.Connected,
			IsPrivate:       ch.Private,
		})
	}

	return channels, nil
}

// CreateInvoice implements the NodeBackend interface. Invoices need a unique
// label on core-lightning.
func (c *ClnRestBackend) CreateInvoice(ctx context.Context, amount decimal.Decimal, lifespan time.Duration) (string, error) {
	var invoice struct {
		Bolt11 string `json:"bolt11"`
	}

	params := map[string]interface{}{
		"amount":      amount.Mul(msatPerSat).IntPart(),
		"description": invoiceMemo,
		"expiry":      int64(lifespan / time.Second),
		"label":       uuid.NewString(),
	}

	if err := c.callAPI(ctx, http.MethodPost, "/v1/invoice/genInvoice", params, &invoice); err != nil {
		return "", err
	}

	return invoice.Bolt11, nil
}

// PayInvoice implements the NodeBackend interface.
func (c *ClnRestBackend) PayInvoice(ctx context.Context, invoice string, channelHint string) (*Payment, error) {
	var payment struct {
		PaymentHash     string `json:"payment_hash"`
		Status          string `json:"status"`
		CreatedAt       int64  `json:"created_at"`
		PaymentPreimage string `json:"payment_preimage"`
	}

	params := map[string]interface{}{"invoice": invoice}
	if err := c.callAPI(ctx, http.MethodPost, "/v1/pay", params, &payment); err != nil {
		return nil, err
	}

	return &Payment{
		PaymentID:   payment.PaymentHash,
		Confirmed:   payment.Status == "complete",
		ConfirmedAt: time.Unix(payment.CreatedAt, 0).UTC().Format(time.RFC3339),
		Preimage:    payment.PaymentPreimage,
	}, nil
}

// DecodeInvoice implements the NodeBackend interface.
func (c *ClnRestBackend) DecodeInvoice(ctx context.Context, invoice string) (*Invoice, error) {
	var decoded struct {
		Msatoshi int64  `json:"msatoshi"`
		Payee    string `json:"payee"`
	}

	if err := c.callAPI(ctx, http.MethodGet, "/v1/pay/decodepay/"+invoice, nil, &decoded); err != nil {
		return nil, err
	}

	return &Invoice{
		Amount:      decimal.NewFromInt(decoded.Msatoshi).Div(msatPerSat),
		Destination: decoded.Payee,
	}, nil
}
