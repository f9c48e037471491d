// Package net implements the cluster overlay: signed protocol envelopes and
// the transports that carry them between peers holding the same secret.
package net

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taut-ln/taut/src/crypto"
)

// Message types.
const (
	TypeHello         = "hello"
	TypePayInvoice    = "payInvoice"
	TypePaymentResult = "paymentResult"
)

// Envelope is the wire form of one protocol message: the payload, the
// sender's clock, and a keyed hash binding payload, timestamp and sender
// identity to the cluster secret.
type Envelope struct {
	Message   json.RawMessage `json:"message"`
	Timestamp int64           `json:"timestamp"`
	Signature string          `json:"signature"`
}

// Hello announces the lightning node behind a peer. It is the first message
// on every connection.
type Hello struct {
	Type        string `json:"type"`
	LnPublicKey string `json:"lnPublicKey"`
	LnAlias     string `json:"lnAlias"`
}

// PayInvoice asks the channel owner to pay an invoice to push balance back
// through the channel.
type PayInvoice struct {
	Type      string          `json:"type"`
	Invoice   string          `json:"invoice"`
	Tokens    decimal.Decimal `json:"tokens"`
	ChannelID string          `json:"channelId"`
	PaidTo    string          `json:"paidTo"`
}

// PaymentResult reports the outcome of a PayInvoice request back to the
// requester.
type PaymentResult struct {
	Type        string `json:"type"`
	ChannelID   string `json:"channelId"`
	Confirmed   bool   `json:"confirmed"`
	Allow       bool   `json:"allow"`
	Reason      string `json:"reason,omitempty"`
	RetryAt     int64  `json:"retryAt,omitempty"`
	PaymentID   string `json:"paymentId,omitempty"`
	ConfirmedAt string `json:"confirmedAt,omitempty"`
	Preimage    string `json:"preimage,omitempty"`
}

// MessageType peeks at the type property of an envelope's payload.
func (e *Envelope) MessageType() string {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(e.Message, &peek); err != nil {
		return ""
	}
	return peek.Type
}

// Open decodes the envelope's payload into the given message struct.
func (e *Envelope) Open(message interface{}) error {
	return json.Unmarshal(e.Message, message)
}

// Seal signs a message and wraps it in an Envelope stamped with the current
// time.
func Seal(secret string, publicKey string, message interface{}) (*Envelope, error) {
	raw, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}

	params, err := signParams(raw)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().UnixMilli()

	return &Envelope{
		Message:   raw,
		Timestamp: timestamp,
		Signature: crypto.Sign(secret, timestamp, publicKey, params),
	}, nil
}

// Verify recomputes the envelope's signature against the sender's claimed
// identity. It says nothing about the timestamp; replay is the node's
// business.
func (e *Envelope) Verify(secret string, publicKey string) bool {
	params, err := signParams(e.Message)
	if err != nil {
		return false
	}
	return crypto.Verify(secret, e.Timestamp, publicKey, params, e.Signature)
}

// signParams flattens a JSON payload into canonical name/value pairs.
// Numbers keep their exact wire representation, so signing and verifying
// sides agree even when a value does not round-trip through a float.
func signParams(raw json.RawMessage) (crypto.Params, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	fields := map[string]interface{}{}
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}

	params := make(crypto.Params, len(fields))
	for k, v := range fields {
		params[k] = crypto.FormatValue(v)
	}

	return params, nil
}
