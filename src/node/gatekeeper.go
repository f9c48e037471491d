package node

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/taut-ln/taut/src/audit"
	"github.com/taut-ln/taut/src/lightning"
	"github.com/taut-ln/taut/src/net"
	"github.com/taut-ln/taut/src/settings"
)

// recentWindow is how many ledger records the spend-limit check looks back
// through. Limits periods are hours or days; this is far more than a period
// can hold under the transaction caps.
const recentWindow = 1000

// Gatekeeper decides whether an inbound payment request should actually be
// paid, pays it, and records the attempt. The whole decide, pay and record
// sequence runs under one lock, so two concurrent requests cannot both read
// the same under-limit spend total.
type Gatekeeper struct {
	backend      lightning.NodeBackend
	coordinator  *Coordinator
	resolver     *settings.Resolver
	transactions *audit.TransactionLedger
	audit        *audit.Logger
	logger       *logrus.Entry

	payLock sync.Mutex
}

// NewGatekeeper returns a Gatekeeper for one paying node.
func NewGatekeeper(
	backend lightning.NodeBackend,
	coordinator *Coordinator,
	resolver *settings.Resolver,
	transactions *audit.TransactionLedger,
	auditLogger *audit.Logger,
	logger *logrus.Entry,
) *Gatekeeper {
	return &Gatekeeper{
		backend:      backend,
		coordinator:  coordinator,
		resolver:     resolver,
		transactions: transactions,
		audit:        auditLogger,
		logger:       logger.WithField("component", "gatekeeper"),
	}
}

// PayInvoice validates a peer's payment request, pays it if every check
// passes, and reports the outcome. It never returns an error to the network;
// every failure becomes a structured result.
func (g *Gatekeeper) PayInvoice(ctx context.Context, req net.PayInvoice) net.PaymentResult {
	g.payLock.Lock()
	defer g.payLock.Unlock()

	result := net.PaymentResult{
		Type:      net.TypePaymentResult,
		ChannelID: req.ChannelID,
	}

	allow, reason, retryAt := g.shouldPay(ctx, req)
	if !allow {
		result.Reason = reason
		result.RetryAt = retryAt
		return result
	}

	payment, err := g.backend.PayInvoice(ctx, req.Invoice, req.ChannelID)
	if err != nil || payment == nil || !payment.Confirmed {
		if err != nil {
			g.audit.Error("Failed to pay invoice", map[string]interface{}{
				"invoice":   req.Invoice,
				"channelId": req.ChannelID,
				"error":     err.Error(),
			})
		} else {
			g.audit.Event("paymentFailed", map[string]interface{}{
				"alias":     g.backend.Alias(),
				"publicKey": g.backend.PublicKey(),
				"invoice":   req.Invoice,
			})
		}

		g.record(req, "failed")

		result.Reason = "payment failed"
		return result
	}

	g.audit.Event("invoicePaid", map[string]interface{}{
		"alias":     g.backend.Alias(),
		"publicKey": g.backend.PublicKey(),
		"invoice":   req.Invoice,
		"paymentId": payment.PaymentID,
	})

	g.record(req, "complete")

	result.Allow = true
	result.Confirmed = true
	result.PaymentID = payment.PaymentID
	result.ConfirmedAt = payment.ConfirmedAt
	result.Preimage = payment.Preimage
	return result
}

// record appends the attempt to the transaction ledger.
func (g *Gatekeeper) record(req net.PayInvoice, state string) {
	if _, err := g.transactions.Add(audit.TransactionRecord{
		PaidTo:    req.PaidTo,
		PaidBy:    g.backend.PublicKey(),
		ChannelID: req.ChannelID,
		Amount:    req.Tokens,
		Invoice:   req.Invoice,
		State:     state,
	}); err != nil {
		g.logger.WithError(err).Error("recording transaction")
	}
}

// shouldPay runs the validation checks in order, short-circuiting on the
// first failure.
func (g *Gatekeeper) shouldPay(ctx context.Context, req net.PayInvoice) (bool, string, int64) {
	details, err := g.backend.DecodeInvoice(ctx, req.Invoice)
	if err != nil {
		g.audit.Error("Failed to decode invoice", map[string]interface{}{
			"invoice": req.Invoice,
			"error":   err.Error(),
		})
		return false, "invalid request", 0
	}

	// the invoice must be for exactly the requested amount
	if !details.Amount.Equal(req.Tokens) {
		g.audit.Error("Rejected invoice as amount differs", map[string]interface{}{
			"invoice":       req.Invoice,
			"invoiceAmount": details.Amount.String(),
			"requestAmount": req.Tokens.String(),
		})
		return false, "invalid request", 0
	}

	// and paid to who the request claims
	if details.Destination != req.PaidTo {
		g.audit.Error("Rejected invoice as payment destination does not match", map[string]interface{}{
			"invoice":            req.Invoice,
			"invoiceDestination": details.Destination,
			"paidTo":             req.PaidTo,
		})
		return false, "invalid request", 0
	}

	channel, ok := g.coordinator.FindChannel(ctx, req.ChannelID)
	if !ok {
		g.audit.Error("Rejected invoice as channel was not found locally", map[string]interface{}{
			"invoice":   req.Invoice,
			"channelId": req.ChannelID,
		})
		return false, "invalid request", 0
	}

	// the channel named must really lead to the claimed destination
	if channel.RemotePublicKey != req.PaidTo {
		g.audit.Error("Rejected invoice as request remote does not match channel remote", map[string]interface{}{
			"invoice":     req.Invoice,
			"paidTo":      req.PaidTo,
			"channelNode": channel.RemotePublicKey,
		})
		return false, "invalid request", 0
	}

	allow, reason, retryAt := g.denyPaymentReason(req.Tokens)
	if !allow {
		g.audit.Error("Rejected invoice as node/channel is over its configured limits", map[string]interface{}{
			"invoice":     req.Invoice,
			"paidTo":      req.PaidTo,
			"channelNode": channel.RemotePublicKey,
			"reason":      reason,
		})
	}

	return allow, reason, retryAt
}

// denyPaymentReason enforces the per-period spend limits over the recent
// transaction history.
func (g *Gatekeeper) denyPaymentReason(amount decimal.Decimal) (bool, string, int64) {
	now := time.Now().UnixMilli()
	alias := g.backend.Alias()

	limitsPeriod := g.resolver.Get("limitsPeriod", alias)
	period := g.resolver.GetDuration("limitsPeriod", alias).Milliseconds()
	if period <= 0 {
		period = 24 * time.Hour.Milliseconds()
	}

	var since int64
	if g.resolver.GetBool("useRollingLimitsPeriod", alias) {
		since = now - period
	} else {
		since = int64(math.Floor(float64(now)/float64(period))) * period
	}

	recent, err := g.transactions.Recent(recentWindow, audit.Filter{
		Since:  since,
		PaidBy: g.backend.PublicKey(),
		State:  "complete",
	})
	if err != nil {
		g.logger.WithError(err).Error("reading transaction ledger")
		return false, "invalid request", 0
	}

	retryAt := since + period + 1

	maxTransactions := g.resolver.GetInt("maxTransactionsPerPeriod", alias)
	if len(recent) >= maxTransactions {
		reason := fmt.Sprintf("%d transactions in last %v. Limit is %d", len(recent), limitsPeriod, maxTransactions)
		return false, reason, retryAt
	}

	maxTotalAmount := g.resolver.GetDecimal("maxAmountPerPeriod", alias)
	total := decimal.Zero
	for _, tx := range recent {
		total = total.Add(tx.Amount)
	}
	if total.Add(amount).GreaterThan(maxTotalAmount) {
		reason := fmt.Sprintf("%s tokens sent in last %v. Limit is %s", total.Add(amount), limitsPeriod, maxTotalAmount)
		return false, reason, retryAt
	}

	return true, "", 0
}
