package node

import (
	"context"
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

// RebalanceRequest asks for an invoice to be routed to the peer owning the
// channel and paid from the other side.
type RebalanceRequest struct {
	Channel lightning.Channel
	Invoice string
	Tokens  decimal.Decimal
}

// Coordinator watches channels on one lightning node and decides when, and
// for how much, to request a rebalance. It owns the channel cache, the watch
// set and the per-channel cooldowns.
type Coordinator struct {
	backend         lightning.NodeBackend
	resolver        *settings.Resolver
	audit           *audit.Logger
	logger          *logrus.Entry
	invoiceLifespan time.Duration

	coreLock  sync.Mutex
	channels  []lightning.Channel
	watch     map[string]bool
	cooldowns map[string]int64

	requestCh chan RebalanceRequest
}

// NewCoordinator returns a Coordinator over the given backend.
func NewCoordinator(
	backend lightning.NodeBackend,
	resolver *settings.Resolver,
	auditLogger *audit.Logger,
	invoiceLifespan time.Duration,
	logger *logrus.Entry,
) *Coordinator {
	return &Coordinator{
		backend:         backend,
		resolver:        resolver,
		audit:           auditLogger,
		logger:          logger.WithField("component", "coordinator"),
		invoiceLifespan: invoiceLifespan,
		watch:           map[string]bool{},
		cooldowns:       map[string]int64{},
		requestCh:       make(chan RebalanceRequest, 16),
	}
}

// Requests returns the channel rebalance requests are emitted on.
func (c *Coordinator) Requests() <-chan RebalanceRequest {
	return c.requestCh
}

// PollInterval resolves how often this node's channels are polled.
func (c *Coordinator) PollInterval() time.Duration {
	seconds := c.resolver.GetFloat("refreshRate", c.backend.Alias())
	if seconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(seconds * float64(time.Second))
}

// Refresh replaces the channel cache with the backend's current list. A
// backend failure degrades to an empty cache until the next successful poll.
func (c *Coordinator) Refresh(ctx context.Context) []lightning.Channel {
	channels, err := c.backend.ListChannels(ctx)
	if err != nil {
		c.audit.Error("Failed to update the channel list", map[string]interface{}{
			"alias": c.backend.Alias(),
			"error": err.Error(),
		})
		channels = []lightning.Channel{}
	}

	c.coreLock.Lock()
	c.channels = channels
	c.coreLock.Unlock()

	return channels
}

// FindChannelsByPeer refreshes the channel cache and returns the channels
// whose remote counterpart is the given lightning public key.
func (c *Coordinator) FindChannelsByPeer(ctx context.Context, lnPublicKey string) []lightning.Channel {
	matches := []lightning.Channel{}
	for _, ch := range c.Refresh(ctx) {
		if ch.RemotePublicKey == lnPublicKey {
			matches = append(matches, ch)
		}
	}
	return matches
}

// FindChannel refreshes the channel cache and looks a channel up by id.
func (c *Coordinator) FindChannel(ctx context.Context, channelID string) (lightning.Channel, bool) {
	for _, ch := range c.Refresh(ctx) {
		if ch.ID == channelID {
			return ch, true
		}
	}
	return lightning.Channel{}, false
}

func (c *Coordinator) findCached(channelID string) (lightning.Channel, bool) {
	c.coreLock.Lock()
	defer c.coreLock.Unlock()

	for _, ch := range c.channels {
		if ch.ID == channelID {
			return ch, true
		}
	}
	return lightning.Channel{}, false
}

// Watch starts monitoring a channel. Re-watching a watched channel just
// resets it.
func (c *Coordinator) Watch(channelID string) {
	c.Unwatch(channelID)

	c.coreLock.Lock()
	c.watch[channelID] = true
	c.coreLock.Unlock()

	c.audit.Event("startWatchingChannel", map[string]interface{}{
		"channelId":  channelID,
		"localAlias": c.backend.Alias(),
	})
}

// Unwatch stops monitoring a channel. Unwatching an unwatched channel is a
// no-op.
func (c *Coordinator) Unwatch(channelID string) {
	c.coreLock.Lock()
	watched := c.watch[channelID]
	delete(c.watch, channelID)
	c.coreLock.Unlock()

	if watched {
		c.audit.Event("stopWatchingChannel", map[string]interface{}{
			"channelId":  channelID,
			"localAlias": c.backend.Alias(),
		})
	}
}

// Watched returns the ids of the channels under watch.
func (c *Coordinator) Watched() []string {
	c.coreLock.Lock()
	defer c.coreLock.Unlock()

	ids := make([]string, 0, len(c.watch))
	for id := range c.watch {
		ids = append(ids, id)
	}
	return ids
}

// Poll refreshes the channel cache and evaluates every watched channel.
// Watched channels that are no longer listed by the backend are dropped
// from the watch set.
func (c *Coordinator) Poll(ctx context.Context) {
	c.Refresh(ctx)

	for _, id := range c.Watched() {
		if !c.considerRebalance(ctx, id) {
			c.Unwatch(id)
		}
	}
}

// considerRebalance runs the rebalance test for one watched channel. It
// returns false when the channel should leave the watch set.
func (c *Coordinator) considerRebalance(ctx context.Context, channelID string) bool {
	channel, ok := c.findCached(channelID)
	if !ok {
		c.audit.Error("Watched channel missing", map[string]interface{}{
			"alias":     c.backend.Alias(),
			"channelId": channelID,
		})
		return false
	}

	if !channel.IsActive || channel.Capacity.IsZero() {
		return true
	}

	localRatio := channel.LocalBalance.Div(channel.Capacity)

	alias := c.backend.Alias()
	balancePoint := c.resolver.GetFloat("balancePoint", alias, channelID)
	deadzone := c.resolver.GetFloat("deadzone", alias, channelID)
	threshold := math.Min(1, math.Max(0, balancePoint-deadzone))

	if localRatio.GreaterThanOrEqual(decimal.NewFromFloat(threshold)) {
		return true
	}

	target := channel.LocalBalance.Add(channel.RemoteBalance).Mul(decimal.NewFromFloat(balancePoint))
	invoiceAmount := target.Sub(channel.LocalBalance)

	maxTransactionSize := c.resolver.GetDecimal("maxTransactionSize", alias, channelID)
	amount := decimal.Min(invoiceAmount, maxTransactionSize)

	if amount.IsPositive() {
		c.rebalance(ctx, channel, amount)
	}

	return true
}

// rebalance creates an invoice for the amount and emits the request. The
// cooldown is armed before the invoice is created, so a failed creation
// still backs off until the cooldown expires.
func (c *Coordinator) rebalance(ctx context.Context, channel lightning.Channel, amount decimal.Decimal) {
	if c.rateLimited(channel.ID) {
		return
	}

	tokens := amount.Round(0)

	invoice, err := c.backend.CreateInvoice(ctx, tokens, c.invoiceLifespan)
	if err != nil {
		c.audit.Error("rebalance channel failed", map[string]interface{}{
			"channelId": channel.ID,
			"error":     err.Error(),
		})
		return
	}

	c.audit.Event("invoiceCreated", map[string]interface{}{
		"alias":     c.backend.Alias(),
		"publicKey": c.backend.PublicKey(),
		"channelId": channel.ID,
		"amount":    tokens.String(),
		"invoice":   invoice,
	})

	c.requestCh <- RebalanceRequest{
		Channel: channel,
		Invoice: invoice,
		Tokens:  tokens,
	}
}

// rateLimited reports whether the channel is under an active cooldown. When
// it is not, a new cooldown of minTimeBetweenPayments is armed so at most
// one rebalance is in flight per channel.
func (c *Coordinator) rateLimited(channelID string) bool {
	now := time.Now().UnixMilli()

	c.coreLock.Lock()
	defer c.coreLock.Unlock()

	for id, until := range c.cooldowns {
		if until <= now {
			delete(c.cooldowns, id)
		}
	}

	if _, blocked := c.cooldowns[channelID]; blocked {
		return true
	}

	between := c.resolver.GetDuration("minTimeBetweenPayments", c.backend.Alias(), channelID)
	c.cooldowns[channelID] = now + between.Milliseconds()

	return false
}

// Cooldowns returns a snapshot of the active cooldowns, keyed by channel id.
func (c *Coordinator) Cooldowns() map[string]int64 {
	c.coreLock.Lock()
	defer c.coreLock.Unlock()

	out := make(map[string]int64, len(c.cooldowns))
	for id, until := range c.cooldowns {
		out[id] = until
	}
	return out
}

// ConfirmPayment releases a channel's cooldown when the payment was
// confirmed. A failed payment carrying a retryAt keeps the channel blocked
// until then; without one the existing cooldown expires naturally.
func (c *Coordinator) ConfirmPayment(result net.PaymentResult) {
	c.coreLock.Lock()
	defer c.coreLock.Unlock()

	if result.Confirmed {
		delete(c.cooldowns, result.ChannelID)
		return
	}

	if result.RetryAt > 0 {
		c.cooldowns[result.ChannelID] = result.RetryAt
	}
}
