package node

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/taut-ln/taut/src/audit"
	"github.com/taut-ln/taut/src/common"
	"github.com/taut-ln/taut/src/lightning"
	"github.com/taut-ln/taut/src/net"
	"github.com/taut-ln/taut/src/settings"
)

func testResolver(overrides settings.Values) *settings.Resolver {
	base := settings.Values{
		"refreshRate":              60,
		"balancePoint":             0.5,
		"deadzone":                 0.05,
		"maxTransactionSize":       30,
		"minTimeBetweenPayments":   "10m",
		"limitsPeriod":             "1h",
		"useRollingLimitsPeriod":   true,
		"maxTransactionsPerPeriod": 10,
		"maxAmountPerPeriod":       100,
	}
	for k, v := range overrides {
		base[k] = v
	}
	return settings.New(base)
}

func testAudit(t *testing.T) (*audit.Logger, *audit.TransactionLedger) {
	t.Helper()

	registry := audit.NewRegistry()
	t.Cleanup(func() { registry.Close() })

	dir := t.TempDir()

	events, err := registry.Open(filepath.Join(dir, "events"))
	if err != nil {
		t.Fatal(err)
	}
	transactions, err := registry.Open(filepath.Join(dir, "transactions"))
	if err != nil {
		t.Fatal(err)
	}

	logger := audit.NewLogger(events, common.NewTestEntry(t, logrus.DebugLevel), false, []string{"invoice"})

	return logger, audit.NewTransactionLedger(transactions)
}

func unbalancedChannel(id string) lightning.Channel {
	return lightning.Channel{
		ID:              id,
		RemotePublicKey: "ln-bob",
		LocalBalance:    decimal.NewFromInt(10),
		RemoteBalance:   decimal.NewFromInt(90),
		Capacity:        decimal.NewFromInt(100),
		IsActive:        true,
	}
}

func testCoordinator(t *testing.T, backend lightning.NodeBackend, overrides settings.Values) *Coordinator {
	t.Helper()

	auditLogger, _ := testAudit(t)

	return NewCoordinator(
		backend,
		testResolver(overrides),
		auditLogger,
		30*time.Second,
		common.NewTestEntry(t, logrus.DebugLevel),
	)
}

func expectRequest(t *testing.T, c *Coordinator) RebalanceRequest {
	t.Helper()
	select {
	case req := <-c.Requests():
		return req
	default:
		t.Fatal("a rebalance request should have been emitted")
		return RebalanceRequest{}
	}
}

func expectNoRequest(t *testing.T, c *Coordinator) {
	t.Helper()
	select {
	case req := <-c.Requests():
		t.Fatalf("no rebalance request expected, got %s for %s", req.Tokens, req.Channel.ID)
	default:
	}
}

func TestRebalanceAmount(t *testing.T) {
	backend := lightning.NewInmemBackend("ln-alice", "alice")
	backend.SetChannels(unbalancedChannel("X"))

	c := testCoordinator(t, backend, nil)
	c.Watch("X")
	c.Poll(context.Background())

	// localRatio 0.10 < threshold 0.45; target 50, shortfall 40, capped at 30
	req := expectRequest(t, c)
	if !req.Tokens.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("request should ask for 30, not %s", req.Tokens)
	}
	if req.Invoice != "lntest:30:ln-alice" {
		t.Fatalf("unexpected invoice %s", req.Invoice)
	}
	if req.Channel.ID != "X" {
		t.Fatalf("request should target channel X, not %s", req.Channel.ID)
	}
}

func TestBalancedChannelStaysQuiet(t *testing.T) {
	backend := lightning.NewInmemBackend("ln-alice", "alice")
	backend.SetChannels(lightning.Channel{
		ID:            "X",
		LocalBalance:  decimal.NewFromInt(50),
		RemoteBalance: decimal.NewFromInt(50),
		Capacity:      decimal.NewFromInt(100),
		IsActive:      true,
	})

	c := testCoordinator(t, backend, nil)
	c.Watch("X")
	c.Poll(context.Background())

	expectNoRequest(t, c)
}

func TestInactiveChannelSkipped(t *testing.T) {
	ch := unbalancedChannel("X")
	ch.IsActive = false

	backend := lightning.NewInmemBackend("ln-alice", "alice")
	backend.SetChannels(ch)

	c := testCoordinator(t, backend, nil)
	c.Watch("X")
	c.Poll(context.Background())

	expectNoRequest(t, c)

	// an inactive channel stays on the watch list
	if len(c.Watched()) != 1 {
		t.Fatalf("channel X should still be watched, watch set is %v", c.Watched())
	}
}

func TestThresholdClamp(t *testing.T) {
	// deadzone bigger than balancePoint clamps the threshold to 0, so even a
	// fully drained channel takes no action
	ch := unbalancedChannel("X")
	ch.LocalBalance = decimal.Zero
	ch.RemoteBalance = decimal.NewFromInt(100)

	backend := lightning.NewInmemBackend("ln-alice", "alice")
	backend.SetChannels(ch)

	c := testCoordinator(t, backend, settings.Values{
		"balancePoint": 0.3,
		"deadzone":     0.9,
	})
	c.Watch("X")
	c.Poll(context.Background())

	expectNoRequest(t, c)
}

func TestPollDropsMissingChannel(t *testing.T) {
	backend := lightning.NewInmemBackend("ln-alice", "alice")

	c := testCoordinator(t, backend, nil)
	c.Watch("gone")
	c.Poll(context.Background())

	if len(c.Watched()) != 0 {
		t.Fatalf("a vanished channel should be dropped from the watch set, got %v", c.Watched())
	}
}

func TestCooldownBlocksSecondRequest(t *testing.T) {
	backend := lightning.NewInmemBackend("ln-alice", "alice")
	backend.SetChannels(unbalancedChannel("X"))

	c := testCoordinator(t, backend, nil)
	c.Watch("X")

	c.Poll(context.Background())
	expectRequest(t, c)

	// the channel is still out of balance, but the cooldown is armed
	c.Poll(context.Background())
	expectNoRequest(t, c)
}

func TestConfirmedPaymentReleasesCooldown(t *testing.T) {
	backend := lightning.NewInmemBackend("ln-alice", "alice")
	backend.SetChannels(unbalancedChannel("X"))

	c := testCoordinator(t, backend, nil)
	c.Watch("X")

	c.Poll(context.Background())
	expectRequest(t, c)

	c.ConfirmPayment(net.PaymentResult{ChannelID: "X", Confirmed: true})

	c.Poll(context.Background())
	expectRequest(t, c)
}

func TestFailedPaymentExtendsCooldown(t *testing.T) {
	backend := lightning.NewInmemBackend("ln-alice", "alice")
	backend.SetChannels(unbalancedChannel("X"))

	c := testCoordinator(t, backend, settings.Values{
		"minTimeBetweenPayments": "50",
	})
	c.Watch("X")

	c.Poll(context.Background())
	expectRequest(t, c)

	// denied with a retryAt in the future keeps the channel blocked past the
	// normal cooldown
	retryAt := time.Now().Add(time.Hour).UnixMilli()
	c.ConfirmPayment(net.PaymentResult{ChannelID: "X", Confirmed: false, RetryAt: retryAt})

	time.Sleep(60 * time.Millisecond)

	c.Poll(context.Background())
	expectNoRequest(t, c)
}

func TestFailedPaymentWithoutRetryLeavesCooldown(t *testing.T) {
	backend := lightning.NewInmemBackend("ln-alice", "alice")
	backend.SetChannels(unbalancedChannel("X"))

	c := testCoordinator(t, backend, settings.Values{
		"minTimeBetweenPayments": "50",
	})
	c.Watch("X")

	c.Poll(context.Background())
	expectRequest(t, c)

	c.ConfirmPayment(net.PaymentResult{ChannelID: "X", Confirmed: false})

	// the original cooldown still applies...
	c.Poll(context.Background())
	expectNoRequest(t, c)

	// ...until it expires naturally
	time.Sleep(60 * time.Millisecond)
	c.Poll(context.Background())
	expectRequest(t, c)
}

func TestBackendFailureDegradesToEmpty(t *testing.T) {
	backend := lightning.NewInmemBackend("ln-alice", "alice")
	backend.SetChannels(unbalancedChannel("X"))
	backend.ListErr = errListFailed

	c := testCoordinator(t, backend, nil)
	c.Watch("X")
	c.Poll(context.Background())

	expectNoRequest(t, c)
}

var errListFailed = errBackend("list channels failed")

type errBackend string

func (e errBackend) Error() string { return string(e) }
