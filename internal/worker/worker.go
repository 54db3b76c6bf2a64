// Package worker provides async notification dispatch from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/merlin/internal/domain"
)

// Notifier delivers alert notifications to an external channel.
type Notifier interface {
	// Notify delivers a single alert. Errors are logged, not retried.
	Notify(ctx context.Context, alert *domain.Alert) error

	// Name identifies the notifier in logs.
	Name() string
}

// Dispatcher consumes alert events from the EventBus and fans them
// out to the configured notifiers. Delivery is best-effort: a failing
// notifier never blocks scoring or other notifiers.
type Dispatcher struct {
	bus       domain.EventBus
	notifiers []Notifier

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	mu        sync.Mutex
	delivered int64
	failed    int64
}

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(bus domain.EventBus, notifiers ...Notifier) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		bus:       bus,
		notifiers: notifiers,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the alert topics.
func (d *Dispatcher) Start() error {
	for _, topic := range []string{domain.TopicAlertCreated, domain.TopicAlertUpdated} {
		sub, err := d.bus.Subscribe(d.ctx, topic, d.handleMessage)
		if err != nil {
			return err
		}
		d.subscriptions = append(d.subscriptions, sub)
	}

	slog.Info("notification dispatcher started",
		"notifier_count", len(d.notifiers),
	)
	return nil
}

// handleMessage parses an alert payload and dispatches it.
func (d *Dispatcher) handleMessage(ctx context.Context, msg *domain.Message) error {
	var alert domain.Alert
	if err := json.Unmarshal(msg.Payload, &alert); err != nil {
		slog.Error("failed to parse alert payload",
			"message_id", msg.ID,
			"topic", msg.Topic,
			"error", err,
		)
		return err
	}

	start := time.Now()
	for _, n := range d.notifiers {
		if err := n.Notify(ctx, &alert); err != nil {
			d.mu.Lock()
			d.failed++
			d.mu.Unlock()
			slog.Error("notification delivery failed",
				"notifier", n.Name(),
				"alert_id", alert.ID,
				"error", err,
			)
			continue
		}
		d.mu.Lock()
		d.delivered++
		d.mu.Unlock()
	}

	slog.Debug("alert dispatched",
		"alert_id", alert.ID,
		"topic", msg.Topic,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops the dispatcher.
func (d *Dispatcher) Stop() error {
	d.cancel()

	for _, sub := range d.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	d.subscriptions = nil

	slog.Info("notification dispatcher stopped")
	return nil
}

// Stats returns dispatcher statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Delivered         int64    `json:"delivered"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current dispatcher statistics.
func (d *Dispatcher) GetStats() Stats {
	topics := make([]string, len(d.subscriptions))
	for i, sub := range d.subscriptions {
		topics[i] = sub.Topic()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		SubscriptionCount: len(d.subscriptions),
		Topics:            topics,
		Delivered:         d.delivered,
		Failed:            d.failed,
	}
}

// LogNotifier writes alert notifications to the structured log.
// It is the default notifier for the Community tier.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(ctx context.Context, alert *domain.Alert) error {
	n.logger.Warn("fraud alert",
		"alert_id", alert.ID,
		"tx_id", alert.TxID,
		"account_id", alert.AccountID,
		"score", alert.Assessment.Score,
		"severity", alert.Severity,
		"status", alert.Status,
	)
	return nil
}
