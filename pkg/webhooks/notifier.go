package webhooks

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

var (
	// ErrQueueFull is returned by Log when deliveries are backing up
	ErrQueueFull = errors.New("webhook queue full")
	// ErrClosed is returned by Log after Close
	ErrClosed = errors.New("webhook notifier closed")
)

// DefaultEvents are forwarded when Config.Events is empty
var DefaultEvents = []audit.EventType{
	audit.EventTypeViewAsStart,
	audit.EventTypeViewAsStop,
	audit.EventTypeGrantsSet,
	audit.EventTypeGrantsRejected,
	audit.EventTypeUserRemove,
}

// Config configures a Notifier
type Config struct {
	URL       string
	Secret    string
	Events    []audit.EventType
	QueueSize int
	Timeout   time.Duration
	Retry     RetryConfig
}

// Notifier forwards selected audit events to one HTTP receiver. It
// implements audit.Logger so it can sit in an audit.MultiLogger next to the
// database trail. Deliveries run on a single background worker in order.
type Notifier struct {
	cfg     Config
	client  *http.Client
	policy  *RetryPolicy
	events  map[audit.EventType]bool
	logger  *observability.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan *audit.Event
	stop   context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewNotifier starts the delivery worker. A nil client gets a traced client
// bounded by cfg.Timeout.
func NewNotifier(cfg Config, client *http.Client, logger *observability.Logger, metrics *observability.Metrics) *Notifier {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if len(cfg.Events) == 0 {
		cfg.Events = DefaultEvents
	}
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	n := &Notifier{
		cfg:     cfg,
		client:  client,
		policy:  NewRetryPolicy(cfg.Retry),
		events:  make(map[audit.EventType]bool, len(cfg.Events)),
		logger:  logger.WithField("component", "webhooks"),
		metrics: metrics,
		queue:   make(chan *audit.Event, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	for _, t := range cfg.Events {
		n.events[t] = true
	}
	n.stop, n.cancel = context.WithCancel(context.Background())

	go n.run()
	return n
}

// Log queues event for delivery when its type is subscribed. It never
// blocks the caller.
func (n *Notifier) Log(ctx context.Context, event *audit.Event) error {
	if event == nil || !n.events[event.EventType] {
		return nil
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrClosed
	}
	select {
	case n.queue <- event:
		return nil
	default:
		n.record("dropped")
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for the queue to drain. Queued
// events get a single attempt each once Close has been called.
func (n *Notifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	n.cancel()
	<-n.done
	return nil
}

func (n *Notifier) run() {
	defer close(n.done)
	defer observability.RecoverPanic(n.logger, "webhook worker")

	for event := range n.queue {
		n.deliver(event)
	}
}

func (n *Notifier) deliver(event *audit.Event) {
	p := newPayload(event)
	log := n.logger.WithFields(map[string]interface{}{
		"delivery_id": p.DeliveryID,
		"event_type":  string(event.EventType),
		"event_id":    event.ID,
	})

	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
		err := send(ctx, n.client, n.cfg.URL, n.cfg.Secret, p)
		cancel()
		if err == nil {
			n.record("success")
			log.WithField("attempts", attempt).Debug("Webhook delivered")
			return
		}

		if !n.policy.ShouldRetry(attempt, err) {
			n.record("failed")
			log.WithError(err).WithField("attempts", attempt).Warn("Webhook delivery failed")
			return
		}

		delay := n.policy.NextRetryDelay(attempt)
		log.WithError(err).WithField("retry_in", delay.String()).Debug("Webhook delivery will be retried")
		select {
		case <-time.After(delay):
		case <-n.stop.Done():
			n.record("failed")
			log.WithError(err).Warn("Webhook delivery abandoned on shutdown")
			return
		}
	}
}

func (n *Notifier) record(status string) {
	if n.metrics != nil {
		n.metrics.WebhookDeliveriesTotal.WithLabelValues(status).Inc()
	}
}
