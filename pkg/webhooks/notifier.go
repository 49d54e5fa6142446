package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/murmur/pkg/async"
	"github.com/platinummonkey/murmur/pkg/audit"
	"github.com/platinummonkey/murmur/pkg/observability"
)

const (
	defaultAttemptTimeout = 10 * time.Second
	defaultHistory        = 200
)

// Request headers set on every delivery
const (
	EventHeader    = "X-Murmur-Event"
	EventIDHeader  = "X-Murmur-Event-ID"
	DeliveryHeader = "X-Murmur-Delivery"
)

// EventType identifies the payload of a delivery
type EventType string

// EventSecurityAlert is sent for every stored security alert
const EventSecurityAlert EventType = "security_alert.created"

// Event is the JSON body of a delivery
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Endpoint is one receiver. Secret, when set, signs the body.
type Endpoint struct {
	URL    string
	Secret string
}

// DeliveryStatus is the final state of a delivery
type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliveryDropped DeliveryStatus = "dropped"
)

// DeliveryLog records one finished delivery
type DeliveryLog struct {
	ID          string         `json:"id"`
	EventID     string         `json:"eventId"`
	EventType   EventType      `json:"eventType"`
	URL         string         `json:"url"`
	Status      DeliveryStatus `json:"status"`
	StatusCode  int            `json:"statusCode,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attempts    int            `json:"attempts"`
	CreatedAt   time.Time      `json:"createdAt"`
	CompletedAt time.Time      `json:"completedAt"`
}

// Notifier posts events to a fixed set of endpoints in the background,
// retrying failed attempts with exponential backoff.
type Notifier struct {
	endpoints      []Endpoint
	client         *http.Client
	retry          *RetryPolicy
	limiter        *RateLimiter
	attemptTimeout time.Duration
	history        *audit.RingBuffer[DeliveryLog]
	tracker        *async.Tracker

	now     func() time.Time
	logger  *logrus.Logger
	metrics *observability.Metrics
}

// Option configures a Notifier
type Option func(*Notifier)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) { n.client = client }
}

// WithRetryConfig replaces the retry policy
func WithRetryConfig(cfg RetryConfig) Option {
	return func(n *Notifier) { n.retry = NewRetryPolicy(cfg) }
}

// WithRateLimit allows at most maxRequests deliveries per endpoint per period
func WithRateLimit(maxRequests int, period time.Duration) Option {
	return func(n *Notifier) { n.limiter = NewRateLimiter(maxRequests, period) }
}

// WithAttemptTimeout bounds each HTTP attempt
func WithAttemptTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.attemptTimeout = d }
}

// WithLogger sets the notifier logger
func WithLogger(logger *logrus.Logger) Option {
	return func(n *Notifier) { n.logger = logger }
}

// WithMetrics sets the notifier metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(n *Notifier) { n.metrics = metrics }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// NewNotifier creates a notifier for endpoints
func NewNotifier(endpoints []Endpoint, opts ...Option) *Notifier {
	n := &Notifier{
		endpoints:      endpoints,
		client:         &http.Client{},
		retry:          NewRetryPolicy(DefaultRetryConfig()),
		limiter:        NewRateLimiter(60, time.Minute),
		attemptTimeout: defaultAttemptTimeout,
		history:        audit.NewRingBuffer[DeliveryLog](defaultHistory),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = logrus.New()
	}
	n.tracker = async.NewTracker(n.logger)
	return n
}

// NotifyAlert dispatches alert as a security_alert.created event. Its
// signature matches audit.AlertHook.
func (n *Notifier) NotifyAlert(ctx context.Context, alert *audit.SecurityAlert) {
	snapshot := *alert
	n.Dispatch(ctx, &Event{Type: EventSecurityAlert, Data: snapshot})
}

// Dispatch sends event to every endpoint without blocking. Deliveries
// outlive ctx's cancellation but keep its values.
func (n *Notifier) Dispatch(ctx context.Context, event *Event) {
	if len(n.endpoints) == 0 {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = n.now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		n.log(ctx).WithError(err).WithField("event_type", event.Type).Error("failed to encode webhook event")
		return
	}

	bg := context.WithoutCancel(ctx)
	for _, ep := range n.endpoints {
		entry := DeliveryLog{
			ID:        uuid.NewString(),
			EventID:   event.ID,
			EventType: event.Type,
			URL:       ep.URL,
			CreatedAt: n.now(),
		}

		if !n.limiter.Allow(ep.URL) {
			entry.Status = DeliveryDropped
			entry.Error = "rate limit exceeded"
			n.finish(bg, entry)
			continue
		}

		ep := ep
		n.tracker.Go(bg, n.budget(), "alert webhook delivery", func(ctx context.Context) error {
			n.deliver(ctx, ep, payload, entry)
			return nil
		})
	}
}

// Flush waits for in-flight deliveries
func (n *Notifier) Flush(ctx context.Context) error {
	return n.tracker.Wait(ctx)
}

// Deliveries returns the most recent finished deliveries, oldest first
func (n *Notifier) Deliveries() []DeliveryLog {
	return n.history.Snapshot()
}

func (n *Notifier) deliver(ctx context.Context, ep Endpoint, payload []byte, entry DeliveryLog) {
	var err error
	for {
		entry.Attempts++
		entry.StatusCode, err = n.send(ctx, ep, payload, entry)
		if err == nil {
			entry.Status = DeliverySuccess
			entry.Error = ""
			break
		}
		entry.Error = err.Error()
		if !n.retry.ShouldRetry(entry.Attempts, err) {
			entry.Status = DeliveryFailed
			break
		}
		if werr := n.retry.Wait(ctx, entry.Attempts); werr != nil {
			entry.Status = DeliveryFailed
			break
		}
	}
	n.finish(ctx, entry)
}

func (n *Notifier) send(ctx context.Context, ep Endpoint, payload []byte, entry DeliveryLog) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, n.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, string(entry.EventType))
	req.Header.Set(EventIDHeader, entry.EventID)
	req.Header.Set(DeliveryHeader, entry.ID)
	if ep.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(payload, ep.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (n *Notifier) finish(ctx context.Context, entry DeliveryLog) {
	entry.CompletedAt = n.now()
	n.history.Push(entry)
	n.metrics.ObserveAlertNotification(string(entry.Status))

	log := n.log(ctx).WithFields(logrus.Fields{
		"event_id":   entry.EventID,
		"event_type": entry.EventType,
		"url":        entry.URL,
		"attempts":   entry.Attempts,
		"status":     entry.Status,
	})
	switch entry.Status {
	case DeliverySuccess:
		log.Debug("webhook delivered")
	case DeliveryDropped:
		log.Warn("webhook dropped")
	default:
		log.WithField("error", entry.Error).Error("webhook delivery failed")
	}
}

// budget covers every attempt and every backoff wait
func (n *Notifier) budget() time.Duration {
	cfg := n.retry.config
	return time.Duration(cfg.MaxAttempts) * (n.attemptTimeout + cfg.MaxDelay)
}

func (n *Notifier) log(ctx context.Context) *logrus.Entry {
	return observability.WithTraceContext(ctx, observability.FromContext(ctx, n.logger))
}
