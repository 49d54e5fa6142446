package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/murmur/pkg/audit"
)

type receiver struct {
	mu      sync.Mutex
	bodies  [][]byte
	headers []http.Header
}

func (rc *receiver) handler(status func(call int) int) http.HandlerFunc {
	var calls int32
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rc.mu.Lock()
		rc.bodies = append(rc.bodies, body)
		rc.headers = append(rc.headers, r.Header.Clone())
		rc.mu.Unlock()
		w.WriteHeader(status(int(atomic.AddInt32(&calls, 1))))
	}
}

func fastRetries() Option {
	return WithRetryConfig(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
}

func flush(t *testing.T, n *Notifier) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, n.Flush(ctx))
}

func testAlert() *audit.SecurityAlert {
	return &audit.SecurityAlert{
		ID:          "alert-1",
		UserID:      "u1",
		AlertType:   audit.AlertPermissionBypassAttempt,
		Severity:    audit.SeverityHigh,
		Description: "repeated premium probes",
	}
}

func TestNotifyAlert_SignedDelivery(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc.handler(func(int) int { return http.StatusOK }))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	n := NewNotifier([]Endpoint{{URL: srv.URL, Secret: "topsecret"}}, WithLogger(logger), fastRetries())

	n.NotifyAlert(context.Background(), testAlert())
	flush(t, n)

	require.Len(t, rc.bodies, 1)
	body, headers := rc.bodies[0], rc.headers[0]
	assert.Equal(t, string(EventSecurityAlert), headers.Get(EventHeader))
	assert.True(t, VerifySignature(body, headers.Get(SignatureHeader), "topsecret"))

	var event struct {
		ID   string              `json:"id"`
		Type EventType           `json:"type"`
		Data audit.SecurityAlert `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &event))
	assert.Equal(t, headers.Get(EventIDHeader), event.ID)
	assert.Equal(t, "alert-1", event.Data.ID)
	assert.Equal(t, audit.SeverityHigh, event.Data.Severity)

	deliveries := n.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, DeliverySuccess, deliveries[0].Status)
	assert.Equal(t, 1, deliveries[0].Attempts)
	assert.Equal(t, http.StatusOK, deliveries[0].StatusCode)
}

func TestNotifyAlert_RetriesUntilSuccess(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc.handler(func(call int) int {
		if call < 3 {
			return http.StatusBadGateway
		}
		return http.StatusAccepted
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	n := NewNotifier([]Endpoint{{URL: srv.URL}}, WithLogger(logger), fastRetries())

	n.NotifyAlert(context.Background(), testAlert())
	flush(t, n)

	assert.Len(t, rc.bodies, 3)
	assert.Empty(t, rc.headers[0].Get(SignatureHeader), "unsigned without a secret")

	deliveries := n.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, DeliverySuccess, deliveries[0].Status)
	assert.Equal(t, 3, deliveries[0].Attempts)
	assert.Empty(t, deliveries[0].Error)
}

func TestNotifyAlert_GivesUp(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc.handler(func(int) int { return http.StatusInternalServerError }))
	defer srv.Close()

	logger, hook := test.NewNullLogger()
	n := NewNotifier([]Endpoint{{URL: srv.URL}}, WithLogger(logger), fastRetries())

	n.NotifyAlert(context.Background(), testAlert())
	flush(t, n)

	assert.Len(t, rc.bodies, 3)
	deliveries := n.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, DeliveryFailed, deliveries[0].Status)
	assert.Equal(t, http.StatusInternalServerError, deliveries[0].StatusCode)
	assert.Contains(t, deliveries[0].Error, "non-2xx")

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "webhook delivery failed", hook.LastEntry().Message)
}

func TestNotifyAlert_RateLimited(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc.handler(func(int) int { return http.StatusOK }))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	n := NewNotifier([]Endpoint{{URL: srv.URL}}, WithLogger(logger), fastRetries(), WithRateLimit(2, time.Hour))

	for i := 0; i < 4; i++ {
		n.NotifyAlert(context.Background(), testAlert())
	}
	flush(t, n)

	assert.Len(t, rc.bodies, 2)
	var dropped int
	for _, d := range n.Deliveries() {
		if d.Status == DeliveryDropped {
			dropped++
		}
	}
	assert.Equal(t, 2, dropped)
}

func TestNotifyAlert_FromAuditService(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc.handler(func(int) int { return http.StatusOK }))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	n := NewNotifier([]Endpoint{{URL: srv.URL}}, WithLogger(logger), fastRetries())
	svc := audit.NewService(audit.NewMemoryStore(), audit.DefaultDetectorConfig(),
		audit.WithLogger(logger), audit.WithAlertHook(n.NotifyAlert))

	ctx, cancel := context.WithCancel(context.Background())
	alert := testAlert()
	alert.ID = ""
	require.NoError(t, svc.CreateSecurityAlert(ctx, alert))
	cancel()
	flush(t, n)

	require.Len(t, rc.bodies, 1, "delivery survives request cancellation")
	assert.Contains(t, string(rc.bodies[0]), alert.ID)
}

func TestDispatch_NoEndpoints(t *testing.T) {
	n := NewNotifier(nil)
	n.NotifyAlert(context.Background(), testAlert())
	flush(t, n)
	assert.Empty(t, n.Deliveries())
}
