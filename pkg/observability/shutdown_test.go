package observability

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestNewShutdownManager(t *testing.T) {
	tests := []struct {
		name            string
		timeout         time.Duration
		expectedTimeout time.Duration
	}{
		{"with custom timeout", 10 * time.Second, 10 * time.Second},
		{"with zero timeout uses default", 0, DefaultShutdownTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewShutdownManager(NewLogger(logrus.InfoLevel, &bytes.Buffer{}), tt.timeout)
			if sm.shutdownTimeout != tt.expectedTimeout {
				t.Errorf("Expected timeout %v, got %v", tt.expectedTimeout, sm.shutdownTimeout)
			}
		})
	}
}

func TestShutdown_RunsFuncsInOrderAfterServers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := &http.Server{Handler: http.NotFoundHandler()}
	served := make(chan error, 1)
	go func() { served <- server.Serve(ln) }()

	sm := NewShutdownManager(NewLogger(logrus.InfoLevel, &bytes.Buffer{}), time.Second, server)

	var order []string
	sm.Register("flush", func(context.Context) error {
		select {
		case err := <-served:
			if !errors.Is(err, http.ErrServerClosed) {
				t.Errorf("Serve() = %v, want ErrServerClosed", err)
			}
		case <-time.After(time.Second):
			t.Error("server still running when shutdown funcs started")
		}
		order = append(order, "flush")
		return nil
	})
	sm.Register("close", func(context.Context) error {
		order = append(order, "close")
		return nil
	})

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if len(order) != 2 || order[0] != "flush" || order[1] != "close" {
		t.Errorf("shutdown order = %v, want [flush close]", order)
	}
}

func TestShutdown_ContinuesAfterFuncError(t *testing.T) {
	sm := NewShutdownManager(NewLogger(logrus.InfoLevel, &bytes.Buffer{}), time.Second)

	ran := false
	sm.Register("audit writes", func(context.Context) error { return errors.New("flush failed") })
	sm.Register("database", func(context.Context) error {
		ran = true
		return nil
	})

	err := sm.Shutdown(context.Background())
	if err == nil || !strings.Contains(err.Error(), "audit writes: flush failed") {
		t.Errorf("Shutdown() error = %v, want the failing step named", err)
	}
	if !ran {
		t.Error("later shutdown funcs must still run")
	}
}
