package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentd-run/agentd/internal/bus"
	"github.com/agentd-run/agentd/internal/types"
)

func TestHandleMessageRejectsMissingToken(t *testing.T) {
	b := bus.New(4)
	p := New(Config{Token: "secret-token"}, b.NewSender(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/message", strings.NewReader(`{"text":"hi"}`))
	rec := httptest.NewRecorder()
	p.handleMessage(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleMessageRoundTripsThroughDeliver(t *testing.T) {
	b := bus.New(4)
	p := New(Config{Token: "secret-token"}, b.NewSender(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/message", strings.NewReader(`{"text":"hello there"}`))
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		p.handleMessage(rec, req)
		close(done)
	}()

	var evt types.IngressEvent
	select {
	case evt = <-b.Receive():
	case <-time.After(time.Second):
		t.Fatal("expected event on bus")
	}
	require.Equal(t, types.OwnerCommand, evt.Trust)
	require.Equal(t, "hello there", evt.Payload)
	require.True(t, strings.HasPrefix(evt.Source, Channel+":"))

	require.NoError(t, p.Deliver(context.Background(), evt.Source, "hi back"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not complete after delivery")
	}
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "hi back")
}

func TestDeliverToUnknownRequestErrors(t *testing.T) {
	p := New(Config{}, bus.New(1).NewSender(), nil)
	err := p.Deliver(context.Background(), Channel+":does-not-exist", "x")
	require.Error(t, err)
}

func TestHandleMessageEnforcesRateLimit(t *testing.T) {
	p := New(Config{}, bus.New(1).NewSender(), nil)

	// Drain the burst directly rather than through handleMessage, so the
	// assertion below isn't sensitive to how long each HTTP round-trip
	// takes relative to the limiter's refill rate.
	for i := 0; i < defaultRateBurst; i++ {
		require.True(t, p.limiter.Allow())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/message", strings.NewReader(`{"text":"hi"}`))
	rec := httptest.NewRecorder()
	p.handleMessage(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHandleStreamRequiresModel(t *testing.T) {
	p := New(Config{}, bus.New(1).NewSender(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/stream", strings.NewReader(`{"prompt":"hi"}`))
	rec := httptest.NewRecorder()
	p.handleStream(rec, req)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}
