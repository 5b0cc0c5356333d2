// Package httpapi implements the synchronous owner HTTP ingress producer: a
// bearer-token-authenticated POST /api/message endpoint that enqueues an
// OwnerCommand event and blocks the request until the Turn Controller
// delivers a reply through the matching turn.ReplySink, plus a POST
// /api/stream endpoint that streams a raw model completion back over
// Server-Sent Events without going through the Turn Controller at all.
//
// Grounded on the teacher's internal/gateway/http_server.go net/http +
// http.Server/net.Listen server-lifecycle shape, generalized from its
// multi-route mux down to this authenticated endpoint pair plus /healthz.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/r3labs/sse/v2"
	"golang.org/x/time/rate"

	"github.com/agentd-run/agentd/internal/bus"
	"github.com/agentd-run/agentd/internal/modelclient"
	"github.com/agentd-run/agentd/internal/types"
)

// Channel is the source channel prefix httpapi-originated turns carry.
const Channel = "httpapi"

// replyTimeout bounds how long a request waits for the Turn Controller to
// deliver a reply before the handler gives up.
const replyTimeout = 2 * time.Minute

// defaultRateLimit and defaultRateBurst bound how often the single owner
// can hit /api/message before the endpoint starts replying 429 — a cheap
// guard against a misbehaving client hammering the Turn Controller, not a
// multi-tenant quota.
const (
	defaultRateLimit = 5 // requests per second
	defaultRateBurst = 10
)

// Config configures the HTTP API producer.
type Config struct {
	Addr  string
	Token string
}

// Producer serves the authenticated message endpoint and doubles as the
// owner channel's turn.ReplySink, correlating replies to waiting requests by
// request id.
type Producer struct {
	cfg     Config
	sender  bus.Sender
	logger  *slog.Logger
	server  *http.Server
	limiter *rate.Limiter
	sse     *sse.Server

	model       *modelclient.Client
	streamAlias string

	mu      sync.Mutex
	pending map[string]chan string
}

// New creates a Producer.
func New(cfg Config, sender bus.Sender, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	srv := sse.New()
	srv.AutoReplay = false
	return &Producer{
		cfg:     cfg,
		sender:  sender,
		logger:  logger.With("producer", Channel),
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultRateBurst),
		sse:     srv,
		pending: make(map[string]chan string),
	}
}

// SetModel wires a Model Client into the producer so /api/stream can serve
// streamed completions directly, bypassing the Turn Controller's tool loop
// and session history — a raw model preview, not a full owner turn.
func (p *Producer) SetModel(client *modelclient.Client, alias string) {
	p.model = client
	p.streamAlias = alias
}

// Run starts the HTTP server and blocks until ctx is canceled.
func (p *Producer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/api/message", p.handleMessage)
	mux.HandleFunc("/api/stream", p.handleStream)

	p.server = &http.Server{Addr: p.cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	listener, err := net.Listen("tcp", p.cfg.Addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- p.server.Serve(listener) }()

	p.logger.Info("httpapi producer listening", "addr", p.cfg.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return p.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("httpapi: serve: %w", err)
	}
}

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	Reply string `json:"reply"`
}

func (p *Producer) handleMessage(w http.ResponseWriter, r *http.Request) {
	if !p.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !p.limiter.Allow() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reqID := uuid.NewString()
	replyCh := make(chan string, 1)
	p.mu.Lock()
	p.pending[reqID] = replyCh
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, reqID)
		p.mu.Unlock()
	}()

	evt := types.IngressEvent{
		ID:      uuid.NewString(),
		Source:  fmt.Sprintf("%s:%s", Channel, reqID),
		Payload: req.Text,
		Trust:   types.OwnerCommand,
	}
	if err := p.sender.Send(r.Context(), evt); err != nil {
		http.Error(w, "failed to enqueue event", http.StatusServiceUnavailable)
		return
	}

	select {
	case reply := <-replyCh:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageResponse{Reply: reply})
	case <-time.After(replyTimeout):
		http.Error(w, "timed out waiting for reply", http.StatusGatewayTimeout)
	case <-r.Context().Done():
	}
}

type streamRequest struct {
	Prompt string `json:"prompt"`
}

// handleStream serves a raw streamed completion over Server-Sent Events:
// one ad-hoc stream ID per request, multiplexed through the shared
// sse.Server via the "stream" query parameter its ServeHTTP expects, torn
// down once the completion (or the client) finishes.
func (p *Producer) handleStream(w http.ResponseWriter, r *http.Request) {
	if !p.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if p.model == nil {
		http.Error(w, "streaming not configured", http.StatusNotImplemented)
		return
	}
	if !p.limiter.Allow() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	streamID := uuid.NewString()
	p.sse.CreateStream(streamID)
	defer p.sse.RemoveStream(streamID)

	chunks, err := p.model.ChatStream(r.Context(), p.streamAlias, []types.Message{{Role: types.RoleUser, Content: req.Prompt}}, nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("stream: %v", err), http.StatusBadGateway)
		return
	}

	go func() {
		for chunk := range chunks {
			p.sse.Publish(streamID, &sse.Event{Data: []byte(chunk.Delta)})
			if chunk.Done {
				break
			}
		}
		p.sse.Publish(streamID, &sse.Event{Event: []byte("done"), Data: []byte("")})
	}()

	q := r.URL.Query()
	q.Set("stream", streamID)
	r.URL.RawQuery = q.Encode()
	p.sse.ServeHTTP(w, r)
}

func (p *Producer) authorized(r *http.Request) bool {
	if p.cfg.Token == "" {
		return true
	}
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return got == p.cfg.Token
}

// Deliver implements turn.ReplySink, routing content back to the HTTP
// handler waiting on source's request id ("httpapi:<req-id>").
func (p *Producer) Deliver(ctx context.Context, source, content string) error {
	_, reqID, _ := strings.Cut(source, ":")
	p.mu.Lock()
	ch, ok := p.pending[reqID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("httpapi: no pending request %q (already timed out)", reqID)
	}
	select {
	case ch <- content:
	default:
	}
	return nil
}
