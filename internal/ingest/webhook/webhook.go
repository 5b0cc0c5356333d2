// Package webhook implements the anonymous/forwarded webhook ingress
// producer: an HMAC-signature-verified HTTP endpoint that always tags
// incoming payloads UntrustedEvent per spec.md's trust-tagging rules,
// fire-and-forget (no reply channel — output lands in an artifact).
//
// Grounded on the teacher's internal/hooks/handler.go webhook dispatcher
// (signature header verification before payload parsing) and its use of
// tidwall/gjson for schema-flexible JSON field extraction rather than a
// fixed decode target, since arbitrary third-party webhook senders rarely
// share one payload shape.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/agentd-run/agentd/internal/bus"
	"github.com/agentd-run/agentd/internal/types"
)

// Config configures the webhook producer.
type Config struct {
	Addr   string
	Secret string
	// Source labels the channel prefix attached to every event from this
	// endpoint, e.g. "webhook:github".
	Source string
}

// Producer serves a single webhook endpoint at POST /.
type Producer struct {
	cfg    Config
	sender bus.Sender
	logger *slog.Logger
	server *http.Server
}

// New creates a Producer.
func New(cfg Config, sender bus.Sender, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Source == "" {
		cfg.Source = "webhook"
	}
	return &Producer{cfg: cfg, sender: sender, logger: logger.With("producer", "webhook", "source", cfg.Source)}
}

// Run starts the HTTP server and blocks until ctx is canceled.
func (p *Producer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", p.handle)

	p.server = &http.Server{Addr: p.cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	listener, err := net.Listen("tcp", p.cfg.Addr)
	if err != nil {
		return fmt.Errorf("webhook: listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- p.server.Serve(listener) }()

	p.logger.Info("webhook producer listening", "addr", p.cfg.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return p.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("webhook: serve: %w", err)
	}
}

func (p *Producer) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if p.cfg.Secret != "" && !validSignature(p.cfg.Secret, body, r.Header.Get("X-Signature-256")) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	text := gjson.GetBytes(body, "text")
	if !text.Exists() {
		text = gjson.GetBytes(body, "message")
	}
	payload := text.String()
	if payload == "" {
		payload = string(body)
	}

	evt := types.IngressEvent{
		ID:      uuid.NewString(),
		Source:  p.cfg.Source,
		Payload: payload,
		Trust:   types.UntrustedEvent,
	}
	if err := p.sender.Send(r.Context(), evt); err != nil {
		http.Error(w, "failed to enqueue event", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// validSignature checks an "sha256=<hex-hmac>" style header against body,
// keyed by secret.
func validSignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header[len(prefix):]))
}
