// Package openaiproxy implements an OpenAI-compatible chat-completions
// endpoint so any OpenAI-API-speaking client tool can drive the daemon as
// if it were a model server. It decodes and encodes the wire shape with
// sashabaranov/go-openai's request/response structs — the same SDK the
// Model Client's outbound OpenAI provider already uses — rather than a
// hand-rolled schema, per agentd-run/agentd/internal/modelclient/providers/
// openai's doc comment anticipating this re-use.
//
// Binds a local address with no bearer-token layer (unlike httpapi): it is
// meant for same-host developer tooling (e.g. an IDE's "custom OpenAI
// endpoint" setting), so a request arriving here is treated as OwnerCommand.
package openaiproxy

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
	sdk "github.com/sashabaranov/go-openai"

	"github.com/agentd-run/agentd/internal/bus"
	"github.com/agentd-run/agentd/internal/types"
)

// Channel is the source channel prefix this proxy's turns carry.
const Channel = "openaiproxy"

const replyTimeout = 2 * time.Minute

// Config configures the proxy.
type Config struct {
	Addr       string
	ModelAlias string
}

// Producer serves POST /v1/chat/completions and doubles as the owner
// channel's turn.ReplySink for this source.
type Producer struct {
	cfg    Config
	sender bus.Sender
	logger *slog.Logger
	server *http.Server

	mu      sync.Mutex
	pending map[string]chan string
}

// New creates a Producer.
func New(cfg Config, sender bus.Sender, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{cfg: cfg, sender: sender, logger: logger.With("producer", Channel), pending: make(map[string]chan string)}
}

// Run starts the HTTP server and blocks until ctx is canceled.
func (p *Producer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", p.handleCompletions)

	p.server = &http.Server{Addr: p.cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	listener, err := net.Listen("tcp", p.cfg.Addr)
	if err != nil {
		return fmt.Errorf("openaiproxy: listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- p.server.Serve(listener) }()

	p.logger.Info("openai-compatible proxy listening", "addr", p.cfg.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return p.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("openaiproxy: serve: %w", err)
	}
}

func (p *Producer) handleCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req sdk.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	prompt := lastUserContent(req.Messages)
	if prompt == "" {
		http.Error(w, "no user message in request", http.StatusBadRequest)
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
		Payload: prompt,
		Trust:   types.OwnerCommand,
	}
	if err := p.sender.Send(r.Context(), evt); err != nil {
		http.Error(w, "failed to enqueue event", http.StatusServiceUnavailable)
		return
	}

	var reply string
	select {
	case reply = <-replyCh:
	case <-time.After(replyTimeout):
		http.Error(w, "timed out waiting for reply", http.StatusGatewayTimeout)
		return
	case <-r.Context().Done():
		return
	}

	resp := sdk.ChatCompletionResponse{
		ID:      reqID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []sdk.ChatCompletionChoice{
			{
				Index:        0,
				Message:      sdk.ChatCompletionMessage{Role: sdk.ChatMessageRoleAssistant, Content: reply},
				FinishReason: sdk.FinishReasonStop,
			},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func lastUserContent(messages []sdk.ChatCompletionMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == sdk.ChatMessageRoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// Deliver implements turn.ReplySink, routing content back to the HTTP
// handler waiting on source's request id ("openaiproxy:<req-id>").
func (p *Producer) Deliver(ctx context.Context, source, content string) error {
	_, reqID, _ := strings.Cut(source, ":")
	p.mu.Lock()
	ch, ok := p.pending[reqID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("openaiproxy: no pending request %q (already timed out)", reqID)
	}
	select {
	case ch <- content:
	default:
	}
	return nil
}
