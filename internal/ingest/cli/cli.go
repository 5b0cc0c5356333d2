// Package cli implements the CLI ingress producer: a line-oriented reader
// over an io.Reader/io.Writer pair that feeds the local operator's input
// onto the Ingress Bus as OwnerCommand events and writes replies back to
// the writer as a turn.ReplySink.
//
// Grounded on the teacher's cmd/nexus interactive-mode stdin loop
// (bufio.Scanner over os.Stdin, one line per turn), generalized to an
// injectable io.Reader/io.Writer pair so the same producer backs both the
// interactive chat command and an always-local owner channel in the daemon.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/agentd-run/agentd/internal/approval"
	"github.com/agentd-run/agentd/internal/bus"
	"github.com/agentd-run/agentd/internal/types"
)

// Source is the fixed source string of CLI-originated turns; the daemon and
// turn.Controller key sink lookups on its channel prefix ("cli").
const Source = "cli:owner"

// Producer reads lines from in and sends one OwnerCommand event per
// non-empty line.
type Producer struct {
	in     *bufio.Scanner
	out    io.Writer
	sender bus.Sender
	logger *slog.Logger
	prompt string

	mu       sync.Mutex
	approval *approval.Coordinator
	pending  *approval.UIRequest
}

// New creates a Producer. prompt, if non-empty, is written to out before
// each read (interactive mode); leave empty for a non-interactive pipe.
func New(in io.Reader, out io.Writer, sender bus.Sender, prompt string, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{in: bufio.NewScanner(in), out: out, sender: sender, prompt: prompt, logger: logger.With("producer", "cli")}
}

// SetApprovalCoordinator wires coordinator so Run's own stdin loop can
// double as the approval prompt's answer reader: once RunApprovals renders
// a pending request, the next line Run scans is treated as the decision
// instead of a new turn.
func (p *Producer) SetApprovalCoordinator(coordinator *approval.Coordinator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.approval = coordinator
}

// RunApprovals drains outbox, rendering each pending approval to out and
// recording it as the line Run's loop should next treat as a decision
// rather than a new command. It blocks until outbox closes or ctx is done.
func (p *Producer) RunApprovals(ctx context.Context, outbox <-chan approval.UIRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-outbox:
			if !ok {
				return
			}
			p.renderApproval(req)
		}
	}
}

func (p *Producer) renderApproval(req approval.UIRequest) {
	fmt.Fprintf(p.out, "\napproval requested for tool %q (call %s): %s\nreply \"approve\" or \"deny\"\n", req.Tool, req.ToolCallID, string(req.Args))

	p.mu.Lock()
	p.pending = &req
	p.mu.Unlock()

	select {
	case req.MessageID <- req.ToolCallID:
	default:
	}
}

// decideIfPending reports whether line answers the currently pending
// approval, resolving it and clearing the pending slot if so.
func (p *Producer) decideIfPending(line string) bool {
	p.mu.Lock()
	pending, coordinator := p.pending, p.approval
	p.mu.Unlock()
	if pending == nil || coordinator == nil {
		return false
	}

	var decision approval.Decision
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "approve", "y", "yes":
		decision = approval.Allowed
	case "deny", "n", "no":
		decision = approval.Denied
	default:
		return false
	}

	coordinator.Resolve(pending.ToolCallID, decision)
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
	return true
}

// Run reads lines from the input until EOF or ctx is done, sending each as
// an OwnerCommand IngressEvent — except a line that answers a pending
// approval (see RunApprovals), which is consumed as a decision instead.
func (p *Producer) Run(ctx context.Context) error {
	for {
		if p.prompt != "" {
			fmt.Fprint(p.out, p.prompt)
		}
		if !p.in.Scan() {
			return p.in.Err()
		}
		line := strings.TrimSpace(p.in.Text())
		if line == "" {
			continue
		}
		if p.decideIfPending(line) {
			continue
		}

		evt := types.IngressEvent{
			ID:      uuid.NewString(),
			Source:  Source,
			Payload: line,
			Trust:   types.OwnerCommand,
		}
		if err := p.sender.Send(ctx, evt); err != nil {
			return fmt.Errorf("cli: send: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Deliver implements turn.ReplySink by writing content followed by a
// newline to the producer's output.
func (p *Producer) Deliver(ctx context.Context, source, content string) error {
	_, err := fmt.Fprintln(p.out, content)
	return err
}
