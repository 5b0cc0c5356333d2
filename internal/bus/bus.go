// Package bus implements the Ingress Bus (spec.md §4.J): a bounded
// multi-producer single-consumer queue of trust-tagged events, grounded on
// the teacher's channel-based command-queue plumbing but generalized down
// to a single plain channel since spec.md wants no lane concept here.
package bus

import (
	"context"
	"fmt"

	"github.com/agentd-run/agentd/internal/types"
)

// DefaultCapacity is the bus's default bounded queue size.
const DefaultCapacity = 100

// Bus is a bounded MPSC queue of IngressEvents. Producers block on Send when
// the queue is full — events are never dropped.
type Bus struct {
	ch chan types.IngressEvent
}

// New creates a Bus with the given capacity (DefaultCapacity if capacity<=0).
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{ch: make(chan types.IngressEvent, capacity)}
}

// Send enqueues an event, blocking until there's room or ctx is done.
func (b *Bus) Send(ctx context.Context, e types.IngressEvent) error {
	select {
	case b.ch <- e:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bus: send: %w", ctx.Err())
	}
}

// Receive returns the single consumer channel. Only one goroutine should
// range over this channel at a time — the bus has exactly one receiver by
// contract.
func (b *Bus) Receive() <-chan types.IngressEvent {
	return b.ch
}

// Sender is a cloneable handle producers hold; it only exposes Send.
type Sender struct {
	b *Bus
}

// NewSender returns a Sender bound to b. Senders are cheap to clone across
// producer goroutines.
func (b *Bus) NewSender() Sender {
	return Sender{b: b}
}

// Send enqueues an event through the bound bus.
func (s Sender) Send(ctx context.Context, e types.IngressEvent) error {
	return s.b.Send(ctx, e)
}
