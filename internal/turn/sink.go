package turn

import (
	"context"
	"strings"
)

// ReplySink delivers a turn's final text directly back to the producer
// that originated an OwnerCommand event, keyed by the source's channel
// prefix (the substring of IngressEvent.Source before its first ':', e.g.
// "telegram", "cli", "httpapi").
type ReplySink interface {
	Deliver(ctx context.Context, source, content string) error
}

// sinkRegistry maps a source channel prefix to the producer's ReplySink.
type sinkRegistry struct {
	byChannel map[string]ReplySink
}

func newSinkRegistry() *sinkRegistry {
	return &sinkRegistry{byChannel: make(map[string]ReplySink)}
}

// Register binds sink to channel (the source prefix before ':').
func (r *sinkRegistry) Register(channel string, sink ReplySink) {
	r.byChannel[channel] = sink
}

func (r *sinkRegistry) lookup(source string) (ReplySink, bool) {
	channel, _, _ := strings.Cut(source, ":")
	sink, ok := r.byChannel[channel]
	return sink, ok
}
