// Package transport implements the Transport Facade (spec.md section 4.G):
// outbound send with bounded exponential backoff over an injectable
// transport, and an inbound event pump the coordinator drains without
// knowing anything about the underlying chat platform.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/meshprotocol/agent/pkg/meshtypes"
)

// Sender is the minimal outbound capability a concrete transport (Telegram,
// Matrix, a test double) must provide.
type Sender interface {
	Send(ctx context.Context, channelID, text string) error
}

// Event is one inbound message, platform-agnostic apart from ChatID/MessageID
// (used for ingest dedup) and the raw Text the wire codec parses.
type Event struct {
	ChatID    string
	MessageID string
	Text      string
}

// Source is the inbound capability a concrete transport provides: a channel
// of events, closed when the transport shuts down.
type Source interface {
	Events() <-chan Event
}

// Config holds the backoff parameters of spec.md section 4.G.
type Config struct {
	// SendRetryBaseMs is the first retry delay; each subsequent attempt
	// doubles it. Defaults to 150, floored at 50.
	SendRetryBaseMs int
	// SendRetries is the number of retry attempts after the first try.
	// Defaults to 2.
	SendRetries int
}

func (c Config) withDefaults() Config {
	if c.SendRetryBaseMs <= 0 {
		c.SendRetryBaseMs = 150
	}
	if c.SendRetryBaseMs < 50 {
		c.SendRetryBaseMs = 50
	}
	if c.SendRetries <= 0 {
		c.SendRetries = 2
	}
	return c
}

// Facade is the uniform outbound/inbound boundary of spec.md section 4.G.
type Facade struct {
	sender Sender
	source Source
	cfg    Config
}

// New wraps sender/source with the configured retry policy. source may be
// nil for a send-only facade (e.g. a test harness that drives ingest
// directly via Dispatch).
func New(sender Sender, source Source, cfg Config) *Facade {
	return &Facade{sender: sender, source: source, cfg: cfg.withDefaults()}
}

// Send attempts delivery with exponential backoff: base, 2*base, 4*base...
// across SendRetries additional attempts after the first. The final
// failure is surfaced as a *meshtypes.MeshError of category transport_error.
func (f *Facade) Send(ctx context.Context, channelID, text string) error {
	delay := time.Duration(f.cfg.SendRetryBaseMs) * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= f.cfg.SendRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return meshtypes.TransportErrorf(ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
		lastErr = f.sender.Send(ctx, channelID, text)
		if lastErr == nil {
			return nil
		}
	}
	return meshtypes.TransportErrorf(fmt.Errorf("send to %s failed after %d attempts: %w", channelID, f.cfg.SendRetries+1, lastErr))
}

// Events exposes the inbound stream, or nil if this facade has no source.
func (f *Facade) Events() <-chan Event {
	if f.source == nil {
		return nil
	}
	return f.source.Events()
}
