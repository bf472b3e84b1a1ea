// Package bus decouples chat channels from whatever consumes their
// messages. Inbound and outbound traffic flow through bounded queues so
// a slow consumer degrades by dropping, never by blocking an event
// handler.
package bus

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/wabridge/wabridge/pkg/log"
)

const defaultQueueDepth = 256

// InboundMessage is a normalized message received from a chat channel.
type InboundMessage struct {
	ID        string
	Channel   string
	Sender    string
	Chat      string
	Text      string
	Timestamp int64
	IsGroup   bool
}

// OutboundMessage is a reply to be delivered through a chat channel.
type OutboundMessage struct {
	Channel string
	Chat    string
	Text    string
}

// MessageBus carries traffic between channels and consumers. Publishing
// never blocks: full queues and rate-limited senders drop the message
// with a warning.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rateEach rate.Limit
	burst    int
}

// New builds a bus allowing perMinute inbound messages per sender with
// the given burst.
func New(perMinute int, burst int) *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, defaultQueueDepth),
		outbound: make(chan OutboundMessage, defaultQueueDepth),
		limiters: make(map[string]*rate.Limiter),
		rateEach: rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

func (b *MessageBus) limiter(channel string, sender string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := channel + ":" + sender
	l, ok := b.limiters[key]
	if !ok {
		l = rate.NewLimiter(b.rateEach, b.burst)
		b.limiters[key] = l
	}
	return l
}

// PublishInbound enqueues a message from a channel. Messages from
// senders over their rate limit, and messages that would overflow the
// queue, are dropped.
func (b *MessageBus) PublishInbound(msg InboundMessage) bool {
	if !b.limiter(msg.Channel, msg.Sender).Allow() {
		log.Bus().WithField("sender", msg.Sender).Warn("Rate limit exceeded, dropping inbound message")
		return false
	}
	select {
	case b.inbound <- msg:
		return true
	default:
		log.Bus().WithField("sender", msg.Sender).Warn("Inbound queue full, dropping message")
		return false
	}
}

// PublishOutbound enqueues a reply for delivery.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) bool {
	select {
	case b.outbound <- msg:
		return true
	default:
		log.Bus().WithField("chat", msg.Chat).Warn("Outbound queue full, dropping message")
		return false
	}
}

// ConsumeInbound blocks for the next inbound message. The second return
// is false when ctx ends.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// ConsumeOutbound blocks for the next outbound message. The second
// return is false when ctx ends.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// InboundDepth reports the number of queued inbound messages.
func (b *MessageBus) InboundDepth() int { return len(b.inbound) }

// OutboundDepth reports the number of queued outbound messages.
func (b *MessageBus) OutboundDepth() int { return len(b.outbound) }
