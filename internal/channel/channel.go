// Package channel adapts the WhatsApp session manager to the message
// bus: inbound events become bus messages after allow-list filtering,
// outbound bus messages become sends, long replies are split.
package channel

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/wabridge/wabridge/internal/bus"
	"github.com/wabridge/wabridge/pkg/log"
	"github.com/wabridge/wabridge/pkg/whatsapp"
)

// Name identifies this channel on the bus.
const Name = "whatsapp"

// splitLimit is the largest chunk sent as one message. WhatsApp caps
// message bodies well above this; staying low keeps replies readable.
const splitLimit = 4000

// Config carries the channel configuration. An empty AllowFrom admits
// nobody; the single entry "*" admits everyone.
type Config struct {
	AuthDir   string
	AllowFrom []string
}

// Channel owns one WhatsApp session and bridges it to the bus.
type Channel struct {
	bus      *bus.MessageBus
	client   *whatsapp.Client
	allowed  map[string]struct{}
	allowAll bool
}

func New(cfg Config, b *bus.MessageBus) *Channel {
	ch := &Channel{
		bus:     b,
		allowed: make(map[string]struct{}, len(cfg.AllowFrom)),
	}
	for _, entry := range cfg.AllowFrom {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			ch.allowAll = true
			continue
		}
		ch.allowed[normalizeID(entry)] = struct{}{}
	}

	ch.client = whatsapp.NewClient(whatsapp.Config{
		AuthDir: cfg.AuthDir,
		Handlers: whatsapp.Handlers{
			OnMessage: ch.handleMessage,
			OnQR:      ch.handleQR,
			OnStatus:  ch.handleStatus,
		},
	})
	return ch
}

// Start connects the underlying session.
func (ch *Channel) Start(ctx context.Context) error {
	log.Channel(Name).Info("Starting channel")
	return ch.client.Connect(ctx)
}

// Stop disconnects the underlying session.
func (ch *Channel) Stop() {
	log.Channel(Name).Info("Stopping channel")
	ch.client.Disconnect()
}

// Status reports the coarse connection state.
func (ch *Channel) Status() whatsapp.Status {
	if ch.client.IsConnected() {
		return whatsapp.StatusConnected
	}
	return whatsapp.StatusDisconnected
}

// Client exposes the underlying session for operator endpoints.
func (ch *Channel) Client() *whatsapp.Client {
	return ch.client
}

func (ch *Channel) handleMessage(m whatsapp.Message) {
	if !ch.IsAllowed(m.Sender) {
		log.Channel(Name).WithField("sender", m.Sender).Debug("Sender not in allow list, dropping message")
		return
	}
	ch.bus.PublishInbound(bus.InboundMessage{
		ID:        uuid.NewString(),
		Channel:   Name,
		Sender:    m.Sender,
		Chat:      m.Chat,
		Text:      m.Text,
		Timestamp: m.Timestamp,
		IsGroup:   m.IsGroup,
	})
}

func (ch *Channel) handleQR(code string) {
	ch.bus.PublishInbound(bus.InboundMessage{
		ID:      uuid.NewString(),
		Channel: Name,
		Sender:  "system",
		Text:    "Pairing required, scan QR code: " + code,
	})
}

func (ch *Channel) handleStatus(s whatsapp.Status) {
	log.Channel(Name).WithField("status", string(s)).Info("Connection status changed")
}

// IsAllowed reports whether a sender passes the allow list. Entries and
// senders are compared after normalization, so "+628123456789",
// "628123456789" and "628123456789@s.whatsapp.net" all match.
func (ch *Channel) IsAllowed(sender string) bool {
	if ch.allowAll {
		return true
	}
	_, ok := ch.allowed[normalizeID(sender)]
	return ok
}

// normalizeID reduces an identifier to its bare user part. Composite
// IDs keep only the last segment.
func normalizeID(id string) string {
	if i := strings.LastIndex(id, "|"); i >= 0 {
		id = id[i+1:]
	}
	if i := strings.Index(id, "@"); i >= 0 {
		id = id[:i]
	}
	id = strings.TrimPrefix(id, "+")
	if i := strings.Index(id, ":"); i >= 0 {
		id = id[:i]
	}
	return strings.TrimSpace(id)
}

// Send delivers text to a chat, splitting bodies above the chunk limit.
func (ch *Channel) Send(ctx context.Context, chat string, text string) error {
	for _, part := range SplitMessage(text, splitLimit) {
		if _, err := ch.client.SendMessage(ctx, chat, part); err != nil {
			return err
		}
	}
	return nil
}

// SplitMessage breaks text into chunks no longer than limit runes,
// preferring paragraph breaks, then line breaks, then a hard cut. A
// break in the first half of a window is rejected so chunks stay
// reasonably full.
func SplitMessage(text string, limit int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var parts []string
	for len(runes) > limit {
		window := runes[:limit]

		cut := lastBreak(window, "\n\n")
		if cut < limit/2 {
			if nl := lastBreak(window, "\n"); nl >= limit/2 {
				cut = nl
			}
		}
		if cut < limit/2 {
			cut = limit
		}

		parts = append(parts, strings.TrimSpace(string(window[:cut])))
		runes = []rune(strings.TrimSpace(string(runes[cut:])))
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

// lastBreak reports the rune offset of the last occurrence of sep in
// window, or -1.
func lastBreak(window []rune, sep string) int {
	s := string(window)
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return -1
	}
	return len([]rune(s[:i]))
}
