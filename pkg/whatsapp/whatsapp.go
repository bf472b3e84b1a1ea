package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	qrCode "github.com/skip2/go-qrcode"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/wabridge/wabridge/pkg/log"
)

// Status is the coarse connection state reported to the caller. Finer
// states (connecting, reconnecting) are logged but never exposed.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Message is the normalized unit handed to the caller. Sender and Chat
// are resolved to the phone-number namespace whenever a mapping exists.
type Message struct {
	ID        string
	Sender    string
	Chat      string
	Text      string
	Timestamp int64
	IsGroup   bool
}

// Handlers is the caller-facing callback surface. Callbacks are invoked
// from whatsmeow's event goroutines and must not block.
type Handlers struct {
	OnMessage func(Message)
	OnQR      func(code string)
	OnStatus  func(Status)
}

// Config carries the session manager configuration. AuthDir is the only
// required option.
type Config struct {
	AuthDir  string
	Handlers Handlers
}

const (
	// A remote logout requires re-pairing, so retry quickly; any other
	// close cause keeps credentials and backs off longer.
	logoutReconnectDelay  = 1 * time.Second
	defaultReconnectDelay = 5 * time.Second
)

var ErrNotConnected = errors.New("whatsapp client is not connected")

// Client owns the single live whatsmeow socket and the reconnect policy
// around it. The socket reference is replaced wholesale on reconnect and
// never shared.
type Client struct {
	authDir  string
	handlers Handlers
	store    *CredentialStore
	echo     *echoSuppressor
	resolver *identityResolver

	mu sync.Mutex
	wa *whatsmeow.Client

	reconnectPending atomic.Bool
	stopped          atomic.Bool

	connectFn   func() error
	logoutDelay time.Duration
	closeDelay  time.Duration
}

func NewClient(cfg Config) *Client {
	c := &Client{
		authDir:     cfg.AuthDir,
		handlers:    cfg.Handlers,
		store:       NewCredentialStore(cfg.AuthDir),
		echo:        newEchoSuppressor(echoCapacity),
		resolver:    newIdentityResolver(),
		logoutDelay: logoutReconnectDelay,
		closeDelay:  defaultReconnectDelay,
	}
	c.connectFn = func() error { return c.Connect(context.Background()) }
	return c
}

// Connect establishes or re-establishes the session. Safe to call
// repeatedly: a prior live socket is discarded first. When the credential
// directory holds no paired device, a QR pairing flow is started and each
// code is surfaced through the OnQR callback.
func (c *Client) Connect(ctx context.Context) error {
	c.stopped.Store(false)

	c.mu.Lock()
	if c.wa != nil {
		c.wa.Disconnect()
		c.wa = nil
	}
	c.mu.Unlock()

	device, err := c.store.Open(ctx)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}

	wa := whatsmeow.NewClient(device, nil)
	wa.EnableAutoReconnect = false // reconnect policy is owned here
	wa.AutoTrustIdentity = true
	wa.AddEventHandler(c.handleEvent)

	c.resolver.seed(device)

	if device.ID == nil {
		qrChan, err := wa.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("open qr channel: %w", err)
		}
		go c.pumpQR(qrChan)
		log.Bridge("connect").Info("No paired device, starting pairing flow")
	}

	if err := wa.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()
	c.wa = wa
	c.mu.Unlock()
	return nil
}

// Disconnect tears down the socket and marks the client stopped, which
// suppresses any reconnect timer that fires afterwards. Safe to call
// when already disconnected.
func (c *Client) Disconnect() {
	c.stopped.Store(true)

	c.mu.Lock()
	if c.wa != nil {
		c.wa.Disconnect()
		c.wa = nil
	}
	c.mu.Unlock()

	c.store.Close()
}

func (c *Client) socket() *whatsmeow.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wa
}

func (c *Client) IsConnected() bool {
	wa := c.socket()
	return wa != nil && wa.IsConnected()
}

func (c *Client) IsLoggedIn() bool {
	wa := c.socket()
	return wa != nil && wa.IsLoggedIn()
}

func (c *Client) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		c.reconnectPending.Store(false)
		log.Bridge("connect").Info("Session connected")
		c.emitStatus(StatusConnected)
	case *events.LoggedOut:
		log.Bridge("close").WithField("reason", e.Reason).Warn("Session invalidated by remote, wiping credentials")
		c.emitStatus(StatusDisconnected)
		c.scheduleReconnect(true, c.logoutDelay)
	case *events.StreamReplaced:
		log.Bridge("close").Warn("Stream replaced by another connection")
		c.emitStatus(StatusDisconnected)
		c.scheduleReconnect(false, c.closeDelay)
	case *events.Disconnected:
		log.Bridge("close").Warn("Session disconnected")
		c.emitStatus(StatusDisconnected)
		c.scheduleReconnect(false, c.closeDelay)
	case *events.Message:
		c.handleMessage(e)
	case *events.PairSuccess:
		log.Bridge("pair").Info("Paired as " + e.ID.String())
	case *events.ConnectFailure:
		// Socket-level faults are logged only; reconnecting is driven
		// solely by the close event.
		log.Bridge("transport").WithField("reason", e.Reason).Error("Connection failure: " + e.Message)
	case *events.KeepAliveTimeout:
		log.Bridge("transport").WithField("error_count", e.ErrorCount).Warn("Keepalive timeout")
	case *events.StreamError:
		log.Bridge("transport").WithField("code", e.Code).Error("Stream error")
	}
}

// scheduleReconnect arms a single deferred reconnect attempt. Close
// events arriving while one is pending are ignored; the guard clears
// when the timer fires, and a failed attempt re-arms the slow path.
func (c *Client) scheduleReconnect(wipe bool, delay time.Duration) {
	if c.stopped.Load() {
		return
	}
	if !c.reconnectPending.CompareAndSwap(false, true) {
		log.Bridge("reconnect").Debug("Reconnect already scheduled, ignoring close event")
		return
	}

	if wipe {
		if err := c.store.Wipe(context.Background()); err != nil {
			log.Bridge("reconnect").WithError(err).Error("Failed to wipe credential directory")
		}
	}

	log.Bridge("reconnect").WithField("delay", delay.String()).Info("Scheduling reconnect")
	time.AfterFunc(delay, func() {
		c.reconnectPending.Store(false)
		if c.stopped.Load() {
			return
		}
		if err := c.connectFn(); err != nil {
			log.Bridge("reconnect").WithError(err).Error("Reconnect attempt failed")
			c.scheduleReconnect(false, c.closeDelay)
		}
	})
}

func (c *Client) handleMessage(e *events.Message) {
	// Our own outbound messages echo back as regular events. Consuming
	// the recorded ID drops exactly those, so self-chat messages typed
	// on another device still come through.
	if c.echo.consume(e.Info.ID) {
		log.Bridge("message").WithField("message_id", e.Info.ID).Debug("Suppressed echo of outbound message")
		return
	}
	if e.Info.Chat == types.StatusBroadcastJID {
		return
	}

	text, ok := normalizeMessage(e.Message)
	if !ok {
		return
	}

	c.resolver.learn(e.Info.Sender, e.Info.SenderAlt)

	msg := Message{
		ID:        e.Info.ID,
		Sender:    c.resolver.Resolve(e.Info.Sender).String(),
		Chat:      c.resolver.Resolve(e.Info.Chat).String(),
		Text:      text,
		Timestamp: e.Info.Timestamp.Unix(),
		IsGroup:   e.Info.IsGroup,
	}
	if c.handlers.OnMessage != nil {
		c.handlers.OnMessage(msg)
	}
}

func (c *Client) emitStatus(s Status) {
	if c.handlers.OnStatus != nil {
		c.handlers.OnStatus(s)
	}
}

func (c *Client) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			path := filepath.Join(c.authDir, "pairing-qr.png")
			if err := qrCode.WriteFile(evt.Code, qrCode.Medium, 256, path); err != nil {
				log.Bridge("pair").WithError(err).Error("Failed to render pairing QR")
			} else {
				log.Bridge("pair").Info("Pairing QR written to " + path)
			}
			if c.handlers.OnQR != nil {
				c.handlers.OnQR(evt.Code)
			}
		case whatsmeow.QRChannelSuccess.Event:
			log.Bridge("pair").Info("Pairing completed")
		case whatsmeow.QRChannelTimeout.Event:
			log.Bridge("pair").Warn("Pairing QR channel timed out")
		default:
			log.Bridge("pair").Debug("QR channel event: " + evt.Event)
		}
	}
}
