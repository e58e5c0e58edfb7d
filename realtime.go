package copydeck

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire format
// ============================================================================

// socketEnvelope is the wire format for all real-time events.
type socketEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	eventHandshake    = "handshake"
	eventHandshakeAck = "handshake_ack"
	eventUpdated      = "translationsUpdated"
)

// handshakeMessage carries the AES-GCM encrypted project identity plus the
// plaintext project id the server routes on before decrypting.
type handshakeMessage struct {
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag"`
	ProjectID  string `json:"projectId"`
}

// pushMessage names the namespace that changed. Pushes are hints to
// re-fetch, never payload-carrying: content always arrives via the sync
// engine, so push and pull ordering can never conflict.
type pushMessage struct {
	ScreenName         string `json:"screenName,omitempty"`
	StoreAPIIdentifier string `json:"storeApiIdentifier,omitempty"`
}

// ============================================================================
// Reconnector
// ============================================================================

type channelState string

const (
	stateDisconnected channelState = "disconnected"
	stateConnecting   channelState = "connecting"
	stateConnected    channelState = "connected"
	stateReconnecting channelState = "reconnecting"
)

// reconnector produces exponentially growing, jittered delays. The attempt
// counter resets once a connection has stayed up for a minute. There is no
// attempt cap: the channel retries until explicitly stopped.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	attempt     int
	connectedAt time.Time
}

func newReconnector() *reconnector {
	return &reconnector{
		baseDelay: 1 * time.Second,
		maxDelay:  30 * time.Second,
	}
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// Real-time channel
// ============================================================================

// realtimeChannel maintains the push connection: dial, encrypted handshake,
// push dispatch, and indefinite reconnection with backoff. It never applies
// content itself; every push is turned into a sync engine call.
type realtimeChannel struct {
	sdk *SDK

	mu               sync.Mutex
	conn             *websocket.Conn
	state            channelState
	acked            bool
	intentionalClose bool
	cancelFn         context.CancelFunc
	runCtx           context.Context
	recon            *reconnector
}

func newRealtimeChannel(sdk *SDK) *realtimeChannel {
	return &realtimeChannel{
		sdk:   sdk,
		state: stateDisconnected,
		recon: newReconnector(),
	}
}

// StartListening opens the real-time channel. On a dial failure the error is
// returned but reconnection keeps being attempted in the background until
// StopListening is called.
func (s *SDK) StartListening(ctx context.Context) error {
	s.channel.mu.Lock()
	s.channel.runCtx = ctx
	s.channel.mu.Unlock()

	if err := s.channel.connect(ctx); err != nil {
		go s.channel.scheduleReconnect()
		return err
	}
	return nil
}

// StopListening tears the channel down. No pushes are processed until a
// later StartListening.
func (s *SDK) StopListening() {
	s.channel.stop()
}

// IsConnected reports whether the push channel transport is up.
func (s *SDK) IsConnected() bool {
	s.channel.mu.Lock()
	defer s.channel.mu.Unlock()
	return s.channel.state == stateConnected
}

func (c *realtimeChannel) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == stateConnected || c.state == stateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = stateConnecting
	c.intentionalClose = false
	c.mu.Unlock()

	wsURL := strings.Replace(c.sdk.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/socket.io/"

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		c.mu.Lock()
		c.state = stateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.conn = conn
	c.state = stateConnected
	c.acked = false
	c.cancelFn = cancel
	c.recon.markConnected()
	c.mu.Unlock()

	level.Info(c.sdk.logger).Log("op", "realtime", "event", "connected")

	go c.readLoop(connCtx)
	c.sendHandshake(ctx)
	return nil
}

func (c *realtimeChannel) stop() {
	c.mu.Lock()
	c.intentionalClose = true
	c.acked = false
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = stateDisconnected
	c.recon.reset()
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
}

// sendHandshake emits the encrypted hello for the current project. Without a
// symmetric key (no Configure or auth yet) the handshake is skipped and the
// connection stays up inert; a later successful authentication re-triggers
// it through authRefreshed.
func (c *realtimeChannel) sendHandshake(ctx context.Context) {
	key := c.sdk.symmetricKey()
	c.sdk.mu.Lock()
	projectID := c.sdk.projectID
	c.sdk.mu.Unlock()

	if key == nil || projectID == "" {
		level.Warn(c.sdk.logger).Log("op", "handshake", "msg", "no symmetric key, handshake skipped")
		return
	}

	plaintext, err := json.Marshal(map[string]string{"projectId": projectID})
	if err != nil {
		level.Warn(c.sdk.logger).Log("op", "handshake", "err", err)
		return
	}
	env, err := encryptEnvelope(key, plaintext)
	if err != nil {
		level.Warn(c.sdk.logger).Log("op", "handshake", "err", err)
		return
	}

	if err := c.send(ctx, eventHandshake, handshakeMessage{
		IV:         env.IV,
		Ciphertext: env.Ciphertext,
		Tag:        env.Tag,
		ProjectID:  projectID,
	}); err != nil {
		level.Warn(c.sdk.logger).Log("op", "handshake", "err", err)
	}
}

// authRefreshed re-sends the handshake on a live, not-yet-acknowledged
// connection after authentication (re-)derives the symmetric key.
func (c *realtimeChannel) authRefreshed() {
	c.mu.Lock()
	pending := c.state == stateConnected && !c.acked
	ctx := c.runCtx
	c.mu.Unlock()
	if !pending {
		return
	}
	if ctx == nil {
		ctx = c.sdk.bg
	}
	go c.sendHandshake(ctx)
}

func (c *realtimeChannel) send(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(socketEnvelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, msg)
}

func (c *realtimeChannel) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentionalClose
			c.state = stateDisconnected
			c.conn = nil
			c.acked = false
			c.mu.Unlock()

			if intentional {
				return
			}
			level.Warn(c.sdk.logger).Log("op", "realtime", "event", "disconnected", "err", err)
			c.scheduleReconnect()
			return
		}

		var env socketEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		c.handleEnvelope(env)
	}
}

func (c *realtimeChannel) handleEnvelope(env socketEnvelope) {
	switch env.Event {
	case eventHandshakeAck:
		c.mu.Lock()
		c.acked = true
		c.mu.Unlock()
		level.Info(c.sdk.logger).Log("op", "realtime", "event", "handshakeAck")

		// Full catch-up after every (re)connect; this, not push delivery, is
		// what guarantees eventual consistency.
		go c.withSyncContext(func(ctx context.Context) {
			c.sdk.SyncAll(ctx)
		})

	case eventUpdated:
		var msg pushMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			level.Warn(c.sdk.logger).Log("op", "realtime", "event", env.Event, "err", err)
			return
		}
		go c.withSyncContext(func(ctx context.Context) {
			c.dispatchPush(ctx, msg)
		})
	}
}

func (c *realtimeChannel) dispatchPush(ctx context.Context, msg pushMessage) {
	switch {
	case msg.ScreenName == NamespaceAll || msg.StoreAPIIdentifier == NamespaceAll:
		c.sdk.SyncAll(ctx)
	case msg.StoreAPIIdentifier != "":
		c.sdk.SyncStore(ctx, msg.StoreAPIIdentifier)
	case msg.ScreenName != "":
		// The known-namespace set decides tab vs. store, not the name.
		if c.sdk.cache.isStore(msg.ScreenName) {
			c.sdk.SyncStore(ctx, msg.ScreenName)
		} else {
			c.sdk.Sync(ctx, msg.ScreenName)
		}
	}
}

func (c *realtimeChannel) withSyncContext(fn func(context.Context)) {
	ctx, cancel := context.WithTimeout(c.sdk.bg, DefaultTimeout)
	defer cancel()
	fn(ctx)
}

// scheduleReconnect retries the connection with growing delays. The
// reconnector is only touched under c.mu. A loop that wakes up to find the
// channel stopped, or already connected by another caller, bows out instead
// of dialing a second connection.
func (c *realtimeChannel) scheduleReconnect() {
	for {
		c.mu.Lock()
		if c.intentionalClose || c.state == stateConnected || c.state == stateConnecting {
			c.mu.Unlock()
			return
		}
		c.state = stateReconnecting
		ctx := c.runCtx
		delay := c.recon.nextDelay()
		attempt := c.recon.attempt
		c.mu.Unlock()
		if ctx == nil {
			ctx = c.sdk.bg
		}

		level.Info(c.sdk.logger).Log("op", "realtime", "event", "reconnecting", "attempt", attempt, "delay", delay)

		select {
		case <-ctx.Done():
			c.mu.Lock()
			if c.state == stateReconnecting {
				c.state = stateDisconnected
			}
			c.mu.Unlock()
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		stale := c.intentionalClose || c.state == stateConnected || c.state == stateConnecting
		c.mu.Unlock()
		if stale {
			return
		}

		if err := c.connect(ctx); err == nil {
			return
		}
	}
}
