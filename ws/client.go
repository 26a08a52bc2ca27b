// Package ws streams market events over an authenticated WebSocket
// connection, reconnecting with fresh tokens and replaying subscriptions.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vibheksoni/axiomtrade-go/auth"
)

var (
	// ErrNotConnected means an operation requires an open connection.
	ErrNotConnected = errors.New("ws: not connected")
	// ErrAuthFailed means the stream rejected the session credentials.
	ErrAuthFailed = errors.New("ws: authentication failed")
)

const (
	defaultOrigin          = "https://axiom.trade"
	defaultRefreshInterval = 10 * time.Minute
	handshakeTimeout       = 15 * time.Second
)

// AuthProvider supplies session credentials for the stream handshake. The
// auth client satisfies it.
type AuthProvider interface {
	EnsureAuthenticated(ctx context.Context) error
	Sessions() *auth.SessionStore
}

// Client maintains one authenticated stream connection. Subscriptions are
// remembered in the order they were made and replayed in that order after a
// reconnect. Safe for concurrent use.
type Client struct {
	auth            AuthProvider
	region          Region
	handler         MessageHandler
	logger          *zap.Logger
	dialer          *websocket.Dialer
	refreshInterval time.Duration
	dialURL         string

	writeMu sync.Mutex

	mu            sync.Mutex
	conn          *websocket.Conn
	connected     bool
	tokenPrice    bool
	subscriptions []string
	cancelLoops   context.CancelFunc
}

// Option configures a Client.
type Option func(*Client)

// WithRegion selects the streaming cluster; defaults to RegionGlobal.
func WithRegion(region Region) Option {
	return func(c *Client) { c.region = region }
}

// WithHandler sets the message handler; defaults to a buffering handler.
func WithHandler(handler MessageHandler) Option {
	return func(c *Client) { c.handler = handler }
}

// WithLogger attaches a logger; defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRefreshInterval overrides how often the background loop revalidates
// the session.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Client) { c.refreshInterval = d }
}

// WithDialURL pins the full dial URL instead of deriving it from the region.
// Mainly for tests.
func WithDialURL(url string) Option {
	return func(c *Client) { c.dialURL = url }
}

// NewClient builds a stream client on top of an authenticated session
// source.
func NewClient(provider AuthProvider, opts ...Option) *Client {
	c := &Client{
		auth:            provider,
		region:          RegionGlobal,
		logger:          zap.NewNop(),
		dialer:          &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		refreshInterval: defaultRefreshInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.handler == nil {
		c.handler = NewDefaultHandler(c.logger)
	}
	return c
}

// Connect opens the regional stream. Calling Connect on an open client is a
// no-op.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, false)
}

// ConnectTokenPrice opens the dedicated token-price stream.
func (c *Client) ConnectTokenPrice(ctx context.Context) error {
	return c.connect(ctx, true)
}

func (c *Client) connect(ctx context.Context, tokenPrice bool) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.auth.EnsureAuthenticated(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	host := c.region.randomHost()
	if tokenPrice {
		host = tokenPriceHost
	}
	url := c.dialURL
	if url == "" {
		url = "wss://" + host + "/"
	}

	header := http.Header{}
	header.Set("Origin", defaultOrigin)
	sessions := c.auth.Sessions()
	header.Set("User-Agent", sessions.UserAgent())
	if cookie, ok := sessions.CookieHeader(); ok && cookie != "" {
		header.Set("Cookie", cookie)
	}

	conn, resp, err := c.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: handshake rejected with %d", ErrAuthFailed, resp.StatusCode)
		}
		return fmt.Errorf("ws: dial %s: %w", url, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.tokenPrice = tokenPrice
	c.cancelLoops = cancel
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.refreshLoop(loopCtx, conn)

	c.logger.Debug("stream connected", zap.String("url", url))
	c.handler.OnConnected(host)
	return nil
}

// Disconnect closes the connection and forgets all subscriptions. Safe to
// call repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
	}

	c.closeConn(conn, "manual disconnect")

	c.mu.Lock()
	c.subscriptions = nil
	c.mu.Unlock()
}

// Reconnect tears the connection down and dials again with a revalidated
// session, then replays every subscription in its original order.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	rooms := append([]string(nil), c.subscriptions...)
	tokenPrice := c.tokenPrice
	conn := c.conn
	c.mu.Unlock()

	c.closeConn(conn, "reconnecting")

	if err := c.connect(ctx, tokenPrice); err != nil {
		return err
	}
	for _, room := range rooms {
		if err := c.join(room); err != nil {
			return fmt.Errorf("ws: replaying subscription to %s: %w", room, err)
		}
	}
	return nil
}

// SubscribeNewTokens joins the new token listings room.
func (c *Client) SubscribeNewTokens() error {
	return c.join(roomNewPairs)
}

// SubscribeTokenPrice joins the price room for a token address.
func (c *Client) SubscribeTokenPrice(tokenAddress string) error {
	return c.join(tokenAddress)
}

// SubscribeWalletTransactions joins the transaction room for a wallet.
func (c *Client) SubscribeWalletTransactions(walletAddress string) error {
	return c.join("v:" + walletAddress)
}

// IsConnected reports whether the stream is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Subscriptions returns the active rooms in subscription order.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscriptions...)
}

func (c *Client) join(room string) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	if err := c.writeJSON(conn, joinMessage{Action: "join", Room: room}); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.subscriptions {
		if existing == room {
			return nil
		}
	}
	c.subscriptions = append(c.subscriptions, room)
	return nil
}

func (c *Client) writeJSON(conn *websocket.Conn, v any) error {
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ws: encoding message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("ws: sending message: %w", err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.closeConn(conn, "connection lost") {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.handler.OnError(err)
				}
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Room == "" {
			c.logger.Debug("unrecognized stream payload", zap.ByteString("data", data))
			continue
		}
		c.handler.HandleMessage(msg)
	}
}

// refreshLoop keeps the session warm while the connection is open. A failed
// revalidation tears the connection down; subscriptions are kept so a later
// Reconnect can replay them.
func (c *Client) refreshLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !c.isCurrent(conn) {
			return
		}
		if err := c.auth.EnsureAuthenticated(ctx); err != nil {
			c.handler.OnError(fmt.Errorf("%w: %v", ErrAuthFailed, err))
			c.closeConn(conn, "session expired")
			return
		}
		c.logger.Debug("stream session revalidated")
	}
}

func (c *Client) isCurrent(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn && c.connected
}

// closeConn tears down conn if it is still the active connection. Reports
// whether this call performed the teardown.
func (c *Client) closeConn(conn *websocket.Conn, reason string) bool {
	if conn == nil {
		return false
	}

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return false
	}
	c.conn = nil
	c.connected = false
	cancel := c.cancelLoops
	c.cancelLoops = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = conn.Close()
	c.handler.OnDisconnected(reason)
	return true
}
