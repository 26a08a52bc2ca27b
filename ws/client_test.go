package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibheksoni/axiomtrade-go/auth"
)

type fakeAuth struct {
	sessions *auth.SessionStore

	mu    sync.Mutex
	err   error
	calls int
}

func newFakeAuth(t *testing.T) *fakeAuth {
	t.Helper()
	store := auth.NewSessionStore()
	exp := time.Now().Add(time.Hour)
	err := store.CreateSession(
		auth.Tokens{AccessToken: "acc", RefreshToken: "ref", ExpiresAt: &exp},
		nil,
		&auth.Cookies{AccessToken: "acc", RefreshToken: "ref"},
		"test-agent",
	)
	require.NoError(t, err)
	return &fakeAuth{sessions: store}
}

func (f *fakeAuth) EnsureAuthenticated(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeAuth) Sessions() *auth.SessionStore { return f.sessions }

// streamServer accepts WebSocket connections and records the headers and
// join frames of each one.
type streamServer struct {
	t        *testing.T
	upgrader websocket.Upgrader
	reject   bool
	greeting []byte

	mu      sync.Mutex
	headers []http.Header
	joins   [][]string

	srv *httptest.Server
}

func newStreamServer(t *testing.T) *streamServer {
	t.Helper()
	s := &streamServer{t: t}
	s.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *streamServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *streamServer) handle(w http.ResponseWriter, r *http.Request) {
	if s.reject {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	s.headers = append(s.headers, r.Header.Clone())
	idx := len(s.joins)
	s.joins = append(s.joins, nil)
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.greeting != nil {
		if err := conn.WriteMessage(websocket.TextMessage, s.greeting); err != nil {
			return
		}
	}

	for {
		var join joinMessage
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		s.mu.Lock()
		s.joins[idx] = append(s.joins[idx], join.Room)
		s.mu.Unlock()
	}
}

func (s *streamServer) joinsFor(conn int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn >= len(s.joins) {
		return nil
	}
	return append([]string(nil), s.joins[conn]...)
}

func (s *streamServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.joins)
}

func newTestStream(t *testing.T, s *streamServer, opts ...Option) (*Client, *fakeAuth) {
	t.Helper()
	provider := newFakeAuth(t)
	base := []Option{WithDialURL(s.url())}
	c := NewClient(provider, append(base, opts...)...)
	t.Cleanup(c.Disconnect)
	return c, provider
}

func TestClientConnectSendsAuthHeaders(t *testing.T) {
	server := newStreamServer(t)
	c, _ := newTestStream(t, server)

	require.NoError(t, c.Connect(context.Background()))
	require.True(t, c.IsConnected())

	server.mu.Lock()
	header := server.headers[0]
	server.mu.Unlock()

	assert.Contains(t, header.Get("Cookie"), "auth-access-token=acc")
	assert.Contains(t, header.Get("Cookie"), "auth-refresh-token=ref")
	assert.Equal(t, "https://axiom.trade", header.Get("Origin"))
	assert.Equal(t, "test-agent", header.Get("User-Agent"))
}

func TestClientConnectIdempotent(t *testing.T) {
	server := newStreamServer(t)
	c, _ := newTestStream(t, server)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 1, server.connections())
}

func TestClientConnectRejected(t *testing.T) {
	server := newStreamServer(t)
	server.reject = true
	c, _ := newTestStream(t, server)

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, ErrAuthFailed)
	assert.False(t, c.IsConnected())
}

func TestClientConnectAuthFailure(t *testing.T) {
	server := newStreamServer(t)
	c, provider := newTestStream(t, server)
	provider.err = errors.New("no credentials")

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestClientSubscribeSendsJoin(t *testing.T) {
	server := newStreamServer(t)
	c, _ := newTestStream(t, server)
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.SubscribeNewTokens())
	require.NoError(t, c.SubscribeTokenPrice("TokenMint111"))
	require.NoError(t, c.SubscribeWalletTransactions("Wallet111"))

	require.Eventually(t, func() bool {
		return len(server.joinsFor(0)) == 3
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"new_pairs", "TokenMint111", "v:Wallet111"}, server.joinsFor(0))
	assert.Equal(t, []string{"new_pairs", "TokenMint111", "v:Wallet111"}, c.Subscriptions())
}

func TestClientSubscribeDeduplicates(t *testing.T) {
	server := newStreamServer(t)
	c, _ := newTestStream(t, server)
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.SubscribeNewTokens())
	require.NoError(t, c.SubscribeNewTokens())

	assert.Equal(t, []string{"new_pairs"}, c.Subscriptions())
}

func TestClientSubscribeRequiresConnection(t *testing.T) {
	server := newStreamServer(t)
	c, _ := newTestStream(t, server)

	require.ErrorIs(t, c.SubscribeNewTokens(), ErrNotConnected)
}

func TestClientReconnectReplaysSubscriptions(t *testing.T) {
	server := newStreamServer(t)
	c, provider := newTestStream(t, server)
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.SubscribeNewTokens())
	require.NoError(t, c.SubscribeTokenPrice("TokenMint111"))
	require.NoError(t, c.SubscribeWalletTransactions("Wallet111"))

	require.NoError(t, c.Reconnect(context.Background()))
	require.True(t, c.IsConnected())
	require.Equal(t, 2, server.connections())

	require.Eventually(t, func() bool {
		return len(server.joinsFor(1)) == 3
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"new_pairs", "TokenMint111", "v:Wallet111"}, server.joinsFor(1))
	assert.Equal(t, []string{"new_pairs", "TokenMint111", "v:Wallet111"}, c.Subscriptions())
	assert.GreaterOrEqual(t, provider.calls, 2)
}

func TestClientDisconnectClearsSubscriptions(t *testing.T) {
	server := newStreamServer(t)
	c, _ := newTestStream(t, server)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.SubscribeNewTokens())

	c.Disconnect()
	assert.False(t, c.IsConnected())
	assert.Empty(t, c.Subscriptions())

	// A second disconnect is a no-op.
	c.Disconnect()
}

func TestClientDispatchesMessages(t *testing.T) {
	server := newStreamServer(t)
	server.greeting = []byte(`{"room":"new_pairs","content":{"token_address":"Mint111","token_ticker":"TKN","initial_liquidity_sol":12.5}}`)

	handler := NewDefaultHandler(nil)
	c, _ := newTestStream(t, server, WithHandler(handler))
	require.NoError(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return len(handler.NewPairs()) == 1
	}, time.Second, 10*time.Millisecond)

	event := handler.NewPairs()[0]
	assert.Equal(t, "Mint111", event.TokenAddress)
	assert.Equal(t, "TKN", event.TokenTicker)
	assert.Equal(t, 12.5, event.InitialLiquiditySOL)
}

func TestRegionHosts(t *testing.T) {
	assert.Equal(t, []string{"cluster9.axiom.trade"}, RegionGlobal.Hosts())
	assert.Len(t, RegionUSWest.Hosts(), 2)
	// Unknown regions fall back to the global cluster.
	assert.Equal(t, RegionGlobal.Hosts(), Region("nowhere").Hosts())
}

func TestDefaultHandlerBuffersUnknownRooms(t *testing.T) {
	handler := NewDefaultHandler(nil)
	handler.HandleMessage(Message{Room: "v:Wallet111", Content: []byte(`{"sol":1}`)})

	require.Len(t, handler.Messages(), 1)
	assert.Equal(t, "v:Wallet111", handler.Messages()[0].Room)
	assert.Empty(t, handler.NewPairs())

	handler.Clear()
	assert.Empty(t, handler.Messages())
}
