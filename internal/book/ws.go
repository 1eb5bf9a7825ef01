package book

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/SaganGromov/polybot/pkg/types"
)

// connState is the per-connection state machine:
// DISCONNECTED -> CONNECTING -> HANDSHAKING -> LIVE -> (DISCONNECTED on error)
type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateHandshaking
	stateLive
)

const (
	heartbeatInterval = 20 * time.Second
	reconnectBackoff  = 5 * time.Second
	writeTimeout      = 10 * time.Second
)

// wsLevel is the wire shape of one book level.
type wsLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// wsBookEvent is a per-asset book message; dispatch applies its levels to
// the cache as incremental updates (a zero size removes a level).
type wsBookEvent struct {
	EventType string    `json:"event_type"`
	AssetID   string    `json:"asset_id"`
	Bids      []wsLevel `json:"bids"`
	Asks      []wsLevel `json:"asks"`
}

type wsHandshake struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids"`
}

type wsSubscribeMsg struct {
	Operation string   `json:"operation"`
	AssetIDs  []string `json:"assets_ids"`
}

// Store owns the live WebSocket connection and the set of per-token
// Caches it feeds. One writer goroutine (Run) owns the connection;
// Subscribe/GetOrCreate are safe to call concurrently from readers.
type Store struct {
	url    string
	logger *slog.Logger

	mu       sync.RWMutex
	caches   map[string]*Cache
	wantSubs map[string]bool // tokens we want subscribed, replayed on reconnect

	connMu sync.Mutex
	conn   *websocket.Conn
	state  connState
}

// NewStore creates a Store pointed at the given market WebSocket URL.
func NewStore(wsURL string, logger *slog.Logger) *Store {
	return &Store{
		url:      wsURL,
		logger:   logger.With("component", "book.store"),
		caches:   make(map[string]*Cache),
		wantSubs: make(map[string]bool),
	}
}

// GetOrCreate returns the Cache for tokenID, creating an empty one if it
// doesn't already exist. It does not subscribe the token; Subscribe does.
func (s *Store) GetOrCreate(tokenID string) *Cache {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.caches[tokenID]
	if !ok {
		c = NewCache()
		s.caches[tokenID] = c
	}
	return c
}

// Subscribe marks tokenID as wanted and, if the connection is live, sends
// an idempotent subscribe message immediately. If the connection isn't
// live yet, the subscription is remembered and replayed on the next
// handshake.
func (s *Store) Subscribe(tokenID string) {
	s.mu.Lock()
	alreadyWanted := s.wantSubs[tokenID]
	s.wantSubs[tokenID] = true
	s.mu.Unlock()

	s.GetOrCreate(tokenID)

	if alreadyWanted {
		return
	}

	s.connMu.Lock()
	live := s.state == stateLive
	s.connMu.Unlock()
	if live {
		if err := s.writeJSON(wsSubscribeMsg{Operation: "subscribe", AssetIDs: []string{tokenID}}); err != nil {
			s.logger.Warn("subscribe failed, will retry on next handshake", "token_id", tokenID, "error", err)
		}
	}
}

// Run connects and maintains the WebSocket connection, reconnecting with a
// fixed 5-second backoff and replaying the full subscription set on each
// handshake. Blocks until ctx is done.
func (s *Store) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.connectAndRead(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("order book websocket disconnected, reconnecting", "error", err)
		}

		s.connMu.Lock()
		s.state = stateDisconnected
		s.connMu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (s *Store) connectAndRead(ctx context.Context) error {
	s.connMu.Lock()
	s.state = stateConnecting
	s.connMu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.state = stateHandshaking
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	s.mu.RLock()
	ids := make([]string, 0, len(s.wantSubs))
	for id := range s.wantSubs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	if err := s.writeJSON(wsHandshake{Type: "market", AssetIDs: ids}); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	s.connMu.Lock()
	s.state = stateLive
	s.connMu.Unlock()
	s.logger.Info("order book websocket live", "subscriptions", len(ids))

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.heartbeatLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.dispatch(msg)
	}
}

func (s *Store) dispatch(data []byte) {
	if string(data) == "PONG" {
		return
	}

	var evt wsBookEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		s.logger.Debug("ignoring unparseable ws message", "error", err)
		return
	}
	if evt.AssetID == "" {
		return
	}

	cache := s.GetOrCreate(evt.AssetID)
	cache.Update(types.SideBuy, toLevels(evt.Bids))
	cache.Update(types.SideSell, toLevels(evt.Asks))
}

func toLevels(levels []wsLevel) []types.MarketDepthLevel {
	out := make([]types.MarketDepthLevel, 0, len(levels))
	for _, l := range levels {
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(l.Size)
		if err != nil {
			continue
		}
		out = append(out, types.MarketDepthLevel{Price: price, Size: size})
	}
	return out
}

func (s *Store) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writePing(); err != nil {
				s.logger.Warn("heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (s *Store) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

// writePing sends a native WebSocket ping control frame (opcode 0x9), not a
// text-frame payload, so the heartbeat is indistinguishable from a protocol
// ping to any compliant server.
func (s *Store) writePing() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}
