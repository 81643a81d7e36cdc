// Package bus connects the orchestrator to the NLU intent bus over a
// WebSocket. Frames are JSON text messages:
//
//	{"type":"intent","sessionId":"s1","intent":"arriveHome","slots":{"house_room":["kitchen"]}}
//	{"type":"endSession","sessionId":"s1","text":"lights on"}
//	{"type":"continueSession","sessionId":"s1","text":"...","intentFilter":["giveAnswer"]}
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"home-orchestrator/internal/domain"
	"home-orchestrator/internal/infra"
	"home-orchestrator/internal/metrics"
)

const (
	TypeIntent          = "intent"
	TypeEndSession      = "endSession"
	TypeContinueSession = "continueSession"
)

var ErrNotConnected = errors.New("intent bus not connected")

type Message struct {
	Type         string           `json:"type"`
	SessionID    string           `json:"sessionId"`
	Intent       string           `json:"intent,omitempty"`
	Slots        map[string][]any `json:"slots,omitempty"`
	Text         string           `json:"text,omitempty"`
	IntentFilter []string         `json:"intentFilter,omitempty"`
}

// Handler receives every intent event read from the bus.
type Handler func(ctx context.Context, ev domain.IntentEvent) error

type Config struct {
	URL          string
	Token        string
	WriteTimeout time.Duration
	// Reconnect bounds dial attempts; MaxAttempts <= 0 retries until shutdown.
	Reconnect infra.RetryConfig
}

type WebSocketBus struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWebSocketBus(cfg Config, logger *slog.Logger) *WebSocketBus {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Reconnect.InitialDelay <= 0 {
		cfg.Reconnect = infra.RetryConfig{
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
		}
	}
	return &WebSocketBus{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		logger: logger,
	}
}

// Run delivers intents to handler until ctx is done, reconnecting when the
// connection drops. Events are handled one at a time in arrival order.
func (b *WebSocketBus) Run(ctx context.Context, handler Handler) error {
	connected := false
	for {
		conn, err := b.connect(ctx)
		if err != nil {
			return fmt.Errorf("connecting to intent bus: %w", err)
		}
		if connected {
			metrics.BusReconnectsTotal.Inc()
		}
		connected = true

		err = b.serve(ctx, conn, handler)
		b.setConn(nil)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Warn("intent bus connection lost, reconnecting", "error", err)
	}
}

func (b *WebSocketBus) EndSession(ctx context.Context, sessionID, text string) error {
	return b.write(ctx, Message{Type: TypeEndSession, SessionID: sessionID, Text: text})
}

func (b *WebSocketBus) ContinueSession(ctx context.Context, sessionID, text string, expect []string) error {
	return b.write(ctx, Message{Type: TypeContinueSession, SessionID: sessionID, Text: text, IntentFilter: expect})
}

func (b *WebSocketBus) connect(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if b.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+b.cfg.Token)
	}

	var conn *websocket.Conn
	err := infra.WithRetry(ctx, b.cfg.Reconnect, func() error {
		c, resp, err := b.dialer.DialContext(ctx, b.cfg.URL, header)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return infra.Permanent(fmt.Errorf("intent bus rejected credentials: %s", resp.Status))
			}
			b.logger.Warn("dialing intent bus", "url", b.cfg.URL, "error", err)
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.setConn(conn)
	b.logger.Info("connected to intent bus", "url", b.cfg.URL)
	return conn, nil
}

func (b *WebSocketBus) serve(ctx context.Context, conn *websocket.Conn, handler Handler) error {
	// Closing the connection is the only way to unblock ReadMessage.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logger.Warn("discarding malformed bus frame", "error", err)
			continue
		}
		if msg.Type != TypeIntent {
			b.logger.Debug("ignoring bus frame", "type", msg.Type)
			continue
		}

		ev := domain.IntentEvent{Name: msg.Intent, SessionID: msg.SessionID, Slots: msg.Slots}
		if err := handler(ctx, ev); err != nil {
			b.logger.Error("handling intent", "session_id", ev.SessionID, "intent", ev.Name, "error", err)
		}
	}
}

func (b *WebSocketBus) write(_ context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", msg.Type, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return ErrNotConnected
	}
	if err := b.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing %s: %w", msg.Type, err)
	}
	return nil
}

func (b *WebSocketBus) setConn(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conn = conn
}
