// Package realtime maintains the websocket channel to the chat server and
// translates its push events onto the bus. The sync engine never touches the
// socket; it only consumes rt.* bus events and emits through the Bridge.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatup-app/chatup/internal/bus"
	"github.com/chatup-app/chatup/internal/netmon"
	"github.com/chatup-app/chatup/internal/store"
)

const redialBackoff = 5 * time.Second

// Bridge is the realtime socket client.
type Bridge struct {
	url     string
	user    store.User
	bus     *bus.Bus
	monitor *netmon.Monitor
	logger  *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	cancel context.CancelFunc
}

// New creates a bridge for the given socket URL. user identifies the local
// account in the setup handshake. monitor may be nil; then redials use a
// plain backoff instead of waiting for connectivity.
func New(url string, user store.User, b *bus.Bus, monitor *netmon.Monitor, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		url:     url,
		user:    user,
		bus:     b,
		monitor: monitor,
		logger:  logger,
	}
}

// Start runs the dial/read/redial supervisor in the background.
func (br *Bridge) Start(ctx context.Context) {
	ctx, br.cancel = context.WithCancel(ctx)
	go br.run(ctx)
}

// Stop terminates the supervisor and closes the socket.
func (br *Bridge) Stop() {
	if br.cancel != nil {
		br.cancel()
	}
	br.closeConn()
}

// JoinChat subscribes the socket to one chat's events. Called whenever the
// active chat changes.
func (br *Bridge) JoinChat(chatID string) error {
	return br.writeFrame(evtJoinChat, chatID)
}

// EmitMessage announces a just-sent message so other devices and local
// subscribers see it.
func (br *Bridge) EmitMessage(m *store.Message) error {
	return br.writeFrame(evtNewMessage, emitMessage(m))
}

// EmitTyping signals that the local user is typing in a chat.
func (br *Bridge) EmitTyping(chatID string) error {
	return br.writeFrame(evtTyping, wireTyping{ChatID: chatID, User: br.user})
}

// EmitStopTyping signals that the local user stopped typing.
func (br *Bridge) EmitStopTyping(chatID string) error {
	return br.writeFrame(evtStopTyping, wireTyping{ChatID: chatID, User: br.user})
}

func (br *Bridge) run(ctx context.Context) {
	for {
		if err := br.connect(ctx); err != nil {
			br.logger.Warn("socket dial failed", zap.Error(err))
			if !br.waitForRetry(ctx) {
				return
			}
			continue
		}

		br.bus.Publish(bus.NewEvent(bus.KindRealtimeConnected, nil))
		err := br.readLoop(ctx)
		br.closeConn()
		if ctx.Err() != nil {
			return
		}
		br.logger.Warn("socket closed", zap.Error(err))
		br.bus.Publish(bus.NewEvent(bus.KindRealtimeDown, nil))
		if !br.waitForRetry(ctx) {
			return
		}
	}
}

// waitForRetry blocks until a redial is worth attempting: the monitor
// reports an online transition, or a backoff elapses. Returns false when ctx
// is done.
func (br *Bridge) waitForRetry(ctx context.Context) bool {
	var online <-chan netmon.Status
	if br.monitor != nil {
		ch, unsub := br.monitor.Subscribe(1)
		defer unsub()
		online = ch
	}

	timer := time.NewTimer(redialBackoff)
	defer timer.Stop()

	for {
		select {
		case st := <-online:
			if st.Online {
				return true
			}
		case <-timer.C:
			return true
		case <-ctx.Done():
			return false
		}
	}
}

func (br *Bridge) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, br.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", br.url, err)
	}

	br.mu.Lock()
	br.conn = conn
	br.mu.Unlock()

	if err := br.writeFrame(evtSetup, br.user); err != nil {
		br.closeConn()
		return fmt.Errorf("setup handshake: %w", err)
	}
	br.logger.Info("socket connected", zap.String("url", br.url))
	return nil
}

func (br *Bridge) readLoop(ctx context.Context) error {
	// Capture the conn once: Stop may nil out br.conn at any point, and a
	// read on the closed conn fails cleanly where a call through nil would
	// not.
	conn := br.currentConn()
	if conn == nil {
		return fmt.Errorf("socket not connected")
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		evt, ok, err := parseFrame(data)
		if err != nil {
			br.logger.Warn("bad socket frame", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		br.bus.Publish(evt)
	}
}

func (br *Bridge) writeFrame(event string, data any) error {
	conn := br.currentConn()
	if conn == nil {
		return fmt.Errorf("emit %q: socket not connected", event)
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %q payload: %w", event, err)
	}
	br.mu.Lock()
	defer br.mu.Unlock()
	return conn.WriteJSON(frame{Event: event, Data: payload})
}

func (br *Bridge) currentConn() *websocket.Conn {
	br.mu.Lock()
	defer br.mu.Unlock()
	return br.conn
}

func (br *Bridge) closeConn() {
	br.mu.Lock()
	conn := br.conn
	br.conn = nil
	br.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// emitMessage shapes an outgoing message the way the server broadcast
// expects it.
func emitMessage(m *store.Message) map[string]any {
	return map[string]any{
		"_id":       m.ID,
		"content":   m.Content,
		"sender":    m.Sender,
		"chat":      map[string]string{"_id": m.ChatID},
		"createdAt": time.UnixMilli(m.CreatedAt).UTC().Format(time.RFC3339Nano),
		"updatedAt": time.UnixMilli(m.UpdatedAt).UTC().Format(time.RFC3339Nano),
	}
}
