// Package sync keeps the local store converged with the server: it serves
// reads from the freshest source available, queues writes while offline,
// and folds realtime events into the cache.
package sync

import (
	"context"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatup-app/chatup/internal/bus"
	"github.com/chatup-app/chatup/internal/notify"
	"github.com/chatup-app/chatup/internal/realtime"
	"github.com/chatup-app/chatup/internal/status"
	"github.com/chatup-app/chatup/internal/store"
)

// typingExpiry bounds how long a typing indicator survives without a
// stop-typing frame.
const typingExpiry = 5 * time.Second

// notifiedCap bounds the notification dedupe set; the oldest entries are
// evicted first once it fills.
const notifiedCap = 1024

// RemoteAPI is the subset of the REST client the engine calls.
type RemoteAPI interface {
	FetchChats(ctx context.Context) ([]store.Chat, error)
	FetchMessages(ctx context.Context, chatID string) ([]store.Message, error)
	SendMessage(ctx context.Context, chatID, content string) (*store.Message, error)
	DeleteMessage(ctx context.Context, id string) error
}

// Connectivity reports server reachability.
type Connectivity interface {
	Online() bool
	CheckNow(ctx context.Context) bool
}

// Emitter pushes outgoing realtime frames. The websocket bridge implements
// it; emission is best-effort and never gates persistence.
type Emitter interface {
	EmitMessage(m *store.Message) error
	JoinChat(chatID string) error
}

// Engine coordinates the store, the REST client, the connectivity monitor
// and the realtime bridge.
type Engine struct {
	db       *store.DB
	remote   RemoteAPI
	monitor  Connectivity
	emitter  Emitter
	notifier notify.Dispatcher
	machine  *status.Machine
	bus      *bus.Bus
	logger   *zap.Logger
	self     store.User
	cancel   context.CancelFunc

	mu            gosync.Mutex
	activeChat    string
	notified      map[string]struct{}
	notifiedOrder []string
	typing        map[string]map[string]time.Time

	// onlineEpoch counts offline transitions; syncedEpoch marks the last
	// epoch onOnline ran for, so a boot probe and the transition event it
	// publishes trigger a single sync.
	onlineEpoch int
	syncedEpoch int
}

// NewEngine creates a sync engine. self identifies the local user; the
// engine never notifies for messages self authored.
func NewEngine(db *store.DB, remote RemoteAPI, monitor Connectivity, emitter Emitter, notifier notify.Dispatcher, machine *status.Machine, b *bus.Bus, logger *zap.Logger, self store.User) *Engine {
	return &Engine{
		db:          db,
		remote:      remote,
		monitor:     monitor,
		emitter:     emitter,
		notifier:    notifier,
		machine:     machine,
		bus:         b,
		logger:      logger,
		self:        self,
		notified:    make(map[string]struct{}),
		typing:      make(map[string]map[string]time.Time),
		syncedEpoch: -1,
	}
}

// Start subscribes to realtime and connectivity events and runs the
// dispatch loop. It also performs the boot transition: an initial probe
// decides whether the daemon comes up syncing or offline.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	rtCh, rtUnsub := e.bus.Subscribe("rt.", 256)
	netCh, netUnsub := e.bus.Subscribe("network.", 16)

	go func() {
		defer rtUnsub()
		defer netUnsub()

		if e.monitor.CheckNow(ctx) {
			e.onOnline(ctx)
		} else if err := e.machine.Transition(status.Offline); err != nil {
			e.logger.Warn("boot transition failed", zap.Error(err))
		}

		for {
			select {
			case evt := <-rtCh:
				e.handleRealtime(evt)
			case evt := <-netCh:
				e.handleNetwork(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the dispatch loop.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// SetActiveChat records the chat the user is viewing, joins its realtime
// room and suppresses notifications for it.
func (e *Engine) SetActiveChat(chatID string) {
	e.mu.Lock()
	e.activeChat = chatID
	e.mu.Unlock()

	if err := e.emitter.JoinChat(chatID); err != nil {
		e.logger.Debug("join chat failed", zap.Error(err), zap.String("chat_id", chatID))
	}
}

// ClearActiveChat clears the notification suppression context.
func (e *Engine) ClearActiveChat() {
	e.mu.Lock()
	e.activeChat = ""
	e.mu.Unlock()
}

// TypingUsers returns the ids of users currently typing in a chat.
// Indicators expire after typingExpiry without a stop-typing frame.
func (e *Engine) TypingUsers(chatID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	var users []string
	for userID, expiry := range e.typing[chatID] {
		if now.After(expiry) {
			delete(e.typing[chatID], userID)
			continue
		}
		users = append(users, userID)
	}
	return users
}

func (e *Engine) handleRealtime(evt bus.Event) {
	switch evt.Kind {
	case bus.KindRealtimeMessage:
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		if err := e.ingestIncoming(msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	case bus.KindRealtimeTyping:
		t, ok := evt.Payload.(realtime.Typing)
		if !ok {
			return
		}
		e.setTyping(t.ChatID, t.User.ID)
	case bus.KindRealtimeStopTyping:
		t, ok := evt.Payload.(realtime.Typing)
		if !ok {
			return
		}
		e.clearTyping(t.ChatID, t.User.ID)
	}
}

func (e *Engine) handleNetwork(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindNetworkOnline:
		e.onOnline(ctx)
	case bus.KindNetworkOffline:
		e.mu.Lock()
		e.onlineEpoch++
		e.mu.Unlock()
		if err := e.machine.Transition(status.Offline); err != nil {
			e.logger.Debug("offline transition skipped", zap.Error(err))
		}
	}
}

// onOnline refreshes the chat cache and drains the outbox after a
// connectivity gain. A clean drain lands in Ready, a partial one in
// Degraded. At most one sync runs per online period: the boot probe and
// the network.online event it publishes collapse into one.
func (e *Engine) onOnline(ctx context.Context) {
	e.mu.Lock()
	if e.syncedEpoch == e.onlineEpoch {
		e.mu.Unlock()
		return
	}
	e.syncedEpoch = e.onlineEpoch
	e.mu.Unlock()

	if err := e.machine.Transition(status.Syncing); err != nil {
		e.logger.Debug("syncing transition skipped", zap.Error(err))
	}

	e.FetchChats(ctx)

	if err := e.DrainAll(ctx); err != nil {
		e.logger.Warn("outbox drain incomplete", zap.Error(err))
		if terr := e.machine.Transition(status.Degraded); terr != nil {
			e.logger.Debug("degraded transition skipped", zap.Error(terr))
		}
		return
	}
	if err := e.machine.Transition(status.Ready); err != nil {
		e.logger.Debug("ready transition skipped", zap.Error(err))
	}
}

// ingestIncoming folds a realtime message into the store (idempotent) and
// forwards a notification when the guard allows it.
func (e *Engine) ingestIncoming(msg *store.Message) error {
	if err := e.db.UpsertMessage(msg); err != nil {
		return err
	}
	if err := e.db.UpdateChatLatestMessage(msg.ChatID, msg); err != nil {
		e.logger.Debug("latest message update failed", zap.Error(err), zap.String("chat_id", msg.ChatID))
	}
	e.bus.Publish(bus.NewEvent(bus.KindMessageUpserted, msg))
	e.maybeNotify(msg)
	e.clearTyping(msg.ChatID, msg.Sender.ID)
	return nil
}

// maybeNotify forwards a notification unless the message is self-authored,
// already notified, or belongs to the active chat.
func (e *Engine) maybeNotify(msg *store.Message) {
	if msg.Sender.ID == e.self.ID {
		return
	}

	e.mu.Lock()
	if msg.ChatID == e.activeChat {
		e.mu.Unlock()
		return
	}
	if _, seen := e.notified[msg.ID]; seen {
		e.mu.Unlock()
		return
	}
	e.notified[msg.ID] = struct{}{}
	e.notifiedOrder = append(e.notifiedOrder, msg.ID)
	if len(e.notifiedOrder) > notifiedCap {
		oldest := e.notifiedOrder[0]
		e.notifiedOrder = e.notifiedOrder[1:]
		delete(e.notified, oldest)
	}
	e.mu.Unlock()

	chat, err := e.db.GetChat(msg.ChatID)
	if err != nil {
		e.logger.Debug("chat lookup for notification failed", zap.Error(err))
	}
	e.notifier.Notify(msg, chat)
}

func (e *Engine) setTyping(chatID, userID string) {
	if userID == "" || userID == e.self.ID {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.typing[chatID] == nil {
		e.typing[chatID] = make(map[string]time.Time)
	}
	e.typing[chatID][userID] = time.Now().Add(typingExpiry)
}

func (e *Engine) clearTyping(chatID, userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.typing[chatID], userID)
}
