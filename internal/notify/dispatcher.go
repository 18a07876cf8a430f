// Package notify dispatches user-facing notifications for incoming
// messages. The daemon itself has no display surface, so the default
// dispatcher writes structured log entries a frontend can tail; desktop
// integrations plug in by implementing Dispatcher.
package notify

import (
	"go.uber.org/zap"

	"github.com/chatup-app/chatup/internal/store"
)

// Dispatcher delivers a notification for a message received in a chat the
// recipient is not currently viewing. Implementations must be safe for
// concurrent use.
type Dispatcher interface {
	Notify(msg *store.Message, chat *store.Chat)
}

// LogDispatcher writes notifications to the daemon log.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher creates a dispatcher backed by the given logger.
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Notify logs the notification. A nil chat is tolerated; the message alone
// carries enough context for a sender line.
func (d *LogDispatcher) Notify(msg *store.Message, chat *store.Chat) {
	fields := []zap.Field{
		zap.String("message_id", msg.ID),
		zap.String("chat_id", msg.ChatID),
		zap.String("sender", msg.Sender.Name),
	}
	title := "New message from " + msg.Sender.Name
	if chat != nil && chat.IsGroup {
		title = "New message in " + chat.Name
		fields = append(fields, zap.String("chat_name", chat.Name))
	}
	d.logger.Info("notification: "+title, fields...)
}
