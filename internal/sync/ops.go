package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chatup-app/chatup/internal/bus"
	"github.com/chatup-app/chatup/internal/store"
)

// SendResult reports the outcome of SendMessage. Queued means the message
// sits in the outbox awaiting connectivity; Message then carries the
// pending projection under its temporary id.
type SendResult struct {
	Message store.Message
	Queued  bool
}

// FetchChats returns the chat list, refreshing the cache from the server
// when reachable and falling back to the cache otherwise. It never fails:
// an unreadable cache degrades to an empty list.
func (e *Engine) FetchChats(ctx context.Context) []store.Chat {
	if e.monitor.CheckNow(ctx) {
		chats, err := e.remote.FetchChats(ctx)
		if err == nil {
			if err := e.db.ReplaceChats(chats); err != nil {
				e.logger.Error("failed to persist chats", zap.Error(err))
			} else {
				if err := e.db.SetCheckpoint(store.CheckpointChatsSynced, fmt.Sprint(time.Now().UnixMilli())); err != nil {
					e.logger.Debug("checkpoint update failed", zap.Error(err))
				}
				e.bus.Publish(bus.NewEvent(bus.KindChatsReplaced, len(chats)))
			}
			return chats
		}
		e.logger.Warn("chat fetch failed, serving cache", zap.Error(err))
	}

	chats, err := e.db.ListChats()
	if err != nil {
		e.logger.Error("failed to read cached chats", zap.Error(err))
		return nil
	}
	return chats
}

// FetchMessages returns a chat's messages, server-first with cache
// fallback, with the chat's pending outbox entries appended after the
// synced rows.
func (e *Engine) FetchMessages(ctx context.Context, chatID string) []store.Message {
	var msgs []store.Message

	if e.monitor.CheckNow(ctx) {
		remote, err := e.remote.FetchMessages(ctx, chatID)
		if err == nil {
			if err := e.db.ReplaceMessages(chatID, remote); err != nil {
				e.logger.Error("failed to persist messages", zap.Error(err), zap.String("chat_id", chatID))
			}
			msgs = remote
		} else {
			e.logger.Warn("message fetch failed, serving cache", zap.Error(err), zap.String("chat_id", chatID))
		}
	}

	if msgs == nil {
		cached, err := e.db.ListMessages(chatID)
		if err != nil {
			e.logger.Error("failed to read cached messages", zap.Error(err), zap.String("chat_id", chatID))
		}
		msgs = cached
	}

	pending, err := e.db.PendingOutbox(chatID)
	if err != nil {
		e.logger.Error("failed to read outbox", zap.Error(err), zap.String("chat_id", chatID))
		return msgs
	}
	for i := range pending {
		msgs = append(msgs, pending[i].Message())
	}
	return msgs
}

// SendMessage queues the message in the outbox first, then attempts
// immediate delivery when the server is reachable. A failed attempt leaves
// the entry queued for the next drain; only the initial queueing can fail.
func (e *Engine) SendMessage(ctx context.Context, chatID, content string) (*SendResult, error) {
	now := time.Now().UnixMilli()
	entry := &store.OutboxEntry{
		TempID:    store.NewTempID(),
		ChatID:    chatID,
		Content:   content,
		Sender:    e.self,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.db.QueueOutbox(entry); err != nil {
		return nil, fmt.Errorf("queue message: %w", err)
	}
	pending := entry.Message()
	e.bus.Publish(bus.NewEvent(bus.KindMessageUpserted, &pending))

	if !e.monitor.CheckNow(ctx) {
		return &SendResult{Message: pending, Queued: true}, nil
	}

	msg, err := e.remote.SendMessage(ctx, chatID, content)
	if err != nil {
		e.logger.Warn("send failed, message stays queued", zap.Error(err), zap.String("temp_id", entry.TempID))
		e.bus.Publish(bus.NewEvent(bus.KindMessageSendFailed, map[string]string{
			"temp_id": entry.TempID,
			"error":   err.Error(),
		}))
		return &SendResult{Message: pending, Queued: true}, nil
	}

	if err := e.db.PromoteOutbox(entry.TempID, msg); err != nil {
		return nil, fmt.Errorf("promote message: %w", err)
	}
	e.finishSend(entry.TempID, msg)
	return &SendResult{Message: *msg, Queued: false}, nil
}

// DrainOutbox sends a chat's pending entries oldest-first. The first
// failure stops the drain so ordering is preserved; remaining entries stay
// queued.
func (e *Engine) DrainOutbox(ctx context.Context, chatID string) error {
	pending, err := e.db.PendingOutbox(chatID)
	if err != nil {
		return fmt.Errorf("read outbox: %w", err)
	}

	for i, entry := range pending {
		msg, err := e.remote.SendMessage(ctx, entry.ChatID, entry.Content)
		if err != nil {
			e.bus.Publish(bus.NewEvent(bus.KindMessageSendFailed, map[string]string{
				"temp_id": entry.TempID,
				"error":   err.Error(),
			}))
			return fmt.Errorf("drain chat %s stalled at entry %d of %d: %w", chatID, i+1, len(pending), err)
		}
		if err := e.db.PromoteOutbox(entry.TempID, msg); err != nil {
			return fmt.Errorf("promote %s: %w", entry.TempID, err)
		}
		e.finishSend(entry.TempID, msg)
	}
	return nil
}

// DrainAll drains every chat with pending entries. Chats drain
// independently: one chat's stall does not block another's.
func (e *Engine) DrainAll(ctx context.Context) error {
	chatIDs, err := e.db.PendingChats()
	if err != nil {
		return fmt.Errorf("list pending chats: %w", err)
	}

	var errs []error
	for _, chatID := range chatIDs {
		if err := e.DrainOutbox(ctx, chatID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeleteMessage deletes a message. A queued message cancels locally. A
// server message requires the server to accept the delete first; a
// rejection leaves the local copy untouched. Offline, the local copy is
// soft-deleted and the delete is not replayed later.
func (e *Engine) DeleteMessage(ctx context.Context, id string) error {
	if store.IsTempID(id) {
		if err := e.db.CancelOutbox(id); err != nil {
			return fmt.Errorf("cancel queued message: %w", err)
		}
		e.bus.Publish(bus.NewEvent(bus.KindMessageDeleted, id))
		return nil
	}

	if e.monitor.CheckNow(ctx) {
		if err := e.remote.DeleteMessage(ctx, id); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
	}
	if err := e.db.MarkMessageDeleted(id); err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	e.bus.Publish(bus.NewEvent(bus.KindMessageDeleted, id))
	return nil
}

// SearchMessages runs a full-text search over cached messages, optionally
// scoped to one chat.
func (e *Engine) SearchMessages(query, chatID string, limit int) []store.SearchResult {
	results, err := e.db.SearchMessages(query, chatID, limit)
	if err != nil {
		e.logger.Error("search failed", zap.Error(err), zap.String("query", query))
		return nil
	}
	return results
}

// finishSend records a successful delivery after promotion: the chat
// snapshot, the bridge emission and the sent event.
func (e *Engine) finishSend(tempID string, msg *store.Message) {
	if err := e.db.UpdateChatLatestMessage(msg.ChatID, msg); err != nil {
		e.logger.Debug("latest message update failed", zap.Error(err), zap.String("chat_id", msg.ChatID))
	}
	if err := e.emitter.EmitMessage(msg); err != nil {
		e.logger.Debug("realtime emit failed", zap.Error(err), zap.String("msg_id", msg.ID))
	}
	e.logger.Info("message sent", zap.String("temp_id", tempID), zap.String("msg_id", msg.ID))
	e.bus.Publish(bus.NewEvent(bus.KindMessageSent, msg))
}
