package bus

import "time"

// Event kinds published by the daemon, grouped by namespace prefix.
// Subscribers filter on a prefix, e.g. "rt." or "network.".
const (
	// Realtime bridge events (payloads are store types).
	KindRealtimeMessage    = "rt.message"
	KindRealtimeTyping     = "rt.typing"
	KindRealtimeStopTyping = "rt.stop_typing"
	KindRealtimeConnected  = "rt.connected"
	KindRealtimeDown       = "rt.down"

	// Connectivity transitions (payload netmon.Status).
	KindNetworkOnline  = "network.online"
	KindNetworkOffline = "network.offline"

	// Store mutations the engine performed.
	KindMessageUpserted   = "message.upserted"
	KindMessageSent       = "message.sent"
	KindMessageSendFailed = "message.send_failed"
	KindMessageDeleted    = "message.deleted"
	KindChatsReplaced     = "chat.replaced"

	// Daemon runtime state (payload status.Change).
	KindStatusChanged = "daemon.status_changed"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent builds an event stamped with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
