package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chatup-app/chatup/internal/bus"
	"github.com/chatup-app/chatup/internal/status"
	"github.com/chatup-app/chatup/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fakeRemote struct {
	mu          gosync.Mutex
	chats       []store.Chat
	msgs        map[string][]store.Message
	sent        []string
	deleted     []string
	failFetch   bool
	failContent string
	failDelete  bool
	nextID      int
	chatFetches int
}

func (r *fakeRemote) FetchChats(ctx context.Context) ([]store.Chat, error) {
	r.mu.Lock()
	r.chatFetches++
	r.mu.Unlock()
	if r.failFetch {
		return nil, errors.New("server unavailable")
	}
	return r.chats, nil
}

func (r *fakeRemote) chatFetchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chatFetches
}

func (r *fakeRemote) FetchMessages(ctx context.Context, chatID string) ([]store.Message, error) {
	if r.failFetch {
		return nil, errors.New("server unavailable")
	}
	return r.msgs[chatID], nil
}

func (r *fakeRemote) SendMessage(ctx context.Context, chatID, content string) (*store.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if content == r.failContent {
		return nil, errors.New("server rejected message")
	}
	r.nextID++
	r.sent = append(r.sent, content)
	return &store.Message{
		ID:        fmt.Sprintf("srv%d", r.nextID),
		ChatID:    chatID,
		Content:   content,
		CreatedAt: time.Now().UnixMilli(),
	}, nil
}

func (r *fakeRemote) DeleteMessage(ctx context.Context, id string) error {
	if r.failDelete {
		return errors.New("delete rejected")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *fakeRemote) sentContents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type fakeMonitor struct {
	mu     gosync.Mutex
	online bool
}

func (m *fakeMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *fakeMonitor) CheckNow(ctx context.Context) bool { return m.Online() }

func (m *fakeMonitor) set(online bool) {
	m.mu.Lock()
	m.online = online
	m.mu.Unlock()
}

type fakeEmitter struct {
	mu      gosync.Mutex
	emitted []string
	joined  []string
}

func (e *fakeEmitter) EmitMessage(m *store.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitted = append(e.emitted, m.ID)
	return nil
}

func (e *fakeEmitter) JoinChat(chatID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.joined = append(e.joined, chatID)
	return nil
}

type fakeNotifier struct {
	mu       gosync.Mutex
	notified []string
}

func (n *fakeNotifier) Notify(msg *store.Message, chat *store.Chat) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, msg.ID)
}

func (n *fakeNotifier) ids() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.notified...)
}

type fixture struct {
	db       *store.DB
	remote   *fakeRemote
	monitor  *fakeMonitor
	emitter  *fakeEmitter
	notifier *fakeNotifier
	machine  *status.Machine
	bus      *bus.Bus
	engine   *Engine
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	f := &fixture{
		db:       testDB(t),
		remote:   &fakeRemote{msgs: make(map[string][]store.Message)},
		monitor:  &fakeMonitor{online: online},
		emitter:  &fakeEmitter{},
		notifier: &fakeNotifier{},
		bus:      bus.New(),
	}
	f.machine = status.NewMachine(f.bus)
	f.engine = NewEngine(f.db, f.remote, f.monitor, f.emitter, f.notifier, f.machine, f.bus, zap.NewNop(), store.User{ID: "me", Name: "Me"})
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestFetchChatsOnlineReplacesCache(t *testing.T) {
	f := newFixture(t, true)
	f.remote.chats = []store.Chat{
		{ID: "c1", Name: "alice", UpdatedAt: 2000},
		{ID: "c2", Name: "bob", UpdatedAt: 1000},
	}

	chats := f.engine.FetchChats(context.Background())
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2", len(chats))
	}

	cached, err := f.db.ListChats()
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 2 {
		t.Errorf("cache has %d chats, want 2", len(cached))
	}
	if v, _ := f.db.GetCheckpoint(store.CheckpointChatsSynced); v == "" {
		t.Error("sync checkpoint not recorded")
	}
}

func TestFetchChatsOfflineServesCache(t *testing.T) {
	f := newFixture(t, false)
	if err := f.db.ReplaceChats([]store.Chat{{ID: "c1", Name: "cached"}}); err != nil {
		t.Fatal(err)
	}
	f.remote.chats = []store.Chat{{ID: "c9", Name: "fresh"}}

	chats := f.engine.FetchChats(context.Background())
	if len(chats) != 1 || chats[0].ID != "c1" {
		t.Errorf("got %v, want the cached chat", chats)
	}
}

func TestFetchChatsRemoteFailureServesCache(t *testing.T) {
	f := newFixture(t, true)
	f.remote.failFetch = true
	if err := f.db.ReplaceChats([]store.Chat{{ID: "c1", Name: "cached"}}); err != nil {
		t.Fatal(err)
	}

	chats := f.engine.FetchChats(context.Background())
	if len(chats) != 1 || chats[0].ID != "c1" {
		t.Errorf("got %v, want the cached chat", chats)
	}
}

func TestFetchMessagesAppendsPendingAfterSynced(t *testing.T) {
	f := newFixture(t, true)
	f.remote.msgs["c1"] = []store.Message{
		{ID: "m1", ChatID: "c1", Content: "first", CreatedAt: 1000},
		{ID: "m2", ChatID: "c1", Content: "second", CreatedAt: 2000},
	}
	entry := &store.OutboxEntry{TempID: store.NewTempID(), ChatID: "c1", Content: "draft", CreatedAt: 3000}
	if err := f.db.QueueOutbox(entry); err != nil {
		t.Fatal(err)
	}

	msgs := f.engine.FetchMessages(context.Background(), "c1")
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	last := msgs[2]
	if !last.Pending || last.ID != entry.TempID {
		t.Errorf("last message = %+v, want pending projection of %s", last, entry.TempID)
	}
}

func TestSendMessageOfflineQueues(t *testing.T) {
	f := newFixture(t, false)

	res, err := f.engine.SendMessage(context.Background(), "c1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Queued {
		t.Error("result should report queued")
	}
	if !store.IsTempID(res.Message.ID) {
		t.Errorf("queued message id = %q, want a temporary id", res.Message.ID)
	}

	pending, err := f.db.PendingOutbox("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("outbox has %d entries, want 1", len(pending))
	}
	if got := f.remote.sentContents(); len(got) != 0 {
		t.Errorf("offline send reached the server: %v", got)
	}
}

func TestSendMessageOnlinePromotes(t *testing.T) {
	f := newFixture(t, true)
	ch, unsub := f.bus.Subscribe("message.", 10)
	defer unsub()

	res, err := f.engine.SendMessage(context.Background(), "c1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if res.Queued {
		t.Error("online send should not stay queued")
	}
	if store.IsTempID(res.Message.ID) {
		t.Errorf("message id = %q, want a server id", res.Message.ID)
	}

	pending, err := f.db.PendingOutbox("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("outbox has %d entries, want 0", len(pending))
	}
	stored, err := f.db.GetMessage(res.Message.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil {
		t.Fatal("sent message not in store")
	}
	if len(f.emitter.emitted) != 1 {
		t.Errorf("bridge emissions = %d, want 1", len(f.emitter.emitted))
	}

	var kinds []string
	for len(ch) > 0 {
		kinds = append(kinds, (<-ch).Kind)
	}
	found := false
	for _, k := range kinds {
		if k == bus.KindMessageSent {
			found = true
		}
	}
	if !found {
		t.Errorf("events %v missing %s", kinds, bus.KindMessageSent)
	}
}

func TestSendMessageServerFailureStaysQueued(t *testing.T) {
	f := newFixture(t, true)
	f.remote.failContent = "hello"

	res, err := f.engine.SendMessage(context.Background(), "c1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Queued {
		t.Error("failed send should stay queued")
	}

	pending, err := f.db.PendingOutbox("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("outbox has %d entries, want 1", len(pending))
	}
}

func TestDrainOutboxPreservesOrder(t *testing.T) {
	f := newFixture(t, false)
	for i, content := range []string{"one", "two", "three"} {
		e := &store.OutboxEntry{TempID: store.NewTempID(), ChatID: "c1", Content: content, CreatedAt: int64(1000 + i)}
		if err := f.db.QueueOutbox(e); err != nil {
			t.Fatal(err)
		}
	}

	f.monitor.set(true)
	if err := f.engine.DrainOutbox(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	got := f.remote.sentContents()
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sent %v, want %v", got, want)
		}
	}
	pending, _ := f.db.PendingOutbox("c1")
	if len(pending) != 0 {
		t.Errorf("outbox has %d entries after drain, want 0", len(pending))
	}
}

func TestDrainOutboxStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t, true)
	f.remote.failContent = "two"
	for i, content := range []string{"one", "two", "three"} {
		e := &store.OutboxEntry{TempID: store.NewTempID(), ChatID: "c1", Content: content, CreatedAt: int64(1000 + i)}
		if err := f.db.QueueOutbox(e); err != nil {
			t.Fatal(err)
		}
	}

	err := f.engine.DrainOutbox(context.Background(), "c1")
	if err == nil {
		t.Fatal("stalled drain should report an error")
	}

	if got := f.remote.sentContents(); len(got) != 1 || got[0] != "one" {
		t.Errorf("sent %v, want only the first entry", got)
	}
	pending, _ := f.db.PendingOutbox("c1")
	if len(pending) != 2 {
		t.Fatalf("outbox has %d entries, want 2", len(pending))
	}
	if pending[0].Content != "two" || pending[1].Content != "three" {
		t.Errorf("remaining order wrong: %s, %s", pending[0].Content, pending[1].Content)
	}
}

func TestDrainAllChatsIndependent(t *testing.T) {
	f := newFixture(t, true)
	f.remote.failContent = "stuck"
	for i, e := range []*store.OutboxEntry{
		{TempID: store.NewTempID(), ChatID: "a", Content: "stuck"},
		{TempID: store.NewTempID(), ChatID: "a", Content: "behind"},
		{TempID: store.NewTempID(), ChatID: "b", Content: "fine"},
	} {
		e.CreatedAt = int64(1000 + i)
		if err := f.db.QueueOutbox(e); err != nil {
			t.Fatal(err)
		}
	}

	err := f.engine.DrainAll(context.Background())
	if err == nil {
		t.Fatal("partial drain should report an error")
	}

	pendingA, _ := f.db.PendingOutbox("a")
	pendingB, _ := f.db.PendingOutbox("b")
	if len(pendingA) != 2 {
		t.Errorf("chat a has %d pending, want 2", len(pendingA))
	}
	if len(pendingB) != 0 {
		t.Errorf("chat b has %d pending, want 0", len(pendingB))
	}
}

func TestDeleteMessageRejectionKeepsLocal(t *testing.T) {
	f := newFixture(t, true)
	f.remote.failDelete = true
	if err := f.db.UpsertMessage(&store.Message{ID: "m1", ChatID: "c1", Content: "keep"}); err != nil {
		t.Fatal(err)
	}

	if err := f.engine.DeleteMessage(context.Background(), "m1"); err == nil {
		t.Fatal("rejected delete should return an error")
	}

	msgs, err := f.db.ListMessages("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("message deleted locally despite server rejection")
	}
}

func TestDeleteMessageOfflineLocalOnly(t *testing.T) {
	f := newFixture(t, false)
	if err := f.db.UpsertMessage(&store.Message{ID: "m1", ChatID: "c1", Content: "bye"}); err != nil {
		t.Fatal(err)
	}

	if err := f.engine.DeleteMessage(context.Background(), "m1"); err != nil {
		t.Fatal(err)
	}

	msgs, _ := f.db.ListMessages("c1")
	if len(msgs) != 0 {
		t.Error("message still listed after offline delete")
	}
	if len(f.remote.deleted) != 0 {
		t.Error("offline delete reached the server")
	}
}

func TestDeleteQueuedMessageCancels(t *testing.T) {
	f := newFixture(t, true)
	entry := &store.OutboxEntry{TempID: store.NewTempID(), ChatID: "c1", Content: "draft"}
	if err := f.db.QueueOutbox(entry); err != nil {
		t.Fatal(err)
	}

	if err := f.engine.DeleteMessage(context.Background(), entry.TempID); err != nil {
		t.Fatal(err)
	}
	pending, _ := f.db.PendingOutbox("c1")
	if len(pending) != 0 {
		t.Errorf("outbox has %d entries, want 0", len(pending))
	}
	if len(f.remote.deleted) != 0 {
		t.Error("queued delete reached the server")
	}
}

func TestIncomingMessageNotifies(t *testing.T) {
	f := newFixture(t, true)
	msg := &store.Message{ID: "m1", ChatID: "c1", Content: "hi", Sender: store.User{ID: "other", Name: "Other"}}

	if err := f.engine.ingestIncoming(msg); err != nil {
		t.Fatal(err)
	}
	if got := f.notifier.ids(); len(got) != 1 || got[0] != "m1" {
		t.Errorf("notified %v, want [m1]", got)
	}

	stored, err := f.db.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil {
		t.Fatal("incoming message not stored")
	}
}

func TestNoNotificationForOwnMessage(t *testing.T) {
	f := newFixture(t, true)
	msg := &store.Message{ID: "m1", ChatID: "c1", Content: "hi", Sender: store.User{ID: "me"}}

	if err := f.engine.ingestIncoming(msg); err != nil {
		t.Fatal(err)
	}
	if got := f.notifier.ids(); len(got) != 0 {
		t.Errorf("notified %v for own message", got)
	}
}

func TestNoNotificationForActiveChat(t *testing.T) {
	f := newFixture(t, true)
	f.engine.SetActiveChat("c1")

	msg := &store.Message{ID: "m1", ChatID: "c1", Content: "hi", Sender: store.User{ID: "other"}}
	if err := f.engine.ingestIncoming(msg); err != nil {
		t.Fatal(err)
	}
	if got := f.notifier.ids(); len(got) != 0 {
		t.Errorf("notified %v for active chat", got)
	}
	if len(f.emitter.joined) != 1 || f.emitter.joined[0] != "c1" {
		t.Errorf("joined %v, want [c1]", f.emitter.joined)
	}
}

func TestNoDuplicateNotification(t *testing.T) {
	f := newFixture(t, true)
	msg := &store.Message{ID: "m1", ChatID: "c1", Content: "hi", Sender: store.User{ID: "other"}}

	for i := 0; i < 3; i++ {
		if err := f.engine.ingestIncoming(msg); err != nil {
			t.Fatal(err)
		}
	}
	if got := f.notifier.ids(); len(got) != 1 {
		t.Errorf("notified %d times, want 1", len(got))
	}
}

func TestTypingTracked(t *testing.T) {
	f := newFixture(t, true)

	f.engine.setTyping("c1", "other")
	if users := f.engine.TypingUsers("c1"); len(users) != 1 || users[0] != "other" {
		t.Errorf("typing users = %v, want [other]", users)
	}

	f.engine.clearTyping("c1", "other")
	if users := f.engine.TypingUsers("c1"); len(users) != 0 {
		t.Errorf("typing users = %v after stop, want none", users)
	}

	// The local user's own typing is never tracked.
	f.engine.setTyping("c1", "me")
	if users := f.engine.TypingUsers("c1"); len(users) != 0 {
		t.Errorf("typing users = %v, self should be ignored", users)
	}
}

func TestIncomingMessageClearsTyping(t *testing.T) {
	f := newFixture(t, true)
	f.engine.setTyping("c1", "other")

	msg := &store.Message{ID: "m1", ChatID: "c1", Content: "hi", Sender: store.User{ID: "other"}}
	if err := f.engine.ingestIncoming(msg); err != nil {
		t.Fatal(err)
	}
	if users := f.engine.TypingUsers("c1"); len(users) != 0 {
		t.Errorf("typing users = %v after message, want none", users)
	}
}

// TestReconnectDrainsAndRecovers walks the full offline-compose scenario:
// boot offline, queue a message, regain connectivity, watch the outbox
// drain and the daemon land in READY.
func TestReconnectDrainsAndRecovers(t *testing.T) {
	f := newFixture(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.engine.Start(ctx)
	defer f.engine.Stop()

	waitFor(t, func() bool { return f.machine.Current() == status.Offline })

	res, err := f.engine.SendMessage(ctx, "c1", "composed offline")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Queued {
		t.Fatal("offline send should queue")
	}

	f.monitor.set(true)
	f.bus.Publish(bus.NewEvent(bus.KindNetworkOnline, nil))

	waitFor(t, func() bool { return f.machine.Current() == status.Ready })

	if got := f.remote.sentContents(); len(got) != 1 || got[0] != "composed offline" {
		t.Errorf("sent %v, want the queued message", got)
	}
	pending, _ := f.db.PendingOutbox("c1")
	if len(pending) != 0 {
		t.Errorf("outbox has %d entries after reconnect, want 0", len(pending))
	}
}

// TestReconnectWithStuckEntryDegrades checks the partial-drain path lands
// in DEGRADED instead of READY.
func TestReconnectWithStuckEntryDegrades(t *testing.T) {
	f := newFixture(t, false)
	f.remote.failContent = "stuck"
	entry := &store.OutboxEntry{TempID: store.NewTempID(), ChatID: "c1", Content: "stuck"}
	if err := f.db.QueueOutbox(entry); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.engine.Start(ctx)
	defer f.engine.Stop()

	waitFor(t, func() bool { return f.machine.Current() == status.Offline })

	f.monitor.set(true)
	f.bus.Publish(bus.NewEvent(bus.KindNetworkOnline, nil))

	waitFor(t, func() bool { return f.machine.Current() == status.Degraded })

	pending, _ := f.db.PendingOutbox("c1")
	if len(pending) != 1 {
		t.Errorf("stuck entry missing from outbox")
	}
}

// TestBootOnlineSyncsOnce covers the boot race where the initial probe
// flips the monitor online and publishes a network.online transition: the
// probe's sync and the event's must collapse into one.
func TestBootOnlineSyncsOnce(t *testing.T) {
	f := newFixture(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.engine.Start(ctx)
	defer f.engine.Stop()

	// The transition event the monitor would publish for the boot probe.
	f.bus.Publish(bus.NewEvent(bus.KindNetworkOnline, nil))

	waitFor(t, func() bool { return f.machine.Current() == status.Ready })
	time.Sleep(100 * time.Millisecond)

	if got := f.remote.chatFetchCount(); got != 1 {
		t.Errorf("chat fetches at boot = %d, want 1", got)
	}

	// A genuine offline/online cycle still resyncs.
	f.monitor.set(false)
	f.bus.Publish(bus.NewEvent(bus.KindNetworkOffline, nil))
	waitFor(t, func() bool { return f.machine.Current() == status.Offline })

	f.monitor.set(true)
	f.bus.Publish(bus.NewEvent(bus.KindNetworkOnline, nil))
	waitFor(t, func() bool { return f.machine.Current() == status.Ready })

	if got := f.remote.chatFetchCount(); got != 2 {
		t.Errorf("chat fetches after reconnect = %d, want 2", got)
	}
}

func TestNotificationDedupeBounded(t *testing.T) {
	f := newFixture(t, true)

	for i := 0; i < notifiedCap+100; i++ {
		f.engine.maybeNotify(&store.Message{
			ID:     fmt.Sprintf("m%d", i),
			ChatID: "c1",
			Sender: store.User{ID: "other"},
		})
	}

	f.engine.mu.Lock()
	size := len(f.engine.notified)
	f.engine.mu.Unlock()
	if size > notifiedCap {
		t.Errorf("dedupe set has %d entries, cap is %d", size, notifiedCap)
	}

	// Recent ids stay deduped.
	before := len(f.notifier.ids())
	f.engine.maybeNotify(&store.Message{
		ID:     fmt.Sprintf("m%d", notifiedCap+99),
		ChatID: "c1",
		Sender: store.User{ID: "other"},
	})
	if got := len(f.notifier.ids()); got != before {
		t.Errorf("recent id re-notified: %d -> %d", before, got)
	}
}
