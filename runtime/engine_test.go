package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

// recorderSink captures every event pushed to a connection, in order.
type recorderSink struct {
	mu     sync.Mutex
	events []event.ServerEvent
	closed bool
}

func (s *recorderSink) Consume(_ context.Context, e event.ServerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recorderSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recorderSink) all() []event.ServerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.ServerEvent(nil), s.events...)
}

func (s *recorderSink) received() []event.MessageReceived {
	var res []event.MessageReceived
	for _, e := range s.all() {
		if m, ok := e.(event.MessageReceived); ok {
			res = append(res, m)
		}
	}
	return res
}

func (s *recorderSink) statuses() []event.MessageStatus {
	var res []event.MessageStatus
	for _, e := range s.all() {
		if m, ok := e.(event.MessageStatus); ok {
			res = append(res, m)
		}
	}
	return res
}

func (s *recorderSink) presenceChanges() []event.PresenceChanged {
	var res []event.PresenceChanged
	for _, e := range s.all() {
		if m, ok := e.(event.PresenceChanged); ok {
			res = append(res, m)
		}
	}
	return res
}

func (s *recorderSink) errors() []event.MessageError {
	var res []event.MessageError
	for _, e := range s.all() {
		if m, ok := e.(event.MessageError); ok {
			res = append(res, m)
		}
	}
	return res
}

type fixture struct {
	engine   *Engine
	presence *Presence
	messages repositories.MessageRepository
	users    repositories.UserRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	req := require.New(t)

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	messages := repositories.NewMessageRepository(db, log, nil)
	users := repositories.NewUserRepository(db)
	presence := NewPresence()
	engine := NewEngine(log, presence, messages, users)

	// Deterministic, strictly increasing clock so timestamp order in the
	// store equals accept order.
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var tick time.Duration
	engine.now = func() time.Time {
		tick += time.Millisecond
		return base.Add(tick)
	}

	return &fixture{engine: engine, presence: presence, messages: messages, users: users}
}

func (f *fixture) registerUser(t *testing.T, username string) domain.Identity {
	t.Helper()
	user, err := f.users.Create(username, username+"@example.com", "hash")
	require.NoError(t, err)
	return domain.Identity{ID: user.ID, Username: username}
}

func TestEngine_Send_To_Online_Recipient(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice := f.registerUser(t, "alice")
	bob := f.registerUser(t, "bob")

	// Given both users are connected
	aliceSink, bobSink := &recorderSink{}, &recorderSink{}
	f.engine.Connect(ctx, alice, aliceSink)
	f.engine.Connect(ctx, bob, bobSink)

	// When alice sends to bob
	f.engine.SendMessage(ctx, alice, aliceSink, domain.SendMessageCommand{
		To: bob.ID, Content: "hello", MessageID: "msg-1",
	})

	// Then alice sees the full sent -> delivered progression
	req.Equal([]event.MessageStatus{
		{MessageID: "msg-1", Status: domain.StatusSent},
		{MessageID: "msg-1", Status: domain.StatusDelivered},
	}, aliceSink.statuses())

	// And bob receives the content exactly once, already delivered
	received := bobSink.received()
	req.Len(received, 1)
	req.Equal("msg-1", received[0].MessageID)
	req.Equal(alice.ID, received[0].From)
	req.Equal("hello", received[0].Content)
	req.Equal(domain.StatusDelivered, received[0].Status)

	// And the store agrees
	stored, err := f.messages.Get("msg-1")
	req.NoError(err)
	req.Equal(domain.StatusDelivered, stored.Status)
}

func TestEngine_Send_To_Offline_Recipient_Queues(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice := f.registerUser(t, "alice")
	bob := f.registerUser(t, "bob")

	// Given only alice is connected
	aliceSink := &recorderSink{}
	f.engine.Connect(ctx, alice, aliceSink)

	// When she sends to the offline bob
	f.engine.SendMessage(ctx, alice, aliceSink, domain.SendMessageCommand{
		To: bob.ID, Content: "are you there?", MessageID: "msg-1",
	})

	// Then she only gets the "sent" ack
	req.Equal([]event.MessageStatus{
		{MessageID: "msg-1", Status: domain.StatusSent},
	}, aliceSink.statuses())

	// And the message sits in bob's backlog as "sent"
	backlog, err := f.messages.Backlog(bob.ID)
	req.NoError(err)
	req.Len(backlog, 1)
	req.Equal(domain.StatusSent, backlog[0].Status)
}

func TestEngine_Backlog_Replay_Preserves_Send_Order(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice := f.registerUser(t, "alice")
	bob := f.registerUser(t, "bob")

	aliceSink := &recorderSink{}
	f.engine.Connect(ctx, alice, aliceSink)

	// Given three messages queued while bob was offline
	for i := 1; i <= 3; i++ {
		f.engine.SendMessage(ctx, alice, aliceSink, domain.SendMessageCommand{
			To: bob.ID, Content: fmt.Sprintf("message %d", i), MessageID: fmt.Sprintf("msg-%d", i),
		})
	}

	// When bob connects and signals he is online
	bobSink := &recorderSink{}
	f.engine.Connect(ctx, bob, bobSink)
	f.engine.ReplayBacklog(ctx, bob, bobSink)

	// Then bob receives them in send order, all delivered
	received := bobSink.received()
	req.Len(received, 3)
	for i, m := range received {
		req.Equal(fmt.Sprintf("msg-%d", i+1), m.MessageID)
		req.Equal(domain.StatusDelivered, m.Status)
	}

	// And alice is notified of each late delivery
	var delivered []event.MessageStatus
	for _, s := range aliceSink.statuses() {
		if s.Status == domain.StatusDelivered {
			delivered = append(delivered, s)
		}
	}
	req.Len(delivered, 3)

	// When the replay runs a second time
	f.engine.ReplayBacklog(ctx, bob, bobSink)

	// Then nothing is re-emitted: every message already left "sent"
	req.Len(bobSink.received(), 3)
}

func TestEngine_Read_Acknowledgment(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice := f.registerUser(t, "alice")
	bob := f.registerUser(t, "bob")

	aliceSink, bobSink := &recorderSink{}, &recorderSink{}
	f.engine.Connect(ctx, alice, aliceSink)
	f.engine.Connect(ctx, bob, bobSink)

	// Given a delivered message
	f.engine.SendMessage(ctx, alice, aliceSink, domain.SendMessageCommand{
		To: bob.ID, Content: "hello", MessageID: "msg-1",
	})

	// When bob acknowledges reading it
	f.engine.AcknowledgeRead(ctx, bob, domain.ReadMessageCommand{MessageID: "msg-1"})

	// Then alice learns about it and the store is updated
	statuses := aliceSink.statuses()
	req.Equal(event.MessageStatus{MessageID: "msg-1", Status: domain.StatusRead}, statuses[len(statuses)-1])

	stored, err := f.messages.Get("msg-1")
	req.NoError(err)
	req.Equal(domain.StatusRead, stored.Status)

	// When he acknowledges again
	f.engine.AcknowledgeRead(ctx, bob, domain.ReadMessageCommand{MessageID: "msg-1"})

	// Then no duplicate notification goes out
	req.Len(aliceSink.statuses(), len(statuses))
}

func TestEngine_Read_Before_Delivered_Is_Rejected(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice := f.registerUser(t, "alice")
	bob := f.registerUser(t, "bob")

	aliceSink := &recorderSink{}
	f.engine.Connect(ctx, alice, aliceSink)

	// Given a message still in "sent" (bob never connected)
	f.engine.SendMessage(ctx, alice, aliceSink, domain.SendMessageCommand{
		To: bob.ID, Content: "hello", MessageID: "msg-1",
	})

	// When bob tries to skip straight to "read"
	f.engine.AcknowledgeRead(ctx, bob, domain.ReadMessageCommand{MessageID: "msg-1"})

	// Then the status machine refuses the jump
	stored, err := f.messages.Get("msg-1")
	req.NoError(err)
	req.Equal(domain.StatusSent, stored.Status)
	req.Len(aliceSink.statuses(), 1) // only the original "sent" ack
}

func TestEngine_Presence_Broadcasts(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice := f.registerUser(t, "alice")
	bob := f.registerUser(t, "bob")

	// Given bob is already connected
	bobSink := &recorderSink{}
	f.engine.Connect(ctx, bob, bobSink)

	// When alice connects
	aliceSink := &recorderSink{}
	f.engine.Connect(ctx, alice, aliceSink)

	// Then bob sees exactly one "online" for alice, and alice sees nothing
	req.Equal([]event.PresenceChanged{
		{UserID: alice.ID, Status: event.PresenceOnline},
	}, bobSink.presenceChanges())
	req.Empty(aliceSink.presenceChanges())

	// When alice disconnects
	f.engine.Disconnect(ctx, alice, aliceSink)

	// Then bob sees exactly one "offline"
	req.Equal([]event.PresenceChanged{
		{UserID: alice.ID, Status: event.PresenceOnline},
		{UserID: alice.ID, Status: event.PresenceOffline},
	}, bobSink.presenceChanges())
}

func TestEngine_Stale_Disconnect_After_Reconnect(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice := f.registerUser(t, "alice")
	bob := f.registerUser(t, "bob")

	bobSink := &recorderSink{}
	f.engine.Connect(ctx, bob, bobSink)

	// Given alice connected twice; the first connection was superseded
	first, second := &recorderSink{}, &recorderSink{}
	f.engine.Connect(ctx, alice, first)
	f.engine.Connect(ctx, alice, second)

	// Then the first connection was told and force-closed
	req.True(first.closed)
	req.Equal([]event.ServerEvent{event.SessionReplaced{}}, first.all())

	// When the stale connection's teardown finally fires
	f.engine.Disconnect(ctx, alice, first)

	// Then alice is still online and bob never saw an "offline"
	_, online := f.presence.Lookup(alice.ID)
	req.True(online)
	for _, p := range bobSink.presenceChanges() {
		req.NotEqual(event.PresenceOffline, p.Status)
	}
}

func TestEngine_Typing_Relay(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice := f.registerUser(t, "alice")
	bob := f.registerUser(t, "bob")

	// Given bob is offline
	aliceSink := &recorderSink{}
	f.engine.Connect(ctx, alice, aliceSink)

	// When alice types at him, nothing happens anywhere
	f.engine.Typing(ctx, alice, bob.ID, true)
	req.Empty(aliceSink.all())

	// When bob connects and alice types again
	bobSink := &recorderSink{}
	f.engine.Connect(ctx, bob, bobSink)
	f.engine.Typing(ctx, alice, bob.ID, true)
	f.engine.Typing(ctx, alice, bob.ID, false)

	// Then bob gets the start and stop indicators with alice's name
	var typing []event.Typing
	for _, e := range bobSink.all() {
		if m, ok := e.(event.Typing); ok {
			typing = append(typing, m)
		}
	}
	req.Equal([]event.Typing{
		{UserID: alice.ID, Username: "alice", Typing: true},
		{UserID: alice.ID, Username: "alice", Typing: false},
	}, typing)
}

func TestEngine_Unknown_Recipient(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice := f.registerUser(t, "alice")

	aliceSink := &recorderSink{}
	f.engine.Connect(ctx, alice, aliceSink)

	// When alice sends to a user id that does not exist
	f.engine.SendMessage(ctx, alice, aliceSink, domain.SendMessageCommand{
		To: "nobody", Content: "hello", MessageID: "msg-1",
	})

	// Then she gets an error and nothing was persisted
	req.Len(aliceSink.errors(), 1)
	req.Empty(aliceSink.statuses())
	_, err := f.messages.Get("msg-1")
	req.Error(err)
}

func TestEngine_Duplicate_Send_ReAcks_Without_Redelivery(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice := f.registerUser(t, "alice")
	bob := f.registerUser(t, "bob")

	aliceSink, bobSink := &recorderSink{}, &recorderSink{}
	f.engine.Connect(ctx, alice, aliceSink)
	f.engine.Connect(ctx, bob, bobSink)

	// Given a delivered message
	cmd := domain.SendMessageCommand{To: bob.ID, Content: "hello", MessageID: "msg-1"}
	f.engine.SendMessage(ctx, alice, aliceSink, cmd)

	// When the client resends with the same idempotency key
	f.engine.SendMessage(ctx, alice, aliceSink, cmd)

	// Then bob still received it once and alice got a re-ack of the
	// stored status instead of a fresh "sent"
	req.Len(bobSink.received(), 1)
	statuses := aliceSink.statuses()
	req.Equal(event.MessageStatus{MessageID: "msg-1", Status: domain.StatusDelivered}, statuses[len(statuses)-1])
}

// failingMessages simulates a broken store underneath the engine.
type failingMessages struct {
	repositories.IMessageRepository
}

func (failingMessages) Create(domain.Message) error {
	return fmt.Errorf("disk on fire")
}

func TestEngine_Persistence_Failure_Reports_Error_Only(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice := f.registerUser(t, "alice")
	bob := f.registerUser(t, "bob")

	broken := NewEngine(logs.GetLoggerFromLevel(slog.LevelDebug), f.presence,
		failingMessages{f.messages}, f.users)

	aliceSink, bobSink := &recorderSink{}, &recorderSink{}
	broken.Connect(ctx, alice, aliceSink)
	broken.Connect(ctx, bob, bobSink)

	// When the store refuses the write
	broken.SendMessage(ctx, alice, aliceSink, domain.SendMessageCommand{
		To: bob.ID, Content: "hello", MessageID: "msg-1",
	})

	// Then the sender gets a distinct error, no confirmation of any kind,
	// and the recipient sees nothing
	req.Len(aliceSink.errors(), 1)
	req.Empty(aliceSink.statuses())
	req.Empty(bobSink.received())
}

func TestEngine_EndToEnd_Offline_Then_Read(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice := f.registerUser(t, "alice")
	bob := f.registerUser(t, "bob")

	// A sends "hi" to offline B
	aliceSink := &recorderSink{}
	f.engine.Connect(ctx, alice, aliceSink)
	f.engine.SendMessage(ctx, alice, aliceSink, domain.SendMessageCommand{
		To: bob.ID, Content: "hi", MessageID: "msg-1",
	})
	req.Equal([]event.MessageStatus{{MessageID: "msg-1", Status: domain.StatusSent}}, aliceSink.statuses())

	// B connects and signals user_online
	bobSink := &recorderSink{}
	f.engine.Connect(ctx, bob, bobSink)
	f.engine.ReplayBacklog(ctx, bob, bobSink)

	received := bobSink.received()
	req.Len(received, 1)
	req.Equal("hi", received[0].Content)
	req.Equal(domain.StatusDelivered, received[0].Status)
	req.Equal([]event.MessageStatus{
		{MessageID: "msg-1", Status: domain.StatusSent},
		{MessageID: "msg-1", Status: domain.StatusDelivered},
	}, aliceSink.statuses())

	// B reads it
	f.engine.AcknowledgeRead(ctx, bob, domain.ReadMessageCommand{MessageID: "msg-1"})
	req.Equal([]event.MessageStatus{
		{MessageID: "msg-1", Status: domain.StatusSent},
		{MessageID: "msg-1", Status: domain.StatusDelivered},
		{MessageID: "msg-1", Status: domain.StatusRead},
	}, aliceSink.statuses())
}
