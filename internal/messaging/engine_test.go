package messaging

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"crisis-comms/internal/mocks"
	"crisis-comms/internal/models"
	"crisis-comms/internal/rabbitmq"
	"crisis-comms/internal/scheduler"
	"crisis-comms/internal/seal"
	"crisis-comms/internal/store"
)

type emitted struct {
	userID  string
	roomID  string
	event   string
	payload any
}

// fakeEmitter records every emission. Online state and per-connection keys
// are driven by the test.
type fakeEmitter struct {
	mu       sync.Mutex
	online   map[string]bool
	connKeys map[string][]byte
	events   []emitted
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{online: make(map[string]bool), connKeys: make(map[string][]byte)}
}

func (f *fakeEmitter) setOnline(userID string, online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = online
}

func (f *fakeEmitter) EmitToUser(userID, event string, payload any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online[userID] {
		return false
	}
	f.events = append(f.events, emitted{userID: userID, event: event, payload: payload})
	return true
}

func (f *fakeEmitter) EmitPerConnection(userID, event string, build func(connKey []byte) any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online[userID] {
		return false
	}
	key := f.connKeys[userID]
	f.events = append(f.events, emitted{userID: userID, event: event, payload: build(key)})
	return true
}

func (f *fakeEmitter) EmitToRoom(roomID, event string, payload any, excludeUserID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{roomID: roomID, event: event, payload: payload})
}

func (f *fakeEmitter) Online(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

func (f *fakeEmitter) eventsFor(userID, event string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.events {
		if e.userID == userID && e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeEmitter) roomEvents(event string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.events {
		if e.event == event && e.roomID != "" {
			out = append(out, e)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *fakeEmitter, *store.Store) {
	t.Helper()
	st := store.New()
	emitter := newFakeEmitter()
	sched := scheduler.New()
	t.Cleanup(sched.Stop)
	engine := NewEngine(st, emitter, nil, nil, nil, sched, 25*time.Millisecond, 30*24*time.Hour)
	return engine, emitter, st
}

func TestJoinCreatesRoom(t *testing.T) {
	engine, emitter, st := newTestEngine(t)
	emitter.setOnline("alice", true)
	emitter.setOnline("bob", true)

	snap, err := engine.Join("alice", "Alice", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)
	require.Equal(t, models.RoomGroup, snap.Kind)
	require.False(t, snap.Encrypted)
	require.Len(t, snap.Participants, 1)

	snap, err = engine.Join("bob", "Bob", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)
	require.Len(t, snap.Participants, 2)

	room, ok := st.Room("r1")
	require.True(t, ok)
	require.True(t, room.HasParticipant("alice"))
}

func TestJoinRejectsUnknownKind(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.Join("alice", "", models.RoleMember, "r1", models.RoomKind("secret"), models.RoomMetadata{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestTherapyRoomsAlwaysEncrypted(t *testing.T) {
	engine, emitter, st := newTestEngine(t)
	emitter.setOnline("patient", true)

	snap, err := engine.Join("patient", "", models.RoleMember, "t1", models.RoomTherapy, models.RoomMetadata{})
	require.NoError(t, err)
	require.True(t, snap.Encrypted)

	room, _ := st.Room("t1")
	require.NotEmpty(t, room.Key)
}

func TestSendDeliversToOnlineParticipants(t *testing.T) {
	engine, emitter, _ := newTestEngine(t)
	emitter.setOnline("alice", true)
	emitter.setOnline("bob", true)

	_, err := engine.Join("alice", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)
	_, err = engine.Join("bob", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)

	msg, err := engine.Send("alice", "r1", "hello bob", models.MessageText, "", nil)
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, msg.Status)

	received := emitter.eventsFor("bob", models.EvtNewMessage)
	require.Len(t, received, 1)
	require.Equal(t, "hello bob", received[0].payload.(models.Message).Content)

	confirmations := emitter.eventsFor("alice", models.EvtMessageDelivered)
	require.Len(t, confirmations, 1)
}

func TestSendValidation(t *testing.T) {
	engine, emitter, _ := newTestEngine(t)
	emitter.setOnline("alice", true)
	_, err := engine.Join("alice", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)

	_, err = engine.Send("alice", "nope", "hi", models.MessageText, "", nil)
	require.ErrorIs(t, err, ErrRoomNotFound)

	_, err = engine.Send("stranger", "r1", "hi", models.MessageText, "", nil)
	require.ErrorIs(t, err, ErrUnauthorized)

	long := make([]rune, maxContentLength+1)
	for i := range long {
		long[i] = 'x'
	}
	var verr *ValidationError
	_, err = engine.Send("alice", "r1", string(long), models.MessageText, "", nil)
	require.ErrorAs(t, err, &verr)

	_, err = engine.Send("alice", "r1", "photo", models.MessageImage, "", []models.Attachment{{Name: "big.png", Size: maxAttachmentSize + 1}})
	require.ErrorAs(t, err, &verr)
}

func TestOfflineQueueDrainsExactlyOnceInOrder(t *testing.T) {
	engine, emitter, st := newTestEngine(t)
	emitter.setOnline("alice", true)

	_, err := engine.Join("alice", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)
	emitter.setOnline("bob", true)
	_, err = engine.Join("bob", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)

	emitter.setOnline("bob", false)
	first, err := engine.Send("alice", "r1", "first", models.MessageText, "", nil)
	require.NoError(t, err)
	second, err := engine.Send("alice", "r1", "second", models.MessageText, "", nil)
	require.NoError(t, err)
	require.Equal(t, models.StatusSent, first.Status)
	require.Equal(t, models.StatusSent, second.Status)
	require.Equal(t, 2, st.QueueDepth())
	require.Empty(t, emitter.eventsFor("bob", models.EvtNewMessage))

	emitter.setOnline("bob", true)
	_, err = engine.Join("bob", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)

	queued := emitter.eventsFor("bob", models.EvtQueuedMessages)
	require.Len(t, queued, 1)
	payload := queued[0].payload.(models.QueuedMessagesPayload)
	require.Len(t, payload.Messages, 2)
	assert.Equal(t, "first", payload.Messages[0].Content)
	assert.Equal(t, "second", payload.Messages[1].Content)
	require.Equal(t, 0, st.QueueDepth())

	confirmations := emitter.eventsFor("alice", models.EvtMessageDelivered)
	require.Len(t, confirmations, 2)

	// A second join must not re-deliver anything.
	_, err = engine.Join("bob", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)
	require.Len(t, emitter.eventsFor("bob", models.EvtQueuedMessages), 1)
}

func TestConcurrentSendsDeliverInStoredOrder(t *testing.T) {
	engine, emitter, st := newTestEngine(t)
	for _, user := range []string{"alice", "bob", "carol"} {
		emitter.setOnline(user, true)
		_, err := engine.Join(user, "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
		require.NoError(t, err)
	}

	const perSender = 50
	var wg sync.WaitGroup
	for _, sender := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, err := engine.Send(sender, "r1", fmt.Sprintf("%s-%d", sender, i), models.MessageText, "", nil)
				assert.NoError(t, err)
			}
		}(sender)
	}
	wg.Wait()

	room, ok := st.Room("r1")
	require.True(t, ok)
	stored := room.Messages()
	require.Len(t, stored, 2*perSender)

	storedIDs := make([]string, 0, len(stored))
	for _, msg := range stored {
		storedIDs = append(storedIDs, msg.ID)
	}

	var deliveredIDs []string
	for _, e := range emitter.eventsFor("carol", models.EvtNewMessage) {
		msg, ok := e.payload.(models.Message)
		require.True(t, ok)
		deliveredIDs = append(deliveredIDs, msg.ID)
	}
	require.Equal(t, storedIDs, deliveredIDs)
}

func TestOfflineQueueNotifiesDispatcher(t *testing.T) {
	st := store.New()
	emitter := newFakeEmitter()
	sched := scheduler.New()
	t.Cleanup(sched.Stop)

	publisher := &mocks.PublisherMock{}
	done := make(chan struct{})
	publisher.On("Publish", mock.Anything, rabbitmq.RouteQueuedMessage, mock.Anything).Return(nil).
		Run(func(mock.Arguments) { close(done) })

	engine := NewEngine(st, emitter, nil, nil, publisher, sched, 25*time.Millisecond, 30*24*time.Hour)

	emitter.setOnline("alice", true)
	_, err := engine.Join("alice", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)
	_, err = engine.Join("bob", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)

	_, err = engine.Send("alice", "r1", "while you were away", models.MessageText, "", nil)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queued message was not reported to the dispatcher")
	}
	publisher.AssertExpectations(t)
}

func TestEncryptedDeliveryResealsPerConnection(t *testing.T) {
	engine, emitter, st := newTestEngine(t)
	emitter.setOnline("patient", true)
	emitter.setOnline("therapist", true)

	bobKey, err := seal.NewKey()
	require.NoError(t, err)
	emitter.connKeys["therapist"] = bobKey

	_, err = engine.Join("patient", "", models.RoleMember, "t1", models.RoomTherapy, models.RoomMetadata{})
	require.NoError(t, err)
	_, err = engine.Join("therapist", "", models.RoleTherapist, "t1", models.RoomTherapy, models.RoomMetadata{})
	require.NoError(t, err)

	stored, err := engine.Send("patient", "t1", "session notes", models.MessageText, "", nil)
	require.NoError(t, err)
	require.True(t, stored.Encrypted)
	require.NotEqual(t, "session notes", stored.Content)

	room, _ := st.Room("t1")
	opened, err := seal.Open(room.Key, stored.Content)
	require.NoError(t, err)
	require.Equal(t, "session notes", opened)

	received := emitter.eventsFor("therapist", models.EvtNewMessage)
	require.Len(t, received, 1)
	wire := received[0].payload.(models.Message)
	require.NotEqual(t, stored.Content, wire.Content)
	opened, err = seal.Open(bobKey, wire.Content)
	require.NoError(t, err)
	require.Equal(t, "session notes", opened)
}

func TestEditOnlyBySender(t *testing.T) {
	engine, emitter, _ := newTestEngine(t)
	emitter.setOnline("alice", true)
	emitter.setOnline("bob", true)
	_, err := engine.Join("alice", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)
	_, err = engine.Join("bob", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)

	msg, err := engine.Send("alice", "r1", "helo", models.MessageText, "", nil)
	require.NoError(t, err)

	_, err = engine.Edit("bob", "r1", msg.ID, "hacked")
	require.ErrorIs(t, err, ErrNotSender)

	updated, err := engine.Edit("alice", "r1", msg.ID, "hello")
	require.NoError(t, err)
	require.True(t, updated.Edited)
	require.NotNil(t, updated.EditedAt)
	require.Equal(t, "hello", updated.Content)
}

func TestDeletePermissions(t *testing.T) {
	engine, emitter, _ := newTestEngine(t)
	emitter.setOnline("alice", true)
	emitter.setOnline("bob", true)
	_, err := engine.Join("alice", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)
	_, err = engine.Join("bob", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)

	msg, err := engine.Send("alice", "r1", "oops", models.MessageText, "", nil)
	require.NoError(t, err)

	err = engine.Delete("bob", models.RoleMember, "r1", msg.ID)
	require.ErrorIs(t, err, ErrNotSender)

	err = engine.Delete("bob", models.RoleAdmin, "r1", msg.ID)
	require.NoError(t, err)

	err = engine.Delete("alice", models.RoleMember, "r1", msg.ID)
	require.ErrorIs(t, err, store.ErrMessageNotFound)
}

func TestTypingAutoClears(t *testing.T) {
	engine, emitter, _ := newTestEngine(t)
	emitter.setOnline("alice", true)
	_, err := engine.Join("alice", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)

	require.NoError(t, engine.SetTyping("alice", "r1", true))
	require.Equal(t, []string{"alice"}, engine.Typing("r1"))

	require.Eventually(t, func() bool {
		return len(engine.Typing("r1")) == 0
	}, time.Second, 5*time.Millisecond)

	stops := 0
	for _, e := range emitter.roomEvents(models.EvtTyping) {
		if p, ok := e.payload.(models.TypingPayload); ok && !p.IsTyping {
			stops++
		}
	}
	require.Equal(t, 1, stops)
}

func TestTypingExplicitStop(t *testing.T) {
	engine, emitter, _ := newTestEngine(t)
	emitter.setOnline("alice", true)
	_, err := engine.Join("alice", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)

	require.NoError(t, engine.SetTyping("alice", "r1", true))
	require.NoError(t, engine.SetTyping("alice", "r1", false))
	require.Empty(t, engine.Typing("r1"))

	// Stop again: no duplicate broadcast.
	require.NoError(t, engine.SetTyping("alice", "r1", false))
	stops := 0
	for _, e := range emitter.roomEvents(models.EvtTyping) {
		if p, ok := e.payload.(models.TypingPayload); ok && !p.IsTyping {
			stops++
		}
	}
	require.Equal(t, 1, stops)
}

func TestMarkRead(t *testing.T) {
	engine, emitter, st := newTestEngine(t)
	emitter.setOnline("alice", true)
	emitter.setOnline("bob", true)
	_, err := engine.Join("alice", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)
	_, err = engine.Join("bob", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)

	msg, err := engine.Send("alice", "r1", "read me", models.MessageText, "", nil)
	require.NoError(t, err)

	require.NoError(t, engine.MarkRead("bob", "r1", msg.ID))

	room, _ := st.Room("r1")
	stored, ok := room.Message(msg.ID)
	require.True(t, ok)
	require.Equal(t, models.StatusRead, stored.Status)
	require.Len(t, room.Receipts(msg.ID), 1)

	reads := emitter.eventsFor("alice", models.EvtMessageRead)
	require.Len(t, reads, 1)

	// Sender reading their own message does not notify anyone.
	require.NoError(t, engine.MarkRead("alice", "r1", msg.ID))
	require.Len(t, emitter.eventsFor("alice", models.EvtMessageRead), 1)
}

func TestStatusNeverRegresses(t *testing.T) {
	engine, emitter, st := newTestEngine(t)
	emitter.setOnline("alice", true)
	emitter.setOnline("bob", true)
	_, err := engine.Join("alice", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)
	_, err = engine.Join("bob", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)

	msg, err := engine.Send("alice", "r1", "hi", models.MessageText, "", nil)
	require.NoError(t, err)
	require.NoError(t, engine.MarkRead("bob", "r1", msg.ID))

	room, _ := st.Room("r1")
	// A late delivery confirmation must not pull read back to delivered.
	stored, err := room.UpdateMessage(msg.ID, func(m *models.Message) {
		m.Status = m.Status.Advance(models.StatusDelivered)
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusRead, stored.Status)
}

func TestSweepRetentionSparesTherapy(t *testing.T) {
	engine, emitter, st := newTestEngine(t)
	emitter.setOnline("alice", true)
	emitter.setOnline("patient", true)

	base := time.Now()
	engine.now = func() time.Time { return base.Add(-31 * 24 * time.Hour) }

	_, err := engine.Join("alice", "", models.RoleMember, "r1", models.RoomGroup, models.RoomMetadata{})
	require.NoError(t, err)
	_, err = engine.Join("patient", "", models.RoleMember, "t1", models.RoomTherapy, models.RoomMetadata{})
	require.NoError(t, err)

	_, err = engine.Send("alice", "r1", "old chatter", models.MessageText, "", nil)
	require.NoError(t, err)
	_, err = engine.Send("patient", "t1", "old session", models.MessageText, "", nil)
	require.NoError(t, err)

	engine.now = func() time.Time { return base }
	engine.SweepRetention()

	groupRoom, _ := st.Room("r1")
	require.Empty(t, groupRoom.Messages())

	therapyRoom, _ := st.Room("t1")
	require.Len(t, therapyRoom.Messages(), 1)
}
