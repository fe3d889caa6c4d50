package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crisis-comms/internal/models"
)

type fakeConn struct {
	mu     sync.Mutex
	events []models.Event
	closed bool
	fail   bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errWrite
	}
	c.events = append(c.events, v.(models.Event))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received(event string) []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Event
	for _, e := range c.events {
		if e.Name == event {
			out = append(out, e)
		}
	}
	return out
}

var errWrite = errors.New("write failed")

func register(t *testing.T, hub *Hub, userID string, role models.Role) (*fakeConn, string) {
	t.Helper()
	conn := &fakeConn{}
	connID, err := hub.Register(conn, userID, role, ConnInfo{ConnectedAt: time.Now()})
	require.NoError(t, err)
	return conn, connID
}

func TestRegisterEmitsConnected(t *testing.T) {
	hub := NewHub(30 * time.Second)
	conn, connID := register(t, hub, "alice", models.RoleMember)

	connected := conn.received(models.EvtConnected)
	require.Len(t, connected, 1)
	payload := connected[0].Payload.(models.ConnectedPayload)
	require.Equal(t, connID, payload.ConnectionID)
	require.NotEmpty(t, payload.SessionID)
	require.Equal(t, 30, payload.HeartbeatInterval)
	require.Contains(t, payload.FeatureFlags, "messaging")

	require.True(t, hub.Online("alice"))
	userID, role, ok := hub.Identity(connID)
	require.True(t, ok)
	require.Equal(t, "alice", userID)
	require.Equal(t, models.RoleMember, role)
}

func TestSessionSpansConnections(t *testing.T) {
	hub := NewHub(time.Second)
	conn1, connID1 := register(t, hub, "alice", models.RoleMember)
	conn2, connID2 := register(t, hub, "alice", models.RoleMember)

	p1 := conn1.received(models.EvtConnected)[0].Payload.(models.ConnectedPayload)
	p2 := conn2.received(models.EvtConnected)[0].Payload.(models.ConnectedPayload)
	require.Equal(t, p1.SessionID, p2.SessionID)
	require.NotEqual(t, p1.ConnectionID, p2.ConnectionID)

	key1, ok := hub.ConnectionKey(connID1)
	require.True(t, ok)
	key2, ok := hub.ConnectionKey(connID2)
	require.True(t, ok)
	require.NotEqual(t, key1, key2)

	userID, _, stillOnline := hub.Unregister(connID1)
	require.Equal(t, "alice", userID)
	require.True(t, stillOnline)

	_, _, stillOnline = hub.Unregister(connID2)
	require.False(t, stillOnline)
	require.False(t, hub.Online("alice"))
}

func TestEmitToUserReachesEveryConnection(t *testing.T) {
	hub := NewHub(time.Second)
	conn1, _ := register(t, hub, "alice", models.RoleMember)
	conn2, _ := register(t, hub, "alice", models.RoleMember)

	require.True(t, hub.EmitToUser("alice", "ping", nil))
	require.Len(t, conn1.received("ping"), 1)
	require.Len(t, conn2.received("ping"), 1)

	require.False(t, hub.EmitToUser("nobody", "ping", nil))
}

func TestEmitPerConnectionBuildsPerKey(t *testing.T) {
	hub := NewHub(time.Second)
	conn1, connID1 := register(t, hub, "alice", models.RoleMember)
	conn2, connID2 := register(t, hub, "alice", models.RoleMember)

	key1, _ := hub.ConnectionKey(connID1)
	key2, _ := hub.ConnectionKey(connID2)

	var seen [][]byte
	var mu sync.Mutex
	require.True(t, hub.EmitPerConnection("alice", "sealed", func(connKey []byte) any {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, connKey)
		return string(connKey)
	}))

	require.Len(t, seen, 2)
	require.ElementsMatch(t, [][]byte{key1, key2}, seen)
	require.Len(t, conn1.received("sealed"), 1)
	require.Len(t, conn2.received("sealed"), 1)
}

func TestEmitToRoomExcludesUser(t *testing.T) {
	hub := NewHub(time.Second)
	connA, connIDA := register(t, hub, "alice", models.RoleMember)
	connB, connIDB := register(t, hub, "bob", models.RoleMember)
	hub.JoinRoom(connIDA, "r1")
	hub.JoinRoom(connIDB, "r1")

	hub.EmitToRoom("r1", "announce", nil, "alice")
	require.Empty(t, connA.received("announce"))
	require.Len(t, connB.received("announce"), 1)

	hub.LeaveRoom(connIDB, "r1")
	hub.EmitToRoom("r1", "announce", nil, "")
	require.Len(t, connB.received("announce"), 1)
}

func TestJoinUserJoinsEveryConnection(t *testing.T) {
	hub := NewHub(time.Second)
	conn1, _ := register(t, hub, "resp1", models.RoleResponder)
	conn2, _ := register(t, hub, "resp1", models.RoleResponder)

	hub.JoinUser("resp1", "crisis-1")
	hub.EmitToRoom("crisis-1", "update", nil, "")
	require.Len(t, conn1.received("update"), 1)
	require.Len(t, conn2.received("update"), 1)
}

func TestBroadcastToRole(t *testing.T) {
	hub := NewHub(time.Second)
	member, _ := register(t, hub, "alice", models.RoleMember)
	therapist, _ := register(t, hub, "doc", models.RoleTherapist)

	hub.BroadcastToRole(models.RoleTherapist, "alert", nil)
	require.Empty(t, member.received("alert"))
	require.Len(t, therapist.received("alert"), 1)
}

func TestSweepIdleWarnsAndCloses(t *testing.T) {
	hub := NewHub(time.Second)
	conn, connID := register(t, hub, "alice", models.RoleMember)

	require.Equal(t, 0, hub.SweepIdle(time.Now(), time.Minute))

	require.Equal(t, 1, hub.SweepIdle(time.Now().Add(2*time.Minute), time.Minute))
	require.Len(t, conn.received(models.EvtDisconnectWarning), 1)
	require.True(t, conn.closed)

	// Touch resets the idle clock.
	conn2, connID2 := register(t, hub, "bob", models.RoleMember)
	hub.Touch(connID2)
	require.Equal(t, 0, hub.SweepIdle(time.Now().Add(500*time.Millisecond), time.Minute))
	require.False(t, conn2.closed)

	hub.Unregister(connID)
	hub.Unregister(connID2)
}

func TestWriteFailureClosesConnection(t *testing.T) {
	hub := NewHub(time.Second)
	conn := &fakeConn{fail: true}
	_, err := hub.Register(conn, "alice", models.RoleMember, ConnInfo{ConnectedAt: time.Now()})
	require.NoError(t, err)

	require.False(t, hub.EmitToUser("alice", "ping", nil))
	require.True(t, conn.closed)
}
