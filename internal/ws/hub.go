package ws

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"crisis-comms/internal/models"
	"crisis-comms/internal/observability"
	"crisis-comms/internal/seal"
)

// Conn is the transport side of one client connection. *websocket.Conn
// satisfies it; tests substitute in-memory fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

type session struct {
	id     string
	userID string
	role   models.Role
	conns  map[string]*client
}

type client struct {
	id      string
	session *session
	conn    Conn
	key     []byte
	info    ConnInfo

	writeMu sync.Mutex

	// guarded by hub.mu
	rooms        map[string]bool
	lastActivity time.Time
}

func (c *client) send(event models.Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(event)
}

// Hub is the connection manager: it owns the connection/session/room graph
// and is the only way the engines reach clients. Engines never touch sockets.
type Hub struct {
	heartbeatInterval time.Duration

	mu       sync.RWMutex
	sessions map[string]*session           // by userID
	conns    map[string]*client            // by connID
	rooms    map[string]map[string]*client // roomID -> connID -> client
}

// NewHub creates an empty hub.
func NewHub(heartbeatInterval time.Duration) *Hub {
	return &Hub{
		heartbeatInterval: heartbeatInterval,
		sessions:          make(map[string]*session),
		conns:             make(map[string]*client),
		rooms:             make(map[string]map[string]*client),
	}
}

func featureFlagsFor(role models.Role) []string {
	flags := []string{"messaging", "crisis_trigger", "location_share"}
	switch role {
	case models.RoleTherapist:
		flags = append(flags, "therapy_rooms", "crisis_respond")
	case models.RoleAdmin:
		flags = append(flags, "moderation")
	}
	if role == models.RoleResponder {
		flags = append(flags, "crisis_respond", "location_tracking")
	}
	return flags
}

// Register adds a new connection under the user's session, creating the
// session on the user's first connection. It issues the connection's
// ephemeral key and emits the connected acknowledgment.
func (h *Hub) Register(conn Conn, userID string, role models.Role, info ConnInfo) (string, error) {
	key, err := seal.NewKey()
	if err != nil {
		return "", err
	}

	connID := uuid.NewString()
	info.ConnID = connID
	info.UserID = userID
	info.Role = role

	h.mu.Lock()
	sess, ok := h.sessions[userID]
	if !ok {
		sess = &session{
			id:     uuid.NewString(),
			userID: userID,
			role:   role,
			conns:  make(map[string]*client),
		}
		h.sessions[userID] = sess
	}
	c := &client{
		id:           connID,
		session:      sess,
		conn:         conn,
		key:          key,
		info:         info,
		rooms:        make(map[string]bool),
		lastActivity: info.ConnectedAt,
	}
	sess.conns[connID] = c
	h.conns[connID] = c
	sessionID := sess.id
	h.mu.Unlock()

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")

	_ = c.send(models.Event{Name: models.EvtConnected, Payload: models.ConnectedPayload{
		SessionID:         sessionID,
		ConnectionID:      connID,
		ServerTime:        time.Now().UTC(),
		FeatureFlags:      featureFlagsFor(role),
		HeartbeatInterval: int(h.heartbeatInterval.Seconds()),
	}})
	return connID, nil
}

// Unregister removes a connection. It reports the owning user, the rooms the
// connection had joined, and whether the user still has other live
// connections. The session is destroyed with its last connection.
func (h *Hub) Unregister(connID string) (userID string, joined []string, stillOnline bool) {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return "", nil, false
	}
	delete(h.conns, connID)
	delete(c.session.conns, connID)
	for roomID := range c.rooms {
		if members, ok := h.rooms[roomID]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
		joined = append(joined, roomID)
	}
	userID = c.session.userID
	stillOnline = len(c.session.conns) > 0
	if !stillOnline {
		delete(h.sessions, userID)
	}
	h.mu.Unlock()

	observability.DecWSActive()
	observability.IncWSEvent("ws_disconnect")
	return userID, joined, stillOnline
}

// Touch records activity on a connection for the heartbeat sweep.
func (h *Hub) Touch(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[connID]; ok {
		c.lastActivity = time.Now()
	}
}

// Identity resolves a connection to its user and role.
func (h *Hub) Identity(connID string) (string, models.Role, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connID]
	if !ok {
		return "", "", false
	}
	return c.session.userID, c.session.role, true
}

// ConnectionKey returns the connection's ephemeral key.
func (h *Hub) ConnectionKey(connID string) ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connID]
	if !ok {
		return nil, false
	}
	return c.key, true
}

// JoinRoom registers a connection's room membership.
func (h *Hub) JoinRoom(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	c.rooms[roomID] = true
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*client)
	}
	h.rooms[roomID][connID] = c
}

// LeaveRoom removes a connection's room membership.
func (h *Hub) LeaveRoom(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if ok {
		delete(c.rooms, roomID)
	}
	if members, ok := h.rooms[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// JoinUser joins every live connection of a user to a room. Used when the
// engines add a user to a room server-side, e.g. a responder to a crisis room.
func (h *Hub) JoinUser(userID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[userID]
	if !ok {
		return
	}
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*client)
	}
	for connID, c := range sess.conns {
		c.rooms[roomID] = true
		h.rooms[roomID][connID] = c
	}
}

// Online reports whether the user has at least one live connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sess, ok := h.sessions[userID]
	return ok && len(sess.conns) > 0
}

// EmitToUser fans an event out to every connection under the user's session.
// It reports whether at least one connection received it.
func (h *Hub) EmitToUser(userID, event string, payload any) bool {
	h.mu.RLock()
	var targets []*client
	if sess, ok := h.sessions[userID]; ok {
		for _, c := range sess.conns {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := false
	for _, c := range targets {
		if err := c.send(models.Event{Name: event, Payload: payload}); err != nil {
			log.Printf("websocket write error conn_id=%s: %v", c.id, err)
			c.conn.Close()
			continue
		}
		delivered = true
	}
	if delivered {
		observability.IncWSEvent(event)
	}
	return delivered
}

// EmitPerConnection sends an event to each of the user's connections with a
// payload built from that connection's ephemeral key. This is the
// per-recipient reseal stage of encrypted fan-out.
func (h *Hub) EmitPerConnection(userID, event string, build func(connKey []byte) any) bool {
	h.mu.RLock()
	var targets []*client
	if sess, ok := h.sessions[userID]; ok {
		for _, c := range sess.conns {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := false
	for _, c := range targets {
		if err := c.send(models.Event{Name: event, Payload: build(c.key)}); err != nil {
			log.Printf("websocket write error conn_id=%s: %v", c.id, err)
			c.conn.Close()
			continue
		}
		delivered = true
	}
	if delivered {
		observability.IncWSEvent(event)
	}
	return delivered
}

// EmitToRoom sends an event to every connection joined to the room, skipping
// connections owned by excludeUserID.
func (h *Hub) EmitToRoom(roomID, event string, payload any, excludeUserID string) {
	h.mu.RLock()
	var targets []*client
	for _, c := range h.rooms[roomID] {
		if excludeUserID != "" && c.session.userID == excludeUserID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(models.Event{Name: event, Payload: payload}); err != nil {
			log.Printf("websocket write error conn_id=%s: %v", c.id, err)
			c.conn.Close()
		}
	}
	observability.IncWSEvent(event)
}

// BroadcastToRole sends an event to every connection whose session carries
// the role.
func (h *Hub) BroadcastToRole(role models.Role, event string, payload any) {
	h.mu.RLock()
	var targets []*client
	for _, c := range h.conns {
		if c.session.role == role {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(models.Event{Name: event, Payload: payload}); err != nil {
			log.Printf("websocket write error conn_id=%s: %v", c.id, err)
			c.conn.Close()
		}
	}
	observability.IncWSEvent(event)
}

// SweepIdle force-disconnects connections idle past the timeout. Each gets a
// warning event first; there is no graceful negotiation beyond that.
func (h *Hub) SweepIdle(now time.Time, timeout time.Duration) int {
	h.mu.RLock()
	var idle []*client
	for _, c := range h.conns {
		if now.Sub(c.lastActivity) > timeout {
			idle = append(idle, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range idle {
		_ = c.send(models.Event{Name: models.EvtDisconnectWarning, Payload: models.ErrorPayload{
			Error: "connection idle, disconnecting",
		}})
		log.Printf("heartbeat sweep disconnecting conn_id=%s user_id=%s", c.id, c.session.userID)
		c.conn.Close()
	}
	return len(idle)
}

// StartHeartbeat runs the idle sweep at the given interval until ctx is done.
func (h *Hub) StartHeartbeat(interval, timeout time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				h.SweepIdle(now, timeout)
			}
		}
	}()
}
