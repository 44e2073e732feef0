package chatserver

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roomwire/roomwire/pkg/protocol"
)

// member is one connected client in a room. Writes are serialized through
// the out channel so the broadcast path never blocks on a slow peer.
type member struct {
	conn *websocket.Conn
	out  chan []byte
	once sync.Once

	// username is set when the member identifies itself through its first
	// envelope carrying one. Unidentified members receive broadcasts but
	// cannot react or mark messages read.
	username string

	// delivered is the index into room.messages up to which this member
	// has received everything; get_undelivered replays from here.
	delivered int
}

func (m *member) writePump() {
	for data := range m.out {
		m.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (m *member) send(data []byte) {
	select {
	case m.out <- data:
	default:
		// Slow consumer; drop rather than stall the room.
	}
}

func (m *member) close() {
	m.once.Do(func() {
		close(m.out)
		m.conn.Close()
	})
}

// memberInfo is the roster record for a user, kept after disconnect so
// lastSeen survives.
type memberInfo struct {
	avatar   string
	online   bool
	lastSeen time.Time
}

// storedMessage is the server-side record of one chat message.
type storedMessage struct {
	id        string
	clientID  string
	username  string
	content   string
	avatar    string
	timestamp time.Time
	reactions map[string][]string
	deleted   bool
}

// room is one chat room: its members, roster, and message log.
type room struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	members map[*member]struct{}
	users   map[string]*memberInfo
	msgs    []*storedMessage
	byID    map[string]*storedMessage
	nextID  int64
}

func newRoom(name string, logger *slog.Logger) *room {
	return &room{
		name:    name,
		logger:  logger.With("room", name),
		members: make(map[*member]struct{}),
		users:   make(map[string]*memberInfo),
		byID:    make(map[string]*storedMessage),
	}
}

func (r *room) join(m *member) {
	r.mu.Lock()
	r.members[m] = struct{}{}
	r.mu.Unlock()
}

func (r *room) leave(m *member) {
	r.mu.Lock()
	delete(r.members, m)
	username := m.username
	var frames [][]byte
	if username != "" {
		if info, ok := r.users[username]; ok && info.online && !r.onlineElsewhereLocked(username) {
			info.online = false
			info.lastSeen = time.Now()
			frames = append(frames, marshal(presenceWire{Type: "presence", Username: username, Online: false}))
			frames = append(frames, r.userListWireLocked())
		}
	}
	r.broadcastLocked(frames...)
	empty := len(r.members) == 0
	r.mu.Unlock()

	m.close()
	if username != "" {
		r.logger.Info("left", "username", username, "empty", empty)
	}
}

// onlineElsewhereLocked reports whether the user has another live member.
func (r *room) onlineElsewhereLocked(username string) bool {
	for m := range r.members {
		if m.username == username {
			return true
		}
	}
	return false
}

// handle applies one inbound frame from a member.
func (r *room) handle(m *member, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		r.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	switch env.Kind {
	case protocol.KindMessage:
		r.handleMessage(m, env)
	case protocol.KindEdit:
		r.handleEdit(env)
	case protocol.KindDelete:
		r.handleDelete(env)
	case protocol.KindTyping:
		r.identify(m, env.Username, "")
		r.relayTyping(m, env)
	case protocol.KindReaction:
		r.handleReaction(m, env)
	case protocol.KindMarkRead:
		r.handleMarkRead(m, env)
	case protocol.KindGetUndelivered:
		r.replayUndelivered(m)
	default:
		r.logger.Debug("ignoring envelope", "kind", env.Kind.String())
	}
}

// identify binds a username to a member the first time one shows up and
// announces the (re)joined user.
func (r *room) identify(m *member, username, avatar string) {
	if username == "" {
		return
	}

	r.mu.Lock()
	if m.username == "" {
		m.username = username
	}
	info, ok := r.users[username]
	if !ok {
		info = &memberInfo{}
		r.users[username] = info
	}
	if avatar != "" {
		info.avatar = avatar
	}
	var frames [][]byte
	if !info.online {
		info.online = true
		frames = append(frames, marshal(presenceWire{Type: "presence", Username: username, Online: true}))
		frames = append(frames, r.userListWireLocked())
	}
	r.broadcastLocked(frames...)
	r.mu.Unlock()
}

func (r *room) handleMessage(m *member, env *protocol.Envelope) {
	if env.Content == "" || env.Username == "" {
		return
	}
	r.identify(m, env.Username, env.Avatar)

	r.mu.Lock()
	r.nextID++
	msg := &storedMessage{
		id:        strconv.FormatInt(r.nextID, 10),
		clientID:  env.ClientID,
		username:  env.Username,
		content:   env.Content,
		avatar:    env.Avatar,
		timestamp: time.Now().UTC(),
	}
	r.msgs = append(r.msgs, msg)
	r.byID[msg.id] = msg
	r.broadcastLocked(messageWireOf(msg))
	// Everyone live has now received everything up to this message.
	for peer := range r.members {
		peer.delivered = len(r.msgs)
	}
	r.mu.Unlock()

	// Confirm delivery to the sender.
	m.send(marshal(statusWire{Type: "message_status", MessageID: msg.id, Status: protocol.StatusDelivered}))
}

func (r *room) handleEdit(env *protocol.Envelope) {
	if env.ID == "" || env.Content == "" {
		return
	}
	r.mu.Lock()
	msg, ok := r.byID[env.ID]
	if ok && !msg.deleted {
		msg.content = env.Content
		r.broadcastLocked(marshal(editWire{Type: "edit", ID: msg.id, Message: msg.content}))
	}
	r.mu.Unlock()
}

func (r *room) handleDelete(env *protocol.Envelope) {
	if env.ID == "" {
		return
	}
	r.mu.Lock()
	msg, ok := r.byID[env.ID]
	if ok && !msg.deleted {
		msg.deleted = true
		delete(r.byID, msg.id)
		r.broadcastLocked(marshal(deleteWire{Type: "delete", ID: msg.id}))
	}
	r.mu.Unlock()
}

// handleReaction toggles the sender on the emoji's reaction list and fans
// out the resulting state wholesale.
func (r *room) handleReaction(m *member, env *protocol.Envelope) {
	r.mu.Lock()
	username := m.username
	msg, ok := r.byID[env.MessageID]
	if username == "" || !ok || env.Emoji == "" {
		r.mu.Unlock()
		return
	}

	if msg.reactions == nil {
		msg.reactions = make(map[string][]string)
	}
	users := msg.reactions[env.Emoji]
	removed := false
	for i, u := range users {
		if u == username {
			users = append(users[:i], users[i+1:]...)
			removed = true
			break
		}
	}
	if removed {
		if len(users) == 0 {
			delete(msg.reactions, env.Emoji)
		} else {
			msg.reactions[env.Emoji] = users
		}
	} else {
		msg.reactions[env.Emoji] = append(users, username)
	}

	r.broadcastLocked(marshal(reactionUpdateWire{
		Type:      "reaction_update",
		MessageID: msg.id,
		Reactions: reactionsCopy(msg.reactions),
	}))
	r.mu.Unlock()
}

func (r *room) handleMarkRead(m *member, env *protocol.Envelope) {
	r.mu.Lock()
	username := m.username
	_, ok := r.byID[env.MessageID]
	if username == "" || !ok {
		r.mu.Unlock()
		return
	}
	r.broadcastLocked(marshal(statusWire{
		Type:      "message_status",
		MessageID: env.MessageID,
		Status:    protocol.StatusRead,
		Username:  username,
	}))
	r.mu.Unlock()
}

// replayUndelivered sends the member every message it has not seen yet.
func (r *room) replayUndelivered(m *member) {
	r.mu.Lock()
	start := m.delivered
	if start > len(r.msgs) {
		start = len(r.msgs)
	}
	var frames [][]byte
	for _, msg := range r.msgs[start:] {
		if msg.deleted {
			continue
		}
		frames = append(frames, messageWireOf(msg))
	}
	m.delivered = len(r.msgs)
	r.mu.Unlock()

	for _, f := range frames {
		m.send(f)
	}
}

func (r *room) broadcastLocked(frames ...[]byte) {
	for _, f := range frames {
		if f == nil {
			continue
		}
		for m := range r.members {
			m.send(f)
		}
	}
}

func (r *room) relayTyping(from *member, env *protocol.Envelope) {
	if env.Username == "" {
		return
	}
	data := protocol.EncodeTyping(env.Username, env.IsTyping)
	r.mu.Lock()
	for m := range r.members {
		if m != from {
			m.send(data)
		}
	}
	r.mu.Unlock()
}

func (r *room) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

// roster returns the HTTP roster view of the room.
func (r *room) roster() []rosterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]rosterEntry, 0, len(r.users))
	for username, info := range r.users {
		entry := rosterEntry{Username: username, Avatar: info.avatar, Status: "offline"}
		if info.online {
			entry.Status = "online"
		} else if !info.lastSeen.IsZero() {
			entry.LastSeen = info.lastSeen.UTC().Format(time.RFC3339)
		}
		out = append(out, entry)
	}
	return out
}

func (r *room) userListWireLocked() []byte {
	users := make(map[string]string, len(r.users))
	for username, info := range r.users {
		if info.online {
			users[username] = "online"
		} else {
			users[username] = "offline"
		}
	}
	return marshal(userListWire{Type: "user.list", Users: users})
}

// Wire shapes emitted by the server.

type messageWire struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Avatar    string `json:"avatar,omitempty"`
	Timestamp string `json:"timestamp"`
}

func messageWireOf(msg *storedMessage) []byte {
	return marshal(messageWire{
		Type:      "message",
		ID:        msg.id,
		ClientID:  msg.clientID,
		Username:  msg.username,
		Message:   msg.content,
		Avatar:    msg.avatar,
		Timestamp: msg.timestamp.Format(time.RFC3339),
	})
}

type presenceWire struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

type userListWire struct {
	Type  string            `json:"type"`
	Users map[string]string `json:"users"`
}

type editWire struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

type deleteWire struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type reactionUpdateWire struct {
	Type      string              `json:"type"`
	MessageID string              `json:"message_id"`
	Reactions map[string][]string `json:"reactions"`
}

type statusWire struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Username  string `json:"username,omitempty"`
}

type rosterEntry struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	Status   string `json:"status"`
	LastSeen string `json:"lastSeen,omitempty"`
}

func reactionsCopy(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for emoji, users := range in {
		out[emoji] = append([]string(nil), users...)
	}
	return out
}

func marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
