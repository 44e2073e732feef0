package client

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roomwire/roomwire/pkg/protocol"
)

// Message is one chat message in the local view.
type Message struct {
	// ID is the server-assigned id, or a temporary client-assigned id for
	// an optimistic entry that has not been confirmed yet.
	ID string

	// ClientID is the correlation token attached to an optimistic entry.
	// Cleared once the server-confirmed copy replaces it.
	ClientID string

	Username  string
	Content   string
	AvatarURL string
	Timestamp time.Time

	// Delivered is set by a message_status envelope, or immediately for
	// confirmed copies received from the server.
	Delivered bool

	// Pending marks an optimistic local copy awaiting confirmation.
	Pending bool

	// ReadBy lists usernames that have read the message. The client does
	// not dedup; duplicates appear only if the server sends them.
	ReadBy []string

	// Reactions maps emoji to the usernames that reacted with it.
	// Replaced wholesale by reaction_update envelopes.
	Reactions map[string][]string
}

// clone returns a deep copy safe to hand to observers.
func (m *Message) clone() Message {
	out := *m
	out.ReadBy = append([]string(nil), m.ReadBy...)
	if m.Reactions != nil {
		out.Reactions = make(map[string][]string, len(m.Reactions))
		for emoji, users := range m.Reactions {
			out.Reactions[emoji] = append([]string(nil), users...)
		}
	}
	return out
}

// Store holds the authoritative local view of the room: messages, presence,
// the user directory, and the typing indicator. Incoming envelopes are
// applied as atomic transitions in arrival order; a transition targeting an
// unknown message id is a silent no-op, never an error.
type Store struct {
	self         string
	typingExpiry time.Duration
	logger       *slog.Logger

	// onChange is invoked after every transition that altered state. Set
	// once before the store receives traffic.
	onChange func()

	mu       sync.RWMutex
	messages []*Message
	index    map[string]int // message id -> position
	pending  map[string]int // correlation token -> position of optimistic entry
	online   map[string]struct{}
	roster   map[string]string // username -> status, rebuilt wholesale
	typing   string            // current typer, "" when nobody
	typingT  *time.Timer
	closed   bool
}

func newStore(self string, typingExpiry time.Duration, logger *slog.Logger) *Store {
	return &Store{
		self:         self,
		typingExpiry: typingExpiry,
		logger:       logger,
		index:        make(map[string]int),
		pending:      make(map[string]int),
		online:       make(map[string]struct{}),
	}
}

// Apply applies one decoded envelope as a state transition. It reports
// whether the transition changed anything.
func (st *Store) Apply(env *protocol.Envelope) bool {
	st.mu.Lock()
	changed := st.applyLocked(env)
	st.mu.Unlock()

	if changed && st.onChange != nil {
		st.onChange()
	}
	return changed
}

func (st *Store) applyLocked(env *protocol.Envelope) bool {
	switch env.Kind {
	case protocol.KindMessage:
		return st.applyMessageLocked(env)
	case protocol.KindEdit:
		return st.applyEditLocked(env)
	case protocol.KindDelete:
		return st.applyDeleteLocked(env)
	case protocol.KindTyping:
		return st.applyTypingLocked(env)
	case protocol.KindPresence:
		return st.applyPresenceLocked(env)
	case protocol.KindUserList:
		return st.applyUserListLocked(env)
	case protocol.KindReactionUpdate:
		return st.applyReactionUpdateLocked(env)
	case protocol.KindMessageStatus:
		return st.applyStatusLocked(env)
	default:
		st.logger.Debug("ignoring envelope", "kind", env.Kind.String(), "type", env.Type)
		return false
	}
}

func (st *Store) applyMessageLocked(env *protocol.Envelope) bool {
	// Correlated confirmation of an optimistic entry: replace in place so
	// the sent message appears exactly once, at its original position.
	if env.ClientID != "" {
		if pos, ok := st.pending[env.ClientID]; ok {
			msg := st.messages[pos]
			delete(st.index, msg.ID)
			delete(st.pending, env.ClientID)
			msg.ID = env.ID
			msg.ClientID = ""
			msg.Pending = false
			msg.Delivered = true
			msg.Content = env.Content
			msg.Timestamp = parseTimestamp(env.Timestamp)
			st.index[msg.ID] = pos
			return true
		}
	}

	if env.ID == "" {
		return false
	}

	// Idempotent de-duplication by id.
	if _, ok := st.index[env.ID]; ok {
		return false
	}

	st.appendLocked(&Message{
		ID:        env.ID,
		Username:  env.Username,
		Content:   env.Content,
		AvatarURL: env.Avatar,
		Timestamp: parseTimestamp(env.Timestamp),
		Delivered: true,
	})
	return true
}

func (st *Store) applyEditLocked(env *protocol.Envelope) bool {
	pos, ok := st.index[env.ID]
	if !ok {
		return false
	}
	if st.messages[pos].Content == env.Content {
		return false
	}
	st.messages[pos].Content = env.Content
	return true
}

func (st *Store) applyDeleteLocked(env *protocol.Envelope) bool {
	pos, ok := st.index[env.ID]
	if !ok {
		return false
	}
	msg := st.messages[pos]
	delete(st.index, msg.ID)
	if msg.ClientID != "" {
		delete(st.pending, msg.ClientID)
	}
	st.messages = append(st.messages[:pos], st.messages[pos+1:]...)
	for i := pos; i < len(st.messages); i++ {
		st.index[st.messages[i].ID] = i
		if cid := st.messages[i].ClientID; cid != "" {
			st.pending[cid] = i
		}
	}
	return true
}

func (st *Store) applyTypingLocked(env *protocol.Envelope) bool {
	if env.IsTyping {
		if env.Username == st.self || env.Username == "" {
			return false
		}
		changed := st.typing != env.Username
		st.typing = env.Username
		st.armTypingLocked()
		// A fresh signal from the same typer only resets the expiry.
		return changed
	}

	if env.Username != "" && env.Username == st.typing {
		st.clearTypingLocked()
		return true
	}
	return false
}

func (st *Store) armTypingLocked() {
	if st.typingT != nil {
		st.typingT.Stop()
	}
	st.typingT = time.AfterFunc(st.typingExpiry, st.expireTyping)
}

func (st *Store) expireTyping() {
	st.mu.Lock()
	if st.closed || st.typing == "" {
		st.mu.Unlock()
		return
	}
	st.clearTypingLocked()
	st.mu.Unlock()

	if st.onChange != nil {
		st.onChange()
	}
}

func (st *Store) clearTypingLocked() {
	st.typing = ""
	if st.typingT != nil {
		st.typingT.Stop()
		st.typingT = nil
	}
}

func (st *Store) applyPresenceLocked(env *protocol.Envelope) bool {
	if env.Username == "" {
		return false
	}
	_, present := st.online[env.Username]
	if env.Online == present {
		return false
	}
	if env.Online {
		st.online[env.Username] = struct{}{}
	} else {
		delete(st.online, env.Username)
	}
	return true
}

func (st *Store) applyUserListLocked(env *protocol.Envelope) bool {
	// Roster snapshots replace the directory wholesale, never patch it.
	st.roster = make(map[string]string, len(env.Users))
	for username, status := range env.Users {
		st.roster[username] = status
	}
	return true
}

func (st *Store) applyReactionUpdateLocked(env *protocol.Envelope) bool {
	pos, ok := st.index[env.MessageID]
	if !ok {
		return false
	}
	st.messages[pos].Reactions = env.Reactions
	return true
}

func (st *Store) applyStatusLocked(env *protocol.Envelope) bool {
	pos, ok := st.index[env.MessageID]
	if !ok {
		return false
	}
	msg := st.messages[pos]
	switch env.Status {
	case protocol.StatusDelivered:
		if msg.Delivered {
			return false
		}
		msg.Delivered = true
		return true
	case protocol.StatusRead:
		if env.Username == "" {
			return false
		}
		msg.ReadBy = append(msg.ReadBy, env.Username)
		return true
	default:
		return false
	}
}

// appendOptimistic appends a locally-originated message awaiting server
// confirmation. The correlation token indexes it for in-place replacement.
func (st *Store) appendOptimistic(msg *Message) {
	st.mu.Lock()
	st.appendLocked(msg)
	if msg.ClientID != "" {
		st.pending[msg.ClientID] = len(st.messages) - 1
	}
	st.mu.Unlock()

	if st.onChange != nil {
		st.onChange()
	}
}

func (st *Store) appendLocked(msg *Message) {
	st.messages = append(st.messages, msg)
	st.index[msg.ID] = len(st.messages) - 1
}

// Messages returns a copy of the message list in insertion order.
func (st *Store) Messages() []Message {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]Message, len(st.messages))
	for i, m := range st.messages {
		out[i] = m.clone()
	}
	return out
}

// Message returns a copy of the message with the given id.
func (st *Store) Message(id string) (Message, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	pos, ok := st.index[id]
	if !ok {
		return Message{}, false
	}
	return st.messages[pos].clone(), true
}

// Len returns the number of stored messages.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.messages)
}

// Online returns the sorted presence set.
func (st *Store) Online() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]string, 0, len(st.online))
	for username := range st.online {
		out = append(out, username)
	}
	sort.Strings(out)
	return out
}

// IsOnline reports presence-set membership for one user.
func (st *Store) IsOnline(username string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	_, ok := st.online[username]
	return ok
}

// Directory returns a copy of the latest roster snapshot
// (username -> status), or nil if none has arrived.
func (st *Store) Directory() map[string]string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.roster == nil {
		return nil
	}
	out := make(map[string]string, len(st.roster))
	for username, status := range st.roster {
		out[username] = status
	}
	return out
}

// Typing returns the username currently shown as typing, or "".
func (st *Store) Typing() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.typing
}

// Close cancels the typing-expiry timer. The store holds no other
// resources; its contents are discarded with it.
func (st *Store) Close() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.closed = true
	st.clearTypingLocked()
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}
