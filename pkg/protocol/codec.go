package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Codec errors.
var (
	// ErrMalformedFrame is returned when a frame cannot be parsed as a JSON
	// object. Callers drop the frame and log; a malformed frame never fails
	// the session.
	ErrMalformedFrame = errors.New("protocol: malformed frame")
)

// wireEnvelope is the superset of all inbound envelope shapes. Fields not
// present on the wire are left at their zero values; fields not recognized
// by this struct are ignored by encoding/json.
type wireEnvelope struct {
	Type   string `json:"type"`
	Action string `json:"action"`

	ID       flexID `json:"id"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Message  string `json:"message"`
	Content  string `json:"content"`
	Avatar   string `json:"avatar"`

	// Timestamps arrive as RFC 3339 strings; kept opaque here.
	Timestamp string `json:"timestamp"`

	// Legacy typing shape sets "typing": true instead of a "type" field.
	Typing   bool `json:"typing"`
	IsTyping bool `json:"is_typing"`

	Online bool `json:"online"`

	Users map[string]string `json:"users"`

	MessageID flexID              `json:"message_id"`
	Emoji     string              `json:"emoji"`
	Reactions map[string][]string `json:"reactions"`
	Status    string              `json:"status"`
}

// Decode parses a single wire frame into an Envelope.
//
// Decode is total over the legal envelope grammar: unknown "type" values
// yield KindUnknown (with Type preserved) rather than an error, and a frame
// with an unknown or absent type that still carries the legacy message shape
// (id + username + content) decodes as KindMessage. Only frames that are not
// parseable as a JSON object return an error.
func Decode(data []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	env := &Envelope{
		Type:      w.Type,
		ID:        w.ID.String(),
		ClientID:  w.ClientID,
		Username:  w.Username,
		Content:   w.Message,
		Avatar:    w.Avatar,
		Timestamp: w.Timestamp,
		IsTyping:  w.IsTyping,
		Online:    w.Online,
		Users:     w.Users,
		MessageID: w.MessageID.String(),
		Emoji:     w.Emoji,
		Reactions: w.Reactions,
		Status:    w.Status,
	}
	if env.Content == "" {
		env.Content = w.Content
	}

	env.Kind = classify(&w)
	return env, nil
}

// classify maps a wire shape to an envelope kind.
func classify(w *wireEnvelope) Kind {
	switch w.Type {
	case "message":
		return KindMessage
	case "edit":
		return KindEdit
	case "delete":
		return KindDelete
	case "typing":
		return KindTyping
	case "presence":
		return KindPresence
	case "user.list":
		return KindUserList
	case "reaction":
		return KindReaction
	case "reaction_update":
		return KindReactionUpdate
	case "mark_read":
		return KindMarkRead
	case "message_status":
		return KindMessageStatus
	case "get_undelivered":
		return KindGetUndelivered
	}

	// The confirmed delete variant discriminates on "action" instead of
	// "type". Both action values mean removal on the receiving side.
	switch w.Action {
	case "delete", "delete_confirmed":
		return KindDelete
	}

	// Legacy typing shape: {"typing": true, "is_typing": ..., "username": ...}.
	if w.Type == "" && w.Typing {
		return KindTyping
	}

	// Legacy message shape, also accepted under unknown type values.
	if isLegacyMessage(w) {
		return KindMessage
	}

	return KindUnknown
}

func isLegacyMessage(w *wireEnvelope) bool {
	return w.ID != "" && w.Username != "" && (w.Message != "" || w.Content != "")
}

// Outbound wire shapes. Each encode helper is the identity transform of a
// typed record into its wire form.

type messageOut struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// EncodeMessage encodes an outbound chat message. clientID is the
// correlation token echoed back by the server on the confirmed copy; it may
// be empty for servers that predate correlation.
func EncodeMessage(content, username, avatar, clientID string) []byte {
	return mustMarshal(messageOut{
		Type:     "message",
		Message:  content,
		Username: username,
		Avatar:   avatar,
		ClientID: clientID,
	})
}

type editOut struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

// EncodeEdit encodes a content replacement for an existing message.
func EncodeEdit(id, content string) []byte {
	return mustMarshal(editOut{Type: "edit", ID: id, Message: content})
}

type deleteOut struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

// EncodeDeleteConfirmed encodes a confirmed delete request. The outbound
// delete discriminates on "action", not "type"; this asymmetry is part of
// the server contract.
func EncodeDeleteConfirmed(id string) []byte {
	return mustMarshal(deleteOut{Action: "delete_confirmed", ID: id})
}

type typingOut struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
	Username string `json:"username"`
}

// EncodeTyping encodes a typing indicator signal.
func EncodeTyping(username string, isTyping bool) []byte {
	return mustMarshal(typingOut{Type: "typing", IsTyping: isTyping, Username: username})
}

type reactionOut struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// EncodeReaction encodes a reaction toggle request.
func EncodeReaction(messageID, emoji string) []byte {
	return mustMarshal(reactionOut{Type: "reaction", MessageID: messageID, Emoji: emoji})
}

type markReadOut struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

// EncodeMarkRead encodes a read receipt request.
func EncodeMarkRead(messageID string) []byte {
	return mustMarshal(markReadOut{Type: "mark_read", MessageID: messageID})
}

type getUndeliveredOut struct {
	Type string `json:"type"`
}

// EncodeGetUndelivered encodes the missed-message bootstrap request sent
// once per successful connect.
func EncodeGetUndelivered() []byte {
	return mustMarshal(getUndeliveredOut{Type: "get_undelivered"})
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// All outbound shapes are plain structs of strings and bools;
		// marshal cannot fail on them.
		panic(fmt.Sprintf("protocol: marshal: %v", err))
	}
	return b
}
