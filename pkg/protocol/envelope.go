package protocol

import (
	"encoding/json"
)

// Kind identifies the envelope kind after decoding.
type Kind uint8

const (
	KindUnknown        Kind = iota // Unrecognized "type" value
	KindMessage                    // Chat message
	KindEdit                       // Content replacement
	KindDelete                     // Message removal
	KindTyping                     // Typing indicator signal
	KindPresence                   // Single-user online/offline toggle
	KindUserList                   // Wholesale roster snapshot
	KindReaction                   // Reaction toggle request (outbound)
	KindReactionUpdate             // Resulting reaction state (inbound)
	KindMarkRead                   // Read receipt request (outbound)
	KindMessageStatus              // Delivery/read fan-out (inbound)
	KindGetUndelivered             // Missed-message bootstrap request
)

// String returns the string representation of the envelope kind.
func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindEdit:
		return "edit"
	case KindDelete:
		return "delete"
	case KindTyping:
		return "typing"
	case KindPresence:
		return "presence"
	case KindUserList:
		return "user.list"
	case KindReaction:
		return "reaction"
	case KindReactionUpdate:
		return "reaction_update"
	case KindMarkRead:
		return "mark_read"
	case KindMessageStatus:
		return "message_status"
	case KindGetUndelivered:
		return "get_undelivered"
	default:
		return "unknown"
	}
}

// Message status values carried by KindMessageStatus envelopes.
const (
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Envelope is one decoded wire frame. Only the fields relevant to Kind are
// populated; the rest hold their zero values.
type Envelope struct {
	Kind Kind

	// Type is the raw wire discriminator, preserved for KindUnknown so a
	// default handler can still inspect it.
	Type string

	// Message fields.
	ID        string
	ClientID  string
	Username  string
	Content   string
	Avatar    string
	Timestamp string

	// Typing.
	IsTyping bool

	// Presence.
	Online bool

	// Roster snapshot: username -> status.
	Users map[string]string

	// Reactions and receipts.
	MessageID string
	Emoji     string
	Reactions map[string][]string
	Status    string
}

// flexID accepts both string and numeric JSON ids. Servers backed by
// auto-increment primary keys emit numbers; everything else emits strings.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) String() string { return string(f) }
