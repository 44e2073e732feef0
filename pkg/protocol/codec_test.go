package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeKinds(t *testing.T) {
	tests := []struct {
		name string
		data string
		want Kind
	}{
		{
			name: "message",
			data: `{"type":"message","id":"42","username":"alice","message":"hi","timestamp":"2026-08-31T10:00:00Z"}`,
			want: KindMessage,
		},
		{
			name: "edit",
			data: `{"type":"edit","id":"42","message":"corrected"}`,
			want: KindEdit,
		},
		{
			name: "delete_by_type",
			data: `{"type":"delete","id":"42"}`,
			want: KindDelete,
		},
		{
			name: "delete_by_action",
			data: `{"action":"delete_confirmed","id":"42"}`,
			want: KindDelete,
		},
		{
			name: "typing",
			data: `{"type":"typing","is_typing":true,"username":"bob"}`,
			want: KindTyping,
		},
		{
			name: "typing_legacy",
			data: `{"typing":true,"is_typing":true,"username":"bob"}`,
			want: KindTyping,
		},
		{
			name: "presence",
			data: `{"type":"presence","username":"bob","online":true}`,
			want: KindPresence,
		},
		{
			name: "user_list",
			data: `{"type":"user.list","users":{"alice":"online","bob":"offline"}}`,
			want: KindUserList,
		},
		{
			name: "reaction_update",
			data: `{"type":"reaction_update","message_id":"42","reactions":{"👍":["alice"]}}`,
			want: KindReactionUpdate,
		},
		{
			name: "message_status",
			data: `{"type":"message_status","message_id":"42","status":"read","username":"bob"}`,
			want: KindMessageStatus,
		},
		{
			name: "legacy_message_no_type",
			data: `{"id":"7","username":"carol","content":"hello"}`,
			want: KindMessage,
		},
		{
			name: "legacy_message_unknown_type",
			data: `{"type":"chat.v0","id":"7","username":"carol","message":"hello"}`,
			want: KindMessage,
		},
		{
			name: "unknown_type",
			data: `{"type":"server.motd","text":"welcome"}`,
			want: KindUnknown,
		},
		{
			name: "empty_object",
			data: `{}`,
			want: KindUnknown,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env, err := Decode([]byte(tc.data))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if env.Kind != tc.want {
				t.Errorf("Kind = %v, want %v", env.Kind, tc.want)
			}
		})
	}
}

func TestDecodeFields(t *testing.T) {
	env, err := Decode([]byte(`{"type":"message","id":42,"client_id":"tok-1","username":"alice","message":"hi","avatar":"https://cdn/a.png","timestamp":"2026-08-31T10:00:00Z"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if env.ID != "42" {
		t.Errorf("numeric id = %q, want %q", env.ID, "42")
	}
	if env.ClientID != "tok-1" {
		t.Errorf("ClientID = %q", env.ClientID)
	}
	if env.Content != "hi" {
		t.Errorf("Content = %q", env.Content)
	}
	if env.Avatar != "https://cdn/a.png" {
		t.Errorf("Avatar = %q", env.Avatar)
	}
}

func TestDecodeContentFallback(t *testing.T) {
	// Legacy frames use "content" where newer servers use "message".
	env, err := Decode([]byte(`{"id":"1","username":"a","content":"old shape"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if env.Content != "old shape" {
		t.Errorf("Content = %q, want %q", env.Content, "old shape")
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not_json", data: `{"type":`},
		{name: "array", data: `[1,2,3]`},
		{name: "bare_string", data: `"hello"`},
		{name: "empty", data: ``},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.data))
			if err == nil {
				t.Fatal("Decode() error = nil, want malformed frame error")
			}
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("error = %v, want ErrMalformedFrame", err)
			}
		})
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	env, err := Decode([]byte(`{"type":"presence","username":"bob","online":true,"shard":3,"trace":{"id":"x"}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if env.Kind != KindPresence || env.Username != "bob" || !env.Online {
		t.Errorf("envelope = %+v", env)
	}
}

func TestEncodeShapes(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want map[string]any
	}{
		{
			name: "message",
			data: EncodeMessage("hello", "alice", "", "tok-1"),
			want: map[string]any{"type": "message", "message": "hello", "username": "alice", "client_id": "tok-1"},
		},
		{
			name: "message_no_avatar_key",
			data: EncodeMessage("hello", "alice", "", ""),
			want: map[string]any{"type": "message", "message": "hello", "username": "alice"},
		},
		{
			name: "edit",
			data: EncodeEdit("42", "corrected"),
			want: map[string]any{"type": "edit", "id": "42", "message": "corrected"},
		},
		{
			name: "delete_confirmed_uses_action",
			data: EncodeDeleteConfirmed("42"),
			want: map[string]any{"action": "delete_confirmed", "id": "42"},
		},
		{
			name: "typing",
			data: EncodeTyping("alice", true),
			want: map[string]any{"type": "typing", "is_typing": true, "username": "alice"},
		},
		{
			name: "typing_stopped",
			data: EncodeTyping("alice", false),
			want: map[string]any{"type": "typing", "is_typing": false, "username": "alice"},
		},
		{
			name: "reaction",
			data: EncodeReaction("42", "🔥"),
			want: map[string]any{"type": "reaction", "message_id": "42", "emoji": "🔥"},
		},
		{
			name: "mark_read",
			data: EncodeMarkRead("42"),
			want: map[string]any{"type": "mark_read", "message_id": "42"},
		},
		{
			name: "get_undelivered",
			data: EncodeGetUndelivered(),
			want: map[string]any{"type": "get_undelivered"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got map[string]any
			if err := json.Unmarshal(tc.data, &got); err != nil {
				t.Fatalf("encoded frame is not valid JSON: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Errorf("field count = %d, want %d (%v)", len(got), len(tc.want), got)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env, err := Decode(EncodeTyping("alice", true))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if env.Kind != KindTyping || env.Username != "alice" || !env.IsTyping {
		t.Errorf("round trip envelope = %+v", env)
	}
}
