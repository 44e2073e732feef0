package client

import (
	"sync/atomic"
	"testing"
	"time"
)

func testSession(t *testing.T, srv *wsServer) *Session {
	t.Helper()
	s, err := New(testConfig(t, srv.url()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Close)
	s.Connect()
	waitFor(t, func() bool { return s.State() == StateOpen })
	return s
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(&Config{ServerURL: "ws://x", Username: "alice"}); err != ErrNoRoom {
		t.Errorf("New() error = %v, want ErrNoRoom", err)
	}
}

func TestSendMessageOptimisticThenReconciled(t *testing.T) {
	srv := newWSServer(t)
	s := testSession(t, srv)

	if err := s.SendMessage("hello"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	// Wire shape.
	frame := srv.nextFrame(t)
	if frame["type"] != "message" || frame["message"] != "hello" || frame["username"] != "alice" {
		t.Errorf("frame = %v", frame)
	}
	token, _ := frame["client_id"].(string)
	if token == "" {
		t.Fatal("outbound message carries no correlation token")
	}

	// Optimistic local copy, unconfirmed.
	msgs := s.Store().Messages()
	if len(msgs) != 1 {
		t.Fatalf("Messages() = %d entries, want 1", len(msgs))
	}
	if msgs[0].Content != "hello" || msgs[0].Delivered || !msgs[0].Pending {
		t.Errorf("optimistic copy = %+v", msgs[0])
	}

	// Confirmed echo replaces it in place: exactly one message remains.
	srv.sendRaw(t, `{"type":"message","id":"100","client_id":"`+token+`","username":"alice","message":"hello"}`)
	waitFor(t, func() bool {
		m, ok := s.Store().Message("100")
		return ok && m.Delivered && !m.Pending
	})
	if got := s.Store().Len(); got != 1 {
		t.Errorf("Len() = %d after confirmation, want 1", got)
	}
}

func TestSendMessageRejectsEmpty(t *testing.T) {
	srv := newWSServer(t)
	s := testSession(t, srv)

	for _, content := range []string{"", "   ", "\n\t"} {
		if err := s.SendMessage(content); err != ErrEmptyContent {
			t.Errorf("SendMessage(%q) error = %v, want ErrEmptyContent", content, err)
		}
	}
	if got := s.Store().Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
	srv.expectNoFrame(t, 100*time.Millisecond)
}

func TestEditFlow(t *testing.T) {
	srv := newWSServer(t)
	s := testSession(t, srv)

	srv.sendRaw(t, `{"type":"message","id":"7","username":"alice","message":"hi"}`)
	waitFor(t, func() bool { return s.Store().Len() == 1 })

	if !s.StartEdit("7") {
		t.Fatal("StartEdit(7) = false")
	}
	if got := s.EditingID(); got != "7" {
		t.Errorf("EditingID() = %q", got)
	}

	if err := s.SendMessage("corrected"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	frame := srv.nextFrame(t)
	if frame["type"] != "edit" || frame["id"] != "7" || frame["message"] != "corrected" {
		t.Errorf("frame = %v", frame)
	}
	if got := s.EditingID(); got != "" {
		t.Errorf("EditingID() = %q after send, want empty", got)
	}

	// Editing sends no optimistic copy; the store changes only when the
	// server's edit envelope arrives.
	if got := s.Store().Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}

	if s.StartEdit("missing") {
		t.Error("StartEdit(missing) = true")
	}
}

func TestDeleteConfirmationGate(t *testing.T) {
	srv := newWSServer(t)
	s := testSession(t, srv)

	// ConfirmDelete with nothing pending sends no frame.
	s.ConfirmDelete()
	srv.expectNoFrame(t, 100*time.Millisecond)

	s.RequestDelete("42")
	if got := s.PendingDelete(); got != "42" {
		t.Errorf("PendingDelete() = %q", got)
	}
	s.CancelDelete()
	s.ConfirmDelete()
	srv.expectNoFrame(t, 100*time.Millisecond)

	s.RequestDelete("42")
	s.ConfirmDelete()
	frame := srv.nextFrame(t)
	if frame["action"] != "delete_confirmed" || frame["id"] != "42" {
		t.Errorf("frame = %v", frame)
	}
	if got := s.PendingDelete(); got != "" {
		t.Errorf("PendingDelete() = %q after confirm", got)
	}
}

func TestTypingSignalsPerKeystroke(t *testing.T) {
	srv := newWSServer(t)
	s := testSession(t, srv)

	// No debounce: every input change emits one envelope.
	s.SetInput("h")
	s.SetInput("he")
	s.SetInput("")

	for i, want := range []bool{true, true, false} {
		frame := srv.nextFrame(t)
		if frame["type"] != "typing" || frame["is_typing"] != want || frame["username"] != "alice" {
			t.Errorf("frame %d = %v, want is_typing=%v", i, frame, want)
		}
	}
}

func TestAddReactionIsNotOptimistic(t *testing.T) {
	srv := newWSServer(t)
	s := testSession(t, srv)

	srv.sendRaw(t, `{"type":"message","id":"7","username":"bob","message":"hi"}`)
	waitFor(t, func() bool { return s.Store().Len() == 1 })

	if err := s.AddReaction("7", "👍"); err != nil {
		t.Fatalf("AddReaction() error = %v", err)
	}
	frame := srv.nextFrame(t)
	if frame["type"] != "reaction" || frame["message_id"] != "7" || frame["emoji"] != "👍" {
		t.Errorf("frame = %v", frame)
	}

	// Nothing changes locally until the server's reaction_update.
	msg, _ := s.Store().Message("7")
	if len(msg.Reactions) != 0 {
		t.Errorf("Reactions = %v before server update", msg.Reactions)
	}

	srv.sendRaw(t, `{"type":"reaction_update","message_id":"7","reactions":{"👍":["alice"]}}`)
	waitFor(t, func() bool {
		m, _ := s.Store().Message("7")
		return len(m.Reactions["👍"]) == 1
	})

	if err := s.AddReaction("", "👍"); err != ErrNoTarget {
		t.Errorf("AddReaction with empty id error = %v, want ErrNoTarget", err)
	}
}

func TestMarkReadRepeatsOnTheWire(t *testing.T) {
	srv := newWSServer(t)
	s := testSession(t, srv)

	// The dispatcher performs no dedup; repeated calls produce repeated
	// sends.
	if err := s.MarkRead("7"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkRead("7"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		frame := srv.nextFrame(t)
		if frame["type"] != "mark_read" || frame["message_id"] != "7" {
			t.Errorf("frame %d = %v", i, frame)
		}
	}
}

func TestObserversNotified(t *testing.T) {
	srv := newWSServer(t)
	s := testSession(t, srv)

	var changes atomic.Int32
	s.OnChange(func() { changes.Add(1) })

	srv.sendRaw(t, `{"type":"message","id":"1","username":"bob","message":"hi"}`)
	waitFor(t, func() bool { return changes.Load() >= 1 })

	// An exact duplicate is a no-op and must not re-notify.
	before := changes.Load()
	srv.sendRaw(t, `{"type":"message","id":"1","username":"bob","message":"hi"}`)
	srv.sendRaw(t, `{"type":"message","id":"2","username":"bob","message":"next"}`)
	waitFor(t, func() bool { return s.Store().Len() == 2 })
	if got := changes.Load(); got != before+1 {
		t.Errorf("changes = %d, want %d", got, before+1)
	}
}

func TestOfflineSendIsLostButEchoedLocally(t *testing.T) {
	srv := newWSServer(t)
	s := testSession(t, srv)

	srv.refuse.Store(true)
	srv.closeConns()
	waitFor(t, func() bool { return s.State() != StateOpen })

	// Offline sends are dropped, not queued, but the optimistic copy is
	// still applied locally.
	if err := s.SendMessage("into the void"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if got := s.Store().Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
	srv.expectNoFrame(t, 100*time.Millisecond)
}

func TestCloseCancelsTimersSynchronously(t *testing.T) {
	srv := newWSServer(t)
	s := testSession(t, srv)

	srv.sendRaw(t, `{"type":"typing","is_typing":true,"username":"bob"}`)
	waitFor(t, func() bool { return s.Store().Typing() == "bob" })

	s.Close()
	if got := s.State(); got != StateDisconnected {
		t.Errorf("State() = %v after Close", got)
	}

	// The typing-expiry timer is canceled with the session; the indicator
	// stays frozen rather than firing a stale callback.
	time.Sleep(100 * time.Millisecond)
	if got := srv.dials.Load(); got != 1 {
		t.Errorf("dials = %d after Close, want 1", got)
	}
}
