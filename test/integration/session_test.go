// End-to-end tests running real client sessions against the reference
// chat server over loopback WebSockets.
package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roomwire/roomwire/internal/chatserver"
	"github.com/roomwire/roomwire/pkg/client"
	"github.com/roomwire/roomwire/pkg/roster"
)

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := chatserver.New(chatserver.Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registry: prometheus.NewRegistry(),
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func startSession(t *testing.T, serverURL, room, username string) *client.Session {
	t.Helper()
	cfg := client.DefaultConfig()
	cfg.ServerURL = serverURL
	cfg.Room = room
	cfg.Username = username
	cfg.ReconnectInterval = 50 * time.Millisecond
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := client.New(cfg)
	if err != nil {
		t.Fatalf("New(%s): %v", username, err)
	}
	t.Cleanup(s.Close)
	s.Connect()
	waitFor(t, func() bool { return s.State() == client.StateOpen })
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestTwoPartyConversation(t *testing.T) {
	srv := startServer(t)
	alice := startSession(t, srv.URL, "general", "alice")
	bob := startSession(t, srv.URL, "general", "bob")

	if err := alice.SendMessage("hello bob"); err != nil {
		t.Fatal(err)
	}

	// Bob sees the message; alice's optimistic copy reconciles to the
	// server-assigned id with no duplicate.
	waitFor(t, func() bool { return bob.Store().Len() == 1 })
	got := bob.Store().Messages()[0]
	if got.Username != "alice" || got.Content != "hello bob" || got.ID == "" {
		t.Errorf("bob's view = %+v", got)
	}
	waitFor(t, func() bool {
		msgs := alice.Store().Messages()
		return len(msgs) == 1 && msgs[0].Delivered && !msgs[0].Pending && msgs[0].ID == got.ID
	})

	if err := bob.SendMessage("hi alice"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return alice.Store().Len() == 2 })
}

func TestReactionsAndReadReceipts(t *testing.T) {
	srv := startServer(t)
	alice := startSession(t, srv.URL, "general", "alice")
	bob := startSession(t, srv.URL, "general", "bob")

	if err := alice.SendMessage("react to this"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return bob.Store().Len() == 1 })
	id := bob.Store().Messages()[0].ID

	// Bob must identify himself on the wire before reacting; his earlier
	// frames carry no username, so send a typing signal first.
	bob.SetInput("…")
	if err := bob.AddReaction(id, "🎉"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		m, ok := alice.Store().Message(id)
		return ok && len(m.Reactions["🎉"]) == 1 && m.Reactions["🎉"][0] == "bob"
	})

	if err := bob.MarkRead(id); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		m, _ := alice.Store().Message(id)
		return len(m.ReadBy) == 1 && m.ReadBy[0] == "bob"
	})
}

func TestPresenceAndTyping(t *testing.T) {
	srv := startServer(t)
	alice := startSession(t, srv.URL, "general", "alice")
	alice.SetInput("x")
	alice.SetInput("")

	bob := startSession(t, srv.URL, "general", "bob")
	bob.SetInput("h")

	waitFor(t, func() bool { return alice.Store().IsOnline("bob") })
	waitFor(t, func() bool { return alice.Store().Typing() == "bob" })

	bob.SetInput("")
	waitFor(t, func() bool { return alice.Store().Typing() == "" })

	bob.Close()
	waitFor(t, func() bool { return !alice.Store().IsOnline("bob") })
}

func TestReconnectReplaysBacklog(t *testing.T) {
	srv := startServer(t)
	alice := startSession(t, srv.URL, "general", "alice")
	bob := startSession(t, srv.URL, "general", "bob")

	if err := alice.SendMessage("before the drop"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return bob.Store().Len() == 1 })

	// Kill every live socket. Both sessions reconnect and bootstrap; the
	// replay deduplicates against what they already hold.
	srv.CloseClientConnections()
	waitFor(t, func() bool {
		return alice.State() == client.StateOpen && bob.State() == client.StateOpen
	})

	if err := alice.SendMessage("after the drop"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return bob.Store().Len() == 2 })
	if got := alice.Store().Len(); got != 2 {
		t.Errorf("alice.Len() = %d, want 2", got)
	}
}

func TestEditAndDeletePropagate(t *testing.T) {
	srv := startServer(t)
	alice := startSession(t, srv.URL, "general", "alice")
	bob := startSession(t, srv.URL, "general", "bob")

	if err := alice.SendMessage("draft"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return bob.Store().Len() == 1 })
	id := bob.Store().Messages()[0].ID

	if !alice.StartEdit(id) {
		t.Fatalf("StartEdit(%s) = false", id)
	}
	if err := alice.SendMessage("final"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		m, ok := bob.Store().Message(id)
		return ok && m.Content == "final"
	})

	alice.RequestDelete(id)
	alice.ConfirmDelete()
	waitFor(t, func() bool { return bob.Store().Len() == 0 })
	waitFor(t, func() bool { return alice.Store().Len() == 0 })
}

func TestRosterEndpointAgainstLiveServer(t *testing.T) {
	srv := startServer(t)
	alice := startSession(t, srv.URL, "general", "alice")
	alice.SetInput("x")
	alice.SetInput("")

	waitFor(t, func() bool { return alice.Store().IsOnline("alice") })

	users, err := roster.New(srv.URL, nil).Fetch(context.Background(), "general")
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].Username != "alice" || !users[0].Online() {
		t.Errorf("roster = %+v", users)
	}
}
