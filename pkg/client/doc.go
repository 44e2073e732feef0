// Package client implements the Roomwire chat session core.
//
// A Session maintains a persistent bidirectional connection to a chat
// server, translates the wire protocol into local state transitions, and
// reconciles locally-originated (optimistic) actions with server-confirmed
// state. Rendering, routing, and visibility detection are external
// collaborators: the UI observes the Store and calls the outbound intent
// methods.
//
// # Components
//
//   - Conn: transport lifecycle state machine and reconnection policy
//   - Store: authoritative local view of messages, presence, typing,
//     reactions, and delivery/read status
//   - Dispatcher: validates and encodes local intents, applies optimistic
//     updates where specified
//   - Session: glue plus the single event loop applying inbound envelopes
//     in arrival order
//
// # Lifecycle
//
//	cfg := client.DefaultConfig()
//	cfg.ServerURL = "ws://localhost:8000"
//	cfg.Room = "general"
//	cfg.Username = "alice"
//
//	sess, err := client.New(cfg)
//	if err != nil { ... }
//	sess.OnChange(render)
//	sess.Connect()
//	defer sess.Close()
//
// Transport faults are never surfaced as errors: the session transitions to
// StateReconnecting and retries on a fixed interval until the transport
// opens or Close is called. The worst-case behavior is an indefinitely
// retrying disconnected session with a visible offline indicator.
package client
