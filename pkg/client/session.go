package client

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roomwire/roomwire/pkg/protocol"
)

// Session is one client session in one room: it owns the connection
// manager, the state store, and the outbound dispatcher, and runs the event
// loop that applies inbound envelopes in arrival order.
type Session struct {
	cfg      *Config
	store    *Store
	conn     *Conn
	dispatch *Dispatcher

	envelopes chan *protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once

	obsMu    sync.Mutex
	onChange []func()
	onState  []func(State)
}

// New creates a session for the configured room. The session starts
// disconnected; call Connect to open the transport.
func New(cfg *Config) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.Clone()
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	cfg.Logger = cfg.Logger.With("room", cfg.Room, "username", cfg.Username)

	endpoint, err := Endpoint(cfg.ServerURL, cfg.Room)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:       cfg,
		envelopes: make(chan *protocol.Envelope, cfg.EventBuffer),
		done:      make(chan struct{}),
	}
	s.store = newStore(cfg.Username, cfg.TypingExpiry, cfg.Logger)
	s.store.onChange = s.notifyChange
	s.conn = newConn(endpoint, cfg, s.enqueue, s.notifyState)
	s.dispatch = newDispatcher(s.conn, s.store, cfg)

	go s.loop()
	return s, nil
}

// enqueue hands a decoded envelope from the transport read loop to the
// event loop, preserving arrival order.
func (s *Session) enqueue(env *protocol.Envelope) {
	select {
	case s.envelopes <- env:
	case <-s.done:
	}
}

// loop is the single writer for inbound transitions. All envelopes for a
// connection instance are applied in the order they arrived; no reordering
// or causal buffering across envelope kinds.
func (s *Session) loop() {
	tracer := otel.Tracer(tracerName)
	for {
		select {
		case env := <-s.envelopes:
			_, span := tracer.Start(context.Background(), "roomwire.apply."+env.Kind.String(),
				trace.WithAttributes(attribute.String("roomwire.envelope_kind", env.Kind.String())))
			s.store.Apply(env)
			span.End()

		case <-s.done:
			return
		}
	}
}

// Connect opens the transport. Reconnection after transport faults is
// automatic until Close is called.
func (s *Session) Connect() {
	s.conn.Connect()
}

// Close tears the session down: the reconnect and typing-expiry timers are
// canceled and the transport is detached before Close returns. A closed
// session never reconnects.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.conn.Close()
		s.store.Close()
		close(s.done)
	})
}

// State returns the connection state.
func (s *Session) State() State {
	return s.conn.State()
}

// Store returns the session's state store for read access.
func (s *Session) Store() *Store {
	return s.store
}

// OnChange registers an observer invoked after every state transition that
// changed the store. Observers run on session goroutines and must not
// block.
func (s *Session) OnChange(fn func()) {
	s.obsMu.Lock()
	s.onChange = append(s.onChange, fn)
	s.obsMu.Unlock()
}

// OnStateChange registers an observer for connectivity transitions.
func (s *Session) OnStateChange(fn func(State)) {
	s.obsMu.Lock()
	s.onState = append(s.onState, fn)
	s.obsMu.Unlock()
}

func (s *Session) notifyChange() {
	s.obsMu.Lock()
	observers := append([]func(){}, s.onChange...)
	s.obsMu.Unlock()
	for _, fn := range observers {
		fn()
	}
}

func (s *Session) notifyState(state State) {
	s.obsMu.Lock()
	observers := append([]func(State){}, s.onState...)
	s.obsMu.Unlock()
	for _, fn := range observers {
		fn(state)
	}
}

// Outbound intents, delegated to the dispatcher.

// SendMessage sends content as a chat message, or as an edit when an edit
// is in progress. See Dispatcher.SendMessage.
func (s *Session) SendMessage(content string) error { return s.dispatch.SendMessage(content) }

// SetInput emits a typing signal for the current input text.
func (s *Session) SetInput(text string) { s.dispatch.SetInput(text) }

// AddReaction requests a reaction toggle on a message.
func (s *Session) AddReaction(messageID, emoji string) error {
	return s.dispatch.AddReaction(messageID, emoji)
}

// MarkRead sends a read receipt for a message.
func (s *Session) MarkRead(messageID string) error { return s.dispatch.MarkRead(messageID) }

// StartEdit marks a message as being edited.
func (s *Session) StartEdit(messageID string) bool { return s.dispatch.StartEdit(messageID) }

// CancelEdit discards the edit-in-progress intent.
func (s *Session) CancelEdit() { s.dispatch.CancelEdit() }

// EditingID returns the id of the message being edited, or "".
func (s *Session) EditingID() string { return s.dispatch.EditingID() }

// RequestDelete opens the delete-confirmation gate for a message.
func (s *Session) RequestDelete(messageID string) { s.dispatch.RequestDelete(messageID) }

// ConfirmDelete sends the confirmed delete for the pending id, if any.
func (s *Session) ConfirmDelete() { s.dispatch.ConfirmDelete() }

// CancelDelete discards the pending delete without sending anything.
func (s *Session) CancelDelete() { s.dispatch.CancelDelete() }

// PendingDelete returns the id awaiting delete confirmation, or "".
func (s *Session) PendingDelete() string { return s.dispatch.PendingDelete() }
