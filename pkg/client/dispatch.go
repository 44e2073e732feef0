package client

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roomwire/roomwire/pkg/protocol"
)

// Tracer name for dispatch spans.
const tracerName = "roomwire"

// Dispatcher errors. These reject invalid local intents at the boundary;
// no wire traffic is produced for them.
var (
	ErrEmptyContent = errors.New("client: empty message content")
	ErrNoTarget     = errors.New("client: message id required")
)

// Dispatcher validates and encodes local user intents into protocol
// envelopes and forwards them through the connection. Where specified it
// applies the matching optimistic update to the local store first.
type Dispatcher struct {
	conn    *Conn
	store   *Store
	cfg     *Config
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	mu        sync.Mutex
	editingID string // edit-in-progress intent
	deleteID  string // delete-confirmation intent
}

func newDispatcher(conn *Conn, store *Store, cfg *Config) *Dispatcher {
	return &Dispatcher{
		conn:    conn,
		store:   store,
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// SendMessage sends the given content as a chat message. Empty or
// whitespace-only content is rejected.
//
// When an edit is in progress (StartEdit), the content is sent as an edit of
// that message instead of a new one and the edit intent is cleared.
// Otherwise the message is tagged with a correlation token and an optimistic
// local copy is appended immediately; the server-confirmed echo replaces the
// optimistic copy in place when it arrives.
func (d *Dispatcher) SendMessage(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}

	d.mu.Lock()
	editing := d.editingID
	d.editingID = ""
	d.mu.Unlock()

	if editing != "" {
		d.send(protocol.KindEdit, protocol.EncodeEdit(editing, content))
		return nil
	}

	token := uuid.NewString()
	d.store.appendOptimistic(&Message{
		ID:        "pending:" + token,
		ClientID:  token,
		Username:  d.cfg.Username,
		Content:   content,
		AvatarURL: d.cfg.AvatarURL,
		Timestamp: time.Now(),
		Pending:   true,
	})
	d.send(protocol.KindMessage, protocol.EncodeMessage(content, d.cfg.Username, d.cfg.AvatarURL, token))
	return nil
}

// SetInput signals the current input text. Every call emits one typing
// envelope; there is no local debounce. Non-empty text signals typing,
// empty text signals stopped.
func (d *Dispatcher) SetInput(text string) {
	d.send(protocol.KindTyping, protocol.EncodeTyping(d.cfg.Username, text != ""))
}

// AddReaction requests a reaction toggle on a message. No optimistic update
// is applied; the store changes only when the server's reaction_update
// arrives.
func (d *Dispatcher) AddReaction(messageID, emoji string) error {
	if messageID == "" || emoji == "" {
		return ErrNoTarget
	}
	d.send(protocol.KindReaction, protocol.EncodeReaction(messageID, emoji))
	return nil
}

// MarkRead sends a read receipt for a message. The caller is responsible
// for invoking this at most once per message; repeated calls produce
// repeated wire sends.
func (d *Dispatcher) MarkRead(messageID string) error {
	if messageID == "" {
		return ErrNoTarget
	}
	d.send(protocol.KindMarkRead, protocol.EncodeMarkRead(messageID))
	return nil
}

// StartEdit marks a message as being edited. The next SendMessage sends an
// edit envelope for it. Returns false if the message is not in the store.
func (d *Dispatcher) StartEdit(messageID string) bool {
	if _, ok := d.store.Message(messageID); !ok {
		return false
	}
	d.mu.Lock()
	d.editingID = messageID
	d.mu.Unlock()
	return true
}

// CancelEdit discards the edit-in-progress intent.
func (d *Dispatcher) CancelEdit() {
	d.mu.Lock()
	d.editingID = ""
	d.mu.Unlock()
}

// EditingID returns the id of the message being edited, or "".
func (d *Dispatcher) EditingID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.editingID
}

// RequestDelete opens the delete-confirmation gate for a message. Nothing
// is sent until ConfirmDelete.
func (d *Dispatcher) RequestDelete(messageID string) {
	d.mu.Lock()
	d.deleteID = messageID
	d.mu.Unlock()
}

// ConfirmDelete sends the confirmed delete for the pending id. With no
// pending delete it sends no frame.
func (d *Dispatcher) ConfirmDelete() {
	d.mu.Lock()
	id := d.deleteID
	d.deleteID = ""
	d.mu.Unlock()

	if id == "" {
		return
	}
	d.send(protocol.KindDelete, protocol.EncodeDeleteConfirmed(id))
}

// CancelDelete discards the pending delete without sending anything.
func (d *Dispatcher) CancelDelete() {
	d.mu.Lock()
	d.deleteID = ""
	d.mu.Unlock()
}

// PendingDelete returns the id awaiting delete confirmation, or "".
func (d *Dispatcher) PendingDelete() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deleteID
}

func (d *Dispatcher) send(kind protocol.Kind, data []byte) {
	_, span := d.tracer.Start(context.Background(), "roomwire.dispatch."+kind.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("roomwire.envelope_kind", kind.String()),
			attribute.String("roomwire.room", d.cfg.Room),
		))
	defer span.End()

	sent := d.conn.Send(data)
	span.SetAttributes(attribute.Bool("roomwire.dropped", !sent))
	if sent {
		d.metrics.recordSent(kind.String())
	} else {
		d.logger.Debug("dropped outbound envelope", "kind", kind.String())
	}
}
