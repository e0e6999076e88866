package outbox

import (
	"context"
	"errors"

	"github.com/correlator-io/correlator/internal/outboxstore"
)

// ErrNoHandlerForTopic is the stable error returned when a claimed row's
// topic has no registered handler.
var ErrNoHandlerForTopic = errors.New("no-handler-for-topic")

// Message is what a handler receives: the claimed row's payload plus
// metadata needed to correlate or re-derive context.
type Message struct {
	Topic         string
	Payload       []byte
	CorrelationID string
	Attempts      int
}

// Handler processes one outbox message. A non-nil error marks the row for
// reschedule or fail depending on attempt count.
type Handler func(ctx context.Context, msg Message) error

// Registry is a static topic -> handler map, built once at startup.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a topic, overwriting any prior binding.
func (r *Registry) Register(topic string, h Handler) {
	r.handlers[topic] = h
}

// Lookup returns the handler for topic, or ErrNoHandlerForTopic if none.
func (r *Registry) Lookup(topic string) (Handler, error) {
	h, ok := r.handlers[topic]
	if !ok {
		return nil, ErrNoHandlerForTopic
	}

	return h, nil
}

func rowToMessage(row outboxstore.Row) Message {
	return Message{
		Topic:         row.Topic,
		Payload:       row.Payload,
		CorrelationID: row.CorrelationID,
		Attempts:      row.Attempts,
	}
}
