package inbox

import (
	"context"
	"errors"

	"github.com/correlator-io/correlator/internal/inboxstore"
)

// ErrNoHandlerForTopic is the stable error surfaced when a claimed row's
// topic has no registered handler and the missing-handler policy needs a
// reason to log.
var ErrNoHandlerForTopic = errors.New("no-handler-for-topic")

// Message is what a handler receives for one claimed inbox row.
type Message struct {
	MessageID string
	Source    string
	Topic     string
	Payload   []byte
	Attempts  int
}

// Handler processes one inbox message. A non-nil error abandons the row
// for retry or fails it, depending on attempt count.
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

func rowToMessage(row inboxstore.Row) Message {
	return Message{
		MessageID: row.MessageID,
		Source:    row.Source,
		Topic:     row.Topic,
		Payload:   row.Payload,
		Attempts:  row.Attempts,
	}
}
