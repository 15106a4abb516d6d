package inbox

import (
	"context"
	"database/sql"
	"reflect"

	"github.com/GeorgeRitchie/bookstore-orders/pubsub/message"
	"github.com/GeorgeRitchie/bookstore-orders/runtime/scheme"
)

// Handler processes one decoded message within tx. All state changes and follow up
// events of the handler must go through tx, nothing else is covered by the inbox
// guarantees. A handler that wants the message dropped instead of redelivered returns
// WithDropErr as its outermost error.
type Handler func(ctx context.Context, tx *sql.Tx, msg *message.ReceivedMessage) error

// HandlerRegistry maps payload types to handlers. One type has at most one handler.
type HandlerRegistry interface {
	Register(obj message.Object, handler Handler)
	// Handler returns nil when no handler is registered for the type of obj
	Handler(obj message.Object) Handler
}

func NewHandlerRegistry() HandlerRegistry {
	return &handlerRegistry{handlers: make(map[reflect.Type]Handler)}
}

type handlerRegistry struct {
	handlers map[reflect.Type]Handler
}

func (r *handlerRegistry) Register(obj message.Object, handler Handler) {
	r.handlers[scheme.GetStructType(obj)] = handler
}

func (r handlerRegistry) Handler(obj message.Object) Handler {
	return r.handlers[scheme.GetStructType(obj)]
}
