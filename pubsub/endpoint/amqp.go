package endpoint

import (
	"context"
	"encoding/json"
	"time"

	"github.com/GeorgeRitchie/bookstore-orders/pubsub/message"
	"github.com/GeorgeRitchie/bookstore-orders/pubsub/transport"
	"github.com/pkg/errors"
)

type AmqpEndpoint struct {
	amqpTransport transport.Transport
	destination   transport.DeliveryDestination
	msgMarshaller message.Marshaller
	name          string
}

func NewAmqpEndpoint(name string, amqpTransport transport.Transport, destination transport.DeliveryDestination, msgMarshaller message.Marshaller) Endpoint {
	return &AmqpEndpoint{name: name, amqpTransport: amqpTransport, destination: destination, msgMarshaller: msgMarshaller}
}

func (a AmqpEndpoint) Name() string {
	return a.name
}

func (a AmqpEndpoint) Send(ctx context.Context, msg *message.OutcomingMessage, opts ...DeliveryOption) error {
	deliveryOpts := &deliveryOptions{}

	for _, opt := range opts {
		if err := opt(deliveryOpts); err != nil {
			return errors.Wrapf(err, "compiling delivery options for message %s", msg.UID())
		}
	}

	content, err := a.msgMarshaller.Marshal(msg.Payload())

	if err != nil {
		return errors.Wrapf(err, "serializing payload of message %s", msg.UID())
	}

	env := message.Envelope{
		UID:           msg.UID(),
		OccurredOnUTC: msg.OccurredAt(),
		Name:          msg.Payload().GroupKind().String(),
		Content:       content,
		Headers:       msg.Headers(),
	}

	dataToSend, err := json.Marshal(env)

	if err != nil {
		return errors.Wrapf(err, "serializing envelope of message %s", msg.UID())
	}

	headers := map[string]interface{}{"uid": msg.UID()}
	for k, v := range msg.Headers() {
		headers[k] = v
	}

	toSend := transport.NewOutboundPkg(dataToSend, "application/json", a.destination, headers)

	if deliveryOpts.delay != nil {
		select {
		case <-ctx.Done():
			return errors.Errorf("failed to send message %s. Was waiting for the delay and parent ctx closed", msg.UID())
		case <-time.After(*deliveryOpts.delay):
		}
	}

	return a.amqpTransport.Send(ctx, toSend)
}
