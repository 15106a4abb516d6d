package message

import (
	"encoding/json"
	"time"

	"github.com/GeorgeRitchie/bookstore-orders/pubsub/transport"
	"github.com/GeorgeRitchie/bookstore-orders/runtime/scheme"
	"github.com/pkg/errors"
)

// Envelope is the wire format of every published message. Name is a stable string
// discriminator identifying the payload schema, Content is the serialized payload.
type Envelope struct {
	UID           string          `json:"id"`
	OccurredOnUTC time.Time       `json:"occurred_on_utc"`
	Name          string          `json:"type"`
	Content       json.RawMessage `json:"content"`
	Headers       Headers         `json:"headers,omitempty"`
}

type Decoder interface {
	Decode(inPkg transport.IncomingPkg) (*ReceivedMessage, error)
}

type DecoderErr struct {
	error
}

func WithDecoderErr(err error) error {
	return DecoderErr{err}
}

func NewJSONDecoder(knownTypes scheme.KnownTypesRegistry, marshaller Marshaller) Decoder {
	return &jsonDecoder{knownTypes: knownTypes, marshaller: marshaller}
}

type jsonDecoder struct {
	knownTypes scheme.KnownTypesRegistry
	marshaller Marshaller
}

func (j jsonDecoder) Decode(inPkg transport.IncomingPkg) (*ReceivedMessage, error) {
	var env Envelope

	if err := json.Unmarshal(inPkg.Payload(), &env); err != nil {
		return nil, WithDecoderErr(errors.Wrap(err, "unmarshaling envelope"))
	}

	if env.Name == "" {
		return nil, WithDecoderErr(errors.Errorf("envelope %s has no type discriminator", env.UID))
	}

	obj, err := j.knownTypes.NewObjectByName(env.Name)

	if err != nil {
		return nil, WithDecoderErr(errors.Wrapf(err, "decoding pkg payload into a message"))
	}

	unstructured := &Unstructured{}

	if err := unstructured.UnmarshalJSON(env.Content); err != nil {
		return nil, WithDecoderErr(errors.Wrapf(err, "unmarshaling content of envelope %s", env.UID))
	}

	if err := decodeIntoObject(unstructured.Object, obj); err != nil {
		return nil, WithDecoderErr(errors.Wrapf(err, "decoding content of envelope %s into type %s", env.UID, env.Name))
	}

	headers := env.Headers
	if headers == nil {
		headers = make(Headers)
	}

	for k, v := range inPkg.Headers() {
		headers[k] = v
	}

	return NewReceivedMessage(env.UID, obj, headers, env.OccurredOnUTC, inPkg.ReceivedAt(), inPkg.Origin()), nil
}
