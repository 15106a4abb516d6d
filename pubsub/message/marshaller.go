package message

import (
	"encoding/json"

	"github.com/GeorgeRitchie/bookstore-orders/runtime/scheme"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../../testing/mocks/pubsub/message/marshaller.go -package message . Marshaller

// Marshaller (de)serializes registered objects keeping their group and kind on the wire,
// so the other side is able to restore the original type.
type Marshaller interface {
	Marshal(obj Object) ([]byte, error)
	Unmarshal(b []byte) (Object, error)
}

func NewJSONMarshaller(knownTypes scheme.KnownTypesRegistry) Marshaller {
	return &jsonMarshaller{knownTypes: knownTypes}
}

type jsonMarshaller struct {
	knownTypes scheme.KnownTypesRegistry
}

func (j jsonMarshaller) Marshal(obj Object) ([]byte, error) {
	if obj.GroupKind().Empty() {
		gk, err := j.knownTypes.ObjectKind(obj)
		if err != nil {
			return nil, errors.Wrap(err, "resolving object kind before marshaling")
		}

		obj.SetGroupKind(gk)
	}

	return json.Marshal(obj)
}

func (j jsonMarshaller) Unmarshal(b []byte) (Object, error) {
	unstructured := &Unstructured{}

	if err := unstructured.UnmarshalJSON(b); err != nil {
		return nil, errors.WithStack(err)
	}

	gk := unstructured.GroupKind()

	if gk.Empty() {
		return nil, errors.Errorf("payload has no group or kind specified: %s", string(b))
	}

	obj, err := j.knownTypes.NewObject(gk)

	if err != nil {
		return nil, errors.Wrapf(err, "creating an instance of %s", gk.String())
	}

	if err := decodeIntoObject(unstructured.Object, obj); err != nil {
		return nil, errors.Wrapf(err, "decoding payload into %s", gk.String())
	}

	return obj, nil
}

// decodeIntoObject fills a registered type from a JSON compatible map.
// mapstructure is used so a payload decoded into interface{} once doesn't have to
// be marshaled back to bytes and parsed again.
func decodeIntoObject(data interface{}, obj Object) error {
	decoderConf := mapstructure.DecoderConfig{
		Squash:           true,
		TagName:          "json",
		Result:           obj,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(timeLayout),
	}

	decoder, err := mapstructure.NewDecoder(&decoderConf)

	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(decoder.Decode(data))
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"
