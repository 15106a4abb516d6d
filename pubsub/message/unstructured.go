package message

import (
	"encoding/json"

	"github.com/GeorgeRitchie/bookstore-orders/runtime/scheme"
)

type Unstructured struct {
	// Object is a JSON compatible map with string, float, int, bool, []interface{}, or
	// map[string]interface{} children.
	Object map[string]interface{}
}

func (u *Unstructured) UnmarshalJSON(b []byte) error {
	return json.Unmarshal(b, &u.Object)
}

func (u Unstructured) GroupKind() scheme.GroupKind {
	gk := scheme.GroupKind{}
	if groupVal, ok := u.Object["group"].(string); ok {
		gk.Group = scheme.Group(groupVal)
	}

	if kindVal, ok := u.Object["kind"].(string); ok {
		gk.Kind = kindVal
	}

	return gk
}
