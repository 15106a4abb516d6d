package scheme

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

var KnownTypesRegistryInstance = NewKnownTypesRegistry()

// KnownTypesRegistry keeps track of all event and command types the service works with.
// Types are registered explicitly at startup, the registry is the only place that maps
// a stable wire discriminator ("group.Kind") to a Go type.
type KnownTypesRegistry interface {
	AddKnownTypes(g Group, types ...Object)
	AddKnownTypeWithName(gk GroupKind, obj Object)
	NewObject(gk GroupKind) (Object, error)
	// NewObjectByName instantiates a registered type by its wire discriminator
	NewObjectByName(name string) (Object, error)
	ObjectKind(object Object) (*GroupKind, error)
}

func NewKnownTypesRegistry() KnownTypesRegistry {
	return &knownTypesRegistry{
		gkToType: map[GroupKind]reflect.Type{},
		typeToGK: map[reflect.Type]GroupKind{},
		nameToGK: map[string]GroupKind{},
	}
}

type knownTypesRegistry struct {
	// gkToType allows one to figure out the go type of an object with the given group and kind.
	gkToType map[GroupKind]reflect.Type
	// typeToGK allows one to find metadata for a given go object.
	// The reflect.Type we index by should *not* be a pointer.
	typeToGK map[reflect.Type]GroupKind
	nameToGK map[string]GroupKind
}

func (r *knownTypesRegistry) AddKnownTypes(g Group, types ...Object) {
	for _, obj := range types {
		structType := GetStructType(obj)
		r.addKnownTypeWithName(GroupKind{
			Group: g,
			Kind:  structType.Name(),
		}, obj, structType)
	}
}

func (r *knownTypesRegistry) AddKnownTypeWithName(gk GroupKind, obj Object) {
	structType := GetStructType(obj)
	r.addKnownTypeWithName(gk, obj, structType)
}

func (r *knownTypesRegistry) NewObject(gk GroupKind) (Object, error) {
	t, exists := r.gkToType[gk]

	if !exists {
		return nil, errors.Errorf("type %s is not registered in KnownTypes", gk.String())
	}

	return reflect.New(t).Interface().(Object), nil
}

func (r *knownTypesRegistry) NewObjectByName(name string) (Object, error) {
	gk, exists := r.nameToGK[name]

	if !exists {
		return nil, errors.Errorf("no type is registered in schema for name %s", name)
	}

	return r.NewObject(gk)
}

func (r *knownTypesRegistry) ObjectKind(obj Object) (*GroupKind, error) {
	structType := GetStructType(obj)
	gk, ok := r.typeToGK[structType]
	if !ok {
		return nil, errors.Errorf("no kind is registered in schema for the type %s", structType.Name())
	}

	if gk.Empty() {
		return nil, errors.Errorf("empty GK returned")
	}

	return &gk, nil
}

func (r *knownTypesRegistry) addKnownTypeWithName(gk GroupKind, obj Object, structType reflect.Type) {
	if len(gk.Group) == 0 {
		panic(fmt.Sprintf("group is required on all types: %s %v", gk, structType))
	}

	if oldT, found := r.gkToType[gk]; found && oldT != structType {
		panic(fmt.Sprintf("Double registration of different types for %v: old=%v.%v, new=%v.%v", gk, oldT.PkgPath(), oldT.Name(), structType.PkgPath(), structType.Name()))
	}

	r.gkToType[gk] = structType
	r.typeToGK[structType] = gk
	r.nameToGK[gk.Identifier()] = gk
	obj.SetGroupKind(&gk)
}

// GetStructType returns the non-pointer struct type of an object
func GetStructType(obj Object) reflect.Type {
	structType := reflect.TypeOf(obj)

	if structType.Kind() != reflect.Ptr {
		structType = reflect.PtrTo(structType)
	}

	structType = structType.Elem()
	if structType.Kind() != reflect.Struct {
		panic("all types must be pointers to structs")
	}

	if hasDeepEmbeddedGK(structType) {
		panic("struct embeds another struct implementing Object on the first level. implement Object explicitly by embedding ObjectMeta")
	}

	return structType
}

var objectType = reflect.TypeOf((*Object)(nil)).Elem()

func hasDeepEmbeddedGK(structType reflect.Type) bool {
	for i := 0; i < structType.NumField(); i++ {
		if fieldType := structType.Field(i).Type; fieldType.Kind() == reflect.Struct {
			if fieldType.Implements(objectType) {
				return true
			}
		}
	}

	return false
}
