package serializer

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// TypeRegistry is a concurrent ITypeResolver backed by two xsync maps.
// Pointer types resolve to the identifier of their element type, values are
// always decoded as the registered (non-pointer) type
type TypeRegistry struct {
	mu     sync.Mutex // serializes registrations, lookups are lock free
	byName *xsync.MapOf[string, reflect.Type]
	byType *xsync.MapOf[reflect.Type, string]
}

// NewTypeRegistry creates a registry with the builtin scalar types already registered
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{
		byName: xsync.NewMapOf[string, reflect.Type](),
		byType: xsync.NewMapOf[reflect.Type, string](),
	}

	// builtin types (registration can not fail on an empty registry)
	_ = RegisterType[string](r, "string")
	_ = RegisterType[[]byte](r, "bytes")
	_ = RegisterType[bool](r, "bool")
	_ = RegisterType[int](r, "int")
	_ = RegisterType[int32](r, "int32")
	_ = RegisterType[int64](r, "int64")
	_ = RegisterType[uint64](r, "uint64")
	_ = RegisterType[float64](r, "float64")
	_ = RegisterType[map[string]any](r, "map")

	return r
}

// RegisterType registers T under name
func RegisterType[T any](r *TypeRegistry, name string) error {
	return r.Register(name, reflect.TypeOf((*T)(nil)).Elem())
}

// Register registers t under name.
// Registering the same pair twice is a no-op, conflicting registrations return an error
func (r *TypeRegistry) Register(name string, t reflect.Type) error {
	if name == "" {
		return fmt.Errorf("serializer: empty type name")
	}
	if len(name) > 0xFFFF {
		return fmt.Errorf("serializer: type name %q too long", name[:32])
	}
	t = baseType(t)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName.Load(name); ok && existing != t {
		return fmt.Errorf("serializer: name %q already registered for %s", name, existing)
	}
	if existing, ok := r.byType.Load(t); ok && existing != name {
		return fmt.Errorf("serializer: type %s already registered as %q", t, existing)
	}
	r.byName.Store(name, t)
	r.byType.Store(t, name)
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.ITypeResolver)
// --------------------------------------------------------------------------

func (r *TypeRegistry) TypeID(t reflect.Type) ([]byte, bool) {
	if t == nil {
		return nil, false
	}
	name, ok := r.byType.Load(baseType(t))
	if !ok {
		return nil, false
	}
	return []byte(name), true
}

func (r *TypeRegistry) Resolve(id []byte) (reflect.Type, bool) {
	return r.byName.Load(string(id))
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// baseType strips one level of pointer indirection
func baseType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}
