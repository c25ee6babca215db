package objgraph

import (
	"fmt"
	"reflect"
)

// TypeHandler stores and reconstructs instances of one Go type.
//
// Loading is split into phases so that cyclic graphs can be rebuilt without
// a topological order: Create returns a blank instance that is registered
// under its object ID right away, UpdateState fills it in (references
// resolve to possibly blank instances), and Complete runs once every
// instance of the load has been populated.
type TypeHandler interface {
	Type() reflect.Type

	// Layout returns the descriptor of this handler's binary layout. The
	// returned descriptor has no ID.
	Layout() *TypeDescriptor

	// IsValue reports whether instances are copied by value into their
	// referrers. Such instances must be populated before anyone resolves
	// them.
	IsValue() bool

	Store(v reflect.Value, fs *FieldStore) ([]FieldValue, error)
	Create(e *Entity, lc *LoadContext) (reflect.Value, error)
	UpdateState(e *Entity, inst reflect.Value, lc *LoadContext) error
	Complete(e *Entity, inst reflect.Value, lc *LoadContext) error
}

// FieldStore is handed to TypeHandler.Store to turn references into object
// IDs. Referenced instances that are new to the registry get queued for
// storing.
type FieldStore struct {
	s *storer
}

func (fs *FieldStore) Ref(v reflect.Value) (ObjectID, error) {
	return fs.s.ref(v)
}

// LoadContext is handed to the load phases of a TypeHandler.
type LoadContext struct {
	l *loader
}

// Resolve returns the instance registered under oid, creating a blank one
// if needed. Value-like instances are returned fully populated. An invalid
// reflect.Value is returned for NilObjectID.
func (lc *LoadContext) Resolve(oid ObjectID) (reflect.Value, error) {
	return lc.l.resolve(oid)
}

// ObjectLoader returns the loader lazy references use to materialize their
// subjects later.
func (lc *LoadContext) ObjectLoader() ObjectLoader {
	return lc.l.objectLoader
}

func (lc *LoadContext) bindLazy(lr lazyReference, oid ObjectID) {
	lr.lazyBind(oid, lc.l.objectLoader)
	if lc.l.onLazy != nil {
		lc.l.onLazy(lr)
	}
}

// assignInstance stores a resolved instance into a field, slice element or
// map value.
func assignInstance(dst, inst reflect.Value) error {
	if !inst.IsValid() {
		dst.SetZero()
		return nil
	}
	it, dt := inst.Type(), dst.Type()
	if it.AssignableTo(dt) {
		dst.Set(inst)
		return nil
	}
	if dt.Kind() != reflect.Interface && it.Kind() == dt.Kind() && it.ConvertibleTo(dt) {
		dst.Set(inst.Convert(dt))
		return nil
	}
	return fmt.Errorf("cannot assign %v to %v", it, dt)
}

// baseHandler holds the parts every handler has.
type baseHandler struct {
	typ    reflect.Type
	layout *TypeDescriptor
}

func (h *baseHandler) Type() reflect.Type      { return h.typ }
func (h *baseHandler) Layout() *TypeDescriptor { return h.layout }

func (h *baseHandler) UpdateState(e *Entity, inst reflect.Value, lc *LoadContext) error {
	return nil
}

func (h *baseHandler) Complete(e *Entity, inst reflect.Value, lc *LoadContext) error {
	return nil
}
