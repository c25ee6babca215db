package objgraph

import (
	"fmt"
	"reflect"
)

// identityKey identifies an instance that has reference semantics. Two
// slices are the same instance only if they share a backing array start
// and length.
type identityKey struct {
	typ reflect.Type
	ptr uintptr
	len int
}

func identityOf(v reflect.Value) (identityKey, bool) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Map:
		if v.IsNil() {
			return identityKey{}, false
		}
		return identityKey{v.Type(), v.Pointer(), 0}, true
	case reflect.Slice:
		if v.IsNil() {
			return identityKey{}, false
		}
		return identityKey{v.Type(), v.Pointer(), v.Len()}, true
	}
	return identityKey{}, false
}

// ObjectRegistry maps object IDs to instances and back. IDs are assigned
// monotonically starting from 1; only instances with identity are
// remembered.
type ObjectRegistry struct {
	guard  RWGuard
	byKey  map[identityKey]ObjectID
	byID   map[ObjectID]reflect.Value
	lastID ObjectID
}

func NewObjectRegistry() *ObjectRegistry {
	return &ObjectRegistry{
		byKey: make(map[identityKey]ObjectID),
		byID:  make(map[ObjectID]reflect.Value),
	}
}

// EnsureID returns the ID of v, assigning the next one if v is new. Values
// without identity get a fresh ID on every call and are not remembered.
func (r *ObjectRegistry) EnsureID(v reflect.Value) (oid ObjectID, isNew bool) {
	key, hasIdentity := identityOf(v)
	if hasIdentity {
		if oid := ReadValue(&r.guard, func() ObjectID { return r.byKey[key] }); oid != NilObjectID {
			return oid, false
		}
	}
	r.guard.Write(func() {
		if hasIdentity {
			if existing := r.byKey[key]; existing != NilObjectID {
				oid = existing
				return
			}
		}
		r.lastID++
		oid, isNew = r.lastID, true
		if hasIdentity {
			r.byKey[key] = oid
			r.byID[oid] = v
		}
	})
	return oid, isNew
}

// LookupID returns the ID of v if it has been registered.
func (r *ObjectRegistry) LookupID(v reflect.Value) (ObjectID, bool) {
	key, ok := identityOf(v)
	if !ok {
		return NilObjectID, false
	}
	oid := ReadValue(&r.guard, func() ObjectID { return r.byKey[key] })
	return oid, oid != NilObjectID
}

func (r *ObjectRegistry) Instance(oid ObjectID) (reflect.Value, bool) {
	r.guard.mu.RLock()
	defer r.guard.mu.RUnlock()
	v, ok := r.byID[oid]
	return v, ok
}

// Register binds a loaded instance to its ID. Registering a different
// instance under a taken ID is an error.
func (r *ObjectRegistry) Register(oid ObjectID, v reflect.Value) error {
	if oid == NilObjectID {
		return fmt.Errorf("cannot register an instance under the nil object ID")
	}
	key, hasIdentity := identityOf(v)
	var err error
	r.guard.Write(func() {
		err = r.register_locked(oid, key, hasIdentity, v)
	})
	return err
}

func (r *ObjectRegistry) register_locked(oid ObjectID, key identityKey, hasIdentity bool, v reflect.Value) error {
	if prev, ok := r.byID[oid]; ok {
		if pk, _ := identityOf(prev); hasIdentity && pk == key {
			return nil
		}
		return fmt.Errorf("object ID %d already bound to another %v", oid, prev.Type())
	}
	if hasIdentity {
		if prev := r.byKey[key]; prev != NilObjectID && prev != oid {
			return fmt.Errorf("instance already registered as %d, cannot rebind to %d", prev, oid)
		}
		r.byKey[key] = oid
	}
	r.byID[oid] = v
	r.lastID = max(r.lastID, oid)
	return nil
}

// Publish registers a batch of loaded instances atomically: either all of
// them are bound or none.
func (r *ObjectRegistry) Publish(instances map[ObjectID]reflect.Value) error {
	var err error
	r.guard.Write(func() {
		for oid, v := range instances {
			if prev, ok := r.byID[oid]; ok {
				pk, _ := identityOf(prev)
				if k, has := identityOf(v); !has || pk != k {
					err = fmt.Errorf("object ID %d already bound to another %v", oid, prev.Type())
					return
				}
			}
		}
		for oid, v := range instances {
			key, hasIdentity := identityOf(v)
			err = r.register_locked(oid, key, hasIdentity, v)
			if err != nil {
				return
			}
		}
	})
	return err
}

// Forget unbinds the given IDs. The IDs themselves are not reused.
func (r *ObjectRegistry) Forget(oids ...ObjectID) {
	r.guard.Write(func() {
		for _, oid := range oids {
			v, ok := r.byID[oid]
			if !ok {
				continue
			}
			delete(r.byID, oid)
			if key, has := identityOf(v); has && r.byKey[key] == oid {
				delete(r.byKey, key)
			}
		}
	})
}

func (r *ObjectRegistry) LastID() ObjectID {
	return ReadValue(&r.guard, func() ObjectID { return r.lastID })
}

// SetLastID raises the ID counter so that the next assigned ID is above
// id. It never lowers it.
func (r *ObjectRegistry) SetLastID(id ObjectID) {
	r.guard.Write(func() {
		r.lastID = max(r.lastID, id)
	})
}

// Len returns the number of remembered instances.
func (r *ObjectRegistry) Len() int {
	return ReadValue(&r.guard, func() int { return len(r.byID) })
}
