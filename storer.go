package objgraph

import (
	"fmt"
	"reflect"
)

type queuedObject struct {
	oid ObjectID
	v   reflect.Value
}

type storedEntity struct {
	oid        ObjectID
	desc       *TypeDescriptor
	start, end int
}

type pendingLazy struct {
	lr  lazyReference
	oid ObjectID
}

// storer encodes an object graph breadth-first. An instance is queued
// exactly when the registry assigns it a new ID, so every instance is
// written at most once per call.
type storer struct {
	tt      *TypeTable
	dict    *TypeDictionary
	reg     *ObjectRegistry
	order   ByteOrder
	metrics *Metrics

	// eagerLazy materializes unloaded lazy subjects so that they travel
	// with the message.
	eagerLazy bool

	// lazyLoader is bound to stored lazy references once the store
	// succeeds; nil leaves lazy references untouched.
	lazyLoader ObjectLoader
	onLazy     func(lazyReference)

	queue    []queuedObject
	buf      []byte
	entities []storedEntity
	assigned []ObjectID
	lazies   []pendingLazy
}

func (s *storer) ref(v reflect.Value) (ObjectID, error) {
	for v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			return NilObjectID, nil
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return NilObjectID, nil
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return NilObjectID, nil
		}
	}
	oid, isNew := s.reg.EnsureID(v)
	if isNew {
		s.assigned = append(s.assigned, oid)
		s.queue = append(s.queue, queuedObject{oid, v})
	}
	return oid, nil
}

// storeRoot stores v and everything newly reachable from it. With force,
// v itself is written even if it already has an ID.
func (s *storer) storeRoot(v reflect.Value, force bool) (ObjectID, error) {
	for v.IsValid() && v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	before := len(s.queue)
	oid, err := s.ref(v)
	if err != nil || oid == NilObjectID {
		return oid, err
	}
	if force && len(s.queue) == before {
		s.queue = append(s.queue, queuedObject{oid, v})
	}
	return oid, s.drain()
}

func (s *storer) drain() error {
	for len(s.queue) > 0 {
		q := s.queue[0]
		s.queue = s.queue[1:]
		if err := s.storeOne(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *storer) storeOne(q queuedObject) error {
	h, err := s.tt.HandlerFor(q.v.Type())
	if err != nil {
		return err
	}
	fields, err := h.Store(q.v, &FieldStore{s})
	if err != nil {
		return fmt.Errorf("storing object %d: %w", q.oid, err)
	}
	desc := s.dict.Ensure(h.Layout())
	start := len(s.buf)
	s.buf, err = EncodeEntity(s.buf, desc, q.oid, fields, s.order)
	if err != nil {
		return err
	}
	s.entities = append(s.entities, storedEntity{q.oid, desc, start, len(s.buf)})
	s.metrics.entityStored(desc.Name)
	return nil
}

func (s *storer) attachLazy(lr lazyReference, oid ObjectID) {
	if s.lazyLoader != nil {
		s.lazies = append(s.lazies, pendingLazy{lr, oid})
	}
}

func (s *storer) entityBytes(e storedEntity) []byte {
	return s.buf[e.start:e.end]
}

// commitLazies binds stored lazy references to their subjects' IDs. Call it
// only after the entities have been persisted.
func (s *storer) commitLazies() {
	for _, p := range s.lazies {
		p.lr.lazyAttach(p.oid, s.lazyLoader)
		if s.onLazy != nil {
			s.onLazy(p.lr)
		}
	}
	s.lazies = nil
}

// rollback forgets the IDs assigned during a failed store.
func (s *storer) rollback() {
	s.reg.Forget(s.assigned...)
	s.assigned = nil
	s.lazies = nil
}
