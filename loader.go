package objgraph

import (
	"fmt"
	"reflect"
)

type entityState uint8

const (
	entityDecoded entityState = iota
	entityCreated
	entityPopulating
	entityPopulated
	entityCompleted
)

type loadEntry struct {
	e     *Entity
	desc  *TypeDescriptor
	h     TypeHandler
	inst  reflect.Value
	state entityState
}

// loader rebuilds instances from entities in phases: every entity is
// created before any is populated, and completed only after all are
// populated. Complete runs in reverse creation order, so containers
// created first (usually the ones holding the rest) complete last.
//
// In message mode all entities are known up front and an unknown object ID
// is a format violation. In fetch mode (a store) unknown IDs are looked up
// among already published instances and then fetched.
type loader struct {
	tt      *TypeTable
	dict    *TypeDictionary
	order   ByteOrder
	metrics *Metrics

	entries map[ObjectID]*loadEntry
	created []*loadEntry

	// existing returns an instance published by an earlier load.
	existing func(oid ObjectID) (reflect.Value, bool)
	// fetch returns the raw entity stored under oid, or nil if absent.
	fetch func(oid ObjectID) ([]byte, error)

	objectLoader ObjectLoader
	onLazy       func(lazyReference)
}

func newLoader(tt *TypeTable, dict *TypeDictionary, order ByteOrder) *loader {
	return &loader{
		tt:      tt,
		dict:    dict,
		order:   order,
		entries: make(map[ObjectID]*loadEntry),
	}
}

// add decodes one raw entity and queues it.
func (l *loader) add(data []byte) (*loadEntry, error) {
	hdr, err := readEntityHeader(data, readerFor(l.order))
	if err != nil {
		return nil, err
	}
	if hdr.ObjectID == NilObjectID {
		return nil, formatErrf(data, 16, nil, "entity with nil object ID")
	}
	if l.entries[hdr.ObjectID] != nil {
		return nil, formatErrf(data, 16, nil, "duplicate object ID %d", hdr.ObjectID)
	}
	desc, ok := l.dict.Lookup(hdr.TypeID)
	if !ok {
		return nil, formatErrf(data, 8, nil, "unknown type ID %d", hdr.TypeID)
	}
	h, err := l.tt.handlerForStored(desc)
	if err != nil {
		return nil, err
	}
	e, err := DecodeEntity(data, desc, l.order)
	if err != nil {
		return nil, err
	}
	en := &loadEntry{e: e, desc: desc, h: h}
	l.entries[hdr.ObjectID] = en
	l.metrics.entityLoaded(desc.Name)
	return en, nil
}

func (l *loader) context() *LoadContext {
	return &LoadContext{l}
}

func (l *loader) create(en *loadEntry) error {
	inst, err := en.h.Create(en.e, l.context())
	if err != nil {
		return fmt.Errorf("creating %s %d: %w", en.desc.Name, en.e.ObjectID, err)
	}
	en.inst, en.state = inst, entityCreated
	l.created = append(l.created, en)
	return nil
}

func (l *loader) populate(en *loadEntry) error {
	en.state = entityPopulating
	if err := en.h.UpdateState(en.e, en.inst, l.context()); err != nil {
		return fmt.Errorf("loading %s %d: %w", en.desc.Name, en.e.ObjectID, err)
	}
	en.state = entityPopulated
	return nil
}

func (l *loader) resolve(oid ObjectID) (reflect.Value, error) {
	if oid == NilObjectID {
		return reflect.Value{}, nil
	}
	en := l.entries[oid]
	if en == nil {
		if l.existing != nil {
			if inst, ok := l.existing(oid); ok {
				return inst, nil
			}
		}
		if l.fetch == nil {
			return reflect.Value{}, formatErrf(nil, 0, nil, "reference to unknown object %d", oid)
		}
		data, err := l.fetch(oid)
		if err != nil {
			return reflect.Value{}, err
		}
		if data == nil {
			return reflect.Value{}, formatErrf(nil, 0, nil, "reference to missing object %d", oid)
		}
		en, err = l.add(data)
		if err != nil {
			return reflect.Value{}, err
		}
		if en.e.ObjectID != oid {
			return reflect.Value{}, formatErrf(data, 16, nil, "fetched object %d, got %d", oid, en.e.ObjectID)
		}
	}
	if en.state < entityCreated {
		if err := l.create(en); err != nil {
			return reflect.Value{}, err
		}
	}
	if en.h.IsValue() && en.state < entityPopulated {
		if en.state == entityPopulating {
			return reflect.Value{}, formatErrf(nil, 0, nil, "object %d (%s) is a value that contains itself", oid, en.desc.Name)
		}
		if err := l.populate(en); err != nil {
			return reflect.Value{}, err
		}
	}
	return en.inst, nil
}

// run finishes the load: creates entities that are still only decoded (in
// the given order), populates everything and completes in reverse. Entries
// a Complete call pulls in are handled in a further round.
func (l *loader) run(order []*loadEntry) error {
	for _, en := range order {
		if en.state < entityCreated {
			if err := l.create(en); err != nil {
				return err
			}
		}
	}
	for start := 0; start < len(l.created); {
		// populating may fetch and create more entries
		for i := start; i < len(l.created); i++ {
			if en := l.created[i]; en.state < entityPopulated {
				if err := l.populate(en); err != nil {
					return err
				}
			}
		}
		end := len(l.created)
		for i := end - 1; i >= start; i-- {
			en := l.created[i]
			if err := en.h.Complete(en.e, en.inst, l.context()); err != nil {
				return fmt.Errorf("completing %s %d: %w", en.desc.Name, en.e.ObjectID, err)
			}
			en.state = entityCompleted
		}
		start = end
	}
	return nil
}

// identities returns the loaded instances that have identity, for
// publishing into a long-lived registry.
func (l *loader) identities() map[ObjectID]reflect.Value {
	result := make(map[ObjectID]reflect.Value, len(l.created))
	for _, en := range l.created {
		if _, ok := identityOf(en.inst); ok && !en.h.IsValue() {
			result[en.e.ObjectID] = en.inst
		}
	}
	return result
}

// LoadObject serves lazy references bound during a message load.
func (l *loader) LoadObject(oid ObjectID) (any, error) {
	if oid == NilObjectID {
		return nil, nil
	}
	en := l.entries[oid]
	if en == nil || en.state != entityCompleted {
		return nil, fmt.Errorf("object %d is not part of the message", oid)
	}
	return en.inst.Interface(), nil
}
