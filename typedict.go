package objgraph

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/vmihailenco/msgpack/v5"
)

// TypeDictionary assigns IDs to layouts. Entities carry the ID of the
// layout they were written with; the dictionary travels with them (in a
// message, or persisted next to the entities) so readers can decode every
// entity, including those written with older layouts.
type TypeDictionary struct {
	guard   RWGuard
	byID    map[uint64]*TypeDescriptor
	byPrint map[uint64][]*TypeDescriptor
	pending []*TypeDescriptor
	lastID  uint64
}

func NewTypeDictionary() *TypeDictionary {
	return &TypeDictionary{
		byID:    make(map[uint64]*TypeDescriptor),
		byPrint: make(map[uint64][]*TypeDescriptor),
	}
}

// Ensure returns the dictionary's descriptor for layout, assigning a new ID
// if the layout has not been seen.
func (d *TypeDictionary) Ensure(layout *TypeDescriptor) *TypeDescriptor {
	if desc := ReadValue(&d.guard, func() *TypeDescriptor { return d.find_locked(layout) }); desc != nil {
		return desc
	}
	return WriteValue(&d.guard, func() *TypeDescriptor {
		if desc := d.find_locked(layout); desc != nil {
			return desc
		}
		d.lastID++
		desc := layout.withID(d.lastID)
		d.add_locked(desc)
		d.pending = append(d.pending, desc)
		return desc
	})
}

func (d *TypeDictionary) find_locked(layout *TypeDescriptor) *TypeDescriptor {
	for _, desc := range d.byPrint[layout.Fingerprint()] {
		if desc.SameLayout(layout) {
			return desc
		}
	}
	return nil
}

func (d *TypeDictionary) add_locked(desc *TypeDescriptor) {
	d.byID[desc.ID] = desc
	d.byPrint[desc.Fingerprint()] = append(d.byPrint[desc.Fingerprint()], desc)
}

// Add inserts a descriptor read from outside. Re-adding an identical
// descriptor is a no-op; reusing an ID for another layout is an error.
func (d *TypeDictionary) Add(desc *TypeDescriptor) error {
	desc.finalize()
	if err := desc.validate(); err != nil {
		return err
	}
	var err error
	d.guard.Write(func() {
		if prev := d.byID[desc.ID]; prev != nil {
			if !prev.SameLayout(desc) {
				err = fmt.Errorf("type ID %d is %s, cannot redefine as %s", desc.ID, prev, desc)
			}
			return
		}
		d.add_locked(desc)
		d.lastID = max(d.lastID, desc.ID)
	})
	return err
}

func (d *TypeDictionary) Lookup(id uint64) (*TypeDescriptor, bool) {
	d.guard.mu.RLock()
	defer d.guard.mu.RUnlock()
	desc, ok := d.byID[id]
	return desc, ok
}

// Drain returns the descriptors assigned by Ensure since the previous
// Drain, in ID order.
func (d *TypeDictionary) Drain() []*TypeDescriptor {
	return WriteValue(&d.guard, func() []*TypeDescriptor {
		result := d.pending
		d.pending = nil
		return result
	})
}

// Undrain puts descriptors back as pending, after a failed write.
func (d *TypeDictionary) Undrain(descs []*TypeDescriptor) {
	d.guard.Write(func() {
		d.pending = append(descs, d.pending...)
	})
}

// All returns every descriptor in ID order.
func (d *TypeDictionary) All() []*TypeDescriptor {
	result := ReadValue(&d.guard, func() []*TypeDescriptor {
		result := make([]*TypeDescriptor, 0, len(d.byID))
		for _, desc := range d.byID {
			result = append(result, desc)
		}
		return result
	})
	slices.SortFunc(result, func(a, b *TypeDescriptor) int { return cmp.Compare(a.ID, b.ID) })
	return result
}

func (d *TypeDictionary) Len() int {
	return ReadValue(&d.guard, func() int { return len(d.byID) })
}

func encodeDictionary(descs []*TypeDescriptor) ([]byte, error) {
	if descs == nil {
		descs = []*TypeDescriptor{}
	}
	return msgpack.Marshal(descs)
}

func decodeDictionary(data []byte) ([]*TypeDescriptor, error) {
	var descs []*TypeDescriptor
	if err := msgpack.Unmarshal(data, &descs); err != nil {
		return nil, formatErrf(data, 0, err, "invalid type dictionary")
	}
	for _, desc := range descs {
		if desc == nil {
			return nil, formatErrf(data, 0, nil, "nil type descriptor in dictionary")
		}
	}
	return descs, nil
}

// loadDictionary decodes data into a fresh dictionary.
func loadDictionary(data []byte) (*TypeDictionary, error) {
	dict := NewTypeDictionary()
	descs, err := decodeDictionary(data)
	if err != nil {
		return nil, err
	}
	for _, desc := range descs {
		if err := dict.Add(desc); err != nil {
			return nil, formatErrf(data, 0, err, "invalid type dictionary")
		}
	}
	return dict, nil
}
