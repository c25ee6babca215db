package objgraph

import (
	"fmt"
)

const entityHeaderSize = 24

// nilListCount marks a nil slice in a variable section; no elements follow.
const nilListCount = ^uint64(0)

// FieldValue is the decoded form of one member. Fixed references use Word;
// everything else uses Raw, which always holds canonical little-endian
// bytes (packed element slots for variable sections).
type FieldValue struct {
	Word uint64
	Raw  []byte
	Nil  bool

	// boxed carries an already materialized instance produced by a legacy
	// value translator; it takes precedence over Word.
	boxed any
}

// Len returns the number of elements of a variable section value.
func (fv FieldValue) Len(m *MemberDescriptor) int {
	w := m.SlotWidth()
	if w == 0 {
		return 0
	}
	return len(fv.Raw) / w
}

// Entity is one decoded instance: header plus field values in the order of
// the descriptor it was decoded with.
type Entity struct {
	Length   uint64
	TypeID   uint64
	ObjectID uint64
	Fields   []FieldValue
}

type entityHeader struct {
	Length   uint64
	TypeID   uint64
	ObjectID uint64
}

func readEntityHeader(data []byte, r entityReader) (entityHeader, error) {
	if len(data) < entityHeaderSize {
		return entityHeader{}, formatErrf(data, 0, nil, "entity header needs %d bytes, got %d", entityHeaderSize, len(data))
	}
	return entityHeader{
		Length:   r.Uint64(data[0:]),
		TypeID:   r.Uint64(data[8:]),
		ObjectID: r.Uint64(data[16:]),
	}, nil
}

// EncodeEntity appends one entity to buf. The fixed section is written at
// the offsets precomputed in desc, followed by each variable section.
func EncodeEntity(buf []byte, desc *TypeDescriptor, oid ObjectID, fields []FieldValue, order ByteOrder) ([]byte, error) {
	if len(fields) != len(desc.Members) {
		return buf, fmt.Errorf("%s: got %d field values for %d members", desc.Name, len(fields), len(desc.Members))
	}
	bb := bytesBuilder{Buf: buf, Order: order}
	start := bb.Grow(entityHeaderSize + desc.fixedSize)
	fixed := start + entityHeaderSize
	for i := range desc.Members {
		m := &desc.Members[i]
		fv := &fields[i]
		if m.Kind != MemberFixed {
			continue
		}
		if m.Elem.Ref {
			bb.PutUint64(fixed+m.Offset, fv.Word)
		} else {
			if len(fv.Raw) != m.Elem.Width {
				return buf, fmt.Errorf("%s.%s: value has %d bytes, wanted %d", desc.Name, m.Name, len(fv.Raw), m.Elem.Width)
			}
			bb.PutUnits(fixed+m.Offset, fv.Raw, m.Elem.Unit)
		}
	}
	for i := range desc.Members {
		m := &desc.Members[i]
		fv := &fields[i]
		if m.Kind == MemberFixed {
			continue
		}
		if fv.Nil {
			bb.AppendUint64(nilListCount)
			continue
		}
		w := m.SlotWidth()
		if len(fv.Raw)%w != 0 {
			return buf, fmt.Errorf("%s.%s: %d bytes is not a multiple of slot width %d", desc.Name, m.Name, len(fv.Raw), w)
		}
		n := len(fv.Raw) / w
		bb.AppendUint64(uint64(n))
		off := bb.Grow(len(fv.Raw))
		if m.Kind == MemberEntries && bb.Order == BigEndian {
			kw := m.Elem.Width
			for j := 0; j < n; j++ {
				p := j * w
				bb.PutUnits(off+p, fv.Raw[p:p+kw], m.Elem.Unit)
				bb.PutUnits(off+p+kw, fv.Raw[p+kw:p+w], m.Value.Unit)
			}
		} else {
			bb.PutUnits(off, fv.Raw, m.Elem.Unit)
		}
	}
	bb.PutUint64(start, uint64(len(bb.Buf)-start))
	bb.PutUint64(start+8, desc.ID)
	bb.PutUint64(start+16, oid)
	return bb.Buf, nil
}

// DecodeEntity decodes exactly one entity. Every variable section is checked
// against the declared length before any element is read, so a bad count
// fails with ErrInvalidListLayout rather than reading past the entity.
func DecodeEntity(data []byte, desc *TypeDescriptor, order ByteOrder) (*Entity, error) {
	r := readerFor(order)
	h, err := readEntityHeader(data, r)
	if err != nil {
		return nil, err
	}
	if h.Length != uint64(len(data)) {
		return nil, formatErrf(data, 0, nil, "entity length %d does not match %d available bytes", h.Length, len(data))
	}
	if desc.ID != 0 && h.TypeID != desc.ID {
		return nil, formatErrf(data, 8, nil, "entity type ID %d, wanted %d (%s)", h.TypeID, desc.ID, desc.Name)
	}
	end := len(data)
	fixed := entityHeaderSize
	if fixed+desc.fixedSize > end {
		return nil, formatErrf(data, fixed, nil, "%s: fixed section needs %d bytes, entity has %d", desc.Name, desc.fixedSize, end-fixed)
	}

	e := &Entity{Length: h.Length, TypeID: h.TypeID, ObjectID: h.ObjectID, Fields: make([]FieldValue, len(desc.Members))}
	for i := range desc.Members {
		m := &desc.Members[i]
		if m.Kind != MemberFixed {
			continue
		}
		src := data[fixed+m.Offset : fixed+m.Offset+m.Elem.Width]
		if m.Elem.Ref {
			e.Fields[i].Word = r.Uint64(src)
		} else {
			raw := make([]byte, len(src))
			r.Units(raw, src, m.Elem.Unit)
			e.Fields[i].Raw = raw
		}
	}

	off := fixed + desc.fixedSize
	for i := range desc.Members {
		m := &desc.Members[i]
		if m.Kind == MemberFixed {
			continue
		}
		if off+8 > end {
			return nil, formatErrf(data, off, nil, "%s.%s: missing element count", desc.Name, m.Name)
		}
		count := r.Uint64(data[off:])
		off += 8
		if count == nilListCount {
			e.Fields[i].Nil = true
			continue
		}
		w := uint64(m.SlotWidth())
		if count > uint64(end-off)/w {
			return nil, formatErrf(data, off-8, ErrInvalidListLayout, "%s.%s: %d elements of %d bytes exceed entity length %d", desc.Name, m.Name, count, w, h.Length)
		}
		n := int(count * w)
		src := data[off : off+n]
		raw := make([]byte, n)
		if m.Kind == MemberEntries {
			kw, sw := m.Elem.Width, int(w)
			for p := 0; p < n; p += sw {
				r.Units(raw[p:p+kw], src[p:p+kw], m.Elem.Unit)
				r.Units(raw[p+kw:p+sw], src[p+kw:p+sw], m.Value.Unit)
			}
		} else {
			r.Units(raw, src, m.Elem.Unit)
		}
		e.Fields[i].Raw = raw
		off += n
	}
	if off != end {
		return nil, formatErrf(data, off, nil, "%s: %d trailing bytes after last member", desc.Name, end-off)
	}
	return e, nil
}

// scanEntities splits a concatenation of entities using only their headers.
func scanEntities(data []byte, order ByteOrder) ([][]byte, error) {
	r := readerFor(order)
	var result [][]byte
	for off := 0; off < len(data); {
		h, err := readEntityHeader(data[off:], r)
		if err != nil {
			return nil, formatErrf(data, off, err, "truncated entity header")
		}
		if h.Length < entityHeaderSize || h.Length > uint64(len(data)-off) {
			return nil, formatErrf(data, off, nil, "entity length %d out of range (%d bytes remaining)", h.Length, len(data)-off)
		}
		n := int(h.Length)
		result = append(result, data[off:off+n])
		off += n
	}
	return result, nil
}
