package objgraph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ObjectID identifies an instance within one registry. Zero is the nil
// reference.
type ObjectID = uint64

const NilObjectID ObjectID = 0

const referenceWidth = 8

type MemberKind uint8

const (
	// MemberFixed is a single value or reference stored in the fixed section.
	MemberFixed MemberKind = iota + 1
	// MemberList is a variable section of count + element slots.
	MemberList
	// MemberEntries is a variable section of count + key/value slot pairs.
	MemberEntries
)

func (k MemberKind) String() string {
	switch k {
	case MemberFixed:
		return "fixed"
	case MemberList:
		return "list"
	case MemberEntries:
		return "entries"
	default:
		return "kind" + strconv.Itoa(int(k))
	}
}

// Elem describes one slot: either Width bytes of value data (byte-swapped
// in Unit-sized granules) or an 8-byte object ID when Ref is set.
type Elem struct {
	Ref       bool   `msgpack:"r,omitempty"`
	Width     int    `msgpack:"w"`
	Unit      int    `msgpack:"u"`
	Primitive string `msgpack:"p,omitempty"`
}

var refElem = Elem{Ref: true, Width: referenceWidth, Unit: referenceWidth}

func (e Elem) String() string {
	if e.Ref {
		return "ref"
	}
	if e.Primitive != "" {
		return e.Primitive
	}
	return fmt.Sprintf("raw%d/%d", e.Width, e.Unit)
}

type MemberDescriptor struct {
	Name     string     `msgpack:"n"`
	TypeName string     `msgpack:"t"`
	Kind     MemberKind `msgpack:"k"`
	Elem     Elem       `msgpack:"e"`
	Value    Elem       `msgpack:"v"`

	// Offset within the fixed section, computed by finalize.
	Offset int `msgpack:"-"`
}

func (m *MemberDescriptor) IsVariable() bool {
	return m.Kind != MemberFixed
}

// SlotWidth is the byte width of one element of the member.
func (m *MemberDescriptor) SlotWidth() int {
	if m.Kind == MemberEntries {
		return m.Elem.Width + m.Value.Width
	}
	return m.Elem.Width
}

// HasReferences reports whether the member's bytes contain object IDs.
func (m *MemberDescriptor) HasReferences() bool {
	return m.Elem.Ref || (m.Kind == MemberEntries && m.Value.Ref)
}

func (m *MemberDescriptor) String() string {
	switch m.Kind {
	case MemberEntries:
		return fmt.Sprintf("%s %s entries[%v]%v", m.Name, m.TypeName, m.Elem, m.Value)
	case MemberList:
		return fmt.Sprintf("%s %s list[%v]", m.Name, m.TypeName, m.Elem)
	default:
		return fmt.Sprintf("%s %s @%d %v", m.Name, m.TypeName, m.Offset, m.Elem)
	}
}

// TypeDescriptor is the binary layout of one type: its name and its ordered
// members. A descriptor produced by a handler has no ID; a TypeDictionary
// assigns one.
type TypeDescriptor struct {
	ID      uint64             `msgpack:"id"`
	Name    string             `msgpack:"name"`
	Members []MemberDescriptor `msgpack:"members"`

	fixedSize   int
	fingerprint uint64
	byName      map[string]int
}

func newTypeDescriptor(name string, members []MemberDescriptor) *TypeDescriptor {
	d := &TypeDescriptor{Name: name, Members: members}
	d.finalize()
	return d
}

// finalize computes the offset table and fingerprint. Fixed members are laid
// out in declaration order, each right after the previous one.
func (d *TypeDescriptor) finalize() {
	off := 0
	d.byName = make(map[string]int, len(d.Members))
	h := xxhash.New()
	h.WriteString(d.Name)
	for i := range d.Members {
		m := &d.Members[i]
		if m.Kind == MemberFixed {
			m.Offset = off
			off += m.Elem.Width
		} else {
			m.Offset = -1
		}
		d.byName[m.Name] = i
		fmt.Fprintf(h, "|%s|%s|%d|%v|%d|%d|%s|%v|%d|%d|%s", m.Name, m.TypeName, m.Kind,
			m.Elem.Ref, m.Elem.Width, m.Elem.Unit, m.Elem.Primitive,
			m.Value.Ref, m.Value.Width, m.Value.Unit, m.Value.Primitive)
	}
	d.fixedSize = off
	d.fingerprint = h.Sum64()
}

func (d *TypeDescriptor) FixedSize() int {
	return d.fixedSize
}

// Fingerprint identifies the layout (name and members) independently of ID.
func (d *TypeDescriptor) Fingerprint() uint64 {
	return d.fingerprint
}

func (d *TypeDescriptor) SameLayout(o *TypeDescriptor) bool {
	if d.fingerprint != o.fingerprint || d.Name != o.Name || len(d.Members) != len(o.Members) {
		return false
	}
	for i := range d.Members {
		a, b := &d.Members[i], &o.Members[i]
		if a.Name != b.Name || a.TypeName != b.TypeName || a.Kind != b.Kind || a.Elem != b.Elem || a.Value != b.Value {
			return false
		}
	}
	return true
}

func (d *TypeDescriptor) MemberIndex(name string) int {
	if i, ok := d.byName[name]; ok {
		return i
	}
	return -1
}

func (d *TypeDescriptor) withID(id uint64) *TypeDescriptor {
	c := &TypeDescriptor{
		ID:          id,
		Name:        d.Name,
		Members:     d.Members,
		fixedSize:   d.fixedSize,
		fingerprint: d.fingerprint,
		byName:      d.byName,
	}
	return c
}

func (d *TypeDescriptor) String() string {
	var buf strings.Builder
	if d.ID != 0 {
		fmt.Fprintf(&buf, "%d:", d.ID)
	}
	buf.WriteString(d.Name)
	buf.WriteString("{")
	for i := range d.Members {
		if i > 0 {
			buf.WriteString("; ")
		}
		buf.WriteString(d.Members[i].String())
	}
	buf.WriteString("}")
	return buf.String()
}

// validate checks a descriptor that came from outside (a dictionary read
// from storage or from a message).
func (d *TypeDescriptor) validate() error {
	if d.ID == 0 {
		return fmt.Errorf("type %q has zero ID", d.Name)
	}
	if d.Name == "" {
		return fmt.Errorf("type %d has no name", d.ID)
	}
	seen := make(map[string]bool, len(d.Members))
	for i := range d.Members {
		m := &d.Members[i]
		if seen[m.Name] {
			return fmt.Errorf("type %q: duplicate member %q", d.Name, m.Name)
		}
		seen[m.Name] = true
		if err := validateElem(m.Elem); err != nil {
			return fmt.Errorf("type %q member %q: %w", d.Name, m.Name, err)
		}
		switch m.Kind {
		case MemberFixed, MemberList:
		case MemberEntries:
			if err := validateElem(m.Value); err != nil {
				return fmt.Errorf("type %q member %q value: %w", d.Name, m.Name, err)
			}
		default:
			return fmt.Errorf("type %q member %q: invalid kind %d", d.Name, m.Name, m.Kind)
		}
	}
	return nil
}

func validateElem(e Elem) error {
	if e.Ref && (e.Width != referenceWidth || e.Unit != referenceWidth) {
		return fmt.Errorf("reference slot must be %d bytes, got %d/%d", referenceWidth, e.Width, e.Unit)
	}
	if e.Width <= 0 || e.Unit <= 0 || e.Width%e.Unit != 0 {
		return fmt.Errorf("invalid slot width %d / unit %d", e.Width, e.Unit)
	}
	return nil
}
