package objgraph

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"slices"
)

type fieldCodec interface {
	store(f reflect.Value, fs *FieldStore) (FieldValue, error)
	load(f reflect.Value, fv FieldValue, lc *LoadContext) error
}

type primCodec struct {
	elem Elem
}

func (c primCodec) store(f reflect.Value, fs *FieldStore) (FieldValue, error) {
	raw := make([]byte, c.elem.Width)
	putPrim(raw, f)
	return FieldValue{Raw: raw}, nil
}

func (c primCodec) load(f reflect.Value, fv FieldValue, lc *LoadContext) error {
	if len(fv.Raw) != c.elem.Width {
		return fmt.Errorf("value has %d bytes, wanted %d", len(fv.Raw), c.elem.Width)
	}
	getPrim(fv.Raw, f)
	return nil
}

type stringCodec struct{}

func (stringCodec) store(f reflect.Value, fs *FieldStore) (FieldValue, error) {
	return FieldValue{Raw: []byte(f.String())}, nil
}

func (stringCodec) load(f reflect.Value, fv FieldValue, lc *LoadContext) error {
	f.SetString(string(fv.Raw))
	return nil
}

type bytesCodec struct{}

func (bytesCodec) store(f reflect.Value, fs *FieldStore) (FieldValue, error) {
	if f.IsNil() {
		return FieldValue{Nil: true}, nil
	}
	return FieldValue{Raw: slices.Clone(f.Bytes())}, nil
}

func (bytesCodec) load(f reflect.Value, fv FieldValue, lc *LoadContext) error {
	if fv.Nil {
		f.SetZero()
		return nil
	}
	if fv.Raw == nil {
		fv.Raw = []byte{}
	}
	f.SetBytes(fv.Raw)
	return nil
}

type primListCodec struct {
	elem Elem
}

func (c primListCodec) store(f reflect.Value, fs *FieldStore) (FieldValue, error) {
	if f.IsNil() {
		return FieldValue{Nil: true}, nil
	}
	n, w := f.Len(), c.elem.Width
	raw := make([]byte, n*w)
	for i := 0; i < n; i++ {
		putPrim(raw[i*w:], f.Index(i))
	}
	return FieldValue{Raw: raw}, nil
}

func (c primListCodec) load(f reflect.Value, fv FieldValue, lc *LoadContext) error {
	if fv.Nil {
		f.SetZero()
		return nil
	}
	w := c.elem.Width
	n := len(fv.Raw) / w
	s := reflect.MakeSlice(f.Type(), n, n)
	for i := 0; i < n; i++ {
		getPrim(fv.Raw[i*w:], s.Index(i))
	}
	f.Set(s)
	return nil
}

type refCodec struct{}

func (refCodec) store(f reflect.Value, fs *FieldStore) (FieldValue, error) {
	oid, err := fs.Ref(f)
	return FieldValue{Word: oid}, err
}

func (refCodec) load(f reflect.Value, fv FieldValue, lc *LoadContext) error {
	if fv.boxed != nil {
		return assignInstance(f, reflect.ValueOf(fv.boxed))
	}
	inst, err := lc.Resolve(fv.Word)
	if err != nil {
		return err
	}
	return assignInstance(f, inst)
}

type refListCodec struct{}

func (refListCodec) store(f reflect.Value, fs *FieldStore) (FieldValue, error) {
	if f.IsNil() {
		return FieldValue{Nil: true}, nil
	}
	n := f.Len()
	raw := make([]byte, n*referenceWidth)
	for i := 0; i < n; i++ {
		oid, err := fs.Ref(f.Index(i))
		if err != nil {
			return FieldValue{}, fmt.Errorf("[%d]: %w", i, err)
		}
		binary.LittleEndian.PutUint64(raw[i*referenceWidth:], oid)
	}
	return FieldValue{Raw: raw}, nil
}

func (refListCodec) load(f reflect.Value, fv FieldValue, lc *LoadContext) error {
	if fv.Nil {
		f.SetZero()
		return nil
	}
	n := len(fv.Raw) / referenceWidth
	s := reflect.MakeSlice(f.Type(), n, n)
	if err := loadRefElems(s, fv.Raw, lc); err != nil {
		return err
	}
	f.Set(s)
	return nil
}

func loadRefElems(s reflect.Value, raw []byte, lc *LoadContext) error {
	for i, n := 0, s.Len(); i < n; i++ {
		inst, err := lc.Resolve(binary.LittleEndian.Uint64(raw[i*referenceWidth:]))
		if err != nil {
			return err
		}
		if err := assignInstance(s.Index(i), inst); err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
	}
	return nil
}

type fieldPlan struct {
	index []int
	codec fieldCodec
}

// structHandler handles a registered struct type, either through pointers
// (*T, identity-bearing) or by value (T, e.g. held in an interface or a
// slice). Nested value structs are flattened into dotted member names.
type structHandler struct {
	baseHandler
	elem  reflect.Type
	byPtr bool
	plans []fieldPlan
}

func (h *structHandler) IsValue() bool { return !h.byPtr }

func (h *structHandler) target(v reflect.Value) reflect.Value {
	if h.byPtr {
		return v.Elem()
	}
	return v
}

func (h *structHandler) Store(v reflect.Value, fs *FieldStore) ([]FieldValue, error) {
	s := h.target(v)
	fields := make([]FieldValue, len(h.plans))
	for i, p := range h.plans {
		fv, err := p.codec.store(s.FieldByIndex(p.index), fs)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", h.layout.Name, h.layout.Members[i].Name, err)
		}
		fields[i] = fv
	}
	return fields, nil
}

func (h *structHandler) Create(e *Entity, lc *LoadContext) (reflect.Value, error) {
	p := reflect.New(h.elem)
	if h.byPtr {
		return p, nil
	}
	return p.Elem(), nil
}

func (h *structHandler) UpdateState(e *Entity, inst reflect.Value, lc *LoadContext) error {
	return h.applyFields(inst, e.Fields, nil, lc)
}

func (h *structHandler) Complete(e *Entity, inst reflect.Value, lc *LoadContext) error {
	return nil
}

// applyFields loads field values laid out per h.layout into inst, leaving
// members flagged in skip at their zero value.
func (h *structHandler) applyFields(inst reflect.Value, fields []FieldValue, skip []bool, lc *LoadContext) error {
	s := h.target(inst)
	for i, p := range h.plans {
		if skip != nil && skip[i] {
			continue
		}
		if err := p.codec.load(s.FieldByIndex(p.index), fields[i], lc); err != nil {
			return fmt.Errorf("%s.%s: %w", h.layout.Name, h.layout.Members[i].Name, err)
		}
	}
	return nil
}

// planStruct walks the exported fields of t in declaration order and builds
// the member list and matching field codecs. Unsupported field types panic,
// the same way registering a bad type does.
func (tt *TypeTable) planStruct_locked(t reflect.Type) ([]MemberDescriptor, []fieldPlan) {
	var members []MemberDescriptor
	var plans []fieldPlan
	var walk func(t reflect.Type, prefix string, index []int)
	walk = func(t reflect.Type, prefix string, index []int) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name, skip := parseFieldTag(f)
			if skip {
				continue
			}
			name = prefix + name
			idx := append(slices.Clone(index), i)
			ft := f.Type
			if hasZeroLengthArray(ft) {
				panic(fmt.Errorf("%v.%s: unsupported field type %v", t, f.Name, ft))
			}
			m := MemberDescriptor{Name: name, TypeName: tt.nameOf_locked(ft)}
			var codec fieldCodec

			if e, ok := primElem(ft); ok {
				m.Kind, m.Elem, codec = MemberFixed, e, primCodec{e}
			} else {
				switch ft.Kind() {
				case reflect.String:
					m.Kind, m.Elem, codec = MemberList, byteElem, stringCodec{}
				case reflect.Slice:
					if ft.Elem().Kind() == reflect.Uint8 {
						m.Kind, m.Elem, codec = MemberList, byteElem, bytesCodec{}
					} else if e, ok := primElem(ft.Elem()); ok {
						m.Kind, m.Elem, codec = MemberList, e, primListCodec{e}
					} else {
						tt.prepareRef_locked(ft.Elem())
						m.Kind, m.Elem, codec = MemberList, refElem, refListCodec{}
					}
				case reflect.Pointer, reflect.Map, reflect.Interface:
					tt.prepareRef_locked(ft)
					m.Kind, m.Elem, codec = MemberFixed, refElem, refCodec{}
				case reflect.Struct:
					if isLazyStruct(ft) {
						panic(fmt.Errorf("%v.%s: lazy references must be held as *%v", t, f.Name, ft))
					}
					if ft.PkgPath() == "math/big" {
						panic(fmt.Errorf("%v.%s: %v must be held by pointer", t, f.Name, ft))
					}
					walk(ft, name+".", idx)
					continue
				default:
					panic(fmt.Errorf("%v.%s: unsupported field type %v", t, f.Name, ft))
				}
			}
			members = append(members, m)
			plans = append(plans, fieldPlan{index: idx, codec: codec})
		}
	}
	walk(t, "", nil)
	return members, plans
}

var byteElem = Elem{Width: 1, Unit: 1, Primitive: "uint8"}
