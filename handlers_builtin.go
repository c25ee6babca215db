package objgraph

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math/big"
	"reflect"
	"slices"
)

var (
	bigIntPtrType   = reflect.TypeFor[*big.Int]()
	bigFloatPtrType = reflect.TypeFor[*big.Float]()
)

func singleMember(name, typeName string, kind MemberKind, elem Elem) *TypeDescriptor {
	return newTypeDescriptor(name, []MemberDescriptor{{Name: "value", TypeName: typeName, Kind: kind, Elem: elem}})
}

// boxedHandler stores a primitive, a primitive array or a time.Time that is
// referenced on its own, e.g. held in an interface.
type boxedHandler struct {
	baseHandler
	elem Elem
}

func newBoxedHandler(t reflect.Type, name string, elem Elem) *boxedHandler {
	return &boxedHandler{baseHandler{t, singleMember(name, name, MemberFixed, elem)}, elem}
}

func (h *boxedHandler) IsValue() bool { return true }

func (h *boxedHandler) Store(v reflect.Value, fs *FieldStore) ([]FieldValue, error) {
	fv, err := primCodec{h.elem}.store(v, fs)
	return []FieldValue{fv}, err
}

func (h *boxedHandler) Create(e *Entity, lc *LoadContext) (reflect.Value, error) {
	v := reflect.New(h.typ).Elem()
	return v, primCodec{h.elem}.load(v, e.Fields[0], lc)
}

type stringHandler struct {
	baseHandler
}

func newStringHandler(t reflect.Type, name string) *stringHandler {
	return &stringHandler{baseHandler{t, singleMember(name, name, MemberList, byteElem)}}
}

func (h *stringHandler) IsValue() bool { return true }

func (h *stringHandler) Store(v reflect.Value, fs *FieldStore) ([]FieldValue, error) {
	return []FieldValue{{Raw: []byte(v.String())}}, nil
}

func (h *stringHandler) Create(e *Entity, lc *LoadContext) (reflect.Value, error) {
	v := reflect.New(h.typ).Elem()
	v.SetString(string(e.Fields[0].Raw))
	return v, nil
}

type bytesHandler struct {
	baseHandler
}

func newBytesHandler(t reflect.Type, name string) *bytesHandler {
	return &bytesHandler{baseHandler{t, singleMember(name, name, MemberList, byteElem)}}
}

func (h *bytesHandler) IsValue() bool { return false }

func (h *bytesHandler) Store(v reflect.Value, fs *FieldStore) ([]FieldValue, error) {
	fv, err := bytesCodec{}.store(v, fs)
	return []FieldValue{fv}, err
}

func (h *bytesHandler) Create(e *Entity, lc *LoadContext) (reflect.Value, error) {
	v := reflect.New(h.typ).Elem()
	return v, bytesCodec{}.load(v, e.Fields[0], lc)
}

// ptrValueHandler stores pointers to primitives and strings (*int32,
// *string). The pointer itself carries identity.
type ptrValueHandler struct {
	baseHandler
	codec fieldCodec
}

func newPtrValueHandler(t reflect.Type, name string) (*ptrValueHandler, bool) {
	et := t.Elem()
	if e, ok := primElem(et); ok {
		return &ptrValueHandler{baseHandler{t, singleMember(name, name, MemberFixed, e)}, primCodec{e}}, true
	}
	if et.Kind() == reflect.String {
		return &ptrValueHandler{baseHandler{t, singleMember(name, name, MemberList, byteElem)}, stringCodec{}}, true
	}
	return nil, false
}

func (h *ptrValueHandler) IsValue() bool { return false }

func (h *ptrValueHandler) Store(v reflect.Value, fs *FieldStore) ([]FieldValue, error) {
	fv, err := h.codec.store(v.Elem(), fs)
	return []FieldValue{fv}, err
}

func (h *ptrValueHandler) Create(e *Entity, lc *LoadContext) (reflect.Value, error) {
	p := reflect.New(h.typ.Elem())
	return p, h.codec.load(p.Elem(), e.Fields[0], lc)
}

// sliceHandler stores a slice that is an entity of its own: one held in an
// interface or nested in another slice or map.
type sliceHandler struct {
	baseHandler
	elem Elem
}

func newSliceHandler(t reflect.Type, name, elemName string) *sliceHandler {
	elem := refElem
	if e, ok := primElem(t.Elem()); ok {
		elem = e
	}
	layout := newTypeDescriptor(name, []MemberDescriptor{{Name: "elements", TypeName: elemName, Kind: MemberList, Elem: elem}})
	return &sliceHandler{baseHandler{t, layout}, elem}
}

func (h *sliceHandler) IsValue() bool { return false }

func (h *sliceHandler) Store(v reflect.Value, fs *FieldStore) ([]FieldValue, error) {
	var fv FieldValue
	var err error
	if h.elem.Ref {
		fv, err = refListCodec{}.store(v, fs)
	} else {
		fv, err = primListCodec{h.elem}.store(v, fs)
	}
	return []FieldValue{fv}, err
}

func (h *sliceHandler) Create(e *Entity, lc *LoadContext) (reflect.Value, error) {
	fv := e.Fields[0]
	if fv.Nil {
		return reflect.Zero(h.typ), nil
	}
	n := len(fv.Raw) / h.elem.Width
	s := reflect.MakeSlice(h.typ, n, n)
	if !h.elem.Ref {
		for i := 0; i < n; i++ {
			getPrim(fv.Raw[i*h.elem.Width:], s.Index(i))
		}
	}
	return s, nil
}

func (h *sliceHandler) UpdateState(e *Entity, inst reflect.Value, lc *LoadContext) error {
	if !h.elem.Ref || e.Fields[0].Nil {
		return nil
	}
	return loadRefElems(inst, e.Fields[0].Raw, lc)
}

func (h *sliceHandler) Complete(e *Entity, inst reflect.Value, lc *LoadContext) error {
	return nil
}

// mapHandler stores maps as a list of key/value slots. Entries are only
// inserted in the Complete phase, once every key has its real value.
type mapHandler struct {
	baseHandler
	key, val Elem
}

func newMapHandler(t reflect.Type, name, keyName, valueName string) *mapHandler {
	key, val := refElem, refElem
	if e, ok := primElem(t.Key()); ok {
		key = e
	}
	if e, ok := primElem(t.Elem()); ok {
		val = e
	}
	layout := newTypeDescriptor(name, []MemberDescriptor{{
		Name:     "entries",
		TypeName: keyName + ":" + valueName,
		Kind:     MemberEntries,
		Elem:     key,
		Value:    val,
	}})
	return &mapHandler{baseHandler{t, layout}, key, val}
}

func (h *mapHandler) IsValue() bool { return false }

func (h *mapHandler) Store(v reflect.Value, fs *FieldStore) ([]FieldValue, error) {
	keys := v.MapKeys()
	sortMapKeys(keys)
	kw, w := h.key.Width, h.key.Width+h.val.Width
	raw := make([]byte, len(keys)*w)
	for i, k := range keys {
		if err := storeSlot(raw[i*w:i*w+kw], h.key, k, fs); err != nil {
			return nil, fmt.Errorf("key %v: %w", k, err)
		}
		if err := storeSlot(raw[i*w+kw:(i+1)*w], h.val, v.MapIndex(k), fs); err != nil {
			return nil, fmt.Errorf("value at %v: %w", k, err)
		}
	}
	return []FieldValue{{Raw: raw}}, nil
}

func (h *mapHandler) Create(e *Entity, lc *LoadContext) (reflect.Value, error) {
	return reflect.MakeMapWithSize(h.typ, e.Fields[0].Len(&h.layout.Members[0])), nil
}

// UpdateState resolves referenced keys and values without inserting them,
// so that a store load fetches them while the populate phase is still running.
func (h *mapHandler) UpdateState(e *Entity, inst reflect.Value, lc *LoadContext) error {
	if !h.key.Ref && !h.val.Ref {
		return nil
	}
	raw := e.Fields[0].Raw
	kw, w := h.key.Width, h.key.Width+h.val.Width
	for off := 0; off+w <= len(raw); off += w {
		if h.key.Ref {
			if _, err := lc.Resolve(binary.LittleEndian.Uint64(raw[off:])); err != nil {
				return err
			}
		}
		if h.val.Ref {
			if _, err := lc.Resolve(binary.LittleEndian.Uint64(raw[off+kw:])); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *mapHandler) Complete(e *Entity, inst reflect.Value, lc *LoadContext) error {
	raw := e.Fields[0].Raw
	kw, w := h.key.Width, h.key.Width+h.val.Width
	for off := 0; off+w <= len(raw); off += w {
		k, err := loadSlot(raw[off:off+kw], h.key, h.typ.Key(), lc)
		if err != nil {
			return err
		}
		v, err := loadSlot(raw[off+kw:off+w], h.val, h.typ.Elem(), lc)
		if err != nil {
			return err
		}
		inst.SetMapIndex(k, v)
	}
	return nil
}

func storeSlot(dst []byte, elem Elem, v reflect.Value, fs *FieldStore) error {
	if !elem.Ref {
		putPrim(dst, v)
		return nil
	}
	oid, err := fs.Ref(v)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(dst, oid)
	return nil
}

func loadSlot(src []byte, elem Elem, typ reflect.Type, lc *LoadContext) (reflect.Value, error) {
	v := reflect.New(typ).Elem()
	if !elem.Ref {
		getPrim(src, v)
		return v, nil
	}
	inst, err := lc.Resolve(binary.LittleEndian.Uint64(src))
	if err != nil {
		return v, err
	}
	return v, assignInstance(v, inst)
}

// sortMapKeys orders keys of ordered kinds so that equal maps encode to
// equal bytes.
func sortMapKeys(keys []reflect.Value) {
	if len(keys) < 2 {
		return
	}
	switch keys[0].Kind() {
	case reflect.String:
		slices.SortFunc(keys, func(a, b reflect.Value) int { return cmp.Compare(a.String(), b.String()) })
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		slices.SortFunc(keys, func(a, b reflect.Value) int { return cmp.Compare(a.Int(), b.Int()) })
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		slices.SortFunc(keys, func(a, b reflect.Value) int { return cmp.Compare(a.Uint(), b.Uint()) })
	case reflect.Float32, reflect.Float64:
		slices.SortFunc(keys, func(a, b reflect.Value) int { return cmp.Compare(a.Float(), b.Float()) })
	case reflect.Bool:
		slices.SortFunc(keys, func(a, b reflect.Value) int {
			if a.Bool() == b.Bool() {
				return 0
			} else if b.Bool() {
				return -1
			}
			return 1
		})
	}
}

type bigIntHandler struct {
	baseHandler
}

func newBigIntHandler(name string) *bigIntHandler {
	layout := newTypeDescriptor(name, []MemberDescriptor{
		{Name: "neg", TypeName: "bool", Kind: MemberFixed, Elem: Elem{Width: 1, Unit: 1, Primitive: "bool"}},
		{Name: "abs", TypeName: "[]byte", Kind: MemberList, Elem: byteElem},
	})
	return &bigIntHandler{baseHandler{bigIntPtrType, layout}}
}

func (h *bigIntHandler) IsValue() bool { return false }

func (h *bigIntHandler) Store(v reflect.Value, fs *FieldStore) ([]FieldValue, error) {
	b := v.Interface().(*big.Int)
	neg := []byte{0}
	if b.Sign() < 0 {
		neg[0] = 1
	}
	return []FieldValue{{Raw: neg}, {Raw: b.Bytes()}}, nil
}

func (h *bigIntHandler) Create(e *Entity, lc *LoadContext) (reflect.Value, error) {
	if len(e.Fields[0].Raw) != 1 {
		return reflect.Value{}, fmt.Errorf("big.Int sign has %d bytes", len(e.Fields[0].Raw))
	}
	b := new(big.Int).SetBytes(e.Fields[1].Raw)
	if e.Fields[0].Raw[0] != 0 {
		b.Neg(b)
	}
	return reflect.ValueOf(b), nil
}

type bigFloatHandler struct {
	baseHandler
}

func newBigFloatHandler(name string) *bigFloatHandler {
	return &bigFloatHandler{baseHandler{bigFloatPtrType, singleMember(name, "[]byte", MemberList, byteElem)}}
}

func (h *bigFloatHandler) IsValue() bool { return false }

func (h *bigFloatHandler) Store(v reflect.Value, fs *FieldStore) ([]FieldValue, error) {
	data, err := v.Interface().(*big.Float).GobEncode()
	if err != nil {
		return nil, err
	}
	return []FieldValue{{Raw: data}}, nil
}

func (h *bigFloatHandler) Create(e *Entity, lc *LoadContext) (reflect.Value, error) {
	f := new(big.Float)
	if err := f.GobDecode(e.Fields[0].Raw); err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(f), nil
}
