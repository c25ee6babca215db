package objgraph

import (
	"fmt"
	"reflect"
)

// translatingHandler loads entities written with a legacy layout of a
// registered struct, translating each matched member into the current one.
// New members stay zero and discarded members are ignored; a discarded
// reference is never resolved.
type translatingHandler struct {
	current *structHandler
	result  *LegacyMappingResult
	sources []int
	skip    []bool
}

func newTranslatingHandler(current *structHandler, result *LegacyMappingResult) *translatingHandler {
	n := len(result.Current.Members)
	h := &translatingHandler{
		current: current,
		result:  result,
		sources: make([]int, n),
		skip:    make([]bool, n),
	}
	for ci := range h.sources {
		h.sources[ci] = result.SourceOf(ci)
		h.skip[ci] = h.sources[ci] < 0
	}
	return h
}

func (h *translatingHandler) Type() reflect.Type      { return h.current.Type() }
func (h *translatingHandler) Layout() *TypeDescriptor { return h.result.Legacy }
func (h *translatingHandler) IsValue() bool           { return h.current.IsValue() }

func (h *translatingHandler) Store(v reflect.Value, fs *FieldStore) ([]FieldValue, error) {
	return nil, fmt.Errorf("%s: legacy layouts are read-only", h.result.Legacy.Name)
}

func (h *translatingHandler) Create(e *Entity, lc *LoadContext) (reflect.Value, error) {
	return h.current.Create(e, lc)
}

func (h *translatingHandler) UpdateState(e *Entity, inst reflect.Value, lc *LoadContext) error {
	fields := make([]FieldValue, len(h.sources))
	for ci, li := range h.sources {
		if li < 0 {
			continue
		}
		fv, err := h.result.translators[ci](e.Fields[li], lc)
		if err != nil {
			return legacyErrf(h.result.Current.Name, h.result.Current.Members[ci].Name, err, "translating legacy %s", h.result.Legacy.Members[li].Name)
		}
		fields[ci] = fv
	}
	return h.current.applyFields(inst, fields, h.skip, lc)
}

func (h *translatingHandler) Complete(e *Entity, inst reflect.Value, lc *LoadContext) error {
	return h.current.Complete(e, inst, lc)
}

type legacyUpdater func(rec *LegacyRecord, inst reflect.Value) error

// RegisterLegacyUpdater installs fn as the loader of every legacy layout of
// typeName, bypassing automatic mapping. fn receives the old member values
// and a blank current instance to fill in.
func RegisterLegacyUpdater[T any](tt *TypeTable, typeName string, fn func(rec *LegacyRecord, obj *T) error) {
	tt.guard.Write(func() {
		tt.updaters[typeName] = func(rec *LegacyRecord, inst reflect.Value) error {
			if inst.Kind() != reflect.Pointer {
				inst = inst.Addr()
			}
			obj, ok := inst.Interface().(*T)
			if !ok {
				return fmt.Errorf("legacy updater for %s wants %v, got %v", typeName, reflect.TypeFor[*T](), inst.Type())
			}
			return fn(rec, obj)
		}
	})
}

type customLegacyHandler struct {
	current *structHandler
	legacy  *TypeDescriptor
	update  legacyUpdater
}

func (h *customLegacyHandler) Type() reflect.Type      { return h.current.Type() }
func (h *customLegacyHandler) Layout() *TypeDescriptor { return h.legacy }
func (h *customLegacyHandler) IsValue() bool           { return h.current.IsValue() }

func (h *customLegacyHandler) Store(v reflect.Value, fs *FieldStore) ([]FieldValue, error) {
	return nil, fmt.Errorf("%s: legacy layouts are read-only", h.legacy.Name)
}

func (h *customLegacyHandler) Create(e *Entity, lc *LoadContext) (reflect.Value, error) {
	return h.current.Create(e, lc)
}

func (h *customLegacyHandler) UpdateState(e *Entity, inst reflect.Value, lc *LoadContext) error {
	rec := &LegacyRecord{desc: h.legacy, e: e, lc: lc}
	if err := h.update(rec, inst); err != nil {
		return legacyErrf(h.legacy.Name, "", err, "legacy updater failed")
	}
	return nil
}

func (h *customLegacyHandler) Complete(e *Entity, inst reflect.Value, lc *LoadContext) error {
	return h.current.Complete(e, inst, lc)
}

// LegacyRecord exposes the member values of an entity written with a legacy
// layout, by legacy member name.
type LegacyRecord struct {
	desc *TypeDescriptor
	e    *Entity
	lc   *LoadContext
}

func (r *LegacyRecord) Descriptor() *TypeDescriptor {
	return r.desc
}

func (r *LegacyRecord) ObjectID() ObjectID {
	return r.e.ObjectID
}

func (r *LegacyRecord) Has(name string) bool {
	return r.desc.MemberIndex(name) >= 0
}

func (r *LegacyRecord) member(name string) (*MemberDescriptor, FieldValue, error) {
	i := r.desc.MemberIndex(name)
	if i < 0 {
		return nil, FieldValue{}, fmt.Errorf("legacy %s has no member %q", r.desc.Name, name)
	}
	return &r.desc.Members[i], r.e.Fields[i], nil
}

// Decode stores the value of a legacy member into *dst. Primitives convert
// to any numeric dst, byte lists decode into strings or byte slices, and
// references resolve to their instances.
func (r *LegacyRecord) Decode(name string, dst any) error {
	m, fv, err := r.member(name)
	if err != nil {
		return err
	}
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("decode %s: destination must be a non-nil pointer, got %T", name, dst)
	}
	dv = dv.Elem()

	switch {
	case m.Kind == MemberFixed && m.Elem.Ref:
		return refCodec{}.load(dv, fv, r.lc)
	case m.Kind == MemberFixed:
		de, ok := primElem(dv.Type())
		if !ok || !primConvertible(m.Elem.Primitive, de.Primitive) {
			return fmt.Errorf("decode %s: cannot convert %s into %v", name, m.TypeName, dv.Type())
		}
		raw := make([]byte, de.Width)
		convertPrim(raw, de.Primitive, fv.Raw, m.Elem.Primitive)
		getPrim(raw, dv)
		return nil
	case m.Kind == MemberList && m.Elem == byteElem && dv.Kind() == reflect.String:
		return stringCodec{}.load(dv, fv, r.lc)
	case m.Kind == MemberList && m.Elem == byteElem && dv.Kind() == reflect.Slice && dv.Type().Elem().Kind() == reflect.Uint8:
		return bytesCodec{}.load(dv, fv, r.lc)
	case m.Kind == MemberList && m.Elem.Ref && dv.Kind() == reflect.Slice:
		return refListCodec{}.load(dv, fv, r.lc)
	case m.Kind == MemberList && dv.Kind() == reflect.Slice:
		if de, ok := primElem(dv.Type().Elem()); ok && de == m.Elem {
			return primListCodec{m.Elem}.load(dv, fv, r.lc)
		}
	}
	return fmt.Errorf("decode %s: cannot load %s %s into %v", name, m.Kind, m.TypeName, dv.Type())
}

func (r *LegacyRecord) String(name string) (string, error) {
	var s string
	err := r.Decode(name, &s)
	return s, err
}

func (r *LegacyRecord) Int(name string) (int64, error) {
	var v int64
	err := r.Decode(name, &v)
	return v, err
}

func (r *LegacyRecord) Float(name string) (float64, error) {
	var v float64
	err := r.Decode(name, &v)
	return v, err
}

// Ref returns the instance a legacy reference member points to, or nil.
func (r *LegacyRecord) Ref(name string) (any, error) {
	var v any
	err := r.Decode(name, &v)
	return v, err
}
