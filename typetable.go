package objgraph

import (
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"strings"
)

type TypeTableOptions struct {
	// AutoRegister derives handlers for struct types that were never
	// registered, using their Go names.
	AutoRegister bool

	// Similarity ranks cross-type member matches for legacy mapping.
	// Defaults to DefaultTypeMapping().
	Similarity *TypeMapping

	Mapping MappingOptions
	Logger  *slog.Logger
	Metrics *Metrics
}

// TypeTable maps Go types to their handlers. Struct types are registered
// explicitly; handlers for strings, primitives, slices, maps, pointers to
// primitives, big numbers, times and lazy references are derived on first
// use. It also holds the explicit legacy mappings and legacy updaters.
type TypeTable struct {
	guard        RWGuard
	byType       map[reflect.Type]TypeHandler
	byName       map[string]TypeHandler
	names        map[reflect.Type]string
	explicit     map[string]map[string]string
	newMembers   map[string][]string
	updaters     map[string]legacyUpdater
	autoRegister bool
	mapper       *LegacyMapper
	logger       *slog.Logger
}

func NewTypeTable(opts TypeTableOptions) *TypeTable {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Similarity == nil {
		opts.Similarity = DefaultTypeMapping()
	}
	tt := &TypeTable{
		byType:       make(map[reflect.Type]TypeHandler),
		byName:       make(map[string]TypeHandler),
		names:        make(map[reflect.Type]string),
		explicit:     make(map[string]map[string]string),
		newMembers:   make(map[string][]string),
		updaters:     make(map[string]legacyUpdater),
		autoRegister: opts.AutoRegister,
		logger:       opts.Logger,
	}
	tt.mapper = newLegacyMapper(opts.Similarity, opts.Mapping, opts.Logger, opts.Metrics)
	return tt
}

// RegisterType registers struct type T (or a named non-struct type) under
// name; an empty name uses the Go type name. Both T and *T become
// storable. Panics on types that cannot be laid out, or if the name is
// already taken by another type.
func RegisterType[T any](tt *TypeTable, name string) {
	t := reflect.TypeFor[T]()
	tt.guard.Write(func() {
		tt.register_locked(t, name)
	})
}

// RegisterHandler installs a custom handler, replacing any derived one.
func (tt *TypeTable) RegisterHandler(h TypeHandler) {
	tt.guard.Write(func() {
		tt.add_locked(h)
		tt.names[h.Type()] = h.Layout().Name
	})
}

// RegisterLegacyMapping maps a member of a legacy layout of typeName to a
// member of the current type. An empty currentMember discards the legacy
// member explicitly.
func (tt *TypeTable) RegisterLegacyMapping(typeName, legacyMember, currentMember string) {
	tt.guard.Write(func() {
		m := tt.explicit[typeName]
		if m == nil {
			m = make(map[string]string)
			tt.explicit[typeName] = m
		}
		m[legacyMember] = currentMember
	})
}

// RegisterNewMember declares that a member of the current typeName has no
// legacy counterpart and must start out zero.
func (tt *TypeTable) RegisterNewMember(typeName, member string) {
	tt.guard.Write(func() {
		tt.newMembers[typeName] = append(tt.newMembers[typeName], member)
	})
}

func (tt *TypeTable) NameOf(t reflect.Type) string {
	return ReadValue(&tt.guard, func() string {
		return tt.nameOf_locked(t)
	})
}

func (tt *TypeTable) register_locked(t reflect.Type, name string) {
	if name == "" {
		name = t.String()
	}
	if prev := tt.byName[name]; prev != nil && prev.Type() != t && prev.Type() != reflect.PointerTo(t) {
		panic(fmt.Errorf("type name %q already registered for %v", name, prev.Type()))
	}
	if t.Kind() != reflect.Struct {
		tt.names[t] = name
		h, err := tt.derive_locked(t)
		if err != nil {
			panic(err)
		}
		tt.add_locked(h)
		return
	}
	if t == timeType || isLazyStruct(t) || t.PkgPath() == "math/big" {
		panic(fmt.Errorf("%v cannot be registered as a struct type", t))
	}
	pt := reflect.PointerTo(t)
	tt.names[t] = name
	vh := &structHandler{baseHandler: baseHandler{typ: t}, elem: t}
	ph := &structHandler{baseHandler: baseHandler{typ: pt}, elem: t, byPtr: true}
	tt.add_locked(vh)
	tt.add_locked(ph)
	tt.byName[name] = vh
	tt.byName["*"+name] = ph

	planned := false
	defer func() {
		if !planned {
			delete(tt.names, t)
			delete(tt.byType, t)
			delete(tt.byType, pt)
			delete(tt.byName, name)
			delete(tt.byName, "*"+name)
		}
	}()
	members, plans := tt.planStruct_locked(t)
	planned = true
	vh.layout, vh.plans = newTypeDescriptor(name, members), plans
	ph.layout, ph.plans = newTypeDescriptor("*"+name, members), plans
}

func (tt *TypeTable) add_locked(h TypeHandler) {
	tt.byType[h.Type()] = h
	if l := h.Layout(); l != nil {
		tt.byName[l.Name] = h
	}
}

// prepareRef_locked derives the handler of a referenced field type ahead of
// time so that its name is known when loading. Interfaces and types that
// cannot be derived yet are skipped; storing them reports the error.
func (tt *TypeTable) prepareRef_locked(t reflect.Type) {
	if t.Kind() == reflect.Interface || tt.byType[t] != nil {
		return
	}
	if t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct && !isLazyStruct(t.Elem()) && t != bigIntPtrType && t != bigFloatPtrType {
		return
	}
	if h, err := tt.derive_locked(t); err == nil {
		tt.add_locked(h)
	}
}

// HandlerFor returns the handler for values of Go type t.
func (tt *TypeTable) HandlerFor(t reflect.Type) (TypeHandler, error) {
	h := ReadValue(&tt.guard, func() TypeHandler { return tt.byType[t] })
	if h != nil {
		return h, nil
	}
	var err error
	tt.guard.Write(func() {
		h, err = tt.handlerFor_locked(t)
	})
	return h, err
}

func (tt *TypeTable) handlerFor_locked(t reflect.Type) (TypeHandler, error) {
	if h := tt.byType[t]; h != nil {
		return h, nil
	}
	if tt.autoRegister {
		st := t
		if st.Kind() == reflect.Pointer {
			st = st.Elem()
		}
		if st.Kind() == reflect.Struct && st != timeType && !isLazyStruct(st) && st.PkgPath() != "math/big" {
			if _, registered := tt.names[st]; !registered {
				tt.register_locked(st, "")
				return tt.byType[t], nil
			}
		}
	}
	h, err := tt.derive_locked(t)
	if err != nil {
		return nil, err
	}
	tt.add_locked(h)
	return h, nil
}

// HandlerByName returns the handler whose layout is named name, deriving
// it from the name if possible.
func (tt *TypeTable) HandlerByName(name string) (TypeHandler, error) {
	h := ReadValue(&tt.guard, func() TypeHandler { return tt.byName[name] })
	if h != nil {
		return h, nil
	}
	var err error
	tt.guard.Write(func() {
		if h = tt.byName[name]; h != nil {
			return
		}
		t := tt.resolveName_locked(name)
		if t == nil {
			err = &UnhandledTypeError{TypeName: name, Msg: "no type registered under this name"}
			return
		}
		h, err = tt.handlerFor_locked(t)
	})
	return h, err
}

// derive_locked builds a handler for a type that needs no registration.
func (tt *TypeTable) derive_locked(t reflect.Type) (TypeHandler, error) {
	name := tt.nameOf_locked(t)
	if e, ok := primElem(t); ok {
		return newBoxedHandler(t, name, e), nil
	}
	switch t.Kind() {
	case reflect.String:
		return newStringHandler(t, name), nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return newBytesHandler(t, name), nil
		}
		tt.prepareRef_locked(t.Elem())
		return newSliceHandler(t, name, tt.nameOf_locked(t.Elem())), nil
	case reflect.Map:
		tt.prepareRef_locked(t.Key())
		tt.prepareRef_locked(t.Elem())
		return newMapHandler(t, name, tt.nameOf_locked(t.Key()), tt.nameOf_locked(t.Elem())), nil
	case reflect.Pointer:
		switch {
		case t == bigIntPtrType:
			return newBigIntHandler(name), nil
		case t == bigFloatPtrType:
			return newBigFloatHandler(name), nil
		case isLazyPtr(t):
			st := reflect.New(t.Elem()).Interface().(lazyReference).subjectType()
			tt.prepareRef_locked(st)
			return newLazyHandler(t, name, tt.nameOf_locked(st)), nil
		}
		if h, ok := newPtrValueHandler(t, name); ok {
			return h, nil
		}
	}
	return nil, &UnhandledTypeError{GoType: t, TypeName: name, Msg: "register the type before storing it"}
}

// handlerForStored picks the handler for entities written with desc: the
// current handler if the layouts agree, otherwise a legacy handler that
// translates the old layout.
func (tt *TypeTable) handlerForStored(desc *TypeDescriptor) (TypeHandler, error) {
	h, err := tt.HandlerByName(desc.Name)
	if err != nil {
		return nil, &UnhandledTypeError{TypeID: desc.ID, TypeName: desc.Name, Msg: err.Error()}
	}
	if h.Layout().SameLayout(desc) {
		return h, nil
	}
	baseName := strings.TrimPrefix(desc.Name, "*")
	var explicit map[string]string
	var newMembers []string
	var updater legacyUpdater
	tt.guard.Read(func() {
		explicit = maps.Clone(tt.explicit[baseName])
		newMembers = slices.Clone(tt.newMembers[baseName])
		updater = tt.updaters[baseName]
	})
	return tt.mapper.legacyHandler(desc, h, explicit, newMembers, updater)
}
