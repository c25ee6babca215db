package objgraph

import (
	"fmt"
	"reflect"
	"sync"
	"time"
)

// ObjectLoader materializes an instance by object ID. Store implements it.
type ObjectLoader interface {
	LoadObject(oid ObjectID) (any, error)
}

// LazyClearController decides whether unused lazy references may currently
// drop their subjects.
type LazyClearController interface {
	AllowClear() bool
}

type LazyClearControllerFunc func() bool

func (f LazyClearControllerFunc) AllowClear() bool { return f() }

type alwaysClear struct{}

func (alwaysClear) AllowClear() bool { return true }

// UsageMarks counts, per user, how many times a value has been marked as in
// use. Users are compared by identity, so they must be comparable (usually
// pointers).
type UsageMarks struct {
	mu    sync.Mutex
	users map[any]int
}

// MarkUsedFor adds a mark for user and returns that user's mark count.
func (m *UsageMarks) MarkUsedFor(user any) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.users == nil {
		m.users = make(map[any]int)
	}
	m.users[user]++
	return m.users[user]
}

// UnmarkUsedFor removes one mark of user and returns the remaining count.
func (m *UsageMarks) UnmarkUsedFor(user any) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.users[user]
	if n <= 1 {
		delete(m.users, user)
		return 0
	}
	m.users[user] = n - 1
	return n - 1
}

func (m *UsageMarks) IsUsed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users) > 0
}

// MarkUnused drops every mark of every user.
func (m *UsageMarks) MarkUnused() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.users)
}

// Lazy is a reference whose subject can be dropped from memory and fetched
// again by object ID. Use *Lazy[T] as a field type.
type Lazy[T any] struct {
	mu         sync.Mutex
	oid        ObjectID
	subject    T
	loaded     bool
	loader     ObjectLoader
	controller LazyClearController
	touched    time.Time
	marks      UsageMarks
}

// MakeLazy wraps an already materialized subject.
func MakeLazy[T any](subject T) *Lazy[T] {
	return &Lazy[T]{subject: subject, loaded: true, touched: time.Now()}
}

// Get returns the subject, loading it if it has been cleared or was never
// materialized.
func (l *Lazy[T]) Get() (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.touched = time.Now()
	if l.loaded {
		return l.subject, nil
	}
	var zero T
	if l.oid == NilObjectID {
		l.loaded = true
		return zero, nil
	}
	if l.loader == nil {
		return zero, fmt.Errorf("lazy reference to %d has no loader", l.oid)
	}
	v, err := l.loader.LoadObject(l.oid)
	if err != nil {
		return zero, err
	}
	subject, ok := v.(T)
	if v != nil && !ok {
		return zero, fmt.Errorf("lazy reference to %d: got %T, wanted %v", l.oid, v, reflect.TypeFor[T]())
	}
	l.subject, l.loaded = subject, true
	return subject, nil
}

// Peek returns the subject only if it is currently materialized.
func (l *Lazy[T]) Peek() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subject, l.loaded
}

func (l *Lazy[T]) IsLoaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

func (l *Lazy[T]) ObjectID() ObjectID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.oid
}

func (l *Lazy[T]) Marks() *UsageMarks {
	return &l.marks
}

func (l *Lazy[T]) SetClearController(c LazyClearController) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.controller = c
}

// Clear drops the subject if nobody has it marked as used, the clear
// controller allows it and the subject can be fetched again. Reports
// whether the subject was dropped. Marks are checked and the subject
// dropped under the marks lock, so a concurrent MarkUsedFor either
// prevents the clear or comes after it.
func (l *Lazy[T]) Clear() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.marks.mu.Lock()
	defer l.marks.mu.Unlock()
	if len(l.marks.users) > 0 {
		return false
	}
	if !l.loaded || l.oid == NilObjectID || l.loader == nil {
		return false
	}
	c := l.controller
	if c == nil {
		c = alwaysClear{}
	}
	if !c.AllowClear() {
		return false
	}
	var zero T
	l.subject, l.loaded = zero, false
	return true
}

func (l *Lazy[T]) lazyState() (ObjectID, reflect.Value, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.oid, reflect.ValueOf(&l.subject).Elem(), l.loaded
}

func (l *Lazy[T]) lazyMaterialize() (reflect.Value, error) {
	subject, err := l.Get()
	return reflect.ValueOf(&subject).Elem(), err
}

// lazyAttach records the subject's object ID after a store, keeping the
// subject materialized.
func (l *Lazy[T]) lazyAttach(oid ObjectID, loader ObjectLoader) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.oid = oid
	if loader != nil {
		l.loader = loader
	}
}

func (l *Lazy[T]) lazyBind(oid ObjectID, loader ObjectLoader) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.oid, l.loader, l.loaded, l.touched = oid, loader, false, time.Now()
}

func (l *Lazy[T]) lastTouched() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.touched
}

func (l *Lazy[T]) subjectType() reflect.Type {
	return reflect.TypeFor[T]()
}

type lazyReference interface {
	lazyState() (ObjectID, reflect.Value, bool)
	lazyMaterialize() (reflect.Value, error)
	lazyAttach(oid ObjectID, loader ObjectLoader)
	lazyBind(oid ObjectID, loader ObjectLoader)
	lastTouched() time.Time
	subjectType() reflect.Type
	Clear() bool
}

var lazyReferenceType = reflect.TypeFor[lazyReference]()

func isLazyStruct(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && reflect.PointerTo(t).Implements(lazyReferenceType)
}

func isLazyPtr(t reflect.Type) bool {
	return t.Kind() == reflect.Pointer && isLazyStruct(t.Elem())
}

// lazyHandler stores only the subject's object ID. An unloaded subject is
// never traversed; a loaded one is stored like any other reference.
type lazyHandler struct {
	baseHandler
}

func newLazyHandler(t reflect.Type, name, subjectName string) *lazyHandler {
	layout := newTypeDescriptor(name, []MemberDescriptor{{Name: "subject", TypeName: subjectName, Kind: MemberFixed, Elem: refElem}})
	return &lazyHandler{baseHandler{t, layout}}
}

func (h *lazyHandler) IsValue() bool { return false }

func (h *lazyHandler) Store(v reflect.Value, fs *FieldStore) ([]FieldValue, error) {
	lr := v.Interface().(lazyReference)
	oid, subject, loaded := lr.lazyState()
	if !loaded && oid != NilObjectID && fs.s.eagerLazy {
		var err error
		subject, err = lr.lazyMaterialize()
		if err != nil {
			return nil, err
		}
		loaded = true
	}
	if loaded {
		var err error
		oid, err = fs.Ref(subject)
		if err != nil {
			return nil, err
		}
		fs.s.attachLazy(lr, oid)
	}
	return []FieldValue{{Word: oid}}, nil
}

func (h *lazyHandler) Create(e *Entity, lc *LoadContext) (reflect.Value, error) {
	return reflect.New(h.typ.Elem()), nil
}

func (h *lazyHandler) UpdateState(e *Entity, inst reflect.Value, lc *LoadContext) error {
	lc.bindLazy(inst.Interface().(lazyReference), e.Fields[0].Word)
	return nil
}
