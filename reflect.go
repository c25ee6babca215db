package objgraph

import (
	"reflect"
	"strconv"
	"strings"
)

var anyType = reflect.TypeFor[any]()

// nameOf_locked spells a Go type the way layouts refer to it. Registered
// types use their registered name, and composite types are spelled from the
// names of their parts, so that resolveName_locked can rebuild them.
func (tt *TypeTable) nameOf_locked(t reflect.Type) string {
	if n, ok := tt.names[t]; ok {
		return n
	}
	if t.Name() != "" {
		return t.String()
	}
	switch t.Kind() {
	case reflect.Pointer:
		if isLazyStruct(t.Elem()) {
			st := reflect.New(t.Elem()).Interface().(lazyReference).subjectType()
			return "*Lazy[" + tt.nameOf_locked(st) + "]"
		}
		return "*" + tt.nameOf_locked(t.Elem())
	case reflect.Slice:
		return "[]" + tt.nameOf_locked(t.Elem())
	case reflect.Array:
		return "[" + strconv.Itoa(t.Len()) + "]" + tt.nameOf_locked(t.Elem())
	case reflect.Map:
		return "map[" + tt.nameOf_locked(t.Key()) + "]" + tt.nameOf_locked(t.Elem())
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return "any"
		}
	}
	return t.String()
}

// resolveName_locked is the inverse of nameOf_locked for types that can be
// rebuilt from their name. Returns nil if the name is unknown.
func (tt *TypeTable) resolveName_locked(name string) reflect.Type {
	if h := tt.byName[name]; h != nil {
		return h.Type()
	}
	if t := primitiveTypes[name]; t != nil {
		return t
	}
	switch name {
	case "string":
		return reflect.TypeFor[string]()
	case "any":
		return anyType
	case "time.Time":
		return timeType
	case "*big.Int":
		return bigIntPtrType
	case "*big.Float":
		return bigFloatPtrType
	}
	switch {
	case strings.HasPrefix(name, "*"):
		if et := tt.resolveName_locked(name[1:]); et != nil {
			return reflect.PointerTo(et)
		}
	case strings.HasPrefix(name, "[]"):
		if et := tt.resolveName_locked(name[2:]); et != nil {
			return reflect.SliceOf(et)
		}
	case strings.HasPrefix(name, "["):
		end := strings.IndexByte(name, ']')
		if end < 0 {
			return nil
		}
		n, err := strconv.Atoi(name[1:end])
		if err != nil || n < 0 {
			return nil
		}
		if et := tt.resolveName_locked(name[end+1:]); et != nil {
			return reflect.ArrayOf(n, et)
		}
	case strings.HasPrefix(name, "map["):
		end := matchingBracket(name, len("map"))
		if end < 0 {
			return nil
		}
		kt := tt.resolveName_locked(name[len("map["):end])
		vt := tt.resolveName_locked(name[end+1:])
		if kt != nil && vt != nil && kt.Comparable() {
			return reflect.MapOf(kt, vt)
		}
	}
	return nil
}

// matchingBracket returns the index of the ']' closing the '[' at open.
func matchingBracket(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
