package objgraph

import (
	"encoding/binary"
	"math"
	"reflect"
	"time"
)

var timeType = reflect.TypeFor[time.Time]()

const timePrimitive = "time"

var primitiveTypes = map[string]reflect.Type{
	"bool":       reflect.TypeFor[bool](),
	"int":        reflect.TypeFor[int](),
	"int8":       reflect.TypeFor[int8](),
	"int16":      reflect.TypeFor[int16](),
	"int32":      reflect.TypeFor[int32](),
	"int64":      reflect.TypeFor[int64](),
	"uint":       reflect.TypeFor[uint](),
	"uint8":      reflect.TypeFor[uint8](),
	"uint16":     reflect.TypeFor[uint16](),
	"uint32":     reflect.TypeFor[uint32](),
	"uint64":     reflect.TypeFor[uint64](),
	"uintptr":    reflect.TypeFor[uintptr](),
	"float32":    reflect.TypeFor[float32](),
	"float64":    reflect.TypeFor[float64](),
	"complex64":  reflect.TypeFor[complex64](),
	"complex128": reflect.TypeFor[complex128](),
}

func isPrimitiveKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	}
	return false
}

// hasZeroLengthArray reports whether t is, or holds through slices, maps
// and pointers, a zero-length array. Such arrays have no slot width.
func hasZeroLengthArray(t reflect.Type) bool {
	for {
		switch t.Kind() {
		case reflect.Array:
			if t.Len() == 0 {
				return true
			}
			t = t.Elem()
		case reflect.Slice, reflect.Pointer:
			t = t.Elem()
		case reflect.Map:
			if hasZeroLengthArray(t.Key()) {
				return true
			}
			t = t.Elem()
		default:
			return false
		}
	}
}

// primElem returns the fixed slot of a primitive, a primitive array or
// time.Time.
func primElem(t reflect.Type) (Elem, bool) {
	if t == timeType {
		return Elem{Width: 16, Unit: 8, Primitive: timePrimitive}, true
	}
	k := t.Kind()
	if k == reflect.Array && t.Len() > 0 && isPrimitiveKind(t.Elem().Kind()) {
		e, _ := primElem(t.Elem())
		return Elem{Width: e.Width * t.Len(), Unit: e.Unit}, true
	}
	if !isPrimitiveKind(k) {
		return Elem{}, false
	}
	var w, u int
	switch k {
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		w, u = 1, 1
	case reflect.Int16, reflect.Uint16:
		w, u = 2, 2
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		w, u = 4, 4
	case reflect.Complex64:
		w, u = 8, 4
	case reflect.Complex128:
		w, u = 16, 8
	default:
		w, u = 8, 8
	}
	return Elem{Width: w, Unit: u, Primitive: k.String()}, true
}

// putPrim writes v into dst as canonical little-endian bytes.
func putPrim(dst []byte, v reflect.Value) {
	if v.Type() == timeType {
		t := v.Interface().(time.Time)
		binary.LittleEndian.PutUint64(dst[0:], uint64(t.Unix()))
		binary.LittleEndian.PutUint64(dst[8:], uint64(t.Nanosecond()))
		return
	}
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			dst[0] = 1
		} else {
			dst[0] = 0
		}
	case reflect.Int8:
		dst[0] = byte(v.Int())
	case reflect.Uint8:
		dst[0] = byte(v.Uint())
	case reflect.Int16:
		binary.LittleEndian.PutUint16(dst, uint16(v.Int()))
	case reflect.Uint16:
		binary.LittleEndian.PutUint16(dst, uint16(v.Uint()))
	case reflect.Int32:
		binary.LittleEndian.PutUint32(dst, uint32(v.Int()))
	case reflect.Uint32:
		binary.LittleEndian.PutUint32(dst, uint32(v.Uint()))
	case reflect.Int, reflect.Int64:
		binary.LittleEndian.PutUint64(dst, uint64(v.Int()))
	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		binary.LittleEndian.PutUint64(dst, v.Uint())
	case reflect.Float32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v.Float())))
	case reflect.Float64:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(v.Float()))
	case reflect.Complex64:
		c := v.Complex()
		binary.LittleEndian.PutUint32(dst[0:], math.Float32bits(float32(real(c))))
		binary.LittleEndian.PutUint32(dst[4:], math.Float32bits(float32(imag(c))))
	case reflect.Complex128:
		c := v.Complex()
		binary.LittleEndian.PutUint64(dst[0:], math.Float64bits(real(c)))
		binary.LittleEndian.PutUint64(dst[8:], math.Float64bits(imag(c)))
	case reflect.Array:
		e, _ := primElem(v.Type().Elem())
		for i, n := 0, v.Len(); i < n; i++ {
			putPrim(dst[i*e.Width:], v.Index(i))
		}
	default:
		panic("putPrim: unsupported kind " + v.Kind().String())
	}
}

// getPrim sets v from canonical little-endian bytes.
func getPrim(src []byte, v reflect.Value) {
	if v.Type() == timeType {
		sec := int64(binary.LittleEndian.Uint64(src[0:]))
		nsec := int64(binary.LittleEndian.Uint64(src[8:]))
		v.Set(reflect.ValueOf(time.Unix(sec, nsec).UTC()))
		return
	}
	switch v.Kind() {
	case reflect.Bool:
		v.SetBool(src[0] != 0)
	case reflect.Int8:
		v.SetInt(int64(int8(src[0])))
	case reflect.Uint8:
		v.SetUint(uint64(src[0]))
	case reflect.Int16:
		v.SetInt(int64(int16(binary.LittleEndian.Uint16(src))))
	case reflect.Uint16:
		v.SetUint(uint64(binary.LittleEndian.Uint16(src)))
	case reflect.Int32:
		v.SetInt(int64(int32(binary.LittleEndian.Uint32(src))))
	case reflect.Uint32:
		v.SetUint(uint64(binary.LittleEndian.Uint32(src)))
	case reflect.Int, reflect.Int64:
		v.SetInt(int64(binary.LittleEndian.Uint64(src)))
	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		v.SetUint(binary.LittleEndian.Uint64(src))
	case reflect.Float32:
		v.SetFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(src))))
	case reflect.Float64:
		v.SetFloat(math.Float64frombits(binary.LittleEndian.Uint64(src)))
	case reflect.Complex64:
		re := math.Float32frombits(binary.LittleEndian.Uint32(src[0:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(src[4:]))
		v.SetComplex(complex(float64(re), float64(im)))
	case reflect.Complex128:
		re := math.Float64frombits(binary.LittleEndian.Uint64(src[0:]))
		im := math.Float64frombits(binary.LittleEndian.Uint64(src[8:]))
		v.SetComplex(complex(re, im))
	case reflect.Array:
		e, _ := primElem(v.Type().Elem())
		for i, n := 0, v.Len(); i < n; i++ {
			getPrim(src[i*e.Width:], v.Index(i))
		}
	default:
		panic("getPrim: unsupported kind " + v.Kind().String())
	}
}

func isNumericPrimitive(p string) bool {
	t := primitiveTypes[p]
	return t != nil && t.Kind() != reflect.Bool
}

// primConvertible reports whether a value of primitive a can be translated
// into primitive b.
func primConvertible(a, b string) bool {
	if a == b {
		return a != ""
	}
	ta, tb := primitiveTypes[a], primitiveTypes[b]
	if ta == nil || tb == nil || !isNumericPrimitive(a) || !isNumericPrimitive(b) {
		return false
	}
	return ta.ConvertibleTo(tb)
}

// convertPrim translates canonical bytes of primitive srcPrim into dst as
// primitive dstPrim.
func convertPrim(dst []byte, dstPrim string, src []byte, srcPrim string) {
	if dstPrim == srcPrim {
		copy(dst, src)
		return
	}
	sv := reflect.New(primitiveTypes[srcPrim]).Elem()
	getPrim(src, sv)
	putPrim(dst, sv.Convert(primitiveTypes[dstPrim]))
}
