package objgraph

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// member spells a member the way a struct field of Go type typeName would
// be laid out.
func member(name, typeName string) MemberDescriptor {
	m := MemberDescriptor{Name: name, TypeName: typeName}
	switch {
	case typeName == "string":
		m.Kind, m.Elem = MemberList, byteElem
	case strings.HasPrefix(typeName, "[]"):
		e, _ := primElem(primitiveTypes[typeName[2:]])
		m.Kind, m.Elem = MemberList, e
	case strings.HasPrefix(typeName, "*"):
		m.Kind, m.Elem = MemberFixed, refElem
	default:
		e, ok := primElem(primitiveTypes[typeName])
		if !ok {
			panic("unknown primitive " + typeName)
		}
		m.Kind, m.Elem = MemberFixed, e
	}
	return m
}

func layout(name string, members ...MemberDescriptor) *TypeDescriptor {
	return newTypeDescriptor(name, members)
}

func computeMapping(t *testing.T, legacy, current *TypeDescriptor, explicit map[string]string, newMembers []string) *LegacyMappingResult {
	t.Helper()
	r, err := ComputeMapping(legacy, current, explicit, newMembers, nil, MappingOptions{})
	require.NoError(t, err)
	assertTotal(t, r)
	return r
}

// assertTotal checks that every legacy member is matched or discarded and
// every current member is matched or new, each exactly once.
func assertTotal(t *testing.T, r *LegacyMappingResult) {
	t.Helper()
	legacySeen := make([]int, len(r.Legacy.Members))
	currentSeen := make([]int, len(r.Current.Members))
	for _, m := range r.Matched {
		legacySeen[m.Legacy]++
		currentSeen[m.Current]++
	}
	for _, li := range r.Discarded {
		legacySeen[li]++
	}
	for _, ci := range r.New {
		currentSeen[ci]++
	}
	for i, n := range legacySeen {
		assert.Equal(t, 1, n, "legacy member %s", r.Legacy.Members[i].Name)
	}
	for i, n := range currentSeen {
		assert.Equal(t, 1, n, "current member %s", r.Current.Members[i].Name)
	}
}

func TestComputeMapping_Reorder(t *testing.T) {
	legacy := layout("Address", member("city", "string"), member("postalCode", "string"), member("street", "string"), member("id", "int64"))
	current := layout("Address", member("street", "string"), member("city", "string"), member("postalCode", "string"), member("id", "int64"))

	r := computeMapping(t, legacy, current, nil, nil)
	assert.Empty(t, r.New)
	assert.Empty(t, r.Discarded)
	assert.Equal(t, 2, r.SourceOf(0))
	assert.Equal(t, 0, r.SourceOf(1))
	assert.Equal(t, 1, r.SourceOf(2))
	assert.Equal(t, 3, r.SourceOf(3))
	for _, m := range r.Matched {
		assert.Equal(t, 1.0, m.Similarity)
		assert.False(t, m.Explicit)
	}
	assert.Contains(t, r.String(), "postalCode -1.000-> postalCode")
}

func TestComputeMapping_RenameAndRetype(t *testing.T) {
	legacy := layout("Account", member("zip", "string"), member("count", "int32"), member("flag", "bool"))
	current := layout("Account", member("count", "int64"), member("zipCode", "string"), member("email", "string"))

	r := computeMapping(t, legacy, current, nil, nil)
	assert.Equal(t, 0, r.SourceOf(1), "zip -> zipCode")
	assert.Equal(t, 1, r.SourceOf(0), "count int32 -> int64")
	assert.Equal(t, -1, r.SourceOf(2))
	assert.Equal(t, []int{2}, r.New)
	assert.Equal(t, []int{2}, r.Discarded)

	tr := r.translators[0]
	require.NotNil(t, tr)
	fv, err := tr(FieldValue{Raw: binary.LittleEndian.AppendUint32(nil, uint32(0xFFFFFFFB))}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(-5), int64(binary.LittleEndian.Uint64(fv.Raw)))
}

func TestComputeMapping_BelowThreshold(t *testing.T) {
	legacy := layout("T", member("a", "int64"))
	current := layout("T", member("zzz", "float32"))
	r := computeMapping(t, legacy, current, nil, nil)
	assert.Empty(t, r.Matched)
	assert.Equal(t, []int{0}, r.Discarded)
	assert.Equal(t, []int{0}, r.New)
}

func TestComputeMapping_Incompatible(t *testing.T) {
	legacy := layout("T", member("value", "string"))
	current := layout("T", member("value", "int64"))
	r := computeMapping(t, legacy, current, nil, nil)
	assert.Empty(t, r.Matched, "a string cannot become an int64")
}

func TestComputeMapping_Explicit(t *testing.T) {
	legacy := layout("T", member("x", "string"), member("y", "string"), member("z", "int32"))
	current := layout("T", member("label", "string"), member("y", "string"), member("z", "int32"))

	r := computeMapping(t, legacy, current, map[string]string{"x": "label", "y": "", "gone": "label"}, nil)
	assert.Equal(t, 0, r.SourceOf(0))
	assert.Equal(t, -1, r.SourceOf(1))
	assert.Equal(t, 2, r.SourceOf(2))
	assert.Equal(t, []int{1}, r.Discarded)
	assert.Equal(t, []int{1}, r.New)
	for _, m := range r.Matched {
		assert.Equal(t, m.Current == 0, m.Explicit)
	}
	assert.Contains(t, r.String(), "-explicit->")
	assert.Contains(t, r.String(), "[discarded]")
	assert.Contains(t, r.String(), "[new] y")

	_, err := ComputeMapping(legacy, current, map[string]string{"x": "nope"}, nil, nil, MappingOptions{})
	assert.ErrorIs(t, err, ErrLegacyMapping)
	_, err = ComputeMapping(legacy, current, map[string]string{"x": "label", "y": "label"}, nil, nil, MappingOptions{})
	assert.ErrorIs(t, err, ErrLegacyMapping)
	_, err = ComputeMapping(legacy, current, map[string]string{"x": "z"}, nil, nil, MappingOptions{})
	assert.ErrorIs(t, err, ErrLegacyMapping)
}

func TestComputeMapping_NewMembers(t *testing.T) {
	legacy := layout("T", member("name", "string"))
	current := layout("T", member("name", "string"), member("nickname", "string"))

	r := computeMapping(t, legacy, current, nil, []string{"name"})
	assert.Equal(t, 0, r.SourceOf(1))
	assert.Equal(t, []int{0}, r.New)

	_, err := ComputeMapping(legacy, current, nil, []string{"missing"}, nil, MappingOptions{})
	assert.ErrorIs(t, err, ErrLegacyMapping)
}

func TestComputeMapping_Boxing(t *testing.T) {
	legacy := layout("T", member("n", "*int64"), member("m", "int32"))
	current := layout("T", member("n", "int64"), member("m", "*int32"))
	r := computeMapping(t, legacy, current, nil, nil)
	assert.Equal(t, 0, r.SourceOf(0))
	assert.Equal(t, 1, r.SourceOf(1))

	fv, err := r.translators[1](FieldValue{Raw: binary.LittleEndian.AppendUint32(nil, 17)}, nil)
	require.NoError(t, err)
	require.IsType(t, (*int32)(nil), fv.boxed)
	assert.Equal(t, int32(17), *fv.boxed.(*int32))
}

func TestComputeMapping_Lists(t *testing.T) {
	legacy := layout("T", member("samples", "[]int16"))
	current := layout("T", member("samples", "[]int32"))
	r := computeMapping(t, legacy, current, nil, nil)
	require.Len(t, r.Matched, 1)

	raw := []byte{0xFF, 0xFF, 0x02, 0x00}
	fv, err := r.translators[0](FieldValue{Raw: raw}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x02, 0x00, 0x00, 0x00}, fv.Raw)
}

func TestComputeMapping_TiesAndDeterminism(t *testing.T) {
	legacy := layout("T", member("x", "string"))
	current := layout("T", member("p", "string"), member("q", "string"))

	r1 := computeMapping(t, legacy, current, nil, nil)
	for i := 0; i < 20; i++ {
		r2 := computeMapping(t, legacy, current, nil, nil)
		assert.Equal(t, r1.Matched, r2.Matched)
		assert.Equal(t, r1.New, r2.New)
		assert.Equal(t, r1.Discarded, r2.Discarded)
	}
	assert.Equal(t, 0, r1.SourceOf(0), "ties go to the closest declaration")

	_, err := ComputeMapping(legacy, current, nil, nil, nil, MappingOptions{RejectAmbiguous: true})
	assert.ErrorIs(t, err, ErrLegacyMapping)
}

func TestComputeMapping_Totality(t *testing.T) {
	types := []string{"string", "int64", "int32", "bool", "float64", "*int64", "[]int32"}
	names := []string{"a", "b", "alpha", "beta", "count", "total"}
	for seed := 0; seed < 40; seed++ {
		var lm, cm []MemberDescriptor
		for i := 0; i < 1+seed%5; i++ {
			lm = append(lm, member(names[(seed+i)%len(names)]+string(rune('0'+i)), types[(seed*3+i)%len(types)]))
		}
		for i := 0; i < 1+(seed/3)%6; i++ {
			cm = append(cm, member(names[(seed*7+i)%len(names)]+string(rune('0'+i)), types[(seed+i*5)%len(types)]))
		}
		computeMapping(t, layout("T", lm...), layout("T", cm...), nil, nil)
	}
}

func TestComputeMapping_Weights(t *testing.T) {
	legacy := layout("T", member("value", "int32"))
	current := layout("T", member("value", "float64"))

	r := computeMapping(t, legacy, current, nil, nil)
	require.Len(t, r.Matched, 1, "0.4 + 0.6*0.3 passes the default threshold")
	assert.InDelta(t, 0.58, r.Matched[0].Similarity, 1e-9)

	r, err := ComputeMapping(legacy, current, nil, nil, nil, MappingOptions{MinSimilarity: 0.6})
	require.NoError(t, err)
	assert.Empty(t, r.Matched)

	sim := DefaultTypeMapping().Register("int32", "float64", 100)
	r, err = ComputeMapping(legacy, current, nil, nil, sim, MappingOptions{MinSimilarity: 0.9})
	require.NoError(t, err)
	assert.Len(t, r.Matched, 1)
}

func TestTypeTable_RegisterWhileMapping(t *testing.T) {
	tt := NewTypeTable(TypeTableOptions{})
	RegisterType[AddressV3](tt, "Address")
	tt.RegisterLegacyMapping("Address", "City", "Town")
	tt.RegisterLegacyMapping("Address", "PostalCode", "Zip")
	tt.RegisterNewMember("Address", "Notes")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			tt.RegisterLegacyMapping("Address", fmt.Sprintf("Gone%d", i), "")
		}
	}()
	for i := 0; i < 20; i++ {
		legacy := layout("*Address",
			member("City", "string"),
			member("PostalCode", "string"),
			member("Street", "string"),
			member("ID", "int64"),
			member(fmt.Sprintf("Extra%d", i), "int32"))
		h, err := tt.handlerForStored(legacy.withID(1))
		require.NoError(t, err)
		assert.Equal(t, reflect.TypeFor[*AddressV3](), h.Type())
	}
	wg.Wait()
}
