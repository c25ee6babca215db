package objgraph

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDescriptor() *TypeDescriptor {
	i32 := Elem{Width: 4, Unit: 4, Primitive: "int32"}
	return newTypeDescriptor("Sample", []MemberDescriptor{
		{Name: "id", TypeName: "int64", Kind: MemberFixed, Elem: Elem{Width: 8, Unit: 8, Primitive: "int64"}},
		{Name: "name", TypeName: "string", Kind: MemberList, Elem: byteElem},
		{Name: "next", TypeName: "*Sample", Kind: MemberFixed, Elem: refElem},
		{Name: "flag", TypeName: "bool", Kind: MemberFixed, Elem: Elem{Width: 1, Unit: 1, Primitive: "bool"}},
		{Name: "nums", TypeName: "[]int32", Kind: MemberList, Elem: i32},
		{Name: "byKey", TypeName: "map[int32]*Sample", Kind: MemberEntries, Elem: i32, Value: refElem},
	}).withID(7)
}

func le64(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

func le32(vs ...uint32) []byte {
	var b []byte
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}

func sampleFields() []FieldValue {
	entries := append(le32(5), le64(11)...)
	entries = append(entries, append(le32(6), le64(12)...)...)
	return []FieldValue{
		{Raw: le64(42)},
		{Raw: []byte("Widget")},
		{Word: 99},
		{Raw: []byte{1}},
		{Raw: le32(1, 2, 3)},
		{Raw: entries},
	}
}

func TestTypeDescriptor_Offsets(t *testing.T) {
	desc := sampleDescriptor()
	assert.Equal(t, 17, desc.FixedSize())
	assert.Equal(t, 0, desc.Members[0].Offset)
	assert.Equal(t, -1, desc.Members[1].Offset)
	assert.Equal(t, 8, desc.Members[2].Offset)
	assert.Equal(t, 16, desc.Members[3].Offset)
	assert.Equal(t, 4, desc.MemberIndex("nums"))
	assert.Equal(t, -1, desc.MemberIndex("missing"))
	assert.Equal(t, 12, desc.Members[5].SlotWidth())
	assert.True(t, desc.Members[5].HasReferences())
	assert.False(t, desc.Members[4].HasReferences())
}

func TestTypeDescriptor_Fingerprint(t *testing.T) {
	a, b := sampleDescriptor(), sampleDescriptor()
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.True(t, a.SameLayout(b))

	members := append([]MemberDescriptor(nil), a.Members...)
	members[0], members[3] = members[3], members[0]
	c := newTypeDescriptor("Sample", members)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.False(t, a.SameLayout(c))
}

func TestEntity_RoundTrip(t *testing.T) {
	desc := sampleDescriptor()
	for _, order := range []ByteOrder{LittleEndian, BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			data, err := EncodeEntity(nil, desc, 3, sampleFields(), order)
			require.NoError(t, err)
			assert.Equal(t, entityHeaderSize+17+8+6+8+12+8+24, len(data))

			e, err := DecodeEntity(data, desc, order)
			require.NoError(t, err)
			assert.Equal(t, uint64(len(data)), e.Length)
			assert.Equal(t, uint64(7), e.TypeID)
			assert.Equal(t, ObjectID(3), e.ObjectID)

			want := sampleFields()
			for i := range want {
				assert.Equal(t, want[i].Word, e.Fields[i].Word, desc.Members[i].Name)
				if want[i].Raw != nil {
					assert.Equal(t, want[i].Raw, e.Fields[i].Raw, desc.Members[i].Name)
				}
			}
			assert.Equal(t, 3, e.Fields[4].Len(&desc.Members[4]))
			assert.Equal(t, 2, e.Fields[5].Len(&desc.Members[5]))
		})
	}
}

func TestEntity_BigEndianBytes(t *testing.T) {
	desc := sampleDescriptor()
	le := must(EncodeEntity(nil, desc, 3, sampleFields(), LittleEndian))
	be := must(EncodeEntity(nil, desc, 3, sampleFields(), BigEndian))
	require.Equal(t, len(le), len(be))
	assert.NotEqual(t, le, be)

	assert.Equal(t, uint64(len(be)), binary.BigEndian.Uint64(be[0:]))
	assert.Equal(t, uint64(7), binary.BigEndian.Uint64(be[8:]))
	assert.Equal(t, uint64(3), binary.BigEndian.Uint64(be[16:]))
	assert.Equal(t, uint64(42), binary.BigEndian.Uint64(be[entityHeaderSize:]))

	// the string bytes are not swapped
	off := entityHeaderSize + desc.FixedSize() + 8
	assert.Equal(t, "Widget", string(be[off:off+6]))

	// reading with the wrong order fails on the length
	_, err := DecodeEntity(be, desc, LittleEndian)
	assert.ErrorIs(t, err, ErrFormatViolation)
}

func TestEntity_NilList(t *testing.T) {
	desc := sampleDescriptor()
	fields := sampleFields()
	fields[4] = FieldValue{Nil: true}
	fields[5] = FieldValue{}
	data := must(EncodeEntity(nil, desc, 1, fields, LittleEndian))

	e, err := DecodeEntity(data, desc, LittleEndian)
	require.NoError(t, err)
	assert.True(t, e.Fields[4].Nil)
	assert.False(t, e.Fields[5].Nil)
	assert.Equal(t, 0, e.Fields[5].Len(&desc.Members[5]))
}

func TestEntity_InvalidListLayout(t *testing.T) {
	desc := sampleDescriptor()
	data := must(EncodeEntity(nil, desc, 1, sampleFields(), LittleEndian))
	countOff := entityHeaderSize + desc.FixedSize()
	binary.LittleEndian.PutUint64(data[countOff:], 1<<40)

	_, err := DecodeEntity(data, desc, LittleEndian)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidListLayout)
	assert.ErrorIs(t, err, ErrFormatViolation)
}

func TestEntity_Malformed(t *testing.T) {
	desc := sampleDescriptor()
	data := must(EncodeEntity(nil, desc, 1, sampleFields(), LittleEndian))

	_, err := DecodeEntity(data[:10], desc, LittleEndian)
	assert.ErrorIs(t, err, ErrFormatViolation, "short header")

	_, err = DecodeEntity(data[:len(data)-1], desc, LittleEndian)
	assert.ErrorIs(t, err, ErrFormatViolation, "length mismatch")

	other := desc.withID(8)
	_, err = DecodeEntity(data, other, LittleEndian)
	assert.ErrorIs(t, err, ErrFormatViolation, "type ID mismatch")

	_, err = EncodeEntity(nil, desc, 1, sampleFields()[:2], LittleEndian)
	assert.Error(t, err)

	bad := sampleFields()
	bad[4] = FieldValue{Raw: []byte{1, 2, 3}}
	_, err = EncodeEntity(nil, desc, 1, bad, LittleEndian)
	assert.Error(t, err)
}

func TestScanEntities(t *testing.T) {
	desc := sampleDescriptor()
	var buf []byte
	buf = must(EncodeEntity(buf, desc, 1, sampleFields(), BigEndian))
	first := len(buf)
	buf = must(EncodeEntity(buf, desc, 2, sampleFields(), BigEndian))

	raws, err := scanEntities(buf, BigEndian)
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Equal(t, first, len(raws[0]))

	e, err := DecodeEntity(raws[1], desc, BigEndian)
	require.NoError(t, err)
	assert.Equal(t, ObjectID(2), e.ObjectID)

	_, err = scanEntities(buf[:len(buf)-3], BigEndian)
	assert.ErrorIs(t, err, ErrFormatViolation)
	_, err = scanEntities(buf[:first+5], BigEndian)
	assert.ErrorIs(t, err, ErrFormatViolation)
}
