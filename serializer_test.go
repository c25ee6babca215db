package objgraph

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip[T any](t *testing.T, s *Serializer, v T) T {
	t.Helper()
	data, err := s.Serialize(v)
	require.NoError(t, err)
	got, err := DeserializeAs[T](s, data)
	require.NoError(t, err)
	return got
}

func TestSerializer_Simple(t *testing.T) {
	s := NewSerializer(newTestTypeTable(t), SerializerOptions{})
	got := roundTrip(t, s, &Widget{ID: 42, Name: "Widget"})
	assert.Equal(t, int64(42), got.ID)
	assert.Equal(t, "Widget", got.Name)
	assert.Nil(t, got.Parts)
	assert.Nil(t, got.Owner)
	assert.Nil(t, got.Tags)
	assert.True(t, got.Created.IsZero())
}

func TestSerializer_Graph(t *testing.T) {
	for _, order := range []ByteOrder{LittleEndian, BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			s := NewSerializer(newTestTypeTable(t), SerializerOptions{ByteOrder: order})
			w := sampleWidget()
			got := roundTrip(t, s, w)

			assert.Equal(t, w.ID, got.ID)
			assert.Equal(t, w.Name, got.Name)
			assert.Equal(t, w.Tags, got.Tags)
			assert.Equal(t, w.Attrs, got.Attrs)
			assert.Equal(t, w.Price, got.Price)
			assert.True(t, w.Created.Equal(got.Created), "Created = %v, wanted %v", got.Created, w.Created)
			assert.Equal(t, w.Weights, got.Weights)
			assert.Equal(t, w.Blob, got.Blob)
			require.NotNil(t, got.Total)
			assert.Zero(t, w.Total.Cmp(got.Total), "Total = %v", got.Total)

			require.Len(t, got.Parts, 2)
			assert.Equal(t, "bolt", got.Parts[0].Name)
			assert.Equal(t, int32(8), got.Parts[1].Qty)
			assert.Same(t, got, got.Parts[0].Widget)
			assert.Same(t, got, got.Parts[1].Widget)

			bob := got.Owner
			require.NotNil(t, bob)
			assert.Equal(t, "Bob", bob.Name)
			boss := bob.Boss
			require.NotNil(t, boss)
			require.Len(t, boss.Friends, 2)
			assert.Same(t, bob, boss.Friends[0])
			assert.Same(t, boss, boss.Friends[1])
		})
	}
}

func TestSerializer_ByteOrderInterop(t *testing.T) {
	tt := newTestTypeTable(t)
	be := NewSerializer(tt, SerializerOptions{ByteOrder: BigEndian})
	le := NewSerializer(tt, SerializerOptions{ByteOrder: LittleEndian})

	data, err := be.Serialize(sampleWidget())
	require.NoError(t, err)
	order, err := MessageByteOrder(data)
	require.NoError(t, err)
	assert.Equal(t, BigEndian, order)

	got, err := DeserializeAs[*Widget](le, data)
	require.NoError(t, err)
	assert.Equal(t, "Widget", got.Name)
	assert.Same(t, got, got.Parts[1].Widget)

	leData, err := le.Serialize(sampleWidget())
	require.NoError(t, err)
	assert.Equal(t, len(leData), len(data))
	assert.NotEqual(t, leData, data)
}

func TestSerializer_Values(t *testing.T) {
	s := NewSerializer(newTestTypeTable(t), SerializerOptions{})

	h := &Holder{
		Value: Point{1, 2},
		Items: []any{"x", int64(7), Point{3, 4}, nil, []int{1, 2}},
		Point: Point{-5, 6},
		Skip:  99,
	}
	got := roundTrip(t, s, h)
	assert.Equal(t, Point{1, 2}, got.Value)
	assert.Equal(t, []any{"x", int64(7), Point{3, 4}, nil, []int{1, 2}}, got.Items)
	assert.Equal(t, Point{-5, 6}, got.Point)
	assert.Zero(t, got.Skip)

	pair := roundTrip(t, s, Pair{Left: Point{1, 2}, Right: Point{3, 4}})
	assert.Equal(t, Pair{Left: Point{1, 2}, Right: Point{3, 4}}, pair)

	assert.Equal(t, "hello", roundTrip(t, s, "hello"))
	assert.Equal(t, []string{"a", "b"}, roundTrip(t, s, []string{"a", "b"}))
	assert.Equal(t, map[int32]string{1: "one", 2: "two"}, roundTrip(t, s, map[int32]string{1: "one", 2: "two"}))
}

func TestSerializer_SharedPointers(t *testing.T) {
	s := NewSerializer(newTestTypeTable(t), SerializerOptions{})
	p := &Person{Name: "shared"}
	got := roundTrip(t, s, []*Person{p, p, nil, p})
	require.Len(t, got, 4)
	assert.Same(t, got[0], got[1])
	assert.Same(t, got[0], got[3])
	assert.Nil(t, got[2])
}

func TestSerializer_Nil(t *testing.T) {
	s := NewSerializer(newTestTypeTable(t), SerializerOptions{})
	data, err := s.Serialize(nil)
	require.NoError(t, err)
	v, err := s.Deserialize(data)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSerializer_UnhandledType(t *testing.T) {
	s := NewSerializer(newTestTypeTable(t), SerializerOptions{})
	type unregistered struct{ A int }
	_, err := s.Serialize(&unregistered{1})
	assert.ErrorIs(t, err, ErrUnhandledType)

	_, err = s.Serialize(&Holder{Value: make(chan int)})
	assert.ErrorIs(t, err, ErrUnhandledType)
}

func TestSerializer_ZeroLengthArrays(t *testing.T) {
	type marks struct{ Marks [][0]int32 }
	type flags struct{ Flags [0]bool }
	type index struct{ ByName map[string]*[0]byte }
	tt := newTestTypeTable(t)
	assert.Panics(t, func() { RegisterType[marks](tt, "marks") })
	assert.Panics(t, func() { RegisterType[flags](tt, "flags") })
	assert.Panics(t, func() { RegisterType[index](tt, "index") })

	s := NewSerializer(tt, SerializerOptions{})
	_, err := s.Serialize(&Holder{Value: [0]int32{}})
	assert.ErrorIs(t, err, ErrUnhandledType)
	_, err = s.Serialize(&Holder{Value: make([][0]int32, 3)})
	assert.Error(t, err)
}

func TestSerializer_AutoRegister(t *testing.T) {
	type auto struct {
		N    int
		Next *auto
	}
	s := NewSerializer(NewTypeTable(TypeTableOptions{AutoRegister: true}), SerializerOptions{})
	a := &auto{N: 1}
	a.Next = &auto{N: 2, Next: a}
	got := roundTrip(t, s, a)
	assert.Equal(t, 2, got.Next.N)
	assert.Same(t, got, got.Next.Next)
}

func TestSerializer_Corrupt(t *testing.T) {
	s := NewSerializer(newTestTypeTable(t), SerializerOptions{})
	data, err := s.Serialize(sampleWidget())
	require.NoError(t, err)

	_, err = s.Deserialize(data[:5])
	assert.ErrorIs(t, err, ErrFormatViolation)

	bad := bytes.Clone(data)
	bad[0] = 'X'
	_, err = s.Deserialize(bad)
	assert.ErrorIs(t, err, ErrFormatViolation)

	bad = bytes.Clone(data)
	bad[len(messageMagic)] = 9
	_, err = s.Deserialize(bad)
	assert.ErrorIs(t, err, ErrFormatViolation)

	_, err = s.Deserialize(data[:len(data)-1])
	assert.ErrorIs(t, err, ErrFormatViolation)
}

func TestSerializer_DeserializeAsMismatch(t *testing.T) {
	s := NewSerializer(newTestTypeTable(t), SerializerOptions{})
	data, err := s.Serialize(&Book{Title: "x"})
	require.NoError(t, err)
	_, err = DeserializeAs[*Widget](s, data)
	assert.Error(t, err)
}

func TestSerializer_Lazy(t *testing.T) {
	s := NewSerializer(newTestTypeTable(t), SerializerOptions{})
	b1 := &Book{Title: "Dune", Pages: 412}
	lib := &Library{
		Name:  "city",
		Books: []*Lazy[*Book]{MakeLazy(b1), MakeLazy(&Book{Title: "Emma", Pages: 300})},
		Best:  MakeLazy(b1),
	}
	got := roundTrip(t, s, lib)
	require.Len(t, got.Books, 2)
	assert.False(t, got.Best.IsLoaded())

	best, err := got.Best.Get()
	require.NoError(t, err)
	assert.Equal(t, "Dune", best.Title)
	first, err := got.Books[0].Get()
	require.NoError(t, err)
	assert.Same(t, best, first)

	emma, err := got.Books[1].Get()
	require.NoError(t, err)
	assert.Equal(t, 300, emma.Pages)
}
