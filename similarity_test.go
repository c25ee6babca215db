package objgraph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeMapping_Symmetric(t *testing.T) {
	m := DefaultTypeMapping()
	for _, p := range m.Pairs() {
		ab, ok1 := m.Lookup(p.A, p.B)
		ba, ok2 := m.Lookup(p.B, p.A)
		require.True(t, ok1 && ok2, "%s/%s", p.A, p.B)
		assert.Equal(t, ab, ba, "%s/%s", p.A, p.B)
	}

	assert.Equal(t, 1.0, m.Similarity("int32", "int32"))
	assert.Equal(t, 0.7, m.Similarity("int64", "int32"))
	assert.Equal(t, 0.8, m.Similarity("*float64", "float64"))
	assert.Equal(t, 0.9, m.Similarity("int", "int64"))
	assert.Equal(t, 0.0, m.Similarity("string", "bool"))
}

func TestTypeMapping_Register(t *testing.T) {
	m := DefaultTypeMapping()
	m.Register("Celsius", "float64", 95)
	assert.Equal(t, 0.95, m.Similarity("float64", "Celsius"))

	_, ok := DefaultTypeMapping().Lookup("Celsius", "float64")
	assert.False(t, ok, "the default table is not shared")

	c := m.Clone()
	c.Register("Celsius", "float64", 10)
	assert.Equal(t, 0.95, m.Similarity("float64", "Celsius"))

	assert.Panics(t, func() { m.Register("a", "b", 101) })
	assert.Panics(t, func() { m.Register("a", "b", -1) })
}

func TestTypeMapping_LoadYAML(t *testing.T) {
	m := NewTypeMapping()
	err := m.LoadYAML(strings.NewReader(`
similarities:
  - a: int32
    b: int64
    percent: 75
  - {a: UserID, b: int64, percent: 100}
`))
	require.NoError(t, err)
	assert.Equal(t, []TypeSimilarity{
		{A: "UserID", B: "int64", Percent: 100},
		{A: "int32", B: "int64", Percent: 75},
	}, m.Pairs())

	assert.Error(t, m.LoadYAML(strings.NewReader("similarities:\n  - {a: x, b: y, percent: 150}\n")))
	assert.Error(t, m.LoadYAML(strings.NewReader("similarities:\n  - {a: x, percent: 5}\n")))
	assert.Error(t, m.LoadYAML(strings.NewReader("unknown: 1\n")))
	assert.NoError(t, m.LoadYAML(strings.NewReader("")))
	assert.Len(t, m.Pairs(), 2)
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"street", "street", 0},
		{"zip", "zipcode", 4},
		{"café", "cafe", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, levenshtein(tt.a, tt.b), "levenshtein(%q, %q)", tt.a, tt.b)
		assert.Equal(t, tt.want, levenshtein(tt.b, tt.a), "levenshtein(%q, %q)", tt.b, tt.a)
	}
}

func TestNameSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, nameSimilarity("city", "city"))
	assert.Equal(t, 0.95, nameSimilarity("City", "city"))
	assert.InDelta(t, 0.5, nameSimilarity("name", "nickname"), 1e-9)
	assert.Equal(t, 0.0, nameSimilarity("abc", "xyz"))
}

func TestMaxWeightAssignment(t *testing.T) {
	tests := []struct {
		name    string
		weights [][]int64
		rows    int
		cols    int
		want    []int
	}{
		{"empty", nil, 0, 0, []int{}},
		{"identity", [][]int64{{9, 1}, {1, 9}}, 2, 2, []int{0, 1}},
		{"swap", [][]int64{{1, 9}, {9, 1}}, 2, 2, []int{1, 0}},
		{"global optimum", [][]int64{{10, 9}, {9, 1}}, 2, 2, []int{1, 0}},
		{"more rows", [][]int64{{5}, {7}, {6}}, 3, 1, []int{-1, 0, -1}},
		{"more cols", [][]int64{{1, 3, 2}}, 1, 3, []int{1}},
		{
			"3x3",
			[][]int64{
				{7, 5, 3},
				{6, 8, 1},
				{2, 4, 9},
			}, 3, 3, []int{0, 1, 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := maxWeightAssignment(tt.weights, tt.rows, tt.cols)
			assert.Equal(t, tt.want, got)
		})
	}
}
