package objgraph

import (
	"math/big"
	"testing"
	"time"
)

type (
	Widget struct {
		ID      int64
		Name    string
		Tags    []string
		Parts   []*Part
		Owner   *Person
		Attrs   map[string]int
		Price   float64
		Created time.Time
		Weights []float32
		Blob    []byte
		Total   *big.Int
	}

	Part struct {
		Name   string
		Qty    int32
		Widget *Widget
	}

	Person struct {
		Name    string
		Boss    *Person
		Friends []*Person
	}

	Pair struct {
		Left  Point
		Right Point
	}

	Point struct {
		X, Y int16
	}

	Holder struct {
		Value any
		Items []any
		Point Point `objgraph:"pt"`
		Skip  int   `objgraph:"-"`
	}

	Library struct {
		Name  string
		Books []*Lazy[*Book]
		Best  *Lazy[*Book]
	}

	Book struct {
		Title string
		Pages int
	}
)

func newTestTypeTable(t testing.TB) *TypeTable {
	tt := NewTypeTable(TypeTableOptions{})
	RegisterType[Widget](tt, "Widget")
	RegisterType[Part](tt, "Part")
	RegisterType[Person](tt, "Person")
	RegisterType[Pair](tt, "Pair")
	RegisterType[Point](tt, "Point")
	RegisterType[Holder](tt, "Holder")
	RegisterType[Library](tt, "Library")
	RegisterType[Book](tt, "Book")
	return tt
}

func sampleWidget() *Widget {
	boss := &Person{Name: "Alice"}
	bob := &Person{Name: "Bob", Boss: boss}
	boss.Friends = []*Person{bob, boss}
	w := &Widget{
		ID:      42,
		Name:    "Widget",
		Tags:    []string{"red", "", "large"},
		Owner:   bob,
		Attrs:   map[string]int{"a": 1, "b": 2},
		Price:   9.99,
		Created: time.Date(2024, 3, 1, 12, 30, 0, 500, time.UTC),
		Weights: []float32{0.5, 1.5},
		Blob:    []byte{0xDE, 0xAD},
		Total:   big.NewInt(-123456789),
	}
	w.Parts = []*Part{{Name: "bolt", Qty: 4, Widget: w}, {Name: "nut", Qty: 8, Widget: w}}
	return w
}
