package objgraph

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// TypeMapping is a symmetric table of similarity percentages between type
// names, used to rank member matches whose declared types differ. It is
// filled at startup and then only read.
type TypeMapping struct {
	guard RWGuard
	table map[typePair]int
}

type typePair struct {
	a, b string
}

func makeTypePair(a, b string) typePair {
	if b < a {
		a, b = b, a
	}
	return typePair{a, b}
}

// TypeSimilarity is one entry of a TypeMapping.
type TypeSimilarity struct {
	A       string `yaml:"a"`
	B       string `yaml:"b"`
	Percent int    `yaml:"percent"`
}

func NewTypeMapping() *TypeMapping {
	return &TypeMapping{table: make(map[typePair]int)}
}

var defaultTypeMapping = sync.OnceValue(func() *TypeMapping {
	m := NewTypeMapping()
	for _, s := range defaultSimilarities() {
		m.Register(s.A, s.B, s.Percent)
	}
	return m
})

// DefaultTypeMapping returns a new table seeded with the built-in
// similarities. The percentages are a default configuration; override
// them with Register or LoadYAML.
func DefaultTypeMapping() *TypeMapping {
	return defaultTypeMapping().Clone()
}

func defaultSimilarities() []TypeSimilarity {
	var result []TypeSimilarity
	add := func(a, b string, p int) {
		result = append(result, TypeSimilarity{a, b, p})
	}
	for p := range primitiveTypes {
		add(p, "*"+p, 80)
	}
	add("string", "*string", 80)

	signed := []string{"int8", "int16", "int32", "int64"}
	unsigned := []string{"uint8", "uint16", "uint32", "uint64"}
	for _, family := range [][]string{signed, unsigned} {
		for i := range family {
			for j := i + 1; j < len(family); j++ {
				if j-i == 1 {
					add(family[i], family[j], 70)
				} else {
					add(family[i], family[j], 60)
				}
			}
		}
	}
	for i, s := range signed {
		for j, u := range unsigned {
			if i == j {
				add(s, u, 50)
			} else {
				add(s, u, 40)
			}
		}
	}
	add("int", "int64", 90)
	add("int", "int32", 70)
	add("uint", "uint64", 90)
	add("uint", "uint32", 70)
	add("int", "uint", 50)
	for _, i := range append(signed, "int") {
		add(i, "float32", 30)
		add(i, "float64", 30)
	}
	add("float32", "float64", 70)
	add("complex64", "complex128", 70)

	add("string", "time.Time", 10)
	add("string", "*big.Int", 20)
	add("string", "*big.Float", 20)
	add("*big.Int", "*big.Float", 50)
	add("int64", "*big.Int", 60)
	add("float64", "*big.Float", 60)
	add("time.Time", "int64", 20)
	return result
}

// Register sets the similarity of a and b in both directions. Percent must
// be within [0, 100].
func (m *TypeMapping) Register(a, b string, percent int) *TypeMapping {
	if percent < 0 || percent > 100 {
		panic(fmt.Errorf("similarity of %s and %s must be within [0, 100], got %d", a, b, percent))
	}
	m.guard.Write(func() {
		m.table[makeTypePair(a, b)] = percent
	})
	return m
}

func (m *TypeMapping) Lookup(a, b string) (int, bool) {
	return m.lookup(makeTypePair(a, b))
}

func (m *TypeMapping) lookup(k typePair) (int, bool) {
	m.guard.mu.RLock()
	defer m.guard.mu.RUnlock()
	p, ok := m.table[k]
	return p, ok
}

// Similarity returns 1 for equal names, the registered percentage scaled to
// [0, 1] for known pairs and 0 otherwise. Unregistered slice types score
// as their element types do.
func (m *TypeMapping) Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if p, ok := m.Lookup(a, b); ok {
		return float64(p) / 100
	}
	ea, okA := strings.CutPrefix(a, "[]")
	eb, okB := strings.CutPrefix(b, "[]")
	if okA && okB {
		return m.Similarity(ea, eb)
	}
	return 0
}

func (m *TypeMapping) Clone() *TypeMapping {
	c := NewTypeMapping()
	m.guard.Read(func() {
		for k, v := range m.table {
			c.table[k] = v
		}
	})
	return c
}

// Pairs lists every entry in a stable order.
func (m *TypeMapping) Pairs() []TypeSimilarity {
	var result []TypeSimilarity
	m.guard.Read(func() {
		for k, v := range m.table {
			result = append(result, TypeSimilarity{k.a, k.b, v})
		}
	})
	slices.SortFunc(result, func(x, y TypeSimilarity) int {
		return cmp.Or(cmp.Compare(x.A, y.A), cmp.Compare(x.B, y.B))
	})
	return result
}

type typeMappingFile struct {
	Similarities []TypeSimilarity `yaml:"similarities"`
}

// LoadYAML registers the entries of a YAML document of the form
//
//	similarities:
//	  - {a: int32, b: int64, percent: 75}
func (m *TypeMapping) LoadYAML(r io.Reader) error {
	var f typeMappingFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return fmt.Errorf("similarities: %w", err)
	}
	for i, s := range f.Similarities {
		if s.A == "" || s.B == "" {
			return fmt.Errorf("similarities[%d]: both types are required", i)
		}
		if s.Percent < 0 || s.Percent > 100 {
			return fmt.Errorf("similarities[%d]: percent %d out of range [0, 100]", i, s.Percent)
		}
	}
	m.guard.Write(func() {
		for _, s := range f.Similarities {
			m.table[makeTypePair(s.A, s.B)] = s.Percent
		}
	})
	return nil
}
