package objgraph

import (
	"reflect"
	"strings"
)

const tagName = "objgraph"

// parseFieldTag reads the `objgraph:"name"` tag of a struct field. The
// name "-" skips the field; an empty name keeps the Go field name.
func parseFieldTag(f reflect.StructField) (name string, skip bool) {
	tag, _, _ := strings.Cut(f.Tag.Get(tagName), ",")
	if tag == "-" {
		return "", true
	}
	if tag == "" {
		return f.Name, false
	}
	return tag, false
}
