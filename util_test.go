package objgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRpad(t *testing.T) {
	assert.Equal(t, "abc..", rpad("abc", 5, '.'))
	assert.Equal(t, "abc", rpad("abc", 1, '.'))
}

func TestHexstr(t *testing.T) {
	assert.Equal(t, "<nil>", hexstr(nil))
	assert.Equal(t, "<empty>", hexstr([]byte{}))
	assert.Equal(t, "aabb", hexstr([]byte{0xAA, 0xBB}))
}

func TestLogAttrs(t *testing.T) {
	assert.Equal(t, "0000000000000abc", hexAttr("fp", 0xABC).Value.String())
	a := oidAttr(7)
	assert.Equal(t, "oid", a.Key)
	assert.Equal(t, uint64(7), a.Value.Uint64())
}

func TestMust(t *testing.T) {
	assert.Equal(t, 42, must(42, nil))
	assert.PanicsWithValue(t, errTest, func() { must(0, errTest) })
}
