package objgraph

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listedHandle struct {
	handle string
	size   int
}

func listHandles(t *testing.T, b Backend, prefix string) []listedHandle {
	t.Helper()
	var result []listedHandle
	require.NoError(t, b.(HandleLister).ListHandles(prefix, func(handle string, size int) error {
		result = append(result, listedHandle{handle, size})
		return nil
	}))
	return result
}

func testBackends(t *testing.T) map[string]Backend {
	bolt, err := NewBoltBackend(filepath.Join(t.TempDir(), "test.db"), BoltOptions{NoSync: true})
	require.NoError(t, err)
	dir, err := NewDirBackend(t.TempDir(), DirOptions{NoSync: true, Verbose: true})
	require.NoError(t, err)
	return map[string]Backend{
		"mem":  NewMemBackend(),
		"bolt": bolt,
		"dir":  dir,
	}
}

func TestBackend_ReadWrite(t *testing.T) {
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer b.Close()
			data, err := b.ReadBytes("meta")
			require.NoError(t, err)
			assert.Nil(t, data, "absent handles read as nil")

			n, err := b.WriteBytes("meta", []byte("one"))
			require.NoError(t, err)
			assert.Equal(t, 3, n)
			n, err = b.WriteBytes("e/0000000000000002", []byte{1, 2})
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			_, err = b.WriteBytes("e/0000000000000001", []byte{1})
			require.NoError(t, err)

			data, err = b.ReadBytes("meta")
			require.NoError(t, err)
			assert.Equal(t, []byte("one"), data)
			data[0] = 'X'
			again, _ := b.ReadBytes("meta")
			assert.Equal(t, []byte("one"), again, "returned slices belong to the caller")

			_, err = b.WriteBytes("meta", []byte("second"))
			require.NoError(t, err)
			data, _ = b.ReadBytes("meta")
			assert.Equal(t, []byte("second"), data)

			assert.Equal(t, []listedHandle{
				{"e/0000000000000001", 1},
				{"e/0000000000000002", 2},
			}, listHandles(t, b, "e/"))
			assert.Len(t, listHandles(t, b, ""), 3)
			assert.Empty(t, listHandles(t, b, "zzz"))
		})
	}
}

func TestBackend_Batch(t *testing.T) {
	for name, b := range testBackends(t) {
		bw, ok := b.(BatchWriter)
		if !ok {
			b.Close()
			continue
		}
		t.Run(name, func(t *testing.T) {
			defer b.Close()
			require.NoError(t, bw.WriteBatch([]HandleBytes{{"a", []byte{1}}, {"b", []byte{2}}}))
			assert.Len(t, listHandles(t, b, ""), 2)

			err := bw.WriteBatch([]HandleBytes{{"c", []byte{3}}, {"", []byte{4}}})
			assert.Error(t, err)
			data, err := b.ReadBytes("c")
			require.NoError(t, err)
			assert.Nil(t, data, "a failed batch writes nothing")
		})
	}
}

func TestMemBackend_Concurrent(t *testing.T) {
	b := NewMemBackend()
	bw := b.(BatchWriter)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				handle := entityHandle(ObjectID(w*100 + i + 1))
				assert.NoError(t, bw.WriteBatch([]HandleBytes{{handle, []byte{byte(w), byte(i)}}}))
				data, err := b.ReadBytes(handle)
				assert.NoError(t, err)
				assert.Equal(t, []byte{byte(w), byte(i)}, data)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, listHandles(t, b, entityHandlePrefix), 160)

	require.NoError(t, b.Close())
	_, err := b.ReadBytes("meta")
	assert.ErrorIs(t, err, errStorageClosed)
	assert.ErrorIs(t, bw.WriteBatch(nil), errStorageClosed)
}

func TestBoltBackend_ReadOnly(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "ro.db")
	b := must(NewBoltBackend(fn, BoltOptions{NoSync: true}))
	_, err := b.WriteBytes("meta", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	ro, err := NewBoltBackend(fn, BoltOptions{ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()
	data, err := ro.ReadBytes("meta")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
	_, err = ro.WriteBytes("meta", []byte("y"))
	assert.Error(t, err)
}

func TestDirBackend(t *testing.T) {
	dir := t.TempDir()
	b := must(NewDirBackend(dir, DirOptions{NoSync: true}))

	for _, handle := range []string{"", "../escape", "/abs", "a\\b", "meta.tmp"} {
		_, err := b.WriteBytes(handle, []byte{1})
		assert.Error(t, err, "%q", handle)
		_, err = b.ReadBytes(handle)
		assert.Error(t, err, "%q", handle)
	}

	_, err := b.WriteBytes("e/0000000000000001", []byte{9})
	require.NoError(t, err)
	raw, err := os.ReadFile(filepath.Join(dir, "e", "0000000000000001"))
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, raw)

	// leftovers of interrupted writes are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "e", "0000000000000002.tmp"), []byte{1}, 0o666))
	assert.Equal(t, []listedHandle{{"e/0000000000000001", 1}}, listHandles(t, b, ""))

	_, err = b.WriteBytes("empty", nil)
	require.NoError(t, err)
	data, err := b.ReadBytes("empty")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestSwitchableWriteController(t *testing.T) {
	var c SwitchableWriteController
	assert.True(t, c.IsWritable())
	c.Disable()
	assert.False(t, c.IsWritable())
	c.Enable()
	assert.True(t, c.IsWritable())
}
