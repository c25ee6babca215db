package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/objgraph"
)

type note struct {
	Text string
	Next *note
}

func writeStore(t *testing.T, backend objgraph.Backend) {
	t.Helper()
	tt := objgraph.NewTypeTable(objgraph.TypeTableOptions{})
	objgraph.RegisterType[note](tt, "note")
	s, err := objgraph.OpenStore(backend, tt, objgraph.StoreOptions{})
	require.NoError(t, err)
	first := &note{Text: "first"}
	first.Next = &note{Text: "second", Next: first}
	_, err = s.SetRoot(first)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestRun(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "notes.db")
	writeStore(t, must(objgraph.NewBoltBackend(fn, objgraph.BoltOptions{NoSync: true})))
	assert.NoError(t, run([]string{"--db", fn, "--all"}))
	assert.NoError(t, run([]string{"--db", fn, "--types", "--fields", "--root"}))

	dir := t.TempDir()
	writeStore(t, must(objgraph.NewDirBackend(dir, objgraph.DirOptions{NoSync: true})))
	assert.NoError(t, run([]string{"--dir", dir, "-a"}))
}

func TestRun_Errors(t *testing.T) {
	assert.Error(t, run(nil))
	assert.Error(t, run([]string{"--db", "a", "--dir", "b"}))
	assert.Error(t, run([]string{"--db", filepath.Join(t.TempDir(), "missing.db")}))
	assert.Error(t, run([]string{"--bogus"}))
	assert.Error(t, run([]string{"--dir", t.TempDir(), "extra"}))
	assert.NoError(t, run([]string{"--help"}))
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
