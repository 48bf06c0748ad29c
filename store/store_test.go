package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/semclone/semclone"
	"github.com/semclone/semclone/store"
)

func mustOpen(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStore_OutputGroup(t *testing.T) {
	db := mustOpen(t)

	g := semclone.NewOutputGroup()
	g.AddValue(7)
	g.Fault = semclone.FaultHalt
	g.NInsns = 3
	require.NoError(t, db.PutOutputGroup(42, g))

	loaded, ok, err := db.OutputGroup(42)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, g.Equal(loaded))

	_, ok, err = db.OutputGroup(43)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_LoadOutputGroups(t *testing.T) {
	db := mustOpen(t)

	g := semclone.NewOutputGroup()
	g.AddValue(1)
	require.NoError(t, db.PutOutputGroup(42, g))

	tbl, err := semclone.NewOutputGroupTable()
	require.NoError(t, err)
	defer tbl.Close()

	require.NoError(t, db.LoadOutputGroups(tbl))
	require.True(t, tbl.Exists(42))

	// Inserting an equal group returns the key it was loaded under.
	key, err := tbl.Insert(g, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(42), key)
}

func TestStore_InputGroup(t *testing.T) {
	db := mustOpen(t)

	g := semclone.NewInputGroup([]uint64{1, 2, 3}, []uint64{0x1000})
	g.NextInteger()
	require.NoError(t, db.PutInputGroup(7, g))

	loaded, ok, err := db.InputGroup(7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, g.Integers(), loaded.Integers())
	require.Equal(t, g.Pointers(), loaded.Pointers())
	require.Equal(t, 0, loaded.ConsumedIntegers())

	_, ok, err = db.InputGroup(8)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_InputGroupIDs(t *testing.T) {
	db := mustOpen(t)
	for _, id := range []uint64{3, 1, 2} {
		require.NoError(t, db.PutInputGroup(id, semclone.NewInputGroup(nil, nil)))
	}
	ids, err := db.InputGroupIDs()
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3}, ids)
}

func TestStore_Function(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		db := mustOpen(t)
		fn := &semclone.Function{
			ID:    5,
			Name:  "f",
			Entry: 0x1000,
			Code:  []byte{0xB8, 0x2A, 0x00, 0x00, 0x00, 0xC3},
		}
		require.NoError(t, db.PutFunction(fn))

		loaded, ok, err := db.Function(5)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, fn.Name, loaded.Name)
		require.Equal(t, fn.Entry, loaded.Entry)
		require.Equal(t, fn.Code, loaded.Code)
		require.Nil(t, loaded.Insns)
	})

	t.Run("MultiChunkCode", func(t *testing.T) {
		db := mustOpen(t)
		code := make([]byte, 10000)
		for i := range code {
			code[i] = byte(i)
		}
		fn := &semclone.Function{ID: 1, Name: "big", Entry: 0x1000, Code: code}
		require.NoError(t, db.PutFunction(fn))

		loaded, ok, err := db.Function(1)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, code, loaded.Code)
	})

	t.Run("SharedCode", func(t *testing.T) {
		db := mustOpen(t)
		code := []byte{0xC3}
		require.NoError(t, db.PutFunction(&semclone.Function{ID: 1, Name: "a", Entry: 0x1000, Code: code}))
		require.NoError(t, db.PutFunction(&semclone.Function{ID: 2, Name: "b", Entry: 0x2000, Code: code}))

		a, ok, err := db.Function(1)
		require.NoError(t, err)
		require.True(t, ok)
		b, ok, err := db.Function(2)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, a.Code, b.Code)
		require.Equal(t, "b", b.Name)
	})

	t.Run("NotFound", func(t *testing.T) {
		db := mustOpen(t)
		_, ok, err := db.Function(99)
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestStore_Results(t *testing.T) {
	db := mustOpen(t)
	require.NoError(t, db.PutResult(1, 10, 100))
	require.NoError(t, db.PutResult(1, 11, 101))
	require.NoError(t, db.PutResult(2, 10, 200))

	results, err := db.Results(1)
	require.NoError(t, err)
	require.Equal(t, map[uint64]uint64{10: 100, 11: 101}, results)

	results, err = db.Results(3)
	require.NoError(t, err)
	require.Empty(t, results)
}
