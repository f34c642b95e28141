package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string    `json:"name"`
	Count int       `json:"count"`
	At    time.Time `json:"at"`
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "state", "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": db,
	}
}

func TestStore_LoadMissingKey(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var d doc
			found, err := s.Load("reminders", &d)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save("tracker.ABC", doc{Name: "first", Count: 1}))
			require.NoError(t, s.Save("tracker.ABC", doc{Name: "second", Count: 2, At: at}))

			var d doc
			found, err := s.Load("tracker.ABC", &d)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "second", d.Name)
			assert.Equal(t, 2, d.Count)
			assert.True(t, d.At.Equal(at))
		})
	}
}

func TestStore_KeysAndDelete(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save("reminders", []int{1}))
			require.NoError(t, s.Save("exts.safety-guard", []int64{42}))
			require.NoError(t, s.Save("afk", nil))

			keys, err := s.Keys()
			require.NoError(t, err)
			assert.Equal(t, []string{"afk", "exts.safety-guard", "reminders"}, keys)

			raw, ok, err := s.Raw("exts.safety-guard")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "[42]", raw)

			require.NoError(t, s.Delete("afk"))
			require.NoError(t, s.Delete("never-saved"))
			keys, err = s.Keys()
			require.NoError(t, err)
			assert.Equal(t, []string{"exts.safety-guard", "reminders"}, keys)
		})
	}
}

func TestStore_DecodeError(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save("k", "a string"))
			var d doc
			found, err := s.Load("k", &d)
			assert.True(t, found)
			assert.Error(t, err)
		})
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.db")

	db, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, db.Save("exts.name-map", map[string]string{"1": "alice"}))
	require.NoError(t, db.Close())

	db, err = OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()

	var names map[string]string
	found, err := db.Load("exts.name-map", &names)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", names["1"])
}

func TestSQLite_ClosedStore(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	assert.ErrorIs(t, db.Save("k", 1), ErrClosed)
	_, err = db.Keys()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = db.Load("k", new(int))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite("  ")
	assert.Error(t, err)
}
