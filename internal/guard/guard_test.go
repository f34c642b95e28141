package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shouya/fondbot/internal/chat"
	"github.com/shouya/fondbot/internal/store"
)

func TestNew_SeedsOnFirstRun(t *testing.T) {
	s := store.NewMemory()
	g, err := New(s, "100, -200,bogus,,300", zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []chat.ChatID{-200, 100, 300}, g.List())
	assert.True(t, g.IsAdmitted(100))
	assert.False(t, g.IsAdmitted(999))

	var persisted []chat.ChatID
	found, err := s.Load(StoreKey, &persisted)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []chat.ChatID{-200, 100, 300}, persisted)
}

func TestNew_PersistedSetWinsOverSeed(t *testing.T) {
	s := store.NewMemory()
	require.NoError(t, s.Save(StoreKey, []chat.ChatID{7}))

	g, err := New(s, "100", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []chat.ChatID{7}, g.List())
}

func TestNew_EmptySeedAdmitsNothing(t *testing.T) {
	g, err := New(store.NewMemory(), "", zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, g.List())
	assert.False(t, g.IsAdmitted(0))
}

func TestGuard_AdmitIsIdempotentAndPersists(t *testing.T) {
	s := store.NewMemory()
	g, err := New(s, "", zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, g.Admit(5))
	require.NoError(t, g.Admit(5))
	assert.Equal(t, []chat.ChatID{5}, g.List())

	reloaded, err := New(s, "", zap.NewNop())
	require.NoError(t, err)
	assert.True(t, reloaded.IsAdmitted(5))

	require.NoError(t, g.Revoke(5))
	require.NoError(t, g.Revoke(5))
	assert.False(t, g.IsAdmitted(5))

	reloaded, err = New(s, "", zap.NewNop())
	require.NoError(t, err)
	assert.False(t, reloaded.IsAdmitted(5))
}
