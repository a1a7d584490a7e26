package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(Template{Slots: weatherSlots()})

	s, err := st.Create(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", s.ID())

	_, err = st.Create(ctx, "s1")
	assert.ErrorIs(t, err, ErrExists)

	s.Apply(NewSlotSet("city", "Paris"))
	require.NoError(t, st.Save(ctx, s))

	got, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	v, _ := got.SlotValue("city")
	assert.Equal(t, "Paris", v)

	got.Apply(NewSlotSet("city", "Rome"))
	again, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	v, _ = again.SlotValue("city")
	assert.Equal(t, "Paris", v, "unsaved changes must not leak into the store")

	ids, err := st.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)
	assert.Equal(t, 1, st.ActiveCount())

	require.NoError(t, st.Delete(ctx, "s1"))
	_, err = st.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreGeneratesIDs(t *testing.T) {
	st := NewMemoryStore(Template{})
	s, err := st.Create(context.Background(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
}

func TestSessionsDoNotShareSlotDefinitions(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(Template{Slots: weatherSlots()})
	a, _ := st.Create(ctx, "a")
	b, _ := st.Create(ctx, "b")

	a.Apply(NewSlotSet("city", "Paris"))
	_, ok := b.SlotValue("city")
	assert.False(t, ok)
}
