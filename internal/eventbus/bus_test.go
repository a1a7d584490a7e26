package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/converse/internal/session"
)

func receive(t *testing.T, ch <-chan session.Event) session.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBusDeliversEventsPerSession(t *testing.T) {
	bus := New()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bus.Subscribe(ctx, "a")
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx, "b")
	require.NoError(t, err)

	require.NoError(t, bus.Publish("a",
		session.NewUserUttered("m1", "hi", "test", session.ParseData{}),
		session.NewBotUttered("hello", nil),
	))
	require.NoError(t, bus.Publish("b", session.NewSlotSet("city", "Oslo")))

	first := receive(t, a)
	assert.Equal(t, session.TypeUserUttered, first.Type())
	second := receive(t, a)
	bot, ok := second.(session.BotUttered)
	require.True(t, ok)
	assert.Equal(t, "hello", bot.Text)

	slot, ok := receive(t, b).(session.SlotSet)
	require.True(t, ok)
	assert.Equal(t, "Oslo", slot.Value)
}

func TestBusCloseEndsSubscriptions(t *testing.T) {
	bus := New()
	ch, err := bus.Subscribe(context.Background(), "a")
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	assert.NoError(t, bus.Publish("a", session.NewSlotUnset("city")))

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
}
