package action

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/converse/internal/channel"
	"github.com/ent0n29/converse/internal/reliability"
	"github.com/ent0n29/converse/internal/session"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, BuiltinOptions{Greeting: "Hi, I'm your assistant"}))
	return r
}

func newSession() *session.Session {
	return session.New("s1", []session.Slot{
		{Name: "city", Extractable: true},
		{Name: "date", Extractable: true},
		{Name: "weather"},
		{Name: "mood"},
		{Name: "step"},
	})
}

func run(t *testing.T, a Action, out channel.OutputChannel, s *session.Session) []session.Event {
	t.Helper()
	events, err := a.Run(context.Background(), out, s)
	require.NoError(t, err)
	return events
}

func TestRegistryRejectsUnknownAndDuplicates(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.New("teleport", nil)
	assert.ErrorIs(t, err, ErrUnknownAction)

	err = r.Register(Listen, Spec{New: func(map[string]any) (Action, error) { return nil, nil }})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	_, err = r.New("bot_utter", nil)
	assert.Error(t, err, "bot_utter without a message must fail at build time")

	names := make([]string, 0)
	for _, info := range r.Describe() {
		names = append(names, info.Name)
	}
	assert.Contains(t, names, FindWeather)
	assert.IsIncreasing(t, names)
}

func TestExtractSlotsSkipsUnknownAndNonExtractable(t *testing.T) {
	r := newTestRegistry(t)
	s := newSession()
	s.Apply(session.NewUserUttered("m1", "weather in Paris tomorrow", "", session.ParseData{
		Entities: []session.Entity{
			{Entity: "city", Value: "Paris"},
			{Entity: "date", Value: "tomorrow"},
			{Entity: "planet", Value: "Mars"},
			{Entity: "weather", Value: "hail"},
		},
	}))

	a, err := r.New(ExtractSlots, nil)
	require.NoError(t, err)
	events := run(t, a, channel.Discard, s)

	require.Len(t, events, 2)
	assert.Equal(t, "city", events[0].(session.SlotSet).Key)
	assert.Equal(t, "date", events[1].(session.SlotSet).Key)
}

func TestSessionStartGreets(t *testing.T) {
	r := newTestRegistry(t)
	out := channel.NewCollecting()
	a, err := r.New(SessionStart, nil)
	require.NoError(t, err)

	events := run(t, a, out, newSession())
	require.Len(t, events, 2)
	assert.IsType(t, session.SessionStarted{}, events[0])
	assert.Equal(t, []string{"Hi, I'm your assistant"}, out.Texts())
}

func TestBotUtterRendersSlots(t *testing.T) {
	r := newTestRegistry(t)
	s := newSession()
	s.Apply(session.NewSlotSet("city", "Paris"))

	a, err := r.New("bot_utter", map[string]any{"message": "Weather in {city}: {weather}"})
	require.NoError(t, err)
	out := channel.NewCollecting()
	events := run(t, a, out, s)

	assert.Equal(t, []string{"Weather in Paris: {weather}"}, out.Texts())
	require.Len(t, events, 1)
	assert.Equal(t, "Weather in Paris: {weather}", events[0].(session.BotUttered).Text)
}

func TestQuickReplyOnlyBeforeBotReplies(t *testing.T) {
	r := newTestRegistry(t)
	a, err := r.New("bot_utter_quick_reply", map[string]any{"message": "One moment"})
	require.NoError(t, err)

	s := newSession()
	s.Apply(session.NewUserUttered("m1", "hi", "", session.ParseData{}))
	assert.Len(t, run(t, a, channel.Discard, s), 1)

	s.Apply(session.NewBotUttered("hello", nil))
	assert.Empty(t, run(t, a, channel.Discard, s))
}

func TestDisableSessionArchives(t *testing.T) {
	r := newTestRegistry(t)
	a, err := r.New(DisableSession, map[string]any{"message": "Bye"})
	require.NoError(t, err)

	s := newSession()
	s.ApplyMany(run(t, a, channel.Discard, s), true)
	assert.Equal(t, session.StatusArchived, s.Status())
}

func TestUpdateStepAndResetSlots(t *testing.T) {
	r := newTestRegistry(t)
	step, err := r.New("update_step", map[string]any{"step": "ask_city"})
	require.NoError(t, err)
	reset, err := r.New("reset_slots", map[string]any{"slots": []any{"city"}})
	require.NoError(t, err)

	assert.Equal(t, []string{StepSlot}, step.(SlotWriter).WritesSlots())
	assert.Equal(t, []string{"city"}, reset.(SlotWriter).WritesSlots())

	s := newSession()
	s.Apply(session.NewSlotSet("city", "Rome"))
	s.ApplyMany(run(t, step, channel.Discard, s), true)
	s.ApplyMany(run(t, reset, channel.Discard, s), true)

	v, _ := s.SlotValue(StepSlot)
	assert.Equal(t, "ask_city", v)
	_, ok := s.SlotValue("city")
	assert.False(t, ok)
}

func TestFindWeatherRequiresSlots(t *testing.T) {
	a := NewFindWeather(StaticWeather{})
	s := newSession()
	s.Apply(session.NewSlotSet("city", "Paris"))

	_, err := a.Run(context.Background(), channel.Discard, s)
	assert.ErrorIs(t, err, ErrMissingSlots)
	assert.Equal(t, []string{"date"}, MissingSlots(a, s))

	s.Apply(session.NewSlotSet("date", "tomorrow"))
	events := run(t, a, channel.Discard, s)
	require.Len(t, events, 1)
	set := events[0].(session.SlotSet)
	assert.Equal(t, "weather", set.Key)
	assert.NotEmpty(t, set.Value)
}

func TestStaticWeatherIsStable(t *testing.T) {
	a, _ := StaticWeather{}.Forecast(context.Background(), "Paris", "tomorrow")
	b, _ := StaticWeather{}.Forecast(context.Background(), "paris", "Tomorrow")
	assert.Equal(t, a, b)
}

func TestHTTPWeatherRetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "Paris", r.URL.Query().Get("city"))
		_, _ = w.Write([]byte(`{"forecast":"sunny"}`))
	}))
	defer srv.Close()

	w := NewHTTPWeather(srv.URL, time.Second)
	w.retry = reliability.RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxRetries: 3}

	got, err := w.Forecast(context.Background(), "Paris", "tomorrow")
	require.NoError(t, err)
	assert.Equal(t, "sunny", got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPWeatherDoesNotRetryBadRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown city", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewHTTPWeather(srv.URL, time.Second).Forecast(context.Background(), "Atlantis", "today")
	var se *reliability.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, int32(1), calls.Load())
}
