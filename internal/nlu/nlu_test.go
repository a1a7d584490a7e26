package nlu

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/converse/internal/config"
	"github.com/ent0n29/converse/internal/session"
)

func defaultParser(t *testing.T) Parser {
	t.Helper()
	a, err := config.LoadAssistant("")
	require.NoError(t, err)
	p, err := New(a.NLU)
	require.NoError(t, err)
	return p
}

func entity(pd session.ParseData, name string) (any, bool) {
	for _, e := range pd.Entities {
		if e.Entity == name {
			return e.Value, true
		}
	}
	return nil, false
}

func TestKeywordParsesDefaultAssistant(t *testing.T) {
	p := defaultParser(t)
	tests := []struct {
		text   string
		intent string
		city   string
		date   string
	}{
		{text: "What's the weather in New York tomorrow?", intent: "ask_weather", city: "New York", date: "tomorrow"},
		{text: "hello there", intent: "greet"},
		{text: "ok bye", intent: "goodbye"},
		{text: "tell me a joke"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			pd, err := p.Parse(context.Background(), tt.text, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.intent, pd.IntentName())

			city, ok := entity(pd, "city")
			assert.Equal(t, tt.city != "", ok)
			if tt.city != "" {
				assert.Equal(t, tt.city, city)
			}
			date, ok := entity(pd, "date")
			assert.Equal(t, tt.date != "", ok)
			if tt.date != "" {
				assert.Equal(t, tt.date, date)
			}
		})
	}
}

func TestKeywordPatternsWin(t *testing.T) {
	p, err := NewKeyword(config.NLU{Intents: []config.Intent{
		{Name: "chitchat", Keywords: []string{"book"}},
		{Name: "book_table", Patterns: []string{`(?i)^book a table`}},
	}})
	require.NoError(t, err)

	pd, err := p.Parse(context.Background(), "Book a table for two", nil)
	require.NoError(t, err)
	assert.Equal(t, "book_table", pd.IntentName())
	assert.Equal(t, 1.0, pd.Intent.Confidence)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(config.NLU{Type: "magic"})
	assert.ErrorIs(t, err, ErrUnknownParser)

	_, err = New(config.NLU{Type: "remote"})
	assert.Error(t, err)

	_, err = New(config.NLU{Entities: []config.EntityRule{{Name: "x", Patterns: []string{"("}}}})
	assert.Error(t, err)

	p, err := New(config.NLU{Type: "none"})
	require.NoError(t, err)
	pd, err := p.Parse(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Nil(t, pd.Intent)
}

func TestRemoteParser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"intent":{"name":"greet","confidence":0.9},"entities":[{"entity":"city","value":"Oslo"}]}`))
	}))
	defer srv.Close()

	p, err := New(config.NLU{Type: "remote", URL: srv.URL})
	require.NoError(t, err)
	pd, err := p.Parse(context.Background(), "hi", session.New("s1", nil))
	require.NoError(t, err)
	assert.Equal(t, "greet", pd.IntentName())
	city, _ := entity(pd, "city")
	assert.Equal(t, "Oslo", city)
}

func TestRemoteParserFallback(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"intent":{"name":"goodbye","confidence":1}}`))
	}))
	defer up.Close()

	p, err := New(config.NLU{Type: "remote", URL: down.URL, FallbackURL: up.URL})
	require.NoError(t, err)
	pd, err := p.Parse(context.Background(), "bye", nil)
	require.NoError(t, err)
	assert.Equal(t, "goodbye", pd.IntentName())
}
