package action

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/converse/internal/channel"
	"github.com/ent0n29/converse/internal/reliability"
	"github.com/ent0n29/converse/internal/session"
)

const FindWeather = "find_weather"

// WeatherProvider answers forecast lookups for find_weather.
type WeatherProvider interface {
	Forecast(ctx context.Context, city, date string) (string, error)
}

type findWeather struct {
	Base
	provider WeatherProvider
}

func NewFindWeather(provider WeatherProvider) Action {
	return findWeather{
		Base: Base{
			ActionName:        FindWeather,
			ActionDescription: "Look up the forecast for the city and date slots.",
			Required:          []string{"date", "city"},
		},
		provider: provider,
	}
}

func (a findWeather) WritesSlots() []string { return []string{"weather"} }

func (a findWeather) Run(ctx context.Context, _ channel.OutputChannel, s *session.Session) ([]session.Event, error) {
	if err := CheckRequiredSlots(a, s); err != nil {
		return nil, err
	}
	city, _ := s.SlotValue("city")
	date, _ := s.SlotValue("date")
	forecast, err := a.provider.Forecast(ctx, fmt.Sprint(city), fmt.Sprint(date))
	if err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}
	return []session.Event{session.NewSlotSet("weather", forecast)}, nil
}

// StaticWeather returns a stable made-up forecast per city and date.
type StaticWeather struct{}

var staticConditions = []string{"sunny", "partly cloudy", "overcast", "light rain", "windy", "clear skies"}

func (StaticWeather) Forecast(_ context.Context, city, date string) (string, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(city) + "|" + strings.ToLower(date)))
	sum := h.Sum32()
	condition := staticConditions[int(sum%uint32(len(staticConditions)))]
	temp := 5 + int(sum/7%25)
	return fmt.Sprintf("%s, %d°C", condition, temp), nil
}

// HTTPWeather queries a forecast service with GET <base>?city=..&date=.. and
// expects {"forecast": "..."} back.
type HTTPWeather struct {
	baseURL string
	client  *http.Client
	retry   reliability.RetryPolicy
}

func NewHTTPWeather(baseURL string, timeout time.Duration) *HTTPWeather {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPWeather{
		baseURL: strings.TrimSpace(baseURL),
		client:  &http.Client{Timeout: timeout},
		retry:   reliability.DefaultRetryPolicy(),
	}
}

func (w *HTTPWeather) Forecast(ctx context.Context, city, date string) (string, error) {
	u, err := url.Parse(w.baseURL)
	if err != nil {
		return "", fmt.Errorf("weather url: %w", err)
	}
	q := u.Query()
	q.Set("city", city)
	q.Set("date", date)
	u.RawQuery = q.Encode()

	var forecast string
	err = w.retry.Retry(ctx, reliability.IsRetryableRemoteError, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &reliability.StatusError{Service: "weather", Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		var payload struct {
			Forecast string `json:"forecast"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("decode weather response: %w", err)
		}
		if payload.Forecast == "" {
			return fmt.Errorf("weather response has no forecast")
		}
		forecast = payload.Forecast
		return nil
	})
	if err != nil {
		return "", err
	}
	return forecast, nil
}
