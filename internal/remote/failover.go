package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ent0n29/converse/internal/logging"
)

// Poster is what policies and parsers need from a remote service.
type Poster interface {
	Post(ctx context.Context, in any) ([]byte, error)
	PostJSON(ctx context.Context, in, out any) error
}

// Failover prefers the primary service and switches to the fallback when a
// call to the primary fails. Once the fallback has answered it stays active
// until it fails; then the primary is tried again.
type Failover struct {
	primary  *Client
	fallback *Client

	fallbackActive atomic.Bool
}

// NewFailover returns primary itself when fallbackURL is empty.
func NewFailover(primary *Client, fallbackURL string) Poster {
	fallbackURL = strings.TrimSpace(fallbackURL)
	if fallbackURL == "" {
		return primary
	}
	fb := &Client{
		service: primary.service + " fallback",
		url:     fallbackURL,
		client:  primary.client,
		retry:   primary.retry,
	}
	return &Failover{primary: primary, fallback: fb}
}

// FallbackActive reports whether calls currently go to the fallback.
func (f *Failover) FallbackActive() bool { return f.fallbackActive.Load() }

func (f *Failover) Post(ctx context.Context, in any) ([]byte, error) {
	first, second := f.primary, f.fallback
	if f.fallbackActive.Load() {
		first, second = f.fallback, f.primary
	}

	body, err := first.Post(ctx, in)
	if err == nil {
		return body, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return nil, err
	}

	logging.Warn().Err(err).Str("service", first.service).Str("next", second.url).Msg("remote service failed, switching")
	body, secondErr := second.Post(ctx, in)
	if secondErr != nil {
		return nil, fmt.Errorf("%s error: %w; %s error: %v", first.service, err, second.service, secondErr)
	}
	f.fallbackActive.Store(second == f.fallback)
	return body, nil
}

func (f *Failover) PostJSON(ctx context.Context, in, out any) error {
	body, err := f.Post(ctx, in)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", f.primary.service, err)
	}
	return nil
}
