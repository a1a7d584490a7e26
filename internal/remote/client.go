// Package remote is the JSON-over-HTTP client used to reach out-of-process
// policies and NLU services.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/converse/internal/reliability"
)

const maxBody = 4 << 20

type Client struct {
	service string
	url     string
	client  *http.Client
	retry   reliability.RetryPolicy
}

func New(service, url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		service: service,
		url:     strings.TrimSpace(url),
		client:  &http.Client{Timeout: timeout},
		retry:   reliability.DefaultRetryPolicy(),
	}
}

// WithRetry replaces the retry policy.
func (c *Client) WithRetry(p reliability.RetryPolicy) *Client {
	c.retry = p
	return c
}

func (c *Client) URL() string { return c.url }

// Post sends in as JSON and returns the raw response body. Retryable status
// codes and transport errors are retried.
func (c *Client) Post(ctx context.Context, in any) ([]byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", c.service, err)
	}

	var body []byte
	err = c.retry.Retry(ctx, reliability.IsRetryableRemoteError, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		res, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("send %s request: %w", c.service, err)
		}
		defer res.Body.Close()

		b, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
		if err != nil {
			return fmt.Errorf("read %s response: %w", c.service, err)
		}
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			if len(b) > 4<<10 {
				b = b[:4<<10]
			}
			return &reliability.StatusError{Service: c.service, Code: res.StatusCode, Body: strings.TrimSpace(string(b))}
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// PostJSON is Post followed by decoding the body into out.
func (c *Client) PostJSON(ctx context.Context, in, out any) error {
	body, err := c.Post(ctx, in)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.service, err)
	}
	return nil
}

// ExtractText finds a reply text in loosely shaped JSON responses.
func ExtractText(obj map[string]any) string {
	for _, k := range []string{"text", "message", "output", "delta"} {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	return ""
}
