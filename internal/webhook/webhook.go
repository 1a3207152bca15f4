package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/netpulse/netpulse/internal/model"
)

const (
	minTimeout = 500 * time.Millisecond
	maxTimeout = 120 * time.Second
)

// Caller delivers job outcomes to user-configured webhooks.

type Caller struct {
	client *http.Client
}

func NewCaller() *Caller {
	return &Caller{client: &http.Client{}}
}

// Call sends the payload to the hook. The hook's own timeout (clamped
// to [0.5s, 120s]) bounds the request on top of the caller's context.

func (c *Caller) Call(ctx context.Context, hook model.WebHook, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook %s: marshal payload: %w", hook.Name, err)
	}

	method := string(hook.Method)
	if method == "" {
		method = string(model.WebHookPOST)
	}

	ctx, cancel := context.WithTimeout(ctx, clampTimeout(hook.Timeout))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook %s: build request: %w", hook.Name, err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range hook.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range hook.Cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}
	if hook.Auth != nil {
		req.SetBasicAuth(hook.Auth[0], hook.Auth[1])
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", hook.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook %s: unexpected status %d", hook.Name, resp.StatusCode)
	}

	return nil
}

func clampTimeout(secs float64) time.Duration {
	if secs <= 0 {
		return 5 * time.Second
	}

	d := time.Duration(secs * float64(time.Second))
	if d < minTimeout {
		return minTimeout
	}
	if d > maxTimeout {
		return maxTimeout
	}
	return d
}
