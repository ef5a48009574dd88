package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Responses larger than this are rejected rather than buffered.
const maxResponseBytes = 1 << 20

// Dispatcher delivers signed events to webhook endpoints and parses their
// responses. Delivery is at-most-one-attempt: a failed POST is logged by the
// caller and never retried.
type Dispatcher struct {
	client *http.Client
	log    zerolog.Logger
}

// NewDispatcher creates a dispatcher whose requests time out after timeout.
func NewDispatcher(timeout time.Duration, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{Timeout: timeout},
		log:    log.With().Str("component", "webhook").Logger(),
	}
}

// Dispatch POSTs the event to wh.URL with the HMAC signature header and a
// bearer secret, and parses the JSON response. A 2xx with an empty body
// returns (nil, nil). Non-2xx statuses and undecodable bodies are errors.
func (d *Dispatcher) Dispatch(ctx context.Context, wh SimpleWebhook, event Event) (*Response, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+wh.Secret)
	req.Header.Set(SignatureHeader, Sign(body, wh.Secret))

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deliver webhook to %s: %w", wh.URL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read webhook response from %s: %w", wh.URL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("webhook %s returned status %d", wh.URL, resp.StatusCode)
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil, nil
	}

	parsed, err := ParseResponse(respBody)
	if err != nil {
		return nil, fmt.Errorf("webhook %s: %w", wh.URL, err)
	}

	d.log.Debug().
		Str("url", wh.URL).
		Str("action", event.Action).
		Int("messages", len(parsed.Messages)).
		Int("feed_actions", len(parsed.FeedActions)).
		Msg("webhook response parsed")

	return parsed, nil
}
