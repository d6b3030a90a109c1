package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/flowrunner/libs/auth"
	"github.com/md-rashed-zaman/flowrunner/libs/events"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// StatusError is a push attempt the endpoint answered with a non-2xx code.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("push endpoint returned %d: %s", e.Code, e.Body)
}

// Deliverer POSTs push bodies to the worker's push endpoint.
type Deliverer struct {
	endpoint string
	tokens   auth.PushTokenConfig
	client   *http.Client
}

func NewDeliverer(endpoint string, tokens auth.PushTokenConfig, timeout time.Duration) *Deliverer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Deliverer{
		endpoint: endpoint,
		tokens:   tokens,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (d *Deliverer) Deliver(ctx context.Context, body events.PushBody) error {
	if d.endpoint == "" {
		return errors.New("push endpoint not configured")
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode push body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.tokens.Enabled() {
		token, err := auth.SignPushToken(d.tokens, body.Subscription)
		if err != nil {
			return fmt.Errorf("sign push token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	return nil
}
