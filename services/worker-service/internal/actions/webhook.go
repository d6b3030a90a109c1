package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WebhookAction forwards the event to an HTTP endpoint. Transport errors,
// 429 and 5xx are retryable; any other non-2xx is not.
type WebhookAction struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookAction(url, token string) *WebhookAction {
	return &WebhookAction{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

func (a *WebhookAction) Name() string { return "webhook" }

type webhookBody struct {
	WorkflowID string         `json:"workflow_id"`
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	TraceID    string         `json:"trace_id"`
	Payload    map[string]any `json:"payload"`
}

func (a *WebhookAction) Run(ctx context.Context, ec ExecutionContext) (Outcome, error) {
	if a.url == "" {
		return Outcome{}, errors.New("webhook action url not configured")
	}
	raw, err := json.Marshal(webhookBody{
		WorkflowID: ec.Workflow.ID.String(),
		EventID:    ec.Event.EventID.String(),
		EventType:  ec.Event.EventType,
		TraceID:    ec.TraceID,
		Payload:    ec.Event.Payload,
	})
	if err != nil {
		return Outcome{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(raw))
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", ec.Event.EventID.String()+":"+ec.Workflow.ID.String())
	req.Header.Set("X-Trace-Id", ec.TraceID)
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Failure("webhook cancelled: "+ctx.Err().Error(), true), nil
		}
		return Failure("webhook request failed: "+err.Error(), true), nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Success(map[string]any{"status_code": resp.StatusCode}), nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Failure(fmt.Sprintf("webhook returned %d", resp.StatusCode), true), nil
	default:
		return Failure(fmt.Sprintf("webhook returned %d", resp.StatusCode), false), nil
	}
}
