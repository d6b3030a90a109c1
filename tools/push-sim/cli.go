package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/flowrunner/libs/auth"
	"github.com/md-rashed-zaman/flowrunner/libs/config"
	"github.com/md-rashed-zaman/flowrunner/libs/events"
	"github.com/md-rashed-zaman/flowrunner/libs/grpcx"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type rootOptions struct {
	Timeout time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "push-sim",
		Short:         "Simulate broker push deliveries against the worker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "per-request timeout")

	cmd.AddCommand(newSendCommand(opts))
	cmd.AddCommand(newHealthCommand(opts))
	return cmd
}

type sendOptions struct {
	*rootOptions
	Endpoint     string
	WorkflowID   string
	EventID      string
	EventType    string
	TraceID      string
	Source       string
	Secret       string
	Audience     string
	Subscription string
	Repeat       int
}

func newSendCommand(root *rootOptions) *cobra.Command {
	opts := &sendOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Post one envelope to the push endpoint, optionally redelivering it",
		Long: `Build a workflow envelope and post it as a push request.

--repeat sends the identical body several times, which is how the broker
redelivers; the worker should execute the action at most once.

Example:
  push-sim send --workflow-id 6f1c... --repeat 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSend(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Endpoint, "endpoint", config.String("PUSH_ENDPOINT", "http://localhost:8090/pubsub/push"), "worker push endpoint")
	f.StringVar(&opts.WorkflowID, "workflow-id", "", "target workflow id (required)")
	f.StringVar(&opts.EventID, "event-id", "", "reuse an event id instead of generating one")
	f.StringVar(&opts.EventType, "event-type", events.TypeWorkflowTriggered, "envelope event_type")
	f.StringVar(&opts.TraceID, "trace-id", "", "envelope trace_id (generated when empty)")
	f.StringVar(&opts.Source, "source", "push-sim", "payload source")
	f.StringVar(&opts.Secret, "secret", config.String("PUSH_AUTH_SECRET", ""), "push token signing secret")
	f.StringVar(&opts.Audience, "audience", config.String("PUSH_AUTH_AUDIENCE", "worker-service"), "push token audience")
	f.StringVar(&opts.Subscription, "subscription", "projects/local/subscriptions/push-sim", "subscription name in the push body")
	f.IntVar(&opts.Repeat, "repeat", 1, "number of identical deliveries")
	_ = cmd.MarkFlagRequired("workflow-id")
	return cmd
}

type deliveryResult struct {
	Delivery int            `json:"delivery"`
	Status   int            `json:"http_status"`
	Body     map[string]any `json:"body,omitempty"`
}

func runSend(ctx context.Context, opts *sendOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := uuid.Parse(opts.WorkflowID); err != nil {
		return fmt.Errorf("invalid --workflow-id: %w", err)
	}
	if opts.Repeat < 1 {
		return errors.New("--repeat must be at least 1")
	}

	env := events.Build(events.BuildParams{
		EventType: opts.EventType,
		Payload:   map[string]any{"workflow_id": opts.WorkflowID, "source": opts.Source},
		TraceID:   opts.TraceID,
		Source:    "push-sim",
	})
	if opts.EventID != "" {
		id, err := uuid.Parse(opts.EventID)
		if err != nil {
			return fmt.Errorf("invalid --event-id: %w", err)
		}
		env.EventID = id
	}

	body, err := events.EncodePush(env, env.EventID.String(), map[string]string{"event_type": env.EventType}, opts.Subscription)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var token string
	if opts.Secret != "" {
		token, err = auth.SignPushToken(auth.PushTokenConfig{Secret: []byte(opts.Secret), Audience: opts.Audience}, opts.Subscription)
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "event_id=%s trace_id=%s\n", env.EventID, env.TraceID)
	client := &http.Client{Timeout: opts.Timeout}
	enc := json.NewEncoder(out)
	for i := 1; i <= opts.Repeat; i++ {
		res, err := post(ctx, client, strings.TrimSpace(opts.Endpoint), raw, token)
		if err != nil {
			return fmt.Errorf("delivery %d: %w", i, err)
		}
		res.Delivery = i
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	return nil
}

func post(ctx context.Context, client *http.Client, endpoint string, raw []byte, token string) (deliveryResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return deliveryResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return deliveryResult{}, err
	}
	defer resp.Body.Close()

	res := deliveryResult{Status: resp.StatusCode}
	_ = json.NewDecoder(resp.Body).Decode(&res.Body)
	return res, nil
}

type healthOptions struct {
	*rootOptions
	Addr    string
	Service string
}

func newHealthCommand(root *rootOptions) *cobra.Command {
	opts := &healthOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the api-service gRPC health service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealth(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", config.String("API_GRPC_ADDR", "localhost:9090"), "gRPC address")
	cmd.Flags().StringVar(&opts.Service, "service", "", "health service name (empty for overall)")
	return cmd
}

func runHealth(ctx context.Context, opts *healthOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := grpcx.Dial(opts.Addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: opts.Service})
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	fmt.Fprintf(out, "status=%s\n", resp.GetStatus())
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%s is not serving", opts.Addr)
	}
	return nil
}
