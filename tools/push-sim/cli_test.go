package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/flowrunner/libs/auth"
	"github.com/md-rashed-zaman/flowrunner/libs/events"
	"github.com/md-rashed-zaman/flowrunner/libs/grpcx"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestCommandPresence(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"send", "health"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, sub.Name())
	}
	require.NotNil(t, cmd.PersistentFlags().Lookup("timeout"))
}

func TestSendRedeliversSameEnvelope(t *testing.T) {
	tokens := auth.PushTokenConfig{Secret: []byte("sim-secret"), Audience: "worker-service"}
	workflowID := uuid.NewString()
	eventID := uuid.NewString()

	var (
		mu     sync.Mutex
		envs   []events.Envelope
		authed int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := events.ParsePushBody(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		env, err := events.DecodePush(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		token, _ := auth.BearerToken(r)
		_, verr := auth.VerifyPushToken(tokens, token)
		mu.Lock()
		envs = append(envs, env)
		if verr == nil {
			authed++
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"send",
		"--endpoint", srv.URL,
		"--workflow-id", workflowID,
		"--event-id", eventID,
		"--secret", "sim-secret",
		"--audience", "worker-service",
		"--repeat", "3",
	})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, envs, 3)
	require.Equal(t, 3, authed)
	for _, env := range envs {
		require.Equal(t, eventID, env.EventID.String())
		require.Equal(t, envs[0].TraceID, env.TraceID)
		require.Equal(t, workflowID, env.Payload["workflow_id"])
	}
	require.Contains(t, out.String(), "event_id="+eventID)
	require.Equal(t, 3, strings.Count(out.String(), `"http_status":200`))
}

func TestSendValidatesFlags(t *testing.T) {
	for _, args := range [][]string{
		{"send"},
		{"send", "--workflow-id", "nope"},
		{"send", "--workflow-id", uuid.NewString(), "--repeat", "0"},
		{"send", "--workflow-id", uuid.NewString(), "--event-id", "bad"},
	} {
		cmd := newRootCommand()
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		cmd.SetArgs(args)
		require.Error(t, cmd.Execute(), args)
	}
}

func TestHealth(t *testing.T) {
	srv, hs := grpcx.NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"health", "--addr", lis.Addr().String()})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "status=SERVING")

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	cmd = newRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"health", "--addr", lis.Addr().String()})
	require.Error(t, cmd.Execute())
}
