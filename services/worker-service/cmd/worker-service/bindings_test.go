package main

import (
	"testing"

	"github.com/md-rashed-zaman/flowrunner/libs/workflows"
	"github.com/md-rashed-zaman/flowrunner/services/worker-service/internal/actions"
	"github.com/stretchr/testify/require"
)

func TestBindEventTypes(t *testing.T) {
	registry := actions.NewRegistry(actions.NoopAction{})

	require.NoError(t, bindEventTypes(registry, " billing.charged = noop ,"))
	a, ok := registry.Lookup(workflows.Workflow{Action: "missing"}, "billing.charged")
	require.True(t, ok)
	require.Equal(t, "noop", a.Name())

	require.Error(t, bindEventTypes(registry, "x=unknown"))
	require.Error(t, bindEventTypes(registry, "no-equals"))
	require.NoError(t, bindEventTypes(registry, ""))
}
