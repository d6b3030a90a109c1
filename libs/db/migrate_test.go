package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrationNamesAreOrdered(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.Equal(t, []string{
		"0001_workflows.sql",
		"0002_execution_logs.sql",
		"0003_outbox_events.sql",
	}, names)
}
