package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/md-rashed-zaman/flowrunner/libs/db"
	"github.com/md-rashed-zaman/flowrunner/libs/workflows"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.Migrate(ctx, pool)
	require.NoError(t, err)

	wf, err := workflows.NewPostgresStore(pool).Create(ctx, workflows.Workflow{
		Name:     "ledger-test-" + time.Now().UTC().Format("20060102150405.000000000"),
		IsActive: true,
	})
	require.NoError(t, err)

	runStoreContract(t, NewPostgresStore(pool), wf.ID)
}
