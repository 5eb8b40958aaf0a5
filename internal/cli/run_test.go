package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowroute/internal/model"
	"github.com/roach88/rowroute/internal/store"
)

func TestRun_StopsOnContextCancel(t *testing.T) {
	cfg := writeConfig(t)
	capture(t, cfg, "--tx", "t1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	code := Execute(ctx, []string{"-c", cfg, "run"}, &stdout, &stderr)
	require.Equal(t, ExitSuccess, code, "stderr: %s", stderr.String())
	assert.Contains(t, stdout.String(), "Routing started")

	// The first pass runs before the loop waits.
	st, err := store.Open(storePath(cfg))
	require.NoError(t, err)
	defer st.Close()

	batches, err := st.ListBatches(context.Background(), store.BatchFilter{Status: model.BatchReady})
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestRun_ConfigError(t *testing.T) {
	_, stderr, code := execute(t, "-c", "/nonexistent/rowroute.yaml", "run")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "failed to load config")
}
