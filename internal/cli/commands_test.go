package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowroute/internal/engine"
	"github.com/roach88/rowroute/internal/model"
	"github.com/roach88/rowroute/internal/store"
)

const testConfig = `node:
  id: corp-000
  group_id: corp
store:
  path: %s
routing:
  gap_timeout: 0s
channels:
  - id: main
nodes:
  - id: n1
    group_id: store
triggers:
  - id: item
    table: item
    channel: main
routers:
  - id: corp_to_store
    source_group: corp
    target_group: store
trigger_routers:
  - trigger: item
    router: corp_to_store
`

// writeConfig writes a config whose store lives in a temp dir and returns
// its path.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rowroute.yaml")
	content := fmt.Sprintf(testConfig, filepath.Join(dir, "route.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func storePath(cfg string) string {
	return filepath.Join(filepath.Dir(cfg), "route.db")
}

func execute(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	stdout, stderr, code := execute(t, args...)
	require.Equal(t, ExitSuccess, code, "stderr: %s", stderr)
	return stdout
}

func decodeData[T any](t *testing.T, out string) T {
	t.Helper()
	var resp struct {
		Status string `json:"status"`
		Data   T      `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func capture(t *testing.T, cfg string, args ...string) {
	t.Helper()
	mustExecute(t, append([]string{"-c", cfg, "capture", "--table", "item", "--channel", "main"}, args...)...)
}

func TestCapture_AssignsIDs(t *testing.T) {
	cfg := writeConfig(t)

	out := mustExecute(t, "-c", cfg, "--format", "json",
		"capture", "--table", "item", "--channel", "main", "--tx", "t1", "--row", `{"ITEM_ID":"11"}`)
	rec := decodeData[model.ChangeRecord](t, out)
	assert.Equal(t, int64(1), rec.ID)
	assert.Equal(t, model.EventInsert, rec.EventType)
	assert.Equal(t, "t1", rec.TransactionID)

	out = mustExecute(t, "-c", cfg, "capture", "--table", "item", "--channel", "main", "--event", "U")
	assert.Contains(t, out, "captured change 2")
}

func TestCapture_RejectsUnknownEvent(t *testing.T) {
	cfg := writeConfig(t)

	_, stderr, code := execute(t, "-c", cfg, "capture", "--table", "item", "--channel", "main", "--event", "X")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, `unknown event type "X"`)
}

func TestRoute_RoutesCapturedChanges(t *testing.T) {
	cfg := writeConfig(t)
	capture(t, cfg, "--tx", "t1")
	capture(t, cfg, "--tx", "t1")

	out := mustExecute(t, "-c", cfg, "--format", "json", "route")
	res := decodeData[engine.PassResult](t, out)
	assert.False(t, res.Skipped)
	require.Len(t, res.Channels, 1)
	assert.Equal(t, "main", res.Channels[0].ChannelID)
	assert.Equal(t, 2, res.Channels[0].Stats.DataRead)
	assert.Equal(t, 2, res.Channels[0].Stats.DataRouted)
	assert.Equal(t, 1, res.Channels[0].Stats.BatchesSealed)

	out = mustExecute(t, "-c", cfg, "--format", "json", "batches", "--ids")
	views := decodeData[[]BatchView](t, out)
	require.Len(t, views, 1)
	assert.Equal(t, "n1", views[0].NodeID)
	assert.Equal(t, model.BatchReady, views[0].Status)
	assert.Equal(t, []int64{1, 2}, views[0].IDs)

	out = mustExecute(t, "-c", cfg, "--format", "json", "gaps", "--status", "OPEN")
	gs := decodeData[[]model.Gap](t, out)
	require.Len(t, gs, 1)
	assert.Equal(t, int64(3), gs[0].StartID)
	assert.True(t, gs[0].OpenEnded())
}

func TestRoute_TextOutput(t *testing.T) {
	cfg := writeConfig(t)
	capture(t, cfg)

	out := mustExecute(t, "-c", cfg, "route")
	assert.Contains(t, out, "1 read, 1 batch(es) sealed")
	assert.Contains(t, out, "CHANNEL")
	assert.Contains(t, out, "main")
}

func TestRoute_SkippedWhileLockHeld(t *testing.T) {
	cfg := writeConfig(t)

	st, err := store.Open(storePath(cfg))
	require.NoError(t, err)
	ok, err := st.TryLock(context.Background(), "ROUTE", "other-host", time.Now().UTC(), time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, st.Close())

	out := mustExecute(t, "-c", cfg, "route")
	assert.Contains(t, out, "skipped")

	out = mustExecute(t, "-c", cfg, "lock", "status")
	assert.Contains(t, out, "ROUTE: held by other-host")

	out = mustExecute(t, "-c", cfg, "lock", "release")
	assert.Contains(t, out, "released lock held by other-host")

	out = mustExecute(t, "-c", cfg, "lock", "status")
	assert.Contains(t, out, "ROUTE: free")
	assert.Contains(t, out, "last locked by other-host")

	out = mustExecute(t, "-c", cfg, "lock", "release")
	assert.Contains(t, out, "ROUTE: not held")
}

func TestGaps_OutOfOrderCommitExpires(t *testing.T) {
	cfg := writeConfig(t)
	capture(t, cfg, "--id", "1")
	capture(t, cfg, "--id", "3")

	// The first pass finds the gap while flushing; the next one expires it.
	mustExecute(t, "-c", cfg, "route")
	mustExecute(t, "-c", cfg, "route")

	out := mustExecute(t, "-c", cfg, "--format", "json", "gaps", "--status", "SKIPPED_EXPIRED")
	gs := decodeData[[]model.Gap](t, out)
	require.Len(t, gs, 1)
	assert.Equal(t, int64(2), gs[0].StartID)
	assert.Equal(t, int64(2), gs[0].EndID)

	out = mustExecute(t, "-c", cfg, "gaps")
	assert.Contains(t, out, "SKIPPED_EXPIRED")
	assert.Contains(t, out, "∞")
}

func TestGaps_RejectsUnknownStatus(t *testing.T) {
	cfg := writeConfig(t)

	_, stderr, code := execute(t, "-c", cfg, "gaps", "--status", "CLOSED")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "unknown gap status")
}

func TestBatches_ReadyForAndMark(t *testing.T) {
	cfg := writeConfig(t)
	capture(t, cfg)
	mustExecute(t, "-c", cfg, "route")

	out := mustExecute(t, "-c", cfg, "--format", "json", "batches", "--ready-for", "n1")
	views := decodeData[[]BatchView](t, out)
	require.Len(t, views, 1)

	out = mustExecute(t, "-c", cfg, "batches", "mark", fmt.Sprint(views[0].ID), "SE")
	assert.Contains(t, out, "marked SE")

	out = mustExecute(t, "-c", cfg, "--format", "json", "batches", "--ready-for", "n1")
	assert.Empty(t, decodeData[[]BatchView](t, out))

	out = mustExecute(t, "-c", cfg, "batches", "--status", "SE")
	assert.Contains(t, out, "SE")

	_, stderr, code := execute(t, "-c", cfg, "batches", "mark", "999", "OK")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "batch not found")

	_, _, code = execute(t, "-c", cfg, "batches", "mark", "1", "DONE")
	assert.Equal(t, ExitCommandError, code)
}

func TestConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, stderr, code := execute(t, "-c", filepath.Join(t.TempDir(), "nope.yaml"), "route")
		assert.Equal(t, ExitCommandError, code)
		assert.Contains(t, stderr, "Error [E002]")
	})

	t.Run("invalid config reports every error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("channels:\n  - id: main\n    batch_algorithm: fancy\n"), 0644))

		_, stderr, code := execute(t, "-c", path, "--format", "json", "gaps")
		assert.Equal(t, ExitCommandError, code)

		var resp CLIResponse
		require.NoError(t, json.Unmarshal([]byte(stderr), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeConfig, resp.Error.Code)
		details, ok := resp.Error.Details.([]any)
		require.True(t, ok)
		assert.GreaterOrEqual(t, len(details), 3) // node.id, node.group_id, batch_algorithm
	})
}
