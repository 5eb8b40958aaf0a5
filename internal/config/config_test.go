package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowroute/internal/lock"
	"github.com/roach88/rowroute/internal/model"
)

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "rowroute.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "corp-000", cfg.Node.ID)
	assert.Equal(t, "/var/lib/rowroute/route.db", cfg.Store.Path)
	assert.Equal(t, 50, cfg.Routing.PeekAhead)
	assert.Equal(t, 30*time.Minute, cfg.Routing.GapTimeoutDuration())

	require.Len(t, cfg.Channels, 2)
	assert.Equal(t, 500, cfg.Channels[0].MaxBatchSize)
	assert.Equal(t, "transactional", cfg.Channels[0].BatchAlgorithm)
	assert.Equal(t, DefaultMaxBatchSize, cfg.Channels[1].MaxBatchSize)
	assert.Equal(t, "default", cfg.Channels[1].BatchAlgorithm)
}

func TestLoad_CUEMatchesYAML(t *testing.T) {
	fromYAML, err := Load(filepath.Join("testdata", "rowroute.yaml"))
	require.NoError(t, err)
	fromCUE, err := Load(filepath.Join("testdata", "rowroute.cue"))
	require.NoError(t, err)

	assert.Equal(t, fromYAML, fromCUE)
}

func TestApplyDefaults(t *testing.T) {
	cfg, err := Parse("min.yaml", []byte("node: {id: a, group_id: g}\nchannels: [{id: c}]\n"), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, DefaultStorePath, cfg.Store.Path)
	assert.Equal(t, SourceSQLite, cfg.Source.Type)
	assert.Equal(t, DefaultChangeTable, cfg.Source.Table)
	assert.Equal(t, lock.TypeSQLite, cfg.Lock.Type)
	assert.Equal(t, 5*time.Minute, cfg.Lock.LeaseDuration())
	assert.Equal(t, DefaultPeekAhead, cfg.Routing.PeekAhead)
	assert.Equal(t, int64(DefaultIDStep), cfg.Routing.IDStep)
	assert.Equal(t, time.Hour, cfg.Routing.GapTimeoutDuration())
	assert.Equal(t, DefaultMaxGapsInQuery, cfg.Routing.MaxGapsInQuery)

	initial, maximum := cfg.Routing.PollIntervals()
	assert.Equal(t, 10*time.Second, initial)
	assert.Equal(t, time.Minute, maximum)

	ch := cfg.Channels[0].Model()
	assert.Equal(t, model.Channel{
		ID:                "c",
		MaxBatchSize:      DefaultMaxBatchSize,
		MaxBatchesPerPass: DefaultMaxBatchesPerPass,
		MaxDataToRoute:    DefaultMaxDataToRoute,
		BatchAlgorithm:    "default",
	}, ch)
}

func TestParse_YAMLRejectsUnknownFields(t *testing.T) {
	_, err := Parse("bad.yaml", []byte("node: {id: a, group_id: g}\nchanels: []\n"), FormatYAML)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chanels")
}

func TestParse_EmptyYAML(t *testing.T) {
	_, err := Parse("empty.yaml", nil, FormatYAML)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty configuration")
}

func TestParse_CUERejectsUnknownFields(t *testing.T) {
	src := `
node: {id: "a", group_id: "g"}
chanels: []
`
	_, err := Parse("bad.cue", []byte(src), FormatCUE)
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Contains(t, pe.Error(), "chanels")
}

func TestParse_CUETypeError(t *testing.T) {
	src := `
node: {id: "a", group_id: "g"}
routing: peek_ahead: "lots"
`
	_, err := Parse("bad.cue", []byte(src), FormatCUE)
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.True(t, pe.Pos.IsValid())
}

func TestParse_CUESyntaxError(t *testing.T) {
	_, err := Parse("bad.cue", []byte("node: {"), FormatCUE)
	require.Error(t, err)
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatCUE, FormatOf("a/b.cue"))
	assert.Equal(t, FormatCUE, FormatOf("B.CUE"))
	assert.Equal(t, FormatYAML, FormatOf("a.yaml"))
	assert.Equal(t, FormatYAML, FormatOf("a.json"))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
