// Package config loads the routing configuration: where the store and
// change log live, how the cluster lock works, and the channels, nodes,
// triggers and routers that decide where each change goes.
//
// Files are YAML (.yaml, .yml) or CUE (.cue). Both decode into Config.
package config

import (
	"time"

	"github.com/roach88/rowroute/internal/batch"
	"github.com/roach88/rowroute/internal/lock"
	"github.com/roach88/rowroute/internal/model"
	"github.com/roach88/rowroute/internal/route"
)

// Defaults applied to zero-valued settings.
const (
	DefaultStorePath         = "rowroute.db"
	DefaultSourceType        = SourceSQLite
	DefaultChangeTable       = "change_log"
	DefaultLockType          = lock.TypeSQLite
	DefaultLockLease         = "5m"
	DefaultLockPrefix        = "rowroute/"
	DefaultPeekAhead         = 100
	DefaultIDStep            = 1
	DefaultGapTimeout        = "1h"
	DefaultMaxGapsInQuery    = 100
	DefaultPollInterval      = "10s"
	DefaultMaxPollInterval   = "1m"
	DefaultMaxBatchSize      = 1000
	DefaultMaxBatchesPerPass = 100
	DefaultMaxDataToRoute    = 100000
)

// Change log source types.
const (
	SourceSQLite   = "sqlite"
	SourcePostgres = "postgres"
	SourceMSSQL    = "mssql"
)

// Config is the complete routing configuration.
type Config struct {
	Node    NodeConfig    `yaml:"node" json:"node"`
	Store   StoreConfig   `yaml:"store" json:"store"`
	Source  SourceConfig  `yaml:"source" json:"source"`
	Lock    LockConfig    `yaml:"lock" json:"lock"`
	Routing RoutingConfig `yaml:"routing" json:"routing"`

	Channels       []ChannelConfig       `yaml:"channels" json:"channels"`
	Nodes          []NodeEntry           `yaml:"nodes" json:"nodes"`
	Triggers       []TriggerConfig       `yaml:"triggers" json:"triggers"`
	Routers        []RouterConfig        `yaml:"routers" json:"routers"`
	TriggerRouters []TriggerRouterConfig `yaml:"trigger_routers" json:"trigger_routers"`
}

// NodeConfig identifies the local node.
type NodeConfig struct {
	ID      string `yaml:"id" json:"id"`
	GroupID string `yaml:"group_id" json:"group_id"`
}

// StoreConfig locates the SQLite routing store.
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// SourceConfig selects the change log. The sqlite source reads the store's
// own change_log table and needs no DSN.
type SourceConfig struct {
	Type  string `yaml:"type" json:"type"`
	DSN   string `yaml:"dsn" json:"dsn"`
	Table string `yaml:"table" json:"table"`
}

// LockConfig selects the cluster lock.
type LockConfig struct {
	Type             string `yaml:"type" json:"type"`
	ServerID         string `yaml:"server_id" json:"server_id"`
	Lease            string `yaml:"lease" json:"lease"`
	ConnectionString string `yaml:"connection_string" json:"connection_string"`
	Container        string `yaml:"container" json:"container"`
	Prefix           string `yaml:"prefix" json:"prefix"`
}

// LeaseDuration returns the parsed lease. Call after Validate.
func (l LockConfig) LeaseDuration() time.Duration {
	return durationOf(l.Lease)
}

// Options converts the section for lock.New.
func (l LockConfig) Options() lock.Options {
	return lock.Options{
		Type:             l.Type,
		ServerID:         l.ServerID,
		ConnectionString: l.ConnectionString,
		Container:        l.Container,
		Prefix:           l.Prefix,
	}
}

// RoutingConfig tunes the routing pass.
type RoutingConfig struct {
	PeekAhead       int    `yaml:"peek_ahead" json:"peek_ahead"`
	IDStep          int64  `yaml:"id_step" json:"id_step"`
	GapTimeout      string `yaml:"gap_timeout" json:"gap_timeout"`
	MaxGapsInQuery  int    `yaml:"max_gaps_in_query" json:"max_gaps_in_query"`
	PollInterval    string `yaml:"poll_interval" json:"poll_interval"`
	MaxPollInterval string `yaml:"max_poll_interval" json:"max_poll_interval"`
}

// GapTimeoutDuration returns the parsed gap timeout. Call after Validate.
func (r RoutingConfig) GapTimeoutDuration() time.Duration {
	return durationOf(r.GapTimeout)
}

// PollIntervals returns the parsed initial and maximum poll intervals.
// Call after Validate.
func (r RoutingConfig) PollIntervals() (time.Duration, time.Duration) {
	return durationOf(r.PollInterval), durationOf(r.MaxPollInterval)
}

// ChannelConfig configures one channel.
type ChannelConfig struct {
	ID                string `yaml:"id" json:"id"`
	ProcessingOrder   int    `yaml:"processing_order" json:"processing_order"`
	MaxBatchSize      int    `yaml:"max_batch_size" json:"max_batch_size"`
	MaxBatchesPerPass int    `yaml:"max_batches_per_pass" json:"max_batches_per_pass"`
	MaxDataToRoute    int    `yaml:"max_data_to_route" json:"max_data_to_route"`
	BatchAlgorithm    string `yaml:"batch_algorithm" json:"batch_algorithm"`
	Suspended         bool   `yaml:"suspended" json:"suspended"`
	Ignored           bool   `yaml:"ignored" json:"ignored"`
}

// Model converts the entry to a model.Channel.
func (c ChannelConfig) Model() model.Channel {
	return model.Channel{
		ID:                c.ID,
		ProcessingOrder:   c.ProcessingOrder,
		MaxBatchSize:      c.MaxBatchSize,
		MaxBatchesPerPass: c.MaxBatchesPerPass,
		MaxDataToRoute:    c.MaxDataToRoute,
		BatchAlgorithm:    c.BatchAlgorithm,
		Suspended:         c.Suspended,
		Ignored:           c.Ignored,
	}
}

// NodeEntry describes a node that may receive changes. Nodes are enabled
// unless enabled is set to false.
type NodeEntry struct {
	ID         string `yaml:"id" json:"id"`
	GroupID    string `yaml:"group_id" json:"group_id"`
	ExternalID string `yaml:"external_id" json:"external_id"`
	Enabled    *bool  `yaml:"enabled" json:"enabled"`
}

// Model converts the entry to a model.Node.
func (n NodeEntry) Model() model.Node {
	return model.Node{
		ID:         n.ID,
		GroupID:    n.GroupID,
		ExternalID: n.ExternalID,
		Enabled:    n.Enabled == nil || *n.Enabled,
	}
}

// TriggerConfig is a capture trigger: a table whose changes land in a
// channel.
type TriggerConfig struct {
	ID      string `yaml:"id" json:"id"`
	Table   string `yaml:"table" json:"table"`
	Channel string `yaml:"channel" json:"channel"`
}

// RouterConfig sends changes from a source node group to a target node
// group using a router type.
type RouterConfig struct {
	ID          string `yaml:"id" json:"id"`
	Type        string `yaml:"type" json:"type"`
	SourceGroup string `yaml:"source_group" json:"source_group"`
	TargetGroup string `yaml:"target_group" json:"target_group"`
	Expression  string `yaml:"expression" json:"expression"`
}

// TriggerRouterConfig links a trigger to a router.
type TriggerRouterConfig struct {
	Trigger string `yaml:"trigger" json:"trigger"`
	Router  string `yaml:"router" json:"router"`
	Enabled *bool  `yaml:"enabled" json:"enabled"`
}

// ApplyDefaults fills zero-valued settings.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Store.Path, DefaultStorePath)
	setDefault(&c.Source.Type, DefaultSourceType)
	setDefault(&c.Source.Table, DefaultChangeTable)
	setDefault(&c.Lock.Type, DefaultLockType)
	setDefault(&c.Lock.Lease, DefaultLockLease)
	setDefault(&c.Lock.Prefix, DefaultLockPrefix)
	setDefault(&c.Routing.GapTimeout, DefaultGapTimeout)
	setDefault(&c.Routing.PollInterval, DefaultPollInterval)
	setDefault(&c.Routing.MaxPollInterval, DefaultMaxPollInterval)
	if c.Routing.PeekAhead == 0 {
		c.Routing.PeekAhead = DefaultPeekAhead
	}
	if c.Routing.IDStep == 0 {
		c.Routing.IDStep = DefaultIDStep
	}
	if c.Routing.MaxGapsInQuery == 0 {
		c.Routing.MaxGapsInQuery = DefaultMaxGapsInQuery
	}

	for i := range c.Channels {
		ch := &c.Channels[i]
		if ch.MaxBatchSize == 0 {
			ch.MaxBatchSize = DefaultMaxBatchSize
		}
		if ch.MaxBatchesPerPass == 0 {
			ch.MaxBatchesPerPass = DefaultMaxBatchesPerPass
		}
		if ch.MaxDataToRoute == 0 {
			ch.MaxDataToRoute = DefaultMaxDataToRoute
		}
		setDefault(&ch.BatchAlgorithm, batch.AlgorithmDefault)
	}
	for i := range c.Routers {
		setDefault(&c.Routers[i].Type, route.TypeDefault)
	}
}

func setDefault(s *string, v string) {
	if *s == "" {
		*s = v
	}
}

// durationOf parses s, returning 0 for invalid input. Validate reports
// invalid durations before anything reads them.
func durationOf(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
