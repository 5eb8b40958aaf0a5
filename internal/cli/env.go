package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/rowroute/internal/clock"
	"github.com/roach88/rowroute/internal/config"
	"github.com/roach88/rowroute/internal/engine"
	"github.com/roach88/rowroute/internal/gaps"
	"github.com/roach88/rowroute/internal/lock"
	"github.com/roach88/rowroute/internal/source"
	"github.com/roach88/rowroute/internal/source/mssql"
	"github.com/roach88/rowroute/internal/source/postgres"
	"github.com/roach88/rowroute/internal/store"
)

// environment is everything a routing command needs, opened from config.
type environment struct {
	cfg     *config.Config
	store   *store.Store
	log     source.ChangeLog
	lock    lock.ClusterLock
	catalog *config.Catalog

	closers []func() error
}

// openStore loads the config and opens the routing store it names.
func openStore(opts *RootOptions) (*config.Config, *store.Store, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}

	slog.Debug("opening store", "path", cfg.Store.Path)
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open store", err).WithErrCode(ErrCodeStore)
	}
	st.SetMaxRangesInQuery(cfg.Routing.MaxGapsInQuery)
	return cfg, st, nil
}

// openEnvironment opens the store, the change-log source and the cluster
// lock. The caller must Close the result.
func openEnvironment(ctx context.Context, opts *RootOptions) (*environment, error) {
	cfg, st, err := openStore(opts)
	if err != nil {
		return nil, err
	}
	env := &environment{
		cfg:     cfg,
		store:   st,
		catalog: config.NewCatalog(cfg),
		closers: []func() error{st.Close},
	}

	if err := env.openSource(ctx); err != nil {
		env.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open change log", err).WithErrCode(ErrCodeSource)
	}

	lk, err := lock.New(ctx, cfg.Lock.Options(), st, clock.System{})
	if err != nil {
		env.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create cluster lock", err).WithErrCode(ErrCodeLock)
	}
	env.lock = lk
	return env, nil
}

func (env *environment) openSource(ctx context.Context) error {
	src := env.cfg.Source
	maxRanges := env.cfg.Routing.MaxGapsInQuery

	switch src.Type {
	case config.SourceSQLite:
		env.log = env.store
	case config.SourcePostgres:
		pg, err := postgres.Open(ctx, src.DSN,
			postgres.WithTable(src.Table),
			postgres.WithMaxRangesInQuery(maxRanges),
		)
		if err != nil {
			return err
		}
		env.log = pg
		env.closers = append(env.closers, func() error { pg.Close(); return nil })
	case config.SourceMSSQL:
		ms, err := mssql.Open(ctx, src.DSN,
			mssql.WithTable(src.Table),
			mssql.WithMaxRangesInQuery(maxRanges),
		)
		if err != nil {
			return err
		}
		env.log = ms
		env.closers = append(env.closers, ms.Close)
	default:
		return fmt.Errorf("unsupported source type: %s", src.Type)
	}
	slog.Debug("change log ready", "type", src.Type, "probe", source.Probe(env.log) != nil)
	return nil
}

// engine builds a routing engine tuned by the routing config section.
func (env *environment) engine(extra ...engine.Option) *engine.Engine {
	r := env.cfg.Routing
	initial, maximum := r.PollIntervals()
	opts := []engine.Option{
		engine.WithPeekAhead(r.PeekAhead),
		engine.WithLockLease(env.cfg.Lock.LeaseDuration()),
		engine.WithPollInterval(initial, maximum),
		engine.WithGapOptions(
			gaps.WithIDStep(r.IDStep),
			gaps.WithGapTimeout(r.GapTimeoutDuration()),
		),
	}
	return engine.New(env.store, env.log, env.catalog, env.lock, append(opts, extra...)...)
}

// Close releases resources in reverse order of opening.
func (env *environment) Close() {
	var errs []error
	for i := len(env.closers) - 1; i >= 0; i-- {
		errs = append(errs, env.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		slog.Error("error closing resources", "error", err)
	}
}
