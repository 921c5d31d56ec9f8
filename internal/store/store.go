// PostgreSQL fixing store
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/marketsim/pkg/backtest"
)

// PoolInterface defines the pool operations the store needs, satisfied by
// both *pgxpool.Pool and pgxmock pools.
type PoolInterface interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// DB wraps the PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool from a DSN
func New(ctx context.Context, dsn string, poolSize int) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	config.MaxConns = int32(poolSize)
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Database connection pool created successfully")

	return &DB{pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
		log.Info().Msg("Database connection pool closed")
	}
}

// Pool returns the underlying connection pool
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Health checks database connectivity
func (db *DB) Health(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// ============================================================================
// FIXING STORE
// ============================================================================

// FixingStore loads historical fixings into backtest series. The fixings
// table holds one row per (data_key, valuation, frequency, fixing_time).
type FixingStore struct {
	pool PoolInterface
}

// NewFixingStore creates a store over any pool implementation
func NewFixingStore(pool PoolInterface) *FixingStore {
	return &FixingStore{pool: pool}
}

// LoadSeries loads the fixings of one data key over [start, end].
func (s *FixingStore) LoadSeries(ctx context.Context, dataKey string, freq backtest.Frequency, valuation backtest.ValuationType, start, end time.Time) (backtest.Series, error) {
	query := `
		SELECT fixing_time, value
		FROM fixings
		WHERE data_key = $1
			AND frequency = $2
			AND valuation = $3
			AND fixing_time >= $4
			AND fixing_time <= $5
		ORDER BY fixing_time ASC
	`

	rows, err := s.pool.Query(ctx, query, dataKey, string(freq), string(valuation), start, end)
	if err != nil {
		return backtest.Series{}, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var points []backtest.Point
	for rows.Next() {
		var p backtest.Point
		if err := rows.Scan(&p.Time, &p.Value); err != nil {
			return backtest.Series{}, fmt.Errorf("scan failed: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return backtest.Series{}, fmt.Errorf("rows iteration failed: %w", err)
	}

	log.Info().
		Str("data_key", dataKey).
		Str("frequency", string(freq)).
		Int("fixings", len(points)).
		Msg("Loaded fixings from database")

	return backtest.NewSeries(points), nil
}

// LoadInstruments loads every instrument's fixings concurrently and
// registers the resulting series on the data manager. A failed load aborts
// the whole batch: a run on partially loaded data would be misleading.
func (s *FixingStore) LoadInstruments(ctx context.Context, dm *backtest.DataManager, instruments []backtest.Instrument, freq backtest.Frequency, valuation backtest.ValuationType, strategy backtest.MissingDataStrategy, start, end time.Time) error {
	loaded := make([]backtest.Series, len(instruments))

	g, gctx := errgroup.WithContext(ctx)
	for i, inst := range instruments {
		i, inst := i, inst
		g.Go(func() error {
			series, err := s.LoadSeries(gctx, inst.DataKey, freq, valuation, start, end)
			if err != nil {
				return fmt.Errorf("load %q: %w", inst.Name, err)
			}
			loaded[i] = series
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Registration mutates the manager, so it stays on one goroutine.
	for i, inst := range instruments {
		if err := dm.AddSeries(loaded[i], strategy, freq, inst, valuation); err != nil {
			return fmt.Errorf("register %q: %w", inst.Name, err)
		}
	}
	return nil
}
