package kvstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PostgresConfig holds PostgreSQL backend settings.
type PostgresConfig struct {
	DSN          string
	MaxConns     int
	MinConns     int
	PollInterval time.Duration
}

// PostgresStore implements Store on a single kv table in PostgreSQL.
// Like the SQLite backend, Watch is poll-based over a revision counter so
// that the three SQL-backed stores behave identically.
type PostgresStore struct {
	pool         *pgxpool.Pool
	logger       zerolog.Logger
	pollInterval time.Duration

	mu       sync.Mutex
	watchers map[int]chan Event
	nextID   int
	pollOnce sync.Once
	stopPoll context.CancelFunc
}

// NewPostgresStore creates the connection pool and the kv table.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger zerolog.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS kv (
			k   TEXT PRIMARY KEY,
			v   BYTEA NOT NULL,
			rev BIGINT NOT NULL DEFAULT 1
		)
	`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	logger.Info().Msg("connected to PostgreSQL store")

	return &PostgresStore{
		pool:         pool,
		logger:       logger,
		pollInterval: pollInterval,
		watchers:     make(map[int]chan Event),
	}, nil
}

// Get retrieves the value stored under key.
func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx, `SELECT v FROM kv WHERE k = $1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return value, nil
}

// Set stores value under key, bumping the revision counter.
func (p *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO kv (k, v, rev) VALUES ($1, $2, 1)
		ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v, rev = kv.rev + 1
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// Delete removes the value under key.
func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM kv WHERE k = $1`, key); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Watch returns a channel of change events fed by the polling loop.
func (p *PostgresStore) Watch(ctx context.Context) (<-chan Event, error) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	ch := make(chan Event, 16)
	p.watchers[id] = ch
	p.mu.Unlock()

	p.pollOnce.Do(func() {
		pollCtx, cancel := context.WithCancel(context.Background())
		p.stopPoll = cancel
		go p.pollLoop(pollCtx)
	})

	out := make(chan Event, 16)
	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.watchers, id)
			p.mu.Unlock()
			close(out)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *PostgresStore) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	known := make(map[string]int64)
	first := true

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rows, err := p.pool.Query(ctx, `SELECT k, rev FROM kv`)
		if err != nil {
			p.logger.Debug().Err(err).Msg("watch poll failed")
			continue
		}

		current := make(map[string]int64)
		for rows.Next() {
			var k string
			var rev int64
			if err := rows.Scan(&k, &rev); err != nil {
				break
			}
			current[k] = rev
		}
		rows.Close()

		if first {
			known = current
			first = false
			continue
		}

		for k, rev := range current {
			if old, ok := known[k]; !ok || old != rev {
				p.broadcast(Event{Key: k})
			}
		}
		for k := range known {
			if _, ok := current[k]; !ok {
				p.broadcast(Event{Key: k, Deleted: true})
			}
		}
		known = current
	}
}

func (p *PostgresStore) broadcast(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ch := range p.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Ping checks backend availability.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close stops the polling loop and closes the pool.
func (p *PostgresStore) Close() error {
	if p.stopPoll != nil {
		p.stopPoll()
	}

	p.mu.Lock()
	for id, ch := range p.watchers {
		close(ch)
		delete(p.watchers, id)
	}
	p.mu.Unlock()

	p.pool.Close()
	p.logger.Info().Msg("closed PostgreSQL store")
	return nil
}

// Ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
