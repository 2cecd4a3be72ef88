package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog"
)

// SQLiteConfig holds SQLite backend settings.
type SQLiteConfig struct {
	// Path is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	Path string

	// JournalMode sets the SQLite journal mode (WAL recommended).
	JournalMode string

	// BusyTimeout sets the busy timeout in milliseconds.
	BusyTimeout int

	// SynchronousMode sets the synchronous mode (NORMAL, FULL, OFF).
	SynchronousMode string

	// PollInterval is how often watchers poll for changes made by other
	// processes sharing the database file.
	PollInterval time.Duration
}

// DefaultSQLiteConfig returns a default SQLite configuration.
func DefaultSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{
		Path:            path,
		JournalMode:     "WAL",
		BusyTimeout:     5000,
		SynchronousMode: "NORMAL",
		PollInterval:    time.Second,
	}
}

// SQLiteStore implements Store on a single kv table in SQLite.
// modernc.org/sqlite is pure Go, so the result is a CGO-free single binary.
// SQLite has no change notification, so Watch is poll-based over a per-key
// revision counter.
type SQLiteStore struct {
	db           *sql.DB
	logger       zerolog.Logger
	pollInterval time.Duration

	mu       sync.Mutex
	watchers map[int]chan Event
	nextID   int
	pollOnce sync.Once
	stopPoll context.CancelFunc
}

// NewSQLiteStore opens (and if necessary creates) the kv table.
func NewSQLiteStore(ctx context.Context, cfg SQLiteConfig, logger zerolog.Logger) (*SQLiteStore, error) {
	connStr := fmt.Sprintf(
		"%s?_journal_mode=%s&_busy_timeout=%d&_synchronous=%s",
		cfg.Path, cfg.JournalMode, cfg.BusyTimeout, cfg.SynchronousMode,
	)

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv (
			k   TEXT PRIMARY KEY,
			v   BLOB NOT NULL,
			rev INTEGER NOT NULL DEFAULT 1
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	logger.Info().
		Str("path", cfg.Path).
		Str("journal_mode", cfg.JournalMode).
		Msg("connected to SQLite store")

	return &SQLiteStore{
		db:           db,
		logger:       logger,
		pollInterval: pollInterval,
		watchers:     make(map[int]chan Event),
	}, nil
}

// Get retrieves the value stored under key.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return value, nil
}

// Set stores value under key, bumping the revision counter.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (k, v, rev) VALUES (?, ?, 1)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v, rev = kv.rev + 1
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// Delete removes the value under key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, key); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Watch returns a channel of change events fed by the polling loop.
func (s *SQLiteStore) Watch(ctx context.Context) (<-chan Event, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan Event, 16)
	s.watchers[id] = ch
	s.mu.Unlock()

	s.pollOnce.Do(func() {
		pollCtx, cancel := context.WithCancel(context.Background())
		s.stopPoll = cancel
		go s.pollLoop(pollCtx)
	})

	out := make(chan Event, 16)
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
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

// pollLoop diffs per-key revisions on a fixed interval and broadcasts
// changes. Deletions surface as keys disappearing from the snapshot.
func (s *SQLiteStore) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	known := make(map[string]int64)
	first := true

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rows, err := s.db.QueryContext(ctx, `SELECT k, rev FROM kv`)
		if err != nil {
			s.logger.Debug().Err(err).Msg("watch poll failed")
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
			// Baseline snapshot; nothing to report yet.
			known = current
			first = false
			continue
		}

		for k, rev := range current {
			if old, ok := known[k]; !ok || old != rev {
				s.broadcast(Event{Key: k})
			}
		}
		for k := range known {
			if _, ok := current[k]; !ok {
				s.broadcast(Event{Key: k, Deleted: true})
			}
		}
		known = current
	}
}

func (s *SQLiteStore) broadcast(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Ping checks backend availability.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the polling loop and closes the database.
func (s *SQLiteStore) Close() error {
	if s.stopPoll != nil {
		s.stopPoll()
	}

	s.mu.Lock()
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
	s.mu.Unlock()

	s.logger.Info().Msg("closing SQLite store")
	return s.db.Close()
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
