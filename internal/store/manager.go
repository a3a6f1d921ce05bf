package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	// ARCHITECTURAL DISCOVERY: driver registered for sqlx.Open and the migrate sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Config holds database settings.
type Config struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// WriteTimeout bounds how long a write waits for the writer goroutine.
	WriteTimeout time.Duration
	// RetryDelay is the pause before the single retry of a failed write.
	RetryDelay time.Duration
	// AutoMigrate applies pending migrations on Open.
	AutoMigrate bool
}

// DefaultConfig returns settings sized for one classroom deployment.
func DefaultConfig() Config {
	return Config{
		Path:            "./data/classpulse.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		WriteTimeout:    30 * time.Second,
		RetryDelay:      5 * time.Second,
		AutoMigrate:     true,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	switch {
	case c.Path == "":
		return errors.New("database path cannot be empty")
	case c.MaxConnections <= 0:
		return errors.New("max connections must be greater than 0")
	case c.ConnMaxLifetime <= 0:
		return errors.New("connection max lifetime must be greater than 0")
	case c.ConnMaxIdleTime <= 0:
		return errors.New("connection max idle time must be greater than 0")
	case c.WriteTimeout <= 0:
		return errors.New("write timeout must be greater than 0")
	case c.RetryDelay < 0:
		return errors.New("retry delay cannot be negative")
	}
	return nil
}

// Manager owns the SQLite database.
// ARCHITECTURAL DISCOVERY: reads run concurrently on the pool while every
// write is funnelled through one goroutine, which avoids SQLITE_BUSY storms
type Manager struct {
	db     *sqlx.DB
	config Config
	logger *zap.Logger

	writeCh  chan writeOperation
	shutdown chan struct{}
	wg       sync.WaitGroup
	closed   bool
	mu       sync.RWMutex
}

type writeOperation struct {
	operation func(*sqlx.DB) error
	result    chan error
}

// Open connects to the database, applies pragmas and, when configured,
// pending migrations, then starts the writer goroutine.
func Open(config Config, logger *zap.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid database config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(config.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "creating database directory")
		}
	}

	db, err := sqlx.Open("sqlite3", config.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if config.AutoMigrate {
		if err := Migrate(db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := NewSchemaValidator(db).ValidateTablesExist(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	m := &Manager{
		db:       db,
		config:   config,
		logger:   logger,
		writeCh:  make(chan writeOperation, 100),
		shutdown: make(chan struct{}),
	}
	m.wg.Add(1)
	go m.writeLoop()

	logger.Info("database opened", zap.String("path", config.Path), zap.Bool("migrated", config.AutoMigrate))
	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()
	for {
		select {
		case op := <-m.writeCh:
			err := op.operation(m.db)
			if err != nil && m.config.RetryDelay > 0 && !isPermanent(err) {
				m.logger.Warn("database write failed, retrying", zap.Duration("delay", m.config.RetryDelay), zap.Error(err))
				time.Sleep(m.config.RetryDelay)
				err = op.operation(m.db)
				if err != nil {
					m.logger.Error("database write failed after retry", zap.Error(err))
				}
			}
			op.result <- err
		case <-m.shutdown:
			m.logger.Info("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues operation on the writer goroutine and waits for it.
func (m *Manager) executeWrite(ctx context.Context, operation func(*sqlx.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeCh <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrClosed
	}
}

// HealthCheck verifies connectivity and that the schema is readable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "database ping failed")
	}
	var n int
	if err := m.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM sessions"); err != nil {
		return errors.Wrap(err, "database read test failed")
	}
	return nil
}

// DB exposes the connection for migrations.
func (m *Manager) DB() *sql.DB {
	return m.db.DB
}

// Close stops the writer and closes the database. Repeated calls are no-ops.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return errors.Wrap(err, "closing database")
	}
	return nil
}

// applySQLiteOptimizations applies the pragmas the deployment relies on.
func applySQLiteOptimizations(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Wrapf(err, "executing %s", pragma)
		}
	}
	return nil
}
