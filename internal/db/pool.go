package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"horse.fit/narrative/internal/config"
)

// EmbeddingDimensions is the width of news.articles.embedding.
const EmbeddingDimensions = 768

var ErrNoRows = sql.ErrNoRows

type CommandTag struct {
	rowsAffected int64
}

func (c CommandTag) RowsAffected() int64 {
	return c.rowsAffected
}

type Row struct {
	row *sql.Row
}

func (r *Row) Scan(dest ...any) error {
	if r == nil || r.row == nil {
		return ErrNoRows
	}
	return r.row.Scan(dest...)
}

type Rows struct {
	rows *sql.Rows
}

func (r *Rows) Next() bool {
	return r != nil && r.rows != nil && r.rows.Next()
}

func (r *Rows) Scan(dest ...any) error {
	if r == nil || r.rows == nil {
		return ErrNoRows
	}
	return r.rows.Scan(dest...)
}

func (r *Rows) Err() error {
	if r == nil || r.rows == nil {
		return nil
	}
	return r.rows.Err()
}

func (r *Rows) Close() {
	if r == nil || r.rows == nil {
		return
	}
	_ = r.rows.Close()
}

// Querier is satisfied by both the pool and an open transaction.
type Querier interface {
	QueryRow(ctx context.Context, query string, args ...any) *Row
	Query(ctx context.Context, query string, args ...any) (*Rows, error)
	Exec(ctx context.Context, query string, args ...any) (CommandTag, error)
}

type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) QueryRow(ctx context.Context, query string, args ...any) *Row {
	return &Row{row: t.db.WithContext(ctx).Raw(query, args...).Row()}
}

func (t *gormTx) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	rows, err := t.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (t *gormTx) Exec(ctx context.Context, query string, args ...any) (CommandTag, error) {
	res := t.db.WithContext(ctx).Exec(query, args...)
	return CommandTag{rowsAffected: res.RowsAffected}, res.Error
}

func (t *gormTx) Commit(ctx context.Context) error {
	return t.db.WithContext(ctx).Commit().Error
}

func (t *gormTx) Rollback(ctx context.Context) error {
	return t.db.WithContext(ctx).Rollback().Error
}

type Pool struct {
	gdb   *gorm.DB
	sqlDB *sql.DB
}

// NewPool opens the database, applies migrations and returns a ready pool.
func NewPool(ctx context.Context, cfg *config.Config) (*Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	if cfg.EmbeddingDimensions != EmbeddingDimensions {
		return nil, fmt.Errorf("EMBEDDING_DIMENSIONS must be %d to match the article embedding column", EmbeddingDimensions)
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(resolveGormLogLevel(cfg.LogLevel, cfg.Environment)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get gorm sql db: %w", err)
	}

	maxOpen := int(cfg.DBMaxConns)
	if maxOpen <= 0 {
		maxOpen = 8
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(max(1, min(int(cfg.DBMinConns), maxOpen)))
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pool := &Pool{gdb: gdb, sqlDB: sqlDB}
	if err := pool.autoMigrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("auto-migrate schema: %w", err)
	}
	return pool, nil
}

func (p *Pool) BeginTx(ctx context.Context) (Tx, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	tx := p.gdb.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormTx{db: tx}, nil
}

func (p *Pool) QueryRow(ctx context.Context, query string, args ...any) *Row {
	if p == nil || p.gdb == nil {
		return &Row{}
	}
	return &Row{row: p.gdb.WithContext(ctx).Raw(query, args...).Row()}
}

func (p *Pool) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	rows, err := p.gdb.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (p *Pool) Exec(ctx context.Context, query string, args ...any) (CommandTag, error) {
	if p == nil || p.gdb == nil {
		return CommandTag{}, fmt.Errorf("database pool is not initialized")
	}
	res := p.gdb.WithContext(ctx).Exec(query, args...)
	return CommandTag{rowsAffected: res.RowsAffected}, res.Error
}

func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.sqlDB == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	return p.sqlDB.PingContext(ctx)
}

func (p *Pool) Close() error {
	if p == nil || p.sqlDB == nil {
		return nil
	}
	return p.sqlDB.Close()
}

func IsNoRows(err error) bool {
	return errors.Is(err, ErrNoRows)
}

func resolveGormLogLevel(appLogLevel, environment string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(appLogLevel)) {
	case "trace", "debug":
		return logger.Info
	case "warn", "warning", "info", "":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent", "disabled":
		return logger.Silent
	default:
		if strings.EqualFold(strings.TrimSpace(environment), "local") {
			return logger.Warn
		}
		return logger.Error
	}
}
