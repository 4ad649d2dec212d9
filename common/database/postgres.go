package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-vitals/common/config"

	_ "github.com/lib/pq"
)

// 连接池默认值
const (
	connMaxLifetime = 30 * time.Minute
	connMaxIdleTime = 5 * time.Minute
	pingTimeout     = 5 * time.Second
)

// Open 打开 PostgreSQL 连接池并确认可用
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	configurePool(db, cfg)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}
	return db, nil
}

func configurePool(db *sql.DB, cfg *config.DatabaseConfig) {
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	// 空闲连接数不能超过最大连接数
	idle := cfg.MaxIdle
	if cfg.MaxConns > 0 && idle > cfg.MaxConns {
		idle = cfg.MaxConns
	}
	if idle > 0 {
		db.SetMaxIdleConns(idle)
	}
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)
}

func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
