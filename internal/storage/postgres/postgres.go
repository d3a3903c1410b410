package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/ageniuscoder/mmchat/convsync/internal/storage"
)

// Postgres keeps the dsn so the change feed can open its own listener
// connection.
type Postgres struct {
	Db  *sql.DB
	dsn string
}

func New(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting postgres: %w", err)
	}
	return &Postgres{Db: db, dsn: dsn}, nil
}

func (s *Postgres) Store() *storage.Store {
	return storage.New(s.Db, storage.Postgres)
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.Db.PingContext(ctx)
}

func (s *Postgres) Close() error {
	return s.Db.Close()
}
