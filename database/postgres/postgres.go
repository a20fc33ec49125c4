package postgres

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Config struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME" envDefault:"postgres"`
	Schema   string `env:"DB_SCHEMA" envDefault:"ingestion_schema"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	MaxOpenConns int `env:"DB_MAX_OPEN_CONNS" envDefault:"10" validate:"gte=0"`
	MaxIdleConns int `env:"DB_MAX_IDLE_CONNS" envDefault:"5" validate:"gte=0"`
}

// DSN renders cfg as a lib/pq connection URL. The schema is applied as the
// session search_path.
func (cfg Config) DSN() string {
	query := url.Values{}
	query.Set("sslmode", orDefault(cfg.SSLMode, "disable"))
	query.Set("search_path", orDefault(cfg.Schema, "ingestion_schema"))

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%s", orDefault(cfg.Host, "localhost"), orDefault(cfg.Port, "5432")),
		Path:     cfg.Name,
		RawQuery: query.Encode(),
	}
	return u.String()
}

func New(cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
