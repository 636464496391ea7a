package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

type Config struct {
	DSN      string
	MaxConns int
	Timeout  time.Duration
	TimeZone string
}

// ConfigFromEnv reads DB config from environment variables.
// DATABASE_URL wins; otherwise the DSN is assembled from DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME.
func ConfigFromEnv() Config {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = BuildDSN(
			envOr("DB_HOST", "localhost"),
			envOr("DB_PORT", "3306"),
			envOr("DB_USER", "root"),
			os.Getenv("DB_PASSWORD"),
			envOr("DB_NAME", "estatehub_db"),
		)
	}
	max := 10
	if v, err := strconv.Atoi(os.Getenv("DB_MAX_CONNS")); err == nil && v > 0 {
		max = v
	}
	return Config{DSN: dsn, MaxConns: max, Timeout: 5 * time.Second, TimeZone: os.Getenv("DATABASE_TIMEZONE")}
}

// BuildDSN assembles a go-sql-driver DSN with parseTime enabled and UTC location.
func BuildDSN(host, port, user, password, name string) string {
	c := mysql.NewConfig()
	c.Net = "tcp"
	c.Addr = host + ":" + port
	c.User = user
	c.Passwd = password
	c.DBName = name
	c.ParseTime = true
	c.Loc = time.UTC
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

// Connect opens a *sqlx.DB and verifies connectivity with a ping
func Connect(cfg Config) (*sqlx.DB, error) {
	dsn, err := WithTimeZone(cfg.DSN, cfg.TimeZone)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// WithTimeZone sets the session time_zone as a DSN param so every pooled connection gets it.
func WithTimeZone(dsn, tz string) (string, error) {
	if tz == "" {
		return dsn, nil
	}
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	if c.Params == nil {
		c.Params = map[string]string{}
	}
	c.Params["time_zone"] = "'" + strings.Trim(tz, "'") + "'"
	return c.FormatDSN(), nil
}

// WithTx runs fn inside a transaction. fn's error rolls back; otherwise the transaction commits.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// IsDuplicateKey reports whether err is a MySQL unique constraint violation (1062).
func IsDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
