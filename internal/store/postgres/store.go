package postgres

import (
	"context"
	_ "embed"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	conf "github.com/webitel/report-orchestrator/config"
	"github.com/webitel/report-orchestrator/internal/errors"
	otelpgx "github.com/webitel/webitel-go-kit/infra/otel/instrumentation/pgx"
)

//go:embed schema.sql
var schema string

const recordsTable = "reports.records"

// Store is the Postgres Backend. Every record family shares one table keyed
// by (tbl, pk, rk); the etag column carries the concurrency token.
type Store struct {
	config *conf.DatabaseConfig
	conn   *pgxpool.Pool
}

// New creates a new Store instance.
func New(config *conf.DatabaseConfig) *Store {
	return &Store{config: config}
}

// Database returns the database connection or a custom error if it is not opened.
func (s *Store) Database() (*pgxpool.Pool, error) {
	if s.conn == nil {
		return nil, errors.Internal("database connection is not opened", errors.WithID("store.postgres.database"))
	}
	return s.conn, nil
}

// Open establishes a connection to the database and applies the schema when configured to.
func (s *Store) Open() error {
	config, err := poolConfig(s.config.Url)
	if err != nil {
		return err
	}

	ctx := context.Background()
	conn, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return errors.Internal("unable to connect", errors.WithID("store.postgres.open"), errors.WithCause(err))
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return errors.Internal("database ping failed", errors.WithID("store.postgres.open"), errors.WithCause(err))
	}
	if s.config.Migrate {
		if _, err := conn.Exec(ctx, schema); err != nil {
			conn.Close()
			return errors.NewDBInternalError("apply_schema", err)
		}
	}
	s.conn = conn
	slog.Debug("report_orchestrator.store.connection_opened", slog.String("message", "postgres: connection opened"))
	return nil
}

// poolConfig parses url and attaches the OpenTelemetry tracer for pgx.
func poolConfig(url string) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errors.Internal("invalid database url", errors.WithID("store.postgres.open"), errors.WithCause(err))
	}
	config.ConnConfig.Tracer = otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName())
	return config, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		s.conn.Close()
		slog.Debug("report_orchestrator.store.connection_closed", slog.String("message", "postgres: connection closed"))
		s.conn = nil
	}
	return nil
}
