package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// QueryTracer logs queries at debug level
type QueryTracer struct{}

func (q QueryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	slog.Debug("Running query", "SQL", data.SQL, "args", data.Args)
	return ctx
}

func (q QueryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if data.Err != nil {
		slog.Debug("Query failed", "error", data.Err)
	}
}

// connectPostgres opens a traced connection
func connectPostgres(ctx context.Context, connectStr string) (*pgx.Conn, error) {
	config, err := pgx.ParseConfig(connectStr)
	if err != nil {
		return nil, fmt.Errorf("error parsing connection string: %w", err)
	}
	config.Tracer = QueryTracer{}
	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return conn, nil
}
