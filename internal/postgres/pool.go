// Package postgres owns the pgx connection pool and its query tracing.
package postgres

import (
	"context"
	"fmt"
	"net/http"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NewPool connects to url with otel tracing and query logging installed, and
// pings the server before returning. Every connection has the pgvector types
// registered, creating the extension first if the database lacks it.
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.Tracer = wrapQueryTracer(otelpgx.NewTracer())
	cfg.AfterConnect = registerVector

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func registerVector(ctx context.Context, conn *pgx.Conn) error {
	var present bool
	if err := conn.QueryRow(ctx, `SELECT to_regtype('vector') IS NOT NULL`).Scan(&present); err != nil {
		return fmt.Errorf("look up vector type: %w", err)
	}
	if !present {
		if _, err := conn.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
			return fmt.Errorf("create vector extension: %w", err)
		}
	}
	if err := pgxvec.RegisterTypes(ctx, conn); err != nil {
		return fmt.Errorf("register vector types: %w", err)
	}
	return nil
}

// RequestStats is HTTP middleware that labels queries with source and, once
// the handler returns, annotates the request span with the number and total
// duration of queries it issued.
func RequestStats(source string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := NewReqDBStatsContext(WithSource(r.Context(), source))
			next.ServeHTTP(w, r.WithContext(ctx))

			s, _ := ReqDBStatsFromContext(ctx)
			s.mu.Lock()
			count, dur, errs := s.QueryCount, s.TotalDuration, s.ErrorCount
			s.mu.Unlock()
			if count == 0 {
				return
			}
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.Int("db.query_count", count),
					attribute.Float64("db.query_duration_ms", float64(dur.Microseconds())/1000),
					attribute.Int("db.error_count", errs),
				)
			}
		})
	}
}
