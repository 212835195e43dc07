// Package pgstore provides a PostgreSQL + pgvector implementation of
// records.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/linnemanlabs/sift/internal/records"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sift/internal/records/pgstore")

//go:embed schema.sql
var schemaTemplate string

// Store persists alert records in PostgreSQL.
type Store struct {
	pool        *pgxpool.Pool
	dim         int
	maxDistance float64
}

// New wraps pool, applies the schema and returns a ready Store. dim is the
// embedding width; maxDistance is the cosine distance under which a stored
// record counts as similar (zero counts every neighbour up to the limit).
func New(ctx context.Context, pool *pgxpool.Pool, dim int, maxDistance float64) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("pgstore: invalid vector dimension %d", dim)
	}
	s := &Store{pool: pool, dim: dim, maxDistance: maxDistance}
	if err := s.CreateSchemaIfAbsent(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateSchemaIfAbsent creates the extension, table and indexes.
func (s *Store) CreateSchemaIfAbsent(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "pgstore.CreateSchemaIfAbsent", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "CREATE"),
	))
	defer span.End()

	if _, err := s.pool.Exec(ctx, schemaSQL(s.dim)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Insert writes r once. A record with the same id is left untouched.
func (s *Store) Insert(ctx context.Context, r *records.Record) error {
	ctx, span := tracer.Start(ctx, "pgstore.Insert", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
		attribute.String("sift.alert.id", r.ID),
	))
	defer span.End()

	if len(r.Vector) != s.dim {
		err := fmt.Errorf("%w: got %d, want %d", records.ErrDimension, len(r.Vector), s.dim)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	processedAt := r.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO alert_records (
			id, alert_body, domain_list, ip_list, email_list, evaluation,
			reasoning, next_steps, alert_body_vector, model, run_id, processed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.AlertBody, nonNil(r.Domains), nonNil(r.IPs), nonNil(r.Emails), r.Evaluation,
		[]byte(r.Reasoning), []byte(r.NextSteps), pgvector.NewVector(r.Vector),
		r.Model, r.RunID, processedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert record %s: %w", r.ID, invalidData(err))
	}
	span.SetAttributes(attribute.Bool("sift.record.inserted", tag.RowsAffected() > 0))
	return nil
}

// Get retrieves a record by id, without its vector.
func (s *Store) Get(ctx context.Context, id string) (*records.Record, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var (
		r         records.Record
		reasoning []byte
		nextSteps []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, alert_body, domain_list, ip_list, email_list, evaluation,
			reasoning, next_steps, model, run_id, processed_at
		 FROM alert_records WHERE id = $1`, id,
	).Scan(&r.ID, &r.AlertBody, &r.Domains, &r.IPs, &r.Emails, &r.Evaluation,
		&reasoning, &nextSteps, &r.Model, &r.RunID, &r.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("get record %s: %w", id, err)
	}
	r.Reasoning = reasoning
	r.NextSteps = nextSteps
	return &r, true, nil
}

// QuerySimilar counts the nearest stored records by cosine distance, up to
// limit, using the HNSW index.
func (s *Store) QuerySimilar(ctx context.Context, vec []float32, limit int) (int, error) {
	ctx, span := tracer.Start(ctx, "pgstore.QuerySimilar", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
		attribute.Int("sift.similarity.limit", limit),
	))
	defer span.End()

	if len(vec) != s.dim {
		err := fmt.Errorf("%w: got %d, want %d", records.ErrDimension, len(vec), s.dim)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	if limit <= 0 {
		return 0, nil
	}

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM (
			SELECT alert_body_vector <=> $1 AS distance
			FROM alert_records
			ORDER BY alert_body_vector <=> $1
			LIMIT $2
		) nearest
		WHERE $3::float8 <= 0 OR distance <= $3::float8`,
		pgvector.NewVector(vec), limit, s.maxDistance,
	).Scan(&n)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("query similar: %w", err)
	}
	span.SetAttributes(attribute.Int("sift.similarity.count", n))
	return n, nil
}

// invalidData marks SQLSTATE class 22 (data exception) errors, such as a NUL
// byte or bad encoding in a text column, as records.ErrInvalidRecord.
func invalidData(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "22") {
		return fmt.Errorf("%w: %w", records.ErrInvalidRecord, err)
	}
	return err
}

func schemaSQL(dim int) string {
	return strings.ReplaceAll(schemaTemplate, "{{dimension}}", strconv.Itoa(dim))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
