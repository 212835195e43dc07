package alertapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sift/internal/ingest"
	"github.com/linnemanlabs/sift/internal/records"
)

// Ingestor accepts raw alerts.
type Ingestor interface {
	Submit(ctx context.Context, source string, payload []byte) (*ingest.Result, error)
}

// RecordReader looks up processed alerts.
type RecordReader interface {
	Get(ctx context.Context, id string) (*records.Record, bool, error)
}

// QueueInspector reports the number of pending alerts.
type QueueInspector interface {
	Len(ctx context.Context) (int, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger  log.Logger
	ingest  Ingestor
	records RecordReader
	queue   QueueInspector
}

// New creates a new API handler.
func New(logger log.Logger, in Ingestor, rr RecordReader, q QueueInspector) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if in == nil {
		panic(xerrors.New("ingestor is required"))
	}
	if rr == nil {
		panic(xerrors.New("record reader is required"))
	}
	if q == nil {
		panic(xerrors.New("queue inspector is required"))
	}
	return &API{
		logger:  logger,
		ingest:  in,
		records: rr,
		queue:   q,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/alerts", a.handleIngestAlert)
		r.Get("/records/{id}", a.handleGetRecord)
		r.Get("/queue", a.handleQueue)
	})
}

func (a *API) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sift.record.id", id))

	rec, ok, err := a.records.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get record", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("sift.record.evaluation", rec.Evaluation))

	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	n, err := a.queue.Len(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to read queue depth")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pending": n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}
