package alertapi

import (
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/sift/internal/ingest"
)

const sourceHTTP = "http"

func (a *API) handleIngestAlert(w http.ResponseWriter, r *http.Request) {
	// read one byte past the limit so oversize bodies are rejected, not cut
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, ingest.MaxAlertBytes+1))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			status, reply := ingest.ReplyFor(nil, ingest.ErrTooLarge)
			writeJSON(w, status, reply)
			return
		}
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}

	res, err := a.ingest.Submit(r.Context(), sourceHTTP, body)

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int("sift.alert.bytes", len(body)))
	if res != nil {
		span.SetAttributes(
			attribute.String("sift.alert.id", res.ID),
			attribute.Bool("sift.alert.duplicate", res.Duplicate),
		)
	}

	status, reply := ingest.ReplyFor(res, err)
	writeJSON(w, status, reply)
}
