package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sepsis-api/sepsis/internal/audit"
	"github.com/sepsis-api/sepsis/internal/inference"
)

type predictionResponse struct {
	RequestID string            `json:"request_id"`
	Verdict   inference.Verdict `json:"verdict"`
	Label     int64             `json:"label"`
	Message   string            `json:"message"`
	Model     audit.ModelRef    `json:"model"`
}

type validationBody struct {
	Detail []inference.FieldIssue `json:"detail"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	select {
	case s.inFlight <- struct{}{}:
		defer func() { <-s.inFlight }()
	default:
		writeError(w, http.StatusTooManyRequests, "too many requests in flight", "rate_limit_error")
		return
	}

	start := time.Now()
	requestID := RequestIDFromContext(r.Context())
	modelRef := audit.ModelRef{Name: s.model.Name, Version: s.model.Version}
	ev := audit.NewEvent(requestID, modelRef)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxRequestBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "invalid_request_error")
			return
		}
		writeError(w, http.StatusBadRequest, "could not read request body", "invalid_request_error")
		return
	}

	rec, err := inference.DecodeRecord(body)
	if err != nil {
		var verr *inference.ValidationError
		if !errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error")
			return
		}
		ev.Outcome = audit.OutcomeInvalid
		ev.InvalidFields = verr.Fields()
		s.emit(ev, start)
		writeJSON(w, http.StatusUnprocessableEntity, validationBody{Detail: verr.Issues})
		return
	}
	if s.includeFeatures {
		ev.Features = rec.Fields()
	}

	if s.predictor == nil {
		writeError(w, http.StatusServiceUnavailable, "model not loaded", "model_error")
		return
	}

	pred, err := s.predictor.Predict(r.Context(), rec)
	if err != nil {
		s.logger.Error("prediction failed",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		ev.Outcome = audit.OutcomeError
		s.emit(ev, start)
		writeError(w, http.StatusInternalServerError, "prediction failed", "model_error")
		return
	}

	resp := predictionResponse{
		RequestID: requestID,
		Verdict:   pred.Verdict,
		Label:     pred.Label,
		Message:   pred.Message,
		Model:     modelRef,
	}
	s.results.Add(requestID, resp)
	s.emit(ev.WithPrediction(pred), start)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) emit(ev *audit.Event, start time.Time) {
	if s.audit == nil {
		return
	}
	ev.LatencyMs = float64(time.Since(start).Microseconds()) / 1000
	s.audit.Emit(ev)
}
