package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/clever-backtest/internal/jobs"
	"github.com/yourusername/clever-backtest/internal/metrics"
)

const (
	maxBodyBytes = 1 << 20

	codeUnauthorized     = "UNAUTHORIZED"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// JobRunner runs one worker invocation for a trigger
type JobRunner interface {
	RunJob(ctx context.Context, trigger jobs.Trigger) (jobs.RunOutcome, error)
}

// Response is the body returned for every trigger. Message is only filled
// in development.
type Response struct {
	JobID   string `json:"job_id,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Handler is the worker side of the trigger transport
type Handler struct {
	runner      JobRunner
	signer      *Signer
	development bool
	logger      *logrus.Entry
}

// NewHandler creates a trigger handler. A nil signer disables verification,
// which is only accepted in development.
func NewHandler(runner JobRunner, signer *Signer, development bool, log *logrus.Logger) (*Handler, error) {
	if runner == nil {
		return nil, fmt.Errorf("job runner is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if signer == nil && !development {
		return nil, fmt.Errorf("webhook secret is required outside development")
	}
	if signer == nil {
		log.Warn("Webhook signature verification disabled")
	}
	return &Handler{
		runner:      runner,
		signer:      signer,
		development: development,
		logger:      log.WithField("component", "webhook"),
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.respond(w, http.StatusMethodNotAllowed, Response{Code: codeMethodNotAllowed}, nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		h.respond(w, status, Response{Code: string(jobs.CodeValidation)}, err)
		return
	}

	if h.signer != nil {
		if err := h.signer.Verify(r.Header.Get(SignatureHeader), body); err != nil {
			h.logger.WithError(err).WithField("remote_addr", r.RemoteAddr).Warn("Rejected trigger with bad signature")
			h.respond(w, http.StatusUnauthorized, Response{Code: codeUnauthorized}, err)
			return
		}
	}

	var trigger jobs.Trigger
	if err := json.Unmarshal(body, &trigger); err != nil {
		h.respond(w, http.StatusBadRequest, Response{Code: string(jobs.CodeValidation)}, err)
		return
	}
	if trigger.JobID == "" {
		h.respond(w, http.StatusBadRequest, Response{Code: string(jobs.CodeValidation)}, fmt.Errorf("job_id is required"))
		return
	}

	outcome, err := h.runner.RunJob(r.Context(), trigger)
	resp := Response{JobID: trigger.JobID, Outcome: string(outcome)}
	if err != nil {
		resp.Code = string(jobs.Classify(err).Code)
	}
	h.respond(w, statusFor(outcome, err), resp, err)
}

func (h *Handler) respond(w http.ResponseWriter, status int, resp Response, err error) {
	if err != nil && h.development {
		resp.Message = err.Error()
	}
	metrics.RecordWebhookRequest(strconv.Itoa(status))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		h.logger.WithError(encErr).Warn("Failed to write trigger response")
	}
}

// statusFor tells the trigger layer whether to redeliver. Retry outcomes map
// to statuses the dispatcher retries; a job that failed for good consumes
// the trigger.
func statusFor(outcome jobs.RunOutcome, err error) int {
	if err == nil {
		return http.StatusOK
	}
	code := jobs.Classify(err).Code
	switch {
	case outcome == jobs.OutcomeRetry && code == jobs.CodeTimeout:
		return http.StatusGatewayTimeout
	case outcome == jobs.OutcomeRetry:
		return http.StatusServiceUnavailable
	case code == jobs.CodeNotFound:
		return http.StatusNotFound
	case outcome == jobs.OutcomeFailed:
		return http.StatusOK
	default:
		return statusForCode(code)
	}
}

func statusForCode(code jobs.ErrorCode) int {
	switch code {
	case jobs.CodeValidation:
		return http.StatusBadRequest
	case jobs.CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case jobs.CodeNotFound:
		return http.StatusNotFound
	case jobs.CodeInvalidTransition:
		return http.StatusConflict
	case jobs.CodeTimeout:
		return http.StatusGatewayTimeout
	case jobs.CodeNetwork, jobs.CodeDataSource:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
