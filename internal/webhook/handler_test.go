package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/jobs"
)

type runResult struct {
	outcome jobs.RunOutcome
	err     error
}

// fakeRunner replays results in order and repeats the last one
type fakeRunner struct {
	mu       sync.Mutex
	results  []runResult
	triggers []jobs.Trigger
}

func (f *fakeRunner) RunJob(ctx context.Context, trigger jobs.Trigger) (jobs.RunOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r.outcome, r.err
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.triggers)
}

func completedRunner() *fakeRunner {
	return &fakeRunner{results: []runResult{{outcome: jobs.OutcomeCompleted}}}
}

func signedRequest(t *testing.T, signer *Signer, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, signer.Sign(body, time.Now()))
	return req
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHandlerRunsSignedTrigger(t *testing.T) {
	signer := testSigner(t)
	runner := completedRunner()
	handler, err := NewHandler(runner, signer, false, quietLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, signer, []byte(`{"job_id":"j1"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "j1", resp.JobID)
	assert.Equal(t, "completed", resp.Outcome)
	require.Equal(t, 1, runner.calls())
	assert.Equal(t, "j1", runner.triggers[0].JobID)
}

func TestHandlerRejectsBeforeDecoding(t *testing.T) {
	signer := testSigner(t)
	runner := completedRunner()
	handler, err := NewHandler(runner, signer, false, quietLogger())
	require.NoError(t, err)

	unsigned := httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader([]byte(`{"job_id":"j1"}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, unsigned)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, codeUnauthorized, decodeResponse(t, rec).Code)

	// Garbage with a bad signature is still a signature failure
	forged := httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader([]byte(`not json`)))
	forged.Header.Set(SignatureHeader, "t=1700000000,v1=00")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, decodeResponse(t, rec).Message, "messages are hidden outside development")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, signer, []byte(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, signer, []byte(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trigger", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	assert.Equal(t, 0, runner.calls())
}

func TestHandlerDevelopmentWithoutSecret(t *testing.T) {
	_, err := NewHandler(completedRunner(), nil, false, quietLogger())
	assert.Error(t, err, "verification can only be skipped in development")

	runner := &fakeRunner{results: []runResult{{
		outcome: jobs.OutcomeFailed,
		err:     jobs.NewJobError(jobs.CodeValidation, "initial capital must be positive", nil),
	}}}
	handler, err := NewHandler(runner, nil, true, quietLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader([]byte(`{"job_id":"j1"}`))))
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "VALIDATION", resp.Code)
	assert.Contains(t, resp.Message, "initial capital")
}

func TestStatusFor(t *testing.T) {
	sourceErr := jobs.Classify(&backtest.SourceError{Op: "get races", Err: errors.New("down")})

	tests := []struct {
		name    string
		outcome jobs.RunOutcome
		err     error
		want    int
	}{
		{"completed", jobs.OutcomeCompleted, nil, http.StatusOK},
		{"duplicate", jobs.OutcomeDuplicate, nil, http.StatusOK},
		{"continue", jobs.OutcomeContinue, nil, http.StatusOK},
		{"retry", jobs.OutcomeRetry, sourceErr, http.StatusServiceUnavailable},
		{"retry timeout", jobs.OutcomeRetry, jobs.NewJobError(jobs.CodeTimeout, "stopped", nil), http.StatusGatewayTimeout},
		{"failed for good", jobs.OutcomeFailed, sourceErr, http.StatusOK},
		{"unknown job", jobs.OutcomeFailed, jobs.NewJobError(jobs.CodeNotFound, "job x not found", nil), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.outcome, tt.err))
		})
	}

	assert.Equal(t, http.StatusTooManyRequests, statusForCode(jobs.CodeQuotaExceeded))
	assert.Equal(t, http.StatusConflict, statusForCode(jobs.CodeInvalidTransition))
	assert.Equal(t, http.StatusInternalServerError, statusForCode(jobs.CodeInternal))
}
