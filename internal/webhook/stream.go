package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/clever-backtest/internal/jobs"
	"github.com/yourusername/clever-backtest/internal/models"
)

const (
	DefaultStreamInterval = time.Second

	writeWait = 10 * time.Second
)

// Stream message types
const (
	MessageSnapshot = "snapshot"
	MessageError    = "error"
)

// JobReader reads job snapshots
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (*models.BacktestJob, error)
}

// StreamMessage is one frame pushed to a progress subscriber
type StreamMessage struct {
	Type string              `json:"type"`
	Job  *models.BacktestJob `json:"job,omitempty"`
	Code string              `json:"code,omitempty"`
	Time time.Time           `json:"time"`
}

// StreamHandler pushes job snapshots over a websocket until the job is terminal
type StreamHandler struct {
	jobs     JobReader
	upgrader websocket.Upgrader
	interval time.Duration
	logger   *logrus.Entry
}

// NewStreamHandler creates a progress stream handler polling every interval
func NewStreamHandler(reader JobReader, interval time.Duration, log *logrus.Logger) *StreamHandler {
	if interval <= 0 {
		interval = DefaultStreamInterval
	}
	return &StreamHandler{
		jobs: reader,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		interval: interval,
		logger:   log.WithField("component", "stream"),
	}
}

// ServeHTTP expects the job id in the job_id query parameter
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, Response{Code: string(jobs.CodeValidation)})
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		code := jobs.Classify(err).Code
		writeJSON(w, statusForCode(code), Response{JobID: jobID, Code: string(code)})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade connection")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		// Reads only detect the client going away
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	entry := h.logger.WithField("job_id", jobID)
	entry.Debug("Progress stream opened")
	if err := h.stream(ctx, conn, job); err != nil {
		entry.WithError(err).Debug("Progress stream ended")
	}
}

func (h *StreamHandler) stream(ctx context.Context, conn *websocket.Conn, job *models.BacktestJob) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last *models.BacktestJob
	for {
		if last == nil || changed(last, job) {
			if err := h.send(conn, StreamMessage{Type: MessageSnapshot, Job: job}); err != nil {
				return err
			}
			last = job
		}
		if job.Status.IsTerminal() {
			return h.close(conn, websocket.CloseNormalClosure, string(job.Status))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		next, err := h.jobs.GetJob(ctx, job.JobID)
		if err != nil {
			code := jobs.Classify(err).Code
			if sendErr := h.send(conn, StreamMessage{Type: MessageError, Code: string(code)}); sendErr != nil {
				return sendErr
			}
			return h.close(conn, websocket.CloseInternalServerErr, string(code))
		}
		job = next
	}
}

func (h *StreamHandler) send(conn *websocket.Conn, msg StreamMessage) error {
	msg.Time = time.Now().UTC()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

func (h *StreamHandler) close(conn *websocket.Conn, code int, reason string) error {
	return conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

func changed(a, b *models.BacktestJob) bool {
	return a.Status != b.Status || a.Progress != b.Progress || !a.UpdatedAt.Equal(b.UpdatedAt)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
