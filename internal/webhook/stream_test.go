package webhook

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/clever-backtest/internal/jobs"
	"github.com/yourusername/clever-backtest/internal/models"
)

// scriptedJobs returns snapshots in order and repeats the last one
type scriptedJobs struct {
	mu        sync.Mutex
	snapshots []*models.BacktestJob
}

func (s *scriptedJobs) GetJob(ctx context.Context, jobID string) (*models.BacktestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) == 0 {
		return nil, jobs.NewJobError(jobs.CodeNotFound, fmt.Sprintf("job %s not found", jobID), nil)
	}
	job := s.snapshots[0]
	if len(s.snapshots) > 1 {
		s.snapshots = s.snapshots[1:]
	}
	return job, nil
}

func snapshot(status models.JobStatus, percent float64, at int) *models.BacktestJob {
	return &models.BacktestJob{
		JobID:     "j1",
		Status:    status,
		Progress:  models.JobProgress{Percent: percent},
		UpdatedAt: time.Date(2024, 3, 1, 12, 0, at, 0, time.UTC),
	}
}

func wsURL(server *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/stream?" + query
}

func TestStreamHandlerPushesUntilTerminal(t *testing.T) {
	reader := &scriptedJobs{snapshots: []*models.BacktestJob{
		snapshot(models.JobStatusPending, 0, 0),
		snapshot(models.JobStatusRunning, 50, 1),
		snapshot(models.JobStatusRunning, 50, 1),
		snapshot(models.JobStatusCompleted, 100, 2),
	}}
	server := httptest.NewServer(NewStreamHandler(reader, 5*time.Millisecond, quietLogger()))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "job_id=j1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var statuses []models.JobStatus
	for {
		var msg StreamMessage
		err := conn.ReadJSON(&msg)
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		require.Equal(t, MessageSnapshot, msg.Type)
		statuses = append(statuses, msg.Job.Status)
	}

	assert.Equal(t, []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusRunning,
		models.JobStatusCompleted,
	}, statuses, "unchanged snapshots are not repeated")
}

func TestStreamHandlerUnknownJob(t *testing.T) {
	server := httptest.NewServer(NewStreamHandler(&scriptedJobs{}, time.Millisecond, quietLogger()))
	defer server.Close()

	resp, err := http.Get(server.URL + "/stream?job_id=missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(server.URL + "/stream")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
