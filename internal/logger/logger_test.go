package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() (*logrus.Logger, *bytes.Buffer) {
	log := logrus.New()
	buf := &bytes.Buffer{}
	log.SetOutput(buf)
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.DebugLevel)
	return log, buf
}

func parseLogOutput(buf *bytes.Buffer) map[string]interface{} {
	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	if err != nil {
		return nil
	}
	return logEntry
}

func TestNewLoggerDefaultsInvalidLevel(t *testing.T) {
	log := NewLogger("verbose")
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}

func TestNewJSONFormat(t *testing.T) {
	log := New(Options{Level: "debug", Format: "json"})
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	log = New(Options{Level: "info", Environment: "production"})
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	log = New(Options{Level: "info", Environment: "development"})
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)
}

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "backtest.log")
	log := New(Options{Level: "info", Format: "json", FilePath: path, MaxSizeMB: 1})

	log.Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestExecutorLoggerRunStarted(t *testing.T) {
	log, buf := setupTestLogger()
	executorLogger := NewExecutorLogger(log)

	executorLogger.LogRunStarted("job-1", "late-drifters", "2024-01-01..2024-01-31", 120, 40)

	logEntry := parseLogOutput(buf)
	require.NotNil(t, logEntry)
	assert.Equal(t, "executor", logEntry["component"])
	assert.Equal(t, "job-1", logEntry["job_id"])
	assert.Equal(t, true, logEntry["resumed"])
	assert.Equal(t, float64(120), logEntry["total_races"])
}

func TestExecutorLoggerRaceTransitionIsDebug(t *testing.T) {
	log, buf := setupTestLogger()
	executorLogger := NewExecutorLogger(log)

	executorLogger.LogRaceTransition("R1", "PENDING", "EVALUATED")

	logEntry := parseLogOutput(buf)
	require.NotNil(t, logEntry)
	assert.Equal(t, "debug", logEntry["level"])
	assert.Equal(t, "EVALUATED", logEntry["to"])
}

func TestExecutorLoggerRunCompleted(t *testing.T) {
	log, buf := setupTestLogger()
	executorLogger := NewExecutorLogger(log)

	executorLogger.LogRunCompleted("job-1", 12, 10500, 0.05, 1500*time.Millisecond)

	logEntry := parseLogOutput(buf)
	require.NotNil(t, logEntry)
	assert.Equal(t, float64(1500), logEntry["duration_ms"])
}

func TestJobLoggerStatusChange(t *testing.T) {
	log, buf := setupTestLogger()
	jobLogger := NewJobLogger(log)

	jobLogger.LogStatusChange("job-1", "pending", "running", "")

	logEntry := parseLogOutput(buf)
	require.NotNil(t, logEntry)
	assert.Equal(t, "jobs", logEntry["component"])
	assert.Equal(t, "running", logEntry["new_status"])
}

func TestJobLoggerFailureLevels(t *testing.T) {
	log, buf := setupTestLogger()
	jobLogger := NewJobLogger(log)

	jobLogger.LogJobFailed("job-1", "NETWORK", true, 1, errors.New("connection reset"))
	logEntry := parseLogOutput(buf)
	require.NotNil(t, logEntry)
	assert.Equal(t, "warning", logEntry["level"])
	assert.Equal(t, "connection reset", logEntry["error"])

	buf.Reset()
	jobLogger.LogJobFailed("job-1", "INTERNAL", false, 1, nil)
	logEntry = parseLogOutput(buf)
	require.NotNil(t, logEntry)
	assert.Equal(t, "error", logEntry["level"])
}

func TestJobLoggerQuotaRejected(t *testing.T) {
	log, buf := setupTestLogger()
	jobLogger := NewJobLogger(log)

	jobLogger.LogQuotaRejected("client-a", "free", "period", 5)

	logEntry := parseLogOutput(buf)
	require.NotNil(t, logEntry)
	assert.Equal(t, "period", logEntry["reason"])
	assert.Equal(t, float64(5), logEntry["limit"])
}
