package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(ctx context.Context) error {
	return p.err
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, Status) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return rec, body
}

func TestReadyReflectsDependencies(t *testing.T) {
	redis := &stubPinger{}
	s := NewServer(Config{
		ServiceName: "worker",
		Logger:      quietLogger(),
		Checks:      map[string]Pinger{"database": &stubPinger{}, "redis": redis, "disabled": nil},
	})
	h := s.Handler()

	rec, body := get(t, h, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", body.Checks["service"])

	s.SetReady(true)
	rec, body = get(t, h, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"service": "ok", "database": "ok", "redis": "ok"}, body.Checks)

	redis.err = errors.New("connection refused")
	rec, body = get(t, h, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, body.Checks["redis"], "connection refused")
}

func TestLiveAndHealth(t *testing.T) {
	s := NewServer(Config{ServiceName: "worker", Version: "1.2.3", Logger: quietLogger()})
	h := s.Handler()

	for _, path := range []string{"/health", "/live"} {
		rec, body := get(t, h, path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "ok", body.Status, path)
	}
}

func TestGRPCHealthRefresh(t *testing.T) {
	ctx := context.Background()
	redis := &stubPinger{}
	g := NewGRPCServer(0, map[string]Pinger{"redis": redis}, 0, quietLogger())

	status, err := g.Check(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status, "not serving before the first check")

	g.Refresh(ctx)
	status, err = g.Check(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	redis.err = errors.New("i/o timeout")
	g.Refresh(ctx)
	status, err = g.Check(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)
	status, err = g.Check(ctx, "redis")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)
}
