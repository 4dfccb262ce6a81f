package webhook

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testSigner(t *testing.T) *Signer {
	t.Helper()
	signer, err := NewSigner(testSecret, 0)
	require.NoError(t, err)
	return signer
}

func TestSignerRoundTrip(t *testing.T) {
	signer := testSigner(t)
	body := []byte(`{"job_id":"j1"}`)

	header := signer.Sign(body, time.Now())
	assert.Regexp(t, `^t=\d+,v1=[0-9a-f]{64}$`, header)
	assert.NoError(t, signer.Verify(header, body))
}

func TestSignerRejects(t *testing.T) {
	signer := testSigner(t)
	body := []byte(`{"job_id":"j1"}`)
	now := time.Now()

	other, err := NewSigner("another-secret", 0)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		body   []byte
		want   error
	}{
		{"missing", "", body, ErrMissingSignature},
		{"tampered body", signer.Sign(body, now), []byte(`{"job_id":"j2"}`), ErrInvalidSignature},
		{"wrong secret", other.Sign(body, now), body, ErrInvalidSignature},
		{"too old", signer.Sign(body, now.Add(-6*time.Minute)), body, ErrStaleSignature},
		{"from the future", signer.Sign(body, now.Add(6*time.Minute)), body, ErrStaleSignature},
		{"no timestamp", "v1=abcd", body, ErrMalformedHeader},
		{"bad hex", "t=1700000000,v1=zz", body, ErrMalformedHeader},
		{"garbage", "nonsense", body, ErrMalformedHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, signer.Verify(tt.header, tt.body), tt.want)
		})
	}
}

func TestSignerTolerance(t *testing.T) {
	signer, err := NewSigner(testSecret, time.Minute)
	require.NoError(t, err)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return fixed }
	body := []byte("{}")

	assert.NoError(t, signer.Verify(signer.Sign(body, fixed.Add(-59*time.Second)), body))
	assert.ErrorIs(t, signer.Verify(signer.Sign(body, fixed.Add(-2*time.Minute)), body), ErrStaleSignature)

	_, err = NewSigner("", 0)
	assert.Error(t, err)
}
