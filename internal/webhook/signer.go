// Package webhook carries signed job triggers between the job manager and
// stateless workers, and streams job progress to clients.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// SignatureHeader carries "t=<unix seconds>,v1=<hex hmac>"
	SignatureHeader = "X-Backtest-Signature"

	DefaultTolerance = 5 * time.Minute
)

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrMalformedHeader  = errors.New("malformed signature header")
	ErrInvalidSignature = errors.New("signature mismatch")
	ErrStaleSignature   = errors.New("signature timestamp outside tolerance")
)

// Signer signs and verifies trigger bodies with HMAC-SHA256 over "<timestamp>.<body>"
type Signer struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewSigner creates a signer. A zero tolerance uses DefaultTolerance.
func NewSigner(secret string, tolerance time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Signer{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}, nil
}

// Sign returns the header value for body signed at ts
func (s *Signer) Sign(body []byte, ts time.Time) string {
	unix := ts.Unix()
	return fmt.Sprintf("t=%d,v1=%s", unix, hex.EncodeToString(s.mac(unix, body)))
}

// Verify checks header against body
func (s *Signer) Verify(header string, body []byte) error {
	if header == "" {
		return ErrMissingSignature
	}

	var (
		unix int64
		sig  []byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return ErrMalformedHeader
		}
		switch key {
		case "t":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return ErrMalformedHeader
			}
			unix = n
		case "v1":
			decoded, err := hex.DecodeString(value)
			if err != nil {
				return ErrMalformedHeader
			}
			sig = decoded
		}
	}
	if unix == 0 || sig == nil {
		return ErrMalformedHeader
	}

	skew := s.now().Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > s.tolerance {
		return ErrStaleSignature
	}

	if !hmac.Equal(sig, s.mac(unix, body)) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *Signer) mac(unix int64, body []byte) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(strconv.FormatInt(unix, 10)))
	h.Write([]byte{'.'})
	h.Write(body)
	return h.Sum(nil)
}
