package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/clever-backtest/internal/config"
	"github.com/yourusername/clever-backtest/internal/datasource"
	"github.com/yourusername/clever-backtest/internal/jobs"
	"github.com/yourusername/clever-backtest/internal/metrics"
)

// DispatcherConfig controls outbound trigger delivery
type DispatcherConfig struct {
	URL           string
	RatePerSecond float64
	Burst         int
	RetryMax      int
	RetryWaitMin  time.Duration
	RetryWaitMax  time.Duration
	// Timeout bounds one delivery attempt, which lasts as long as the
	// worker invocation it triggers.
	Timeout time.Duration
}

// DispatcherConfigFromConfig converts app config to dispatcher config
func DispatcherConfigFromConfig(cfg *config.Config) DispatcherConfig {
	timeout := time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 2 * time.Duration(cfg.Jobs.ExecutionBudgetSeconds) * time.Second
	}
	return DispatcherConfig{
		URL:           cfg.Webhook.WorkerURL,
		RatePerSecond: cfg.Webhook.DispatchRatePerSecond,
		Burst:         cfg.Webhook.DispatchBurst,
		RetryMax:      cfg.Webhook.RetryMax,
		RetryWaitMin:  500 * time.Millisecond,
		RetryWaitMax:  30 * time.Second,
		Timeout:       timeout,
	}
}

// Dispatcher posts signed triggers to the worker endpoint. Dispatch returns
// immediately and delivers in the background; lost triggers are picked up
// by the stale lease sweeper.
type Dispatcher struct {
	url    string
	client *datasource.RateLimitedHTTPClient
	signer *Signer
	logger *logrus.Entry
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A nil signer sends unsigned triggers.
func NewDispatcher(cfg DispatcherConfig, signer *Signer, log *logrus.Logger) (*Dispatcher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("worker url is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	httpCfg := datasource.DefaultHTTPClientConfig()
	httpCfg.MaxRetries = cfg.RetryMax
	httpCfg.RateLimit = cfg.RatePerSecond
	httpCfg.Burst = cfg.Burst
	httpCfg.CircuitBreakerMax = 0
	if cfg.Timeout > 0 {
		httpCfg.Timeout = cfg.Timeout
	}
	if cfg.RetryWaitMin > 0 {
		httpCfg.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		httpCfg.RetryWaitMax = cfg.RetryWaitMax
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		url:    cfg.URL,
		client: datasource.NewRateLimitedHTTPClient(httpCfg, log),
		signer: signer,
		logger: log.WithField("component", "dispatcher"),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Dispatch queues a trigger for background delivery
func (d *Dispatcher) Dispatch(ctx context.Context, trigger jobs.Trigger) error {
	if err := d.ctx.Err(); err != nil {
		return fmt.Errorf("dispatcher closed: %w", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.Send(d.ctx, trigger); err != nil {
			d.logger.WithError(err).WithField("job_id", trigger.JobID).Warn("Trigger delivery failed")
		}
	}()
	return nil
}

// Send delivers a trigger and waits for the worker's answer. Retryable
// statuses are retried with exponential backoff.
func (d *Dispatcher) Send(ctx context.Context, trigger jobs.Trigger) error {
	if trigger.IssuedAt.IsZero() {
		trigger.IssuedAt = d.now().UTC()
	}
	body, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("failed to encode trigger: %w", err)
	}

	if d.signer != nil {
		// Retries can outlive the signature tolerance, so every attempt is signed afresh
		ctx = datasource.WithAttemptHook(ctx, func(r *http.Request, _ int) {
			r.Header.Set(SignatureHeader, d.signer.Sign(body, d.now()))
		})
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(ctx, req)
	if err != nil {
		metrics.RecordWebhookDispatch("failed")
		return fmt.Errorf("failed to deliver trigger for job %s: %w", trigger.JobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		metrics.RecordWebhookDispatch("rejected")
		var answer Response
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&answer)
		return fmt.Errorf("worker rejected trigger for job %s: status %d %s", trigger.JobID, resp.StatusCode, answer.Code)
	}

	metrics.RecordWebhookDispatch("delivered")
	d.logger.WithField("job_id", trigger.JobID).Debug("Trigger delivered")
	return nil
}

// Wait blocks until queued deliveries finish
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close abandons queued deliveries and releases the HTTP client
func (d *Dispatcher) Close() error {
	d.cancel()
	d.wg.Wait()
	return d.client.Close()
}
