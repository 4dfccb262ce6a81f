package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yourusername/clever-backtest/internal/models"
)

// maxTxRetries bounds optimistic retries of a watched job update
const maxTxRetries = 10

// ErrJobFinished is returned for checkpoint and result writes on a job that
// already reached a terminal state.
var ErrJobFinished = errors.New("job already finished")

// Quota rejection reasons
const (
	QuotaReasonPeriod      = "period"
	QuotaReasonConcurrency = "concurrency"
)

// UpdateFunc mutates a job inside an atomic read-modify-write. It returns
// false when nothing changed and the write can be skipped.
type UpdateFunc func(job *models.BacktestJob) (bool, error)

// QuotaRequest asks for one admission slot
type QuotaRequest struct {
	ClientID      string
	PeriodKey     string
	MaxPerPeriod  int
	MaxConcurrent int
	PeriodTTL     time.Duration
}

// QuotaDecision is the outcome of an admission attempt
type QuotaDecision struct {
	Allowed bool
	Reason  string
	Used    int
	Running int
}

// Store is the durable state shared by stateless invocations
type Store interface {
	CreateJob(ctx context.Context, job *models.BacktestJob) error
	GetJob(ctx context.Context, jobID string) (*models.BacktestJob, error)
	UpdateJob(ctx context.Context, jobID string, fn UpdateFunc) (*models.BacktestJob, error)
	ActiveJobIDs(ctx context.Context) ([]string, error)

	SaveCheckpoint(ctx context.Context, cp *models.WorkerCheckpoint) error
	GetCheckpoint(ctx context.Context, jobID string) (*models.WorkerCheckpoint, error)
	DeleteCheckpoint(ctx context.Context, jobID string) error

	SaveResult(ctx context.Context, jobID string, result *models.BacktestResult, ttl time.Duration) error
	GetResult(ctx context.Context, jobID string) (*models.BacktestResult, error)
	DeleteResult(ctx context.Context, jobID string) error

	AcquireLease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, jobID, owner string) error
	LeaseHeld(ctx context.Context, jobID string) (bool, error)

	ReserveQuota(ctx context.Context, req QuotaRequest) (QuotaDecision, error)
	ReleaseSlot(ctx context.Context, clientID string) error

	Ping(ctx context.Context) error
}

// reserveQuotaScript checks the period counter and the concurrency counter
// and increments both, or neither.
var reserveQuotaScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local running = tonumber(redis.call('GET', KEYS[2]) or '0')
if used >= tonumber(ARGV[1]) then
	return {0, used, running}
end
if running >= tonumber(ARGV[2]) then
	return {-1, used, running}
end
used = redis.call('INCR', KEYS[1])
if tonumber(redis.call('TTL', KEYS[1])) < 0 then
	redis.call('EXPIRE', KEYS[1], ARGV[3])
end
running = redis.call('INCR', KEYS[2])
return {1, used, running}
`)

// releaseSlotScript decrements the concurrency counter without going below zero
var releaseSlotScript = redis.NewScript(`
local running = tonumber(redis.call('GET', KEYS[1]) or '0')
if running <= 0 then
	redis.call('SET', KEYS[1], 0)
	return 0
end
return redis.call('DECR', KEYS[1])
`)

// releaseLeaseScript deletes a lease only when the caller still owns it
var releaseLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore keeps jobs, checkpoints, results, leases and quota counters in Redis
type RedisStore struct {
	client      redis.UniversalClient
	prefix      string
	terminalTTL time.Duration
}

// NewRedisStore creates a store. Terminal jobs expire after terminalTTL;
// running jobs never expire.
func NewRedisStore(client redis.UniversalClient, prefix string, terminalTTL time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if prefix == "" {
		return nil, fmt.Errorf("key prefix is required")
	}
	return &RedisStore{client: client, prefix: prefix, terminalTTL: terminalTTL}, nil
}

func (s *RedisStore) jobKey(id string) string        { return s.prefix + ":job:" + id }
func (s *RedisStore) checkpointKey(id string) string { return s.prefix + ":checkpoint:" + id }
func (s *RedisStore) resultKey(id string) string     { return s.prefix + ":result:" + id }
func (s *RedisStore) leaseKey(id string) string      { return s.prefix + ":lease:" + id }
func (s *RedisStore) activeKey() string              { return s.prefix + ":active" }

func (s *RedisStore) quotaKey(clientID, period string) string {
	return s.prefix + ":quota:" + clientID + ":" + period
}

func (s *RedisStore) concurrencyKey(clientID string) string {
	return s.prefix + ":concurrency:" + clientID
}

// CreateJob persists a new job. It fails with models.ErrDuplicateKey if the id exists.
func (s *RedisStore) CreateJob(ctx context.Context, job *models.BacktestJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.jobKey(job.JobID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	if !created {
		return fmt.Errorf("job %s: %w", job.JobID, models.ErrDuplicateKey)
	}
	if err := s.client.SAdd(ctx, s.activeKey(), job.JobID).Err(); err != nil {
		return fmt.Errorf("failed to index job: %w", err)
	}
	return nil
}

// GetJob loads a job. Missing jobs wrap models.ErrNotFound.
func (s *RedisStore) GetJob(ctx context.Context, jobID string) (*models.BacktestJob, error) {
	var job models.BacktestJob
	if err := s.getJSON(ctx, s.jobKey(jobID), &job); err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, err)
	}
	return &job, nil
}

// UpdateJob applies fn under WATCH so concurrent writers never lose an update
func (s *RedisStore) UpdateJob(ctx context.Context, jobID string, fn UpdateFunc) (*models.BacktestJob, error) {
	key := s.jobKey(jobID)
	var updated *models.BacktestJob

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load job: %w", err)
		}

		var job models.BacktestJob
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to decode job: %w", err)
		}

		changed, err := fn(&job)
		if err != nil {
			return err
		}
		updated = &job
		if !changed {
			return nil
		}

		payload, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("failed to encode job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if job.Status.IsTerminal() {
				pipe.Set(ctx, key, payload, s.terminalTTL)
				pipe.SRem(ctx, s.activeKey(), jobID)
			} else {
				pipe.Set(ctx, key, payload, 0)
				pipe.SAdd(ctx, s.activeKey(), jobID)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("job %s: too many concurrent updates", jobID)
}

// ActiveJobIDs lists jobs that have not reached a terminal state
func (s *RedisStore) ActiveJobIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	return ids, nil
}

// SaveCheckpoint overwrites the checkpoint of a job. It fails with
// ErrJobFinished once the job is terminal.
func (s *RedisStore) SaveCheckpoint(ctx context.Context, cp *models.WorkerCheckpoint) error {
	return s.setWhileActive(ctx, cp.JobID, s.checkpointKey(cp.JobID), cp, 0)
}

// GetCheckpoint loads a checkpoint. Missing checkpoints wrap models.ErrNotFound.
func (s *RedisStore) GetCheckpoint(ctx context.Context, jobID string) (*models.WorkerCheckpoint, error) {
	var cp models.WorkerCheckpoint
	if err := s.getJSON(ctx, s.checkpointKey(jobID), &cp); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", jobID, err)
	}
	return &cp, nil
}

// DeleteCheckpoint removes the checkpoint of a job
func (s *RedisStore) DeleteCheckpoint(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, s.checkpointKey(jobID)).Err()
}

// SaveResult stores the result of a job that is still active for ttl
func (s *RedisStore) SaveResult(ctx context.Context, jobID string, result *models.BacktestResult, ttl time.Duration) error {
	return s.setWhileActive(ctx, jobID, s.resultKey(jobID), result, ttl)
}

// DeleteResult removes a stored result
func (s *RedisStore) DeleteResult(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, s.resultKey(jobID)).Err()
}

// GetResult loads a result. Missing results wrap models.ErrNotFound.
func (s *RedisStore) GetResult(ctx context.Context, jobID string) (*models.BacktestResult, error) {
	var result models.BacktestResult
	if err := s.getJSON(ctx, s.resultKey(jobID), &result); err != nil {
		return nil, fmt.Errorf("result %s: %w", jobID, err)
	}
	return &result, nil
}

// AcquireLease claims a job for one invocation. It returns false when another
// owner holds the lease.
func (s *RedisStore) AcquireLease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.leaseKey(jobID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return ok, nil
}

// ReleaseLease drops the lease if owner still holds it. An empty owner
// releases unconditionally.
func (s *RedisStore) ReleaseLease(ctx context.Context, jobID, owner string) error {
	if owner == "" {
		return s.client.Del(ctx, s.leaseKey(jobID)).Err()
	}
	if err := releaseLeaseScript.Run(ctx, s.client, []string{s.leaseKey(jobID)}, owner).Err(); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// LeaseHeld reports whether any invocation holds the lease of a job
func (s *RedisStore) LeaseHeld(ctx context.Context, jobID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.leaseKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check lease: %w", err)
	}
	return n > 0, nil
}

// ReserveQuota atomically checks and consumes one period admission and one
// concurrency slot
func (s *RedisStore) ReserveQuota(ctx context.Context, req QuotaRequest) (QuotaDecision, error) {
	ttl := int64(req.PeriodTTL / time.Second)
	if ttl <= 0 {
		ttl = 1
	}

	keys := []string{s.quotaKey(req.ClientID, req.PeriodKey), s.concurrencyKey(req.ClientID)}
	res, err := reserveQuotaScript.Run(ctx, s.client, keys, req.MaxPerPeriod, req.MaxConcurrent, ttl).Int64Slice()
	if err != nil {
		return QuotaDecision{}, fmt.Errorf("failed to reserve quota: %w", err)
	}
	if len(res) != 3 {
		return QuotaDecision{}, fmt.Errorf("unexpected quota script reply %v", res)
	}

	decision := QuotaDecision{Used: int(res[1]), Running: int(res[2])}
	switch res[0] {
	case 1:
		decision.Allowed = true
	case 0:
		decision.Reason = QuotaReasonPeriod
	default:
		decision.Reason = QuotaReasonConcurrency
	}
	return decision, nil
}

// ReleaseSlot frees one concurrency slot of a client
func (s *RedisStore) ReleaseSlot(ctx context.Context, clientID string) error {
	if err := releaseSlotScript.Run(ctx, s.client, []string{s.concurrencyKey(clientID)}).Err(); err != nil {
		return fmt.Errorf("failed to release slot: %w", err)
	}
	return nil
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// setWhileActive writes key under WATCH of the job so the write and a
// terminal transition can never interleave.
func (s *RedisStore) setWhileActive(ctx context.Context, jobID, key string, v interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	jobKey := s.jobKey(jobID)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, jobKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load job: %w", err)
		}
		var job models.BacktestJob
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to decode job: %w", err)
		}
		if job.Status.IsTerminal() {
			return fmt.Errorf("job %s is %s: %w", jobID, job.Status, ErrJobFinished)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, jobKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		return nil
	}
	return fmt.Errorf("job %s: too many concurrent updates", jobID)
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v interface{}) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}
