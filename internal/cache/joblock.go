// Package cache provides the Redis-backed scheduled-job locks plus run
// markers, with graceful degradation: when Redis is disabled or down the
// locks degrade to always-acquired with a warning, so a single-instance
// deployment keeps running without it.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"alpaca-signal-engine/config"
	"alpaca-signal-engine/internal/logging"
)

// lockKeyPrefix namespaces job-lock keys.
const lockKeyPrefix = "signal-engine:joblock:"

// DefaultLockTTL bounds how long a crashed job can hold its lock.
const DefaultLockTTL = 30 * time.Minute

// releaseScript deletes the lock only when the caller still owns it.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// JobLockRepository provides scheduled-job mutual exclusion per job name.
type JobLockRepository struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewJobLockRepository connects to Redis. With Redis disabled the
// repository operates in degraded mode: every acquire succeeds.
func NewJobLockRepository(cfg config.RedisConfig) *JobLockRepository {
	repo := &JobLockRepository{logger: logging.Component("joblock")}
	if !cfg.Enabled {
		repo.logger.Warn().Msg("redis disabled, job locks degrade to no-op")
		return repo
	}

	repo.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := repo.client.Ping(ctx).Err(); err != nil {
		repo.logger.Warn().Err(err).Msg("redis unreachable, job locks degrade to no-op")
	}
	return repo
}

// Lock is an acquired job lock. Release returns it.
type Lock struct {
	JobName string
	token   string
	repo    *JobLockRepository
}

// AcquireLock takes the named job lock for ttl. Returns nil and false when
// another holder owns it. Redis failures degrade to acquired-with-warning
// rather than blocking scheduled work.
func (r *JobLockRepository) AcquireLock(ctx context.Context, jobName string, ttl time.Duration) (*Lock, bool) {
	token := uuid.NewString()
	lock := &Lock{JobName: jobName, token: token, repo: r}

	if r.client == nil {
		return lock, true
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	ok, err := r.client.SetNX(ctx, lockKeyPrefix+jobName, token, ttl).Result()
	if err != nil {
		r.logger.Warn().Err(err).Str("job", jobName).Msg("lock acquire failed, proceeding unlocked")
		return lock, true
	}
	if !ok {
		return nil, false
	}
	return lock, true
}

// Release frees the lock when the caller still owns it. Safe to call on a
// lock acquired in degraded mode.
func (l *Lock) Release(ctx context.Context) {
	if l == nil || l.repo == nil || l.repo.client == nil {
		return
	}
	if err := releaseScript.Run(ctx, l.repo.client, []string{lockKeyPrefix + l.JobName}, l.token).Err(); err != nil {
		l.repo.logger.Warn().Err(err).Str("job", l.JobName).Msg("lock release failed, TTL will expire it")
	}
}

// MarkRun records the completion time of a named job, read by readiness
// checks. Best effort.
func (r *JobLockRepository) MarkRun(ctx context.Context, jobName string, at time.Time) {
	if r.client == nil {
		return
	}
	key := fmt.Sprintf("signal-engine:lastrun:%s", jobName)
	if err := r.client.Set(ctx, key, at.UTC().Format(time.RFC3339), 7*24*time.Hour).Err(); err != nil {
		r.logger.Debug().Err(err).Str("job", jobName).Msg("run marker write failed")
	}
}

// LastRun returns the recorded completion time for a job, or zero.
func (r *JobLockRepository) LastRun(ctx context.Context, jobName string) time.Time {
	if r.client == nil {
		return time.Time{}
	}
	v, err := r.client.Get(ctx, fmt.Sprintf("signal-engine:lastrun:%s", jobName)).Result()
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Close shuts the Redis connection down.
func (r *JobLockRepository) Close() {
	if r.client != nil {
		_ = r.client.Close()
	}
}
