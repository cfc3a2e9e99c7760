package redis

import (
	"context"
	"fmt"
	"time"

	"festival-ticketing/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const jobLockPrefix = "job_lock:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another replica is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis guards periodic jobs across replicas. Each lock carries an owner
// token and a TTL so a crashed holder cannot block the job forever.
type Redis struct {
	Client *redis.Client
	Logger *logger.Logger
	TTL    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration, log *logger.Logger) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Redis{Client: client, Logger: log, TTL: ttl}
}

// TryLock takes the lock for job. On success the returned release function
// must be called when the run ends; it is a no-op if the lock expired.
func (r *Redis) TryLock(ctx context.Context, job string) (func(), bool, error) {
	key := jobLockPrefix + job
	token := uuid.NewString()

	ok, err := r.Client.SetNX(ctx, key, token, r.TTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", job, err)
	}
	if !ok {
		r.Logger.Debug("REDIS", fmt.Sprintf("Job %s is running on another replica", job))
		return nil, false, nil
	}

	release := func() {
		// the run's context may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.Client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			r.Logger.Warn("REDIS", fmt.Sprintf("Release of %s failed: %v", job, err))
		}
	}
	return release, true, nil
}

// Holder reports the token currently holding job's lock, or "" if free.
func (r *Redis) Holder(ctx context.Context, job string) (string, error) {
	val, err := r.Client.Get(ctx, jobLockPrefix+job).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}
