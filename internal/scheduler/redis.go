package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis keeps jobs in a sorted set scored by due time. Any number of
// processes may poll the same key; a job runs on whichever one removes it
// from the set first.
type Redis struct {
	rdb      redis.UniversalClient
	key      string
	interval time.Duration
	batch    int64
	now      func() time.Time
	running  sync.WaitGroup
}

// NewRedis creates a Redis scheduler polling key every interval.
func NewRedis(rdb redis.UniversalClient, key string, interval time.Duration) *Redis {
	if interval <= 0 {
		interval = time.Second
	}
	return &Redis{
		rdb:      rdb,
		key:      key,
		interval: interval,
		batch:    100,
		now:      time.Now,
	}
}

// Schedule adds job to the set unless it is already pending.
func (r *Redis) Schedule(ctx context.Context, job Job, delay time.Duration) error {
	due := r.now().Add(delay).UnixMilli()
	err := r.rdb.ZAddNX(ctx, r.key, redis.Z{
		Score:  float64(due),
		Member: job.ID(),
	}).Err()
	if err != nil {
		return errors.Wrap(err, "zadd")
	}
	return nil
}

// Run polls for due jobs until ctx is done, then waits for dispatched jobs.
func (r *Redis) Run(ctx context.Context, h Handler) error {
	base := context.WithoutCancel(ctx)
	lg := zctx.From(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.running.Wait()
			return nil
		case <-ticker.C:
			if _, err := r.dispatch(ctx, base, h); err != nil && ctx.Err() == nil {
				lg.Warn("Poll delayed jobs", zap.Error(err))
			}
		}
	}
}

// dispatch claims every due job and runs it in its own goroutine.
func (r *Redis) dispatch(ctx, base context.Context, h Handler) (int, error) {
	until := strconv.FormatInt(r.now().UnixMilli(), 10)
	members, err := r.rdb.ZRangeByScore(ctx, r.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   until,
		Count: r.batch,
	}).Result()
	if err != nil {
		return 0, errors.Wrap(err, "zrangebyscore")
	}

	claimed := 0
	for _, m := range members {
		removed, err := r.rdb.ZRem(ctx, r.key, m).Result()
		if err != nil {
			return claimed, errors.Wrap(err, "zrem")
		}
		if removed == 0 {
			continue
		}
		job, err := ParseJob(m)
		if err != nil {
			zctx.From(ctx).Error("Discard malformed job", zap.String("member", m), zap.Error(err))
			continue
		}

		claimed++
		r.running.Add(1)
		go func() {
			defer r.running.Done()
			h(base, job)
		}()
	}
	return claimed, nil
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
