package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	apperr "github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/model"
	"github.com/webitel/report-orchestrator/internal/queue"
)

const (
	reportQueueKey = "reports:queue:report"
	batchQueueKey  = "reports:queue:batch"
)

type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(addr, password string, db int) (*RedisQueue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Ping Redis to check the connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, apperr.Network(fmt.Sprintf("cannot connect to Redis at %s", addr),
			apperr.WithID("queue.redis.connect"), apperr.WithCause(err))
	}

	return &RedisQueue{client: rdb}, nil
}

func (r *RedisQueue) PushReportTask(ctx context.Context, task model.ReportTask) error {
	return r.push(ctx, reportQueueKey, task)
}

func (r *RedisQueue) PopReportTask(ctx context.Context, wait time.Duration) (*model.ReportTask, error) {
	var task model.ReportTask
	if err := r.pop(ctx, reportQueueKey, wait, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *RedisQueue) PushBatchTask(ctx context.Context, task model.BatchTask) error {
	return r.push(ctx, batchQueueKey, task)
}

func (r *RedisQueue) PopBatchTask(ctx context.Context, wait time.Duration) (*model.BatchTask, error) {
	var task model.BatchTask
	if err := r.pop(ctx, batchQueueKey, wait, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *RedisQueue) push(ctx context.Context, key string, task any) error {
	data, err := json.Marshal(task)
	if err != nil {
		return apperr.Internal("encode task", apperr.WithID("queue.redis.push"), apperr.WithCause(err))
	}
	if err := r.client.LPush(ctx, key, data).Err(); err != nil {
		return apperr.Network("push task", apperr.WithID("queue.redis.push"), apperr.WithCause(err))
	}
	return nil
}

// pop takes the oldest task. A zero wait polls without blocking; otherwise
// the call blocks for at least a second, the BRPOP granularity.
func (r *RedisQueue) pop(ctx context.Context, key string, wait time.Duration, dst any) error {
	var raw string
	if wait <= 0 {
		v, err := r.client.RPop(ctx, key).Result()
		if err != nil {
			return r.popError(err)
		}
		raw = v
	} else {
		res, err := r.client.BRPop(ctx, wait, key).Result()
		if err != nil {
			return r.popError(err)
		}
		if len(res) != 2 {
			return apperr.Internal("unexpected BRPOP reply", apperr.WithID("queue.redis.pop"))
		}
		raw = res[1]
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return apperr.Internal("decode task", apperr.WithID("queue.redis.pop"), apperr.WithCause(err))
	}
	return nil
}

func (r *RedisQueue) popError(err error) error {
	if errors.Is(err, redis.Nil) {
		return queue.ErrEmpty
	}
	return apperr.Network("pop task", apperr.WithID("queue.redis.pop"), apperr.WithCause(err))
}

func (r *RedisQueue) RememberUpload(ctx context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	k := uploadKey(key)
	ok, err := r.client.SetNX(ctx, k, value, ttl).Result()
	if err != nil {
		return "", false, apperr.Network("remember upload", apperr.WithID("queue.redis.remember"), apperr.WithCause(err))
	}
	if ok {
		return value, true, nil
	}
	existing, err := r.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET.
		return r.RememberUpload(ctx, key, value, ttl)
	}
	if err != nil {
		return "", false, apperr.Network("remember upload", apperr.WithID("queue.redis.remember"), apperr.WithCause(err))
	}
	return existing, false, nil
}

func (r *RedisQueue) ForgetUpload(ctx context.Context, key string) error {
	return r.client.Del(ctx, uploadKey(key)).Err()
}

func (r *RedisQueue) Close() error {
	return r.client.Close()
}

// helper to standardize keys
func uploadKey(key string) string {
	return fmt.Sprintf("reports:upload:%s", key)
}
