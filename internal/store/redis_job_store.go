package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/karprabha/snowjob-backend/internal/domain"
)

const redisKeyPrefix = "snowjob:"

const redisJobIDsKey = redisKeyPrefix + "job_ids"

func redisJobKey(id string) string { return redisKeyPrefix + "job:" + id }

func redisOperatorKey(id string) string { return redisKeyPrefix + "operator:" + id }

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisJobStore keeps each job as a JSON document. Saves run inside
// WATCH/MULTI so a concurrent writer aborts the transaction.
type RedisJobStore struct {
	client redis.UniversalClient
}

func NewRedisJobStore(client redis.UniversalClient) *RedisJobStore {
	return &RedisJobStore{client: client}
}

func (s *RedisJobStore) CreateJob(ctx context.Context, job domain.Job) (domain.Job, error) {
	stored := job.Clone()
	stored.Version = 1

	data, err := json.Marshal(stored)
	if err != nil {
		return domain.Job{}, fmt.Errorf("store/redis: encode job: %w", err)
	}

	ok, err := s.client.SetNX(ctx, redisJobKey(stored.ID), data, 0).Result()
	if err != nil {
		return domain.Job{}, fmt.Errorf("store/redis: create job: %w", err)
	}
	if !ok {
		return domain.Job{}, fmt.Errorf("create job %s: %w", job.ID, ErrJobExists)
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, redisJobIDsKey, stored.ID)
	pipe.SAdd(ctx, redisOperatorKey(stored.OperatorID), stored.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Job{}, fmt.Errorf("store/redis: index job: %w", err)
	}
	return stored, nil
}

func (s *RedisJobStore) GetJob(ctx context.Context, id string) (domain.Job, error) {
	return s.load(ctx, s.client, id)
}

func (s *RedisJobStore) SaveJob(ctx context.Context, job domain.Job, expectedVersion int64) (domain.Job, error) {
	key := redisJobKey(job.ID)
	stored := job.Clone()
	stored.Version = expectedVersion + 1

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.load(ctx, tx, job.ID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("job %s at version %d, expected %d: %w", job.ID, current.Version, expectedVersion, domain.ErrStaleState)
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("store/redis: encode job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if current.OperatorID != stored.OperatorID {
				pipe.SRem(ctx, redisOperatorKey(current.OperatorID), stored.ID)
				pipe.SAdd(ctx, redisOperatorKey(stored.OperatorID), stored.ID)
			}
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return domain.Job{}, fmt.Errorf("job %s expected version %d: %w", job.ID, expectedVersion, domain.ErrStaleState)
	}
	if err != nil {
		return domain.Job{}, err
	}
	return stored, nil
}

func (s *RedisJobStore) ListJobs(ctx context.Context) ([]domain.Job, error) {
	return s.listSet(ctx, redisJobIDsKey, func(domain.Job) bool { return true })
}

func (s *RedisJobStore) ListByOperator(ctx context.Context, operatorID string) ([]domain.Job, error) {
	return s.listSet(ctx, redisOperatorKey(operatorID), func(domain.Job) bool { return true })
}

func (s *RedisJobStore) ListNeedingReconciliation(ctx context.Context) ([]domain.Job, error) {
	return s.listSet(ctx, redisJobIDsKey, domain.Job.NeedsReconciliation)
}

func (s *RedisJobStore) listSet(ctx context.Context, setKey string, keep func(domain.Job) bool) ([]domain.Job, error) {
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("store/redis: list ids: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisJobKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("store/redis: load jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var job domain.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, fmt.Errorf("store/redis: decode job: %w", err)
		}
		if keep(job) {
			jobs = append(jobs, job)
		}
	}

	sortByCreation(jobs)
	return jobs, nil
}

func (s *RedisJobStore) load(ctx context.Context, c getter, id string) (domain.Job, error) {
	raw, err := c.Get(ctx, redisJobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("store/redis: get job: %w", err)
	}

	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return domain.Job{}, fmt.Errorf("store/redis: decode job: %w", err)
	}
	return job, nil
}
