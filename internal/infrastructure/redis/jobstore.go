package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	domainErrors "github.com/cassiomorais/ordercompletion/internal/domain/errors"
	"github.com/cassiomorais/ordercompletion/internal/domain/job"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Finished jobs are kept for inspection this long.
const finishedJobTTL = 7 * 24 * time.Hour

var (
	// KEYS[1] pending zset, KEYS[2] job hash; ARGV[1] handle
	cancelJobScript = redis.NewScript(`
		if redis.call("zrem", KEYS[1], ARGV[1]) == 1 then
			redis.call("hset", KEYS[2], "status", "cancelled")
			return 1
		end
		return 0
	`)

	// KEYS[1] pending zset; ARGV[1] now (unix ms), ARGV[2] limit, ARGV[3] job key prefix
	claimDueScript = redis.NewScript(`
		local ids = redis.call("zrangebyscore", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
		for _, id in ipairs(ids) do
			redis.call("zrem", KEYS[1], id)
			redis.call("hset", ARGV[3] .. id, "status", "running")
		end
		return ids
	`)

	// KEYS[1] job hash; ARGV[1] status, ARGV[2] last error, ARGV[3] ttl seconds
	finishJobScript = redis.NewScript(`
		if redis.call("hget", KEYS[1], "status") ~= "running" then
			return 0
		end
		redis.call("hset", KEYS[1], "status", ARGV[1], "last_error", ARGV[2])
		redis.call("expire", KEYS[1], tonumber(ARGV[3]))
		return 1
	`)

	// KEYS[1] pending zset, KEYS[2] job hash; ARGV[1] handle, ARGV[2] run_at (unix ms), ARGV[3] payload
	requeueJobScript = redis.NewScript(`
		if redis.call("hget", KEYS[2], "status") ~= "running" then
			return 0
		end
		redis.call("hset", KEYS[2], "status", "pending", "run_at", ARGV[2], "payload", ARGV[3])
		redis.call("zadd", KEYS[1], ARGV[2], ARGV[1])
		return 1
	`)
)

// JobStore keeps scheduled completion jobs in Redis. Pending jobs of a hook
// live in a sorted set scored by run time; each job is a hash.
type JobStore struct {
	client *redis.Client
	prefix string
}

func NewJobStore(client *redis.Client) *JobStore {
	return &JobStore{client: client, prefix: "completion"}
}

func (s *JobStore) pendingKey(hook string) string {
	return fmt.Sprintf("%s:pending:%s", s.prefix, hook)
}

func (s *JobStore) jobKeyPrefix() string {
	return s.prefix + ":job:"
}

func (s *JobStore) jobKey(handle string) string {
	return s.jobKeyPrefix() + handle
}

func (s *JobStore) Schedule(ctx context.Context, hook string, runAt time.Time, payload job.Payload) (*job.Job, error) {
	j := job.New(hook, runAt, payload)
	data, err := json.Marshal(j.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}

	handle := j.Handle.String()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.jobKey(handle), map[string]any{
			"hook":       j.Hook,
			"run_at":     j.RunAt.UnixMilli(),
			"payload":    string(data),
			"status":     string(j.Status),
			"created_at": j.CreatedAt.UnixMilli(),
		})
		pipe.ZAdd(ctx, s.pendingKey(hook), redis.Z{Score: float64(j.RunAt.UnixMilli()), Member: handle})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("schedule job: %w", err)
	}
	return j, nil
}

func (s *JobStore) FindPending(ctx context.Context, hook string) ([]*job.Job, error) {
	handles, err := s.client.ZRange(ctx, s.pendingKey(hook), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	return s.load(ctx, handles)
}

func (s *JobStore) Cancel(ctx context.Context, handle uuid.UUID) error {
	hook, err := s.client.HGet(ctx, s.jobKey(handle.String()), "hook").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("job %s: %w", handle, domainErrors.ErrJobNotFound)
		}
		return fmt.Errorf("cancel job: %w", err)
	}

	n, err := cancelJobScript.Run(ctx, s.client,
		[]string{s.pendingKey(hook), s.jobKey(handle.String())},
		handle.String(),
	).Int()
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", handle, domainErrors.ErrJobNotFound)
	}
	return nil
}

func (s *JobStore) ClaimDue(ctx context.Context, hook string, now time.Time, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	handles, err := claimDueScript.Run(ctx, s.client,
		[]string{s.pendingKey(hook)},
		now.UnixMilli(), limit, s.jobKeyPrefix(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	return s.load(ctx, handles)
}

func (s *JobStore) Finish(ctx context.Context, handle uuid.UUID, runErr error) error {
	status := job.StatusDone
	lastError := ""
	if runErr != nil {
		status = job.StatusFailed
		lastError = runErr.Error()
	}
	n, err := finishJobScript.Run(ctx, s.client,
		[]string{s.jobKey(handle.String())},
		string(status), lastError, int64(finishedJobTTL.Seconds()),
	).Int()
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", handle, domainErrors.ErrJobNotFound)
	}
	return nil
}

func (s *JobStore) Requeue(ctx context.Context, handle uuid.UUID, runAt time.Time, payload job.Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}
	hook, err := s.client.HGet(ctx, s.jobKey(handle.String()), "hook").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("job %s: %w", handle, domainErrors.ErrJobNotFound)
		}
		return fmt.Errorf("requeue job: %w", err)
	}

	n, err := requeueJobScript.Run(ctx, s.client,
		[]string{s.pendingKey(hook), s.jobKey(handle.String())},
		handle.String(), runAt.UnixMilli(), string(data),
	).Int()
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", handle, domainErrors.ErrJobNotFound)
	}
	return nil
}

func (s *JobStore) load(ctx context.Context, handles []string) ([]*job.Job, error) {
	if len(handles) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(handles))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, h := range handles {
			cmds[i] = pipe.HGetAll(ctx, s.jobKey(h))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(handles))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		j, err := decodeJob(handles[i], fields)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func decodeJob(handle string, fields map[string]string) (*job.Job, error) {
	id, err := uuid.Parse(handle)
	if err != nil {
		return nil, fmt.Errorf("parse job handle %q: %w", handle, err)
	}
	runAt, err := strconv.ParseInt(fields["run_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse run_at of job %s: %w", handle, err)
	}
	createdAt, _ := strconv.ParseInt(fields["created_at"], 10, 64)

	j := &job.Job{
		Handle:    id,
		Hook:      fields["hook"],
		RunAt:     time.UnixMilli(runAt),
		Status:    job.Status(fields["status"]),
		CreatedAt: time.UnixMilli(createdAt),
	}
	if msg := fields["last_error"]; msg != "" {
		j.LastError = &msg
	}
	if err := json.Unmarshal([]byte(fields["payload"]), &j.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload of job %s: %w", handle, err)
	}
	return j, nil
}
