package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"jobflow/internal/config"
)

// CheckKind distinguishes the two deadline checks scheduled per job.
type CheckKind string

const (
	CheckRisk    CheckKind = "risk"
	CheckOverdue CheckKind = "overdue"
)

// Check is one scheduled deadline check.
type Check struct {
	JobRef  string
	Kind    CheckKind
	DueDate time.Time
	RunAt   time.Time
}

// DeadlineQueue keeps scheduled deadline checks in a Redis sorted set scored
// by run time, with each job's due date in a side hash.
type DeadlineQueue struct {
	client       *redis.Client
	scheduledKey string
	dueKey       string
}

// NewRedisClient builds a client from config.
func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func NewDeadlineQueue(client *redis.Client) *DeadlineQueue {
	return &DeadlineQueue{
		client:       client,
		scheduledKey: "deadline:scheduled",
		dueKey:       "deadline:due",
	}
}

func member(kind CheckKind, jobRef string) string {
	return string(kind) + "|" + jobRef
}

func parseMember(m string) (CheckKind, string, bool) {
	kind, ref, ok := strings.Cut(m, "|")
	if !ok || ref == "" {
		return "", "", false
	}
	switch CheckKind(kind) {
	case CheckRisk, CheckOverdue:
		return CheckKind(kind), ref, true
	}
	return "", "", false
}

// Schedule records the due date and schedules a risk check at riskAt and an
// overdue check at the due date. Rescheduling a job replaces its checks.
func (q *DeadlineQueue) Schedule(ctx context.Context, jobRef string, dueDate, riskAt time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.dueKey, jobRef, dueDate.UTC().Format(time.RFC3339Nano))
	if riskAt.Before(dueDate) {
		pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(riskAt.UnixMilli()), Member: member(CheckRisk, jobRef)})
	} else {
		pipe.ZRem(ctx, q.scheduledKey, member(CheckRisk, jobRef))
	}
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(dueDate.UnixMilli()), Member: member(CheckOverdue, jobRef)})
	_, err := pipe.Exec(ctx)
	return err
}

// Reschedule puts a single check back at runAt, used for repeating overdue
// alerts and for retrying a check that could not be evaluated.
func (q *DeadlineQueue) Reschedule(ctx context.Context, c Check, runAt time.Time) error {
	return q.client.ZAdd(ctx, q.scheduledKey, redis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: member(c.Kind, c.JobRef),
	}).Err()
}

// PopDue atomically removes up to limit checks whose run time has passed.
// A popped check belongs to the caller; no other poller sees it.
func (q *DeadlineQueue) PopDue(ctx context.Context, now time.Time, limit int64) ([]Check, error) {
	res, err := popDueScript.Run(ctx, q.client, []string{q.scheduledKey}, now.UnixMilli(), limit).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected type from pop script: %T", res)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	checks := make([]Check, 0, len(raw)/2)
	refs := make([]string, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		m, _ := raw[i].(string)
		kind, ref, ok := parseMember(m)
		if !ok {
			continue
		}
		var runAt time.Time
		if s, ok := raw[i+1].(string); ok {
			if ms, err := strconv.ParseFloat(s, 64); err == nil {
				runAt = time.UnixMilli(int64(ms)).UTC()
			}
		}
		checks = append(checks, Check{JobRef: ref, Kind: kind, RunAt: runAt})
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return nil, nil
	}

	dues, err := q.client.HMGet(ctx, q.dueKey, refs...).Result()
	if err != nil {
		return nil, err
	}
	for i := range checks {
		if s, ok := dues[i].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				checks[i].DueDate = t
			}
		}
	}
	return checks, nil
}

// Cancel removes every pending check for a job.
func (q *DeadlineQueue) Cancel(ctx context.Context, jobRef string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.scheduledKey, member(CheckRisk, jobRef), member(CheckOverdue, jobRef))
	pipe.HDel(ctx, q.dueKey, jobRef)
	_, err := pipe.Exec(ctx)
	return err
}

// Pending lists a job's scheduled checks.
func (q *DeadlineQueue) Pending(ctx context.Context, jobRef string) ([]CheckKind, error) {
	var out []CheckKind
	for _, kind := range []CheckKind{CheckRisk, CheckOverdue} {
		_, err := q.client.ZScore(ctx, q.scheduledKey, member(kind, jobRef)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, kind)
	}
	return out, nil
}

// Depth returns the number of scheduled checks.
func (q *DeadlineQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.scheduledKey).Result()
}

var popDueScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, ARGV[2])
for i=1,#items,2 do
  redis.call('ZREM', KEYS[1], items[i])
end
return items
`)
