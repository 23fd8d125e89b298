package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/SirClappington/ledgersync/internal/domain"
)

type TaskType string

const (
	TaskEnsureResource TaskType = "ensure-resource"
	TaskAppendRow      TaskType = "append-row"
	TaskScanRevisions  TaskType = "scan-revisions"
)

// Task is the JSON envelope carried on the queue. Scan tasks only set Kind.
type Task struct {
	ID      string              `json:"id"`
	Type    TaskType            `json:"type"`
	OwnerID int64               `json:"owner_id,omitempty"`
	Role    domain.OwnerRole    `json:"owner_role,omitempty"`
	Kind    domain.ResourceKind `json:"resource_kind,omitempty"`
	RowID   int64               `json:"row_id,omitempty"`
	Attempt int                 `json:"attempt,omitempty"`
}

type RedisQ struct {
	rdb  *r.Client
	name string
}

func New(rdb *r.Client, name string) *RedisQ { return &RedisQ{rdb, name} }

func (q *RedisQ) readyKey() string { return "queue:" + q.name }
func (q *RedisQ) delayKey() string { return "delay:" + q.name }

// Enqueue pushes the task onto the ready list, or parks it in the delay ZSET
// when runAt is in the future.
func (q *RedisQ) Enqueue(ctx context.Context, t Task, runAt time.Time) error {
	body, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "queue: encode task")
	}
	if time.Until(runAt) > 0 {
		return q.rdb.ZAdd(ctx, q.delayKey(), r.Z{Score: float64(runAt.Unix()), Member: body}).Err()
	}
	return q.rdb.LPush(ctx, q.readyKey(), body).Err()
}

// Dequeue blocks up to block for the next task. Returns nil when the wait
// timed out with nothing queued.
func (q *RedisQ) Dequeue(ctx context.Context, block time.Duration) (*Task, error) {
	res, err := q.rdb.BRPop(ctx, block, q.readyKey()).Result()
	if err != nil {
		if errors.Is(err, r.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "queue: dequeue")
	}
	if len(res) != 2 {
		return nil, nil
	}
	var t Task
	if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
		return nil, errors.Wrap(err, "queue: decode task")
	}
	return &t, nil
}

// MoveDue shifts due delayed tasks onto the ready list. The scheduler calls
// this on every tick.
func (q *RedisQ) MoveDue(ctx context.Context, now int64, batch int64) error {
	bodies, err := q.rdb.ZRangeByScore(ctx, q.delayKey(), &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: batch,
	}).Result()
	if err != nil || len(bodies) == 0 {
		return err
	}
	pipe := q.rdb.TxPipeline()
	for _, body := range bodies {
		pipe.LPush(ctx, q.readyKey(), body)
		pipe.ZRem(ctx, q.delayKey(), body)
	}
	_, err = pipe.Exec(ctx)
	return err
}
