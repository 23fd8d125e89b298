package worker

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/ledgersync/internal/domain"
	"github.com/SirClappington/ledgersync/internal/queue"
	"github.com/SirClappington/ledgersync/internal/sheets"
	"github.com/SirClappington/ledgersync/internal/storage"
)

type Queue interface {
	Enqueue(ctx context.Context, t queue.Task, runAt time.Time) error
	Dequeue(ctx context.Context, block time.Duration) (*queue.Task, error)
}

type Locker interface {
	TryAcquire(ctx context.Context, ownerID int64, role domain.OwnerRole, scope string) (token string, ok bool, err error)
	Release(ctx context.Context, ownerID int64, role domain.OwnerRole, scope, token string) error
}

type Ensurer interface {
	Ensure(ctx context.Context, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind, displayName, accessEmail string) (sheets.Handle, error)
}

type Notifier interface {
	Send(ctx context.Context, ownerID int64, text, link string) error
}

type SeenRecorder interface {
	RecordSeen(ctx context.Context, bindingID int64, rev sheets.Revision) error
}

// Store is the slice of the binding store the workers need.
type Store interface {
	ListReadyByKind(ctx context.Context, kind domain.ResourceKind) ([]*domain.Binding, error)
	GetOwner(ctx context.Context, ownerID int64, role domain.OwnerRole) (*storage.Owner, error)
	FetchRow(ctx context.Context, kind domain.ResourceKind, rowID int64) ([]string, error)
}

// Pool runs a bounded set of workers over the task queue. Workers share no
// in-memory state; the binding store and the job lock are the only
// synchronization points.
type Pool struct {
	queue   Queue
	locks   Locker
	ensure  Ensurer
	tracker SeenRecorder
	store   Store
	adapter sheets.Adapter
	notify  Notifier
	log     *zap.Logger

	workers     int
	maxAttempts int
	pollBlock   time.Duration
}

func NewPool(q Queue, locks Locker, ensure Ensurer, tracker SeenRecorder, store Store, adapter sheets.Adapter, notify Notifier, workers, maxAttempts int, log *zap.Logger) *Pool {
	return &Pool{
		queue:       q,
		locks:       locks,
		ensure:      ensure,
		tracker:     tracker,
		store:       store,
		adapter:     adapter,
		notify:      notify,
		log:         log,
		workers:     workers,
		maxAttempts: maxAttempts,
		pollBlock:   5 * time.Second,
	}
}

func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.loop(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		t, err := p.queue.Dequeue(ctx, p.pollBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("dequeue failed", zap.Error(err))
			continue
		}
		if t == nil {
			continue
		}
		p.handle(ctx, t)
	}
}

func (p *Pool) handle(ctx context.Context, t *queue.Task) {
	log := p.log.With(
		zap.String("task_id", t.ID),
		zap.String("task_type", string(t.Type)),
		zap.Int64("owner_id", t.OwnerID),
		zap.String("kind", string(t.Kind)),
		zap.Int("attempt", t.Attempt),
	)

	var err error
	switch t.Type {
	case queue.TaskEnsureResource:
		err = p.handleEnsure(ctx, t, log)
	case queue.TaskAppendRow:
		err = p.handleAppend(ctx, t, log)
	case queue.TaskScanRevisions:
		err = p.handleScan(ctx, t, log)
	default:
		log.Error("unknown task type dropped")
		return
	}
	if err == nil {
		return
	}

	if p.retryable(err) && t.Attempt+1 < p.maxAttempts {
		next := *t
		next.Attempt++
		runAt := time.Now().Add(backoff(next.Attempt))
		if qerr := p.queue.Enqueue(ctx, next, runAt); qerr != nil {
			log.Error("re-enqueue failed", zap.Error(qerr), zap.NamedError("cause", err))
			return
		}
		log.Warn("task failed, retrying", zap.Error(err), zap.Time("run_at", runAt))
		return
	}

	log.Error("task failed permanently", zap.Error(err))
	p.notifyFailure(ctx, t)
}

func (p *Pool) retryable(err error) bool {
	return sheets.IsTransient(err)
}

func (p *Pool) notifyFailure(ctx context.Context, t *queue.Task) {
	switch t.Type {
	case queue.TaskEnsureResource, queue.TaskAppendRow:
		if err := p.notify.Send(ctx, t.OwnerID,
			"❌ Не вдалося оновити вашу Google-таблицю. Спробуйте ще раз пізніше.", ""); err != nil {
			p.log.Warn("failure notification not delivered", zap.Error(err))
		}
	}
}

func backoff(attempt int) time.Duration {
	sec := math.Min(math.Pow(2, float64(attempt))*15, 600)
	return time.Duration(sec) * time.Second
}
