package worker

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SirClappington/ledgersync/internal/domain"
	"github.com/SirClappington/ledgersync/internal/joblock"
	"github.com/SirClappington/ledgersync/internal/queue"
	"github.com/SirClappington/ledgersync/internal/reconcile"
	"github.com/SirClappington/ledgersync/internal/sheets"
	"github.com/SirClappington/ledgersync/internal/storage"
	"github.com/SirClappington/ledgersync/internal/testutil"
)

type fixture struct {
	pool    *Pool
	queue   *testutil.FakeQueue
	locks   *testutil.FakeLocker
	store   *testutil.FakeStore
	adapter *testutil.FakeAdapter
	notify  *testutil.FakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop()
	store := testutil.NewFakeStore()
	adapter := testutil.NewFakeAdapter()
	locks := testutil.NewFakeLocker()
	q := testutil.NewFakeQueue()
	notify := testutil.NewFakeNotifier()
	svc := reconcile.NewService(store, adapter, locks, log)
	tracker := reconcile.NewTracker(store, log)
	pool := NewPool(q, locks, svc, tracker, store, adapter, notify, 2, 3, log)

	store.PutOwner(storage.Owner{ID: 42, Role: domain.RoleClient, FullName: "Іван Петренко", Email: "ivan@example.com"})
	return &fixture{pool: pool, queue: q, locks: locks, store: store, adapter: adapter, notify: notify}
}

func ensureTask() *queue.Task {
	return &queue.Task{ID: "t1", Type: queue.TaskEnsureResource, OwnerID: 42, Role: domain.RoleClient, Kind: domain.KindRequests}
}

func TestEnsureTaskCreatesAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.pool.handle(ctx, ensureTask())

	b, err := f.store.Get(ctx, 42, domain.RoleClient, domain.KindRequests)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, b.Status)

	msgs := f.notify.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(42), msgs[0].OwnerID)
	assert.Equal(t, *b.ExternalURL, msgs[0].Link)

	active, err := f.locks.IsActive(ctx, 42, domain.RoleClient, joblock.ScopeSheet)
	require.NoError(t, err)
	assert.False(t, active, "job lock must be released when the job ends")
}

func TestEnsureTaskDropsWhenJobAlreadyActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, ok, err := f.locks.TryAcquire(ctx, 42, domain.RoleClient, joblock.ScopeSheet)
	require.NoError(t, err)
	require.True(t, ok)

	f.pool.handle(ctx, ensureTask())

	assert.Equal(t, 0, f.adapter.CreateCalls, "duplicate job must not touch the adapter")
	assert.Empty(t, f.notify.Messages())
	assert.Equal(t, 0, f.queue.Len(), "duplicates are dropped, not retried")
}

func TestEnsureTaskDropsUnknownOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.pool.handle(ctx, &queue.Task{ID: "t2", Type: queue.TaskEnsureResource, OwnerID: 99, Role: domain.RoleCarrier, Kind: domain.KindFleet})

	assert.Equal(t, 0, f.adapter.CreateCalls)
	assert.Equal(t, 0, f.queue.Len())
}

func TestAppendTaskAppendsStagedRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := domain.ShipmentRequest{FromCity: "Київ", ToCity: "Львів", DateText: "завтра", CargoType: "палети", VolumeM3: 12, WeightT: 3.5, Loading: "рампа", Unloading: "вручну", PriceUAH: 18000}
	rowID := f.store.PutRow(domain.KindRequests, req.Row())

	f.pool.handle(ctx, &queue.Task{ID: "t3", Type: queue.TaskAppendRow, OwnerID: 42, Role: domain.RoleClient, Kind: domain.KindRequests, RowID: rowID})

	b, err := f.store.GetReady(ctx, 42, domain.RoleClient, domain.KindRequests)
	require.NoError(t, err)

	rows := f.adapter.Rows(*b.ExternalID, domain.TabName(domain.KindRequests))
	require.Len(t, rows, 2, "header plus one appended row")
	assert.Equal(t, domain.HeaderRow(domain.KindRequests), rows[0])
	assert.Equal(t, req.Row(), rows[1])
	require.Len(t, f.notify.Messages(), 1)
}

func TestAppendTaskRetriesTransientError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := domain.Vehicle{VehicleType: "фура", RegistrationNum: "AA1234BB", LoadCapacityTons: 20, Active: true}
	f.store.PutOwner(storage.Owner{ID: 7, Role: domain.RoleCarrier, FullName: "ТОВ Швидкий", Email: "ops@example.com"})
	rowID := f.store.PutRow(domain.KindFleet, req.Row())

	f.adapter.AppendErr = errors.New("temporary backend wobble")
	task := &queue.Task{ID: "t4", Type: queue.TaskAppendRow, OwnerID: 7, Role: domain.RoleCarrier, Kind: domain.KindFleet, RowID: rowID}
	f.pool.handle(ctx, task)

	require.Equal(t, 1, f.queue.Len(), "transient failure must re-enqueue")
	retry := f.queue.Tasks()[0]
	assert.Equal(t, 1, retry.Attempt)
	assert.True(t, f.queue.RunAt[0].After(time.Now()), "retry is delayed")

	f.adapter.AppendErr = nil
	next, err := f.queue.Dequeue(ctx, 0)
	require.NoError(t, err)
	f.pool.handle(ctx, next)

	b, err := f.store.GetReady(ctx, 7, domain.RoleCarrier, domain.KindFleet)
	require.NoError(t, err)
	rows := f.adapter.Rows(*b.ExternalID, domain.TabName(domain.KindFleet))
	require.Len(t, rows, 2)
}

func TestPermanentFailureNotifiesOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.adapter.CreateErr = sheets.ErrPermanent
	f.pool.handle(ctx, ensureTask())

	assert.Equal(t, 0, f.queue.Len(), "permanent errors are not retried")
	msgs := f.notify.Messages()
	require.Len(t, msgs, 1)
	assert.Empty(t, msgs[0].Link)

	b, err := f.store.Get(ctx, 42, domain.RoleClient, domain.KindRequests)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, b.Status)
}

func TestScanTaskRecordsRevisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.pool.handle(ctx, ensureTask())
	b, err := f.store.GetReady(ctx, 42, domain.RoleClient, domain.KindRequests)
	require.NoError(t, err)

	f.adapter.SetRevision(*b.ExternalID, sheets.Revision{ID: "rev-7", ModifiedTime: time.Now().UTC(), Editor: "ivan@example.com"})
	f.pool.handle(ctx, &queue.Task{ID: "t5", Type: queue.TaskScanRevisions, Kind: domain.KindRequests})

	cur, err := f.store.GetByID(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, cur.LastKnownRevision)
	assert.Equal(t, "rev-7", *cur.LastKnownRevision)
	assert.True(t, cur.NeedsSync())
}

func TestScanTaskSkipsVanishedSheets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.pool.handle(ctx, ensureTask())
	b, err := f.store.GetReady(ctx, 42, domain.RoleClient, domain.KindRequests)
	require.NoError(t, err)

	f.adapter.Delete(*b.ExternalID)
	f.pool.handle(ctx, &queue.Task{ID: "t6", Type: queue.TaskScanRevisions, Kind: domain.KindRequests})

	cur, err := f.store.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, cur.LastKnownRevision, "vanished sheets are skipped, not recorded")
	assert.Equal(t, 0, f.queue.Len())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, f.queue.Enqueue(ctx, *ensureTask(), time.Now()))
	require.NoError(t, f.pool.Run(ctx))
	require.Len(t, f.notify.Messages(), 1)
}
