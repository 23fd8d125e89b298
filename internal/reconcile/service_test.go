package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SirClappington/ledgersync/internal/domain"
	"github.com/SirClappington/ledgersync/internal/sheets"
	"github.com/SirClappington/ledgersync/internal/testutil"
)

func newTestService(t *testing.T) (*Service, *testutil.FakeStore, *testutil.FakeAdapter, *testutil.FakeLocker) {
	t.Helper()
	store := testutil.NewFakeStore()
	adapter := testutil.NewFakeAdapter()
	locks := testutil.NewFakeLocker()
	svc := NewService(store, adapter, locks, zap.NewNop())
	svc.lockWait = 10 * time.Millisecond
	return svc, store, adapter, locks
}

func TestEnsureCreatesOnce(t *testing.T) {
	svc, store, adapter, _ := newTestService(t)
	ctx := context.Background()

	h, err := svc.Ensure(ctx, 42, domain.RoleClient, domain.KindRequests, "Іван Петренко", "ivan@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)
	assert.NotEmpty(t, h.URL)
	assert.Equal(t, 1, adapter.CreateCalls)
	assert.Equal(t, []string{"ivan@example.com:writer"}, adapter.Grants(h.ID))

	b, err := store.Get(ctx, 42, domain.RoleClient, domain.KindRequests)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, b.Status)
	require.True(t, b.HasHandle())
	assert.Equal(t, h.ID, *b.ExternalID)
	assert.Equal(t, h.URL, *b.ExternalURL)
}

func TestEnsureConcurrentCallersConverge(t *testing.T) {
	svc, store, adapter, _ := newTestService(t)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	handles := make([]sheets.Handle, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = svc.Ensure(ctx, 42, domain.RoleClient, domain.KindRequests, "Іван Петренко", "ivan@example.com")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i], "caller %d", i)
		assert.Equal(t, handles[0], handles[i], "caller %d got a different handle", i)
	}
	assert.Equal(t, 1, adapter.CreateCalls, "exactly one sheet must be created")

	b, err := store.Get(ctx, 42, domain.RoleClient, domain.KindRequests)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, b.Status)
	assert.Equal(t, handles[0].ID, *b.ExternalID)
}

func TestEnsureFastPathSkipsDiscovery(t *testing.T) {
	svc, _, adapter, _ := newTestService(t)
	ctx := context.Background()

	h1, err := svc.Ensure(ctx, 7, domain.RoleCarrier, domain.KindFleet, "ТОВ Швидкий", "ops@example.com")
	require.NoError(t, err)

	adapter.FindCalls = 0
	h2, err := svc.Ensure(ctx, 7, domain.RoleCarrier, domain.KindFleet, "ТОВ Швидкий", "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, 0, adapter.FindCalls, "ready binding must not hit drive discovery")
	assert.Equal(t, 1, adapter.CreateCalls)
}

func TestEnsureRecreatesAfterExternalDeletion(t *testing.T) {
	svc, store, adapter, _ := newTestService(t)
	ctx := context.Background()

	h1, err := svc.Ensure(ctx, 42, domain.RoleClient, domain.KindRequests, "Іван Петренко", "ivan@example.com")
	require.NoError(t, err)

	before, err := store.Get(ctx, 42, domain.RoleClient, domain.KindRequests)
	require.NoError(t, err)

	adapter.Delete(h1.ID)

	h2, err := svc.Ensure(ctx, 42, domain.RoleClient, domain.KindRequests, "Іван Петренко", "ivan@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, h1.ID, h2.ID, "a fresh sheet must replace the deleted one")

	after, err := store.Get(ctx, 42, domain.RoleClient, domain.KindRequests)
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID, "binding row is updated in place, not duplicated")
	assert.Equal(t, domain.StatusReady, after.Status)
	assert.Equal(t, h2.ID, *after.ExternalID)
}

func TestEnsureAdoptsTaggedSheet(t *testing.T) {
	svc, store, adapter, _ := newTestService(t)
	ctx := context.Background()

	// sheet created and tagged before a crash, never persisted
	orphan, err := adapter.Create(ctx, "Заявки: Іван Петренко", domain.TabName(domain.KindRequests), domain.HeaderRow(domain.KindRequests))
	require.NoError(t, err)
	require.NoError(t, adapter.TagWithOwner(ctx, orphan.ID, 42, domain.RoleClient, domain.KindRequests))
	adapter.CreateCalls = 0

	h, err := svc.Ensure(ctx, 42, domain.RoleClient, domain.KindRequests, "Іван Петренко", "ivan@example.com")
	require.NoError(t, err)
	assert.Equal(t, orphan, h, "the tagged sheet is adopted, not recreated")
	assert.Equal(t, 0, adapter.CreateCalls)

	b, err := store.Get(ctx, 42, domain.RoleClient, domain.KindRequests)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, b.Status)
	assert.Equal(t, orphan.ID, *b.ExternalID)
}

func TestEnsureMarksFailedOnPermanentError(t *testing.T) {
	svc, store, adapter, _ := newTestService(t)
	ctx := context.Background()

	adapter.CreateErr = sheets.ErrPermanent
	_, err := svc.Ensure(ctx, 42, domain.RoleClient, domain.KindRequests, "Іван Петренко", "ivan@example.com")
	require.ErrorIs(t, err, sheets.ErrPermanent)

	b, err := store.Get(ctx, 42, domain.RoleClient, domain.KindRequests)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, b.Status)
	assert.False(t, b.HasHandle())

	// an explicit new trigger retries from failed
	adapter.CreateErr = nil
	h, err := svc.Ensure(ctx, 42, domain.RoleClient, domain.KindRequests, "Іван Петренко", "ivan@example.com")
	require.NoError(t, err)

	b, err = store.Get(ctx, 42, domain.RoleClient, domain.KindRequests)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, b.Status)
	assert.Equal(t, h.ID, *b.ExternalID)
}

func TestEnsureWaitsOutBusyCreationLock(t *testing.T) {
	svc, _, _, locks := newTestService(t)
	ctx := context.Background()

	// a foreign holder takes the creation lock, then a first Ensure result
	// appears while we wait
	token, ok, err := locks.TryAcquire(ctx, 42, domain.RoleClient, string(domain.KindRequests))
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(25 * time.Millisecond)
		_ = locks.Release(ctx, 42, domain.RoleClient, string(domain.KindRequests), token)
	}()

	h, err := svc.Ensure(ctx, 42, domain.RoleClient, domain.KindRequests, "Іван Петренко", "ivan@example.com")
	<-done
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)
}

func TestEnsureSkipsGrantWithoutEmail(t *testing.T) {
	svc, _, adapter, _ := newTestService(t)
	ctx := context.Background()

	h, err := svc.Ensure(ctx, 9, domain.RoleCarrier, domain.KindTrips, "ФОП Без Пошти", "")
	require.NoError(t, err)
	assert.Empty(t, adapter.Grants(h.ID))
}
