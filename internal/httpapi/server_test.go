package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SirClappington/ledgersync/internal/domain"
	"github.com/SirClappington/ledgersync/internal/httpapi"
	"github.com/SirClappington/ledgersync/internal/joblock"
	"github.com/SirClappington/ledgersync/internal/queue"
	"github.com/SirClappington/ledgersync/internal/storage"
	"github.com/SirClappington/ledgersync/internal/testutil"
)

type env struct {
	srv   *httptest.Server
	store *testutil.FakeStore
	locks *testutil.FakeLocker
	queue *testutil.FakeQueue
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := testutil.NewFakeStore()
	locks := testutil.NewFakeLocker()
	q := testutil.NewFakeQueue()
	s := httpapi.NewServer(store, locks, q, zap.NewNop())
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &env{srv: srv, store: store, locks: locks, queue: q}
}

func (e *env) post(t *testing.T, path, body string) (*http.Response, map[string]string) {
	t.Helper()
	resp, err := http.Post(e.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	return resp, out
}

func TestEnsureEnqueuesTask(t *testing.T) {
	e := newEnv(t)

	resp, out := e.post(t, "/v1/ensure", `{"owner_id":42,"owner_role":"client","resource_kind":"requests"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "queued", out["status"])
	assert.NotEmpty(t, out["task_id"])

	require.Equal(t, 1, e.queue.Len())
	task := e.queue.Tasks()[0]
	assert.Equal(t, queue.TaskEnsureResource, task.Type)
	assert.Equal(t, int64(42), task.OwnerID)
	assert.Equal(t, domain.RoleClient, task.Role)
	assert.Equal(t, domain.KindRequests, task.Kind)
}

func TestEnsureConflictsWhileJobActive(t *testing.T) {
	e := newEnv(t)
	_, ok, err := e.locks.TryAcquire(context.Background(), 42, domain.RoleClient, joblock.ScopeSheet)
	require.NoError(t, err)
	require.True(t, ok)

	resp, out := e.post(t, "/v1/ensure", `{"owner_id":42,"owner_role":"client","resource_kind":"requests"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "in_progress", out["status"])
	assert.Equal(t, 0, e.queue.Len())
}

func TestAppendRequiresRowID(t *testing.T) {
	e := newEnv(t)

	resp, out := e.post(t, "/v1/append", `{"owner_id":7,"owner_role":"carrier","resource_kind":"fleet"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "row_id is required", out["error"])

	resp, _ = e.post(t, "/v1/append", `{"owner_id":7,"owner_role":"carrier","resource_kind":"fleet","row_id":3}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, 1, e.queue.Len())
	assert.Equal(t, int64(3), e.queue.Tasks()[0].RowID)
}

func TestTriggerValidation(t *testing.T) {
	e := newEnv(t)

	cases := []struct {
		name, body string
	}{
		{"bad json", `{"owner_id":`},
		{"unknown role", `{"owner_id":1,"owner_role":"admin","resource_kind":"requests"}`},
		{"unknown kind", `{"owner_id":1,"owner_role":"client","resource_kind":"invoices"}`},
		{"missing owner", `{"owner_role":"client","resource_kind":"requests"}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			resp, _ := e.post(t, "/v1/ensure", c.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Equal(t, 0, e.queue.Len())
}

func TestGetBindingLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	resp, err := http.Get(e.srv.URL + "/v1/bindings/client/requests?owner_id=42")
	require.NoError(t, err)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "none", out["status"])

	b, err := e.store.GetOrCreatePlaceholder(ctx, 42, domain.RoleClient, domain.KindRequests)
	require.NoError(t, err)
	b, err = e.store.Transition(ctx, b.ID, storage.TransitionParams{
		Status:            domain.StatusCreating,
		ExpectedUpdatedAt: b.UpdatedAt,
	})
	require.NoError(t, err)

	resp, err = http.Get(e.srv.URL + "/v1/bindings/client/requests?owner_id=42")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "creating", out["status"])

	id, url := "sheet-1", "https://sheets.example/sheet-1"
	_, err = e.store.Transition(ctx, b.ID, storage.TransitionParams{
		Status:            domain.StatusReady,
		ExternalID:        &id,
		ExternalURL:       &url,
		ExpectedUpdatedAt: b.UpdatedAt,
	})
	require.NoError(t, err)

	resp, err = http.Get(e.srv.URL + "/v1/bindings/client/requests?owner_id=42")
	require.NoError(t, err)
	var ready map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ready))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", ready["status"])
	assert.Equal(t, id, ready["external_id"])
	assert.Equal(t, url, ready["external_url"])
	assert.Equal(t, true, ready["needs_sync"])
}

func TestGetBindingRejectsBadParams(t *testing.T) {
	e := newEnv(t)

	for _, path := range []string{
		"/v1/bindings/admin/requests?owner_id=1",
		"/v1/bindings/client/invoices?owner_id=1",
		"/v1/bindings/client/requests",
	} {
		resp, err := http.Get(e.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equalf(t, http.StatusBadRequest, resp.StatusCode, "path %s", path)
	}
}
