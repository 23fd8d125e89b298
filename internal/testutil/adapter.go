package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SirClappington/ledgersync/internal/domain"
	"github.com/SirClappington/ledgersync/internal/sheets"
)

type tagKey struct {
	Owner int64
	Role  domain.OwnerRole
	Kind  domain.ResourceKind
}

type fakeSheet struct {
	url      string
	tabs     map[string][][]string
	tag      *tagKey
	grants   []string
	revision *sheets.Revision
	deleted  bool
}

// FakeAdapter is an in-memory sheets.Adapter. Error fields inject failures for
// a single concern; counters expose how often the remote was hit.
type FakeAdapter struct {
	mu     sync.Mutex
	seq    int
	sheets map[string]*fakeSheet

	CreateErr error
	ExistsErr error
	AppendErr error

	CreateCalls int
	ExistsCalls int
	FindCalls   int
}

func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{sheets: make(map[string]*fakeSheet)}
}

func (a *FakeAdapter) Create(_ context.Context, title, tab string, header []string) (sheets.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CreateCalls++
	if a.CreateErr != nil {
		return sheets.Handle{}, a.CreateErr
	}
	a.seq++
	id := fmt.Sprintf("sheet-%d", a.seq)
	sh := &fakeSheet{
		url:  "https://sheets.example/" + id,
		tabs: map[string][][]string{tab: {append([]string(nil), header...)}},
		revision: &sheets.Revision{
			ID:           fmt.Sprintf("%s-rev-1", id),
			ModifiedTime: time.Now().UTC(),
		},
	}
	_ = title
	a.sheets[id] = sh
	return sheets.Handle{ID: id, URL: sh.url}, nil
}

func (a *FakeAdapter) TagWithOwner(_ context.Context, externalID string, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	sh, ok := a.sheets[externalID]
	if !ok {
		return sheets.ErrNotFound
	}
	sh.tag = &tagKey{ownerID, role, kind}
	return nil
}

func (a *FakeAdapter) FindByOwnerTag(_ context.Context, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind) (sheets.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.FindCalls++
	want := tagKey{ownerID, role, kind}
	for id, sh := range a.sheets {
		if !sh.deleted && sh.tag != nil && *sh.tag == want {
			return sheets.Handle{ID: id, URL: sh.url}, nil
		}
	}
	return sheets.Handle{}, sheets.ErrNotFound
}

func (a *FakeAdapter) Exists(_ context.Context, externalID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ExistsCalls++
	if a.ExistsErr != nil {
		return false, a.ExistsErr
	}
	sh, ok := a.sheets[externalID]
	return ok && !sh.deleted, nil
}

func (a *FakeAdapter) GrantAccess(_ context.Context, externalID, email, role string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	sh, ok := a.sheets[externalID]
	if !ok {
		return sheets.ErrNotFound
	}
	sh.grants = append(sh.grants, email+":"+role)
	return nil
}

func (a *FakeAdapter) AppendRow(_ context.Context, externalID, tab string, row []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.AppendErr != nil {
		return a.AppendErr
	}
	sh, ok := a.sheets[externalID]
	if !ok || sh.deleted {
		return sheets.ErrNotFound
	}
	if _, ok := sh.tabs[tab]; !ok {
		sh.tabs[tab] = [][]string{append([]string(nil), domain.HeaderForTab(tab)...)}
	}
	sh.tabs[tab] = append(sh.tabs[tab], append([]string(nil), row...))
	return nil
}

func (a *FakeAdapter) LatestRevision(_ context.Context, externalID string) (*sheets.Revision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sh, ok := a.sheets[externalID]
	if !ok || sh.deleted {
		return nil, sheets.ErrNotFound
	}
	rev := *sh.revision
	return &rev, nil
}

// Delete simulates the owner trashing the sheet outside the system.
func (a *FakeAdapter) Delete(externalID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sh, ok := a.sheets[externalID]; ok {
		sh.deleted = true
	}
}

// SetRevision simulates an external edit bumping the revision cursor.
func (a *FakeAdapter) SetRevision(externalID string, rev sheets.Revision) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sh, ok := a.sheets[externalID]; ok {
		sh.revision = &rev
	}
}

// Rows returns the rows appended to a tab, header included.
func (a *FakeAdapter) Rows(externalID, tab string) [][]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	sh, ok := a.sheets[externalID]
	if !ok {
		return nil
	}
	return sh.tabs[tab]
}

// Grants returns the access grants recorded for a sheet.
func (a *FakeAdapter) Grants(externalID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	sh, ok := a.sheets[externalID]
	if !ok {
		return nil
	}
	return append([]string(nil), sh.grants...)
}
