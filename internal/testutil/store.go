package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/SirClappington/ledgersync/internal/domain"
	"github.com/SirClappington/ledgersync/internal/storage"
)

type ownerKey struct {
	ID   int64
	Role domain.OwnerRole
}

type bindingKey struct {
	Owner int64
	Role  domain.OwnerRole
	Kind  domain.ResourceKind
}

type stagedRow struct {
	Kind   domain.ResourceKind
	Values []string
}

// FakeStore is an in-memory binding store with the same transition semantics
// as the Postgres one: unique (owner, role, kind), updated_at guard, status
// transition validation.
type FakeStore struct {
	mu      sync.Mutex
	nextID  int64
	byID    map[int64]*domain.Binding
	byKey   map[bindingKey]int64
	owners  map[ownerKey]*storage.Owner
	rows    map[int64]stagedRow
	nextRow int64
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		byID:   make(map[int64]*domain.Binding),
		byKey:  make(map[bindingKey]int64),
		owners: make(map[ownerKey]*storage.Owner),
		rows:   make(map[int64]stagedRow),
	}
}

func clone(b *domain.Binding) *domain.Binding {
	cp := *b
	return &cp
}

func (s *FakeStore) Get(_ context.Context, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind) (*domain.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[bindingKey{ownerID, role, kind}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *FakeStore) GetByID(_ context.Context, id int64) (*domain.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(b), nil
}

func (s *FakeStore) GetReady(ctx context.Context, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind) (*domain.Binding, error) {
	b, err := s.Get(ctx, ownerID, role, kind)
	if err != nil {
		return nil, err
	}
	if b.Status != domain.StatusReady || !b.HasHandle() {
		return nil, storage.ErrNotFound
	}
	return b, nil
}

func (s *FakeStore) GetOrCreatePlaceholder(_ context.Context, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind) (*domain.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bindingKey{ownerID, role, kind}
	if id, ok := s.byKey[key]; ok {
		return clone(s.byID[id]), nil
	}
	s.nextID++
	now := time.Now().UTC()
	b := &domain.Binding{
		ID:        s.nextID,
		OwnerID:   ownerID,
		OwnerRole: role,
		Kind:      kind,
		Status:    domain.StatusNone,
		Timestamps: domain.Timestamps{
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	s.byID[b.ID] = b
	s.byKey[key] = b.ID
	return clone(b), nil
}

func (s *FakeStore) Transition(_ context.Context, id int64, p storage.TransitionParams) (*domain.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	next := p.Status
	if next == "" {
		next = b.Status
	}
	if !b.Status.CanTransition(next) {
		return nil, errors.Wrapf(storage.ErrInvalidTransition, "%s -> %s", b.Status, next)
	}
	if next == domain.StatusReady && p.ExternalID == nil && !b.HasHandle() {
		return nil, errors.New("ready transition without external handle")
	}
	if !b.UpdatedAt.Equal(p.ExpectedUpdatedAt) {
		return nil, storage.ErrStaleTransition
	}

	b.Status = next
	if p.ExternalID != nil {
		b.ExternalID = p.ExternalID
	}
	if p.ExternalURL != nil {
		b.ExternalURL = p.ExternalURL
	}
	if p.LastKnownRevision != nil {
		b.LastKnownRevision = p.LastKnownRevision
	}
	if p.LastKnownModified != nil {
		b.LastKnownModified = p.LastKnownModified
	}
	if p.LastKnownEditor != nil {
		b.LastKnownEditor = p.LastKnownEditor
	}
	if p.LastSyncedRevision != nil {
		b.LastSyncedRevision = p.LastSyncedRevision
	}
	if p.LastSyncedAt != nil {
		b.LastSyncedAt = p.LastSyncedAt
	}
	// strictly after the previous value even on coarse clocks
	b.UpdatedAt = laterOf(time.Now().UTC(), b.UpdatedAt.Add(time.Microsecond))
	return clone(b), nil
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func (s *FakeStore) ListReadyByKind(_ context.Context, kind domain.ResourceKind) ([]*domain.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Binding
	for _, b := range s.byID {
		if b.Kind == kind && b.Status == domain.StatusReady && b.HasHandle() {
			out = append(out, clone(b))
		}
	}
	return out, nil
}

func (s *FakeStore) GetOwner(_ context.Context, ownerID int64, role domain.OwnerRole) (*storage.Owner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.owners[ownerKey{ownerID, role}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *FakeStore) PutOwner(o storage.Owner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[ownerKey{o.ID, o.Role}] = &o
}

func (s *FakeStore) FetchRow(_ context.Context, kind domain.ResourceKind, rowID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[rowID]
	if !ok || r.Kind != kind {
		return nil, storage.ErrNotFound
	}
	return append([]string(nil), r.Values...), nil
}

func (s *FakeStore) PutRow(kind domain.ResourceKind, values []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRow++
	s.rows[s.nextRow] = stagedRow{Kind: kind, Values: values}
	return s.nextRow
}
