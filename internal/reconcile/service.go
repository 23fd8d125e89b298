package reconcile

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/ledgersync/internal/domain"
	"github.com/SirClappington/ledgersync/internal/sheets"
	"github.com/SirClappington/ledgersync/internal/storage"
)

// ErrCreationInFlight means another job holds the creation lock and the sheet
// did not become ready while we waited. Callers should retry later.
var ErrCreationInFlight = errors.New("reconcile: creation already in flight")

// BindingStore is the slice of the binding store the service needs.
type BindingStore interface {
	Get(ctx context.Context, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind) (*domain.Binding, error)
	GetByID(ctx context.Context, id int64) (*domain.Binding, error)
	GetOrCreatePlaceholder(ctx context.Context, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind) (*domain.Binding, error)
	Transition(ctx context.Context, id int64, p storage.TransitionParams) (*domain.Binding, error)
}

// Locker guards the creation sub-step.
type Locker interface {
	TryAcquire(ctx context.Context, ownerID int64, role domain.OwnerRole, scope string) (token string, ok bool, err error)
	Release(ctx context.Context, ownerID int64, role domain.OwnerRole, scope, token string) error
	IsHolder(ctx context.Context, ownerID int64, role domain.OwnerRole, scope, token string) (bool, error)
}

// Service produces a valid, existing sheet handle for an owner, creating one
// only when none can be found. The binding row is the single arbiter of truth;
// handles are never cached across calls.
type Service struct {
	store   BindingStore
	adapter sheets.Adapter
	locks   Locker
	log     *zap.Logger

	accessRole   string
	lockAttempts int
	lockWait     time.Duration
}

func NewService(store BindingStore, adapter sheets.Adapter, locks Locker, log *zap.Logger) *Service {
	return &Service{
		store:        store,
		adapter:      adapter,
		locks:        locks,
		log:          log,
		accessRole:   "writer",
		lockAttempts: 5,
		lockWait:     2 * time.Second,
	}
}

// WithAccessRole overrides the Drive role granted to owners. Empty keeps the
// default.
func (s *Service) WithAccessRole(role string) *Service {
	if role != "" {
		s.accessRole = role
	}
	return s
}

// Ensure returns the handle of the owner's sheet of the given kind. Calling it
// N times concurrently yields exactly one sheet and N identical handles.
func (s *Service) Ensure(ctx context.Context, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind, displayName, accessEmail string) (sheets.Handle, error) {
	b, err := s.store.Get(ctx, ownerID, role, kind)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return sheets.Handle{}, err
	}

	// Fast path: known handle that still resolves. No lock, no discovery.
	if b != nil && b.Status == domain.StatusReady && b.HasHandle() {
		live, err := s.adapter.Exists(ctx, *b.ExternalID)
		if err != nil {
			return sheets.Handle{}, err
		}
		if live {
			return sheets.Handle{ID: *b.ExternalID, URL: *b.ExternalURL}, nil
		}
		s.log.Info("bound sheet vanished, recreating",
			zap.Int64("owner_id", ownerID), zap.String("kind", string(kind)),
			zap.String("external_id", *b.ExternalID))
	}

	return s.ensureLocked(ctx, ownerID, role, kind, displayName, accessEmail)
}

// ensureLocked serializes discovery and creation behind the per-kind lock.
// When the lock is busy it waits for the holder and adopts their result.
func (s *Service) ensureLocked(ctx context.Context, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind, displayName, accessEmail string) (sheets.Handle, error) {
	scope := string(kind)
	for attempt := 0; attempt < s.lockAttempts; attempt++ {
		token, ok, err := s.locks.TryAcquire(ctx, ownerID, role, scope)
		if err != nil {
			return sheets.Handle{}, err
		}
		if !ok {
			select {
			case <-ctx.Done():
				return sheets.Handle{}, ctx.Err()
			case <-time.After(s.lockWait):
			}
			if h, found := s.storedHandle(ctx, ownerID, role, kind); found {
				return h, nil
			}
			continue
		}

		h, err := s.reconcile(ctx, ownerID, role, kind, displayName, accessEmail, token)
		if relErr := s.locks.Release(ctx, ownerID, role, scope, token); relErr != nil {
			s.log.Warn("creation lock release failed", zap.Error(relErr))
		}
		return h, err
	}
	return sheets.Handle{}, ErrCreationInFlight
}

// storedHandle reports a ready binding's handle without touching the adapter.
func (s *Service) storedHandle(ctx context.Context, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind) (sheets.Handle, bool) {
	b, err := s.store.Get(ctx, ownerID, role, kind)
	if err != nil || b.Status != domain.StatusReady || !b.HasHandle() {
		return sheets.Handle{}, false
	}
	return sheets.Handle{ID: *b.ExternalID, URL: *b.ExternalURL}, true
}

// reconcile runs with the creation lock held.
func (s *Service) reconcile(ctx context.Context, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind, displayName, accessEmail, token string) (sheets.Handle, error) {
	b, err := s.store.GetOrCreatePlaceholder(ctx, ownerID, role, kind)
	if err != nil {
		return sheets.Handle{}, err
	}

	// Re-read under the lock: a racer may have finished while we queued. A
	// syncing binding's handle is just as valid as a ready one's.
	if (b.Status == domain.StatusReady || b.Status == domain.StatusSyncing) && b.HasHandle() {
		live, err := s.adapter.Exists(ctx, *b.ExternalID)
		if err != nil {
			return sheets.Handle{}, err
		}
		if live {
			return sheets.Handle{ID: *b.ExternalID, URL: *b.ExternalURL}, nil
		}
	}

	// A sheet created before a crash is findable by its owner tag even though
	// the binding never recorded it.
	found, err := s.adapter.FindByOwnerTag(ctx, ownerID, role, kind)
	switch {
	case err == nil:
		live, eerr := s.adapter.Exists(ctx, found.ID)
		if eerr != nil {
			return sheets.Handle{}, eerr
		}
		if live {
			return s.promote(ctx, b, found, accessEmail, token)
		}
	case !errors.Is(err, sheets.ErrNotFound):
		return sheets.Handle{}, err
	}

	return s.create(ctx, b, displayName, accessEmail, token)
}

// promote adopts an existing sheet into the binding as ready.
func (s *Service) promote(ctx context.Context, b *domain.Binding, h sheets.Handle, accessEmail, token string) (sheets.Handle, error) {
	cur, err := s.transition(ctx, b, storage.TransitionParams{
		Status:            domain.StatusCreating,
		ExpectedUpdatedAt: b.UpdatedAt,
	})
	if err != nil {
		return s.converge(ctx, b, err)
	}
	s.checkHolder(ctx, b, token)
	cur, err = s.transition(ctx, cur, storage.TransitionParams{
		Status:            domain.StatusReady,
		ExternalID:        &h.ID,
		ExternalURL:       &h.URL,
		ExpectedUpdatedAt: cur.UpdatedAt,
	})
	if err != nil {
		return s.converge(ctx, b, err)
	}
	s.log.Info("adopted rediscovered sheet",
		zap.Int64("owner_id", b.OwnerID), zap.String("kind", string(b.Kind)),
		zap.String("external_id", h.ID))
	return h, nil
}

// create makes a fresh sheet, tags and shares it, then records the handle.
func (s *Service) create(ctx context.Context, b *domain.Binding, displayName, accessEmail, token string) (sheets.Handle, error) {
	cur, err := s.transition(ctx, b, storage.TransitionParams{
		Status:            domain.StatusCreating,
		ExpectedUpdatedAt: b.UpdatedAt,
	})
	if err != nil {
		return s.converge(ctx, b, err)
	}

	h, err := s.adapter.Create(ctx,
		domain.SheetTitle(b.Kind, displayName), domain.TabName(b.Kind), domain.HeaderRow(b.Kind))
	if err != nil {
		s.markFailed(ctx, cur)
		return sheets.Handle{}, err
	}
	if err := s.adapter.TagWithOwner(ctx, h.ID, b.OwnerID, b.OwnerRole, b.Kind); err != nil {
		s.markFailed(ctx, cur)
		return sheets.Handle{}, err
	}
	if accessEmail != "" {
		if err := s.adapter.GrantAccess(ctx, h.ID, accessEmail, s.accessRole); err != nil {
			// the sheet is tagged, so a retry will rediscover it
			s.markFailed(ctx, cur)
			return sheets.Handle{}, err
		}
	}

	s.checkHolder(ctx, cur, token)
	cur, err = s.transition(ctx, cur, storage.TransitionParams{
		Status:            domain.StatusReady,
		ExternalID:        &h.ID,
		ExternalURL:       &h.URL,
		ExpectedUpdatedAt: cur.UpdatedAt,
	})
	if err != nil {
		return s.converge(ctx, b, err)
	}
	s.log.Info("created sheet",
		zap.Int64("owner_id", b.OwnerID), zap.String("kind", string(b.Kind)),
		zap.String("external_id", h.ID))
	return h, nil
}

func (s *Service) transition(ctx context.Context, b *domain.Binding, p storage.TransitionParams) (*domain.Binding, error) {
	return s.store.Transition(ctx, b.ID, p)
}

// converge handles a lost transition race: if someone else produced a ready
// binding, return their handle instead of erroring.
func (s *Service) converge(ctx context.Context, b *domain.Binding, cause error) (sheets.Handle, error) {
	if !errors.Is(cause, storage.ErrStaleTransition) && !errors.Is(cause, storage.ErrInvalidTransition) {
		return sheets.Handle{}, cause
	}
	if h, found := s.storedHandle(ctx, b.OwnerID, b.OwnerRole, b.Kind); found {
		return h, nil
	}
	return sheets.Handle{}, cause
}

// markFailed is best-effort; a failed binding is retried on the next trigger.
func (s *Service) markFailed(ctx context.Context, b *domain.Binding) {
	_, err := s.store.Transition(ctx, b.ID, storage.TransitionParams{
		Status:            domain.StatusFailed,
		ExpectedUpdatedAt: b.UpdatedAt,
	})
	if err != nil {
		s.log.Warn("failed-state transition did not apply",
			zap.Int64("binding_id", b.ID), zap.Error(err))
	}
}

// checkHolder logs when the lock TTL lapsed mid-job. The store's updated_at
// guard is what actually protects the write.
func (s *Service) checkHolder(ctx context.Context, b *domain.Binding, token string) {
	held, err := s.locks.IsHolder(ctx, b.OwnerID, b.OwnerRole, string(b.Kind), token)
	if err == nil && !held {
		s.log.Warn("creation lock expired before results were written",
			zap.Int64("owner_id", b.OwnerID), zap.String("kind", string(b.Kind)))
	}
}
