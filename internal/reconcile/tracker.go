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

// TrackerStore is the slice of the binding store the tracker needs.
type TrackerStore interface {
	GetByID(ctx context.Context, id int64) (*domain.Binding, error)
	Transition(ctx context.Context, id int64, p storage.TransitionParams) (*domain.Binding, error)
}

// Tracker maintains the two revision cursors on a binding: what the external
// system last reported (seen) and what we last reacted to (synced). A binding
// needs sync while the two differ.
type Tracker struct {
	store TrackerStore
	log   *zap.Logger
}

func NewTracker(store TrackerStore, log *zap.Logger) *Tracker {
	return &Tracker{store: store, log: log}
}

// RecordSeen stores the latest observed revision. It never changes status, and
// losing an update race is benign: the next scan records the revision again.
func (t *Tracker) RecordSeen(ctx context.Context, bindingID int64, rev sheets.Revision) error {
	b, err := t.store.GetByID(ctx, bindingID)
	if err != nil {
		return err
	}
	p := storage.TransitionParams{
		LastKnownRevision: &rev.ID,
		ExpectedUpdatedAt: b.UpdatedAt,
	}
	if !rev.ModifiedTime.IsZero() {
		mt := rev.ModifiedTime
		p.LastKnownModified = &mt
	}
	if rev.Editor != "" {
		ed := rev.Editor
		p.LastKnownEditor = &ed
	}
	if _, err := t.store.Transition(ctx, bindingID, p); err != nil {
		if errors.Is(err, storage.ErrStaleTransition) {
			t.log.Debug("record-seen lost an update race", zap.Int64("binding_id", bindingID))
			return nil
		}
		return err
	}
	return nil
}

// RecordSynced marks that a job has reacted to the given revision, moving a
// syncing binding back to ready.
func (t *Tracker) RecordSynced(ctx context.Context, bindingID int64, revisionID string) error {
	b, err := t.store.GetByID(ctx, bindingID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	p := storage.TransitionParams{
		LastSyncedRevision: &revisionID,
		LastSyncedAt:       &now,
		ExpectedUpdatedAt:  b.UpdatedAt,
	}
	if b.Status == domain.StatusSyncing {
		p.Status = domain.StatusReady
	}
	_, err = t.store.Transition(ctx, bindingID, p)
	return err
}
