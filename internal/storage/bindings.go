package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/SirClappington/ledgersync/internal/domain"
)

var (
	ErrNotFound          = errors.New("storage: binding not found")
	ErrStaleTransition   = errors.New("storage: transition rejected, row changed since read")
	ErrInvalidTransition = errors.New("storage: status transition not allowed")
)

type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

const bindingCols = `id, owner_id, owner_role, resource_kind, external_id, external_url, status,
last_known_revision, last_known_modified, last_known_editor,
last_synced_revision, last_synced_at, created_at, updated_at`

func scanBinding(row pgx.Row) (*domain.Binding, error) {
	var b domain.Binding
	err := row.Scan(
		&b.ID, &b.OwnerID, &b.OwnerRole, &b.Kind, &b.ExternalID, &b.ExternalURL, &b.Status,
		&b.LastKnownRevision, &b.LastKnownModified, &b.LastKnownEditor,
		&b.LastSyncedRevision, &b.LastSyncedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "scan binding")
	}
	return &b, nil
}

func (s *Store) Get(ctx context.Context, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind) (*domain.Binding, error) {
	row := s.db.QueryRow(ctx, `select `+bindingCols+` from bindings
where owner_id = $1 and owner_role = $2 and resource_kind = $3`, ownerID, role, kind)
	return scanBinding(row)
}

func (s *Store) GetByID(ctx context.Context, id int64) (*domain.Binding, error) {
	row := s.db.QueryRow(ctx, `select `+bindingCols+` from bindings where id = $1`, id)
	return scanBinding(row)
}

// GetReady returns the binding only when it is ready and carries a handle.
// Read paths use it so polling never triggers creation.
func (s *Store) GetReady(ctx context.Context, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind) (*domain.Binding, error) {
	row := s.db.QueryRow(ctx, `select `+bindingCols+` from bindings
where owner_id = $1 and owner_role = $2 and resource_kind = $3
  and status = $4 and external_id is not null`, ownerID, role, kind, domain.StatusReady)
	return scanBinding(row)
}

// GetOrCreatePlaceholder inserts a status-none row, or returns the existing
// one. Concurrent callers converge on the unique index instead of erroring.
func (s *Store) GetOrCreatePlaceholder(ctx context.Context, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind) (*domain.Binding, error) {
	row := s.db.QueryRow(ctx, `insert into bindings (owner_id, owner_role, resource_kind, status)
values ($1, $2, $3, $4)
on conflict (owner_id, owner_role, resource_kind) do nothing
returning `+bindingCols, ownerID, role, kind, domain.StatusNone)
	b, err := scanBinding(row)
	if errors.Is(err, ErrNotFound) {
		// lost the insert race, the winner's row is there
		return s.Get(ctx, ownerID, role, kind)
	}
	return b, err
}

// TransitionParams carries the fields a transition may set. Nil pointers leave
// the stored value untouched; an empty Status keeps the current status.
// ExpectedUpdatedAt must match the stored row or the transition is rejected,
// which keeps a stale worker from clobbering a newer state.
type TransitionParams struct {
	Status      domain.Status
	ExternalID  *string
	ExternalURL *string

	LastKnownRevision *string
	LastKnownModified *time.Time
	LastKnownEditor   *string

	LastSyncedRevision *string
	LastSyncedAt       *time.Time

	ExpectedUpdatedAt time.Time
}

func (s *Store) Transition(ctx context.Context, id int64, p TransitionParams) (*domain.Binding, error) {
	cur, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next := p.Status
	if next == "" {
		next = cur.Status
	}
	if !cur.Status.CanTransition(next) {
		return nil, errors.Wrapf(ErrInvalidTransition, "%s -> %s", cur.Status, next)
	}
	if next == domain.StatusReady && p.ExternalID == nil && !cur.HasHandle() {
		return nil, errors.New("storage: ready transition without external handle")
	}

	row := s.db.QueryRow(ctx, `update bindings set
status = $2,
external_id = coalesce($3, external_id),
external_url = coalesce($4, external_url),
last_known_revision = coalesce($5, last_known_revision),
last_known_modified = coalesce($6, last_known_modified),
last_known_editor = coalesce($7, last_known_editor),
last_synced_revision = coalesce($8, last_synced_revision),
last_synced_at = coalesce($9, last_synced_at),
updated_at = now()
where id = $1 and updated_at = $10
returning `+bindingCols,
		id, next, p.ExternalID, p.ExternalURL,
		p.LastKnownRevision, p.LastKnownModified, p.LastKnownEditor,
		p.LastSyncedRevision, p.LastSyncedAt,
		p.ExpectedUpdatedAt,
	)
	b, err := scanBinding(row)
	if errors.Is(err, ErrNotFound) {
		// row exists but updated_at moved on
		return nil, ErrStaleTransition
	}
	return b, err
}

func (s *Store) ListReadyByKind(ctx context.Context, kind domain.ResourceKind) ([]*domain.Binding, error) {
	rows, err := s.db.Query(ctx, `select `+bindingCols+` from bindings
where resource_kind = $1 and status = $2 and external_id is not null
order by id`, kind, domain.StatusReady)
	if err != nil {
		return nil, errors.Wrap(err, "list ready bindings")
	}
	defer rows.Close()

	var out []*domain.Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
