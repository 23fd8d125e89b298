package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/SirClappington/ledgersync/internal/domain"
)

// Owner is the registered account behind a binding, as the conversational
// layer persisted it. The engine only reads it for sheet titles and access
// grants.
type Owner struct {
	ID       int64
	Role     domain.OwnerRole
	FullName string
	Email    string
}

func (s *Store) GetOwner(ctx context.Context, ownerID int64, role domain.OwnerRole) (*Owner, error) {
	var o Owner
	err := s.db.QueryRow(ctx, `select owner_id, owner_role, full_name, coalesce(email, '')
from owners where owner_id = $1 and owner_role = $2`, ownerID, role).
		Scan(&o.ID, &o.Role, &o.FullName, &o.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get owner")
	}
	return &o, nil
}
