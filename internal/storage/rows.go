package storage

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/SirClappington/ledgersync/internal/domain"
)

// FetchRow loads the rendered spreadsheet row the conversational layer staged
// in ledger_rows. Values are stored as a JSON string array so the engine never
// needs the order/vehicle schemas.
func (s *Store) FetchRow(ctx context.Context, kind domain.ResourceKind, rowID int64) ([]string, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `select row_values from ledger_rows
where id = $1 and resource_kind = $2`, rowID, kind).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "fetch ledger row")
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, errors.Wrap(err, "decode ledger row")
	}
	return values, nil
}

// StageRow persists a rendered row for a later append-row job and returns its id.
func (s *Store) StageRow(ctx context.Context, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind, values []string) (int64, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return 0, errors.Wrap(err, "encode ledger row")
	}
	var id int64
	err = s.db.QueryRow(ctx, `insert into ledger_rows (owner_id, owner_role, resource_kind, row_values)
values ($1, $2, $3, $4) returning id`, ownerID, role, kind, raw).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "stage ledger row")
	}
	return id, nil
}
