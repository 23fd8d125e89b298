package sheets

import (
	"context"
	"time"

	"github.com/SirClappington/ledgersync/internal/domain"
)

// Handle identifies an external spreadsheet.
type Handle struct {
	ID  string
	URL string
}

// Revision is the external system's change cursor for a spreadsheet.
type Revision struct {
	ID           string
	ModifiedTime time.Time
	Editor       string
}

// Adapter is the capability surface over the external document system. Every
// call is a remote call: slow, fallible, and not transactional with the
// binding store.
type Adapter interface {
	// Create makes a new spreadsheet with an initial tab and header row.
	Create(ctx context.Context, title, tab string, header []string) (Handle, error)

	// TagWithOwner attaches queryable owner/kind properties so the sheet can
	// be rediscovered even if the binding row is lost.
	TagWithOwner(ctx context.Context, externalID string, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind) error

	// FindByOwnerTag locates a previously tagged sheet. Returns ErrNotFound
	// when none matches.
	FindByOwnerTag(ctx context.Context, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind) (Handle, error)

	// Exists reports whether the sheet still resolves (and is not trashed).
	Exists(ctx context.Context, externalID string) (bool, error)

	// GrantAccess shares the sheet with a principal (email) in the given role.
	GrantAccess(ctx context.Context, externalID, email, role string) error

	// AppendRow appends one row to the named tab, creating the tab with its
	// header on first use.
	AppendRow(ctx context.Context, externalID, tab string, row []string) error

	// LatestRevision returns the newest revision of the sheet.
	LatestRevision(ctx context.Context, externalID string) (*Revision, error)
}
