package sheets

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	driveapi "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/SirClappington/ledgersync/internal/domain"
)

const (
	tagOwner = "ledgersync_owner"
	tagRole  = "ledgersync_role"
	tagKind  = "ledgersync_kind"

	defaultColumnWidth = 150

	// Drive allows 10 req/sec/user; stay under it.
	requestsPerSecond = 8
	burstSize         = 10
)

// Google implements Adapter on the Sheets v4 and Drive v3 APIs using a
// service account. Sheets are created under the service account and shared
// with the owner by email.
type Google struct {
	sheets  *sheetsapi.Service
	drive   *driveapi.Service
	limiter *rate.Limiter
	timeout time.Duration
}

func NewGoogle(ctx context.Context, credentialsPath string, callTimeout time.Duration) (*Google, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, errors.Wrap(err, "sheets: read credentials")
	}
	creds, err := google.CredentialsFromJSON(ctx, data, sheetsapi.SpreadsheetsScope, driveapi.DriveScope)
	if err != nil {
		return nil, errors.Wrap(err, "sheets: parse credentials")
	}
	ssvc, err := sheetsapi.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, errors.Wrap(err, "sheets: sheets service")
	}
	dsvc, err := driveapi.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, errors.Wrap(err, "sheets: drive service")
	}
	return &Google{
		sheets:  ssvc,
		drive:   dsvc,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burstSize),
		timeout: callTimeout,
	}, nil
}

// begin applies the rate limiter and the per-call timeout.
func (g *Google) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	return cctx, cancel, nil
}

func (g *Google) Create(ctx context.Context, title, tab string, header []string) (Handle, error) {
	cctx, cancel, err := g.begin(ctx)
	if err != nil {
		return Handle{}, err
	}
	defer cancel()

	resp, err := g.sheets.Spreadsheets.Create(&sheetsapi.Spreadsheet{
		Properties: &sheetsapi.SpreadsheetProperties{Title: title},
		Sheets: []*sheetsapi.Sheet{
			{Properties: &sheetsapi.SheetProperties{Title: tab}},
		},
	}).Context(cctx).Do()
	if err != nil {
		return Handle{}, wrapErr(err, "create spreadsheet")
	}

	h := Handle{ID: resp.SpreadsheetId, URL: resp.SpreadsheetUrl}
	if err := g.appendValues(ctx, h.ID, tab, header); err != nil {
		return Handle{}, err
	}
	if len(resp.Sheets) > 0 {
		gid := resp.Sheets[0].Properties.SheetId
		if err := g.setColumnWidths(ctx, h.ID, gid, len(header)); err != nil {
			return Handle{}, err
		}
	}
	return h, nil
}

func (g *Google) TagWithOwner(ctx context.Context, externalID string, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind) error {
	cctx, cancel, err := g.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = g.drive.Files.Update(externalID, &driveapi.File{
		AppProperties: map[string]string{
			tagOwner: strconv.FormatInt(ownerID, 10),
			tagRole:  string(role),
			tagKind:  string(kind),
		},
	}).Context(cctx).Do()
	return wrapErr(err, "tag with owner")
}

func (g *Google) FindByOwnerTag(ctx context.Context, ownerID int64, role domain.OwnerRole, kind domain.ResourceKind) (Handle, error) {
	cctx, cancel, err := g.begin(ctx)
	if err != nil {
		return Handle{}, err
	}
	defer cancel()

	q := fmt.Sprintf(
		"appProperties has { key='%s' and value='%d' } and "+
			"appProperties has { key='%s' and value='%s' } and "+
			"appProperties has { key='%s' and value='%s' } and trashed=false",
		tagOwner, ownerID, tagRole, role, tagKind, kind,
	)
	resp, err := g.drive.Files.List().Q(q).
		Fields("files(id, webViewLink)").PageSize(1).Context(cctx).Do()
	if err != nil {
		return Handle{}, wrapErr(err, "find by owner tag")
	}
	if len(resp.Files) == 0 {
		return Handle{}, ErrNotFound
	}
	f := resp.Files[0]
	return Handle{ID: f.Id, URL: f.WebViewLink}, nil
}

func (g *Google) Exists(ctx context.Context, externalID string) (bool, error) {
	cctx, cancel, err := g.begin(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()

	f, err := g.drive.Files.Get(externalID).Fields("id, trashed").Context(cctx).Do()
	if err != nil {
		err = wrapErr(err, "exists")
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return !f.Trashed, nil
}

func (g *Google) GrantAccess(ctx context.Context, externalID, email, role string) error {
	cctx, cancel, err := g.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = g.drive.Permissions.Create(externalID, &driveapi.Permission{
		Type:         "user",
		Role:         role,
		EmailAddress: email,
	}).SendNotificationEmail(false).Context(cctx).Do()
	return wrapErr(err, "grant access")
}

func (g *Google) AppendRow(ctx context.Context, externalID, tab string, row []string) error {
	if err := g.ensureTab(ctx, externalID, tab); err != nil {
		return err
	}
	return g.appendValues(ctx, externalID, tab, row)
}

func (g *Google) LatestRevision(ctx context.Context, externalID string) (*Revision, error) {
	cctx, cancel, err := g.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var last *driveapi.Revision
	call := g.drive.Revisions.List(externalID).
		Fields("nextPageToken, revisions(id, modifiedTime, lastModifyingUser/emailAddress)").
		PageSize(1000)
	err = call.Pages(cctx, func(page *driveapi.RevisionList) error {
		if len(page.Revisions) > 0 {
			last = page.Revisions[len(page.Revisions)-1]
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr(err, "latest revision")
	}
	if last == nil {
		return nil, ErrNotFound
	}

	rev := &Revision{ID: last.Id}
	if t, err := time.Parse(time.RFC3339, last.ModifiedTime); err == nil {
		rev.ModifiedTime = t
	}
	if last.LastModifyingUser != nil {
		rev.Editor = last.LastModifyingUser.EmailAddress
	}
	return rev, nil
}

// ensureTab adds the tab with its header row if the spreadsheet lacks it.
func (g *Google) ensureTab(ctx context.Context, externalID, tab string) error {
	cctx, cancel, err := g.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	meta, err := g.sheets.Spreadsheets.Get(externalID).
		Fields("sheets.properties").Context(cctx).Do()
	if err != nil {
		return wrapErr(err, "get spreadsheet metadata")
	}
	for _, s := range meta.Sheets {
		if s.Properties != nil && s.Properties.Title == tab {
			return nil
		}
	}

	_, err = g.sheets.Spreadsheets.BatchUpdate(externalID, &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{
			{AddSheet: &sheetsapi.AddSheetRequest{
				Properties: &sheetsapi.SheetProperties{Title: tab},
			}},
		},
	}).Context(cctx).Do()
	if err != nil {
		return wrapErr(err, "add sheet tab")
	}
	return g.appendValues(ctx, externalID, tab, domain.HeaderForTab(tab))
}

func (g *Google) appendValues(ctx context.Context, externalID, tab string, row []string) error {
	cctx, cancel, err := g.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	values := make([]interface{}, len(row))
	for i, v := range row {
		values[i] = v
	}
	_, err = g.sheets.Spreadsheets.Values.Append(externalID, tab+"!A1", &sheetsapi.ValueRange{
		Values: [][]interface{}{values},
	}).ValueInputOption("RAW").Context(cctx).Do()
	return wrapErr(err, "append values")
}

func (g *Google) setColumnWidths(ctx context.Context, externalID string, gid int64, columns int) error {
	cctx, cancel, err := g.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = g.sheets.Spreadsheets.BatchUpdate(externalID, &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{
			{UpdateDimensionProperties: &sheetsapi.UpdateDimensionPropertiesRequest{
				Range: &sheetsapi.DimensionRange{
					SheetId:    gid,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   int64(columns),
				},
				Properties: &sheetsapi.DimensionProperties{PixelSize: defaultColumnWidth},
				Fields:     "pixelSize",
			}},
		},
	}).Context(cctx).Do()
	return wrapErr(err, "set column widths")
}
