package sheets

import (
	"net/http"

	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
)

var (
	// ErrNotFound indicates the spreadsheet no longer resolves. Reconciliation
	// treats this as a normal branch, not a fault.
	ErrNotFound = errors.New("sheets: resource not found")

	// ErrRateLimited indicates the API asked us to back off.
	ErrRateLimited = errors.New("sheets: rate limit exceeded")

	// ErrPermanent indicates bad credentials or exhausted quota; retrying
	// without operator action is pointless.
	ErrPermanent = errors.New("sheets: permanent adapter error")
)

// wrapErr maps googleapi status codes onto the adapter's error taxonomy.
func wrapErr(err error, op string) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound, http.StatusGone:
			return errors.Wrap(ErrNotFound, op)
		case http.StatusTooManyRequests:
			return errors.Wrap(ErrRateLimited, op)
		case http.StatusUnauthorized, http.StatusForbidden:
			return errors.Wrapf(ErrPermanent, "%s: %s", op, gerr.Message)
		}
	}
	return errors.Wrap(err, op)
}

// IsTransient reports whether the error is worth retrying with backoff.
// Permanent errors and missing resources are not; everything else (timeouts,
// rate limits, 5xx) is.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) || errors.Is(err, ErrNotFound) {
		return false
	}
	return true
}
