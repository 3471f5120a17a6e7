// Package expiry handles the exchange's compact expiry codes and the
// calendar logic that maps abstract target maturities onto really-listed
// contract expiries.
//
// All date <-> code conversion in the project goes through Format and Parse
// so the round-trip invariant Parse(Format(d)) == d holds everywhere.
package expiry

import (
	"strings"
	"time"

	"github.com/xtxerr/oitrack/internal/errors"
)

// codeLayout is the exchange's compact expiry format: two-digit day,
// three-letter month abbreviation, two-digit year (e.g. 26SEP25).
const codeLayout = "02Jan06"

// Format converts a date to the exchange's expiry code.
// The time component and location are ignored; only the calendar date counts.
func Format(d time.Time) string {
	return strings.ToUpper(d.Format(codeLayout))
}

// Parse converts an expiry code back into a UTC date at midnight.
// The exchange lists both padded and unpadded day numbers (05DEC25 and
// 5DEC25), so both forms are accepted.
func Parse(code string) (time.Time, error) {
	s := strings.TrimSpace(code)

	switch len(s) {
	case 6: // single-digit day
		s = "0" + s
	case 7:
	default:
		return time.Time{}, errors.Wrapf(errors.ErrUnparsableExpiry, "code %q", code)
	}

	// Month abbreviation arrives upper-cased; time.Parse wants title case.
	s = s[:2] + strings.ToUpper(s[2:3]) + strings.ToLower(s[3:5]) + s[5:]

	t, err := time.Parse(codeLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(errors.ErrUnparsableExpiry, "code %q", code)
	}

	return t.UTC(), nil
}

// DateOf truncates a timestamp to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
