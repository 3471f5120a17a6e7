package expiry

import (
	"sort"
	"time"
)

// candidate is a parsed listed expiry under consideration for a target.
type candidate struct {
	code         string
	date         time.Time
	openInterest float64
	distanceDays int
}

// Resolve maps a target date to the nearest, most-liquid really-listed
// expiry. listed maps expiry codes to the aggregate open interest across
// all instruments sharing that expiry.
//
// Candidates are ranked by (calendar distance ascending, aggregate open
// interest descending); unparsable codes are discarded rather than failing
// the whole resolution. The code itself is the final tie-break so the
// result is a pure function of the inputs.
//
// Resolution is purely geometric: it does not know "today", so callers must
// filter out past-dated results before use.
func Resolve(target time.Time, listed map[string]float64) (string, bool) {
	if target.IsZero() || len(listed) == 0 {
		return "", false
	}

	targetDate := DateOf(target)

	cands := make([]candidate, 0, len(listed))
	for code, oi := range listed {
		d, err := Parse(code)
		if err != nil {
			// A single malformed market code must not abort selection
			// for the remaining candidates.
			continue
		}

		dist := int(d.Sub(targetDate).Hours() / 24)
		if dist < 0 {
			dist = -dist
		}

		cands = append(cands, candidate{
			code:         code,
			date:         d,
			openInterest: oi,
			distanceDays: dist,
		})
	}

	if len(cands) == 0 {
		return "", false
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].distanceDays != cands[j].distanceDays {
			return cands[i].distanceDays < cands[j].distanceDays
		}
		if cands[i].openInterest != cands[j].openInterest {
			return cands[i].openInterest > cands[j].openInterest
		}
		return cands[i].code < cands[j].code
	})

	return cands[0].code, true
}
