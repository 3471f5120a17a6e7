package expiry

import (
	"sort"
	"time"
)

// Label identifies a calendar-anchored target maturity.
type Label string

const (
	LabelNear         Label = "near"
	LabelNextWeek     Label = "next_week"
	LabelMonthEnd     Label = "month_end"
	LabelNextMonthEnd Label = "next_month_end"
	LabelQuarterEnd   Label = "quarter_end"
)

// Target is a calendar-derived date of interest. It is not necessarily a
// really-listed expiry; resolution happens separately.
type Target struct {
	Label Label
	Date  time.Time // UTC midnight
}

// TargetCalculator derives the set of target maturities from "now".
// Compute is a pure function of its argument; the calculator only carries
// configuration.
type TargetCalculator struct {
	// SettlementCutoffHour is the UTC wall-clock hour after which a
	// same-day expiring contract is considered already settling. On a
	// Friday at or past the cutoff, the near target rolls forward a week.
	SettlementCutoffHour int

	// IncludeNextWeek adds a near+7d target to keep two near-term
	// maturities in view.
	IncludeNextWeek bool
}

// Compute derives the ordered target set from now (evaluated in UTC).
func (c TargetCalculator) Compute(now time.Time) []Target {
	u := now.UTC()
	today := DateOf(u)
	y, m := today.Year(), today.Month()

	// Upcoming Friday, Monday = 0 ... Sunday = 6, Friday = 4.
	wd := (int(u.Weekday()) + 6) % 7
	daysUntilFriday := (4 - wd + 7) % 7
	if daysUntilFriday == 0 && u.Hour() >= c.SettlementCutoffHour {
		// Today's contract is already settling out; it is no longer a
		// meaningful near target.
		daysUntilFriday = 7
	}
	near := today.AddDate(0, 0, daysUntilFriday)

	targets := []Target{{LabelNear, near}}

	if c.IncludeNextWeek {
		targets = append(targets, Target{LabelNextWeek, near.AddDate(0, 0, 7)})
	}

	// Day 0 of the following month normalizes to the last day of this one.
	monthEnd := time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
	nextMonthEnd := time.Date(y, m+2, 0, 0, 0, 0, 0, time.UTC)

	qm := time.Month(((int(m)-1)/3 + 1) * 3)
	quarterEnd := time.Date(y, qm+1, 0, 0, 0, 0, 0, time.UTC)

	targets = append(targets,
		Target{LabelMonthEnd, monthEnd},
		Target{LabelNextMonthEnd, nextMonthEnd},
		Target{LabelQuarterEnd, quarterEnd},
	)

	return targets
}

// Codes formats a target set as distinct expiry codes, sorted by date
// ascending. Targets that coincide on the same date collapse to one code.
func Codes(targets []Target) []string {
	seen := make(map[time.Time]bool, len(targets))
	dates := make([]time.Time, 0, len(targets))

	for _, t := range targets {
		if seen[t.Date] {
			continue
		}
		seen[t.Date] = true
		dates = append(dates, t.Date)
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	codes := make([]string, len(dates))
	for i, d := range dates {
		codes[i] = Format(d)
	}
	return codes
}
