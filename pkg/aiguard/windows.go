package aiguard

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// WindowKeys identifies the calendar windows a point in time belongs to.
type WindowKeys struct {
	Date  string // 2006-01-02
	Hour  int    // 0-23
	Week  string // ISO week, e.g. 2026-W23
	Month string // 2006-01
}

// KeysAt returns the window keys of t in loc (UTC when loc is nil).
func KeysAt(t time.Time, loc *time.Location) WindowKeys {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	year, week := lt.ISOWeek()
	return WindowKeys{
		Date:  lt.Format(dateLayout),
		Hour:  lt.Hour(),
		Week:  fmt.Sprintf("%04d-W%02d", year, week),
		Month: lt.Format("2006-01"),
	}
}

// keysForDate returns the week and month keys of a stored record date.
// The date is calendar-only so the location does not matter.
func keysForDate(date string) (WindowKeys, error) {
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return WindowKeys{}, fmt.Errorf("invalid record date %q: %w", date, err)
	}
	return KeysAt(d, time.UTC), nil
}

// NextRecord applies one call at now to the counters.
//
// last is the most recent record stored for the (user, feature) pair, of any
// day, or nil. When last belongs to the same day the returned record is an
// updated copy of it; otherwise a new record for the new day is returned and
// last is not modified. Weekly and monthly totals carry over from last while
// the ISO week and calendar month are unchanged.
//
// A call stamped before last.LastUsedAt lost the race for the pair lock; it
// is counted at last.LastUsedAt so it joins the newest record instead of
// rewriting an older day or hour.
func NextRecord(last *UsageRecord, userID string, feature FeatureType, now time.Time, loc *time.Location) (*UsageRecord, error) {
	if last != nil && now.Before(last.LastUsedAt) {
		now = last.LastUsedAt
	}
	keys := KeysAt(now, loc)
	now = now.UTC()

	if last != nil && last.Date == keys.Date {
		next := *last
		next.Counts.Daily++
		if keys.Hour != last.LastHour {
			next.Counts.Hourly = 1
			next.LastHour = keys.Hour
		} else {
			next.Counts.Hourly++
		}
		next.Counts.Weekly++
		next.Counts.Monthly++
		next.LastUsedAt = now
		next.UpdatedAt = now
		return &next, nil
	}

	next := &UsageRecord{
		UserID:     userID,
		Feature:    feature,
		Date:       keys.Date,
		Counts:     Counts{Hourly: 1, Daily: 1, Weekly: 1, Monthly: 1},
		LastHour:   keys.Hour,
		LastUsedAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if last == nil {
		return next, nil
	}

	lastKeys, err := keysForDate(last.Date)
	if err != nil {
		return nil, err
	}
	if lastKeys.Week == keys.Week {
		next.Counts.Weekly = last.Counts.Weekly + 1
	}
	if lastKeys.Month == keys.Month {
		next.Counts.Monthly = last.Counts.Monthly + 1
	}
	return next, nil
}

// ApplyUsage is the shared RecordUsage transition for stores that keep the
// latest record per pair: it returns the record to persist and the result.
func ApplyUsage(last *UsageRecord, req *RecordUsageRequest) (*UsageRecord, *UsageResult, error) {
	next, err := NextRecord(last, req.UserID, req.Feature, req.Now, req.Location)
	if err != nil {
		return nil, nil, err
	}
	res := &UsageResult{Record: next}
	if last != nil {
		prev := last.LastUsedAt
		res.PreviousUsedAt = &prev
	}
	return next, res, nil
}
