package aiguard

import (
	"fmt"
	"time"
)

// Finding is the classification of a usage event that breaks a policy
type Finding struct {
	Type    ViolationType
	Details ViolationDetails
}

// Describe returns a one-line human readable summary, used as restriction reason
func (f *Finding) Describe() string {
	d := f.Details
	switch f.Type {
	case ViolationExcessiveUsage:
		return fmt.Sprintf("excessive usage: %d requests this %s (limit %d)", d.Count, d.Window, d.Limit)
	case ViolationRapidRequests:
		return fmt.Sprintf("rapid requests: %s between calls (minimum %s)", d.Interval, d.MinInterval)
	default:
		if d.Note != "" {
			return d.Note
		}
		return string(f.Type)
	}
}

// Detector decides whether updated counts constitute abuse
type Detector struct{}

// Evaluate classifies one recorded call. sinceLast is the time since the
// previous call of the pair, nil on a first call. Windows are checked in
// the order hour, day, week, month, then the minimum interval; the first
// match wins. A nil result means no violation.
func (Detector) Evaluate(counts Counts, sinceLast *time.Duration, policy FeaturePolicy) *Finding {
	checks := []struct {
		window Window
		count  int
		limit  int
	}{
		{WindowHour, counts.Hourly, policy.MaxPerHour},
		{WindowDay, counts.Daily, policy.MaxPerDay},
		{WindowWeek, counts.Weekly, policy.MaxPerWeek},
		{WindowMonth, counts.Monthly, policy.MaxPerMonth},
	}
	for _, c := range checks {
		if c.limit > 0 && c.count > c.limit {
			snapshot := counts
			return &Finding{
				Type: ViolationExcessiveUsage,
				Details: ViolationDetails{
					Window: c.window,
					Count:  c.count,
					Limit:  c.limit,
					Counts: &snapshot,
				},
			}
		}
	}

	if policy.MinInterval > 0 && sinceLast != nil && *sinceLast < policy.MinInterval {
		snapshot := counts
		return &Finding{
			Type: ViolationRapidRequests,
			Details: ViolationDetails{
				Interval:    *sinceLast,
				MinInterval: policy.MinInterval,
				Counts:      &snapshot,
			},
		}
	}
	return nil
}

// escalate picks the restriction for the n-th violation within the escalation window
func escalate(policy EscalationPolicy, n int, now time.Time) (RestrictionType, *time.Time) {
	if n >= policy.BanThreshold {
		if policy.BanDuration < 0 {
			return RestrictionTemporaryBan, nil
		}
		end := now.Add(policy.BanDuration)
		return RestrictionTemporaryBan, &end
	}
	end := now.Add(policy.RateLimitDuration)
	return RestrictionRateLimit, &end
}
