// Package segments classifies clients into lifecycle buckets from their
// materialized summaries. Labels are derived on every read and never stored.
package segments

import (
	"math"
	"time"

	"github.com/mrlokans/clinicsync/internal/config"
	"github.com/mrlokans/clinicsync/internal/entities"
)

// Segment is a client's position on the tox lifecycle axis.
type Segment string

const (
	SegmentOnSchedule   Segment = "on_schedule"
	SegmentDue          Segment = "due"
	SegmentOverdue      Segment = "overdue"
	SegmentProbablyLost Segment = "probably_lost"
	SegmentLost         Segment = "lost"
)

// ToxSegments lists the tox segments from most to least engaged.
var ToxSegments = []Segment{SegmentOnSchedule, SegmentDue, SegmentOverdue, SegmentProbablyLost, SegmentLost}

// Bucket is a client's position on the rebooking-gap axis.
type Bucket string

const (
	Bucket48h     Bucket = "48h"
	Bucket7d      Bucket = "7d"
	Bucket14d     Bucket = "14d"
	Bucket14dPlus Bucket = "14d+"
)

// RebookingBuckets lists the rebooking buckets from most to least urgent.
var RebookingBuckets = []Bucket{Bucket48h, Bucket7d, Bucket14d, Bucket14dPlus}

// Upper bounds, in hours, of each rebooking bucket. A bound belongs to its
// own bucket: exactly 48 hours is Bucket48h.
const (
	rebook48hMaxHours = 48
	rebook7dMaxHours  = 7 * 24
	rebook14dMaxHours = 14 * 24
)

// Thresholds are the tox cutoffs, as multiples of the client's own average
// tox interval. A ratio at or below Due is on schedule; at or below Overdue
// is due, and so on; above Lost is lost.
type Thresholds struct {
	DefaultIntervalDays float64
	Due                 float64
	Overdue             float64
	ProbablyLost        float64
	Lost                float64
}

// DefaultThresholds mirrors the configuration defaults.
var DefaultThresholds = Thresholds{
	DefaultIntervalDays: 90,
	Due:                 1.0,
	Overdue:             1.25,
	ProbablyLost:        1.75,
	Lost:                2.5,
}

// ThresholdsFromConfig builds thresholds from cfg, keeping defaults for
// unset or non-positive values.
func ThresholdsFromConfig(cfg config.Segments) Thresholds {
	th := DefaultThresholds
	if cfg.ToxDefaultIntervalDays > 0 {
		th.DefaultIntervalDays = cfg.ToxDefaultIntervalDays
	}
	if cfg.ToxDueRatio > 0 {
		th.Due = cfg.ToxDueRatio
	}
	if cfg.ToxOverdueRatio > 0 {
		th.Overdue = cfg.ToxOverdueRatio
	}
	if cfg.ToxProbablyLostRatio > 0 {
		th.ProbablyLost = cfg.ToxProbablyLostRatio
	}
	if cfg.ToxLostRatio > 0 {
		th.Lost = cfg.ToxLostRatio
	}
	return th
}

// ToxPosition is the raw measurement a tox segment is derived from.
type ToxPosition struct {
	DaysSinceLast float64
	IntervalDays  float64
	Ratio         float64
}

// ToxSegment classifies a tox summary. It returns false for clients with no
// completed tox visit: they are not on this axis at all.
func ToxSegment(s entities.ClientToxSummary, now time.Time, th Thresholds) (Segment, ToxPosition, bool) {
	if s.ToxVisitCount < 1 || s.LastToxAt == nil {
		return "", ToxPosition{}, false
	}

	pos := ToxPosition{IntervalDays: th.DefaultIntervalDays}
	if s.AvgIntervalDays != nil && *s.AvgIntervalDays > 0 {
		pos.IntervalDays = *s.AvgIntervalDays
	}
	pos.DaysSinceLast = math.Max(0, now.Sub(*s.LastToxAt).Hours()/24)
	if pos.IntervalDays > 0 {
		pos.Ratio = pos.DaysSinceLast / pos.IntervalDays
	}

	if s.NextToxAt != nil && s.NextToxAt.After(now) {
		return SegmentOnSchedule, pos, true
	}

	switch {
	case pos.Ratio <= th.Due:
		return SegmentOnSchedule, pos, true
	case pos.Ratio <= th.Overdue:
		return SegmentDue, pos, true
	case pos.Ratio <= th.ProbablyLost:
		return SegmentOverdue, pos, true
	case pos.Ratio <= th.Lost:
		return SegmentProbablyLost, pos, true
	default:
		return SegmentLost, pos, true
	}
}

// RebookingBucket classifies a visit summary by hours since the last
// completed visit. It returns false for clients with no completed visit or
// with an appointment still ahead of now.
func RebookingBucket(s entities.ClientVisitSummary, now time.Time) (Bucket, float64, bool) {
	if s.VisitCount < 1 || s.LastVisitAt == nil {
		return "", 0, false
	}
	if s.NextAppointmentAt != nil && s.NextAppointmentAt.After(now) {
		return "", 0, false
	}

	hours := math.Max(0, now.Sub(*s.LastVisitAt).Hours())
	switch {
	case hours <= rebook48hMaxHours:
		return Bucket48h, hours, true
	case hours <= rebook7dMaxHours:
		return Bucket7d, hours, true
	case hours <= rebook14dMaxHours:
		return Bucket14d, hours, true
	default:
		return Bucket14dPlus, hours, true
	}
}

// IsActionable reports whether a tox segment calls for outreach.
func IsActionable(s Segment) bool {
	return s != SegmentOnSchedule
}

// ParseSegment validates a tox segment name.
func ParseSegment(v string) (Segment, bool) {
	for _, s := range ToxSegments {
		if string(s) == v {
			return s, true
		}
	}
	return "", false
}

// ParseBucket validates a rebooking bucket name.
func ParseBucket(v string) (Bucket, bool) {
	for _, b := range RebookingBuckets {
		if string(b) == v {
			return b, true
		}
	}
	return "", false
}
