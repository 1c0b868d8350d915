// Package snapshot defines one observation of the pizza index: the threat
// level, the novelty status and the per-store states at a point in time.
//
// Optional fields are pointers. A nil ActivityPercent means "not observed",
// which is not the same thing as an activity of 0.0.
package snapshot

import (
	"strings"
	"time"
)

// Status is the closed set of store states shown on the site.
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusClosed  Status = "CLOSED"
	StatusBusy    Status = "BUSY"
	StatusUnknown Status = "UNKNOWN"
)

// ParseStatus maps a raw string onto a Status. Anything outside the closed
// set becomes StatusUnknown.
func ParseStatus(s string) Status {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusOpen:
		return StatusOpen
	case StatusClosed:
		return StatusClosed
	case StatusBusy:
		return StatusBusy
	default:
		return StatusUnknown
	}
}

func (s Status) String() string { return string(s) }

// Store is the state of one pizza location within a snapshot.
type Store struct {
	Name            string   `json:"name"`
	Status          Status   `json:"status"`
	ActivityPercent *float64 `json:"activity_percent"`
	Distance        *string  `json:"distance"`
}

// Snapshot is produced by the scraper once per polling cycle. ThreatLevel is
// 1-5 with 1 the most severe; values outside that range are carried as-is.
type Snapshot struct {
	ThreatLevel       int       `json:"doughcon_level"`
	ThreatLabel       *string   `json:"doughcon_label"`
	ThreatDescription *string   `json:"doughcon_description"`
	NoveltyStatus     *string   `json:"nehi_status"`
	Stores            []Store   `json:"stores"`
	FetchedAt         time.Time `json:"fetched_at,omitzero"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// String returns a pointer to s.
func String(s string) *string { return &s }

// Deref returns *p, or the zero value and false when p is nil.
func Deref[T any](p *T) (T, bool) {
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}
