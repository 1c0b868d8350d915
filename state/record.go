package state

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/pizzawatch/snapshot"
)

// Record is the persisted form of the most recent snapshot. The JSON field
// names match state files written by earlier releases of the monitor.
type Record struct {
	ThreatLevel       *int          `json:"doughcon_level"`
	ThreatLabel       *string       `json:"doughcon_label"`
	ThreatDescription *string       `json:"doughcon_description"`
	NoveltyStatus     *string       `json:"nehi_status"`
	Stores            []StoreRecord `json:"stores"`
	LastUpdated       Timestamp     `json:"last_updated"`
}

// StoreRecord is the last known state of one store.
type StoreRecord struct {
	Name            string          `json:"name"`
	Status          snapshot.Status `json:"status"`
	ActivityPercent *float64        `json:"activity_percent"`
	Distance        *string         `json:"distance"`
}

func recordFrom(snap snapshot.Snapshot, at time.Time) *Record {
	level := snap.ThreatLevel
	rec := &Record{
		ThreatLevel:       &level,
		ThreatLabel:       snap.ThreatLabel,
		ThreatDescription: snap.ThreatDescription,
		NoveltyStatus:     snap.NoveltyStatus,
		Stores:            make([]StoreRecord, 0, len(snap.Stores)),
		LastUpdated:       Timestamp{at},
	}
	for _, st := range snap.Stores {
		rec.Stores = append(rec.Stores, StoreRecord{
			Name:            st.Name,
			Status:          st.Status,
			ActivityPercent: st.ActivityPercent,
			Distance:        st.Distance,
		})
	}
	return rec
}

// normalize fills defaults that older or hand-edited files may omit.
func (r *Record) normalize() {
	for i := range r.Stores {
		r.Stores[i].Status = snapshot.ParseStatus(string(r.Stores[i].Status))
	}
}

func (r *Record) clone() *Record {
	c := *r
	c.Stores = append([]StoreRecord(nil), r.Stores...)
	return &c
}

// Timestamp serialises as RFC 3339 and also accepts the zone-less ISO form
// ("2025-01-02T15:04:05.123456") found in older state files.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("state: timestamp: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if v, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = v
			return nil
		}
	}
	return fmt.Errorf("state: timestamp: unrecognised format %q", s)
}
