package scraper

import (
	"bytes"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/pizzawatch/snapshot"
)

// DefaultThreatLevel is reported when the page carries no usable marker.
const DefaultThreatLevel = 5

// Marker is the text that identifies a rendered threat-level widget.
const Marker = "DOUGHCON"

var (
	levelRe    = regexp.MustCompile(`(?i)DOUGHCON\s*(\d)`)
	noveltyRe  = regexp.MustCompile(`Status:\s*([A-Za-z\s]+?)(?:\n|$)`)
	distanceRe = regexp.MustCompile(`(\d+\.?\d*)\s*mi`)
	activityRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
)

// threatLabels are matched in order. Longer labels that contain a shorter
// one come first.
var threatLabels = []string{
	"NEXT STEP TO MAXIMUM READINESS",
	"MAXIMUM READINESS",
	"INCREASE IN FORCE READINESS",
	"INCREASED INTELLIGENCE WATCH",
	"DOUBLE TAKE",
	"LOWEST STATE OF READINESS",
}

var noveltyStatuses = []string{
	"IT HAPPENED",
	"SOMETHING IS HAPPENING",
	"SOMETHING MIGHT HAPPEN",
	"NOTHING EVER HAPPENS",
}

// knownStores accept a heading as a store name by containment either way.
var knownStores = []string{
	"DOMINO'S PIZZA",
	"DOMINOS PIZZA",
	"EXTREME PIZZA",
	"DISTRICT PIZZA PALACE",
	"WE, THE PIZZA",
	"PIZZATO PIZZA",
	"PAPA JOHNS PIZZA",
	"PAPA JOHN'S PIZZA",
}

// fallbackStores are searched for in plain text when no store card parses.
var fallbackStores = []string{
	"DOMINO'S PIZZA",
	"EXTREME PIZZA",
	"DISTRICT PIZZA PALACE",
	"WE, THE PIZZA",
	"PIZZATO PIZZA",
	"PAPA JOHNS PIZZA",
}

// notStoreWords mark "PIZZA" headings that are editorial, not a location.
var notStoreWords = []string{
	"INDEX", "HISTORY", "INTELLIGENCE", "THEORY", "PENTAGON",
	"MAGAZINE", "TIME", "CRISIS", "GULF", "IRAN", "LAUNCHES",
	"DELIVERED", "CIA", "DOCUMENTED", "RUNNER", "→", "—",
	"REAL", "ACCURATE", "READ", "DASHBOARD", "CELEBRATED",
	"PIZZAS", "VIRAL", "FREQUENCIES", "PETE-ZA", "PIZZINT",
}

// Parse extracts a snapshot from a rendered page. Unparseable or empty
// markup yields a snapshot at DefaultThreatLevel with no stores.
func Parse(body []byte) (*snapshot.Snapshot, error) {
	snap, _, err := parse(body, slog.Default())
	return snap, err
}

// parse also reports whether a threat-level marker was found.
func parse(body []byte, log *slog.Logger) (*snapshot.Snapshot, bool, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("scraper: parse html: %w", err)
	}

	text := visibleText(doc.Find("body"))

	level, found := extractLevel(doc, text)
	if !found {
		log.Warn("scraper: could not find DOUGHCON level, defaulting", "level", DefaultThreatLevel)
	}

	snap := &snapshot.Snapshot{
		ThreatLevel:   level,
		ThreatLabel:   extractLabel(text),
		NoveltyStatus: extractNovelty(text),
		Stores:        extractStores(doc, log),
	}
	if len(snap.Stores) == 0 {
		log.Warn("scraper: no stores found via DOM, falling back to text extraction")
		snap.Stores = storesFromText(text)
	}

	log.Debug("scraper: parsed",
		"doughcon_level", snap.ThreatLevel,
		"label", deref(snap.ThreatLabel),
		"nehi", deref(snap.NoveltyStatus),
		"stores", len(snap.Stores))
	return snap, found, nil
}

// extractLevel returns the first in-range level, checking the whole body
// text before individual elements.
func extractLevel(doc *goquery.Document, text string) (int, bool) {
	if lvl, ok := matchLevel(text); ok {
		return lvl, true
	}

	level, found := DefaultThreatLevel, false
	doc.Find("h1, h2, h3, div, span, p").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		t := visibleText(sel)
		if !strings.Contains(strings.ToUpper(t), Marker) {
			return true
		}
		if lvl, ok := matchLevel(t); ok {
			level, found = lvl, true
			return false
		}
		return true
	})
	return level, found
}

func matchLevel(text string) (int, bool) {
	m := levelRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	lvl, err := strconv.Atoi(m[1])
	if err != nil || lvl < 1 || lvl > 5 {
		return 0, false
	}
	return lvl, true
}

func extractLabel(text string) *string {
	upper := strings.ToUpper(text)
	for _, label := range threatLabels {
		if strings.Contains(upper, label) {
			return snapshot.String(label)
		}
	}
	return nil
}

func extractNovelty(text string) *string {
	if m := noveltyRe.FindStringSubmatch(text); m != nil {
		found := strings.ToUpper(strings.TrimSpace(m[1]))
		for _, status := range noveltyStatuses {
			if strings.Contains(found, status) {
				return snapshot.String(status)
			}
		}
	}

	upper := strings.ToUpper(text)
	for _, status := range noveltyStatuses {
		if strings.Contains(upper, status) {
			return snapshot.String(status)
		}
	}
	return nil
}

func extractStores(doc *goquery.Document, log *slog.Logger) []snapshot.Store {
	var stores []snapshot.Store
	seen := make(map[string]bool)

	doc.Find("h3.font-mono.font-bold").Each(func(_ int, h *goquery.Selection) {
		name := strings.TrimSpace(visibleText(h))
		if !isStoreName(name) {
			return
		}
		key := strings.ToUpper(name)
		if seen[key] {
			return
		}
		seen[key] = true

		st := snapshot.Store{Name: name, Status: snapshot.StatusUnknown}
		if card := storeCard(h); card.Length() > 0 {
			cardText := visibleText(card)
			st.Status = statusIn(cardText)
			st.Distance = distanceIn(cardText)
			st.ActivityPercent = activityIn(cardText)
		}
		log.Debug("scraper: found store", "name", st.Name, "status", st.Status, "distance", deref(st.Distance))
		stores = append(stores, st)
	})
	return stores
}

// storeCard is the closest dark card around a store heading, or its third
// ancestor when the card class is missing.
func storeCard(h *goquery.Selection) *goquery.Selection {
	if card := h.Closest("div.bg-gray-900"); card.Length() > 0 {
		return card
	}
	return h.Parent().Parent().Parent()
}

func isStoreName(name string) bool {
	upper := strings.ToUpper(name)
	if upper == "" {
		return false
	}
	for _, known := range knownStores {
		if strings.Contains(upper, known) || strings.Contains(known, upper) {
			return true
		}
	}
	if !strings.Contains(upper, "PIZZA") {
		return false
	}
	for _, w := range notStoreWords {
		if strings.Contains(upper, w) {
			return false
		}
	}
	return true
}

// statusIn applies BUSY > OPEN > CLOSED precedence over a card's text.
func statusIn(text string) snapshot.Status {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "BUSY"):
		return snapshot.StatusBusy
	case strings.Contains(upper, "OPEN"):
		return snapshot.StatusOpen
	case strings.Contains(upper, "CLOSED"):
		return snapshot.StatusClosed
	default:
		return snapshot.StatusUnknown
	}
}

func distanceIn(text string) *string {
	m := distanceRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return snapshot.String(m[1] + " mi")
}

// activityIn returns the first percentage clamped into [0, 100].
func activityIn(text string) *float64 {
	m := activityRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return snapshot.Float(min(max(v, 0), 100))
}

// storesFromText looks for known store names line by line and reads the
// status and distance from the surrounding lines.
func storesFromText(text string) []snapshot.Store {
	lines := strings.Split(text, "\n")
	var stores []snapshot.Store

	for _, name := range fallbackStores {
		for i, line := range lines {
			if !strings.Contains(strings.ToUpper(line), name) {
				continue
			}

			st := snapshot.Store{Name: name, Status: snapshot.StatusUnknown}
			for j := max(0, i-2); j < min(len(lines), i+5); j++ {
				check := strings.ToUpper(lines[j])
				switch {
				case strings.Contains(check, "BUSY"):
					st.Status = snapshot.StatusBusy
				case strings.Contains(check, "OPEN") && st.Status == snapshot.StatusUnknown:
					st.Status = snapshot.StatusOpen
				case strings.Contains(check, "CLOSED") && st.Status == snapshot.StatusUnknown:
					st.Status = snapshot.StatusClosed
				}
				if d := distanceIn(lines[j]); d != nil {
					st.Distance = d
				}
			}
			stores = append(stores, st)
			break
		}
	}
	return stores
}

func deref(p *string) string {
	s, _ := snapshot.Deref(p)
	return s
}
