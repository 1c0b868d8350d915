package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/pizzawatch/alert"
	"github.com/hazyhaar/pizzawatch/snapshot"
)

// maxEmbeds is Discord's per-message embed limit.
const maxEmbeds = 10

const footerText = "Pizza Index Monitor 🍕"

// startupStores is how many stores the startup message lists.
const startupStores = 5

type payload struct {
	Embeds []embed `json:"embeds"`
}

type embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Color       int     `json:"color"`
	Fields      []field `json:"fields,omitempty"`
	Timestamp   string  `json:"timestamp"`
	Footer      footer  `json:"footer"`
}

type field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type footer struct {
	Text string `json:"text"`
}

func alertEmbed(p Palette, a alert.Alert, snap snapshot.Snapshot, now time.Time) embed {
	level := a.ThreatLevel
	if level == 0 {
		level = snap.ThreatLevel
	}

	var fields []field
	if a.PreviousValue != "" && a.CurrentValue != "" {
		fields = append(fields, field{
			Name:   "📊 Change",
			Value:  fmt.Sprintf("`%s` → `%s`", a.PreviousValue, a.CurrentValue),
			Inline: true,
		})
	}
	if a.StoreName != "" {
		fields = append(fields, field{Name: "🍕 Store", Value: a.StoreName, Inline: true})
	}
	fields = append(fields, field{
		Name:  "🎯 Current DOUGHCON",
		Value: fmt.Sprintf("**%d** - %s", level, p.Description(level)),
	})

	return embed{
		Title:       a.Heading(),
		Description: a.Details,
		Color:       p.Color(level),
		Fields:      fields,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Footer:      footer{Text: footerText},
	}
}

func startupEmbed(p Palette, snap snapshot.Snapshot, now time.Time) embed {
	level := snap.ThreatLevel

	var b strings.Builder
	for i, st := range snap.Stores {
		if i == startupStores {
			break
		}
		fmt.Fprintf(&b, "%s **%s**: %s\n", statusEmoji(st.Status), st.Name, st.Status)
	}
	if n := len(snap.Stores) - startupStores; n > 0 {
		fmt.Fprintf(&b, "_...and %d more stores_", n)
	}
	stores := b.String()
	if stores == "" {
		stores = "No stores detected"
	}

	return embed{
		Title:       "🍕 Pizza Index Monitor started",
		Description: "Monitoring pizza-based geopolitical indicators.",
		Color:       p.Color(level),
		Fields: []field{
			{Name: "🎯 Current DOUGHCON level", Value: fmt.Sprintf("**%d** - %s", level, p.Description(level))},
			{Name: "🏪 Active stores", Value: stores},
		},
		Timestamp: now.UTC().Format(time.RFC3339),
		Footer:    footer{Text: footerText},
	}
}

func testEmbed(now time.Time) embed {
	return embed{
		Title:       "🔔 Test notification",
		Description: "Pizza Index Monitor webhook is configured correctly!",
		Color:       0x00FF00,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Footer:      footer{Text: footerText},
	}
}

func statusEmoji(s snapshot.Status) string {
	switch s {
	case snapshot.StatusOpen:
		return "🟢"
	case snapshot.StatusClosed:
		return "🔴"
	case snapshot.StatusBusy:
		return "🟡"
	default:
		return "⚪"
	}
}

// batches splits embeds into chunks of at most size.
func batches[T any](items []T, size int) [][]T {
	var out [][]T
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n:n])
		items = items[n:]
	}
	return out
}
