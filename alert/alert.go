// Package alert holds the cycle-scoped notifications produced by the change
// detector. Alerts are never persisted: they are built for one cycle, handed
// to a dispatcher and dropped.
package alert

// Type is the closed set of alert kinds.
type Type int

const (
	DoughconEscalation   Type = iota + 1 // threat level number went down (worse)
	DoughconDeescalation                 // threat level number went up
	OrderSpike                           // store activity jumped past the threshold
	StoreBusy                            // store became busy or stopped being busy
	NEHIChange                           // Nothing Ever Happens Index changed
)

// String returns the wire name, e.g. "DOUGHCON_ESCALATION".
func (t Type) String() string {
	switch t {
	case DoughconEscalation:
		return "DOUGHCON_ESCALATION"
	case DoughconDeescalation:
		return "DOUGHCON_DEESCALATION"
	case OrderSpike:
		return "ORDER_SPIKE"
	case StoreBusy:
		return "STORE_BUSY"
	case NEHIChange:
		return "NEHI_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText lets alerts serialise their type by name.
func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Emoji is the leading glyph used in notification titles.
func (t Type) Emoji() string {
	switch t {
	case DoughconEscalation:
		return "🚨"
	case DoughconDeescalation:
		return "✅"
	case OrderSpike:
		return "📈"
	case StoreBusy:
		return "🔥"
	case NEHIChange:
		return "🌍"
	default:
		return "⚠️"
	}
}

// Title is the human heading for the alert kind.
func (t Type) Title() string {
	switch t {
	case DoughconEscalation:
		return "DOUGHCON level raised!"
	case DoughconDeescalation:
		return "DOUGHCON level lowered"
	case OrderSpike:
		return "Order activity spike detected!"
	case StoreBusy:
		return "Store busy status changed"
	case NEHIChange:
		return "Nothing Ever Happens Index changed"
	default:
		return "Alert"
	}
}

// Alert is one detected change. Empty StoreName, PreviousValue and
// CurrentValue mean the field does not apply.
type Alert struct {
	Type          Type   `json:"alert_type"`
	StoreName     string `json:"store_name,omitempty"`
	PreviousValue string `json:"previous_value,omitempty"`
	CurrentValue  string `json:"current_value,omitempty"`
	ThreatLevel   int    `json:"doughcon_level"`
	Details       string `json:"details"`
}

// Heading is Emoji followed by Title.
func (a Alert) Heading() string {
	return a.Type.Emoji() + " " + a.Type.Title()
}
