// Package notify delivers alerts to Discord webhooks, stdout or several
// targets at once.
package notify

import (
	"context"
	"fmt"

	"github.com/hazyhaar/pizzawatch/alert"
	"github.com/hazyhaar/pizzawatch/snapshot"
)

// Dispatcher delivers one cycle's alerts.
type Dispatcher interface {
	// Dispatch sends alerts and returns how many were delivered. A partial
	// failure returns the delivered count and the first error.
	Dispatch(ctx context.Context, alerts []alert.Alert, snap snapshot.Snapshot) (int, error)

	// Startup announces that monitoring started with snap as baseline.
	Startup(ctx context.Context, snap snapshot.Snapshot) error

	// Test sends a message confirming the target is reachable.
	Test(ctx context.Context) error

	Close() error
}

// DefaultColors are the embed colours per threat level.
var DefaultColors = map[int]int{
	1: 0xFF0000,
	2: 0xFF6600,
	3: 0xFFCC00,
	4: 0x0099FF,
	5: 0x00FF00,
}

// FallbackColor is used for levels without a colour.
const FallbackColor = 0x808080

// Palette resolves per-level colours and descriptions.
type Palette struct {
	Colors       map[int]int
	Descriptions map[int]string
}

// Color returns the colour for level.
func (p Palette) Color(level int) int {
	if c, ok := p.Colors[level]; ok {
		return c
	}
	if c, ok := DefaultColors[level]; ok {
		return c
	}
	return FallbackColor
}

// Description returns the configured text for level, or "Level N".
func (p Palette) Description(level int) string {
	if d, ok := p.Descriptions[level]; ok && d != "" {
		return d
	}
	return fmt.Sprintf("Level %d", level)
}
