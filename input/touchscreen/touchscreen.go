// Package touchscreen implements a linux multitouch event device as a
// touch.Surface.
package touchscreen

import "time"

// DefaultTapDuration is the longest gap between a lift and the next touch
// that still continues a tap chain.
const DefaultTapDuration = 300 * time.Millisecond

// DefaultTapRadius is how far, as a fraction of the surface, the next touch
// may land from the previous lift and still continue a tap chain.
const DefaultTapRadius = 0.05

// Config describes how to open a touchscreen.
type Config struct {
	// DevFile is the event device to open. Empty means scan /dev/input for
	// the first multitouch-capable device.
	DevFile string `json:"dev_file,omitempty"`
	// TapDuration overrides DefaultTapDuration. Negative disables tap
	// chain counting.
	TapDuration time.Duration `json:"tap_duration,omitempty"`
	// TapRadius overrides DefaultTapRadius.
	TapRadius float64 `json:"tap_radius,omitempty"`
}

func (cfg Config) tapDuration() time.Duration {
	if cfg.TapDuration != 0 {
		return cfg.TapDuration
	}
	return DefaultTapDuration
}

func (cfg Config) tapRadius() float64 {
	if cfg.TapRadius != 0 {
		return cfg.TapRadius
	}
	return DefaultTapRadius
}
