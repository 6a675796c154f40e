// Package input provides human input devices, such as gamepads, joysticks,
// keyboards and touchscreens, as controllers emitting timestamped control
// events.
package input

import (
	"context"
	"strings"
	"time"
)

// Controller is a logical input device. It can be a single gamepad or
// keyboard, or a collection of switches and knobs presented as one device.
type Controller interface {
	// Controls returns the controls the controller provides.
	Controls(ctx context.Context) ([]Control, error)

	// LastEvents returns the most recent event per control, which should
	// reflect the current state of the device.
	LastEvents(ctx context.Context) (map[Control]Event, error)

	// RegisterControlCallback registers a callback to fire on the given
	// event types for one control. Passing a nil ctrlFunc deregisters the
	// control's callbacks for those event types.
	RegisterControlCallback(ctx context.Context, control Control, triggers []EventType, ctrlFunc ControlFunction) error

	// Close shuts the controller down and releases any held device.
	Close(ctx context.Context) error
}

// ControlFunction is a callback passed to RegisterControlCallback.
type ControlFunction func(ctx context.Context, ev Event)

// EventType represents the type of input event, and is returned by
// LastEvents or passed to ControlFunction callbacks.
type EventType string

// EventType list, to be expanded as new input devices are developed.
const (
	// Callbacks registered for this event will be called in ADDITION to other registered event callbacks.
	AllEvents EventType = "AllEvents"
	// Sent at controller initialization, and on reconnects.
	Connect EventType = "Connect"
	// If unplugged, or wireless/network times out.
	Disconnect EventType = "Disconnect"
	// Typical key press.
	ButtonPress EventType = "ButtonPress"
	// Key release.
	ButtonRelease EventType = "ButtonRelease"
	// Both up and down for convenience during registration, not typically emitted.
	ButtonChange EventType = "ButtonChange"
	// Absolute position is reported via Value, a la joysticks.
	PositionChangeAbs EventType = "PositionChangeAbs"
	// Relative position is reported via Value, a la mice, or simulating axes with up/down buttons.
	PositionChangeRel EventType = "PositionChangeRel"
)

// Control identifies the input (specific Axis or Button) of a controller.
type Control string

// Controls, to be expanded as new input devices are developed.
const (
	// Axes.
	AbsoluteX     Control = "AbsoluteX"
	AbsoluteY     Control = "AbsoluteY"
	AbsoluteZ     Control = "AbsoluteZ"
	AbsoluteRX    Control = "AbsoluteRX"
	AbsoluteRY    Control = "AbsoluteRY"
	AbsoluteRZ    Control = "AbsoluteRZ"
	AbsoluteHat0X Control = "AbsoluteHat0X"
	AbsoluteHat0Y Control = "AbsoluteHat0Y"

	// Buttons.
	ButtonSouth  Control = "ButtonSouth"
	ButtonEast   Control = "ButtonEast"
	ButtonWest   Control = "ButtonWest"
	ButtonNorth  Control = "ButtonNorth"
	ButtonLT     Control = "ButtonLT"
	ButtonRT     Control = "ButtonRT"
	ButtonLThumb Control = "ButtonLThumb"
	ButtonRThumb Control = "ButtonRThumb"
	ButtonSelect Control = "ButtonSelect"
	ButtonStart  Control = "ButtonStart"
	ButtonMenu   Control = "ButtonMenu"
	ButtonRecord Control = "ButtonRecord"
	ButtonEStop  Control = "ButtonEStop"
)

// IsAxis reports whether the control reports positions.
func (c Control) IsAxis() bool {
	return strings.HasPrefix(string(c), "Absolute")
}

// IsButton reports whether the control reports presses and releases.
func (c Control) IsButton() bool {
	return strings.HasPrefix(string(c), "Button")
}

// Event is passed to the registered ControlFunction or returned by LastEvents.
type Event struct {
	Time    time.Time
	Event   EventType
	Control Control // Key or Axis
	Value   float64 // 0 or 1 for buttons, -1.0 to +1.0 for axes
}

// Triggerable is implemented by controllers that accept injected events,
// such as fakes and network-backed devices.
type Triggerable interface {
	// TriggerEvent allows directly sending an Event (such as a button press) from external code.
	TriggerEvent(ctx context.Context, event Event) error
}
