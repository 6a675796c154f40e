// Package inject provides injectable mocks of the library's device
// interfaces for testing.
package inject

import (
	"context"

	"github.com/viamrobotics/inputhistory/input"
)

// Controller is an injected input controller.
type Controller struct {
	input.Controller
	ControlsFunc                func(ctx context.Context) ([]input.Control, error)
	LastEventsFunc              func(ctx context.Context) (map[input.Control]input.Event, error)
	RegisterControlCallbackFunc func(
		ctx context.Context,
		control input.Control,
		triggers []input.EventType,
		ctrlFunc input.ControlFunction,
	) error
	TriggerEventFunc func(ctx context.Context, event input.Event) error
	CloseFunc        func(ctx context.Context) error
}

// Controls calls the injected function or the real version.
func (c *Controller) Controls(ctx context.Context) ([]input.Control, error) {
	if c.ControlsFunc == nil {
		return c.Controller.Controls(ctx)
	}
	return c.ControlsFunc(ctx)
}

// LastEvents calls the injected function or the real version.
func (c *Controller) LastEvents(ctx context.Context) (map[input.Control]input.Event, error) {
	if c.LastEventsFunc == nil {
		return c.Controller.LastEvents(ctx)
	}
	return c.LastEventsFunc(ctx)
}

// RegisterControlCallback calls the injected function or the real version.
func (c *Controller) RegisterControlCallback(
	ctx context.Context,
	control input.Control,
	triggers []input.EventType,
	ctrlFunc input.ControlFunction,
) error {
	if c.RegisterControlCallbackFunc == nil {
		return c.Controller.RegisterControlCallback(ctx, control, triggers, ctrlFunc)
	}
	return c.RegisterControlCallbackFunc(ctx, control, triggers, ctrlFunc)
}

// TriggerEvent calls the injected function or the real version.
func (c *Controller) TriggerEvent(ctx context.Context, event input.Event) error {
	if c.TriggerEventFunc == nil {
		if triggerable, ok := c.Controller.(input.Triggerable); ok {
			return triggerable.TriggerEvent(ctx, event)
		}
		return nil
	}
	return c.TriggerEventFunc(ctx, event)
}

// Close calls the injected function or the real version.
func (c *Controller) Close(ctx context.Context) error {
	if c.CloseFunc == nil {
		if c.Controller == nil {
			return nil
		}
		return c.Controller.Close(ctx)
	}
	return c.CloseFunc(ctx)
}
