// Package fake implements an input controller that generates synthetic
// events, for exercising consumers without hardware attached.
package fake

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/viamrobotics/inputhistory/input"
)

// Config describes how to configure a fake controller.
type Config struct {
	// Controls are the controls the device pretends to have. Leaving it
	// empty provides one axis and one button.
	Controls []input.Control
	// EventsPerSec is how many synthetic events to emit. Zero keeps the
	// controller silent until events are injected with TriggerEvent.
	EventsPerSec int
	// Seed fixes the generated sequence for reproducible runs.
	Seed int64
}

// Validate ensures all parts of the config are valid.
func (cfg Config) Validate() error {
	if cfg.EventsPerSec < 0 {
		return errors.Errorf("events per sec must not be negative, got %d", cfg.EventsPerSec)
	}
	for _, c := range cfg.Controls {
		if !c.IsAxis() && !c.IsButton() {
			return errors.Errorf("unknown control %q", c)
		}
	}
	return nil
}

// Controller is a fake input.Controller.
type Controller struct {
	mu         sync.Mutex
	controls   []input.Control
	lastEvents map[input.Control]input.Event
	callbacks  map[input.Control]map[input.EventType]input.ControlFunction
	random     *rand.Rand
	logger     golog.Logger

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewController returns a fake controller emitting synthetic events per cfg.
func NewController(cfg Config, logger golog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	controls := cfg.Controls
	if len(controls) == 0 {
		controls = []input.Control{input.AbsoluteX, input.ButtonSouth}
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	c := &Controller{
		controls:   append([]input.Control(nil), controls...),
		lastEvents: map[input.Control]input.Event{},
		callbacks:  map[input.Control]map[input.EventType]input.ControlFunction{},
		random:     rand.New(rand.NewSource(cfg.Seed)),
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
	now := time.Now()
	for _, control := range c.controls {
		c.lastEvents[control] = input.Event{Time: now, Event: input.Connect, Control: control}
	}
	if cfg.EventsPerSec > 0 {
		interval := time.Second / time.Duration(cfg.EventsPerSec)
		c.activeBackgroundWorkers.Add(1)
		utils.ManagedGo(func() {
			for {
				if !utils.SelectContextOrWait(cancelCtx, interval) {
					return
				}
				c.emitRandomEvent()
			}
		}, c.activeBackgroundWorkers.Done)
	}
	return c, nil
}

// Controls lists the controls the fake device provides.
func (c *Controller) Controls(ctx context.Context) ([]input.Control, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]input.Control(nil), c.controls...), nil
}

// LastEvents returns the most recent event per control.
func (c *Controller) LastEvents(ctx context.Context) (map[input.Control]input.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[input.Control]input.Event, len(c.lastEvents))
	for control, ev := range c.lastEvents {
		out[control] = ev
	}
	return out, nil
}

// RegisterControlCallback registers or, with a nil ctrlFunc, removes a
// callback for the given control and event types.
func (c *Controller) RegisterControlCallback(
	ctx context.Context,
	control input.Control,
	triggers []input.EventType,
	ctrlFunc input.ControlFunction,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callbacks[control] == nil {
		c.callbacks[control] = map[input.EventType]input.ControlFunction{}
	}
	for _, trigger := range triggers {
		if trigger == input.ButtonChange {
			c.callbacks[control][input.ButtonPress] = ctrlFunc
			c.callbacks[control][input.ButtonRelease] = ctrlFunc
			continue
		}
		c.callbacks[control][trigger] = ctrlFunc
	}
	return nil
}

// TriggerEvent injects an event as if the device had produced it.
func (c *Controller) TriggerEvent(ctx context.Context, event input.Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	c.dispatch(event)
	return nil
}

// Close stops the event loop.
func (c *Controller) Close(ctx context.Context) error {
	c.cancelFunc()
	c.activeBackgroundWorkers.Wait()
	return nil
}

func (c *Controller) emitRandomEvent() {
	c.mu.Lock()
	control := c.controls[c.random.Intn(len(c.controls))]
	var ev input.Event
	switch {
	case control.IsAxis():
		ev = input.Event{
			Time:    time.Now(),
			Event:   input.PositionChangeAbs,
			Control: control,
			Value:   c.random.Float64()*2 - 1,
		}
	default:
		eventType := input.ButtonPress
		value := 1.0
		if c.lastEvents[control].Value == 1 {
			eventType = input.ButtonRelease
			value = 0
		}
		ev = input.Event{Time: time.Now(), Event: eventType, Control: control, Value: value}
	}
	c.mu.Unlock()
	c.dispatch(ev)
}

func (c *Controller) dispatch(event input.Event) {
	c.mu.Lock()
	c.lastEvents[event.Control] = event
	var fns []input.ControlFunction
	if fn := c.callbacks[event.Control][event.Event]; fn != nil {
		fns = append(fns, fn)
	}
	if fn := c.callbacks[event.Control][input.AllEvents]; fn != nil {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn := fn
		utils.PanicCapturingGo(func() {
			fn(c.cancelCtx, event)
		})
	}
}
