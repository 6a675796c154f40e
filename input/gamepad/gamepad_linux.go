package gamepad

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/edaniels/golog"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/viamrobotics/evdev"
	"go.viam.com/utils"

	"github.com/viamrobotics/inputhistory/input"
)

const (
	devDir               = "/dev/input"
	devGlob              = devDir + "/event*"
	connectRetryInterval = 2 * time.Second
)

// Controller dispatches events from a linux event device.
type Controller struct {
	mu         sync.RWMutex
	dev        *evdev.Evdev
	model      string
	mapping    Mapping
	axisRanges map[evdev.AbsoluteType]axisRange
	controls   []input.Control
	lastEvents map[input.Control]input.Event
	callbacks  map[input.Control]map[input.EventType]input.ControlFunction

	devFile   string
	reconnect bool
	logger    golog.Logger

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

type axisRange struct {
	min, max, flat int32
}

// NewController opens a gamepad per cfg and begins dispatching its events.
func NewController(ctx context.Context, cfg Config, logger golog.Logger) (input.Controller, error) {
	if logger == nil {
		return nil, errors.New("missing required parameter logger")
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	c := &Controller{
		devFile:    cfg.DevFile,
		reconnect:  cfg.AutoReconnect,
		lastEvents: map[input.Control]input.Event{},
		callbacks:  map[input.Control]map[input.EventType]input.ControlFunction{},
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
	if err := c.connect(ctx); err != nil {
		if !cfg.AutoReconnect {
			cancelFunc()
			return nil, err
		}
		logger.Infow("no gamepad found, waiting for one to appear", "error", err)
	}
	c.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		c.run(c.cancelCtx)
	}, c.activeBackgroundWorkers.Done)
	return c, nil
}

// Controls lists the controls of the connected model. The list is empty
// while no device has been seen yet.
func (c *Controller) Controls(ctx context.Context) ([]input.Control, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]input.Control(nil), c.controls...), nil
}

// LastEvents returns the most recent event per control.
func (c *Controller) LastEvents(ctx context.Context) (map[input.Control]input.Event, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
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

// Close stops event dispatch and releases the device.
func (c *Controller) Close(ctx context.Context) error {
	c.cancelFunc()
	c.activeBackgroundWorkers.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return nil
	}
	err := c.dev.Close()
	c.dev = nil
	return err
}

func (c *Controller) run(ctx context.Context) {
	for {
		c.mu.RLock()
		dev := c.dev
		c.mu.RUnlock()
		if dev == nil {
			if !c.reconnect || !c.waitForDevice(ctx) {
				return
			}
			continue
		}
		c.readEvents(ctx, dev)
		if ctx.Err() != nil {
			return
		}
		c.dropDevice(ctx)
		if !c.reconnect {
			return
		}
	}
}

// readEvents drains the device until it disappears or ctx ends.
func (c *Controller) readEvents(ctx context.Context, dev *evdev.Evdev) {
	evChan := dev.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case eventIn, ok := <-evChan:
			if !ok {
				return
			}
			if eventIn == nil {
				continue
			}
			c.processEvent(ctx, eventIn.Event)
		}
	}
}

func (c *Controller) processEvent(ctx context.Context, ev evdev.Event) {
	switch ev.Type {
	case evdev.EventAbsolute:
		code := evdev.AbsoluteType(ev.Code)
		c.mu.RLock()
		control, known := c.mapping.Axes[code]
		rng, haveRange := c.axisRanges[code]
		c.mu.RUnlock()
		if !known {
			return
		}
		value := float64(ev.Value)
		// hats already arrive as -1, 0, or 1
		if control != input.AbsoluteHat0X && control != input.AbsoluteHat0Y && haveRange {
			value = scaleAxis(ev.Value, rng.min, rng.max)
			if rng.max > 0 && math.Abs(value) <= float64(rng.flat)/float64(rng.max) {
				value = 0
			}
		}
		c.dispatch(ctx, input.Event{
			Time:    timevalToTime(ev.Time),
			Event:   input.PositionChangeAbs,
			Control: control,
			Value:   value,
		})
	case evdev.EventKey:
		c.mu.RLock()
		control, known := c.mapping.Buttons[evdev.KeyType(ev.Code)]
		c.mu.RUnlock()
		if !known {
			return
		}
		out := input.Event{
			Time:    timevalToTime(ev.Time),
			Event:   input.ButtonChange, // key repeats stay a bare change
			Control: control,
			Value:   float64(ev.Value),
		}
		switch ev.Value {
		case 1:
			out.Event = input.ButtonPress
		case 0:
			out.Event = input.ButtonRelease
		}
		c.dispatch(ctx, out)
	}
}

// connect scans for a gamepad and installs it as the active device.
func (c *Controller) connect(ctx context.Context) error {
	paths, err := c.devicePaths()
	if err != nil {
		return err
	}
	dev, model, mapping, err := findGamepad(paths, c.logger)
	if err != nil {
		return err
	}

	ranges := make(map[evdev.AbsoluteType]axisRange, len(mapping.Axes))
	for code, info := range dev.AbsoluteTypes() {
		ranges[code] = axisRange{min: info.Min, max: info.Max, flat: info.Flat}
	}

	c.mu.Lock()
	c.dev = dev
	c.model = model
	c.mapping = mapping
	c.axisRanges = ranges
	c.controls = controlsFor(mapping)
	c.mu.Unlock()

	c.logger.Infow("gamepad connected", "model", model)
	c.sendConnectionStatus(ctx, input.Connect)
	return nil
}

func (c *Controller) devicePaths() ([]string, error) {
	if c.devFile != "" {
		return []string{c.devFile}, nil
	}
	return filepath.Glob(devGlob)
}

func findGamepad(paths []string, logger golog.Logger) (*evdev.Evdev, string, Mapping, error) {
	for _, path := range paths {
		dev, err := evdev.OpenFile(path)
		if err != nil {
			continue
		}
		name := dev.Name()
		if mapping, ok := Mappings[name]; ok {
			logger.Debugw("found known gamepad", "model", name, "path", path)
			return dev, name, mapping, nil
		}
		utils.UncheckedError(dev.Close())
	}
	for _, path := range paths {
		dev, err := evdev.OpenFile(path)
		if err != nil {
			continue
		}
		name := dev.Name()
		if isLikelyGamepad(name) {
			logger.Infow("unrecognized gamepad, using generic mapping", "model", name, "path", path)
			return dev, name, MappingGeneric, nil
		}
		utils.UncheckedError(dev.Close())
	}
	return nil, "", Mapping{}, errors.New("no gamepad found")
}

// waitForDevice blocks until a gamepad appears, watching the device
// directory when inotify is available and polling otherwise.
func (c *Controller) waitForDevice(ctx context.Context) bool {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Debugw("inotify unavailable, polling for devices", "error", err)
		watcher = nil
	} else if err := watcher.Add(devDir); err != nil {
		c.logger.Debugw("cannot watch device directory, polling instead", "path", devDir, "error", err)
		utils.UncheckedError(watcher.Close())
		watcher = nil
	}
	if watcher != nil {
		defer utils.UncheckedErrorFunc(watcher.Close)
	}

	ticker := time.NewTicker(connectRetryInterval)
	defer ticker.Stop()
	for {
		if err := c.connect(ctx); err == nil {
			return true
		}
		if watcher == nil {
			if !utils.SelectContextOrWait(ctx, connectRetryInterval) {
				return false
			}
			continue
		}
		select {
		case <-ctx.Done():
			return false
		case <-watcher.Events:
		case err := <-watcher.Errors:
			c.logger.Debugw("device watcher error", "error", err)
		case <-ticker.C:
		}
	}
}

func (c *Controller) dropDevice(ctx context.Context) {
	c.mu.Lock()
	if c.dev != nil {
		utils.UncheckedError(c.dev.Close())
		c.dev = nil
	}
	model := c.model
	c.mu.Unlock()
	c.logger.Infow("gamepad disconnected", "model", model)
	c.sendConnectionStatus(ctx, input.Disconnect)
}

func (c *Controller) sendConnectionStatus(ctx context.Context, eventType input.EventType) {
	c.mu.Lock()
	now := time.Now()
	evs := make([]input.Event, 0, len(c.controls))
	for _, control := range c.controls {
		ev := input.Event{Time: now, Event: eventType, Control: control}
		c.lastEvents[control] = ev
		evs = append(evs, ev)
	}
	c.mu.Unlock()
	for _, ev := range evs {
		c.notify(ctx, ev)
	}
}

func (c *Controller) dispatch(ctx context.Context, event input.Event) {
	c.mu.Lock()
	c.lastEvents[event.Control] = event
	c.mu.Unlock()
	c.notify(ctx, event)
}

func (c *Controller) notify(ctx context.Context, event input.Event) {
	c.mu.RLock()
	var fns []input.ControlFunction
	if fn := c.callbacks[event.Control][event.Event]; fn != nil {
		fns = append(fns, fn)
	}
	if fn := c.callbacks[event.Control][input.AllEvents]; fn != nil {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()
	for _, fn := range fns {
		fn := fn
		utils.PanicCapturingGo(func() {
			fn(ctx, event)
		})
	}
}

// scaleAxis maps a raw absolute value onto [-1, 1] over the device's
// reported range.
func scaleAxis(v, min, max int32) float64 {
	if max <= min {
		return 0
	}
	return float64(v-min)*2/float64(max-min) - 1
}

//nolint:unconvert
func timevalToTime(tv syscall.Timeval) time.Time {
	return time.Unix(int64(tv.Sec), int64(tv.Usec)*1000)
}
