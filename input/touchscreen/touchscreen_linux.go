package touchscreen

import (
	"context"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/viamrobotics/evdev"
	"go.viam.com/utils"

	"github.com/viamrobotics/inputhistory/touch"
)

const devGlob = "/dev/input/event*"

// mtSlotFallback is used for multitouch devices that do not advertise a
// slot axis.
const mtSlotFallback = 10

// Touchscreen reads a linux event device and reports its contacts as a
// touch.Surface. The contact callback runs on the device read loop so
// snapshot order is preserved; keep it brief.
type Touchscreen struct {
	mu        sync.RWMutex
	dev       *evdev.Evdev
	name      string
	slots     int
	assembler *slotAssembler
	callback  touch.ContactFunc
	logger    golog.Logger

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewSurface opens a touchscreen per cfg and begins reading it.
func NewSurface(ctx context.Context, cfg Config, logger golog.Logger) (touch.Surface, error) {
	if logger == nil {
		return nil, errors.New("missing required parameter logger")
	}
	var dev *evdev.Evdev
	var err error
	if cfg.DevFile != "" {
		if dev, err = evdev.OpenFile(cfg.DevFile); err != nil {
			return nil, errors.Wrapf(err, "opening touch device %q", cfg.DevFile)
		}
	} else if dev, err = findTouchscreen(logger); err != nil {
		return nil, err
	}

	params := assemblerParams{
		slots:       1,
		tapDuration: cfg.tapDuration(),
		tapRadius:   cfg.tapRadius(),
	}
	mt := false
	slotAxis := false
	var plainX, plainY axisInfo
	for code, info := range dev.AbsoluteTypes() {
		switch code {
		case absMTPositionX:
			params.x = axisInfo{min: info.Min, max: info.Max}
			mt = true
		case absMTPositionY:
			params.y = axisInfo{min: info.Min, max: info.Max}
			mt = true
		case absX:
			plainX = axisInfo{min: info.Min, max: info.Max}
		case absY:
			plainY = axisInfo{min: info.Min, max: info.Max}
		case absMTPressure:
			params.pressure = axisInfo{min: info.Min, max: info.Max}
		case absMTSlot:
			params.slots = int(info.Max) + 1
			slotAxis = true
		}
	}
	if !mt {
		params.x, params.y = plainX, plainY
	} else if !slotAxis {
		params.slots = mtSlotFallback
	}
	if params.x.max <= params.x.min || params.y.max <= params.y.min {
		utils.UncheckedError(dev.Close())
		return nil, errors.Errorf("device %q reports no usable position axes", dev.Name())
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	t := &Touchscreen{
		dev:        dev,
		name:       dev.Name(),
		slots:      params.slots,
		assembler:  newSlotAssembler(params),
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
	logger.Infow("touchscreen connected", "name", t.name, "slots", t.slots)

	t.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		t.readEvents(t.cancelCtx, dev)
	}, t.activeBackgroundWorkers.Done)
	return t, nil
}

// Name returns the device's reported name.
func (t *Touchscreen) Name() string { return t.name }

// SlotCount reports how many simultaneous contacts the device tracks.
func (t *Touchscreen) SlotCount() int { return t.slots }

// RegisterContactCallback registers fn to receive every contact snapshot.
// A nil fn removes the current callback.
func (t *Touchscreen) RegisterContactCallback(ctx context.Context, fn touch.ContactFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callback = fn
	return nil
}

// Close stops reading and releases the device.
func (t *Touchscreen) Close(ctx context.Context) error {
	t.cancelFunc()
	t.activeBackgroundWorkers.Wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev == nil {
		return nil
	}
	err := t.dev.Close()
	t.dev = nil
	return err
}

func (t *Touchscreen) readEvents(ctx context.Context, dev *evdev.Evdev) {
	evChan := dev.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case eventIn, ok := <-evChan:
			if !ok {
				t.logger.Infow("touchscreen disconnected", "name", t.name)
				return
			}
			if eventIn == nil {
				continue
			}
			ev := eventIn.Event
			at := timevalToTime(ev.Time)
			contacts := t.assembler.processEvent(uint16(ev.Type), ev.Code, ev.Value, at)
			if len(contacts) == 0 {
				continue
			}
			t.mu.RLock()
			cb := t.callback
			t.mu.RUnlock()
			if cb == nil {
				continue
			}
			for _, sc := range contacts {
				cb(ctx, sc.slot, sc.contact, at)
			}
		}
	}
}

// findTouchscreen scans the input devices for one reporting multitouch
// position axes.
func findTouchscreen(logger golog.Logger) (*evdev.Evdev, error) {
	paths, err := filepath.Glob(devGlob)
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		dev, err := evdev.OpenFile(path)
		if err != nil {
			continue
		}
		hasX, hasY := false, false
		for code := range dev.AbsoluteTypes() {
			switch code {
			case absMTPositionX:
				hasX = true
			case absMTPositionY:
				hasY = true
			}
		}
		if hasX && hasY {
			logger.Debugw("found touchscreen", "name", dev.Name(), "path", path)
			return dev, nil
		}
		utils.UncheckedError(dev.Close())
	}
	return nil, errors.New("no touchscreen found")
}

//nolint:unconvert
func timevalToTime(tv syscall.Timeval) time.Time {
	return time.Unix(int64(tv.Sec), int64(tv.Usec)*1000)
}
