// Package capture records controller events into a state history buffer
// and serializes captured histories to a line oriented JSON log.
package capture

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/viamrobotics/inputhistory/input"
	"github.com/viamrobotics/inputhistory/statehistory"
)

// DefaultHistoryDepth is the number of events a recorder retains when
// Params.HistoryDepth is zero. Capture traces tend to be read back whole,
// so the default is deeper than a live state buffer's.
const DefaultHistoryDepth = 512

// ErrNoEvents is returned by LastEvent when nothing has been recorded for
// the requested control.
var ErrNoEvents = errors.New("no events recorded for control")

// Params configures a Recorder.
type Params struct {
	// Controller is the device whose events get recorded.
	Controller input.Controller
	// Controls limits recording to the named controls. Empty means every
	// control the controller reports.
	Controls []input.Control
	// HistoryDepth is how many events the recorder retains, oldest evicted
	// first. Zero means DefaultHistoryDepth.
	HistoryDepth int
	Logger       golog.Logger
	// Clock stamps events that arrive without a timestamp. Zero value means
	// the wall clock.
	Clock clock.Clock
}

// Validate ensures all parts of the config are valid.
func (p Params) Validate() error {
	if p.Controller == nil {
		return errors.New("missing required parameter controller")
	}
	if p.Logger == nil {
		return errors.New("missing required parameter logger")
	}
	if p.HistoryDepth < 0 {
		return errors.Errorf("history depth must not be negative, got %d", p.HistoryDepth)
	}
	return nil
}

// Recorder captures the event stream of a controller into a fixed-depth
// history buffer, one float64 source per control. Connect and Disconnect
// events are logged but not recorded.
type Recorder struct {
	mu         sync.Mutex
	controller input.Controller
	controls   []input.Control
	sources    map[input.Control]statehistory.Source
	history    *statehistory.Buffer
	clock      clock.Clock
	logger     golog.Logger
	started    bool
}

// NewRecorder returns a recorder for the controller in p. Recording does
// not begin until Start.
func NewRecorder(ctx context.Context, p Params) (*Recorder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	controls := p.Controls
	if len(controls) == 0 {
		var err error
		if controls, err = p.Controller.Controls(ctx); err != nil {
			return nil, errors.Wrap(err, "reading controls from controller")
		}
	}
	if len(controls) == 0 {
		return nil, errors.New("controller reports no controls to record")
	}

	sources := make(map[input.Control]statehistory.Source, len(controls))
	ordered := make([]statehistory.Source, 0, len(controls))
	for _, control := range controls {
		if _, ok := sources[control]; ok {
			return nil, errors.Errorf("control %q listed twice", control)
		}
		src := statehistory.Float64Source(string(control))
		sources[control] = src
		ordered = append(ordered, src)
	}
	history, err := statehistory.NewForSources(ordered...)
	if err != nil {
		return nil, err
	}
	depth := p.HistoryDepth
	if depth == 0 {
		depth = DefaultHistoryDepth
	}
	if err := history.SetHistoryDepth(depth); err != nil {
		return nil, err
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Recorder{
		controller: p.Controller,
		controls:   append([]input.Control(nil), controls...),
		sources:    sources,
		history:    history,
		clock:      clk,
		logger:     p.Logger,
	}, nil
}

// Start registers capture callbacks on the controller. Starting an already
// started recorder is an error.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("recorder already started")
	}
	r.started = true
	r.mu.Unlock()

	for _, control := range r.controls {
		err := r.controller.RegisterControlCallback(ctx, control, []input.EventType{input.AllEvents}, r.record)
		if err != nil {
			return multierr.Combine(
				errors.Wrapf(err, "registering capture callback for %q", control),
				r.Stop(ctx),
			)
		}
	}
	return nil
}

// Stop deregisters the capture callbacks. Stopping a recorder that is not
// started does nothing. The captured history stays readable.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.mu.Unlock()

	var errs error
	for _, control := range r.controls {
		errs = multierr.Combine(errs,
			r.controller.RegisterControlCallback(ctx, control, []input.EventType{input.AllEvents}, nil))
	}
	return errs
}

func (r *Recorder) record(ctx context.Context, ev input.Event) {
	switch ev.Event {
	case input.Connect, input.Disconnect:
		r.logger.Debugw("controller connection changed", "control", ev.Control, "event", ev.Event)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.sources[ev.Control]
	if !ok {
		return
	}
	at := ev.Time
	if at.IsZero() {
		at = r.clock.Now()
	}
	if _, err := r.history.AppendFloat64(src, ev.Value, at); err != nil {
		r.logger.Errorw("failed to record event", "control", ev.Control, "error", err)
	}
}

// Controls returns the controls being recorded.
func (r *Recorder) Controls() []input.Control {
	return append([]input.Control(nil), r.controls...)
}

// Len returns how many events the recorder currently retains.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.Len()
}

// History returns handles to the retained events, oldest first. The handles
// go stale as later events evict their entries, so read them before
// recording resumes.
func (r *Recorder) History() []statehistory.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.Records()
}

// LastEvent returns the newest recorded event for control, reconstructed
// from the stored value. It returns ErrNoEvents when the control has no
// recorded history.
func (r *Recorder) LastEvent(control input.Control) (input.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := r.history.Len() - 1; i >= 0; i-- {
		rec, err := r.history.At(i)
		if err != nil {
			return input.Event{}, err
		}
		src, err := rec.Source()
		if err != nil {
			return input.Event{}, err
		}
		if src.Name != string(control) {
			continue
		}
		value, err := rec.Float64()
		if err != nil {
			return input.Event{}, err
		}
		at, err := rec.Time()
		if err != nil {
			return input.Event{}, err
		}
		return eventFor(control, value, at), nil
	}
	return input.Event{}, errors.Wrapf(ErrNoEvents, "control %q", control)
}

// WriteHistory writes the retained events to w as JSON lines.
func (r *Recorder) WriteHistory(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return WriteHistory(w, r.history)
}

// Close stops recording and releases the history buffer.
func (r *Recorder) Close(ctx context.Context) error {
	return multierr.Combine(r.Stop(ctx), r.history.Close())
}

// eventFor rebuilds an event from a stored sample. The stored form keeps
// only control, time, and value, so the event type comes from the control
// class: buttons report presses and releases, everything else an absolute
// position change.
func eventFor(control input.Control, value float64, at time.Time) input.Event {
	ev := input.Event{Time: at, Control: control, Value: value}
	switch {
	case control.IsButton() && value > 0.5:
		ev.Event = input.ButtonPress
	case control.IsButton():
		ev.Event = input.ButtonRelease
	default:
		ev.Event = input.PositionChangeAbs
	}
	return ev
}
