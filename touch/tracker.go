package touch

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/viamrobotics/inputhistory/statehistory"
)

const (
	// DefaultFingers is how many simultaneous contacts a tracker follows
	// when Params leaves Fingers unset.
	DefaultFingers = 10
	// DefaultFingerHistoryDepth is how many snapshots each finger retains
	// when Params leaves HistoryDepth unset.
	DefaultFingerHistoryDepth = 64
)

// Params configures a Tracker.
type Params struct {
	// Fingers is how many simultaneous contacts to follow.
	Fingers int
	// HistoryDepth is how many snapshots each finger retains.
	HistoryDepth int
	Logger       golog.Logger
	Clock        clock.Clock
}

// Validate validates that p contains all required parameters.
func (p Params) Validate() error {
	if p.Logger == nil {
		return errors.New("missing required parameter logger")
	}
	if p.Fingers < 0 {
		return errors.Errorf("finger count must not be negative, got %d", p.Fingers)
	}
	if p.HistoryDepth < 0 {
		return errors.Errorf("history depth must not be negative, got %d", p.HistoryDepth)
	}
	return nil
}

// Touch is one resolved entry of a frame's active set.
type Touch struct {
	// Contact is the resolved snapshot. Its Phase and Delta are corrected
	// for the frame it was resolved in; the other fields are the recorded
	// ones.
	Contact Contact

	finger     *Finger
	record     statehistory.Record
	origin     statehistory.Record
	snapshotID uint64
}

// Finger returns the finger the touch belongs to.
func (t Touch) Finger() *Finger {
	return t.finger
}

// Record returns the touch's entry in the resolved history. It stays
// readable until the next rebuild of the active set.
func (t Touch) Record() statehistory.Record {
	return t.record
}

// Origin returns the recorded snapshot the touch was resolved from. It
// goes stale once the finger's history evicts it.
func (t Touch) Origin() statehistory.Record {
	return t.origin
}

// SnapshotID identifies the recorded snapshot behind the touch. Resolved
// touches synthesized from the same snapshot, such as a hold reported as
// stationary over several frames, share one id.
func (t Touch) SnapshotID() uint64 {
	return t.snapshotID
}

// Tracker records contact snapshots per finger and resolves the active
// touch set once per frame step.
//
// A tracker is not safe for concurrent use. Drivers dispatching from
// their own goroutines and consumers polling from a frame loop must
// share one lock around it; see capture.Recorder for the same contract
// applied to controllers.
type Tracker struct {
	logger golog.Logger
	clock  clock.Clock

	fingers    []*Finger
	step       FrameStep
	projection *statehistory.Buffer

	active      []Touch
	builtStep   FrameStep
	built       bool
	dirty       bool
	refreshNext bool

	nextSnapshotID uint64
	scratch        []resolvedEntry

	onBegan func(*Finger, Contact)
	onMoved func(*Finger, Contact)
	onEnded func(*Finger, Contact)

	attached Surface
}

type resolvedEntry struct {
	contact Contact
	origin  statehistory.Record
	uid     uint64
}

// NewTracker returns a tracker following p.Fingers contacts with
// p.HistoryDepth snapshots of history each.
func NewTracker(p Params) (*Tracker, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Fingers == 0 {
		p.Fingers = DefaultFingers
	}
	if p.HistoryDepth == 0 {
		p.HistoryDepth = DefaultFingerHistoryDepth
	}
	if p.Clock == nil {
		p.Clock = clock.New()
	}

	sources := make([]statehistory.Source, p.Fingers)
	for i := range sources {
		sources[i] = statehistory.BytesSource(fingerSourceName(i), contactSize)
	}
	projection, err := statehistory.NewForSources(sources...)
	if err != nil {
		return nil, err
	}
	if err := projection.SetExtraBytes(extraSize); err != nil {
		return nil, err
	}
	// every retained snapshot resolving at once is the worst case
	if err := projection.SetHistoryDepth(p.Fingers * p.HistoryDepth); err != nil {
		return nil, err
	}

	t := &Tracker{
		logger:     p.Logger,
		clock:      p.Clock,
		step:       1,
		projection: projection,
		fingers:    make([]*Finger, p.Fingers),
	}
	for i := range t.fingers {
		history, err := statehistory.NewForSources(sources[i])
		if err != nil {
			return nil, err
		}
		if err := history.SetExtraBytes(extraSize); err != nil {
			return nil, err
		}
		if err := history.SetHistoryDepth(p.HistoryDepth); err != nil {
			return nil, err
		}
		history.OnAppend(func(statehistory.Record) {
			t.dirty = true
		})
		t.fingers[i] = &Finger{index: i, source: sources[i], history: history}
	}
	return t, nil
}

// Step returns the current frame step.
func (t *Tracker) Step() FrameStep {
	return t.step
}

// Advance moves the tracker to the next frame step and returns it.
func (t *Tracker) Advance() FrameStep {
	t.step++
	return t.step
}

// Fingers returns all finger slots in order.
func (t *Tracker) Fingers() []*Finger {
	return append([]*Finger(nil), t.fingers...)
}

// ActiveFingers returns the fingers currently touching, in slot order.
func (t *Tracker) ActiveFingers() []*Finger {
	var out []*Finger
	for _, f := range t.fingers {
		if f.ongoing {
			out = append(out, f)
		}
	}
	return out
}

// OnContactBegan registers fn to run whenever a chain's first snapshot is
// recorded, including chains the tracker starts or cancels itself to keep
// one chain per finger. Hooks run inside RecordContact; a nil fn removes
// the hook.
func (t *Tracker) OnContactBegan(fn func(*Finger, Contact)) {
	t.onBegan = fn
}

// OnContactMoved registers fn to run whenever a moved snapshot is recorded.
func (t *Tracker) OnContactMoved(fn func(*Finger, Contact)) {
	t.onMoved = fn
}

// OnContactEnded registers fn to run whenever an ended or canceled
// snapshot is recorded.
func (t *Tracker) OnContactEnded(fn func(*Finger, Contact)) {
	t.onEnded = fn
}

// RecordContact appends one device snapshot for the finger at slot. A
// zero at is stamped with the tracker's clock. The tracker fills in the
// chain fields of c (start time and position, frame step and the began
// marker), so devices only report ID, Phase, Position, Delta, Pressure,
// Radius and TapCount.
//
// A finger follows at most one chain at a time: a began while another
// chain is ongoing first records a synthesized canceled snapshot for the
// old chain. Moved or stationary snapshots for an unknown chain are
// recorded as an implicit began.
func (t *Tracker) RecordContact(slot int, c Contact, at time.Time) error {
	if slot < 0 || slot >= len(t.fingers) {
		return errors.Errorf("finger slot %d out of range [0, %d)", slot, len(t.fingers))
	}
	if c.Phase == PhaseNone || c.Phase == PhaseStationary {
		return errors.Errorf("devices cannot record %s snapshots", c.Phase)
	}
	if at.IsZero() {
		at = t.clock.Now()
	}
	f := t.fingers[slot]

	sameChain := f.ongoing && c.ID == f.chainID
	switch c.Phase {
	case PhaseBegan:
		if f.ongoing {
			t.logger.Debugw("contact began while another chain is ongoing; canceling the old one",
				"finger", slot, "oldID", f.chainID, "newID", c.ID)
			cancel := Contact{ID: f.chainID, Phase: PhaseCanceled, Position: f.lastPos}
			t.record(f, cancel, at)
		}
	case PhaseMoved:
		if !sameChain {
			t.logger.Debugw("moved snapshot for an unknown chain; recording an implicit began",
				"finger", slot, "id", c.ID)
			c.Phase = PhaseBegan
		}
	case PhaseEnded, PhaseCanceled:
		if !sameChain {
			t.logger.Debugw("terminal snapshot for an unknown chain",
				"finger", slot, "id", c.ID, "phase", c.Phase)
		}
	}
	t.record(f, c, at)
	return nil
}

// record stamps the chain fields of c, updates the finger's bookkeeping
// and appends the snapshot. All validation happens before it is called.
func (t *Tracker) record(f *Finger, c Contact, at time.Time) {
	c.Step = t.step
	sameChain := f.ongoing && c.ID == f.chainID

	var accum r2.Point
	switch {
	case c.Phase == PhaseBegan:
		c.Delta = r2.Point{}
		c.BeganThisStep = true
		c.StartTime = at
		c.StartPosition = c.Position
		f.ongoing = true
		f.chainID = c.ID
		f.beganStep = t.step
		f.startTime = at
		f.startPos = c.Position
	case sameChain:
		c.BeganThisStep = f.beganStep == t.step
		c.StartTime = f.startTime
		c.StartPosition = f.startPos
		accum = c.Delta
		if f.lastStep == t.step {
			accum = f.lastAccum.Add(c.Delta)
		}
	default:
		// terminal snapshot for a chain the tracker never saw begin
		c.BeganThisStep = false
		c.StartTime = at
		c.StartPosition = c.Position
		accum = c.Delta
	}
	f.lastPos = c.Position
	f.lastStep = t.step
	f.lastAccum = accum
	if c.Phase.Terminal() {
		f.ongoing = false
	}

	var payload [contactSize]byte
	encodeContact(payload[:], c)
	rec, err := f.history.Append(f.source, payload[:], at)
	if err != nil {
		// the buffer tracks exactly this source with a fixed payload size
		t.logger.Errorw("failed to append contact snapshot", "finger", f.index, "error", err)
		return
	}
	extra, err := rec.Extra()
	if err != nil {
		t.logger.Errorw("failed to reach snapshot extras", "finger", f.index, "error", err)
		return
	}
	t.nextSnapshotID++
	encodeExtras(extra, accum, t.nextSnapshotID)

	switch {
	case c.Phase == PhaseBegan && t.onBegan != nil:
		t.onBegan(f, c)
	case c.Phase == PhaseMoved && t.onMoved != nil:
		t.onMoved(f, c)
	case c.Phase.Terminal() && t.onEnded != nil:
		t.onEnded(f, c)
	}
}

// TouchCount returns how many touches the current frame step resolves to.
func (t *Tracker) TouchCount() int {
	return len(t.ActiveTouches())
}

// ActiveTouches resolves and returns the touches active in the current
// frame step, ordered oldest snapshot first within a finger and fingers
// in slot order. The result is memoized until the set can change: new
// snapshots arriving, or Advance when the last resolution surfaced
// anything besides stationary holds.
func (t *Tracker) ActiveTouches() []Touch {
	if t.built && !t.dirty && (t.builtStep == t.step || !t.refreshNext) {
		return append([]Touch(nil), t.active...)
	}
	t.rebuild()
	return append([]Touch(nil), t.active...)
}

// rebuild resolves each finger's history into the projection buffer.
//
// Scanning newest to oldest, a finger contributes one entry per contact
// chain that is still ongoing or that ended close enough to the current
// step to still need reporting. Snapshots recorded in the current step
// surface with their accumulated delta; older snapshots of ongoing chains
// surface as stationary holds; chains that both began and ended in the
// previous step surface one last time so short taps are never missed.
func (t *Tracker) rebuild() {
	now := t.step
	t.projection.Clear()
	t.active = t.active[:0]
	t.refreshNext = false

	for _, f := range t.fingers {
		t.scratch = t.scratch[:0]

	scan:
		for i := f.history.Len() - 1; i >= 0; i-- {
			rec, err := f.history.At(i)
			if err != nil {
				t.logger.Errorw("unreachable snapshot while resolving", "finger", f.index, "error", err)
				break
			}
			payload, err := rec.Payload()
			if err != nil {
				t.logger.Errorw("unreadable snapshot while resolving", "finger", f.index, "error", err)
				break
			}
			e := decodeContact(payload)
			extra, err := rec.Extra()
			if err != nil {
				t.logger.Errorw("unreadable snapshot extras while resolving", "finger", f.index, "error", err)
				break
			}
			accum, uid := decodeExtras(extra)

			if n := len(t.scratch); n > 0 && e.ID == t.scratch[n-1].contact.ID && !e.Phase.Terminal() {
				// an older snapshot of a chain already resolved; its began
				// landing in the current step retroactively turns the
				// resolved entry into a began
				if e.Phase == PhaseBegan && e.Step == now {
					t.scratch[n-1].contact.Phase = PhaseBegan
					t.scratch[n-1].contact.Delta = r2.Point{}
				}
				continue
			}

			if e.Phase.Terminal() && e.Step != now {
				if e.BeganThisStep && e.Step+1 == now {
					// began and ended within the previous step; report the
					// end this frame so the tap is seen at all
					e.Delta = r2.Point{}
					t.scratch = append(t.scratch, resolvedEntry{contact: e, origin: rec, uid: uid})
					continue
				}
				// everything older belongs to chains reported long ago
				break scan
			}

			switch {
			case e.Step == now:
				e.Delta = accum
			case e.Phase == PhaseMoved && e.BeganThisStep && e.Step+1 == now:
				// the move was masked last frame by the began correction
				e.Delta = accum
			default:
				e.Delta = r2.Point{}
				if e.Phase == PhaseBegan || e.Phase == PhaseMoved {
					e.Phase = PhaseStationary
				}
			}
			t.scratch = append(t.scratch, resolvedEntry{contact: e, origin: rec, uid: uid})
		}

		// scratch holds the finger's entries newest first
		for i := len(t.scratch) - 1; i >= 0; i-- {
			entry := t.scratch[i]
			projRec, err := t.projection.CopyRecordFrom(entry.origin)
			if err != nil {
				t.logger.Errorw("failed to project resolved touch", "finger", f.index, "error", err)
				continue
			}
			payload, err := projRec.Payload()
			if err != nil {
				t.logger.Errorw("failed to correct projected touch", "finger", f.index, "error", err)
				continue
			}
			encodeContact(payload, entry.contact)
			if entry.contact.Phase != PhaseStationary {
				t.refreshNext = true
			}
			t.active = append(t.active, Touch{
				Contact:    entry.contact,
				finger:     f,
				record:     projRec,
				origin:     entry.origin,
				snapshotID: entry.uid,
			})
		}
	}

	t.built = true
	t.builtStep = now
	t.dirty = false
}

// History returns the resolved touch history of the last rebuilt frame
// step. Records in it go stale on the next rebuild.
func (t *Tracker) History() *statehistory.Buffer {
	return t.projection
}

// Attach subscribes the tracker to the surface's contact snapshots.
// Snapshots that fail to record, such as slots beyond the tracker's
// finger count, are dropped with a debug log.
func (t *Tracker) Attach(ctx context.Context, s Surface) error {
	if t.attached != nil {
		return errors.Errorf("already attached to surface %q", t.attached.Name())
	}
	err := s.RegisterContactCallback(ctx, func(ctx context.Context, slot int, c Contact, at time.Time) {
		if err := t.RecordContact(slot, c, at); err != nil {
			t.logger.Debugw("dropping contact snapshot", "surface", s.Name(), "slot", slot, "error", err)
		}
	})
	if err != nil {
		return err
	}
	t.attached = s
	return nil
}

// Detach removes the tracker's callback from the attached surface.
// Detaching an unattached tracker does nothing.
func (t *Tracker) Detach(ctx context.Context) error {
	if t.attached == nil {
		return nil
	}
	s := t.attached
	t.attached = nil
	return s.RegisterContactCallback(ctx, nil)
}

// Reset drops every recorded snapshot and ongoing chain. The frame step
// keeps counting forward.
func (t *Tracker) Reset() {
	for _, f := range t.fingers {
		f.history.Clear()
		f.resetChain()
	}
	t.projection.Clear()
	t.active = nil
	t.built = false
	t.dirty = false
	t.refreshNext = false
}

// Close detaches from any surface and releases all history buffers.
func (t *Tracker) Close(ctx context.Context) error {
	err := t.Detach(ctx)
	for _, f := range t.fingers {
		err = multierr.Combine(err, f.history.Close())
	}
	return multierr.Combine(err, t.projection.Close())
}
