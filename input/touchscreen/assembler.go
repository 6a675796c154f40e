package touchscreen

import (
	"time"

	"github.com/golang/geo/r2"

	"github.com/viamrobotics/inputhistory/touch"
)

// Kernel event codes from linux/input-event-codes.h, kept apart from the
// evdev binding so frame assembly stays portable and testable.
const (
	evSyn = 0x00
	evKey = 0x01
	evAbs = 0x03

	synReport = 0x00
	btnTouch  = 0x14a

	absX            = 0x00
	absY            = 0x01
	absMTSlot       = 0x2f
	absMTTouchMajor = 0x30
	absMTTouchMinor = 0x31
	absMTPositionX  = 0x35
	absMTPositionY  = 0x36
	absMTTrackingID = 0x39
	absMTPressure   = 0x3a
)

// axisInfo is an absolute axis range as the device reports it.
type axisInfo struct {
	min, max int32
}

// normalize maps a raw axis value onto [0, 1], clamping to the range.
func (a axisInfo) normalize(v int32) float64 {
	if a.max <= a.min {
		return 0
	}
	if v < a.min {
		v = a.min
	}
	if v > a.max {
		v = a.max
	}
	return float64(v-a.min) / float64(a.max-a.min)
}

// span expresses a raw length as a fraction of the axis range.
func (a axisInfo) span(v int32) float64 {
	if a.max <= a.min {
		return 0
	}
	return float64(v) / float64(a.max-a.min)
}

// assemblerParams sizes a slotAssembler for one device.
type assemblerParams struct {
	slots       int
	x, y        axisInfo
	pressure    axisInfo
	tapDuration time.Duration
	tapRadius   float64
}

type slotState struct {
	trackingID   int32
	pos          r2.Point
	lastPos      r2.Point
	pressure     float64
	lastPressure float64
	radius       r2.Point
	lastRadius   r2.Point
	tapCount     int32

	active bool // tracking id currently assigned
	began  bool // assigned this frame
	ended  bool // released this frame
	moved  bool // position or pressure reported this frame
}

type slotContact struct {
	slot    int
	contact touch.Contact
}

// slotAssembler folds the evdev multitouch protocol into per-slot contact
// snapshots, one batch per SYN_REPORT. It speaks protocol type B, where the
// device selects a slot, assigns a tracking id on touch, and writes -1 on
// lift. Devices that never send slot events fall back to single touch via
// BTN_TOUCH and plain ABS_X/Y.
//
// Positions come out normalized to [0, 1] per axis. Tap chains count lifts
// and re-touches that land within tapRadius of each other inside
// tapDuration.
type slotAssembler struct {
	params assemblerParams

	slots   []slotState
	current int
	sawMT   bool

	nextSyntheticID int32

	lastLiftAt  time.Time
	lastLiftPos r2.Point
	lastLiftTap int32

	out []slotContact
}

func newSlotAssembler(params assemblerParams) *slotAssembler {
	if params.slots < 1 {
		params.slots = 1
	}
	a := &slotAssembler{
		params: params,
		slots:  make([]slotState, params.slots),
	}
	for i := range a.slots {
		a.slots[i].trackingID = -1
	}
	return a
}

// processEvent feeds one raw event in. It returns the frame's contact
// snapshots when the event completes a frame, nil otherwise. The returned
// slice is reused by the next frame.
func (a *slotAssembler) processEvent(typ, code uint16, value int32, at time.Time) []slotContact {
	switch typ {
	case evAbs:
		a.processAbs(code, value)
	case evKey:
		if code == btnTouch && !a.sawMT {
			if value != 0 {
				a.beginSlot(0, a.nextSyntheticID)
				a.nextSyntheticID++
			} else {
				a.endSlot(0)
			}
		}
	case evSyn:
		if code == synReport {
			return a.flush(at)
		}
	}
	return nil
}

func (a *slotAssembler) processAbs(code uint16, value int32) {
	switch code {
	case absMTSlot:
		a.sawMT = true
		if value < 0 {
			return
		}
		// devices may address more slots than they advertised
		for int(value) >= len(a.slots) {
			a.slots = append(a.slots, slotState{trackingID: -1})
		}
		a.current = int(value)
	case absMTTrackingID:
		a.sawMT = true
		if value < 0 {
			a.endSlot(a.current)
		} else {
			a.beginSlot(a.current, value)
		}
	case absMTPositionX:
		s := &a.slots[a.current]
		s.pos.X = a.params.x.normalize(value)
		s.moved = true
	case absMTPositionY:
		s := &a.slots[a.current]
		s.pos.Y = a.params.y.normalize(value)
		s.moved = true
	case absMTPressure:
		s := &a.slots[a.current]
		s.pressure = a.params.pressure.normalize(value)
		s.moved = true
	case absMTTouchMajor:
		s := &a.slots[a.current]
		s.radius.X = a.params.x.span(value) / 2
		s.moved = true
	case absMTTouchMinor:
		s := &a.slots[a.current]
		s.radius.Y = a.params.y.span(value) / 2
		s.moved = true
	case absX:
		if !a.sawMT {
			s := &a.slots[0]
			s.pos.X = a.params.x.normalize(value)
			s.moved = true
		}
	case absY:
		if !a.sawMT {
			s := &a.slots[0]
			s.pos.Y = a.params.y.normalize(value)
			s.moved = true
		}
	}
}

func (a *slotAssembler) beginSlot(i int, trackingID int32) {
	s := &a.slots[i]
	s.trackingID = trackingID
	s.active = true
	s.began = true
}

func (a *slotAssembler) endSlot(i int) {
	s := &a.slots[i]
	if !s.active {
		return
	}
	s.active = false
	s.ended = true
}

// flush commits the frame, emitting one snapshot per touched slot. A slot
// that both began and ended inside the frame emits a began followed by an
// ended so no touch goes unseen.
func (a *slotAssembler) flush(at time.Time) []slotContact {
	a.out = a.out[:0]
	for i := range a.slots {
		s := &a.slots[i]
		if !s.began && !s.ended && !s.moved {
			continue
		}
		radius := s.radius
		if radius.Y == 0 {
			radius.Y = radius.X
		}
		base := touch.Contact{
			ID:       s.trackingID,
			Position: s.pos,
			Pressure: s.pressure,
			Radius:   radius,
		}
		switch {
		case s.began:
			s.tapCount = a.continueTapChain(s.pos, at)
			base.Phase = touch.PhaseBegan
			base.TapCount = s.tapCount
			a.out = append(a.out, slotContact{slot: i, contact: base})
			s.lastPos = s.pos
			s.lastPressure = s.pressure
			s.lastRadius = s.radius
			if s.ended {
				lift := base
				lift.Phase = touch.PhaseEnded
				a.out = append(a.out, slotContact{slot: i, contact: lift})
				a.noteLift(s, at)
			}
		case s.ended:
			base.Phase = touch.PhaseEnded
			base.Delta = s.pos.Sub(s.lastPos)
			base.TapCount = s.tapCount
			a.out = append(a.out, slotContact{slot: i, contact: base})
			a.noteLift(s, at)
		case s.active && s.moved:
			if s.pos != s.lastPos || s.pressure != s.lastPressure || s.radius != s.lastRadius {
				base.Phase = touch.PhaseMoved
				base.Delta = s.pos.Sub(s.lastPos)
				base.TapCount = s.tapCount
				a.out = append(a.out, slotContact{slot: i, contact: base})
				s.lastPos = s.pos
				s.lastPressure = s.pressure
				s.lastRadius = s.radius
			}
		}
		s.began = false
		s.ended = false
		s.moved = false
		if !s.active {
			s.trackingID = -1
			s.pressure = 0
			s.lastPressure = 0
			s.radius = r2.Point{}
			s.lastRadius = r2.Point{}
			s.tapCount = 0
		}
	}
	if len(a.out) == 0 {
		return nil
	}
	return a.out
}

// continueTapChain counts the new contact into the running tap chain when
// it lands close enough, soon enough, after the previous lift.
func (a *slotAssembler) continueTapChain(pos r2.Point, at time.Time) int32 {
	if a.params.tapDuration <= 0 || a.lastLiftAt.IsZero() {
		return 1
	}
	if at.Sub(a.lastLiftAt) > a.params.tapDuration {
		return 1
	}
	if pos.Sub(a.lastLiftPos).Norm() > a.params.tapRadius {
		return 1
	}
	return a.lastLiftTap + 1
}

func (a *slotAssembler) noteLift(s *slotState, at time.Time) {
	a.lastLiftAt = at
	a.lastLiftPos = s.pos
	a.lastLiftTap = s.tapCount
}
