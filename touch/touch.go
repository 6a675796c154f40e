// Package touch tracks multitouch contacts. A Tracker records contact
// snapshots from a Surface into per-finger state histories and resolves
// them each frame step into the set of currently active touches, with
// phases and deltas corrected so that consumers polling once per frame
// never miss a began or an ended, however briefly a finger touched.
package touch

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"github.com/golang/geo/r2"
)

// Phase describes where a contact is in its lifetime.
type Phase uint8

const (
	// PhaseNone marks an empty snapshot.
	PhaseNone Phase = iota
	// PhaseBegan is the first snapshot of a contact.
	PhaseBegan
	// PhaseMoved is a position change while touching.
	PhaseMoved
	// PhaseEnded is a lift.
	PhaseEnded
	// PhaseCanceled ends a contact abnormally, such as palm rejection or
	// the window losing focus.
	PhaseCanceled
	// PhaseStationary reports a held contact that produced no snapshot
	// this frame. Devices never record it; it only appears in resolved
	// touches.
	PhaseStationary
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseBegan:
		return "began"
	case PhaseMoved:
		return "moved"
	case PhaseEnded:
		return "ended"
	case PhaseCanceled:
		return "canceled"
	case PhaseStationary:
		return "stationary"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase ends a contact chain.
func (p Phase) Terminal() bool {
	return p == PhaseNone || p == PhaseEnded || p == PhaseCanceled
}

// Active reports whether the phase belongs to an ongoing contact.
func (p Phase) Active() bool {
	return p == PhaseBegan || p == PhaseMoved || p == PhaseStationary
}

// FrameStep numbers the frames a Tracker resolves touches against. Steps
// only move forward, one Tracker.Advance at a time.
type FrameStep uint64

// Contact is one snapshot of a touch contact. Devices report ID, Phase,
// Position, Delta, Pressure, Radius and TapCount; the tracker stamps the
// remaining fields when the snapshot is recorded.
type Contact struct {
	// ID names the contact chain this snapshot belongs to. The device
	// assigns it at began and keeps it fixed through the final ended or
	// canceled snapshot.
	ID    int32
	Phase Phase
	// Position is the contact position in surface coordinates.
	Position r2.Point
	// Delta is the position change since the chain's previous snapshot.
	// In resolved touches it becomes the accumulated movement of the
	// frame being resolved.
	Delta r2.Point
	// Pressure is the normalized contact pressure, when the device
	// reports one.
	Pressure float64
	// Radius is the touch ellipse around Position, when the device
	// reports one.
	Radius r2.Point
	// TapCount counts the quick successive taps this contact continues.
	TapCount int32

	// StartTime is when the chain's began snapshot was recorded.
	StartTime time.Time
	// StartPosition is the position of the chain's began snapshot.
	StartPosition r2.Point
	// Step is the frame step the snapshot was recorded in.
	Step FrameStep
	// BeganThisStep reports whether the chain began in the same step the
	// snapshot was recorded in.
	BeganThisStep bool
}

// ContactFunc receives contact snapshots from a Surface.
type ContactFunc func(ctx context.Context, slot int, c Contact, at time.Time)

// Surface is a touch device reporting contact snapshots for a fixed
// number of finger slots.
type Surface interface {
	Name() string
	SlotCount() int
	// RegisterContactCallback registers fn to receive every snapshot the
	// surface produces. A nil fn removes the current callback.
	RegisterContactCallback(ctx context.Context, fn ContactFunc) error
	Close(ctx context.Context) error
}

// contactSize is the encoded size of a Contact payload.
const contactSize = 104

// extraSize holds the per-record extras: the delta accumulated over the
// record's frame step and the snapshot id.
const extraSize = 24

func encodeContact(dst []byte, c Contact) {
	binary.LittleEndian.PutUint32(dst[0:], uint32(c.ID))
	dst[4] = byte(c.Phase)
	if c.BeganThisStep {
		dst[5] = 1
	} else {
		dst[5] = 0
	}
	putPoint(dst[8:], c.Position)
	putPoint(dst[24:], c.Delta)
	binary.LittleEndian.PutUint64(dst[40:], math.Float64bits(c.Pressure))
	putPoint(dst[48:], c.Radius)
	binary.LittleEndian.PutUint32(dst[64:], uint32(c.TapCount))
	binary.LittleEndian.PutUint64(dst[72:], uint64(c.StartTime.UnixNano()))
	putPoint(dst[80:], c.StartPosition)
	binary.LittleEndian.PutUint64(dst[96:], uint64(c.Step))
}

func decodeContact(src []byte) Contact {
	return Contact{
		ID:            int32(binary.LittleEndian.Uint32(src[0:])),
		Phase:         Phase(src[4]),
		BeganThisStep: src[5] != 0,
		Position:      getPoint(src[8:]),
		Delta:         getPoint(src[24:]),
		Pressure:      math.Float64frombits(binary.LittleEndian.Uint64(src[40:])),
		Radius:        getPoint(src[48:]),
		TapCount:      int32(binary.LittleEndian.Uint32(src[64:])),
		StartTime:     time.Unix(0, int64(binary.LittleEndian.Uint64(src[72:]))),
		StartPosition: getPoint(src[80:]),
		Step:          FrameStep(binary.LittleEndian.Uint64(src[96:])),
	}
}

func encodeExtras(dst []byte, accum r2.Point, snapshotID uint64) {
	putPoint(dst[0:], accum)
	binary.LittleEndian.PutUint64(dst[16:], snapshotID)
}

func decodeExtras(src []byte) (r2.Point, uint64) {
	return getPoint(src[0:]), binary.LittleEndian.Uint64(src[16:])
}

func putPoint(dst []byte, p r2.Point) {
	binary.LittleEndian.PutUint64(dst[0:], math.Float64bits(p.X))
	binary.LittleEndian.PutUint64(dst[8:], math.Float64bits(p.Y))
}

func getPoint(src []byte) r2.Point {
	return r2.Point{
		X: math.Float64frombits(binary.LittleEndian.Uint64(src[0:])),
		Y: math.Float64frombits(binary.LittleEndian.Uint64(src[8:])),
	}
}
