package touch

import (
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

func TestPhasePredicates(t *testing.T) {
	for _, tc := range []struct {
		phase    Phase
		terminal bool
		active   bool
	}{
		{PhaseNone, true, false},
		{PhaseBegan, false, true},
		{PhaseMoved, false, true},
		{PhaseEnded, true, false},
		{PhaseCanceled, true, false},
		{PhaseStationary, false, true},
	} {
		t.Run(tc.phase.String(), func(t *testing.T) {
			test.That(t, tc.phase.Terminal(), test.ShouldEqual, tc.terminal)
			test.That(t, tc.phase.Active(), test.ShouldEqual, tc.active)
		})
	}
}

func TestContactCodec(t *testing.T) {
	started := time.Date(2024, 3, 1, 10, 30, 0, 123456789, time.UTC)
	c := Contact{
		ID:            7,
		Phase:         PhaseMoved,
		Position:      r2.Point{X: 120.5, Y: -33.25},
		Delta:         r2.Point{X: 1.5, Y: 2.5},
		Pressure:      0.875,
		Radius:        r2.Point{X: 9, Y: 11},
		TapCount:      2,
		StartTime:     started,
		StartPosition: r2.Point{X: 119, Y: -35.75},
		Step:          41,
		BeganThisStep: true,
	}

	var buf [contactSize]byte
	encodeContact(buf[:], c)
	got := decodeContact(buf[:])

	test.That(t, got.ID, test.ShouldEqual, c.ID)
	test.That(t, got.Phase, test.ShouldEqual, c.Phase)
	test.That(t, got.Position, test.ShouldResemble, c.Position)
	test.That(t, got.Delta, test.ShouldResemble, c.Delta)
	test.That(t, got.Pressure, test.ShouldEqual, c.Pressure)
	test.That(t, got.Radius, test.ShouldResemble, c.Radius)
	test.That(t, got.TapCount, test.ShouldEqual, c.TapCount)
	test.That(t, got.StartTime.UnixNano(), test.ShouldEqual, started.UnixNano())
	test.That(t, got.StartPosition, test.ShouldResemble, c.StartPosition)
	test.That(t, got.Step, test.ShouldEqual, c.Step)
	test.That(t, got.BeganThisStep, test.ShouldBeTrue)

	var extras [extraSize]byte
	encodeExtras(extras[:], r2.Point{X: -4, Y: 6}, 99)
	accum, uid := decodeExtras(extras[:])
	test.That(t, accum, test.ShouldResemble, r2.Point{X: -4, Y: 6})
	test.That(t, uid, test.ShouldEqual, 99)
}

func TestNegativeTrackingID(t *testing.T) {
	c := Contact{ID: -2, Phase: PhaseEnded}
	var buf [contactSize]byte
	encodeContact(buf[:], c)
	test.That(t, decodeContact(buf[:]).ID, test.ShouldEqual, int32(-2))
}
