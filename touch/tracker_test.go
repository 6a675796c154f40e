package touch_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"go.viam.com/test"

	"github.com/viamrobotics/inputhistory/testutils/inject"
	"github.com/viamrobotics/inputhistory/touch"
)

var base = time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC)

func newTracker(t *testing.T) *touch.Tracker {
	t.Helper()
	tr, err := touch.NewTracker(touch.Params{
		Fingers:      2,
		HistoryDepth: 16,
		Logger:       golog.NewTestLogger(t),
	})
	test.That(t, err, test.ShouldBeNil)
	return tr
}

func record(t *testing.T, tr *touch.Tracker, slot int, c touch.Contact) {
	t.Helper()
	test.That(t, tr.RecordContact(slot, c, base), test.ShouldBeNil)
}

func phases(touches []touch.Touch) []touch.Phase {
	out := make([]touch.Phase, len(touches))
	for i, tc := range touches {
		out[i] = tc.Contact.Phase
	}
	return out
}

func TestParamsValidate(t *testing.T) {
	_, err := touch.NewTracker(touch.Params{})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "missing required parameter logger")

	logger := golog.NewTestLogger(t)
	_, err = touch.NewTracker(touch.Params{Logger: logger, Fingers: -1})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = touch.NewTracker(touch.Params{Logger: logger, HistoryDepth: -4})
	test.That(t, err, test.ShouldNotBeNil)

	tr, err := touch.NewTracker(touch.Params{Logger: logger})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tr.Fingers(), test.ShouldHaveLength, touch.DefaultFingers)
	test.That(t, tr.Fingers()[3].History().HistoryDepth(), test.ShouldEqual, touch.DefaultFingerHistoryDepth)
}

func TestShortTapSpansTwoFrames(t *testing.T) {
	tr := newTracker(t)
	pos := r2.Point{X: 50, Y: 60}

	record(t, tr, 0, touch.Contact{ID: 1, Phase: touch.PhaseBegan, Position: pos, TapCount: 1})
	record(t, tr, 0, touch.Contact{ID: 1, Phase: touch.PhaseEnded, Position: pos})

	// the frame the tap happened in reports it as began
	touches := tr.ActiveTouches()
	test.That(t, phases(touches), test.ShouldResemble, []touch.Phase{touch.PhaseBegan})
	test.That(t, touches[0].Contact.Delta, test.ShouldResemble, r2.Point{})
	test.That(t, touches[0].Contact.Position, test.ShouldResemble, pos)
	endedID := touches[0].SnapshotID()

	// the next frame reports the end it would otherwise swallow
	tr.Advance()
	touches = tr.ActiveTouches()
	test.That(t, phases(touches), test.ShouldResemble, []touch.Phase{touch.PhaseEnded})
	test.That(t, touches[0].Contact.Delta, test.ShouldResemble, r2.Point{})
	test.That(t, touches[0].SnapshotID(), test.ShouldEqual, endedID)

	tr.Advance()
	test.That(t, tr.TouchCount(), test.ShouldEqual, 0)
}

func TestHoldBecomesStationary(t *testing.T) {
	tr := newTracker(t)
	pos := r2.Point{X: 10, Y: 20}

	record(t, tr, 0, touch.Contact{ID: 3, Phase: touch.PhaseBegan, Position: pos})
	touches := tr.ActiveTouches()
	test.That(t, phases(touches), test.ShouldResemble, []touch.Phase{touch.PhaseBegan})

	tr.Advance()
	touches = tr.ActiveTouches()
	test.That(t, phases(touches), test.ShouldResemble, []touch.Phase{touch.PhaseStationary})
	test.That(t, touches[0].Contact.Delta, test.ShouldResemble, r2.Point{})
	test.That(t, touches[0].Contact.Position, test.ShouldResemble, pos)
	test.That(t, touches[0].Contact.StartPosition, test.ShouldResemble, pos)
	test.That(t, touches[0].Contact.StartTime.UnixNano(), test.ShouldEqual, base.UnixNano())

	// holds stay stationary however many frames pass
	for i := 0; i < 4; i++ {
		tr.Advance()
	}
	test.That(t, phases(tr.ActiveTouches()), test.ShouldResemble, []touch.Phase{touch.PhaseStationary})
}

func TestBeganMasksSameFrameMove(t *testing.T) {
	tr := newTracker(t)

	record(t, tr, 0, touch.Contact{ID: 4, Phase: touch.PhaseBegan, Position: r2.Point{X: 5, Y: 5}})
	record(t, tr, 0, touch.Contact{
		ID: 4, Phase: touch.PhaseMoved,
		Position: r2.Point{X: 8, Y: 9}, Delta: r2.Point{X: 3, Y: 4},
	})

	// the began wins the frame both landed in
	touches := tr.ActiveTouches()
	test.That(t, phases(touches), test.ShouldResemble, []touch.Phase{touch.PhaseBegan})
	test.That(t, touches[0].Contact.Delta, test.ShouldResemble, r2.Point{})

	// the masked move surfaces one frame late instead of disappearing
	tr.Advance()
	touches = tr.ActiveTouches()
	test.That(t, phases(touches), test.ShouldResemble, []touch.Phase{touch.PhaseMoved})
	test.That(t, touches[0].Contact.Delta, test.ShouldResemble, r2.Point{X: 3, Y: 4})
	test.That(t, touches[0].Contact.Position, test.ShouldResemble, r2.Point{X: 8, Y: 9})

	tr.Advance()
	test.That(t, phases(tr.ActiveTouches()), test.ShouldResemble, []touch.Phase{touch.PhaseStationary})
}

func TestMovesAccumulateWithinFrame(t *testing.T) {
	tr := newTracker(t)

	record(t, tr, 0, touch.Contact{ID: 5, Phase: touch.PhaseBegan, Position: r2.Point{X: 0, Y: 0}})
	tr.Advance()
	record(t, tr, 0, touch.Contact{
		ID: 5, Phase: touch.PhaseMoved,
		Position: r2.Point{X: 2, Y: 0}, Delta: r2.Point{X: 2, Y: 0},
	})
	record(t, tr, 0, touch.Contact{
		ID: 5, Phase: touch.PhaseMoved,
		Position: r2.Point{X: 2, Y: 3}, Delta: r2.Point{X: 0, Y: 3},
	})

	touches := tr.ActiveTouches()
	test.That(t, phases(touches), test.ShouldResemble, []touch.Phase{touch.PhaseMoved})
	test.That(t, touches[0].Contact.Delta, test.ShouldResemble, r2.Point{X: 2, Y: 3})
	test.That(t, touches[0].Contact.Position, test.ShouldResemble, r2.Point{X: 2, Y: 3})

	// a lift with movement reports the whole frame's accumulated delta
	tr.Advance()
	record(t, tr, 0, touch.Contact{
		ID: 5, Phase: touch.PhaseMoved,
		Position: r2.Point{X: 3, Y: 3}, Delta: r2.Point{X: 1, Y: 0},
	})
	record(t, tr, 0, touch.Contact{
		ID: 5, Phase: touch.PhaseEnded,
		Position: r2.Point{X: 4, Y: 3}, Delta: r2.Point{X: 1, Y: 0},
	})
	touches = tr.ActiveTouches()
	test.That(t, phases(touches), test.ShouldResemble, []touch.Phase{touch.PhaseEnded})
	test.That(t, touches[0].Contact.Delta, test.ShouldResemble, r2.Point{X: 2, Y: 0})

	tr.Advance()
	test.That(t, tr.TouchCount(), test.ShouldEqual, 0)
}

func TestTwoTapsInOneFrame(t *testing.T) {
	tr := newTracker(t)

	record(t, tr, 0, touch.Contact{ID: 1, Phase: touch.PhaseBegan, Position: r2.Point{X: 1, Y: 1}})
	record(t, tr, 0, touch.Contact{ID: 1, Phase: touch.PhaseEnded, Position: r2.Point{X: 1, Y: 1}})
	record(t, tr, 0, touch.Contact{ID: 2, Phase: touch.PhaseBegan, Position: r2.Point{X: 9, Y: 9}})
	record(t, tr, 0, touch.Contact{ID: 2, Phase: touch.PhaseEnded, Position: r2.Point{X: 9, Y: 9}})

	// both taps surface as begans, oldest first
	touches := tr.ActiveTouches()
	test.That(t, phases(touches), test.ShouldResemble, []touch.Phase{touch.PhaseBegan, touch.PhaseBegan})
	test.That(t, touches[0].Contact.ID, test.ShouldEqual, 1)
	test.That(t, touches[1].Contact.ID, test.ShouldEqual, 2)

	// and both ends follow the next frame in the same order
	tr.Advance()
	touches = tr.ActiveTouches()
	test.That(t, phases(touches), test.ShouldResemble, []touch.Phase{touch.PhaseEnded, touch.PhaseEnded})
	test.That(t, touches[0].Contact.ID, test.ShouldEqual, 1)
	test.That(t, touches[1].Contact.ID, test.ShouldEqual, 2)

	tr.Advance()
	test.That(t, tr.TouchCount(), test.ShouldEqual, 0)
}

func TestBeganCancelsDanglingChain(t *testing.T) {
	tr := newTracker(t)

	var endedChains []int32
	tr.OnContactEnded(func(_ *touch.Finger, c touch.Contact) {
		endedChains = append(endedChains, c.ID)
	})

	record(t, tr, 0, touch.Contact{ID: 1, Phase: touch.PhaseBegan, Position: r2.Point{X: 1, Y: 1}})
	tr.Advance()
	record(t, tr, 0, touch.Contact{ID: 2, Phase: touch.PhaseBegan, Position: r2.Point{X: 2, Y: 2}})

	test.That(t, endedChains, test.ShouldResemble, []int32{1})

	touches := tr.ActiveTouches()
	test.That(t, phases(touches), test.ShouldResemble, []touch.Phase{touch.PhaseCanceled, touch.PhaseBegan})
	test.That(t, touches[0].Contact.ID, test.ShouldEqual, 1)
	test.That(t, touches[1].Contact.ID, test.ShouldEqual, 2)

	tr.Advance()
	touches = tr.ActiveTouches()
	test.That(t, phases(touches), test.ShouldResemble, []touch.Phase{touch.PhaseStationary})
	test.That(t, touches[0].Contact.ID, test.ShouldEqual, 2)
}

func TestMovedForUnknownChainBeginsOne(t *testing.T) {
	tr := newTracker(t)

	var began []int32
	tr.OnContactBegan(func(_ *touch.Finger, c touch.Contact) {
		began = append(began, c.ID)
	})

	record(t, tr, 1, touch.Contact{
		ID: 9, Phase: touch.PhaseMoved,
		Position: r2.Point{X: 3, Y: 3}, Delta: r2.Point{X: 1, Y: 1},
	})
	test.That(t, began, test.ShouldResemble, []int32{9})

	touches := tr.ActiveTouches()
	test.That(t, phases(touches), test.ShouldResemble, []touch.Phase{touch.PhaseBegan})
	test.That(t, touches[0].Contact.Delta, test.ShouldResemble, r2.Point{})
	test.That(t, touches[0].Finger().Index(), test.ShouldEqual, 1)
}

func TestRecordContactRejections(t *testing.T) {
	tr := newTracker(t)

	err := tr.RecordContact(2, touch.Contact{ID: 1, Phase: touch.PhaseBegan}, base)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "out of range")

	err = tr.RecordContact(-1, touch.Contact{ID: 1, Phase: touch.PhaseBegan}, base)
	test.That(t, err, test.ShouldNotBeNil)

	err = tr.RecordContact(0, touch.Contact{ID: 1, Phase: touch.PhaseStationary}, base)
	test.That(t, err, test.ShouldNotBeNil)
	err = tr.RecordContact(0, touch.Contact{ID: 1}, base)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, tr.TouchCount(), test.ShouldEqual, 0)
}

func TestFingersResolveIndependently(t *testing.T) {
	tr := newTracker(t)

	record(t, tr, 1, touch.Contact{ID: 20, Phase: touch.PhaseBegan, Position: r2.Point{X: 7, Y: 7}})
	record(t, tr, 0, touch.Contact{ID: 10, Phase: touch.PhaseBegan, Position: r2.Point{X: 1, Y: 1}})

	// finger order wins over record order
	touches := tr.ActiveTouches()
	test.That(t, touches, test.ShouldHaveLength, 2)
	test.That(t, touches[0].Contact.ID, test.ShouldEqual, 10)
	test.That(t, touches[0].Finger().Index(), test.ShouldEqual, 0)
	test.That(t, touches[1].Contact.ID, test.ShouldEqual, 20)
	test.That(t, touches[1].Finger().Index(), test.ShouldEqual, 1)

	fingers := tr.ActiveFingers()
	test.That(t, fingers, test.ShouldHaveLength, 2)

	tr.Advance()
	record(t, tr, 1, touch.Contact{ID: 20, Phase: touch.PhaseEnded, Position: r2.Point{X: 7, Y: 7}})
	touches = tr.ActiveTouches()
	test.That(t, phases(touches), test.ShouldResemble, []touch.Phase{touch.PhaseStationary, touch.PhaseEnded})
	test.That(t, tr.ActiveFingers(), test.ShouldHaveLength, 1)
	test.That(t, tr.ActiveFingers()[0].Index(), test.ShouldEqual, 0)

	contact, ok := tr.Fingers()[0].CurrentContact()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, contact.ID, test.ShouldEqual, 10)
	_, ok = tr.Fingers()[1].CurrentContact()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestStationaryFramesReuseResolution(t *testing.T) {
	tr := newTracker(t)

	record(t, tr, 0, touch.Contact{ID: 6, Phase: touch.PhaseBegan, Position: r2.Point{X: 5, Y: 5}})
	tr.ActiveTouches()
	tr.Advance()

	touches := tr.ActiveTouches()
	test.That(t, phases(touches), test.ShouldResemble, []touch.Phase{touch.PhaseStationary})
	held := touches[0].Record()
	test.That(t, held.Valid(), test.ShouldBeTrue)

	// an all stationary frame with no new snapshots must not rebuild
	tr.Advance()
	again := tr.ActiveTouches()
	test.That(t, held.Valid(), test.ShouldBeTrue)
	test.That(t, again[0].SnapshotID(), test.ShouldEqual, touches[0].SnapshotID())

	// new input invalidates the memoized set
	record(t, tr, 1, touch.Contact{ID: 7, Phase: touch.PhaseBegan, Position: r2.Point{X: 6, Y: 6}})
	resolved := tr.ActiveTouches()
	test.That(t, resolved, test.ShouldHaveLength, 2)
	test.That(t, held.Valid(), test.ShouldBeFalse)
}

func TestAttachDetach(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	var captured touch.ContactFunc
	surface := &inject.Surface{
		NameFunc:      func() string { return "screen0" },
		SlotCountFunc: func() int { return 2 },
		RegisterContactCallbackFunc: func(ctx context.Context, fn touch.ContactFunc) error {
			captured = fn
			return nil
		},
	}

	test.That(t, tr.Attach(ctx, surface), test.ShouldBeNil)
	test.That(t, captured, test.ShouldNotBeNil)

	captured(ctx, 0, touch.Contact{ID: 1, Phase: touch.PhaseBegan, Position: r2.Point{X: 1, Y: 2}}, base)
	test.That(t, tr.TouchCount(), test.ShouldEqual, 1)

	// snapshots for slots the tracker does not follow are dropped, not fatal
	captured(ctx, 5, touch.Contact{ID: 2, Phase: touch.PhaseBegan}, base)
	test.That(t, tr.TouchCount(), test.ShouldEqual, 1)

	err := tr.Attach(ctx, surface)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "already attached")

	test.That(t, tr.Detach(ctx), test.ShouldBeNil)
	test.That(t, captured, test.ShouldBeNil)
	test.That(t, tr.Detach(ctx), test.ShouldBeNil)
}

func TestResetDropsEverything(t *testing.T) {
	tr := newTracker(t)

	record(t, tr, 0, touch.Contact{ID: 1, Phase: touch.PhaseBegan, Position: r2.Point{X: 1, Y: 1}})
	touches := tr.ActiveTouches()
	test.That(t, touches, test.ShouldHaveLength, 1)
	rec := touches[0].Record()
	step := tr.Step()

	tr.Reset()
	test.That(t, tr.TouchCount(), test.ShouldEqual, 0)
	test.That(t, rec.Valid(), test.ShouldBeFalse)
	test.That(t, tr.ActiveFingers(), test.ShouldHaveLength, 0)
	test.That(t, tr.Fingers()[0].History().Len(), test.ShouldEqual, 0)
	test.That(t, tr.Advance(), test.ShouldEqual, step+1)
}

func TestZeroTimeUsesClock(t *testing.T) {
	mock := clock.NewMock()
	mock.Add(time.Hour)
	tr, err := touch.NewTracker(touch.Params{
		Fingers:      1,
		HistoryDepth: 4,
		Logger:       golog.NewTestLogger(t),
		Clock:        mock,
	})
	test.That(t, err, test.ShouldBeNil)

	test.That(t, tr.RecordContact(0, touch.Contact{ID: 1, Phase: touch.PhaseBegan}, time.Time{}), test.ShouldBeNil)
	touches := tr.ActiveTouches()
	test.That(t, touches, test.ShouldHaveLength, 1)
	test.That(t, touches[0].Contact.StartTime.UnixNano(), test.ShouldEqual, mock.Now().UnixNano())

	test.That(t, tr.Close(context.Background()), test.ShouldBeNil)
	test.That(t, tr.Close(context.Background()), test.ShouldBeNil)
}
