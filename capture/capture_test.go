package capture_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/viamrobotics/inputhistory/capture"
	"github.com/viamrobotics/inputhistory/input"
	"github.com/viamrobotics/inputhistory/testutils/inject"
)

type registration struct {
	triggers []input.EventType
	fn       input.ControlFunction
}

func newInjectController(controls []input.Control) (*inject.Controller, map[input.Control]*registration) {
	registered := map[input.Control]*registration{}
	ctrl := &inject.Controller{}
	ctrl.ControlsFunc = func(ctx context.Context) ([]input.Control, error) {
		return controls, nil
	}
	ctrl.RegisterControlCallbackFunc = func(
		ctx context.Context,
		control input.Control,
		triggers []input.EventType,
		ctrlFunc input.ControlFunction,
	) error {
		registered[control] = &registration{triggers: triggers, fn: ctrlFunc}
		return nil
	}
	return ctrl, registered
}

func TestParamsValidate(t *testing.T) {
	logger := golog.NewTestLogger(t)
	ctrl, _ := newInjectController([]input.Control{input.AbsoluteX})

	err := capture.Params{Logger: logger}.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "controller")

	err = capture.Params{Controller: ctrl}.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "logger")

	err = capture.Params{Controller: ctrl, Logger: logger, HistoryDepth: -1}.Validate()
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, capture.Params{Controller: ctrl, Logger: logger}.Validate(), test.ShouldBeNil)
}

func TestRecorderCapturesEvents(t *testing.T) {
	logger := golog.NewTestLogger(t)
	ctx := context.Background()
	mock := clock.NewMock()
	mock.Add(time.Hour)

	ctrl, registered := newInjectController([]input.Control{input.AbsoluteX, input.ButtonSouth})
	rec, err := capture.NewRecorder(ctx, capture.Params{
		Controller:   ctrl,
		HistoryDepth: 8,
		Logger:       logger,
		Clock:        mock,
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rec.Controls(), test.ShouldResemble, []input.Control{input.AbsoluteX, input.ButtonSouth})

	test.That(t, rec.Start(ctx), test.ShouldBeNil)
	test.That(t, len(registered), test.ShouldEqual, 2)
	test.That(t, registered[input.AbsoluteX].triggers, test.ShouldResemble, []input.EventType{input.AllEvents})
	err = rec.Start(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "already started")

	// connection events are not part of the trace
	registered[input.AbsoluteX].fn(ctx, input.Event{
		Time: mock.Now(), Event: input.Connect, Control: input.AbsoluteX,
	})
	test.That(t, rec.Len(), test.ShouldEqual, 0)

	at := mock.Now()
	registered[input.AbsoluteX].fn(ctx, input.Event{
		Time: at, Event: input.PositionChangeAbs, Control: input.AbsoluteX, Value: 0.25,
	})
	registered[input.ButtonSouth].fn(ctx, input.Event{
		Event: input.ButtonPress, Control: input.ButtonSouth, Value: 1,
	})
	test.That(t, rec.Len(), test.ShouldEqual, 2)

	ev, err := rec.LastEvent(input.AbsoluteX)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ev.Event, test.ShouldEqual, input.PositionChangeAbs)
	test.That(t, ev.Value, test.ShouldEqual, 0.25)
	test.That(t, ev.Time.UnixNano(), test.ShouldEqual, at.UnixNano())

	// the press arrived unstamped, so it carries the clock's time
	ev, err = rec.LastEvent(input.ButtonSouth)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ev.Event, test.ShouldEqual, input.ButtonPress)
	test.That(t, ev.Time.UnixNano(), test.ShouldEqual, mock.Now().UnixNano())

	registered[input.ButtonSouth].fn(ctx, input.Event{
		Time: mock.Now(), Event: input.ButtonRelease, Control: input.ButtonSouth, Value: 0,
	})
	ev, err = rec.LastEvent(input.ButtonSouth)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ev.Event, test.ShouldEqual, input.ButtonRelease)

	_, err = rec.LastEvent(input.ButtonNorth)
	test.That(t, errors.Is(err, capture.ErrNoEvents), test.ShouldBeTrue)

	history := rec.History()
	test.That(t, len(history), test.ShouldEqual, 3)

	test.That(t, rec.Stop(ctx), test.ShouldBeNil)
	test.That(t, registered[input.AbsoluteX].fn, test.ShouldBeNil)
	test.That(t, registered[input.ButtonSouth].fn, test.ShouldBeNil)
	test.That(t, rec.Stop(ctx), test.ShouldBeNil)

	test.That(t, rec.Close(ctx), test.ShouldBeNil)
	test.That(t, rec.Len(), test.ShouldEqual, 0)
}

func TestRecorderControlSubset(t *testing.T) {
	logger := golog.NewTestLogger(t)
	ctx := context.Background()

	ctrl, registered := newInjectController([]input.Control{input.AbsoluteX, input.AbsoluteY, input.ButtonSouth})
	rec, err := capture.NewRecorder(ctx, capture.Params{
		Controller: ctrl,
		Controls:   []input.Control{input.AbsoluteY},
		Logger:     logger,
	})
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, rec.Close(ctx), test.ShouldBeNil)
	}()
	test.That(t, rec.Controls(), test.ShouldResemble, []input.Control{input.AbsoluteY})

	test.That(t, rec.Start(ctx), test.ShouldBeNil)
	test.That(t, len(registered), test.ShouldEqual, 1)

	// events for controls outside the subset are dropped
	registered[input.AbsoluteY].fn(ctx, input.Event{
		Time: time.Now(), Event: input.PositionChangeAbs, Control: input.AbsoluteX, Value: 1,
	})
	test.That(t, rec.Len(), test.ShouldEqual, 0)
}

func TestRecorderEviction(t *testing.T) {
	logger := golog.NewTestLogger(t)
	ctx := context.Background()

	ctrl, registered := newInjectController([]input.Control{input.AbsoluteX})
	rec, err := capture.NewRecorder(ctx, capture.Params{
		Controller:   ctrl,
		HistoryDepth: 4,
		Logger:       logger,
	})
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, rec.Close(ctx), test.ShouldBeNil)
	}()
	test.That(t, rec.Start(ctx), test.ShouldBeNil)

	for i := 0; i < 10; i++ {
		registered[input.AbsoluteX].fn(ctx, input.Event{
			Time:    time.Now(),
			Event:   input.PositionChangeAbs,
			Control: input.AbsoluteX,
			Value:   float64(i) / 10,
		})
	}
	test.That(t, rec.Len(), test.ShouldEqual, 4)

	ev, err := rec.LastEvent(input.AbsoluteX)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ev.Value, test.ShouldEqual, 0.9)

	values := make([]float64, 0, 4)
	for _, r := range rec.History() {
		v, err := r.Float64()
		test.That(t, err, test.ShouldBeNil)
		values = append(values, v)
	}
	test.That(t, values, test.ShouldResemble, []float64{0.6, 0.7, 0.8, 0.9})
}
