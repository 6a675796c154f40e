package fake_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/viamrobotics/inputhistory/input"
	"github.com/viamrobotics/inputhistory/input/fake"
)

func TestConfigValidate(t *testing.T) {
	test.That(t, fake.Config{}.Validate(), test.ShouldBeNil)
	test.That(t, fake.Config{EventsPerSec: -1}.Validate(), test.ShouldNotBeNil)
	err := fake.Config{Controls: []input.Control{"Bogus"}}.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown control")
}

func TestControllerBasics(t *testing.T) {
	logger := golog.NewTestLogger(t)
	c, err := fake.NewController(fake.Config{}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, c.Close(context.Background()), test.ShouldBeNil)
	}()

	ctx := context.Background()
	controls, err := c.Controls(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, controls, test.ShouldResemble, []input.Control{input.AbsoluteX, input.ButtonSouth})

	events, err := c.LastEvents(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, events[input.AbsoluteX].Event, test.ShouldEqual, input.Connect)
	test.That(t, events[input.ButtonSouth].Event, test.ShouldEqual, input.Connect)
}

func TestTriggerEventDispatch(t *testing.T) {
	logger := golog.NewTestLogger(t)
	c, err := fake.NewController(fake.Config{}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, c.Close(context.Background()), test.ShouldBeNil)
	}()

	ctx := context.Background()
	var presses, all int64
	err = c.RegisterControlCallback(ctx, input.ButtonSouth, []input.EventType{input.ButtonChange},
		func(ctx context.Context, ev input.Event) {
			atomic.AddInt64(&presses, 1)
		})
	test.That(t, err, test.ShouldBeNil)
	err = c.RegisterControlCallback(ctx, input.ButtonSouth, []input.EventType{input.AllEvents},
		func(ctx context.Context, ev input.Event) {
			atomic.AddInt64(&all, 1)
		})
	test.That(t, err, test.ShouldBeNil)

	press := input.Event{Event: input.ButtonPress, Control: input.ButtonSouth, Value: 1}
	test.That(t, c.TriggerEvent(ctx, press), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, atomic.LoadInt64(&presses), test.ShouldEqual, 1)
		test.That(tb, atomic.LoadInt64(&all), test.ShouldEqual, 1)
	})

	events, err := c.LastEvents(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, events[input.ButtonSouth].Event, test.ShouldEqual, input.ButtonPress)
	test.That(t, events[input.ButtonSouth].Value, test.ShouldEqual, 1)
	test.That(t, events[input.ButtonSouth].Time.IsZero(), test.ShouldBeFalse)

	// deregistering stops the per control callback but not AllEvents
	err = c.RegisterControlCallback(ctx, input.ButtonSouth, []input.EventType{input.ButtonChange}, nil)
	test.That(t, err, test.ShouldBeNil)
	release := input.Event{Event: input.ButtonRelease, Control: input.ButtonSouth, Value: 0}
	test.That(t, c.TriggerEvent(ctx, release), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, atomic.LoadInt64(&all), test.ShouldEqual, 2)
	})
	test.That(t, atomic.LoadInt64(&presses), test.ShouldEqual, 1)
}

func TestGeneratedEvents(t *testing.T) {
	logger := golog.NewTestLogger(t)
	c, err := fake.NewController(fake.Config{EventsPerSec: 200, Seed: 42}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, c.Close(context.Background()), test.ShouldBeNil)
	}()

	ctx := context.Background()
	var count int64
	for _, control := range []input.Control{input.AbsoluteX, input.ButtonSouth} {
		err = c.RegisterControlCallback(ctx, control, []input.EventType{input.AllEvents},
			func(ctx context.Context, ev input.Event) {
				atomic.AddInt64(&count, 1)
			})
		test.That(t, err, test.ShouldBeNil)
	}

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, atomic.LoadInt64(&count), test.ShouldBeGreaterThan, 5)
	})

	events, err := c.LastEvents(ctx)
	test.That(t, err, test.ShouldBeNil)
	changed := 0
	for _, ev := range events {
		if ev.Event != input.Connect {
			changed++
		}
	}
	test.That(t, changed, test.ShouldBeGreaterThan, 0)
}
