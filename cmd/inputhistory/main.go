// Package main is the inputhistory command line tool.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/viamrobotics/inputhistory/capture"
	"github.com/viamrobotics/inputhistory/input"
	"github.com/viamrobotics/inputhistory/input/fake"
	"github.com/viamrobotics/inputhistory/input/gamepad"
	"github.com/viamrobotics/inputhistory/input/touchscreen"
	"github.com/viamrobotics/inputhistory/statehistory"
	"github.com/viamrobotics/inputhistory/touch"
)

const (
	// Flags.
	flagDebug    = "debug"
	flagDevice   = "dev"
	flagFake     = "fake"
	flagRate     = "rate"
	flagOut      = "out"
	flagDuration = "duration"
	flagDepth    = "depth"
	flagFPS      = "fps"
)

func main() {
	utils.ContextualMain(mainWithArgs, golog.NewDevelopmentLogger("inputhistory"))
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	return newApp(logger).RunContext(ctx, args)
}

// newApp builds the CLI. Actions read the captured logger so the Before
// hook can swap it for a debug one.
func newApp(logger golog.Logger) *cli.App {
	return &cli.App{
		Name:  "inputhistory",
		Usage: "inspect input devices and record their event histories",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger = golog.NewDebugLogger("inputhistory")
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "devices",
				Usage: "list attached input devices",
				Action: func(c *cli.Context) error {
					return listDevices(c.App.Writer)
				},
			},
			{
				Name:  "record",
				Usage: "record controller events to a history log",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagDevice,
						Usage: "gamepad device `FILE` (default: first gamepad found)",
					},
					&cli.BoolFlag{
						Name:  flagFake,
						Usage: "record a fake controller instead of hardware",
					},
					&cli.IntFlag{
						Name:  flagRate,
						Value: 10,
						Usage: "events per second for the fake controller",
					},
					&cli.StringFlag{
						Name:    flagOut,
						Aliases: []string{"o"},
						Value:   "-",
						Usage:   "write the history log to `FILE` (- for stdout)",
					},
					&cli.DurationFlag{
						Name:    flagDuration,
						Aliases: []string{"d"},
						Value:   10 * time.Second,
						Usage:   "how long to record",
					},
					&cli.IntFlag{
						Name:  flagDepth,
						Value: capture.DefaultHistoryDepth,
						Usage: "events retained per control history",
					},
				},
				Action: func(c *cli.Context) error {
					return runRecord(c, logger)
				},
			},
			{
				Name:      "dump",
				Usage:     "print a recorded history log",
				ArgsUsage: "FILE",
				Action: func(c *cli.Context) error {
					return runDump(c)
				},
			},
			{
				Name:  "touches",
				Usage: "track a touchscreen and print resolved touches per frame",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagDevice,
						Usage: "touchscreen device `FILE` (default: first touchscreen found)",
					},
					&cli.DurationFlag{
						Name:    flagDuration,
						Aliases: []string{"d"},
						Value:   30 * time.Second,
						Usage:   "how long to watch",
					},
					&cli.IntFlag{
						Name:  flagFPS,
						Value: 30,
						Usage: "frame steps per second",
					},
				},
				Action: func(c *cli.Context) error {
					return runTouches(c, logger)
				},
			},
		},
	}
}

func runRecord(c *cli.Context, logger golog.Logger) error {
	ctx := c.Context

	var controller input.Controller
	var err error
	if c.Bool(flagFake) {
		controller, err = fake.NewController(fake.Config{EventsPerSec: c.Int(flagRate)}, logger)
	} else {
		controller, err = gamepad.NewController(ctx, gamepad.Config{DevFile: c.String(flagDevice)}, logger)
	}
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(func() error { return controller.Close(ctx) })

	recorder, err := capture.NewRecorder(ctx, capture.Params{
		Controller:   controller,
		HistoryDepth: c.Int(flagDepth),
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(func() error { return recorder.Close(ctx) })

	if err := recorder.Start(ctx); err != nil {
		return err
	}
	logger.Infow("recording", "duration", c.Duration(flagDuration))
	utils.SelectContextOrWait(ctx, c.Duration(flagDuration))
	if err := recorder.Stop(ctx); err != nil {
		return err
	}

	return writeHistory(c, recorder, logger)
}

func writeHistory(c *cli.Context, recorder *capture.Recorder, logger golog.Logger) error {
	name := c.String(flagOut)
	if name == "" || name == "-" {
		return recorder.WriteHistory(c.App.Writer)
	}

	//nolint:gosec
	f, err := os.Create(filepath.Clean(name))
	if err != nil {
		return errors.Wrapf(err, "creating %q", name)
	}
	if err := recorder.WriteHistory(f); err != nil {
		return multierr.Combine(errors.Wrapf(err, "writing %q", name), f.Close())
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Infow("history written", "file", name, "events", recorder.Len())
	return nil
}

func runDump(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one history log file")
	}
	name := c.Args().First()

	//nolint:gosec
	f, err := os.Open(filepath.Clean(name))
	if err != nil {
		return errors.Wrapf(err, "opening %q", name)
	}
	defer utils.UncheckedErrorFunc(f.Close)

	history, err := capture.ReadHistory(f)
	if err != nil {
		return errors.Wrapf(err, "reading %q", name)
	}
	defer utils.UncheckedErrorFunc(history.Close)

	for i, rec := range history.Records() {
		line, err := formatRecord(rec)
		if err != nil {
			return errors.Wrapf(err, "record %d", i)
		}
		fmt.Fprintln(c.App.Writer, line)
	}
	return nil
}

func formatRecord(rec statehistory.Record) (string, error) {
	src, err := rec.Source()
	if err != nil {
		return "", err
	}
	at, err := rec.Time()
	if err != nil {
		return "", err
	}
	prefix := fmt.Sprintf("%s %-20s", at.Format(time.RFC3339Nano), src.Name)
	switch src.Kind {
	case statehistory.KindFloat64:
		v, err := rec.Float64()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %g", prefix, v), nil
	case statehistory.KindInt64:
		v, err := rec.Int64()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %d", prefix, v), nil
	case statehistory.KindPoint:
		v, err := rec.Point()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s (%g, %g)", prefix, v.X, v.Y), nil
	default:
		payload, err := rec.Payload()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %d bytes", prefix, len(payload)), nil
	}
}

func runTouches(c *cli.Context, logger golog.Logger) error {
	ctx := c.Context

	fps := c.Int(flagFPS)
	if fps <= 0 {
		return errors.Errorf("fps must be positive, got %d", fps)
	}

	surface, err := touchscreen.NewSurface(ctx, touchscreen.Config{DevFile: c.String(flagDevice)}, logger)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(func() error { return surface.Close(ctx) })

	tracker, err := touch.NewTracker(touch.Params{Fingers: surface.SlotCount(), Logger: logger})
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(func() error { return tracker.Close(ctx) })

	if err := tracker.Attach(ctx, surface); err != nil {
		return err
	}

	interval := time.Second / time.Duration(fps)
	deadline := time.Now().Add(c.Duration(flagDuration))
	for time.Now().Before(deadline) {
		if !utils.SelectContextOrWait(ctx, interval) {
			return nil
		}
		step := tracker.Advance()
		for _, tc := range tracker.ActiveTouches() {
			fmt.Fprintf(c.App.Writer, "step %d finger %d %s pos=(%.3f, %.3f) delta=(%.3f, %.3f) taps=%d\n",
				step, tc.Finger().Index(), tc.Contact.Phase,
				tc.Contact.Position.X, tc.Contact.Position.Y,
				tc.Contact.Delta.X, tc.Contact.Delta.Y, tc.Contact.TapCount)
		}
	}
	return nil
}
