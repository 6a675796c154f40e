//go:build !linux

package gamepad

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/viamrobotics/inputhistory/input"
)

// NewController returns an error: gamepads are only supported on linux.
func NewController(ctx context.Context, cfg Config, logger golog.Logger) (input.Controller, error) {
	return nil, errors.New("gamepad input is only supported on linux")
}
