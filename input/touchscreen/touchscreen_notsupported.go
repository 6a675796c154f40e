//go:build !linux

package touchscreen

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/viamrobotics/inputhistory/touch"
)

// NewSurface returns an error: touchscreens are only supported on linux.
func NewSurface(ctx context.Context, cfg Config, logger golog.Logger) (touch.Surface, error) {
	return nil, errors.New("touchscreen input is only supported on linux")
}
