package inject

import (
	"context"

	"github.com/viamrobotics/inputhistory/touch"
)

// Surface is an injected touch surface.
type Surface struct {
	touch.Surface
	NameFunc                    func() string
	SlotCountFunc               func() int
	RegisterContactCallbackFunc func(ctx context.Context, fn touch.ContactFunc) error
	CloseFunc                   func(ctx context.Context) error
}

// Name calls the injected function or the real version.
func (s *Surface) Name() string {
	if s.NameFunc == nil {
		return s.Surface.Name()
	}
	return s.NameFunc()
}

// SlotCount calls the injected function or the real version.
func (s *Surface) SlotCount() int {
	if s.SlotCountFunc == nil {
		return s.Surface.SlotCount()
	}
	return s.SlotCountFunc()
}

// RegisterContactCallback calls the injected function or the real version.
func (s *Surface) RegisterContactCallback(ctx context.Context, fn touch.ContactFunc) error {
	if s.RegisterContactCallbackFunc == nil {
		return s.Surface.RegisterContactCallback(ctx, fn)
	}
	return s.RegisterContactCallbackFunc(ctx, fn)
}

// Close calls the injected function or the real version.
func (s *Surface) Close(ctx context.Context) error {
	if s.CloseFunc == nil {
		if s.Surface == nil {
			return nil
		}
		return s.Surface.Close(ctx)
	}
	return s.CloseFunc(ctx)
}
