// Package statehistory provides fixed-capacity circular histories of
// timestamped device state. A Buffer retains the newest N snapshots for a
// set of named sources and hands out cheap Record handles that report
// staleness instead of returning overwritten data.
package statehistory

import (
	"github.com/pkg/errors"
)

// Sentinel errors callers can match with errors.Is.
var (
	// ErrRecordStale is returned when reading through a handle whose entry
	// has been overwritten, cleared, or released.
	ErrRecordStale = errors.New("record no longer valid")

	// ErrSourceNotTracked is returned when appending for a source that a
	// fixed-source buffer does not track.
	ErrSourceNotTracked = errors.New("source not tracked by buffer")

	// ErrValueKindMismatch is returned when reading or writing a value as a
	// kind other than the source's.
	ErrValueKindMismatch = errors.New("value kind mismatch")
)

// ValueKind describes how a source's payload bytes are encoded.
type ValueKind uint8

const (
	// KindBytes is an opaque fixed-size payload; the source declares its size.
	KindBytes ValueKind = iota
	// KindFloat64 is a little-endian float64.
	KindFloat64
	// KindInt64 is a little-endian int64.
	KindInt64
	// KindPoint is an r2.Point stored as two little-endian float64s.
	KindPoint
)

func (k ValueKind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindFloat64:
		return "float64"
	case KindInt64:
		return "int64"
	case KindPoint:
		return "point"
	default:
		return "unknown"
	}
}

// Source identifies one tracked state producer within a Buffer. Sources are
// looked up by name; kind and size must stay consistent across uses of the
// same name.
type Source struct {
	Name string
	Kind ValueKind
	// SizeBytes is the payload size of a KindBytes source. Scalar kinds
	// derive their size from the kind and ignore it.
	SizeBytes int
}

// Float64Source returns a source holding float64 payloads.
func Float64Source(name string) Source {
	return Source{Name: name, Kind: KindFloat64}
}

// Int64Source returns a source holding int64 payloads.
func Int64Source(name string) Source {
	return Source{Name: name, Kind: KindInt64}
}

// PointSource returns a source holding r2.Point payloads.
func PointSource(name string) Source {
	return Source{Name: name, Kind: KindPoint}
}

// BytesSource returns a source holding opaque payloads of exactly size bytes.
func BytesSource(name string, size int) Source {
	return Source{Name: name, Kind: KindBytes, SizeBytes: size}
}

// Size returns the payload size in bytes.
func (s Source) Size() int {
	switch s.Kind {
	case KindFloat64, KindInt64:
		return 8
	case KindPoint:
		return 16
	default:
		return s.SizeBytes
	}
}

func (s Source) validate() error {
	if s.Name == "" {
		return errors.New("source must have a name")
	}
	switch s.Kind {
	case KindFloat64, KindInt64, KindPoint:
		return nil
	case KindBytes:
		if s.SizeBytes <= 0 {
			return errors.Errorf("bytes source %q must declare a positive size, got %d", s.Name, s.SizeBytes)
		}
		return nil
	default:
		return errors.Errorf("source %q has unknown value kind %d", s.Name, s.Kind)
	}
}

func (s Source) compatibleWith(other Source) bool {
	return s.Kind == other.Kind && s.Size() == other.Size()
}
