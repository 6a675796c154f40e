package statehistory

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// Record is a weak reference to one entry in a Buffer. Copying it is cheap
// and it never pins the entry alive; once the entry is overwritten, cleared,
// or the buffer releases its store, every accessor reports ErrRecordStale.
// The zero Record is stale.
type Record struct {
	buf        *Buffer
	slot       int
	version    uint32
	generation uint32
}

// Valid reports whether the record still points at the entry it was created
// for.
func (r Record) Valid() bool {
	return r.err() == nil
}

// Version returns the version the entry had when the record was created.
// Versions are unique and strictly increasing within a buffer, so they
// order records by append time. Version stays readable on stale records.
func (r Record) Version() uint32 {
	return r.version
}

// Time returns the timestamp the record was stamped with at append.
func (r Record) Time() (time.Time, error) {
	if err := r.err(); err != nil {
		return time.Time{}, err
	}
	ns := int64(binary.LittleEndian.Uint64(r.buf.data[r.slot*r.buf.slotSize:]))
	return time.Unix(0, ns), nil
}

// Source returns the source the record was appended for.
func (r Record) Source() (Source, error) {
	if err := r.err(); err != nil {
		return Source{}, err
	}
	return r.buf.sources[r.buf.slotSourceIndex(r.slot)], nil
}

// Payload returns the record's payload bytes, sized to its source. The
// slice aliases the buffer's store and is only good until the next append
// or Clear.
func (r Record) Payload() ([]byte, error) {
	src, err := r.Source()
	if err != nil {
		return nil, err
	}
	off := r.slot*r.buf.slotSize + r.buf.headerSize
	return r.buf.data[off : off+src.Size() : off+src.Size()], nil
}

// Extra returns the record's extra payload area. It errors when the buffer
// reserves no extra bytes. Like Payload, the slice aliases the buffer's
// store.
func (r Record) Extra() ([]byte, error) {
	if err := r.err(); err != nil {
		return nil, err
	}
	if r.buf.extraBytes == 0 {
		return nil, errors.New("buffer reserves no extra bytes per record")
	}
	off := r.slot*r.buf.slotSize + r.buf.headerSize + r.buf.payloadCap
	return r.buf.data[off : off+r.buf.extraBytes : off+r.buf.extraBytes], nil
}

// Float64 decodes the payload of a KindFloat64 record.
func (r Record) Float64() (float64, error) {
	off, err := r.payloadOff(KindFloat64)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(r.buf.data[off:])), nil
}

// Int64 decodes the payload of a KindInt64 record.
func (r Record) Int64() (int64, error) {
	off, err := r.payloadOff(KindInt64)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(r.buf.data[off:])), nil
}

// Point decodes the payload of a KindPoint record.
func (r Record) Point() (r2.Point, error) {
	off, err := r.payloadOff(KindPoint)
	if err != nil {
		return r2.Point{}, err
	}
	return r2.Point{
		X: math.Float64frombits(binary.LittleEndian.Uint64(r.buf.data[off:])),
		Y: math.Float64frombits(binary.LittleEndian.Uint64(r.buf.data[off+8:])),
	}, nil
}

// Next returns the record appended immediately after this one, across all
// sources. It returns a zero record at the newest end or when this record
// is stale.
func (r Record) Next() Record {
	if err := r.err(); err != nil {
		return Record{}
	}
	i := r.buf.logicalIndex(r.slot)
	if i+1 >= r.buf.length {
		return Record{}
	}
	next, err := r.buf.At(i + 1)
	if err != nil {
		return Record{}
	}
	return next
}

// Prev returns the record appended immediately before this one, across all
// sources. It returns a zero record at the oldest end or when this record
// is stale.
func (r Record) Prev() Record {
	if err := r.err(); err != nil {
		return Record{}
	}
	i := r.buf.logicalIndex(r.slot)
	if i == 0 {
		return Record{}
	}
	prev, err := r.buf.At(i - 1)
	if err != nil {
		return Record{}
	}
	return prev
}

func (r Record) err() error {
	if r.buf == nil || r.version == 0 {
		return ErrRecordStale
	}
	if r.generation != r.buf.generation || r.buf.data == nil {
		return ErrRecordStale
	}
	if r.buf.slotVersion(r.slot) != r.version {
		return ErrRecordStale
	}
	return nil
}

func (r Record) payloadOff(kind ValueKind) (int, error) {
	src, err := r.Source()
	if err != nil {
		return 0, err
	}
	if src.Kind != kind {
		return 0, errors.Wrapf(ErrValueKindMismatch, "source %q holds %s, not %s", src.Name, src.Kind, kind)
	}
	return r.slot*r.buf.slotSize + r.buf.headerSize, nil
}
