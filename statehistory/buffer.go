package statehistory

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// DefaultHistoryDepth is the number of records a buffer retains when
// SetHistoryDepth is never called.
const DefaultHistoryDepth = 128

const (
	timeSize    = 8
	versionSize = 4
	sourceSize  = 4
)

// Buffer is a circular history of state records. Records for every tracked
// source share one ring ordered by append time; once the ring is full each
// append evicts the oldest record.
//
// A buffer created by New accepts any source whose payload fits its
// capacity, registering new names on first use. A buffer created by
// NewForSources tracks exactly the given sources and rejects others.
//
// Buffers are not safe for concurrent use. The intended shape is one
// writer appending during an input pass and readers walking history
// between passes; callers needing more wrap the buffer in their own lock.
type Buffer struct {
	sources   []Source
	sourceIdx map[string]int
	open      bool

	payloadCap int
	depth      int
	extraBytes int

	// set on first append, released by Close
	data       []byte
	slotSize   int
	headerSize int

	head        int // slot of the oldest record
	length      int
	nextVersion uint32
	generation  uint32

	onAppend func(Record)
}

// New returns a buffer that accepts appends for any source whose payload is
// at most payloadCap bytes. Unknown sources register themselves on first
// append.
func New(payloadCap int) (*Buffer, error) {
	if payloadCap <= 0 {
		return nil, errors.Errorf("payload capacity must be positive, got %d", payloadCap)
	}
	return &Buffer{
		open:        true,
		sourceIdx:   map[string]int{},
		payloadCap:  payloadCap,
		depth:       DefaultHistoryDepth,
		nextVersion: 1,
		generation:  1,
	}, nil
}

// NewForSources returns a buffer tracking exactly the given sources, sized
// to the largest of them. Appends for any other source fail with
// ErrSourceNotTracked.
func NewForSources(sources ...Source) (*Buffer, error) {
	if len(sources) == 0 {
		return nil, errors.New("at least one source is required")
	}
	b := &Buffer{
		sourceIdx:   make(map[string]int, len(sources)),
		depth:       DefaultHistoryDepth,
		nextVersion: 1,
		generation:  1,
	}
	for _, src := range sources {
		if err := src.validate(); err != nil {
			return nil, err
		}
		if _, err := b.addSource(src); err != nil {
			return nil, err
		}
		if src.Size() > b.payloadCap {
			b.payloadCap = src.Size()
		}
	}
	return b, nil
}

// HistoryDepth returns how many records the buffer retains.
func (b *Buffer) HistoryDepth() int { return b.depth }

// SetHistoryDepth changes how many records the buffer retains. The depth
// can only change while the buffer holds no backing store, that is before
// the first append or after Close.
func (b *Buffer) SetHistoryDepth(n int) error {
	if n <= 0 {
		return errors.Errorf("history depth must be positive, got %d", n)
	}
	if b.data != nil {
		return errors.New("history depth cannot change once the buffer has allocated")
	}
	b.depth = n
	return nil
}

// ExtraBytes returns the caller-owned space reserved alongside each record.
func (b *Buffer) ExtraBytes() int { return b.extraBytes }

// SetExtraBytes reserves n caller-owned bytes alongside every record,
// readable and writable through Record.Extra. Like SetHistoryDepth it only
// works while the buffer holds no backing store.
func (b *Buffer) SetExtraBytes(n int) error {
	if n < 0 {
		return errors.Errorf("extra bytes must not be negative, got %d", n)
	}
	if b.data != nil {
		return errors.New("extra bytes cannot change once the buffer has allocated")
	}
	b.extraBytes = n
	return nil
}

// PayloadCap returns the largest payload the buffer accepts.
func (b *Buffer) PayloadCap() int { return b.payloadCap }

// Len returns how many records the buffer currently holds.
func (b *Buffer) Len() int { return b.length }

// Sources returns the tracked sources in registration order.
func (b *Buffer) Sources() []Source {
	return append([]Source(nil), b.sources...)
}

// LookupSource returns the registration for name.
func (b *Buffer) LookupSource(name string) (Source, bool) {
	idx, ok := b.sourceIdx[name]
	if !ok {
		return Source{}, false
	}
	return b.sources[idx], true
}

// RegisterSource makes src known ahead of any append for it. Registering a
// name again is a no-op as long as kind and size match. Fixed-source
// buffers reject names they do not already track.
func (b *Buffer) RegisterSource(src Source) error {
	if err := src.validate(); err != nil {
		return err
	}
	if _, ok := b.sourceIdx[src.Name]; !ok {
		if !b.open {
			return errors.Wrapf(ErrSourceNotTracked, "source %q", src.Name)
		}
		if src.Size() > b.payloadCap {
			return errors.Errorf("source %q payload (%d bytes) exceeds buffer capacity %d", src.Name, src.Size(), b.payloadCap)
		}
	}
	_, err := b.addSource(src)
	return err
}

// OnAppend registers fn to run after every successful append with the new
// record. Passing nil removes the hook.
func (b *Buffer) OnAppend(fn func(Record)) {
	b.onAppend = fn
}

// Append records payload for src stamped with t, evicting the oldest record
// when the ring is full. The payload length must equal src.Size. Failed
// appends leave the buffer unchanged.
func (b *Buffer) Append(src Source, payload []byte, t time.Time) (Record, error) {
	if err := src.validate(); err != nil {
		return Record{}, err
	}
	if len(payload) != src.Size() {
		return Record{}, errors.Errorf("payload for source %q must be %d bytes, got %d", src.Name, src.Size(), len(payload))
	}
	if src.Size() > b.payloadCap {
		return Record{}, errors.Errorf("source %q payload (%d bytes) exceeds buffer capacity %d", src.Name, src.Size(), b.payloadCap)
	}
	srcIdx, ok := b.sourceIdx[src.Name]
	switch {
	case ok:
		if !b.sources[srcIdx].compatibleWith(src) {
			prev := b.sources[srcIdx]
			return Record{}, errors.Wrapf(ErrValueKindMismatch,
				"source %q already tracked as %s (%d bytes), got %s (%d bytes)",
				src.Name, prev.Kind, prev.Size(), src.Kind, src.Size())
		}
	case b.open:
		var err error
		if srcIdx, err = b.addSource(src); err != nil {
			return Record{}, err
		}
	default:
		return Record{}, errors.Wrapf(ErrSourceNotTracked, "source %q", src.Name)
	}

	if b.data == nil {
		b.allocate()
	}
	var slot int
	if b.length < b.depth {
		slot = (b.head + b.length) % b.depth
		b.length++
	} else {
		slot = b.head
		b.head = (b.head + 1) % b.depth
	}
	off := slot * b.slotSize
	binary.LittleEndian.PutUint64(b.data[off:], uint64(t.UnixNano()))
	version := b.nextVersion
	b.nextVersion++
	binary.LittleEndian.PutUint32(b.data[off+timeSize:], version)
	if b.headerSize > timeSize+versionSize {
		binary.LittleEndian.PutUint32(b.data[off+timeSize+versionSize:], uint32(srcIdx))
	}
	payloadOff := off + b.headerSize
	copy(b.data[payloadOff:], payload)
	// the slot may hold bytes from an evicted record
	clear(b.data[payloadOff+len(payload) : off+b.headerSize+b.payloadCap+b.extraBytes])

	rec := Record{buf: b, slot: slot, version: version, generation: b.generation}
	if b.onAppend != nil {
		b.onAppend(rec)
	}
	return rec, nil
}

// AppendFloat64 encodes v and appends it for src, which must be KindFloat64.
func (b *Buffer) AppendFloat64(src Source, v float64, t time.Time) (Record, error) {
	if src.Kind != KindFloat64 {
		return Record{}, errors.Wrapf(ErrValueKindMismatch, "source %q holds %s, not float64", src.Name, src.Kind)
	}
	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], math.Float64bits(v))
	return b.Append(src, payload[:], t)
}

// AppendInt64 encodes v and appends it for src, which must be KindInt64.
func (b *Buffer) AppendInt64(src Source, v int64, t time.Time) (Record, error) {
	if src.Kind != KindInt64 {
		return Record{}, errors.Wrapf(ErrValueKindMismatch, "source %q holds %s, not int64", src.Name, src.Kind)
	}
	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], uint64(v))
	return b.Append(src, payload[:], t)
}

// AppendPoint encodes p and appends it for src, which must be KindPoint.
func (b *Buffer) AppendPoint(src Source, p r2.Point, t time.Time) (Record, error) {
	if src.Kind != KindPoint {
		return Record{}, errors.Wrapf(ErrValueKindMismatch, "source %q holds %s, not point", src.Name, src.Kind)
	}
	var payload [16]byte
	binary.LittleEndian.PutUint64(payload[:], math.Float64bits(p.X))
	binary.LittleEndian.PutUint64(payload[8:], math.Float64bits(p.Y))
	return b.Append(src, payload[:], t)
}

// CopyRecordFrom appends a copy of src, which may belong to another buffer.
// The copy keeps the original timestamp and payload but gets a fresh
// version. The extra area carries over only when both buffers reserve the
// same nonzero number of extra bytes; otherwise the copy's extra area is
// zeroed.
func (b *Buffer) CopyRecordFrom(src Record) (Record, error) {
	t, err := src.Time()
	if err != nil {
		return Record{}, err
	}
	source, err := src.Source()
	if err != nil {
		return Record{}, err
	}
	payload, err := src.Payload()
	if err != nil {
		return Record{}, err
	}
	var extra []byte
	if b.extraBytes > 0 && src.buf.extraBytes == b.extraBytes {
		srcExtra, err := src.Extra()
		if err != nil {
			return Record{}, err
		}
		// the append below may evict src when both records share a buffer
		extra = append([]byte(nil), srcExtra...)
	}
	rec, err := b.Append(source, payload, t)
	if err != nil {
		return Record{}, err
	}
	if extra != nil {
		dst, err := rec.Extra()
		if err != nil {
			return Record{}, err
		}
		copy(dst, extra)
	}
	return rec, nil
}

// At returns the i-th retained record, 0 being the oldest.
func (b *Buffer) At(i int) (Record, error) {
	if i < 0 || i >= b.length {
		return Record{}, errors.Errorf("record index %d out of range [0, %d)", i, b.length)
	}
	slot := (b.head + i) % b.depth
	return Record{buf: b, slot: slot, version: b.slotVersion(slot), generation: b.generation}, nil
}

// Records returns handles to every retained record, oldest first. The slice
// is a snapshot; handles in it go stale individually as later appends evict
// their entries.
func (b *Buffer) Records() []Record {
	out := make([]Record, b.length)
	for i := range out {
		slot := (b.head + i) % b.depth
		out[i] = Record{buf: b, slot: slot, version: b.slotVersion(slot), generation: b.generation}
	}
	return out
}

// Clear drops every record while keeping the registered sources and the
// backing store. All outstanding handles go stale.
func (b *Buffer) Clear() {
	b.head = 0
	b.length = 0
	b.generation++
}

// Close releases the backing store and invalidates all handles. The buffer
// remains usable; the next append allocates again. Closing more than once
// is fine.
func (b *Buffer) Close() error {
	b.data = nil
	b.head = 0
	b.length = 0
	b.generation++
	return nil
}

func (b *Buffer) addSource(src Source) (int, error) {
	if idx, ok := b.sourceIdx[src.Name]; ok {
		if !b.sources[idx].compatibleWith(src) {
			prev := b.sources[idx]
			return 0, errors.Wrapf(ErrValueKindMismatch,
				"source %q already tracked as %s (%d bytes), got %s (%d bytes)",
				src.Name, prev.Kind, prev.Size(), src.Kind, src.Size())
		}
		return idx, nil
	}
	b.sources = append(b.sources, src)
	b.sourceIdx[src.Name] = len(b.sources) - 1
	return len(b.sources) - 1, nil
}

func (b *Buffer) allocate() {
	b.headerSize = timeSize + versionSize
	if b.open || len(b.sources) > 1 {
		// single fixed-source buffers skip the source column
		b.headerSize += sourceSize
	}
	b.slotSize = align4(b.headerSize + b.payloadCap + b.extraBytes)
	b.data = make([]byte, b.slotSize*b.depth)
}

func (b *Buffer) slotVersion(slot int) uint32 {
	return binary.LittleEndian.Uint32(b.data[slot*b.slotSize+timeSize:])
}

func (b *Buffer) slotSourceIndex(slot int) int {
	if b.headerSize == timeSize+versionSize {
		return 0
	}
	return int(binary.LittleEndian.Uint32(b.data[slot*b.slotSize+timeSize+versionSize:]))
}

func (b *Buffer) logicalIndex(slot int) int {
	return (slot - b.head + b.depth) % b.depth
}

func align4(n int) int {
	return (n + 3) &^ 3
}
