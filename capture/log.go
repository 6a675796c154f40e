package capture

import (
	"encoding/json"
	"io"
	"time"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/viamrobotics/inputhistory/statehistory"
)

// logEntry is the wire form of one record, one JSON object per line. Exactly
// one of the value fields is set, matching Kind. Bytes payloads ride in Data
// base64 encoded by encoding/json.
type logEntry struct {
	Source string    `json:"source"`
	Kind   string    `json:"kind"`
	Time   time.Time `json:"time"`
	Value  *float64  `json:"value,omitempty"`
	Int    *int64    `json:"int,omitempty"`
	Point  *logPoint `json:"point,omitempty"`
	Data   []byte    `json:"data,omitempty"`
}

type logPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// WriteHistory writes every record b retains to w as JSON lines, oldest
// first. Extra bytes are not serialized.
func WriteHistory(w io.Writer, b *statehistory.Buffer) error {
	enc := json.NewEncoder(w)
	for i, rec := range b.Records() {
		src, err := rec.Source()
		if err != nil {
			return errors.Wrapf(err, "record %d", i)
		}
		entry := logEntry{Source: src.Name, Kind: src.Kind.String()}
		if entry.Time, err = rec.Time(); err != nil {
			return errors.Wrapf(err, "record %d", i)
		}
		switch src.Kind {
		case statehistory.KindFloat64:
			v, err := rec.Float64()
			if err != nil {
				return errors.Wrapf(err, "record %d", i)
			}
			entry.Value = &v
		case statehistory.KindInt64:
			v, err := rec.Int64()
			if err != nil {
				return errors.Wrapf(err, "record %d", i)
			}
			entry.Int = &v
		case statehistory.KindPoint:
			p, err := rec.Point()
			if err != nil {
				return errors.Wrapf(err, "record %d", i)
			}
			entry.Point = &logPoint{X: p.X, Y: p.Y}
		default:
			payload, err := rec.Payload()
			if err != nil {
				return errors.Wrapf(err, "record %d", i)
			}
			entry.Data = append([]byte(nil), payload...)
		}
		if err := enc.Encode(&entry); err != nil {
			return errors.Wrapf(err, "record %d", i)
		}
	}
	return nil
}

// ReadHistory reads JSON lines written by WriteHistory and replays them into
// a fresh buffer sized to hold every entry read.
func ReadHistory(r io.Reader) (*statehistory.Buffer, error) {
	dec := json.NewDecoder(r)
	var entries []logEntry
	for {
		var entry logEntry
		if err := dec.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, errors.Wrapf(err, "entry %d", len(entries)+1)
		}
		entries = append(entries, entry)
	}

	payloadCap := 8
	for i, e := range entries {
		if e.Source == "" {
			return nil, errors.Errorf("entry %d has no source", i+1)
		}
		switch e.Kind {
		case statehistory.KindPoint.String():
			if payloadCap < 16 {
				payloadCap = 16
			}
		case statehistory.KindBytes.String():
			if payloadCap < len(e.Data) {
				payloadCap = len(e.Data)
			}
		}
	}
	b, err := statehistory.New(payloadCap)
	if err != nil {
		return nil, err
	}
	depth := len(entries)
	if depth == 0 {
		depth = 1
	}
	if err := b.SetHistoryDepth(depth); err != nil {
		return nil, err
	}

	for i, e := range entries {
		var err error
		switch e.Kind {
		case statehistory.KindFloat64.String():
			if e.Value == nil {
				err = errors.New("float64 entry has no value")
				break
			}
			_, err = b.AppendFloat64(statehistory.Float64Source(e.Source), *e.Value, e.Time)
		case statehistory.KindInt64.String():
			if e.Int == nil {
				err = errors.New("int64 entry has no value")
				break
			}
			_, err = b.AppendInt64(statehistory.Int64Source(e.Source), *e.Int, e.Time)
		case statehistory.KindPoint.String():
			if e.Point == nil {
				err = errors.New("point entry has no value")
				break
			}
			_, err = b.AppendPoint(statehistory.PointSource(e.Source), r2.Point{X: e.Point.X, Y: e.Point.Y}, e.Time)
		case statehistory.KindBytes.String():
			if len(e.Data) == 0 {
				err = errors.New("bytes entry has no data")
				break
			}
			_, err = b.Append(statehistory.BytesSource(e.Source, len(e.Data)), e.Data, e.Time)
		default:
			err = errors.Errorf("unknown value kind %q", e.Kind)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "entry %d (source %q)", i+1, e.Source)
		}
	}
	return b, nil
}
