package touch

import (
	"fmt"
	"time"

	"github.com/golang/geo/r2"

	"github.com/viamrobotics/inputhistory/statehistory"
)

// Finger is one touch slot of a surface. Each finger owns a fixed-depth
// history of the contact snapshots recorded for it, oldest first.
type Finger struct {
	index   int
	source  statehistory.Source
	history *statehistory.Buffer

	// ongoing chain bookkeeping, maintained by the tracker
	ongoing   bool
	chainID   int32
	beganStep FrameStep
	startTime time.Time
	startPos  r2.Point
	lastPos   r2.Point
	lastStep  FrameStep
	lastAccum r2.Point
}

// Index returns the finger's slot on the surface.
func (f *Finger) Index() int {
	return f.index
}

// History returns the finger's snapshot history. Callers may read it
// freely but must leave appends to the tracker.
func (f *Finger) History() *statehistory.Buffer {
	return f.history
}

// Ongoing reports whether the finger is currently touching.
func (f *Finger) Ongoing() bool {
	return f.ongoing
}

// CurrentContact returns the newest snapshot of the finger's ongoing
// contact chain.
func (f *Finger) CurrentContact() (Contact, bool) {
	if !f.ongoing || f.history.Len() == 0 {
		return Contact{}, false
	}
	rec, err := f.history.At(f.history.Len() - 1)
	if err != nil {
		return Contact{}, false
	}
	payload, err := rec.Payload()
	if err != nil {
		return Contact{}, false
	}
	return decodeContact(payload), true
}

func (f *Finger) resetChain() {
	f.ongoing = false
	f.chainID = 0
	f.beganStep = 0
	f.startTime = time.Time{}
	f.startPos = r2.Point{}
	f.lastPos = r2.Point{}
	f.lastStep = 0
	f.lastAccum = r2.Point{}
}

func fingerSourceName(index int) string {
	return fmt.Sprintf("finger%d", index)
}
