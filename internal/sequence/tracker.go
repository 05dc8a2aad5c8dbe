// Package sequence classifies the 16-bit sequence numbers carried by audio
// packets and keeps per-stream arrival health counters.
package sequence

// MaxReasonableGap is the largest distance, in either direction, between the
// expected and the arriving sequence number that is still treated as network
// jitter. It must stay below half the uint16 range for wrap handling to work.
const MaxReasonableGap = 1000

const seqRange = 1 << 16

// Stats holds the cumulative counters of a Tracker.
type Stats struct {
	Received     uint32 `json:"received"`
	Unreasonable uint32 `json:"unreasonable"`
	Early        uint32 `json:"early"`
	Late         uint32 `json:"late"`
	Lost         uint32 `json:"lost"`
	Recovered    uint32 `json:"recovered"`
	Duplicate    uint32 `json:"duplicate"`
}

// Outcome is the classification of a single arriving sequence number.
type Outcome int

// Possible outcomes of Tracker.Received.
const (
	OnTime Outcome = iota
	Early
	Late
	Recovered
	Duplicate
	Unreasonable
)

func (o Outcome) String() string {
	switch o {
	case OnTime:
		return "on-time"
	case Early:
		return "early"
	case Late:
		return "late"
	case Recovered:
		return "recovered"
	case Duplicate:
		return "duplicate"
	case Unreasonable:
		return "unreasonable"
	default:
		return "unknown"
	}
}

// Tracker is a sliding-window sequence number health tracker for one stream.
// It is not safe for concurrent use.
type Tracker struct {
	stats        Stats
	started      bool
	lastReceived uint16
	missing      map[uint16]struct{}
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{missing: make(map[uint16]struct{})}
}

// Received records an arriving sequence number and returns how it was
// classified. Late packets never move the expected position backwards.
func (t *Tracker) Received(incoming uint16) Outcome {
	t.stats.Received++

	expected := incoming
	if t.started {
		expected = t.lastReceived + 1
	}
	t.started = true
	if incoming == expected {
		t.lastReceived = incoming
		// A number missing since the previous lap is no longer recoverable.
		delete(t.missing, incoming)
		return OnTime
	}

	incomingInt := int(incoming)
	expectedInt := int(expected)
	if incomingInt > expectedInt {
		if incomingInt-expectedInt > seqRange/2 {
			incomingInt -= seqRange
		}
	} else if expectedInt-incomingInt > seqRange/2 {
		incomingInt += seqRange
	}

	gap := incomingInt - expectedInt
	if gap >= MaxReasonableGap || -gap >= MaxReasonableGap {
		t.stats.Unreasonable++
		return Unreasonable
	}

	if incomingInt > expectedInt {
		t.stats.Early++
		t.stats.Lost += uint32(gap)
		for missing := expectedInt; missing < incomingInt; missing++ {
			t.missing[uint16(missing)] = struct{}{}
		}
		t.lastReceived = incoming
		t.pruneMissing()
		return Early
	}

	t.stats.Late++
	if _, ok := t.missing[incoming]; ok {
		delete(t.missing, incoming)
		t.stats.Lost--
		t.stats.Recovered++
		return Recovered
	}
	t.stats.Duplicate++
	return Duplicate
}

// pruneMissing drops missing entries more than MaxReasonableGap behind the
// last received sequence number; they can no longer be recovered.
func (t *Tracker) pruneMissing() {
	for seq := range t.missing {
		behind := uint16(t.lastReceived - seq)
		if behind > MaxReasonableGap {
			delete(t.missing, seq)
		}
	}
}

// Stats returns a copy of the current counters.
func (t *Tracker) Stats() Stats {
	return t.stats
}

// Missing returns the number of sequence numbers currently awaiting recovery.
func (t *Tracker) Missing() int {
	return len(t.missing)
}

// Reset clears all counters and the missing set.
func (t *Tracker) Reset() {
	t.stats = Stats{}
	t.started = false
	t.lastReceived = 0
	clear(t.missing)
}

// Restart clears all counters and the missing set but keeps classifying
// from seq, which is not itself counted. Packets following seq are judged
// against it as if the tracker had never been reset.
func (t *Tracker) Restart(seq uint16) {
	t.Reset()
	t.started = true
	t.lastReceived = seq
}
