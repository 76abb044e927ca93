// Package snowflake generates and parses 64-bit time-ordered unique identifiers.
package snowflake

import (
	"strconv"
	"sync/atomic"
	"time"
)

// Epoch is the custom epoch (2015-01-01T00:00:00.000Z) snowflake timestamps are measured from.
const Epoch int64 = 1420070400000

const (
	workerBits   = 5
	processBits  = 5
	sequenceBits = 12

	workerMax   = (1 << workerBits) - 1
	processMax  = (1 << processBits) - 1
	sequenceMax = (1 << sequenceBits) - 1

	processShift   = sequenceBits
	workerShift    = sequenceBits + processBits
	timestampShift = sequenceBits + processBits + workerBits
)

// ID is a 64-bit signed snowflake identifier.
type ID int64

// String renders the ID as a decimal string, used when marshaling to JSON so values never lose precision in clients
// that parse JSON numbers as float64.
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// MarshalJSON encodes the ID as a JSON string.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON decodes an ID from either a JSON string or a JSON number.
func (id *ID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*id = ID(n)
	return nil
}

// Timestamp returns the creation time encoded in the ID.
func (id ID) Timestamp() time.Time {
	ms := (int64(id) >> timestampShift) + Epoch
	return time.UnixMilli(ms)
}

// Worker returns the worker component encoded in the ID.
func (id ID) Worker() int64 {
	return (int64(id) >> workerShift) & workerMax
}

// Process returns the process component encoded in the ID.
func (id ID) Process() int64 {
	return (int64(id) >> processShift) & processMax
}

// Sequence returns the per-millisecond sequence component encoded in the ID.
func (id ID) Sequence() int64 {
	return int64(id) & sequenceMax
}

// Parse parses a snowflake previously rendered by String/MarshalJSON.
func Parse(s string) (ID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return ID(n), nil
}

// Generator produces monotonically-ordered snowflake IDs for a single (worker, process) pair. Generation never
// blocks: timestamp and sequence are tracked in a single packed atomic word, advanced with a compare-and-swap loop
// instead of a mutex.
type Generator struct {
	worker  int64
	process int64
	// state packs (lastTimestampMillis << sequenceBits) | sequence into one word so it can be updated atomically
	// without a lock.
	state atomic.Int64
	now   func() time.Time
}

// NewGenerator creates a generator for the given worker/process pair. Both are masked to their allotted bit width.
func NewGenerator(worker, process int64) *Generator {
	return &Generator{
		worker:  worker & workerMax,
		process: process & processMax,
		now:     time.Now,
	}
}

// Generate returns a fresh, strictly time-ordered ID. On repeated calls within the same millisecond the sequence
// component increments and wraps at 0xFFF, matching the behavior of the source generator this was ported from.
func (g *Generator) Generate() ID {
	for {
		prev := g.state.Load()
		prevMillis := prev >> sequenceBits
		millis := g.now().UnixMilli() - Epoch
		if millis < 0 {
			millis = 0
		}

		var next int64
		var seq int64
		effMillis := millis
		switch {
		case millis == prevMillis:
			seq = (prev & sequenceMax) + 1
			if seq > sequenceMax {
				// Sequence exhausted within this millisecond; spin into the next millisecond rather than collide.
				continue
			}
			next = (millis << sequenceBits) | seq
		case millis > prevMillis:
			seq = 0
			next = millis << sequenceBits
		default:
			// Clock moved backwards; keep advancing off the last observed millisecond to preserve ordering.
			effMillis = prevMillis
			seq = (prev & sequenceMax) + 1
			if seq > sequenceMax {
				continue
			}
			next = (prevMillis << sequenceBits) | seq
		}

		if g.state.CompareAndSwap(prev, next) {
			return ID((effMillis << timestampShift) | (g.worker << workerShift) | (g.process << processShift) | seq)
		}
	}
}
