// Package beacon defines the beacon container, its record kinds, and the
// signed packet format used between agents and the collector.
package beacon

// Beacon is a batch of data records sent from a monitored client to the
// collector. The zero value is an empty beacon ready to use.
//
// A Beacon is not safe for concurrent use.
type Beacon struct {
	data []Record
}

// New returns an empty beacon.
func New() *Beacon {
	return &Beacon{data: []Record{}}
}

// Of returns a beacon holding the given records in order.
func Of(records ...Record) *Beacon {
	b := New()
	b.Append(records...)
	return b
}

// Data returns the records held by the beacon. The returned slice is the
// beacon's own storage, not a copy, and is never nil.
func (b *Beacon) Data() []Record {
	if b.data == nil {
		b.data = []Record{}
	}
	return b.data
}

// Append adds records to the end of the beacon. Nil records, including
// typed nil pointers, are skipped.
func (b *Beacon) Append(records ...Record) {
	if b.data == nil {
		b.data = make([]Record, 0, len(records))
	}
	for _, r := range records {
		if IsNil(r) {
			continue
		}
		b.data = append(b.data, r)
	}
}

// Len returns the number of records in the beacon.
func (b *Beacon) Len() int {
	return len(b.data)
}

// Empty reports whether the beacon holds no records.
func (b *Beacon) Empty() bool {
	return len(b.data) == 0
}

// Snapshot returns a copy of the records that does not alias the beacon.
func (b *Beacon) Snapshot() []Record {
	out := make([]Record, len(b.data))
	copy(out, b.data)
	return out
}
