// Package update defines the data model shared by every component of the
// runner's concurrency engine: the opaque Update record, the Batch it
// arrives in, and the Capacity signal fed back from sink to source.
package update

// Update is an opaque record carrying a strictly monotonically increasing
// identifier. The runner never inspects an Update beyond its id; everything
// else is the caller's concern.
type Update interface {
	// UpdateID returns the update's identity. Callers of a Supplier must
	// return updates in strictly increasing UpdateID order within and
	// across batches.
	UpdateID() int64
}

// Batch is an ordered, finite sequence of updates returned by one pull.
type Batch []Update

// MaxUpdateID returns the highest UpdateID in the batch, and false if the
// batch is empty.
func (b Batch) MaxUpdateID() (int64, bool) {
	if len(b) == 0 {
		return 0, false
	}
	max := b[0].UpdateID()
	for _, u := range b[1:] {
		if id := u.UpdateID(); id > max {
			max = id
		}
	}
	return max, true
}

// Capacity is the number of additional updates a sink is willing to accept.
// Unbounded is used to mean "no downstream bound".
type Capacity int

// Unbounded represents "no downstream bound".
const Unbounded Capacity = -1

// IsUnbounded reports whether c represents no downstream bound.
func (c Capacity) IsUnbounded() bool { return c == Unbounded }
