package outbox

import (
	"time"
)

// Record is one row of the outbox ledger. A record exists iff the state mutation that
// raised the event was durably committed. ProcessedOnUTC is set once, when every
// registered consumer has its mark, and is never cleared.
type Record struct {
	UID            string
	OccurredOnUTC  time.Time
	Name           string
	Content        []byte
	ProcessedOnUTC *time.Time
	Error          string
	// Consumers that already confirmed this record, by endpoint name
	Consumers []string
}

// ConsumedBy reports whether a consumer already has its mark for this record
func (r Record) ConsumedBy(consumer string) bool {
	for _, c := range r.Consumers {
		if c == consumer {
			return true
		}
	}

	return false
}
