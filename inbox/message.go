package inbox

import (
	"time"
)

// Record is one row of the inbox ledger. The row plus its consumer mark are written in
// the same transaction as the handler's effects, which is what makes redeliveries of the
// same message no-ops.
type Record struct {
	UID           string
	OccurredOnUTC time.Time
	Name          string
	Content       []byte
}
