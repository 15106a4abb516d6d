package mutex

import "context"

// Mutex is a distributed lock per order UID. It guards event handling for one order
// across service replicas: two deliveries for the same order are never processed concurrently.
type Mutex interface {
	Lock(ctx context.Context, orderUID string) error
	Release(ctx context.Context, orderUID string) error
}

type MutexErr struct {
	error
}

func WithMutexErr(err error) error {
	return MutexErr{err}
}
