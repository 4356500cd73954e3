// Package lock provides the lease based mutual exclusion used to elect the single job manager which reconciles jobs.
//
// A lease is acquired for a duration and must be renewed before it runs out. An instance which fails to renew must
// assume another instance holds the lease from then on.
package lock

import (
	"context"
	"time"
)

type Lock interface {
	// TryAcquire takes the lease if it is free, expired or already held by this instance.
	TryAcquire(ctx context.Context, duration time.Duration) (bool, error)
	// Renew extends a lease held by this instance. It returns false if the lease is held by someone else.
	Renew(ctx context.Context, duration time.Duration) (bool, error)
	// Release gives up the lease if held by this instance.
	Release(ctx context.Context) error
	// Holder identifies this instance.
	Holder() string
}

// StandaloneLock is always held. It is used when a single job manager runs without redundancy.
type StandaloneLock struct{}

func NewStandaloneLock() *StandaloneLock {
	return &StandaloneLock{}
}

func (l *StandaloneLock) TryAcquire(context.Context, time.Duration) (bool, error) {
	return true, nil
}

func (l *StandaloneLock) Renew(context.Context, time.Duration) (bool, error) {
	return true, nil
}

func (l *StandaloneLock) Release(context.Context) error {
	return nil
}

func (l *StandaloneLock) Holder() string {
	return "standalone"
}
