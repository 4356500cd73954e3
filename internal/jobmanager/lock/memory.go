package lock

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// LeaseTable is shared state behind one or more InMemoryLocks.
type LeaseTable struct {
	mutex   sync.Mutex
	clock   clock.PassiveClock
	holder  string
	expires time.Time
}

func NewLeaseTable(clock clock.PassiveClock) *LeaseTable {
	return &LeaseTable{clock: clock}
}

// CurrentHolder returns the holder of an unexpired lease, or the empty string.
func (t *LeaseTable) CurrentHolder() string {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.holder == "" || !t.clock.Now().Before(t.expires) {
		return ""
	}
	return t.holder
}

// InMemoryLock elects a leader among instances in the same process. Instances compete by sharing a LeaseTable.
type InMemoryLock struct {
	table  *LeaseTable
	holder string
}

func NewInMemoryLock(table *LeaseTable, holder string) *InMemoryLock {
	return &InMemoryLock{table: table, holder: holder}
}

func (l *InMemoryLock) TryAcquire(_ context.Context, duration time.Duration) (bool, error) {
	t := l.table
	t.mutex.Lock()
	defer t.mutex.Unlock()
	now := t.clock.Now()
	if t.holder != "" && t.holder != l.holder && now.Before(t.expires) {
		return false, nil
	}
	t.holder = l.holder
	t.expires = now.Add(duration)
	return true, nil
}

func (l *InMemoryLock) Renew(_ context.Context, duration time.Duration) (bool, error) {
	t := l.table
	t.mutex.Lock()
	defer t.mutex.Unlock()
	now := t.clock.Now()
	if t.holder != l.holder || !now.Before(t.expires) {
		return false, nil
	}
	t.expires = now.Add(duration)
	return true, nil
}

func (l *InMemoryLock) Release(context.Context) error {
	t := l.table
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.holder == l.holder {
		t.holder = ""
		t.expires = time.Time{}
	}
	return nil
}

func (l *InMemoryLock) Holder() string {
	return l.holder
}
