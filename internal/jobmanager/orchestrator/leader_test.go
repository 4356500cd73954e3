package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	clocktesting "k8s.io/utils/clock/testing"
	vol "volcano.sh/apis/pkg/apis/batch/v1alpha1"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/domain"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/lock"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

// failingLock can always be acquired, but only renewed a limited number of times.
type failingLock struct {
	mutex   sync.Mutex
	renewal int
	renews  int
	err     error
}

func (l *failingLock) TryAcquire(context.Context, time.Duration) (bool, error) {
	return true, nil
}

func (l *failingLock) Renew(context.Context, time.Duration) (bool, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.renews++
	if l.renews > l.renewal {
		return false, l.err
	}
	return true, nil
}

func (l *failingLock) Release(context.Context) error {
	return nil
}

func (l *failingLock) Holder() string {
	return "failing"
}

// togglingLock is held exactly while held is set.
type togglingLock struct {
	mutex        sync.Mutex
	held         bool
	acquisitions int
	renews       int
}

func (l *togglingLock) set(held bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.held = held
}

func (l *togglingLock) TryAcquire(context.Context, time.Duration) (bool, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.held {
		l.acquisitions++
		l.renews = 0
	}
	return l.held, nil
}

func (l *togglingLock) Renew(context.Context, time.Duration) (bool, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.held {
		l.renews++
	}
	return l.held, nil
}

// renewedInTerm reports whether the lease was renewed during the given acquisition.
func (l *togglingLock) renewedInTerm(term int) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.acquisitions == term && l.renews > 0
}

func (l *togglingLock) Release(context.Context) error {
	return nil
}

func (l *togglingLock) Holder() string {
	return "toggling"
}

func TestIterate_NothingIsDispatchedWithoutRenewal(t *testing.T) {
	for name, err := range map[string]error{
		"lease taken": nil,
		"lock broken": errors.New("connection refused"),
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, &failingLock{err: err})
			dispatched := false

			result := f.orchestrator.iterate(ucontext.Background(), "job", func() error {
				dispatched = true
				return nil
			})

			assert.True(t, errors.Is(result, errLeadershipLost))
			assert.False(t, dispatched)
		})
	}
}

func TestIterate_TimeoutOnlyRenews(t *testing.T) {
	l := &failingLock{renewal: 1}
	f := newFixture(t, l)

	require.NoError(t, f.orchestrator.iterate(ucontext.Background(), "timeout", nil))
	assert.Equal(t, 1, l.renews)
}

func TestHandleJobEvent_Lifecycle(t *testing.T) {
	f := newFixture(t, nil, "expiry")
	ctx := ucontext.Background()
	job := f.submit(t, "1")

	f.orchestrator.handleJobEvent(ctx, watch.Event{Type: watch.Added, Object: job})
	assert.False(t, f.recorder.contains("expiry:start:1"))

	running := f.setPhase(t, job, vol.Running)
	f.orchestrator.handleJobEvent(ctx, watch.Event{Type: watch.Modified, Object: running})
	f.orchestrator.handleJobEvent(ctx, watch.Event{Type: watch.Modified, Object: running})
	assert.Equal(t, []api.JobState{api.JobStateInQueue, api.JobStateRunning}, f.sink.states("1"))
	assert.Equal(t, []*vol.Job{running}, f.orchestrator.tracker.running())

	completed := f.setPhase(t, running, vol.Completed)
	f.orchestrator.handleJobEvent(ctx, watch.Event{Type: watch.Modified, Object: completed})
	assert.True(t, f.recorder.contains("expiry:complete:1"))
	assert.False(t, f.exists("1"))
	assert.Equal(t, string(api.JobStateSuccess), completed.Annotations[domain.AnnotationFinalState])
	assert.Empty(t, f.orchestrator.tracker.running())

	f.orchestrator.handleJobEvent(ctx, watch.Event{Type: watch.Deleted, Object: completed})
	assert.True(t, f.recorder.contains("expiry:cleanup:1"))
	assert.Equal(t, []api.JobState{api.JobStateInQueue, api.JobStateRunning, api.JobStateSuccess}, f.sink.states("1"))
	assert.Empty(t, f.orchestrator.tracker.missing(map[string]bool{}))
}

func TestHandleJobEvent_FailedJob(t *testing.T) {
	f := newFixture(t, nil)
	job := f.setPhase(t, f.submit(t, "1"), vol.Failed)

	f.orchestrator.handleJobEvent(ucontext.Background(), watch.Event{Type: watch.Modified, Object: job})

	assert.Equal(t, []api.JobState{api.JobStateInQueue, api.JobStateFailure}, f.sink.states("1"))
	assert.False(t, f.exists("1"))
}

func TestHandleJobEvent_StartIsRetriedUntilHooksSucceed(t *testing.T) {
	f := newFixture(t, nil, "expiry")
	f.plugins[1].startErr = errors.New("patch refused")
	running := f.setPhase(t, f.submit(t, "1"), vol.Running)

	f.orchestrator.handleJobEvent(ucontext.Background(), watch.Event{Type: watch.Modified, Object: running})
	assert.Equal(t, []api.JobState{api.JobStateInQueue}, f.sink.states("1"))

	f.plugins[1].startErr = nil
	f.orchestrator.handleJobEvent(ucontext.Background(), watch.Event{Type: watch.Modified, Object: running})
	assert.Equal(t, []api.JobState{api.JobStateInQueue, api.JobStateRunning}, f.sink.states("1"))
}

func TestHandleJobEvent_UnexpectedDeletion(t *testing.T) {
	f := newFixture(t, nil, "ingress")
	job := f.submit(t, "1")

	f.orchestrator.handleJobEvent(ucontext.Background(), watch.Event{Type: watch.Deleted, Object: job})

	assert.True(t, f.recorder.contains("ingress:cleanup:1"))
	assert.Equal(t, []api.JobState{api.JobStateInQueue, api.JobStateFailure}, f.sink.states("1"))
}

func TestHandleJobEvent_IgnoresForeignJobs(t *testing.T) {
	f := newFixture(t, nil, "ingress")
	foreign := &vol.Job{ObjectMeta: metav1.ObjectMeta{Name: "other", Namespace: testNamespace}}

	f.orchestrator.handleJobEvent(ucontext.Background(), watch.Event{Type: watch.Deleted, Object: foreign})

	assert.Empty(t, f.recorder.snapshot())
	assert.Empty(t, f.sink.states(""))
}

func TestHandlePodEvent(t *testing.T) {
	f := newFixture(t, nil, "proxy")
	pod := &v1.Pod{ObjectMeta: metav1.ObjectMeta{
		Name:      "j-1-job-0",
		Namespace: testNamespace,
		Labels:    map[string]string{domain.LabelJobId: "1", domain.VolcanoJobNameLabel: "j-1"},
	}}

	f.orchestrator.handlePodEvent(ucontext.Background(), watch.Event{Type: watch.Modified, Object: pod})

	assert.Equal(t, []string{"base:pod:1:MODIFIED:j-1-job-0", "proxy:pod:1:MODIFIED:j-1-job-0"}, f.recorder.snapshot())
}

func TestMonitor_Batches(t *testing.T) {
	f := newFixture(t, nil, "expiry")
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		running := f.setPhase(t, f.submit(t, id), vol.Running)
		f.orchestrator.handleJobEvent(ucontext.Background(), watch.Event{Type: watch.Modified, Object: running})
	}

	f.orchestrator.monitor(ucontext.Background(), f.orchestrator.tracker.running())

	assert.Equal(t, [][]string{{"1", "2"}, {"3", "4"}, {"5"}}, f.plugins[1].monitoring)
}

func TestOpenJobs_ReportsJobsDeletedWhileNotWatching(t *testing.T) {
	f := newFixture(t, nil)
	live := f.submit(t, "1")
	gone := f.submit(t, "2")
	f.orchestrator.tracker.observe("1", live)
	f.orchestrator.tracker.observe("2", gone)
	require.NoError(t, f.volcano.BatchV1alpha1().Jobs(testNamespace).Delete(context.Background(), gone.Name, metav1.DeleteOptions{}))

	events, watcher, err := f.orchestrator.openJobs(ucontext.Background())
	require.NoError(t, err)
	defer watcher.Stop()

	require.Len(t, events, 2)
	assert.Equal(t, watch.Added, events[0].Type)
	assert.Equal(t, live.Name, events[0].Object.(*vol.Job).Name)
	assert.Equal(t, watch.Deleted, events[1].Type)
	assert.Equal(t, gone.Name, events[1].Object.(*vol.Job).Name)
}

func TestStream_ReopenHandlesListedState(t *testing.T) {
	var handled []watch.Event
	opened := 0
	s := &stream{
		name: "test",
		open: func(*ucontext.Context) ([]watch.Event, watch.Interface, error) {
			opened++
			return []watch.Event{{Type: watch.Added, Object: &vol.Job{}}}, watch.NewFake(), nil
		},
		handle: func(_ *ucontext.Context, event watch.Event) {
			handled = append(handled, event)
		},
	}

	require.NoError(t, s.reopen(ucontext.Background()))
	require.NoError(t, s.reopen(ucontext.Background()))
	s.stop()

	assert.Equal(t, 2, opened)
	assert.Len(t, handled, 2)
	assert.Nil(t, s.results())
}

func TestRun_FollowsJobsWhileLeading(t *testing.T) {
	f := newFixture(t, nil, "expiry")
	job := f.submit(t, "1")
	ctx, cancel := ucontext.WithCancel(ucontext.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.orchestrator.Run(ctx)
	}()

	// The job is tracked once the initial list was handled, at which point the watch is open.
	require.Eventually(t, func() bool {
		return len(f.orchestrator.tracker.missing(map[string]bool{})) == 1
	}, 5*time.Second, 10*time.Millisecond)

	running := f.setPhase(t, job, vol.Running)
	require.Eventually(t, func() bool {
		return f.recorder.contains("expiry:start:1")
	}, 5*time.Second, 10*time.Millisecond)

	f.setPhase(t, running, vol.Completed)
	require.Eventually(t, func() bool {
		return f.recorder.contains("expiry:cleanup:1")
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, f.exists("1"))
	assert.Equal(t, []api.JobState{api.JobStateInQueue, api.JobStateRunning, api.JobStateSuccess}, f.sink.states("1"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("leader loop did not stop")
	}
}

func TestRun_FollowerDoesNotDispatch(t *testing.T) {
	table := lock.NewLeaseTable(clocktesting.NewFakeClock(time.Now()))
	leader := lock.NewInMemoryLock(table, "leader")
	acquired, err := leader.TryAcquire(context.Background(), time.Hour)
	require.NoError(t, err)
	require.True(t, acquired)

	f := newFixture(t, lock.NewInMemoryLock(table, "follower"), "expiry")
	f.setPhase(t, f.submit(t, "1"), vol.Running)
	ctx, cancel := ucontext.WithCancel(ucontext.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.orchestrator.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.False(t, f.recorder.contains("expiry:start:1"))
	assert.Equal(t, []api.JobState{api.JobStateInQueue}, f.sink.states("1"))
}

func TestStepDown_ForgetsLeadershipState(t *testing.T) {
	f := newFixture(t, nil)
	running := f.setPhase(t, f.submit(t, "1"), vol.Running)
	f.orchestrator.handleJobEvent(ucontext.Background(), watch.Event{Type: watch.Modified, Object: running})
	require.Len(t, f.orchestrator.tracker.running(), 1)
	f.orchestrator.deps.Scheduler.ScheduleAt("expiry/1", time.Now().Add(time.Hour), func() {})
	f.orchestrator.RequestMonitoring("1")
	f.orchestrator.RequestMonitoring("1")

	f.orchestrator.stepDown()

	assert.Empty(t, f.orchestrator.tracker.missing(map[string]bool{}))
	assert.Equal(t, 0, f.orchestrator.deps.Scheduler.Pending())
	assert.Len(t, f.orchestrator.monitorRequests, 0)
}

func TestRun_ReacquiredLeadershipStartsFromClusterState(t *testing.T) {
	l := &togglingLock{held: true}
	f := newFixture(t, l, "expiry")
	running := f.setPhase(t, f.submit(t, "1"), vol.Running)
	ctx, cancel := ucontext.WithCancel(ucontext.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.orchestrator.Run(ctx)
	}()
	require.Eventually(t, func() bool {
		return f.recorder.contains("expiry:start:1")
	}, 5*time.Second, 10*time.Millisecond)

	l.set(false)
	require.Eventually(t, func() bool {
		return len(f.orchestrator.tracker.missing(map[string]bool{})) == 0
	}, 5*time.Second, 10*time.Millisecond)

	// Another instance finishes job 1 while this one follows.
	finished := running.DeepCopy()
	finished.Annotations[domain.AnnotationFinalState] = string(api.JobStateSuccess)
	_, err := f.volcano.BatchV1alpha1().Jobs(testNamespace).Update(context.Background(), finished, metav1.UpdateOptions{})
	require.NoError(t, err)
	require.NoError(t, f.volcano.BatchV1alpha1().Jobs(testNamespace).Delete(context.Background(), finished.Name, metav1.DeleteOptions{}))
	f.submit(t, "2")

	l.set(true)
	require.Eventually(t, func() bool {
		return l.renewedInTerm(2)
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, f.orchestrator.tracker.missing(map[string]bool{}), "2")

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []api.JobState{api.JobStateInQueue, api.JobStateRunning}, f.sink.states("1"))
	assert.False(t, f.recorder.contains("expiry:cleanup:1"))
}
