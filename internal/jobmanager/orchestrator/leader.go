package orchestrator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/logging"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/util"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/metrics"
)

const releaseTimeout = 5 * time.Second

// errLeadershipLost is returned by lead once the lease could not be renewed.
var errLeadershipLost = errors.New("leader lease could not be renewed")

// Run competes for the leader lease until ctx is cancelled. While the lease is held, cluster events are dispatched to
// the plugins; instances without the lease only retry acquisition.
func (o *Orchestrator) Run(ctx *ucontext.Context) error {
	ctx = ucontext.WithLogField(ctx, "holder", o.lock.Holder())
	leader := o.config.Leader
	for ctx.Err() == nil {
		acquired, err := o.lock.TryAcquire(ctx, leader.AcquireLeaseDuration)
		if err != nil {
			logging.WithStacktrace(ctx.Log, err).Warn("Could not acquire leader lease")
		}
		if err != nil || !acquired {
			o.sleep(ctx, util.Jitter(o.rand, leader.RetryInterval, leader.RetryJitter))
			continue
		}

		ctx.Log.Info("Acquired leader lease, reconciling jobs")
		o.metrics.SetLeader(true)
		err = o.lead(ctx)
		o.metrics.SetLeader(false)
		o.stepDown()
		o.release(ctx)

		switch {
		case err == nil:
		case errors.Is(err, errLeadershipLost):
			ctx.Log.Warn("Lost leader lease, stopped reconciling jobs")
		default:
			logging.WithStacktrace(ctx.Log, err).Errorf("Leader loop failed, restarting in %s", leader.FailureBackoff)
			o.sleep(ctx, leader.FailureBackoff)
		}
	}
	return nil
}

// lead runs the event loop. It returns nil when ctx is cancelled, errLeadershipLost when the lease is lost, and any
// other error when the loop can not continue.
func (o *Orchestrator) lead(ctx *ucontext.Context) error {
	jobs := &stream{name: "jobs", open: o.openJobs, handle: o.handleJobEvent}
	pods := &stream{name: "pods", open: o.openPods, handle: o.handlePodEvent}
	defer jobs.stop()
	defer pods.stop()
	for _, s := range []*stream{jobs, pods} {
		if err := s.reopen(ctx); err != nil {
			return err
		}
	}

	ticker := o.deps.Clock.NewTicker(o.config.Monitoring.Interval)
	defer ticker.Stop()
	for {
		timeout := o.deps.Clock.NewTimer(o.config.Leader.EventTimeout)
		var kind string
		var work func() error
		select {
		case <-ctx.Done():
			timeout.Stop()
			return nil
		case event, ok := <-jobs.results():
			kind, work = metrics.EventKindJob, o.streamWork(ctx, jobs, event, ok)
		case event, ok := <-pods.results():
			kind, work = metrics.EventKindPod, o.streamWork(ctx, pods, event, ok)
		case jobId := <-o.monitorRequests:
			kind, work = metrics.EventKindMonitor, func() error {
				o.monitor(ctx, o.tracker.running(jobId))
				return nil
			}
		case <-ticker.C():
			kind, work = metrics.EventKindMonitor, func() error {
				o.monitor(ctx, o.tracker.running())
				return nil
			}
		case <-timeout.C():
			kind = metrics.EventKindTimeout
		}
		timeout.Stop()

		if err := o.iterate(ctx, kind, work); err != nil {
			return err
		}
	}
}

// iterate renews the lease and then performs work. Nothing is dispatched unless the renewal succeeded.
func (o *Orchestrator) iterate(ctx *ucontext.Context, kind string, work func() error) error {
	start := o.deps.Clock.Now()
	renewed, err := o.lock.Renew(ctx, o.config.Leader.RenewLeaseDuration)
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("Renewing leader lease failed")
	}
	if err != nil || !renewed {
		return errLeadershipLost
	}

	o.metrics.RecordEvent(kind)
	if work != nil {
		if err := work(); err != nil {
			return err
		}
	}

	elapsed := o.deps.Clock.Since(start)
	o.metrics.RecordIteration(elapsed)
	if kind != metrics.EventKindTimeout && elapsed > o.config.Leader.SlowIterationWarning {
		ctx.Log.Warnf("Handling a %s event took %s; the leader lease may have expired in the meantime", kind, elapsed)
	}
	return nil
}

// streamWork handles an event, or reopens the stream if it has closed or failed.
func (o *Orchestrator) streamWork(ctx *ucontext.Context, s *stream, event watch.Event, ok bool) func() error {
	if !ok || event.Type == watch.Error {
		return func() error {
			ctx.Log.Warnf("The %s stream was interrupted, reopening it", s.name)
			return s.reopen(ctx)
		}
	}
	return func() error {
		s.handle(ctx, event)
		return nil
	}
}

// stepDown drops everything learned while leading. Another instance may finish, expire or delete jobs before this
// one leads again, so the next term starts from the cluster state alone.
func (o *Orchestrator) stepDown() {
	o.tracker.reset()
	o.deps.Scheduler.CancelAll()
	for {
		select {
		case <-o.monitorRequests:
		default:
			return
		}
	}
}

func (o *Orchestrator) release(ctx *ucontext.Context) {
	releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := o.lock.Release(releaseCtx); err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("Could not release leader lease")
	}
}

func (o *Orchestrator) sleep(ctx *ucontext.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-o.deps.Clock.After(d):
	}
}
