package task

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// BackgroundTaskManager runs housekeeping functions on a fixed interval until stopped. Every function runs once
// right away, then on every tick. Register and StopAll must be called from the same goroutine.
type BackgroundTaskManager struct {
	clock    clock.WithTicker
	duration *prometheus.HistogramVec
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewBackgroundTaskManager(clock clock.WithTicker, metricsPrefix string, registerer prometheus.Registerer) *BackgroundTaskManager {
	return &BackgroundTaskManager{
		clock: clock,
		duration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricsPrefix + "background_task_duration_seconds",
				Help:    "Time spent running a background task",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
			},
			[]string{"task"},
		),
		stop: make(chan struct{}),
	}
}

func (m *BackgroundTaskManager) Register(name string, interval time.Duration, fn func()) {
	ticker := m.clock.NewTicker(interval)
	observer := m.duration.WithLabelValues(name)
	run := func() {
		start := m.clock.Now()
		fn()
		observer.Observe(m.clock.Since(start).Seconds())
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()
		log.Debugf("Starting background task %s every %s", name, interval)
		run()
		for {
			select {
			case <-ticker.C():
				run()
			case <-m.stop:
				return
			}
		}
	}()
}

// StopAll stops every task and waits up to timeout for running functions to return. Returns true if the wait timed
// out.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	close(m.stop)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()
	select {
	case <-done:
		return false
	case <-m.clock.After(timeout):
		return true
	}
}
