package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	kubefake "k8s.io/client-go/kubernetes/fake"
	"k8s.io/utils/clock"
	vol "volcano.sh/apis/pkg/apis/batch/v1alpha1"
	volcanofake "volcano.sh/apis/pkg/client/clientset/versioned/fake"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/task"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/deps"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/domain"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/lock"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/names"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

const testNamespace = "ucloud-apps"

func testConfig() configuration.Configuration {
	return configuration.Configuration{
		Application: configuration.ApplicationConfiguration{
			Namespace:      testNamespace,
			Queue:          "default",
			SchedulerName:  "volcano",
			DefaultMaxTime: time.Hour,
		},
		Leader: configuration.LeaderConfig{
			Mode:                 configuration.LeaderModeStandalone,
			LeaseLockName:        "ucloud-jobmanager",
			AcquireLeaseDuration: time.Second,
			RenewLeaseDuration:   time.Second,
			RetryInterval:        10 * time.Millisecond,
			EventTimeout:         20 * time.Millisecond,
			SlowIterationWarning: time.Second,
			FailureBackoff:       10 * time.Millisecond,
		},
		Monitoring: configuration.MonitoringConfig{Interval: time.Hour, BatchSize: 2},
	}
}

// recorder collects the hook invocations of every test plugin in call order.
type recorder struct {
	mutex sync.Mutex
	calls []string
}

func (r *recorder) record(format string, args ...interface{}) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) snapshot() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) contains(call string) bool {
	for _, c := range r.snapshot() {
		if c == call {
			return true
		}
	}
	return false
}

type testPlugin struct {
	name       string
	recorder   *recorder
	createErr  error
	startErr   error
	monitoring [][]string
}

func (p *testPlugin) Name() string {
	return p.name
}

func (p *testPlugin) OnCreate(ctx *plugin.HookContext) error {
	p.recorder.record("%s:create:%s", p.name, ctx.JobId)
	if p.createErr != nil {
		return p.createErr
	}
	if p.name == configuration.PluginBase {
		ctx.Resource.Labels = domain.JobLabels(ctx.Job)
		ctx.Resource.Annotations[domain.AnnotationProduct] = ctx.Job.Reservation.Product
	}
	return nil
}

func (p *testPlugin) OnJobStart(ctx *plugin.HookContext) error {
	p.recorder.record("%s:start:%s", p.name, ctx.JobId)
	return p.startErr
}

func (p *testPlugin) OnJobMonitoring(_ *plugin.HookContext, batch []*vol.Job) error {
	ids := make([]string, 0, len(batch))
	for _, job := range batch {
		id, _ := domain.JobId(job.Labels)
		ids = append(ids, id)
	}
	p.recorder.mutex.Lock()
	p.monitoring = append(p.monitoring, ids)
	p.recorder.mutex.Unlock()
	return nil
}

func (p *testPlugin) OnJobComplete(ctx *plugin.HookContext) error {
	p.recorder.record("%s:complete:%s", p.name, ctx.JobId)
	return nil
}

func (p *testPlugin) OnCleanup(ctx *plugin.HookContext) error {
	p.recorder.record("%s:cleanup:%s", p.name, ctx.JobId)
	return nil
}

func (p *testPlugin) OnPodEvent(ctx *plugin.HookContext, eventType watch.EventType, pod *v1.Pod) error {
	p.recorder.record("%s:pod:%s:%s:%s", p.name, ctx.JobId, eventType, pod.Name)
	return nil
}

type recordingSink struct {
	mutex   sync.Mutex
	updates []api.JobStatusUpdate
}

func (s *recordingSink) PushStatus(_ *ucontext.Context, update api.JobStatusUpdate) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.updates = append(s.updates, update)
	return nil
}

func (s *recordingSink) states(jobId string) []api.JobState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var result []api.JobState
	for _, u := range s.updates {
		if u.JobId == jobId {
			result = append(result, u.State)
		}
	}
	return result
}

type fixture struct {
	orchestrator *Orchestrator
	volcano      *volcanofake.Clientset
	kube         *kubefake.Clientset
	sink         *recordingSink
	recorder     *recorder
	plugins      []*testPlugin
}

// newFixture creates an orchestrator with the base plugin followed by one test plugin per extra name.
func newFixture(t *testing.T, l lock.Lock, extra ...string) *fixture {
	f := &fixture{
		volcano:  volcanofake.NewSimpleClientset(),
		kube:     kubefake.NewSimpleClientset(),
		sink:     &recordingSink{},
		recorder: &recorder{},
	}
	var registered []plugin.Plugin
	for _, name := range append([]string{configuration.PluginBase}, extra...) {
		p := &testPlugin{name: name, recorder: f.recorder}
		f.plugins = append(f.plugins, p)
		registered = append(registered, p)
	}
	registry, err := NewRegistry(registered)
	require.NoError(t, err)

	realClock := clock.RealClock{}
	dependencies := &deps.Dependencies{
		Kube:      f.kube,
		Volcano:   f.volcano,
		Scheduler: task.NewScheduler(realClock),
		Status:    f.sink,
		Jobs:      deps.NewJobCache(time.Hour, deps.NewClusterJobSource(f.volcano)),
		Clock:     realClock,
	}
	t.Cleanup(dependencies.Scheduler.Stop)
	if l == nil {
		l = lock.NewStandaloneLock()
	}
	allocator := names.NewAllocator(testNamespace, false, dependencies.Jobs, nil)
	f.orchestrator = New(testConfig(), dependencies, allocator, registry, l)
	return f
}

func testJob(jobId string) *api.JobRequest {
	return &api.JobRequest{
		Id:          jobId,
		Owner:       api.Owner{CreatedBy: "alice", Project: "p1"},
		Reservation: api.Reservation{Product: "u1-standard-2"},
		Replicas:    1,
		Application: api.Application{Name: "jupyter", Version: "1", Image: "jupyter/base:1"},
	}
}

// submit creates the job through the orchestrator and returns it as stored in the cluster.
func (f *fixture) submit(t *testing.T, jobId string) *vol.Job {
	_, err := f.orchestrator.Create(ucontext.Background(), testJob(jobId))
	require.NoError(t, err)
	return f.stored(t, jobId)
}

func (f *fixture) stored(t *testing.T, jobId string) *vol.Job {
	job, err := f.volcano.BatchV1alpha1().Jobs(testNamespace).Get(context.Background(), "j-"+jobId, metav1.GetOptions{})
	require.NoError(t, err)
	return job
}

func (f *fixture) exists(jobId string) bool {
	_, err := f.volcano.BatchV1alpha1().Jobs(testNamespace).Get(context.Background(), "j-"+jobId, metav1.GetOptions{})
	return err == nil
}

// setPhase stores job with the given phase and returns the stored copy.
func (f *fixture) setPhase(t *testing.T, job *vol.Job, phase vol.JobPhase) *vol.Job {
	job = job.DeepCopy()
	job.Status.State.Phase = phase
	if phase == vol.Running {
		job.Status.Running = 1
	} else {
		job.Status.Running = 0
	}
	updated, err := f.volcano.BatchV1alpha1().Jobs(job.Namespace).Update(context.Background(), job, metav1.UpdateOptions{})
	require.NoError(t, err)
	return updated
}
