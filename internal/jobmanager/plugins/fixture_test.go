package plugins

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	kubefake "k8s.io/client-go/kubernetes/fake"
	clocktesting "k8s.io/utils/clock/testing"
	vol "volcano.sh/apis/pkg/apis/batch/v1alpha1"
	volcanofake "volcano.sh/apis/pkg/client/clientset/versioned/fake"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/task"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/deps"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/network"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/store"
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
		Products: map[string]configuration.Machine{
			"u1-standard-2": {Cpu: 2, MemoryGb: 8},
			"u1-standard-1": {Cpu: 1, MemoryGb: 4},
			"u1-gpu-1":      {Cpu: 4, MemoryGb: 16, Gpu: 1},
		},
		Toleration: &configuration.TolerationConfig{Key: "ucloud.dk/user", Value: "none"},
		Storage:    configuration.StorageConfig{ClaimName: "cephfs", SubFolder: "home", MountRoot: "/work"},
		MultiNode:  configuration.MultiNodeConfig{InitImage: "alpine:3"},
		Sandbox: configuration.SandboxConfig{
			RuntimeClassName:  "kata",
			CpuOverheadMillis: 1000,
			MemoryOverhead:    resource.MustParse("6Gi"),
			MinimumMemory:     resource.MustParse("1Gi"),
		},
		Security:         configuration.SecurityConfig{NonRootUid: 11042, WorkingDirectoryAtMountRoot: true},
		Ingress:          configuration.IngressConfig{Suffix: ".example", Denylist: []string{"login"}, Port: 80},
		LocalDevelopment: configuration.LocalDevelopmentConfig{Enabled: true, Port: 8080},
	}
}

type terminatedJob struct {
	jobId   string
	state   api.JobState
	message string
}

type fakeHost struct {
	mutex      sync.Mutex
	monitoring []string
	terminated []terminatedJob
}

func (h *fakeHost) RequestMonitoring(jobId string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.monitoring = append(h.monitoring, jobId)
}

func (h *fakeHost) Terminate(_ *ucontext.Context, job *vol.Job, state api.JobState, message string) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.terminated = append(h.terminated, terminatedJob{jobId: job.Labels["ucloud.dk/job-id"], state: state, message: message})
	return nil
}

type fakeUsage struct {
	reports []api.UsageReport
	err     error
}

func (u *fakeUsage) ReportUsage(_ *ucontext.Context, report api.UsageReport) error {
	if u.err != nil {
		return u.err
	}
	u.reports = append(u.reports, report)
	return nil
}

func (u *fakeUsage) billedMillis() int64 {
	var total int64
	for _, r := range u.reports {
		total += r.ElapsedMillis
	}
	return total
}

type fixture struct {
	clock   *clocktesting.FakeClock
	volcano *volcanofake.Clientset
	kube    *kubefake.Clientset
	deps    *deps.Dependencies
	host    *fakeHost
	usage   *fakeUsage
}

func newIngressService(config configuration.Configuration, s store.IngressStore) *network.IngressService {
	return network.NewIngressService(network.NewIngressValidator(config.Ingress), s, clocktesting.NewFakeClock(time.UnixMilli(0)))
}

func newFixture(t *testing.T, volcanoObjects ...runtime.Object) *fixture {
	clock := clocktesting.NewFakeClock(time.UnixMilli(1000))
	f := &fixture{
		clock:   clock,
		volcano: volcanofake.NewSimpleClientset(volcanoObjects...),
		kube:    kubefake.NewSimpleClientset(),
		host:    &fakeHost{},
		usage:   &fakeUsage{},
	}
	f.deps = &deps.Dependencies{
		Kube:      f.kube,
		Volcano:   f.volcano,
		Scheduler: task.NewScheduler(clock),
		Usage:     f.usage,
		Clock:     clock,
	}
	t.Cleanup(f.deps.Scheduler.Stop)
	return f
}

func (f *fixture) hookContext(job *api.JobRequest, resource *vol.Job) *plugin.HookContext {
	ctx := &plugin.HookContext{
		Context:  ucontext.Background(),
		Deps:     f.deps,
		Host:     f.host,
		Job:      job,
		Resource: resource,
	}
	if job != nil {
		ctx.JobId = job.Id
	}
	return ctx
}

func testJob() *api.JobRequest {
	return &api.JobRequest{
		Id:          "1",
		Owner:       api.Owner{CreatedBy: "alice", Project: "p1"},
		Reservation: api.Reservation{Product: "u1-standard-2"},
		Replicas:    1,
		Application: api.Application{Name: "jupyter", Version: "1", Image: "jupyter/base:1"},
	}
}

func skeleton(job *api.JobRequest) *vol.Job {
	return &vol.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:        "j-" + job.Id,
			Namespace:   testNamespace,
			Labels:      map[string]string{},
			Annotations: map[string]string{},
		},
	}
}

// build runs the create hooks of the base plugin followed by extra.
func build(t *testing.T, f *fixture, job *api.JobRequest, extra ...plugin.CreateHook) *vol.Job {
	resource := skeleton(job)
	ctx := f.hookContext(job, resource)
	require.NoError(t, NewBase(testConfig()).OnCreate(ctx))
	for _, p := range extra {
		require.NoError(t, p.OnCreate(ctx))
	}
	return resource
}
