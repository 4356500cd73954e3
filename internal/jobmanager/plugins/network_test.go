package plugins

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	v1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	clienttesting "k8s.io/client-go/testing"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/uclouderrors"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/domain"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/network"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/proxy"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/store"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

func TestFairShare(t *testing.T) {
	namespaces := schema.GroupResource{Resource: "namespaces"}
	tests := map[string]struct {
		enabled     bool
		createError error
		expectError bool
		expectNs    bool
	}{
		"disabled":         {},
		"created":          {enabled: true, expectNs: true},
		"already exists":   {enabled: true, createError: k8serrors.NewAlreadyExists(namespaces, "app-p-p1")},
		"conflict":         {enabled: true, createError: k8serrors.NewConflict(namespaces, "app-p-p1", nil)},
		"bad request":      {enabled: true, createError: k8serrors.NewBadRequest("terminating")},
		"not found":        {enabled: true, createError: k8serrors.NewNotFound(namespaces, "app-p-p1")},
		"forbidden":        {enabled: true, createError: k8serrors.NewForbidden(namespaces, "app-p-p1", nil), expectError: true},
		"persistent error": {enabled: true, createError: k8serrors.NewInternalError(nil), expectError: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			if tc.createError != nil {
				f.kube.PrependReactor("create", "namespaces", func(clienttesting.Action) (bool, runtime.Object, error) {
					return true, nil, tc.createError
				})
			}
			application := testConfig().Application
			application.FairShare = tc.enabled

			job := testJob()
			resource := skeleton(job)
			resource.Namespace = "app-p-p1"
			err := NewFairShare(application).OnCreate(f.hookContext(job, resource))
			if tc.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			_, err = f.kube.CoreV1().Namespaces().Get(context.Background(), "app-p-p1", metav1.GetOptions{})
			assert.Equal(t, tc.expectNs, err == nil)
			if !tc.enabled {
				assert.Empty(t, f.kube.Actions())
			}
		})
	}
}

func newIngressPlugin(t *testing.T) (*Ingress, *network.IngressService, *store.MemoryStore) {
	config := testConfig()
	s := store.NewMemoryStore()
	service := newIngressService(config, s)
	_, err := service.Create(context.Background(), api.Owner{CreatedBy: "alice", Project: "p1"}, "my-app.example")
	require.NoError(t, err)
	return NewIngress(service, config.Ingress), service, s
}

func TestIngress(t *testing.T) {
	p, _, s := newIngressPlugin(t)
	f := newFixture(t)
	job := testJob()
	job.Ingress = []string{"My-App.example"}

	resource := build(t, f, job, p, p)
	assert.Equal(t, "my-app.example", resource.Annotations[domain.AnnotationIngress])
	task := resource.Spec.Tasks[0]
	assert.Equal(t, "my-app.example", task.Template.Annotations[domain.AnnotationIngress])
	assert.Equal(t, []v1.ContainerPort{{Name: ingressPortName, ContainerPort: 80, Protocol: v1.ProtocolTCP}},
		task.Template.Spec.Containers[0].Ports)

	ingress, err := s.GetIngress(context.Background(), "my-app.example")
	require.NoError(t, err)
	assert.Equal(t, "1", ingress.BoundTo)

	require.NoError(t, p.OnCleanup(f.hookContext(job, nil)))
	ingress, err = s.GetIngress(context.Background(), "my-app.example")
	require.NoError(t, err)
	assert.Empty(t, ingress.BoundTo)
}

func TestIngress_Rejected(t *testing.T) {
	tests := map[string]struct {
		ingress  []string
		replicas int32
		owner    api.Owner
		status   int
	}{
		"two ingresses":     {ingress: []string{"my-app.example", "other.example"}, replicas: 1, status: 400},
		"multiple replicas": {ingress: []string{"my-app.example"}, replicas: 2, status: 400},
		"other owner":       {ingress: []string{"my-app.example"}, replicas: 1, owner: api.Owner{CreatedBy: "bob"}, status: 404},
		"unknown domain":    {ingress: []string{"unknown.example"}, replicas: 1, status: 404},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			p, _, _ := newIngressPlugin(t)
			f := newFixture(t)
			job := testJob()
			job.Ingress = tc.ingress
			job.Replicas = tc.replicas
			if tc.owner.CreatedBy != "" {
				job.Owner = tc.owner
			}
			resource := build(t, f, job)

			err := p.OnCreate(f.hookContext(job, resource))
			assert.Equal(t, tc.status, uclouderrors.HttpStatusFromError(err))
			assert.NotContains(t, resource.Annotations, domain.AnnotationIngress)
		})
	}
}

func newNetworkIpStore(t *testing.T) *store.MemoryStore {
	s := store.NewMemoryStore()
	require.NoError(t, s.InsertNetworkIps(context.Background(), []store.NetworkIp{
		{Id: "ip-1", Address: "10.135.0.7", Owner: api.Owner{CreatedBy: "alice", Project: "p1"}},
		{Id: "ip-2", Address: "10.135.0.8", Owner: api.Owner{CreatedBy: "bob"}},
	}))
	return s
}

func TestNetworkIp(t *testing.T) {
	s := newNetworkIpStore(t)
	p := NewNetworkIp(s)
	f := newFixture(t)
	job := testJob()
	job.NetworkIps = []api.NetworkIpRequest{{
		Id: "ip-1",
		Ports: []api.PortRange{
			{Start: 8000, End: 8001, Protocol: "TCP"},
			{Start: 53, End: 53, Protocol: "udp"},
		},
	}}

	resource := build(t, f, job, p)
	assert.JSONEq(t,
		`[{"id":"ip-1","address":"10.135.0.7","ports":[{"start":8000,"end":8001,"protocol":"TCP"},{"start":53,"end":53,"protocol":"udp"}]}]`,
		resource.Annotations[domain.AnnotationNetworkIps])
	ip, err := s.GetNetworkIp(context.Background(), "ip-1")
	require.NoError(t, err)
	assert.Equal(t, "1", ip.BoundTo)

	ctx := f.hookContext(job, resource)
	require.NoError(t, p.OnJobStart(ctx))
	require.NoError(t, p.OnJobStart(ctx))

	service, err := f.kube.CoreV1().Services(testNamespace).Get(context.Background(), "j-1-ip", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"10.135.0.7"}, service.Spec.ExternalIPs)
	assert.Equal(t, map[string]string{domain.VolcanoJobNameLabel: "j-1"}, service.Spec.Selector)
	require.Len(t, service.Spec.Ports, 3)
	assert.Equal(t, "tcp-8000", service.Spec.Ports[0].Name)
	assert.Equal(t, int32(8001), service.Spec.Ports[1].Port)
	assert.Equal(t, v1.ProtocolUDP, service.Spec.Ports[2].Protocol)

	require.NoError(t, p.OnCleanup(ctx))
	require.NoError(t, p.OnCleanup(ctx))
	_, err = f.kube.CoreV1().Services(testNamespace).Get(context.Background(), "j-1-ip", metav1.GetOptions{})
	assert.True(t, k8serrors.IsNotFound(err))
	ip, err = s.GetNetworkIp(context.Background(), "ip-1")
	require.NoError(t, err)
	assert.Empty(t, ip.BoundTo)
}

func TestNetworkIp_Rejected(t *testing.T) {
	tests := map[string]struct {
		request api.NetworkIpRequest
		status  int
	}{
		"other owner": {request: api.NetworkIpRequest{Id: "ip-2"}, status: 404},
		"unknown":     {request: api.NetworkIpRequest{Id: "ip-3"}, status: 404},
		"bad ports":   {request: api.NetworkIpRequest{Id: "ip-1", Ports: []api.PortRange{{Start: 90, End: 80}}}, status: 400},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s := newNetworkIpStore(t)
			f := newFixture(t)
			job := testJob()
			job.NetworkIps = []api.NetworkIpRequest{tc.request}
			resource := build(t, f, job)

			err := NewNetworkIp(s).OnCreate(f.hookContext(job, resource))
			assert.Equal(t, tc.status, uclouderrors.HttpStatusFromError(err))
			ip, err := s.GetNetworkIp(context.Background(), "ip-1")
			require.NoError(t, err)
			assert.Empty(t, ip.BoundTo)
		})
	}
}

func TestLocalDevelopment(t *testing.T) {
	f := newFixture(t)
	job := testJob()
	resource := build(t, f, job)
	ctx := f.hookContext(job, resource)
	p := NewLocalDevelopment(testConfig().LocalDevelopment)

	require.NoError(t, p.OnJobStart(ctx))
	service, err := f.kube.CoreV1().Services(testNamespace).Get(context.Background(), "j-1-mk", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, v1.ServiceTypeLoadBalancer, service.Spec.Type)
	assert.Equal(t, int32(8080), service.Spec.Ports[0].Port)

	require.NoError(t, p.OnCleanup(ctx))
	require.NoError(t, p.OnCleanup(ctx))
	_, err = f.kube.CoreV1().Services(testNamespace).Get(context.Background(), "j-1-mk", metav1.GetOptions{})
	assert.True(t, k8serrors.IsNotFound(err))
}

func TestLocalDevelopment_Disabled(t *testing.T) {
	f := newFixture(t)
	job := testJob()
	resource := build(t, f, job)

	p := NewLocalDevelopment(configuration.LocalDevelopmentConfig{})
	require.NoError(t, p.OnJobStart(f.hookContext(job, resource)))
	assert.Empty(t, f.kube.Actions())
}

type recordingNotifier struct {
	mutex  sync.Mutex
	routes []proxy.Route
}

func (n *recordingNotifier) Notify(_ context.Context, route proxy.Route) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.routes = append(n.routes, route)
	return nil
}

func ingressPod(name string, index string, ip string, phase v1.PodPhase) *v1.Pod {
	return &v1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   testNamespace,
			Labels:      map[string]string{domain.LabelJobId: "1", domain.VolcanoJobNameLabel: "j-1"},
			Annotations: map[string]string{domain.AnnotationIngress: "my-app.example", domain.VolcanoTaskIndexLabel: index},
		},
		Status: v1.PodStatus{Phase: phase, PodIP: ip},
	}
}

func TestProxyNotify(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{}
	p := NewProxyNotify(notifier, testConfig().Ingress)
	ctx := f.hookContext(nil, nil)
	ctx.JobId = "1"

	require.NoError(t, p.OnPodEvent(ctx, watch.Added, ingressPod("j-1-job-0", "0", "", v1.PodPending)))
	require.NoError(t, p.OnPodEvent(ctx, watch.Modified, ingressPod("j-1-job-0", "0", "10.0.0.5", v1.PodRunning)))
	require.NoError(t, p.OnPodEvent(ctx, watch.Modified, ingressPod("j-1-job-0", "0", "10.0.0.5", v1.PodRunning)))
	require.NoError(t, p.OnPodEvent(ctx, watch.Modified, ingressPod("j-1-job-1", "1", "10.0.0.6", v1.PodRunning)))
	require.NoError(t, p.OnPodEvent(ctx, watch.Modified, ingressPod("j-1-job-0", "0", "10.0.0.9", v1.PodRunning)))
	require.NoError(t, p.OnPodEvent(ctx, watch.Deleted, ingressPod("j-1-job-0", "0", "10.0.0.9", v1.PodRunning)))

	require.NoError(t, p.OnCleanup(ctx))
	require.NoError(t, p.OnCleanup(ctx))

	assert.Equal(t, []proxy.Route{
		{Action: proxy.ActionAdd, Domain: "my-app.example", JobId: "1", Address: "10.0.0.5", Port: 80},
		{Action: proxy.ActionAdd, Domain: "my-app.example", JobId: "1", Address: "10.0.0.9", Port: 80},
		{Action: proxy.ActionRemove, Domain: "my-app.example", JobId: "1"},
	}, notifier.routes)
}

func TestProxyNotify_IgnoresPodsWithoutIngress(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{}
	p := NewProxyNotify(notifier, testConfig().Ingress)

	pod := ingressPod("j-1-job-0", "0", "10.0.0.5", v1.PodRunning)
	delete(pod.Annotations, domain.AnnotationIngress)
	require.NoError(t, p.OnPodEvent(f.hookContext(nil, nil), watch.Modified, pod))
	assert.Empty(t, notifier.routes)
}

func TestTaskIndex(t *testing.T) {
	assert.Equal(t, "2", taskIndex(&v1.Pod{ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{domain.VolcanoTaskIndexLabel: "2"}}}))
	assert.Equal(t, "1", taskIndex(&v1.Pod{ObjectMeta: metav1.ObjectMeta{Annotations: map[string]string{domain.VolcanoTaskIndexLabel: "1"}}}))
	assert.Equal(t, "0", taskIndex(&v1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "j-1-job-0"}}))
}
