package plugins

import (
	"sync"

	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/domain"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/proxy"
)

// ProxyNotify tells the gateway where the ingress of a job lives once its first replica has an address, and that the
// route is gone when the job is cleaned up.
type ProxyNotify struct {
	notifier proxy.Notifier
	port     int32

	mutex sync.Mutex
	// Last route announced per job id
	announced map[string]proxy.Route
}

func NewProxyNotify(notifier proxy.Notifier, ingress configuration.IngressConfig) *ProxyNotify {
	return &ProxyNotify{
		notifier:  notifier,
		port:      ingress.Port,
		announced: map[string]proxy.Route{},
	}
}

func (p *ProxyNotify) Name() string {
	return configuration.PluginProxyNotify
}

func (p *ProxyNotify) OnPodEvent(ctx *plugin.HookContext, eventType watch.EventType, pod *v1.Pod) error {
	if eventType == watch.Deleted {
		return nil
	}
	jobId, ok := domain.JobId(pod.Labels)
	if !ok {
		return nil
	}
	ingress := pod.Annotations[domain.AnnotationIngress]
	if ingress == "" || taskIndex(pod) != "0" {
		return nil
	}
	if pod.Status.Phase != v1.PodRunning || pod.Status.PodIP == "" {
		return nil
	}

	route := proxy.Route{
		Action:  proxy.ActionAdd,
		Domain:  ingress,
		JobId:   jobId,
		Address: pod.Status.PodIP,
		Port:    p.port,
	}
	p.mutex.Lock()
	previous, known := p.announced[jobId]
	p.mutex.Unlock()
	if known && previous == route {
		return nil
	}

	if err := p.notifier.Notify(ctx, route); err != nil {
		return err
	}
	p.mutex.Lock()
	p.announced[jobId] = route
	p.mutex.Unlock()
	return nil
}

func (p *ProxyNotify) OnCleanup(ctx *plugin.HookContext) error {
	p.mutex.Lock()
	previous, known := p.announced[ctx.JobId]
	p.mutex.Unlock()

	ingress := previous.Domain
	if ctx.Resource != nil && ctx.Resource.Annotations[domain.AnnotationIngress] != "" {
		ingress = ctx.Resource.Annotations[domain.AnnotationIngress]
	}
	if !known && ingress == "" {
		return nil
	}

	err := p.notifier.Notify(ctx, proxy.Route{Action: proxy.ActionRemove, Domain: ingress, JobId: ctx.JobId})
	if err != nil {
		return err
	}
	p.mutex.Lock()
	delete(p.announced, ctx.JobId)
	p.mutex.Unlock()
	return nil
}
