package plugins

import (
	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/domain"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
)

// LocalDevelopment exposes every running job through a load balancer, for clusters without the UCloud gateway.
type LocalDevelopment struct {
	config configuration.LocalDevelopmentConfig
}

func NewLocalDevelopment(config configuration.LocalDevelopmentConfig) *LocalDevelopment {
	return &LocalDevelopment{config: config}
}

func (p *LocalDevelopment) Name() string {
	return configuration.PluginLocalDev
}

func (p *LocalDevelopment) OnJobStart(ctx *plugin.HookContext) error {
	if !p.config.Enabled {
		return nil
	}
	job := ctx.Resource
	service := &v1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      localDevServiceName(job.Name),
			Namespace: job.Namespace,
			Labels:    map[string]string{domain.LabelJobId: ctx.JobId},
		},
		Spec: v1.ServiceSpec{
			Type:     v1.ServiceTypeLoadBalancer,
			Selector: map[string]string{domain.VolcanoJobNameLabel: job.Name},
			Ports: []v1.ServicePort{{
				Name:       "web",
				Protocol:   v1.ProtocolTCP,
				Port:       p.config.Port,
				TargetPort: intstr.FromInt(int(p.config.Port)),
			}},
		},
	}
	_, err := ctx.Deps.Kube.CoreV1().Services(job.Namespace).Create(ctx, service, metav1.CreateOptions{})
	if err != nil && !k8serrors.IsAlreadyExists(err) {
		return errors.Wrapf(err, "creating service %s/%s", job.Namespace, service.Name)
	}
	ctx.Log.Infof("Job %s is exposed through load balancer %s/%s", ctx.JobId, job.Namespace, service.Name)
	return nil
}

func (p *LocalDevelopment) OnCleanup(ctx *plugin.HookContext) error {
	if !p.config.Enabled || ctx.Resource == nil {
		return nil
	}
	job := ctx.Resource
	err := ctx.Deps.Kube.CoreV1().Services(job.Namespace).Delete(ctx, localDevServiceName(job.Name), metav1.DeleteOptions{})
	if err != nil && !k8serrors.IsNotFound(err) {
		return errors.Wrapf(err, "deleting load balancer of %s/%s", job.Namespace, job.Name)
	}
	return nil
}

func localDevServiceName(jobName string) string {
	return jobName + "-mk"
}
