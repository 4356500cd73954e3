package plugins

import (
	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"

	commonslices "github.com/SDU-eScience/UCloud-sub021/internal/common/slices"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/uclouderrors"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/domain"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/network"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
)

const ingressPortName = "ingress"

// Ingress binds a previously created ingress domain to the job. The proxy plugin later routes the domain to the
// first replica.
type Ingress struct {
	service *network.IngressService
	port    int32
}

func NewIngress(service *network.IngressService, config configuration.IngressConfig) *Ingress {
	return &Ingress{service: service, port: config.Port}
}

func (p *Ingress) Name() string {
	return configuration.PluginIngress
}

func (p *Ingress) OnCreate(ctx *plugin.HookContext) error {
	job, err := ctx.RequireJob()
	if err != nil {
		return err
	}
	if len(job.Ingress) == 0 {
		return nil
	}
	if len(job.Ingress) > 1 {
		return errors.WithStack(&uclouderrors.ErrInvalidArgument{
			Name:    "ingress",
			Value:   job.Ingress,
			Message: "a job can use at most one ingress",
		})
	}
	if job.Replicas > 1 {
		return errors.WithStack(&uclouderrors.ErrInvalidArgument{
			Name:    "ingress",
			Value:   job.Ingress[0],
			Message: "ingress is not supported for jobs with more than one replica",
		})
	}
	task, err := ctx.Task()
	if err != nil {
		return err
	}
	containers, err := ctx.Containers()
	if err != nil {
		return err
	}

	ingress, err := p.service.Bind(ctx, job.Owner, job.Ingress[0], job.Id)
	if err != nil {
		return err
	}

	ctx.Resource.Annotations[domain.AnnotationIngress] = ingress.Domain
	if task.Template.Annotations == nil {
		task.Template.Annotations = map[string]string{}
	}
	task.Template.Annotations[domain.AnnotationIngress] = ingress.Domain

	user := containers[0]
	user.Ports = commonslices.RemoveFunc(user.Ports, func(port v1.ContainerPort) bool { return port.Name == ingressPortName })
	user.Ports = append(user.Ports, v1.ContainerPort{Name: ingressPortName, ContainerPort: p.port, Protocol: v1.ProtocolTCP})
	return nil
}

func (p *Ingress) OnCleanup(ctx *plugin.HookContext) error {
	return p.service.Unbind(ctx, ctx.JobId)
}
