package plugins

import (
	"fmt"

	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	vol "volcano.sh/apis/pkg/apis/batch/v1alpha1"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/uclouderrors"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/domain"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
)

const gpuResource v1.ResourceName = "nvidia.com/gpu"

// Base creates the single task and the user container of the job. Every other create hook depends on it.
type Base struct {
	config configuration.Configuration
}

func NewBase(config configuration.Configuration) *Base {
	return &Base{config: config}
}

func (p *Base) Name() string {
	return configuration.PluginBase
}

func (p *Base) OnCreate(ctx *plugin.HookContext) error {
	job, err := ctx.RequireJob()
	if err != nil {
		return err
	}
	machine, err := p.config.Resolve(job.Reservation)
	if err != nil {
		return errors.WithStack(&uclouderrors.ErrInvalidArgument{
			Name:    "reservation.product",
			Value:   job.Reservation.Product,
			Message: err.Error(),
		})
	}
	replicas := job.Replicas
	if replicas < 1 {
		replicas = 1
	}

	r := ctx.Resource
	if r.Labels == nil {
		r.Labels = map[string]string{}
	}
	if r.Annotations == nil {
		r.Annotations = map[string]string{}
	}
	r.Annotations[domain.AnnotationProduct] = job.Reservation.Product
	podLabels := map[string]string{}
	for k, v := range domain.JobLabels(job) {
		r.Labels[k] = v
		podLabels[k] = v
	}

	r.Spec.SchedulerName = p.config.Application.SchedulerName
	r.Spec.Queue = p.config.Application.Queue
	r.Spec.MinAvailable = replicas
	r.Spec.MaxRetry = 0
	r.Spec.Plugins = map[string][]string{"env": {}}

	container := v1.Container{
		Name:      domain.ContainerName,
		Image:     job.Application.Image,
		Resources: machineResources(machine),
	}
	podSpec := v1.PodSpec{Containers: []v1.Container{container}}
	if t := p.config.Toleration; t != nil {
		podSpec.Tolerations = append(podSpec.Tolerations, v1.Toleration{
			Key:      t.Key,
			Operator: v1.TolerationOpEqual,
			Value:    t.Value,
			Effect:   v1.TaintEffectNoSchedule,
		})
	}

	r.Spec.Tasks = []vol.TaskSpec{{
		Name:     domain.TaskName,
		Replicas: replicas,
		Template: v1.PodTemplateSpec{
			ObjectMeta: metav1.ObjectMeta{
				Labels:      podLabels,
				Annotations: map[string]string{},
			},
			Spec: podSpec,
		},
	}}
	return nil
}

func machineResources(machine configuration.Machine) v1.ResourceRequirements {
	quantities := v1.ResourceList{
		v1.ResourceCPU:    *resource.NewMilliQuantity(int64(machine.Cpu)*1000, resource.DecimalSI),
		v1.ResourceMemory: resource.MustParse(fmt.Sprintf("%dGi", machine.MemoryGb)),
	}
	if machine.Gpu > 0 {
		quantities[gpuResource] = *resource.NewQuantity(int64(machine.Gpu), resource.DecimalSI)
	}
	return v1.ResourceRequirements{
		Requests: quantities,
		Limits:   quantities.DeepCopy(),
	}
}
