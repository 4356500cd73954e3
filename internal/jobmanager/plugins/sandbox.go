package plugins

import (
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/domain"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
)

const minimumSandboxCpuMillis = 1000

// Sandbox runs sandboxed jobs under a hypervisor runtime. The runtime itself costs cpu and memory, which is taken
// out of what the container may use so the job still fits the reserved machine.
type Sandbox struct {
	config configuration.SandboxConfig
}

func NewSandbox(config configuration.SandboxConfig) *Sandbox {
	return &Sandbox{config: config}
}

func (p *Sandbox) Name() string {
	return configuration.PluginSandbox
}

func (p *Sandbox) OnCreate(ctx *plugin.HookContext) error {
	job, err := ctx.RequireJob()
	if err != nil {
		return err
	}
	if !job.Sandboxed {
		return nil
	}
	containers, err := ctx.Containers()
	if err != nil {
		return err
	}
	task, err := ctx.Task()
	if err != nil {
		return err
	}

	// The annotation marks limits which have already been reduced
	if _, done := ctx.Resource.Annotations[domain.AnnotationSandbox]; done {
		return nil
	}

	for _, c := range containers {
		p.shrink(c.Resources.Limits)
		p.shrink(c.Resources.Requests)
	}

	ctx.Resource.Annotations[domain.AnnotationSandbox] = "true"
	if task.Template.Annotations == nil {
		task.Template.Annotations = map[string]string{}
	}
	task.Template.Annotations[domain.AnnotationSandbox] = "true"
	if p.config.RuntimeClassName != "" {
		name := p.config.RuntimeClassName
		task.Template.Spec.RuntimeClassName = &name
	}
	return nil
}

func (p *Sandbox) shrink(resources v1.ResourceList) {
	if resources == nil {
		return
	}
	if cpu, ok := resources[v1.ResourceCPU]; ok {
		millis := cpu.MilliValue() - p.config.CpuOverheadMillis
		if millis < minimumSandboxCpuMillis {
			millis = minimumSandboxCpuMillis
		}
		resources[v1.ResourceCPU] = *resource.NewMilliQuantity(millis, resource.DecimalSI)
	}
	if memory, ok := resources[v1.ResourceMemory]; ok {
		memory.Sub(p.config.MemoryOverhead)
		if memory.Cmp(p.config.MinimumMemory) < 0 {
			memory = p.config.MinimumMemory.DeepCopy()
		}
		resources[v1.ResourceMemory] = memory
	}
}
