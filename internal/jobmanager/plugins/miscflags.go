package plugins

import (
	v1 "k8s.io/api/core/v1"
	"k8s.io/utils/pointer"

	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
)

type MiscFlags struct {
	security  configuration.SecurityConfig
	mountRoot string
}

func NewMiscFlags(security configuration.SecurityConfig, storage configuration.StorageConfig) *MiscFlags {
	return &MiscFlags{security: security, mountRoot: storage.MountRoot}
}

func (p *MiscFlags) Name() string {
	return configuration.PluginMiscFlags
}

func (p *MiscFlags) OnCreate(ctx *plugin.HookContext) error {
	job, err := ctx.RequireJob()
	if err != nil {
		return err
	}
	podSpec, err := ctx.PodSpec()
	if err != nil {
		return err
	}
	containers, err := ctx.Containers()
	if err != nil {
		return err
	}

	// Volcano decides what happens to failed replicas
	podSpec.RestartPolicy = v1.RestartPolicyNever
	podSpec.AutomountServiceAccountToken = pointer.Bool(false)

	for _, c := range containers {
		if p.security.WorkingDirectoryAtMountRoot {
			c.WorkingDir = p.mountRoot
		}
		if job.Application.RequiresRoot {
			continue
		}
		securityContext := &v1.SecurityContext{
			RunAsNonRoot:             pointer.Bool(true),
			AllowPrivilegeEscalation: pointer.Bool(false),
		}
		if p.security.NonRootUid > 0 {
			securityContext.RunAsUser = pointer.Int64(p.security.NonRootUid)
			securityContext.RunAsGroup = pointer.Int64(p.security.NonRootUid)
		}
		c.SecurityContext = securityContext
	}
	return nil
}
