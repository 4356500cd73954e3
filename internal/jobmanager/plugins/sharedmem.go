package plugins

import (
	"fmt"

	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	commonslices "github.com/SDU-eScience/UCloud-sub021/internal/common/slices"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
)

const shmVolume = "shm"

// SharedMemory replaces the small default /dev/shm with a memory backed volume as large as the reservation.
type SharedMemory struct {
	config configuration.Configuration
}

func NewSharedMemory(config configuration.Configuration) *SharedMemory {
	return &SharedMemory{config: config}
}

func (p *SharedMemory) Name() string {
	return configuration.PluginSharedMem
}

func (p *SharedMemory) OnCreate(ctx *plugin.HookContext) error {
	job, err := ctx.RequireJob()
	if err != nil {
		return err
	}
	containers, err := ctx.Containers()
	if err != nil {
		return err
	}
	podSpec, err := ctx.PodSpec()
	if err != nil {
		return err
	}

	memoryGb := 1
	if machine, err := p.config.Resolve(job.Reservation); err == nil && machine.MemoryGb > 0 {
		memoryGb = machine.MemoryGb
	}
	size := resource.MustParse(fmt.Sprintf("%dGi", memoryGb))

	podSpec.Volumes = commonslices.RemoveFunc(podSpec.Volumes, func(v v1.Volume) bool { return v.Name == shmVolume })
	podSpec.Volumes = append(podSpec.Volumes, v1.Volume{
		Name: shmVolume,
		VolumeSource: v1.VolumeSource{
			EmptyDir: &v1.EmptyDirVolumeSource{Medium: v1.StorageMediumMemory, SizeLimit: &size},
		},
	})
	for _, c := range containers {
		c.VolumeMounts = commonslices.RemoveFunc(c.VolumeMounts, func(m v1.VolumeMount) bool { return m.Name == shmVolume })
		c.VolumeMounts = append(c.VolumeMounts, v1.VolumeMount{Name: shmVolume, MountPath: "/dev/shm"})
	}
	return nil
}
