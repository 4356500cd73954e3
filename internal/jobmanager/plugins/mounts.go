package plugins

import (
	"path"
	"strings"

	"golang.org/x/exp/slices"
	v1 "k8s.io/api/core/v1"

	commonslices "github.com/SDU-eScience/UCloud-sub021/internal/common/slices"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

const dataVolume = "data"

// Mounts exposes the folders and input files of the job, and its output folder, from the shared storage claim.
type Mounts struct {
	config configuration.StorageConfig
}

func NewMounts(config configuration.StorageConfig) *Mounts {
	return &Mounts{config: config}
}

func (p *Mounts) Name() string {
	return configuration.PluginMounts
}

func (p *Mounts) OnCreate(ctx *plugin.HookContext) error {
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

	var mounts []v1.VolumeMount
	for _, m := range uniqueMounts(append(slices.Clone(job.Mounts), job.InputFiles...)) {
		normalized := normalizeStoragePath(m.Path)
		mounts = append(mounts, v1.VolumeMount{
			Name:      dataVolume,
			MountPath: path.Join(p.config.MountRoot, path.Base(normalized)),
			SubPath:   p.subPath(normalized),
			ReadOnly:  m.ReadOnly,
		})
	}
	if job.OutputFolder != "" {
		mounts = append(mounts, v1.VolumeMount{
			Name:      dataVolume,
			MountPath: p.config.MountRoot,
			SubPath:   p.subPath(normalizeStoragePath(job.OutputFolder)),
		})
	}

	for _, c := range containers {
		c.VolumeMounts = append(commonslices.RemoveFunc(c.VolumeMounts, func(m v1.VolumeMount) bool { return m.Name == dataVolume }), mounts...)
	}
	podSpec.Volumes = commonslices.RemoveFunc(podSpec.Volumes, func(v v1.Volume) bool { return v.Name == dataVolume })
	podSpec.Volumes = append(podSpec.Volumes, v1.Volume{
		Name: dataVolume,
		VolumeSource: v1.VolumeSource{
			PersistentVolumeClaim: &v1.PersistentVolumeClaimVolumeSource{ClaimName: p.config.ClaimName},
		},
	})
	return nil
}

func (p *Mounts) subPath(normalized string) string {
	return strings.TrimPrefix(path.Join(p.config.SubFolder, normalized), "/")
}

// uniqueMounts keeps one mount per normalized path. The last mount of a path wins, at the position of the first.
func uniqueMounts(mounts []api.Mount) []api.Mount {
	index := map[string]int{}
	var result []api.Mount
	for _, m := range mounts {
		key := normalizeStoragePath(m.Path)
		if i, ok := index[key]; ok {
			result[i] = m
			continue
		}
		index[key] = len(result)
		result = append(result, m)
	}
	return result
}

// normalizeStoragePath cleans p and makes it relative to the storage root. ".." can not escape the root.
func normalizeStoragePath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
