package plugins

import (
	"fmt"
	"strings"

	v1 "k8s.io/api/core/v1"

	commonslices "github.com/SDU-eScience/UCloud-sub021/internal/common/slices"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/domain"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
)

const (
	multiNodeVolume    = "ucloud-multinode"
	multiNodeContainer = "ucloud-multinode"
	multiNodeDir       = "/etc/ucloud"
)

// MultiNode gives the replicas of a job a file based way of finding each other. An init container writes into
// /etc/ucloud:
//
//	rank.txt             zero-based rank of this replica
//	number_of_nodes.txt  replica count
//	nodes.txt            hostname of every replica, one per line, ordered by rank
//	node-<i>.txt         hostname of replica i
type MultiNode struct {
	config configuration.MultiNodeConfig
}

func NewMultiNode(config configuration.MultiNodeConfig) *MultiNode {
	return &MultiNode{config: config}
}

func (p *MultiNode) Name() string {
	return configuration.PluginMultiNode
}

func (p *MultiNode) OnCreate(ctx *plugin.HookContext) error {
	task, err := ctx.Task()
	if err != nil {
		return err
	}
	if task.Replicas <= 1 {
		return nil
	}
	containers, err := ctx.Containers()
	if err != nil {
		return err
	}

	r := ctx.Resource
	if r.Spec.Plugins == nil {
		r.Spec.Plugins = map[string][]string{}
	}
	// svc gives every replica the stable hostname <job>-<task>-<index>.<job>
	r.Spec.Plugins["svc"] = []string{}

	hosts := make([]string, 0, task.Replicas)
	for i := 0; i < int(task.Replicas); i++ {
		hosts = append(hosts, fmt.Sprintf("%s-%s-%d.%s", r.Name, task.Name, i, r.Name))
	}

	spec := &task.Template.Spec
	spec.InitContainers = commonslices.RemoveFunc(spec.InitContainers, func(c v1.Container) bool { return c.Name == multiNodeContainer })
	spec.InitContainers = append(spec.InitContainers, v1.Container{
		Name:         multiNodeContainer,
		Image:        p.config.InitImage,
		Command:      []string{"sh", "-c", peerDiscoveryScript(hosts)},
		VolumeMounts: []v1.VolumeMount{{Name: multiNodeVolume, MountPath: multiNodeDir}},
	})
	spec.Volumes = commonslices.RemoveFunc(spec.Volumes, func(v v1.Volume) bool { return v.Name == multiNodeVolume })
	spec.Volumes = append(spec.Volumes, v1.Volume{
		Name:         multiNodeVolume,
		VolumeSource: v1.VolumeSource{EmptyDir: &v1.EmptyDirVolumeSource{}},
	})
	for _, c := range containers {
		c.VolumeMounts = commonslices.RemoveFunc(c.VolumeMounts, func(m v1.VolumeMount) bool { return m.Name == multiNodeVolume })
		c.VolumeMounts = append(c.VolumeMounts, v1.VolumeMount{Name: multiNodeVolume, MountPath: multiNodeDir, ReadOnly: true})
	}
	return nil
}

// peerDiscoveryScript reads the rank from VK_TASK_INDEX, which the volcano env plugin sets on every container.
func peerDiscoveryScript(hosts []string) string {
	var b strings.Builder
	b.WriteString("set -e\n")
	fmt.Fprintf(&b, "echo \"${VK_TASK_INDEX:-0}\" > %s/rank.txt\n", multiNodeDir)
	fmt.Fprintf(&b, "echo %d > %s/number_of_nodes.txt\n", len(hosts), multiNodeDir)
	fmt.Fprintf(&b, ": > %s/nodes.txt\n", multiNodeDir)
	for i, host := range hosts {
		fmt.Fprintf(&b, "echo %s >> %s/nodes.txt\n", host, multiNodeDir)
		fmt.Fprintf(&b, "echo %s > %s/node-%d.txt\n", host, multiNodeDir, i)
	}
	return b.String()
}

// taskIndex returns the rank of a pod belonging to a job.
func taskIndex(pod *v1.Pod) string {
	if index, ok := pod.Labels[domain.VolcanoTaskIndexLabel]; ok {
		return index
	}
	if index, ok := pod.Annotations[domain.VolcanoTaskIndexLabel]; ok {
		return index
	}
	if i := strings.LastIndex(pod.Name, "-"); i >= 0 {
		return pod.Name[i+1:]
	}
	return ""
}
