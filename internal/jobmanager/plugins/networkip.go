package plugins

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/uclouderrors"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/domain"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/store"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

// boundIp is what the network ip annotation holds for every address bound to a job.
type boundIp struct {
	Id      string          `json:"id"`
	Address string          `json:"address"`
	Ports   []api.PortRange `json:"ports"`
}

// NetworkIp binds public IP addresses owned by the job's owner to the job, and exposes the job on those addresses
// through a service once it runs.
type NetworkIp struct {
	ips store.NetworkIpStore
}

func NewNetworkIp(ips store.NetworkIpStore) *NetworkIp {
	return &NetworkIp{ips: ips}
}

func (p *NetworkIp) Name() string {
	return configuration.PluginNetworkIp
}

func (p *NetworkIp) OnCreate(ctx *plugin.HookContext) error {
	job, err := ctx.RequireJob()
	if err != nil {
		return err
	}
	if len(job.NetworkIps) == 0 {
		return nil
	}

	bound := make([]boundIp, 0, len(job.NetworkIps))
	for _, request := range job.NetworkIps {
		ip, err := p.ips.GetNetworkIp(ctx, request.Id)
		if err != nil {
			return err
		}
		if !ip.Owner.Permits(job.Owner) {
			return errors.WithStack(&uclouderrors.ErrNotFound{Type: "network ip", Value: request.Id})
		}
		for _, ports := range request.Ports {
			if ports.Start <= 0 || ports.End < ports.Start || ports.End > 65535 {
				return errors.WithStack(&uclouderrors.ErrInvalidArgument{
					Name:    "networkIps.ports",
					Value:   fmt.Sprintf("%d-%d", ports.Start, ports.End),
					Message: "port ranges must lie within 1-65535",
				})
			}
		}
		if err := p.ips.BindNetworkIp(ctx, ip.Id, job.Id); err != nil {
			return err
		}
		bound = append(bound, boundIp{Id: ip.Id, Address: ip.Address, Ports: request.Ports})
	}

	data, err := json.Marshal(bound)
	if err != nil {
		return errors.WithStack(err)
	}
	ctx.Resource.Annotations[domain.AnnotationNetworkIps] = string(data)
	return nil
}

func (p *NetworkIp) OnJobStart(ctx *plugin.HookContext) error {
	job := ctx.Resource
	raw, ok := job.Annotations[domain.AnnotationNetworkIps]
	if !ok {
		return nil
	}
	var bound []boundIp
	if err := json.Unmarshal([]byte(raw), &bound); err != nil {
		return errors.Wrapf(err, "annotation %s of %s/%s", domain.AnnotationNetworkIps, job.Namespace, job.Name)
	}

	service := &v1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      networkIpServiceName(job.Name),
			Namespace: job.Namespace,
			Labels:    map[string]string{domain.LabelJobId: ctx.JobId},
		},
		Spec: v1.ServiceSpec{
			Type:     v1.ServiceTypeClusterIP,
			Selector: map[string]string{domain.VolcanoJobNameLabel: job.Name},
		},
	}
	seen := map[string]bool{}
	for _, ip := range bound {
		service.Spec.ExternalIPs = append(service.Spec.ExternalIPs, ip.Address)
		for _, ports := range ip.Ports {
			protocol := serviceProtocol(ports.Protocol)
			for port := ports.Start; port <= ports.End; port++ {
				name := fmt.Sprintf("%s-%d", strings.ToLower(string(protocol)), port)
				if seen[name] {
					continue
				}
				seen[name] = true
				service.Spec.Ports = append(service.Spec.Ports, v1.ServicePort{
					Name:       name,
					Protocol:   protocol,
					Port:       port,
					TargetPort: intstr.FromInt(int(port)),
				})
			}
		}
	}
	if len(service.Spec.Ports) == 0 {
		return nil
	}

	_, err := ctx.Deps.Kube.CoreV1().Services(job.Namespace).Create(ctx, service, metav1.CreateOptions{})
	if err != nil && !k8serrors.IsAlreadyExists(err) {
		return errors.Wrapf(err, "creating service %s/%s", job.Namespace, service.Name)
	}
	return nil
}

func (p *NetworkIp) OnCleanup(ctx *plugin.HookContext) error {
	if job := ctx.Resource; job != nil {
		if _, ok := job.Annotations[domain.AnnotationNetworkIps]; ok {
			err := ctx.Deps.Kube.CoreV1().Services(job.Namespace).Delete(ctx, networkIpServiceName(job.Name), metav1.DeleteOptions{})
			if err != nil && !k8serrors.IsNotFound(err) {
				return errors.Wrapf(err, "deleting service of %s/%s", job.Namespace, job.Name)
			}
		}
	}
	return p.ips.UnbindNetworkIps(ctx, ctx.JobId)
}

func networkIpServiceName(jobName string) string {
	return jobName + "-ip"
}

func serviceProtocol(protocol string) v1.Protocol {
	if strings.EqualFold(protocol, "udp") {
		return v1.ProtocolUDP
	}
	return v1.ProtocolTCP
}
