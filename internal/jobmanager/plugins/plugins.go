// Package plugins contains the plugins the job manager builds and follows jobs with.
package plugins

import (
	"github.com/pkg/errors"

	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/network"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/proxy"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/store"
)

// Services are the collaborators needed by plugins beyond the dependency bundle.
type Services struct {
	Ingress    *network.IngressService
	NetworkIps store.NetworkIpStore
	Proxy      proxy.Notifier
}

// Build instantiates the plugins named by the configured plugin order, in that order.
func Build(config configuration.Configuration, services Services) ([]plugin.Plugin, error) {
	available := map[string]plugin.Plugin{
		configuration.PluginBase:        NewBase(config),
		configuration.PluginParameters:  NewParameters(config.Storage),
		configuration.PluginMounts:      NewMounts(config.Storage),
		configuration.PluginMultiNode:   NewMultiNode(config.MultiNode),
		configuration.PluginSharedMem:   NewSharedMemory(config),
		configuration.PluginSandbox:     NewSandbox(config.Sandbox),
		configuration.PluginMiscFlags:   NewMiscFlags(config.Security, config.Storage),
		configuration.PluginFairShare:   NewFairShare(config.Application),
		configuration.PluginExpiry:      NewExpiry(config.Application),
		configuration.PluginAccounting:  NewAccounting(),
		configuration.PluginIngress:     NewIngress(services.Ingress, config.Ingress),
		configuration.PluginNetworkIp:   NewNetworkIp(services.NetworkIps),
		configuration.PluginLocalDev:    NewLocalDevelopment(config.LocalDevelopment),
		configuration.PluginProxyNotify: NewProxyNotify(services.Proxy, config.Ingress),
	}

	order := config.Application.EffectivePluginOrder()
	result := make([]plugin.Plugin, 0, len(order))
	for _, name := range order {
		p, ok := available[name]
		if !ok {
			return nil, errors.Errorf("unknown plugin %q", name)
		}
		result = append(result, p)
	}
	return result, nil
}
