package orchestrator

import (
	"github.com/pkg/errors"

	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
)

// Registry is the ordered list of plugins. Every hook is dispatched in registration order.
type Registry struct {
	plugins []plugin.Plugin
}

// NewRegistry fails unless the base plugin comes first and every plugin is registered once.
func NewRegistry(plugins []plugin.Plugin) (*Registry, error) {
	if len(plugins) == 0 || plugins[0].Name() != configuration.PluginBase {
		return nil, errors.Errorf("the %s plugin must be registered first", configuration.PluginBase)
	}
	seen := map[string]bool{}
	for _, p := range plugins {
		if seen[p.Name()] {
			return nil, errors.Errorf("plugin %s is registered twice", p.Name())
		}
		seen[p.Name()] = true
	}
	return &Registry{plugins: plugins}, nil
}

func (r *Registry) Names() []string {
	result := make([]string, 0, len(r.plugins))
	for _, p := range r.plugins {
		result = append(result, p.Name())
	}
	return result
}

type namedHook[T any] struct {
	name string
	hook T
}

func hooksOf[T any](r *Registry) []namedHook[T] {
	var result []namedHook[T]
	for _, p := range r.plugins {
		if hook, ok := p.(T); ok {
			result = append(result, namedHook[T]{name: p.Name(), hook: hook})
		}
	}
	return result
}
