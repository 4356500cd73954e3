package plugins

import (
	"path"
	"strconv"

	"golang.org/x/exp/slices"
	v1 "k8s.io/api/core/v1"

	commonslices "github.com/SDU-eScience/UCloud-sub021/internal/common/slices"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

// Parameters renders the invocation and the environment of the application against the parameters of the job.
type Parameters struct {
	mountRoot string
}

func NewParameters(storage configuration.StorageConfig) *Parameters {
	return &Parameters{mountRoot: storage.MountRoot}
}

func (p *Parameters) Name() string {
	return configuration.PluginParameters
}

func (p *Parameters) OnCreate(ctx *plugin.HookContext) error {
	job, err := ctx.RequireJob()
	if err != nil {
		return err
	}
	containers, err := ctx.Containers()
	if err != nil {
		return err
	}

	var command []string
	for _, fragment := range job.Application.Invocation {
		if value, ok := p.render(fragment, job.Parameters); ok {
			command = append(command, value)
		}
	}

	names := sortedKeys(job.Application.Environment)
	var env []v1.EnvVar
	for _, name := range names {
		if value, ok := p.render(job.Application.Environment[name], job.Parameters); ok {
			env = append(env, v1.EnvVar{Name: name, Value: value})
		}
	}

	for _, c := range containers {
		c.Command = command
		c.Env = append(commonslices.RemoveFunc(c.Env, func(e v1.EnvVar) bool { return slices.Contains(names, e.Name) }), env...)
	}
	return nil
}

// render returns the text of a single fragment. ok is false if the fragment renders to nothing.
func (p *Parameters) render(fragment api.InvocationFragment, parameters map[string]api.ParameterValue) (string, bool) {
	switch fragment.Type {
	case api.FragmentWord:
		return fragment.Word, true
	case api.FragmentVariable:
		value, ok := parameters[fragment.Variable]
		if !ok {
			return "", false
		}
		return fragment.Prefix + p.renderValue(value), true
	case api.FragmentFlag:
		value, ok := parameters[fragment.Variable]
		if !ok || value.Type != api.ParameterBoolean || !value.Bool {
			return "", false
		}
		return fragment.Flag, true
	}
	return "", false
}

func (p *Parameters) renderValue(value api.ParameterValue) string {
	switch value.Type {
	case api.ParameterInteger:
		return strconv.FormatInt(value.Integer, 10)
	case api.ParameterFloatingPoint:
		return strconv.FormatFloat(value.Float, 'f', -1, 64)
	case api.ParameterBoolean:
		return strconv.FormatBool(value.Bool)
	case api.ParameterFile:
		return path.Join(p.mountRoot, path.Base(path.Clean("/"+value.Path)))
	default:
		return value.Text
	}
}
