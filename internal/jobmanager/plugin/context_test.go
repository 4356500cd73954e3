package plugin

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	v1 "k8s.io/api/core/v1"
	vol "volcano.sh/apis/pkg/apis/batch/v1alpha1"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
)

func TestHookContext_FailsFastWithoutTask(t *testing.T) {
	ctx := &HookContext{Context: ucontext.Background(), Resource: &vol.Job{}}

	_, err := ctx.Task()
	assert.True(t, errors.Is(err, ErrNoTask))
	_, err = ctx.Containers()
	assert.True(t, errors.Is(err, ErrNoTask))
	_, err = ctx.PodSpec()
	assert.True(t, errors.Is(err, ErrNoTask))

	ctx.Resource = nil
	_, err = ctx.Task()
	assert.True(t, errors.Is(err, ErrNoTask))
}

func TestHookContext_ContainersAreMutable(t *testing.T) {
	job := &vol.Job{Spec: vol.JobSpec{Tasks: []vol.TaskSpec{{
		Template: v1.PodTemplateSpec{Spec: v1.PodSpec{Containers: []v1.Container{{Name: "a"}, {Name: "b"}}}},
	}}}}
	ctx := &HookContext{Context: ucontext.Background(), Resource: job}

	containers, err := ctx.Containers()
	require.NoError(t, err)
	require.Len(t, containers, 2)
	containers[1].WorkingDir = "/work"
	assert.Equal(t, "/work", job.Spec.Tasks[0].Template.Spec.Containers[1].WorkingDir)
}

func TestHookContext_RequireJob(t *testing.T) {
	_, err := (&HookContext{JobId: "1"}).RequireJob()
	assert.Error(t, err)
}
