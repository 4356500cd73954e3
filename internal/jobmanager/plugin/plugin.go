// Package plugin defines the hooks through which the job manager builds volcano jobs and follows them through their
// lifecycle.
//
// A plugin implements Plugin plus any subset of the hook interfaces below. Every hook receives a HookContext as its
// first argument, which carries the dependencies and the job the hook is invoked for. Hooks may be called more than
// once for the same job and must be idempotent.
package plugin

import (
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/watch"
	vol "volcano.sh/apis/pkg/apis/batch/v1alpha1"
)

type Plugin interface {
	Name() string
}

// CreateHook mutates the job before it is submitted. Create hooks run in registration order, and the first error
// aborts the submission.
type CreateHook interface {
	OnCreate(ctx *HookContext) error
}

// JobStartHook is called once the job is first observed running.
type JobStartHook interface {
	OnJobStart(ctx *HookContext) error
}

// MonitoringHook is called with every batch of running jobs during a monitoring pass.
type MonitoringHook interface {
	OnJobMonitoring(ctx *HookContext, batch []*vol.Job) error
}

// CompleteHook is called once the job is observed in a terminal phase.
type CompleteHook interface {
	OnJobComplete(ctx *HookContext) error
}

// CleanupHook releases side resources of a job. ctx.Resource may be nil if the job no longer exists.
type CleanupHook interface {
	OnCleanup(ctx *HookContext) error
}

// PodEventHook observes pods belonging to jobs.
type PodEventHook interface {
	OnPodEvent(ctx *HookContext, eventType watch.EventType, pod *v1.Pod) error
}
