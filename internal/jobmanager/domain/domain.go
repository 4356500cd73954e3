// Package domain holds the annotation and label keys through which the job manager stores lifecycle state on the
// volcano job itself, together with the helpers that read and write them.
package domain

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	vol "volcano.sh/apis/pkg/apis/batch/v1alpha1"

	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

// Lifecycle annotations. Values are epoch milliseconds, except MaxTime which is a duration in milliseconds.
const (
	AnnotationMaxTime          = "ucloud.dk/maxTime"
	AnnotationExpiry           = "ucloud.dk/expiry"
	AnnotationJobStart         = "ucloud.dk/jobStart"
	AnnotationLastAccountingTs = "ucloud.dk/lastAccountingTs"
	// Terminal state recorded just before the job manager deletes a job
	AnnotationFinalState = "ucloud.dk/finalState"
	AnnotationIngress    = "ucloud.dk/ingress"
	AnnotationNetworkIps = "ucloud.dk/networkIps"
	AnnotationSandbox    = "ucloud.dk/sandbox"
	// Product the job is charged for
	AnnotationProduct = "ucloud.dk/product"
)

const (
	LabelJobId   = "ucloud.dk/job-id"
	LabelUser    = "ucloud.dk/user"
	LabelProject = "ucloud.dk/project"

	// Set by volcano on every pod belonging to a job
	VolcanoJobNameLabel   = "volcano.sh/job-name"
	VolcanoTaskIndexLabel = "volcano.sh/task-index"
)

// TaskName is the name of the single task every job has
const TaskName = "job"

// ContainerName is the name of the user container
const ContainerName = "user-job"

func FormatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func FormatDuration(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}

// MillisAnnotation parses an annotation holding a decimal number of milliseconds. ok is false if the annotation is
// absent.
func MillisAnnotation(job *vol.Job, key string) (value int64, ok bool, err error) {
	raw, present := job.Annotations[key]
	if !present {
		return 0, false, nil
	}
	value, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "annotation %s has invalid value %q", key, raw)
	}
	return value, true, nil
}

// TimeAnnotation reads an epoch-millisecond annotation as a time.
func TimeAnnotation(job *vol.Job, key string) (time.Time, bool, error) {
	millis, ok, err := MillisAnnotation(job, key)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	return time.UnixMilli(millis), true, nil
}

type patchOperation struct {
	Op    string  `json:"op"`
	Path  string  `json:"path"`
	Value *string `json:"value"`
}

// AnnotationPatch builds a JSON patch which adds (or replaces) every annotation in values.
// Keys are escaped as described in RFC 6901, so ucloud.dk/jobStart becomes /metadata/annotations/ucloud.dk~1jobStart.
func AnnotationPatch(values map[string]string) ([]byte, error) {
	return GuardedAnnotationPatch(nil, values)
}

// GuardedAnnotationPatch is AnnotationPatch preceded by a test operation for every entry of expected.
// A nil expected value requires the annotation to be absent. The API server rejects the whole patch if any
// expectation does not hold.
func GuardedAnnotationPatch(expected map[string]*string, values map[string]string) ([]byte, error) {
	operations := make([]patchOperation, 0, len(expected)+len(values))
	for _, k := range sortedKeys(expected) {
		operations = append(operations, patchOperation{
			Op:    "test",
			Path:  "/metadata/annotations/" + EscapeJsonPointer(k),
			Value: expected[k],
		})
	}
	for _, k := range sortedKeys(values) {
		v := values[k]
		operations = append(operations, patchOperation{
			Op:    "add",
			Path:  "/metadata/annotations/" + EscapeJsonPointer(k),
			Value: &v,
		})
	}
	return json.Marshal(operations)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func EscapeJsonPointer(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "~", "~0"), "/", "~1")
}

// JobId returns the job id stored in the labels of a volcano job or pod.
func JobId(labels map[string]string) (string, bool) {
	id, ok := labels[LabelJobId]
	return id, ok && id != ""
}

// OwnerFromLabels reconstructs the owner of a job from the labels written by the base builder.
func OwnerFromLabels(labels map[string]string) api.Owner {
	return api.Owner{
		CreatedBy: labels[LabelUser],
		Project:   labels[LabelProject],
	}
}

// JobLabels are the labels stamped on the volcano job and on every pod of the job.
func JobLabels(job *api.JobRequest) map[string]string {
	labels := map[string]string{
		LabelJobId: job.Id,
		LabelUser:  job.Owner.CreatedBy,
	}
	if job.Owner.Project != "" {
		labels[LabelProject] = job.Owner.Project
	}
	return labels
}

// IsTerminal reports whether volcano will not run the job any further.
func IsTerminal(phase vol.JobPhase) bool {
	switch phase {
	case vol.Completed, vol.Failed, vol.Aborted, vol.Terminated:
		return true
	}
	return false
}

// IsRunning reports whether the job has been scheduled and at least one replica is running.
func IsRunning(job *vol.Job) bool {
	return job.Status.State.Phase == vol.Running || job.Status.Running > 0
}
