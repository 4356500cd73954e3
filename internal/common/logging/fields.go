package logging

import "github.com/sirupsen/logrus"

const (
	JobIdField     = "jobId"
	JobNameField   = "jobName"
	NamespaceField = "namespace"
	PluginField    = "plugin"
)

// JobFields are attached to every log line emitted while a single job is handled.
func JobFields(jobId string, name string, namespace string) logrus.Fields {
	fields := logrus.Fields{JobIdField: jobId}
	if name != "" {
		fields[JobNameField] = name
	}
	if namespace != "" {
		fields[NamespaceField] = namespace
	}
	return fields
}
