package api

// JobRequest is a verified compute job, as handed to the job manager by the orchestrator in front of it.
// Validation and authorization have already happened upstream; the job manager only checks what it needs to build
// the cluster resource.
type JobRequest struct {
	Id    string `json:"id" validate:"required"`
	Owner Owner  `json:"owner"`
	// Machine reservation. Cpu, MemoryGb and Gpu override the product catalogue when non-zero.
	Reservation Reservation `json:"reservation"`
	Replicas    int32       `json:"replicas" validate:"gte=1"`
	// Wall-clock budget of the job. Zero means the configured default.
	TimeAllocationMillis int64                     `json:"timeAllocationMillis" validate:"gte=0"`
	Sandboxed            bool                      `json:"sandboxed"`
	Mounts               []Mount                   `json:"mounts"`
	InputFiles           []Mount                   `json:"inputFiles"`
	Application          Application               `json:"application"`
	Parameters           map[string]ParameterValue `json:"parameters"`
	// Domains of previously created ingresses to bind to the job.
	Ingress []string `json:"ingress"`
	// Previously allocated public IPs to bind to the job.
	NetworkIps   []NetworkIpRequest `json:"networkIps"`
	OutputFolder string             `json:"outputFolder"`
}

type Owner struct {
	CreatedBy string `json:"createdBy" validate:"required"`
	Project   string `json:"project,omitempty"`
}

type Reservation struct {
	Product  string `json:"product" validate:"required"`
	Cpu      int    `json:"cpu"`
	MemoryGb int    `json:"memoryGb"`
	Gpu      int    `json:"gpu"`
}

// Mount is a path in the shared storage, relative to the storage root.
type Mount struct {
	Path     string `json:"path" validate:"required"`
	ReadOnly bool   `json:"readOnly"`
}

type Application struct {
	Name         string                        `json:"name" validate:"required"`
	Version      string                        `json:"version"`
	Image        string                        `json:"image" validate:"required"`
	RequiresRoot bool                          `json:"requiresRoot"`
	Invocation   []InvocationFragment          `json:"invocation"`
	Environment  map[string]InvocationFragment `json:"environment"`
}

type NetworkIpRequest struct {
	Id    string      `json:"id" validate:"required"`
	Ports []PortRange `json:"ports"`
}

type PortRange struct {
	Start    int32  `json:"start"`
	End      int32  `json:"end"`
	Protocol string `json:"protocol"`
}

// Project reports the project the job is charged to, or the empty string for personal jobs.
func (j *JobRequest) Project() string {
	return j.Owner.Project
}

// Permits reports whether requester may use a resource owned by o. Project resources are usable by every job in the
// project, personal resources only by their creator's personal jobs.
func (o Owner) Permits(requester Owner) bool {
	if o.Project != "" {
		return o.Project == requester.Project
	}
	return requester.Project == "" && o.CreatedBy == requester.CreatedBy
}
