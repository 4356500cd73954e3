package configuration

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/config"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

// Plugin names accepted in Application.PluginOrder.
const (
	PluginBase        = "base"
	PluginParameters  = "parameters"
	PluginMounts      = "mounts"
	PluginMultiNode   = "multinode"
	PluginSharedMem   = "sharedmem"
	PluginSandbox     = "sandbox"
	PluginMiscFlags   = "miscflags"
	PluginFairShare   = "fairshare"
	PluginExpiry      = "expiry"
	PluginAccounting  = "accounting"
	PluginIngress     = "ingress"
	PluginNetworkIp   = "networkip"
	PluginLocalDev    = "localdev"
	PluginProxyNotify = "proxy"
)

// DefaultPluginOrder is the order used when Application.PluginOrder is empty.
var DefaultPluginOrder = []string{
	PluginBase,
	PluginParameters,
	PluginMounts,
	PluginMultiNode,
	PluginSharedMem,
	PluginSandbox,
	PluginMiscFlags,
	PluginFairShare,
	PluginExpiry,
	PluginAccounting,
	PluginIngress,
	PluginNetworkIp,
	PluginLocalDev,
	PluginProxyNotify,
}

const (
	LeaderModeStandalone = "standalone"
	LeaderModeKubernetes = "kubernetes"
	LeaderModeRedis      = "redis"
)

type Configuration struct {
	Application ApplicationConfiguration
	// Configuration controlling leader election
	Leader     LeaderConfig
	Monitoring MonitoringConfig
	// Machine catalogue, keyed by product name
	Products   map[string]Machine
	Toleration *TolerationConfig
	Storage    StorageConfig
	MultiNode  MultiNodeConfig
	Sandbox    SandboxConfig
	Security   SecurityConfig
	Ingress    IngressConfig
	NetworkIp  NetworkIpConfig
	// Exposes every job through a load balancer. Only meant for local development clusters.
	LocalDevelopment LocalDevelopmentConfig
	Proxy            ProxyConfig
	Kubernetes       KubernetesConfig
	// Optional. The in-memory stores are used when no connection is configured.
	Postgres *config.PostgresConfig
	// Used by the redis leader lock and the proxy notifier. Proxy notifications are only logged when nil.
	Redis *config.RedisConfig
	// Optional. Status and usage are only logged when no pulsar is configured.
	Pulsar  *config.PulsarConfig
	Metrics MetricsConfig
	Tasks   TasksConfig
}

type ApplicationConfiguration struct {
	// Namespace used for every job unless FairShare is enabled
	Namespace string `validate:"required"`
	// Run every owner in its own namespace (app-u-<uid> or app-p-<project>)
	FairShare     bool
	Queue         string `validate:"required"`
	SchedulerName string `validate:"required"`
	// Creation order of the plugins. The base plugin must come first.
	PluginOrder []string
	// Time allocation of jobs which do not request one
	DefaultMaxTime time.Duration `validate:"required"`
}

type LeaderConfig struct {
	// Valid modes are "standalone", "kubernetes" or "redis"
	Mode string `validate:"required,oneof=standalone kubernetes redis"`
	// Name of the K8s Lease object, also used as the redis key
	LeaseLockName string `validate:"required"`
	// Namespace of the K8s Lease object
	LeaseLockNamespace string
	// The name of the pod. A random identity is generated when empty.
	PodName string
	// Lease duration requested when acquiring
	AcquireLeaseDuration time.Duration `validate:"required"`
	// Lease duration requested on every renewal
	RenewLeaseDuration time.Duration `validate:"required"`
	// Non leaders sleep RetryInterval +/- RetryJitter between acquisition attempts
	RetryInterval time.Duration `validate:"required"`
	RetryJitter   time.Duration
	// Longest wait for a watch event before the lease is renewed anyway
	EventTimeout time.Duration `validate:"required"`
	// Iterations slower than this risk losing the lease
	SlowIterationWarning time.Duration `validate:"required"`
	// Wait before restarting leadership after an irrecoverable error
	FailureBackoff time.Duration `validate:"required"`
}

type MonitoringConfig struct {
	Interval  time.Duration `validate:"required"`
	BatchSize int           `validate:"required,gt=0"`
}

type Machine struct {
	Cpu      int
	MemoryGb int
	Gpu      int
}

type TolerationConfig struct {
	Key   string `validate:"required"`
	Value string
}

type StorageConfig struct {
	// Claim backing every file mount
	ClaimName string `validate:"required"`
	// Folder inside the claim which corresponds to the storage root
	SubFolder string
	// Where mounts appear inside the container
	MountRoot string `validate:"required"`
}

type MultiNodeConfig struct {
	InitImage string `validate:"required"`
}

type SandboxConfig struct {
	RuntimeClassName  string
	CpuOverheadMillis int64
	MemoryOverhead    resource.Quantity
	MinimumMemory     resource.Quantity
}

type SecurityConfig struct {
	NonRootUid                  int64
	WorkingDirectoryAtMountRoot bool
}

type IngressConfig struct {
	Prefix   string
	Suffix   string
	Denylist []string
	// Container port the proxy forwards to
	Port int32 `validate:"required"`
}

type NetworkIpConfig struct {
	// CIDR pools, e.g. 10.135.0.0/24
	Pools []string
	// Number of candidate selections before giving up on an allocation
	MaxAttempts int `validate:"gte=0"`
}

type LocalDevelopmentConfig struct {
	Enabled bool
	Port    int32
}

type ProxyConfig struct {
	// Redis channel receiving route updates
	Channel string `validate:"required"`
}

type KubernetesConfig struct {
	QPS   float32
	Burst int
}

type MetricsConfig struct {
	Port uint16
}

type TasksConfig struct {
	CacheCleanupInterval time.Duration `validate:"required"`
	JobCacheTtl          time.Duration `validate:"required"`
	IdentityCacheSize    int           `validate:"required,gt=0"`
	// Number of per-job statuses remembered to suppress duplicate pushes
	StatusDedupSize int `validate:"required,gt=0"`
}

// EffectivePluginOrder returns the configured plugin order, or DefaultPluginOrder when none is configured.
func (a ApplicationConfiguration) EffectivePluginOrder() []string {
	if len(a.PluginOrder) == 0 {
		return DefaultPluginOrder
	}
	return a.PluginOrder
}

// Resolve returns the machine for a reservation. Explicit values on the reservation win over the catalogue.
func (c Configuration) Resolve(reservation api.Reservation) (Machine, error) {
	machine, ok := c.Products[reservation.Product]
	if reservation.Cpu > 0 {
		machine.Cpu = reservation.Cpu
	}
	if reservation.MemoryGb > 0 {
		machine.MemoryGb = reservation.MemoryGb
	}
	if reservation.Gpu > 0 {
		machine.Gpu = reservation.Gpu
	}
	if !ok && (reservation.Cpu <= 0 || reservation.MemoryGb <= 0) {
		return Machine{}, fmt.Errorf("unknown product %q", reservation.Product)
	}
	return machine, nil
}

func (c Configuration) Validate() error {
	validate := validator.New()
	validate.RegisterStructValidation(ApplicationConfigurationValidation, ApplicationConfiguration{})
	return validate.Struct(c)
}

// ApplicationConfigurationValidation checks that PluginOrder names known plugins, each at most once, with the base
// plugin first.
func ApplicationConfigurationValidation(sl validator.StructLevel) {
	c := sl.Current().Interface().(ApplicationConfiguration)
	order := c.EffectivePluginOrder()

	known := map[string]bool{}
	for _, name := range DefaultPluginOrder {
		known[name] = true
	}
	seen := map[string]bool{}
	for i, name := range order {
		field := fmt.Sprintf("PluginOrder[%d]", i)
		if !known[name] {
			sl.ReportError(name, field, "PluginOrder", "unknownplugin", name)
		}
		if seen[name] {
			sl.ReportError(name, field, "PluginOrder", "duplicateplugin", name)
		}
		seen[name] = true
	}
	if order[0] != PluginBase {
		sl.ReportError(order[0], "PluginOrder[0]", "PluginOrder", "basefirst", "")
	}
}
