package cluster

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/flowcontrol"
	volcanoclient "volcano.sh/apis/pkg/client/clientset/versioned"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/uclouderrors"
)

// KubernetesClientProvider hands out the two typed clients the job manager talks to: the core kubernetes client
// (pods, namespaces, services, leases) and the volcano client (batch jobs).
type KubernetesClientProvider interface {
	Client() kubernetes.Interface
	VolcanoClient() volcanoclient.Interface
	ClientConfig() *rest.Config
}

type ConfigKubernetesClientProvider struct {
	restConfig    *rest.Config
	client        kubernetes.Interface
	volcanoClient volcanoclient.Interface
}

func NewKubernetesClientProvider(qps float32, burst int) (*ConfigKubernetesClientProvider, error) {
	if qps <= 0 {
		return nil, errors.WithStack(&uclouderrors.ErrInvalidArgument{
			Name:    "qps",
			Value:   qps,
			Message: "qps must be positive",
		})
	}
	if burst <= 0 {
		return nil, errors.WithStack(&uclouderrors.ErrInvalidArgument{
			Name:    "burst",
			Value:   burst,
			Message: "burst must be positive",
		})
	}

	restConfig, err := loadConfig()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	// Both clients share one rate limiter, so qps and burst bound the total load this process puts on the api server.
	restConfig.RateLimiter = flowcontrol.NewTokenBucketRateLimiter(qps, burst)

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	vc, err := volcanoclient.NewForConfig(restConfig)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return &ConfigKubernetesClientProvider{
		restConfig:    restConfig,
		client:        client,
		volcanoClient: vc,
	}, nil
}

func (c *ConfigKubernetesClientProvider) Client() kubernetes.Interface {
	return c.client
}

func (c *ConfigKubernetesClientProvider) VolcanoClient() volcanoclient.Interface {
	return c.volcanoClient
}

func (c *ConfigKubernetesClientProvider) ClientConfig() *rest.Config {
	return c.restConfig
}

func loadConfig() (*rest.Config, error) {
	config, err := rest.InClusterConfig()
	if err == rest.ErrNotInCluster {
		log.Info("Running with default client configuration")
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		overrides := &clientcmd.ConfigOverrides{}
		return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	}
	log.Info("Running with in cluster client configuration")
	return config, err
}
