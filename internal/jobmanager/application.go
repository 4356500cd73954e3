// Package jobmanager wires the job manager together from its configuration.
package jobmanager

import (
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/SDU-eScience/UCloud-sub021/internal/common"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/app"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/cluster"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/database"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/health"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/pulsarutils"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/task"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/util"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/deps"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/lock"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/metrics"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/names"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/network"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/orchestrator"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugins"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/proxy"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/publisher"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/store"
)

const shutdownTimeout = 5 * time.Second

// Publisher is everything the job manager reports to the rest of UCloud.
type Publisher interface {
	deps.StatusSink
	deps.UsageReporter
	network.Charger
}

// App holds the wired job manager. It is shared by the run command and the administrative commands.
type App struct {
	Config       configuration.Configuration
	Deps         *deps.Dependencies
	Orchestrator *orchestrator.Orchestrator
	Ingresses    *network.IngressService
	NetworkIps   *network.Allocator

	store   store.Store
	redis   redis.UniversalClient
	holder  string
	closers util.Closers
}

// Setup connects to every backing service named in config and builds the orchestrator. Close releases the
// connections again, also when Setup fails part way through.
func Setup(ctx *ucontext.Context, config configuration.Configuration) (a *App, err error) {
	a = &App{Config: config, holder: config.Leader.PodName}
	if a.holder == "" {
		a.holder = uuid.NewString()
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	log.Info("Setting up kubernetes clients")
	clients, err := cluster.NewKubernetesClientProvider(config.Kubernetes.QPS, config.Kubernetes.Burst)
	if err != nil {
		return nil, errors.WithMessage(err, "error creating kubernetes clients")
	}

	if err := a.setupStore(ctx); err != nil {
		return nil, err
	}
	if config.Redis != nil {
		a.redis = config.Redis.NewClient()
		a.closers.Add("redis client", a.redis)
	}
	sink, err := a.setupPublisher()
	if err != nil {
		return nil, err
	}

	realClock := clock.RealClock{}
	jobs := deps.NewJobCache(config.Tasks.JobCacheTtl, deps.NewClusterJobSource(clients.VolcanoClient()))
	identities, err := deps.NewIdentityCache(config.Tasks.IdentityCacheSize, a.store)
	if err != nil {
		return nil, errors.WithMessage(err, "error creating identity cache")
	}
	a.Deps = &deps.Dependencies{
		Kube:       clients.Client(),
		Volcano:    clients.VolcanoClient(),
		Scheduler:  task.NewScheduler(realClock),
		Status:     sink,
		Usage:      sink,
		Jobs:       jobs,
		Identities: identities,
		Clock:      realClock,
	}
	a.closers.AddFunc("hook scheduler", a.Deps.Scheduler.Stop)

	pools, err := network.ParsePools(config.NetworkIp.Pools)
	if err != nil {
		return nil, errors.WithMessage(err, "error parsing network ip pools")
	}
	a.NetworkIps = network.NewAllocator(pools, a.store, sink, config.NetworkIp.MaxAttempts, realClock)
	a.Ingresses = network.NewIngressService(network.NewIngressValidator(config.Ingress), a.store, realClock)

	var notifier proxy.Notifier = proxy.LoggingNotifier{}
	if a.redis != nil {
		notifier = proxy.NewRedisNotifier(a.redis, config.Proxy.Channel)
	}
	pluginList, err := plugins.Build(config, plugins.Services{
		Ingress:    a.Ingresses,
		NetworkIps: a.store,
		Proxy:      notifier,
	})
	if err != nil {
		return nil, err
	}
	registry, err := orchestrator.NewRegistry(pluginList)
	if err != nil {
		return nil, err
	}
	log.Infof("Registered plugins %v", registry.Names())

	leaderLock, err := a.createLock()
	if err != nil {
		return nil, err
	}
	allocator := names.NewAllocator(config.Application.Namespace, config.Application.FairShare, jobs, identities)
	a.Orchestrator = orchestrator.New(config, a.Deps, allocator, registry, leaderLock)
	return a, nil
}

func (a *App) setupStore(ctx *ucontext.Context) error {
	if a.Config.Postgres == nil {
		log.Warn("No postgres configured, ingresses and network ips are kept in memory")
		a.store = store.NewMemoryStore()
		return nil
	}
	log.Info("Setting up postgres connection")
	db, err := database.OpenPgxPool(ctx, *a.Config.Postgres)
	if err != nil {
		return errors.WithMessage(err, "error opening connection to postgres")
	}
	a.closers.AddFunc("postgres pool", db.Close)
	s, err := store.NewPostgresStore(db)
	if err != nil {
		return err
	}
	if err := s.Migrate(ctx); err != nil {
		return errors.WithMessage(err, "error migrating database")
	}
	a.store = s
	return nil
}

func (a *App) setupPublisher() (Publisher, error) {
	config := a.Config.Pulsar
	if config == nil {
		log.Warn("No pulsar configured, job status and usage are only logged")
		return publisher.LoggingPublisher{}, nil
	}
	log.Info("Setting up pulsar connectivity")
	client, err := pulsarutils.NewPulsarClient(config)
	if err != nil {
		return nil, errors.WithMessage(err, "error creating pulsar client")
	}
	a.closers.AddFunc("pulsar client", client.Close)

	status, err := pulsarutils.NewProducer(client, fmt.Sprintf("ucloud-jobmanager-status-%s", a.holder), config.StatusTopic)
	if err != nil {
		return nil, err
	}
	a.closers.AddFunc("status producer", status.Close)
	usage, err := pulsarutils.NewProducer(client, fmt.Sprintf("ucloud-jobmanager-usage-%s", a.holder), config.UsageTopic)
	if err != nil {
		return nil, err
	}
	a.closers.AddFunc("usage producer", usage.Close)
	return publisher.NewPulsarPublisher(status, usage, a.Config.Tasks.StatusDedupSize, config.SendTimeout)
}

func (a *App) createLock() (lock.Lock, error) {
	config := a.Config.Leader
	switch config.Mode {
	case configuration.LeaderModeStandalone:
		return lock.NewStandaloneLock(), nil
	case configuration.LeaderModeKubernetes:
		return lock.NewKubernetesLeaseLock(
			a.Deps.Kube.CoordinationV1(),
			config.LeaseLockNamespace,
			config.LeaseLockName,
			a.holder,
			a.Deps.Clock,
		), nil
	case configuration.LeaderModeRedis:
		if a.redis == nil {
			return nil, errors.New("the redis leader mode requires a redis configuration")
		}
		return lock.NewRedisLock(a.redis, config.LeaseLockName, a.holder), nil
	default:
		return nil, errors.Errorf("unknown leader mode %q", config.Mode)
	}
}

// Close releases resources in the reverse order of their creation.
func (a *App) Close() {
	_ = a.closers.CloseAll()
}

// Run starts the job manager and blocks until SIGINT or SIGTERM is received.
func Run(config configuration.Configuration) error {
	ctx := app.CreateContextWithShutdown()

	startupCompleteCheck := health.NewStartupCompleteChecker()
	healthChecks := health.NewMultiChecker(startupCompleteCheck)
	shutdownHttpServer := common.ServeMetrics(config.Metrics.Port, healthChecks)
	defer shutdownHttpServer()

	a, err := Setup(ctx, config)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.redis != nil {
		healthChecks.Add(health.CheckerFunc(func() error {
			return errors.Wrap(a.redis.Ping().Err(), "redis")
		}))
	}

	taskManager := task.NewBackgroundTaskManager(clock.RealClock{}, metrics.MetricPrefix, prometheus.DefaultRegisterer)
	taskManager.Register("job_cache_cleanup", config.Tasks.CacheCleanupInterval, a.Deps.Jobs.DeleteExpired)
	defer func() {
		if taskManager.StopAll(shutdownTimeout) {
			log.Warn("Background tasks did not stop in time")
		}
	}()

	g, ctx := ucontext.ErrGroup(ctx)
	g.Go(func() error {
		return a.Orchestrator.Run(ctx)
	})
	startupCompleteCheck.MarkComplete()
	log.Infof("Job manager %s started", a.holder)
	return g.Wait()
}
