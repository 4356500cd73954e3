package deps

import (
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	volcanoclient "volcano.sh/apis/pkg/client/clientset/versioned"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/uclouderrors"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/domain"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

// JobSource looks up a job which is not in the cache.
type JobSource interface {
	Job(ctx *ucontext.Context, jobId string) (*api.JobRequest, error)
}

// JobCache holds recently seen job requests. Jobs submitted through this process are put into the cache directly;
// everything else is loaded from the source.
type JobCache struct {
	cache  *cache.Cache
	source JobSource
}

// NewJobCache creates a cache whose entries live for ttl. Expired entries are removed by DeleteExpired, which the
// application runs as a background task.
func NewJobCache(ttl time.Duration, source JobSource) *JobCache {
	return &JobCache{
		cache:  cache.New(ttl, 0),
		source: source,
	}
}

func (c *JobCache) Put(job *api.JobRequest) {
	c.cache.SetDefault(job.Id, job)
}

func (c *JobCache) Forget(jobId string) {
	c.cache.Delete(jobId)
}

func (c *JobCache) DeleteExpired() {
	c.cache.DeleteExpired()
}

func (c *JobCache) Lookup(ctx *ucontext.Context, jobId string) (*api.JobRequest, error) {
	if cached, ok := c.cache.Get(jobId); ok {
		return cached.(*api.JobRequest), nil
	}
	job, err := c.source.Job(ctx, jobId)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(jobId, job)
	return job, nil
}

// Owner implements names.OwnerLookup.
func (c *JobCache) Owner(ctx *ucontext.Context, jobId string) (api.Owner, error) {
	job, err := c.Lookup(ctx, jobId)
	if err != nil {
		return api.Owner{}, err
	}
	return job.Owner, nil
}

// ClusterJobSource rebuilds the identifying part of a job request from the labels on its volcano job. This is
// enough to resolve the owner of jobs submitted before a restart, or by another replica.
type ClusterJobSource struct {
	volcano volcanoclient.Interface
}

func NewClusterJobSource(volcano volcanoclient.Interface) *ClusterJobSource {
	return &ClusterJobSource{volcano: volcano}
}

func (s *ClusterJobSource) Job(ctx *ucontext.Context, jobId string) (*api.JobRequest, error) {
	selector := labels.SelectorFromSet(labels.Set{domain.LabelJobId: jobId}).String()
	jobs, err := s.volcano.BatchV1alpha1().Jobs(metav1.NamespaceAll).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(jobs.Items) == 0 {
		return nil, errors.WithStack(&uclouderrors.ErrNotFound{Type: "job", Value: jobId})
	}
	job := jobs.Items[0]
	replicas := int32(0)
	for _, t := range job.Spec.Tasks {
		replicas += t.Replicas
	}
	return &api.JobRequest{
		Id:       jobId,
		Owner:    domain.OwnerFromLabels(job.Labels),
		Replicas: replicas,
	}, nil
}
