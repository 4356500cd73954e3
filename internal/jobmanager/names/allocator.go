package names

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

const jobNamePrefix = "j-"

// OwnerLookup resolves the owner of a job id.
type OwnerLookup interface {
	Owner(ctx *ucontext.Context, jobId string) (api.Owner, error)
}

// UidLookup resolves the numeric uid of a user.
type UidLookup interface {
	Uid(ctx *ucontext.Context, username string) (int64, error)
}

// Allocator maps job ids to resource names and namespaces. Names are derived from the id alone; namespaces are
// fixed unless fair-share is enabled, in which case every user and every project gets a namespace of its own.
type Allocator struct {
	namespace  string
	fairShare  bool
	owners     OwnerLookup
	identities UidLookup
}

func NewAllocator(namespace string, fairShare bool, owners OwnerLookup, identities UidLookup) *Allocator {
	return &Allocator{
		namespace:  namespace,
		fairShare:  fairShare,
		owners:     owners,
		identities: identities,
	}
}

// IdToName returns the name of every cluster resource belonging to a job. The prefix keeps the name a valid DNS
// label even though job ids are numeric.
func (a *Allocator) IdToName(jobId string) string {
	return jobNamePrefix + jobId
}

// NameToId is the inverse of IdToName.
func (a *Allocator) NameToId(name string) string {
	return strings.TrimPrefix(name, jobNamePrefix)
}

func (a *Allocator) IsJobName(name string) bool {
	return strings.HasPrefix(name, jobNamePrefix) && len(name) > len(jobNamePrefix)
}

func (a *Allocator) FairShare() bool {
	return a.fairShare
}

// IdToNamespace returns the namespace a job lives in. With fair-share enabled this needs the owner of the job; an
// unknown job is an error.
func (a *Allocator) IdToNamespace(ctx *ucontext.Context, jobId string) (string, error) {
	if !a.fairShare {
		return a.namespace, nil
	}

	owner, err := a.owners.Owner(ctx, jobId)
	if err != nil {
		return "", errors.WithMessagef(err, "resolving namespace of job %s", jobId)
	}
	if owner.Project != "" {
		return "app-p-" + strings.ToLower(owner.Project), nil
	}
	uid, err := a.identities.Uid(ctx, owner.CreatedBy)
	if err != nil {
		return "", errors.WithMessagef(err, "resolving namespace of job %s", jobId)
	}
	return fmt.Sprintf("app-u-%d", uid), nil
}
