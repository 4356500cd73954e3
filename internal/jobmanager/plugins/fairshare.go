package plugins

import (
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
)

// FairShare creates the per-owner namespace a job is placed in when fair-share is enabled.
type FairShare struct {
	enabled bool
}

func NewFairShare(application configuration.ApplicationConfiguration) *FairShare {
	return &FairShare{enabled: application.FairShare}
}

func (p *FairShare) Name() string {
	return configuration.PluginFairShare
}

func (p *FairShare) OnCreate(ctx *plugin.HookContext) error {
	if !p.enabled {
		return nil
	}
	namespace := ctx.Resource.Namespace
	return retry.Do(
		func() error {
			_, err := ctx.Deps.Kube.CoreV1().Namespaces().Create(ctx, &v1.Namespace{
				ObjectMeta: metav1.ObjectMeta{Name: namespace},
			}, metav1.CreateOptions{})
			if err == nil || namespaceProvisioned(err) {
				return nil
			}
			return errors.Wrapf(err, "creating namespace %s", namespace)
		},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			cause := errors.Cause(err)
			return k8serrors.IsServerTimeout(cause) || k8serrors.IsTimeout(cause) || k8serrors.IsTooManyRequests(cause)
		}),
	)
}

// namespaceProvisioned reports errors which mean the namespace exists or is being created by someone else.
func namespaceProvisioned(err error) bool {
	return k8serrors.IsAlreadyExists(err) || k8serrors.IsBadRequest(err) || k8serrors.IsNotFound(err) || k8serrors.IsConflict(err)
}
