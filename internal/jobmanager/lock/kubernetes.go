package lock

import (
	"context"
	"time"

	"github.com/pkg/errors"
	coordinationv1 "k8s.io/api/coordination/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	coordinationv1client "k8s.io/client-go/kubernetes/typed/coordination/v1"
	"k8s.io/utils/clock"
	"k8s.io/utils/pointer"
)

// KubernetesLeaseLock stores the lease in a coordination.k8s.io/v1 Lease. Updates carry the resource version they
// were read at, so two instances racing for the same lease cannot both succeed.
type KubernetesLeaseLock struct {
	client    coordinationv1client.LeasesGetter
	name      string
	namespace string
	holder    string
	clock     clock.PassiveClock
}

func NewKubernetesLeaseLock(client coordinationv1client.LeasesGetter, namespace string, name string, holder string, clock clock.PassiveClock) *KubernetesLeaseLock {
	return &KubernetesLeaseLock{
		client:    client,
		name:      name,
		namespace: namespace,
		holder:    holder,
		clock:     clock,
	}
}

func (l *KubernetesLeaseLock) TryAcquire(ctx context.Context, duration time.Duration) (bool, error) {
	leases := l.client.Leases(l.namespace)
	now := metav1.NewMicroTime(l.clock.Now())

	lease, err := leases.Get(ctx, l.name, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		_, err = leases.Create(ctx, &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{Name: l.name, Namespace: l.namespace},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       pointer.String(l.holder),
				LeaseDurationSeconds: pointer.Int32(durationSeconds(duration)),
				AcquireTime:          &now,
				RenewTime:            &now,
			},
		}, metav1.CreateOptions{})
		if k8serrors.IsAlreadyExists(err) {
			return false, nil
		}
		return err == nil, errors.WithStack(err)
	}
	if err != nil {
		return false, errors.WithStack(err)
	}

	if l.heldByOther(lease) {
		return false, nil
	}
	if !l.isHolder(lease) {
		lease.Spec.AcquireTime = &now
		lease.Spec.LeaseTransitions = pointer.Int32(pointer.Int32Deref(lease.Spec.LeaseTransitions, 0) + 1)
	}
	lease.Spec.HolderIdentity = pointer.String(l.holder)
	lease.Spec.LeaseDurationSeconds = pointer.Int32(durationSeconds(duration))
	lease.Spec.RenewTime = &now
	return l.update(ctx, lease)
}

func (l *KubernetesLeaseLock) Renew(ctx context.Context, duration time.Duration) (bool, error) {
	lease, err := l.client.Leases(l.namespace).Get(ctx, l.name, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.WithStack(err)
	}
	if !l.isHolder(lease) || l.expired(lease) {
		return false, nil
	}
	now := metav1.NewMicroTime(l.clock.Now())
	lease.Spec.LeaseDurationSeconds = pointer.Int32(durationSeconds(duration))
	lease.Spec.RenewTime = &now
	return l.update(ctx, lease)
}

func (l *KubernetesLeaseLock) Release(ctx context.Context) error {
	lease, err := l.client.Leases(l.namespace).Get(ctx, l.name, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return errors.WithStack(err)
	}
	if !l.isHolder(lease) {
		return nil
	}
	lease.Spec.HolderIdentity = nil
	lease.Spec.RenewTime = nil
	_, err = l.client.Leases(l.namespace).Update(ctx, lease, metav1.UpdateOptions{})
	if k8serrors.IsConflict(err) {
		return nil
	}
	return errors.WithStack(err)
}

func (l *KubernetesLeaseLock) Holder() string {
	return l.holder
}

func (l *KubernetesLeaseLock) update(ctx context.Context, lease *coordinationv1.Lease) (bool, error) {
	_, err := l.client.Leases(l.namespace).Update(ctx, lease, metav1.UpdateOptions{})
	if k8serrors.IsConflict(err) {
		return false, nil
	}
	return err == nil, errors.WithStack(err)
}

func (l *KubernetesLeaseLock) isHolder(lease *coordinationv1.Lease) bool {
	return pointer.StringDeref(lease.Spec.HolderIdentity, "") == l.holder
}

func (l *KubernetesLeaseLock) heldByOther(lease *coordinationv1.Lease) bool {
	holder := pointer.StringDeref(lease.Spec.HolderIdentity, "")
	return holder != "" && holder != l.holder && !l.expired(lease)
}

func (l *KubernetesLeaseLock) expired(lease *coordinationv1.Lease) bool {
	if lease.Spec.RenewTime == nil || lease.Spec.LeaseDurationSeconds == nil {
		return true
	}
	expiry := lease.Spec.RenewTime.Add(time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second)
	return !l.clock.Now().Before(expiry)
}

func durationSeconds(d time.Duration) int32 {
	seconds := int32(d / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}
