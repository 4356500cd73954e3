// Package store persists the bookkeeping which cannot live on the volcano job itself: ingress domains, public IP
// addresses and the uids of users. Two implementations exist, one backed by postgres and one in memory.
package store

import (
	"context"
	"time"

	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

type Ingress struct {
	Domain string
	Owner  api.Owner
	// Id of the job using the ingress, empty if unused
	BoundTo   string
	CreatedAt time.Time
}

type NetworkIp struct {
	Id      string
	Address string
	Owner   api.Owner
	// Id of the job using the address, empty if unused
	BoundTo   string
	CreatedAt time.Time
}

type IngressStore interface {
	// InsertIngress fails with *uclouderrors.ErrAlreadyExists if the domain is taken.
	InsertIngress(ctx context.Context, ingress Ingress) error
	// GetIngress fails with *uclouderrors.ErrNotFound if the domain is unknown.
	GetIngress(ctx context.Context, domain string) (*Ingress, error)
	// DeleteIngress refuses to delete an ingress which is bound to a job.
	DeleteIngress(ctx context.Context, domain string) error
	// BindIngress is idempotent for the same job and fails with *uclouderrors.ErrAlreadyExists if another job
	// holds the ingress.
	BindIngress(ctx context.Context, domain string, jobId string) error
	UnbindIngresses(ctx context.Context, jobId string) error
}

type NetworkIpStore interface {
	// AllocatedAddresses returns every address recorded as allocated.
	AllocatedAddresses(ctx context.Context) (map[string]bool, error)
	// InsertNetworkIps records all ips or none. An address which is already recorded fails the whole insert with
	// *uclouderrors.ErrAlreadyExists.
	InsertNetworkIps(ctx context.Context, ips []NetworkIp) error
	// DeleteNetworkIps forgets the given ids. Unknown ids are ignored.
	DeleteNetworkIps(ctx context.Context, ids []string) error
	GetNetworkIp(ctx context.Context, id string) (*NetworkIp, error)
	BindNetworkIp(ctx context.Context, id string, jobId string) error
	UnbindNetworkIps(ctx context.Context, jobId string) error
}

type IdentityStore interface {
	// Uid returns the uid of a user, assigning the next free uid the first time a user is seen.
	Uid(ctx context.Context, username string) (int64, error)
}

type Store interface {
	IngressStore
	NetworkIpStore
	IdentityStore
}

// FirstUid is the uid given to the first user.
const FirstUid = 1000
