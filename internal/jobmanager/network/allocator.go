package network

import (
	"context"
	"math/rand"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/uclouderrors"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/util"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/store"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

// Charger charges an owner for newly allocated addresses.
type Charger interface {
	ChargeNetworkIps(ctx context.Context, owner api.Owner, count int) error
}

const (
	defaultMaxAttempts = 10
	// Random samples drawn per address before falling back to a linear scan
	samplesPerAddress = 32
)

// Allocator hands out public IP addresses from a set of pools. The store's uniqueness constraint on addresses decides
// races between concurrent allocations; the loser picks new candidates and tries again.
type Allocator struct {
	pools       []Pool
	store       store.NetworkIpStore
	charger     Charger
	maxAttempts int
	clock       clock.PassiveClock
	random      *rand.Rand
}

func NewAllocator(pools []Pool, s store.NetworkIpStore, charger Charger, maxAttempts int, clock clock.PassiveClock) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Allocator{
		pools:       pools,
		store:       s,
		charger:     charger,
		maxAttempts: maxAttempts,
		clock:       clock,
		random:      util.NewThreadsafeRand(clock.Now().UnixNano()),
	}
}

func (a *Allocator) Capacity() int {
	total := 0
	for _, p := range a.pools {
		total += p.Size()
	}
	return total
}

func (a *Allocator) Allocate(ctx context.Context, owner api.Owner) (*store.NetworkIp, error) {
	ips, err := a.AllocateMany(ctx, owner, 1)
	if err != nil {
		return nil, err
	}
	return &ips[0], nil
}

// AllocateMany allocates count addresses for owner. The addresses are recorded first and the owner is charged only
// once they are secured, so a request which cannot be served is never billed. A failed charge releases the addresses.
func (a *Allocator) AllocateMany(ctx context.Context, owner api.Owner, count int) ([]store.NetworkIp, error) {
	if count <= 0 {
		return nil, errors.WithStack(&uclouderrors.ErrInvalidArgument{
			Name:    "count",
			Value:   count,
			Message: "at least one address must be requested",
		})
	}

	ips, err := a.reserve(ctx, owner, count)
	if err != nil {
		return nil, err
	}

	if err := a.charger.ChargeNetworkIps(ctx, owner, count); err != nil {
		ids := make([]string, 0, len(ips))
		for _, ip := range ips {
			ids = append(ids, ip.Id)
		}
		if releaseErr := a.store.DeleteNetworkIps(ctx, ids); releaseErr != nil {
			log.WithError(releaseErr).Errorf("Failed to release network ips %v after a failed charge", ids)
		}
		return nil, err
	}
	return ips, nil
}

// reserve records count free addresses for owner without charging.
func (a *Allocator) reserve(ctx context.Context, owner api.Owner, count int) ([]store.NetworkIp, error) {
	allocated, err := a.allocatedInPools(ctx)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		if available := a.Capacity() - len(allocated); available < count {
			return nil, errors.WithStack(&uclouderrors.ErrCapacityExhausted{Type: "network ips", Requested: count, Available: available})
		}
		candidates, ok := a.pickCandidates(allocated, count)
		if !ok {
			break
		}

		now := a.clock.Now()
		ips := make([]store.NetworkIp, 0, count)
		for _, address := range candidates {
			ips = append(ips, store.NetworkIp{Id: uuid.New().String(), Address: address, Owner: owner, CreatedAt: now})
		}
		err := a.store.InsertNetworkIps(ctx, ips)
		if err == nil {
			return ips, nil
		}
		var alreadyExists *uclouderrors.ErrAlreadyExists
		if !errors.As(err, &alreadyExists) {
			return nil, err
		}
		log.Debugf("network ip candidates %v were taken concurrently (attempt %d)", candidates, attempt+1)
		if allocated, err = a.allocatedInPools(ctx); err != nil {
			return nil, err
		}
	}

	return nil, errors.WithStack(&uclouderrors.ErrCapacityExhausted{
		Type:      "network ips",
		Requested: count,
		Available: a.Capacity() - len(allocated),
	})
}

func (a *Allocator) allocatedInPools(ctx context.Context) (map[string]bool, error) {
	allocated, err := a.store.AllocatedAddresses(ctx)
	if err != nil {
		return nil, err
	}
	result := make(map[string]bool, len(allocated))
	for address := range allocated {
		for _, p := range a.pools {
			if p.Contains(address) {
				result[address] = true
				break
			}
		}
	}
	return result, nil
}

// pickCandidates selects count distinct addresses which are not in taken. Addresses are sampled at random first;
// when sampling keeps hitting taken addresses (nearly full pools) the remainder is found by a linear scan starting
// at a random offset.
func (a *Allocator) pickCandidates(taken map[string]bool, count int) ([]string, bool) {
	capacity := a.Capacity()
	if capacity == 0 {
		return nil, false
	}
	chosen := make(map[string]bool, count)
	result := make([]string, 0, count)
	free := func(address string) bool {
		return !taken[address] && !chosen[address]
	}

	for samples := 0; len(result) < count && samples < samplesPerAddress*count; samples++ {
		address := a.addressAt(a.random.Intn(capacity))
		if free(address) {
			chosen[address] = true
			result = append(result, address)
		}
	}

	offset := a.random.Intn(capacity)
	for i := 0; len(result) < count && i < capacity; i++ {
		address := a.addressAt((offset + i) % capacity)
		if free(address) {
			chosen[address] = true
			result = append(result, address)
		}
	}
	return result, len(result) == count
}

// addressAt indexes the concatenation of all pools.
func (a *Allocator) addressAt(i int) string {
	for _, p := range a.pools {
		if i < p.Size() {
			return p.Address(i)
		}
		i -= p.Size()
	}
	panic("address index out of range")
}
