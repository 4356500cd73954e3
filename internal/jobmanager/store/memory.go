package store

import (
	"context"
	"net/http"
	"sync"

	"github.com/pkg/errors"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/uclouderrors"
)

// MemoryStore keeps everything in process memory. It is used for development and in tests; all state is lost on
// restart.
type MemoryStore struct {
	mutex      sync.Mutex
	ingresses  map[string]*Ingress
	networkIps map[string]*NetworkIp
	addresses  map[string]string
	uids       map[string]int64
	nextUid    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ingresses:  map[string]*Ingress{},
		networkIps: map[string]*NetworkIp{},
		addresses:  map[string]string{},
		uids:       map[string]int64{},
		nextUid:    FirstUid,
	}
}

func (s *MemoryStore) InsertIngress(_ context.Context, ingress Ingress) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, exists := s.ingresses[ingress.Domain]; exists {
		return errors.WithStack(&uclouderrors.ErrAlreadyExists{Type: "ingress", Value: ingress.Domain})
	}
	s.ingresses[ingress.Domain] = &ingress
	return nil
}

func (s *MemoryStore) GetIngress(_ context.Context, domain string) (*Ingress, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ingress, exists := s.ingresses[domain]
	if !exists {
		return nil, errors.WithStack(&uclouderrors.ErrNotFound{Type: "ingress", Value: domain})
	}
	result := *ingress
	return &result, nil
}

func (s *MemoryStore) DeleteIngress(_ context.Context, domain string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ingress, exists := s.ingresses[domain]
	if !exists {
		return errors.WithStack(&uclouderrors.ErrNotFound{Type: "ingress", Value: domain})
	}
	if ingress.BoundTo != "" {
		return uclouderrors.NewRequestError(http.StatusConflict, "ingress %s is in use by job %s", domain, ingress.BoundTo)
	}
	delete(s.ingresses, domain)
	return nil
}

func (s *MemoryStore) BindIngress(_ context.Context, domain string, jobId string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ingress, exists := s.ingresses[domain]
	if !exists {
		return errors.WithStack(&uclouderrors.ErrNotFound{Type: "ingress", Value: domain})
	}
	if ingress.BoundTo != "" && ingress.BoundTo != jobId {
		return errors.WithStack(&uclouderrors.ErrAlreadyExists{
			Type:    "ingress",
			Value:   domain,
			Message: "in use by job " + ingress.BoundTo,
		})
	}
	ingress.BoundTo = jobId
	return nil
}

func (s *MemoryStore) UnbindIngresses(_ context.Context, jobId string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, ingress := range s.ingresses {
		if ingress.BoundTo == jobId {
			ingress.BoundTo = ""
		}
	}
	return nil
}

func (s *MemoryStore) AllocatedAddresses(_ context.Context) (map[string]bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	result := make(map[string]bool, len(s.addresses))
	for address := range s.addresses {
		result[address] = true
	}
	return result, nil
}

func (s *MemoryStore) InsertNetworkIps(_ context.Context, ips []NetworkIp) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	batch := map[string]bool{}
	for _, ip := range ips {
		if _, taken := s.addresses[ip.Address]; taken || batch[ip.Address] {
			return errors.WithStack(&uclouderrors.ErrAlreadyExists{Type: "network ip", Value: ip.Address})
		}
		if _, taken := s.networkIps[ip.Id]; taken {
			return errors.WithStack(&uclouderrors.ErrAlreadyExists{Type: "network ip", Value: ip.Id})
		}
		batch[ip.Address] = true
	}
	for i := range ips {
		ip := ips[i]
		s.networkIps[ip.Id] = &ip
		s.addresses[ip.Address] = ip.Id
	}
	return nil
}

func (s *MemoryStore) DeleteNetworkIps(_ context.Context, ids []string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, id := range ids {
		if ip, exists := s.networkIps[id]; exists {
			delete(s.addresses, ip.Address)
			delete(s.networkIps, id)
		}
	}
	return nil
}

func (s *MemoryStore) GetNetworkIp(_ context.Context, id string) (*NetworkIp, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ip, exists := s.networkIps[id]
	if !exists {
		return nil, errors.WithStack(&uclouderrors.ErrNotFound{Type: "network ip", Value: id})
	}
	result := *ip
	return &result, nil
}

func (s *MemoryStore) BindNetworkIp(_ context.Context, id string, jobId string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ip, exists := s.networkIps[id]
	if !exists {
		return errors.WithStack(&uclouderrors.ErrNotFound{Type: "network ip", Value: id})
	}
	if ip.BoundTo != "" && ip.BoundTo != jobId {
		return errors.WithStack(&uclouderrors.ErrAlreadyExists{
			Type:    "network ip",
			Value:   ip.Address,
			Message: "in use by job " + ip.BoundTo,
		})
	}
	ip.BoundTo = jobId
	return nil
}

func (s *MemoryStore) UnbindNetworkIps(_ context.Context, jobId string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, ip := range s.networkIps {
		if ip.BoundTo == jobId {
			ip.BoundTo = ""
		}
	}
	return nil
}

func (s *MemoryStore) Uid(_ context.Context, username string) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if uid, ok := s.uids[username]; ok {
		return uid, nil
	}
	uid := s.nextUid
	s.nextUid++
	s.uids[username] = uid
	return uid, nil
}
