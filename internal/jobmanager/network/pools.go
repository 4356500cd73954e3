package network

import (
	"encoding/binary"
	"net"
	"strings"

	"github.com/pkg/errors"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/uclouderrors"
)

const (
	minPrefixLength = 16
	maxPrefixLength = 32
)

// Pool is a contiguous range of IPv4 addresses.
type Pool struct {
	cidr  string
	first uint32
	size  uint32
}

// ParsePools parses CIDR pools such as 10.135.0.0/24. Only IPv4 pools with a prefix length between 16 and 32 are
// accepted.
func ParsePools(cidrs []string) ([]Pool, error) {
	pools := make([]Pool, 0, len(cidrs))
	for _, cidr := range cidrs {
		pool, err := ParsePool(cidr)
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

func ParsePool(cidr string) (Pool, error) {
	ip, network, err := net.ParseCIDR(strings.TrimSpace(cidr))
	if err != nil {
		return Pool{}, errors.WithStack(&uclouderrors.ErrInvalidArgument{
			Name:    "cidr",
			Value:   cidr,
			Message: "not a valid CIDR",
		})
	}
	if ip.To4() == nil {
		return Pool{}, errors.WithStack(&uclouderrors.ErrInvalidArgument{
			Name:    "cidr",
			Value:   cidr,
			Message: "only IPv4 pools are supported",
		})
	}
	ones, _ := network.Mask.Size()
	if ones < minPrefixLength || ones > maxPrefixLength {
		return Pool{}, errors.WithStack(&uclouderrors.ErrInvalidArgument{
			Name:    "cidr",
			Value:   cidr,
			Message: "prefix length must be between 16 and 32",
		})
	}
	return Pool{
		cidr:  network.String(),
		first: binary.BigEndian.Uint32(network.IP.To4()),
		size:  uint32(1) << (32 - ones),
	}, nil
}

func (p Pool) Size() int {
	return int(p.size)
}

// Address returns the i'th address of the pool.
func (p Pool) Address(i int) string {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, p.first+uint32(i))
	return ip.String()
}

func (p Pool) Contains(address string) bool {
	ip := net.ParseIP(address).To4()
	if ip == nil {
		return false
	}
	value := binary.BigEndian.Uint32(ip)
	return value >= p.first && value-p.first < p.size
}

func (p Pool) String() string {
	return p.cidr
}
