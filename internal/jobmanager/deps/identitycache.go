package deps

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
)

// IdentityResolver maps usernames to numeric uids.
type IdentityResolver interface {
	Uid(ctx context.Context, username string) (int64, error)
}

// IdentityCache remembers uids of recently seen users. Uids never change once assigned.
type IdentityCache struct {
	cache    *lru.Cache
	resolver IdentityResolver
}

func NewIdentityCache(size int, resolver IdentityResolver) (*IdentityCache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &IdentityCache{cache: cache, resolver: resolver}, nil
}

// Uid implements names.UidLookup.
func (c *IdentityCache) Uid(ctx *ucontext.Context, username string) (int64, error) {
	if uid, ok := c.cache.Get(username); ok {
		return uid.(int64), nil
	}
	uid, err := c.resolver.Uid(ctx, username)
	if err != nil {
		return 0, err
	}
	c.cache.Add(username, uid)
	return uid, nil
}
