package lock

import (
	"context"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

// RedisLock stores the holder under a key with a TTL. Acquisition uses SET NX PX; renewal and release watch the key
// so that a lease taken over by another instance in the meantime is never extended or deleted.
type RedisLock struct {
	db     redis.UniversalClient
	key    string
	holder string
}

func NewRedisLock(db redis.UniversalClient, key string, holder string) *RedisLock {
	return &RedisLock{db: db, key: key, holder: holder}
}

func (l *RedisLock) TryAcquire(ctx context.Context, duration time.Duration) (bool, error) {
	acquired, err := l.db.SetNX(l.key, l.holder, duration).Result()
	if err != nil {
		return false, errors.WithStack(err)
	}
	if acquired {
		return true, nil
	}
	// Already holding the lease counts as acquiring it.
	return l.Renew(ctx, duration)
}

func (l *RedisLock) Renew(_ context.Context, duration time.Duration) (bool, error) {
	renewed := false
	err := l.db.Watch(func(tx *redis.Tx) error {
		holder, err := tx.Get(l.key).Result()
		if err == redis.Nil {
			return nil
		} else if err != nil {
			return err
		}
		if holder != l.holder {
			return nil
		}
		_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
			pipe.PExpire(l.key, duration)
			return nil
		})
		if err == nil {
			renewed = true
		}
		return err
	}, l.key)

	if err == redis.TxFailedErr {
		return false, nil
	}
	return renewed, errors.WithStack(err)
}

func (l *RedisLock) Release(_ context.Context) error {
	err := l.db.Watch(func(tx *redis.Tx) error {
		holder, err := tx.Get(l.key).Result()
		if err == redis.Nil || (err == nil && holder != l.holder) {
			return nil
		} else if err != nil {
			return err
		}
		_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
			pipe.Del(l.key)
			return nil
		})
		return err
	}, l.key)

	if err == redis.TxFailedErr {
		return nil
	}
	return errors.WithStack(err)
}

func (l *RedisLock) Holder() string {
	return l.holder
}
