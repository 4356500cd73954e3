package config

import (
	"time"

	"github.com/go-redis/redis"
)

// RedisConfig points at the redis instance shared by job manager replicas. A single address connects to a plain
// server, several addresses to a cluster, and MasterName switches to sentinel failover.
type RedisConfig struct {
	Addrs        []string `validate:"required,min=1,dive,hostname_port"`
	DB           int      `validate:"gte=0,lte=16"`
	Password     string
	MasterName   string
	PoolSize     int           `validate:"gte=0"`
	DialTimeout  time.Duration `validate:"gte=0"`
	ReadTimeout  time.Duration `validate:"gte=0"`
	WriteTimeout time.Duration `validate:"gte=0"`
	MaxRetries   int           `validate:"gte=0"`
}

// NewClient returns a client for the configured topology. Zero timeouts and pool sizes keep the go-redis defaults.
func (rc RedisConfig) NewClient() redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        rc.Addrs,
		DB:           rc.DB,
		Password:     rc.Password,
		MasterName:   rc.MasterName,
		PoolSize:     rc.PoolSize,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
		MaxRetries:   rc.MaxRetries,
	})
}
