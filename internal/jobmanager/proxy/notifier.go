// Package proxy tells the UCloud gateway where ingress traffic for a job should be routed.
package proxy

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Route is the message consumed by the gateway. Address and Port are empty for ActionRemove.
type Route struct {
	Action  Action `json:"action"`
	Domain  string `json:"domain"`
	JobId   string `json:"jobId"`
	Address string `json:"address,omitempty"`
	Port    int32  `json:"port,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, route Route) error
}

// RedisNotifier publishes routes as JSON on a redis channel.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisNotifier(client redis.UniversalClient, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Notify(_ context.Context, route Route) error {
	data, err := json.Marshal(route)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := n.client.Publish(n.channel, data).Err(); err != nil {
		return errors.Wrapf(err, "publishing %s route for %s", route.Action, route.Domain)
	}
	return nil
}

type LoggingNotifier struct{}

func (LoggingNotifier) Notify(_ context.Context, route Route) error {
	log.WithField("jobId", route.JobId).Infof("Route %s %s -> %s:%d", route.Action, route.Domain, route.Address, route.Port)
	return nil
}
