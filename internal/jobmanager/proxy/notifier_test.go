package proxy

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisNotifier_PublishFailsWhenServerGone(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: 0})
	defer client.Close()

	server.Close()

	err = NewRedisNotifier(client, "routes").Notify(context.Background(), Route{Action: ActionAdd, Domain: "app-abcde.cloud.sdu.dk"})
	assert.Error(t, err)
}

func TestLoggingNotifier(t *testing.T) {
	assert.NoError(t, LoggingNotifier{}.Notify(context.Background(), Route{Action: ActionRemove, Domain: "x"}))
}
