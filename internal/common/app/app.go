package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
)

// CreateContextWithShutdown returns a context that will report done when SIGINT or SIGTERM is received.
// The returned context logs through the standard logrus logger.
func CreateContextWithShutdown() *ucontext.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-c:
			log.Infof("Received %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ucontext.New(ctx, log.NewEntry(log.StandardLogger()))
}
