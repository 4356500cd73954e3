package publisher

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

// LoggingPublisher only logs. It is used when no pulsar is configured.
type LoggingPublisher struct{}

func (LoggingPublisher) PushStatus(ctx *ucontext.Context, update api.JobStatusUpdate) error {
	ctx.Log.WithField("jobId", update.JobId).Infof("Job is now %s %s", update.State, update.Message)
	return nil
}

func (LoggingPublisher) ReportUsage(ctx *ucontext.Context, report api.UsageReport) error {
	ctx.Log.WithField("jobId", report.JobId).Infof("Charging %s for %dms of %s", report.Owner.CreatedBy, report.ElapsedMillis, report.Product)
	return nil
}

func (LoggingPublisher) ChargeNetworkIps(_ context.Context, owner api.Owner, count int) error {
	log.Infof("Charging %s for %d network ips", owner.CreatedBy, count)
	return nil
}
