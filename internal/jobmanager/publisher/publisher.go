// Package publisher forwards job status updates and usage reports to the rest of UCloud.
package publisher

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/avast/retry-go"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

const networkIpProduct = "public-ip"

// Sender is the part of pulsar.Producer used for publishing.
type Sender interface {
	Send(ctx context.Context, msg *pulsar.ProducerMessage) (pulsar.MessageID, error)
}

// PulsarPublisher sends status updates and usage reports as JSON messages keyed by job id. Status updates repeating
// the last state sent for a job are dropped.
type PulsarPublisher struct {
	status      Sender
	usage       Sender
	lastState   *lru.Cache
	sendTimeout time.Duration
	now         func() time.Time
}

func NewPulsarPublisher(status Sender, usage Sender, dedupSize int, sendTimeout time.Duration) (*PulsarPublisher, error) {
	lastState, err := lru.New(dedupSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &PulsarPublisher{
		status:      status,
		usage:       usage,
		lastState:   lastState,
		sendTimeout: sendTimeout,
		now:         time.Now,
	}, nil
}

func (p *PulsarPublisher) PushStatus(ctx *ucontext.Context, update api.JobStatusUpdate) error {
	if last, ok := p.lastState.Get(update.JobId); ok && last.(api.JobState) == update.State {
		ctx.Log.Debugf("Status %s of job %s already pushed", update.State, update.JobId)
		return nil
	}
	if err := p.send(ctx, p.status, update.JobId, string(update.State), update); err != nil {
		return err
	}
	p.lastState.Add(update.JobId, update.State)
	return nil
}

func (p *PulsarPublisher) ReportUsage(ctx *ucontext.Context, report api.UsageReport) error {
	return p.send(ctx, p.usage, report.JobId, report.Product, report)
}

// ChargeNetworkIps bills owner for newly allocated public IPs through the usage topic.
func (p *PulsarPublisher) ChargeNetworkIps(ctx context.Context, owner api.Owner, count int) error {
	report := api.UsageReport{
		Owner:     owner,
		Product:   networkIpProduct,
		Replicas:  int32(count),
		Timestamp: p.now(),
	}
	return p.send(ucontext.FromContext(ctx), p.usage, owner.CreatedBy, networkIpProduct, report)
}

func (p *PulsarPublisher) send(ctx *ucontext.Context, sender Sender, key string, kind string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.WithStack(err)
	}
	msg := &pulsar.ProducerMessage{
		Payload:   data,
		Key:       key,
		EventTime: p.now(),
		Properties: map[string]string{
			"kind":    kind,
			"version": strconv.Itoa(1),
		},
	}
	return retry.Do(
		func() error {
			sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
			defer cancel()
			_, err := sender.Send(sendCtx, msg)
			return errors.WithStack(err)
		},
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			ctx.Log.WithError(err).Warnf("Sending %s message for %s failed (attempt %d)", kind, key, n+1)
		}),
	)
}
