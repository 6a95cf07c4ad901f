package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/signalsfoundry/ais-contact-manager/internal/logging"
	"github.com/signalsfoundry/ais-contact-manager/model"
)

// ErrEmptyPayload is returned by Handle for blank messages.
var ErrEmptyPayload = errors.New("empty report payload")

// ErrIncompleteReport is returned for a report missing mmsi or
// timestamp_ms.
var ErrIncompleteReport = errors.New("incomplete report")

// Sink accepts decoded snapshots. *contacts.Manager implements it.
type Sink interface {
	Report(s model.Snapshot)
}

// Ingestor consumes position reports that an upstream AIS decoder
// publishes on a redis channel, one JSON report or an array of them per
// message.
type Ingestor struct {
	redis   *redis.Client
	channel string
	sink    Sink
	log     logging.Logger
	metrics Metrics

	readyOnce sync.Once
	ready     chan struct{}
}

// NewIngestor builds an ingestor for channel. metrics may be nil.
func NewIngestor(rdb *redis.Client, channel string, sink Sink, log logging.Logger, metrics Metrics) *Ingestor {
	if log == nil {
		log = logging.Noop()
	}
	return &Ingestor{
		redis:   rdb,
		channel: channel,
		sink:    sink,
		log:     log,
		metrics: metrics,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the redis subscription is confirmed.
func (in *Ingestor) Ready() <-chan struct{} { return in.ready }

// Run subscribes and forwards reports until ctx is done or the
// subscription fails. Malformed messages are logged and skipped.
func (in *Ingestor) Run(ctx context.Context) error {
	if in.redis == nil {
		return errors.New("ingestor: no redis client")
	}
	pubsub := in.redis.Subscribe(ctx, in.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", in.channel, err)
	}
	in.readyOnce.Do(func() { close(in.ready) })
	in.log.Info(ctx, "ingesting position reports", logging.String("channel", in.channel))

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			n, err := in.Handle([]byte(msg.Payload))
			if err != nil {
				in.log.Warn(ctx, "skipping malformed position report",
					logging.String("channel", msg.Channel),
					logging.Err(err),
				)
				continue
			}
			in.log.Debug(ctx, "position reports ingested", logging.Int("count", n))
		}
	}
}

// Handle decodes payload and forwards every report to the sink. It returns
// the number of reports accepted.
func (in *Ingestor) Handle(payload []byte) (int, error) {
	reports, err := DecodeReports(payload)
	if err != nil {
		in.countIngested(false)
		return 0, err
	}
	for _, r := range reports {
		in.sink.Report(r.Snapshot())
		in.countIngested(true)
	}
	return len(reports), nil
}

// inboundReport shadows the required Report fields with pointers so an
// absent key is told apart from zero.
type inboundReport struct {
	model.Report
	MMSI        *model.MMSI `json:"mmsi"`
	TimestampMs *int64      `json:"timestamp_ms"`
}

func (r inboundReport) report() (model.Report, error) {
	switch {
	case r.MMSI == nil:
		return model.Report{}, fmt.Errorf("%w: mmsi is required", ErrIncompleteReport)
	case r.TimestampMs == nil:
		return model.Report{}, fmt.Errorf("%w: timestamp_ms is required", ErrIncompleteReport)
	}
	out := r.Report
	out.MMSI = *r.MMSI
	out.TimestampMs = *r.TimestampMs
	return out, nil
}

// DecodeReports accepts a single JSON report object or an array of them.
// Every report must carry mmsi and timestamp_ms; one incomplete report
// rejects the whole payload.
func DecodeReports(payload []byte) ([]model.Report, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, ErrEmptyPayload
	}
	var inbound []inboundReport
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &inbound); err != nil {
			return nil, fmt.Errorf("decode reports: %w", err)
		}
	} else {
		var r inboundReport
		if err := json.Unmarshal(trimmed, &r); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		inbound = append(inbound, r)
	}

	reports := make([]model.Report, 0, len(inbound))
	for i, r := range inbound {
		report, err := r.report()
		if err != nil {
			return nil, fmt.Errorf("report %d: %w", i, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (in *Ingestor) countIngested(ok bool) {
	if in.metrics != nil {
		in.metrics.IncIngested(ok)
	}
}
