// Package ingest routes accepted beacons to storage and the downstream queue.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eumbeacon/internal/beacon"
	"eumbeacon/internal/metrics"
	"eumbeacon/internal/queue"
)

// Delivery is one beacon as received by a transport.
type Delivery struct {
	RequestID string
	Source    string // "<transport>:<remote addr>"
	AgentID   string
	Received  time.Time
	Beacon    *beacon.Beacon
}

// Transport returns the transport prefix of Source.
func (d Delivery) Transport() string {
	if i := strings.IndexByte(d.Source, ':'); i > 0 {
		return d.Source[:i]
	}
	return "unknown"
}

// Sink consumes deliveries.
type Sink interface {
	Ingest(ctx context.Context, d Delivery) error
}

// Appender stores beacon records. Implemented by *store.Store.
type Appender interface {
	Append(source, agentID string, b *beacon.Beacon) error
}

// Publisher forwards beacons downstream. Implemented by *queue.Publisher.
type Publisher interface {
	Publish(ctx context.Context, msg queue.QueuedBeacon) error
}

// Pipeline is the collector's Sink: it stores records, publishes the beacon
// and updates metrics. Publisher and Metrics are optional.
type Pipeline struct {
	store     Appender
	publisher Publisher
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// NewPipeline builds a pipeline. publisher and m may be nil.
func NewPipeline(store Appender, publisher Publisher, m *metrics.Metrics, log zerolog.Logger) *Pipeline {
	return &Pipeline{store: store, publisher: publisher, metrics: m, log: log}
}

// Ingest handles one delivery. Empty beacons are counted and acknowledged
// without touching storage or the queue.
func (p *Pipeline) Ingest(ctx context.Context, d Delivery) error {
	start := time.Now()
	if d.RequestID == "" {
		d.RequestID = uuid.NewString()
	}
	if d.Received.IsZero() {
		d.Received = start
	}
	if d.Beacon == nil {
		d.Beacon = beacon.New()
	}

	if p.metrics != nil {
		p.metrics.BeaconsReceived.WithLabelValues(d.Transport()).Inc()
	}

	if d.Beacon.Empty() {
		if p.metrics != nil {
			p.metrics.EmptyBeacons.Inc()
		}
		p.log.Debug().
			Str("request_id", d.RequestID).
			Str("source", d.Source).
			Msg("Empty beacon acknowledged")
		return nil
	}

	if err := p.store.Append(d.Source, d.AgentID, d.Beacon); err != nil {
		p.metrics.Reject(metrics.ReasonSink)
		return fmt.Errorf("storing beacon %s: %w", d.RequestID, err)
	}

	if p.publisher != nil {
		body, err := json.Marshal(d.Beacon)
		if err != nil {
			return fmt.Errorf("encoding beacon %s: %w", d.RequestID, err)
		}
		msg := queue.QueuedBeacon{
			RequestID:  d.RequestID,
			Source:     d.Source,
			AgentID:    d.AgentID,
			ReceivedMs: d.Received.UnixMilli(),
			Records:    d.Beacon.Len(),
			Body:       body,
		}
		// Records are already stored; a queue outage is logged, not returned.
		if err := p.publisher.Publish(ctx, msg); err != nil {
			p.log.Error().Err(err).Str("request_id", d.RequestID).Msg("Failed to publish beacon")
		}
	}

	if p.metrics != nil {
		for _, r := range d.Beacon.Data() {
			if beacon.IsNil(r) {
				continue
			}
			p.metrics.RecordsReceived.WithLabelValues(r.Kind()).Inc()
		}
		p.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	}

	p.log.Debug().
		Str("request_id", d.RequestID).
		Str("source", d.Source).
		Str("agent", d.AgentID).
		Int("records", d.Beacon.Len()).
		Msg("Beacon ingested")
	return nil
}
