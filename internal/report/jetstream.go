package report

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/bottlescout/price-ingest/internal/adapter"
	"github.com/bottlescout/price-ingest/internal/domain"
	"github.com/bottlescout/price-ingest/internal/logger"
)

// Config holds the configuration for NATS JetStream connection
type Config struct {
	URL            string
	StreamName     string
	SubjectPrefix  string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
}

type jetStreamReporter struct {
	nc            adapter.NatsConn
	js            adapter.JetStream
	subjectPrefix string
	json          adapter.JSON
}

// NewJetStreamReporter creates a reporter that publishes pass reports to
// NATS JetStream. When a stream name is configured, the stream is created
// or updated on connect so pass reports are durable from the first publish.
func NewJetStreamReporter(ctx context.Context, cfg Config, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (Reporter, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, js, err := natsJS.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	if cfg.StreamName != "" {
		err := js.EnsureStream(ctx, jetstream.StreamConfig{
			Name:     cfg.StreamName,
			Subjects: []string{cfg.SubjectPrefix + ".>"},
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to ensure stream %s: %w", cfg.StreamName, err)
		}
	}

	return &jetStreamReporter{
		nc:            nc,
		js:            js,
		subjectPrefix: cfg.SubjectPrefix,
		json:          jsonAdapter,
	}, nil
}

// PublishReport publishes a pass report to NATS JetStream
func (r *jetStreamReporter) PublishReport(ctx context.Context, report *domain.PassReport) error {
	logger.Debug("Publishing pass report", zap.String("report_id", report.ReportID))

	data, err := r.json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	// Format: {prefix}.pass, e.g. ingest.reports.pass
	subject := fmt.Sprintf("%s.pass", r.subjectPrefix)

	if _, err := r.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish report: %w", err)
	}

	return nil
}

// Close closes the NATS connection
func (r *jetStreamReporter) Close() {
	if r.nc == nil {
		return
	}

	r.nc.Close()
}
