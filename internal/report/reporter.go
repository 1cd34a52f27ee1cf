package report

import (
	"context"

	"github.com/bottlescout/price-ingest/internal/domain"
)

// Reporter publishes pass reports to whoever watches the ingestion pipeline.
type Reporter interface {
	// PublishReport publishes the summary of a completed pass
	PublishReport(ctx context.Context, report *domain.PassReport) error
	// Close closes the underlying connection
	Close()
}

// NoopReporter discards reports. Used when no message broker is configured.
type NoopReporter struct{}

func NewNoopReporter() Reporter {
	return &NoopReporter{}
}

func (NoopReporter) PublishReport(ctx context.Context, report *domain.PassReport) error {
	return nil
}

func (NoopReporter) Close() {}
