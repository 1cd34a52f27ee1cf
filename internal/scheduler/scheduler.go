package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bottlescout/price-ingest/internal/adapter"
	"github.com/bottlescout/price-ingest/internal/config"
	"github.com/bottlescout/price-ingest/internal/domain"
	"github.com/bottlescout/price-ingest/internal/ingest"
	"github.com/bottlescout/price-ingest/internal/logger"
	"github.com/bottlescout/price-ingest/internal/report"
	"github.com/bottlescout/price-ingest/internal/source"
)

// Scheduler runs ingestion passes over a fixed roster of chain sources.
// Chains run strictly one at a time: a single-worker result pool serializes
// every pass, so no two chains ever touch the catalog concurrently.
type Scheduler struct {
	sources   []source.Source
	driver    *ingest.Driver
	reporter  report.Reporter
	clock     adapter.Clock
	cfg       config.SchedulerConfig
	pool      pond.ResultPool[domain.ChainSummary]
	closeOnce sync.Once
}

// NewScheduler creates a scheduler over the given sources
func NewScheduler(sources []source.Source, driver *ingest.Driver, reporter report.Reporter, clock adapter.Clock, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		sources:  sources,
		driver:   driver,
		reporter: reporter,
		clock:    clock,
		cfg:      cfg,
		pool:     pond.NewResultPool[domain.ChainSummary](1),
	}
}

// RunPass executes one full pass: every configured chain in roster order,
// each under its own timeout. A chain's failure never aborts the pass; its
// summary records the failure and the next chain starts on schedule. The
// returned error is non-nil only when the pass context itself was canceled.
func (s *Scheduler) RunPass(ctx context.Context) (*domain.PassReport, error) {
	pass := &domain.PassReport{
		ReportID:  uuid.NewString(),
		StartedAt: s.clock.Now(),
	}

	logger.Info("Starting ingestion pass",
		zap.String("report_id", pass.ReportID),
		zap.Int("chains", len(s.sources)))

	for i, src := range s.sources {
		if ctx.Err() != nil {
			break
		}

		summary := s.runChain(ctx, src)
		pass.Chains = append(pass.Chains, summary)

		logger.Info("Chain pass finished",
			zap.String("chain", string(summary.Chain)),
			zap.String("status", summary.Status),
			zap.Int("items_total", summary.ItemsTotal),
			zap.Int("items_changed", summary.ItemsChanged),
			zap.Int("items_failed", summary.ItemsFailed),
			zap.Duration("duration", summary.Duration))

		if i < len(s.sources)-1 {
			if err := s.pause(ctx, s.cfg.InterChainDelay); err != nil {
				break
			}
		}
	}

	pass.FinishedAt = s.clock.Now()
	s.publish(ctx, pass)

	return pass, ctx.Err()
}

// runChain submits one chain pass to the single-worker pool and waits for
// its summary. The per-chain timeout covers everything the driver does,
// including the terminal run write.
func (s *Scheduler) runChain(ctx context.Context, src source.Source) domain.ChainSummary {
	chainCtx, cancel := context.WithTimeout(ctx, s.cfg.ChainTimeout)
	defer cancel()

	task := s.pool.Submit(func() domain.ChainSummary {
		summary, err := s.driver.RunChain(chainCtx, src)
		if err != nil {
			logger.Error(err,
				zap.String("chain", string(src.Chain())),
				zap.String("run_id", summary.RunID))
		}
		return summary
	})

	summary, err := task.Wait()
	if err != nil {
		// pool-level failure, e.g. a panic inside the pass
		logger.Error(err, zap.String("chain", string(src.Chain())))
		return domain.ChainSummary{
			Chain:  src.Chain(),
			Status: "failed",
			Error:  err.Error(),
		}
	}
	return summary
}

func (s *Scheduler) pause(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}

func (s *Scheduler) publish(ctx context.Context, pass *domain.PassReport) {
	if err := s.reporter.PublishReport(ctx, pass); err != nil {
		logger.Warn("Failed to publish pass report",
			zap.String("report_id", pass.ReportID),
			zap.Error(err))
	}
}

// Close drains the worker pool. Safe to call more than once.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.pool.StopAndWait()
	})
}
