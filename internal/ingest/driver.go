package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bottlescout/price-ingest/internal/adapter"
	"github.com/bottlescout/price-ingest/internal/catalog"
	"github.com/bottlescout/price-ingest/internal/domain"
	"github.com/bottlescout/price-ingest/internal/logger"
	"github.com/bottlescout/price-ingest/internal/source"
	"github.com/bottlescout/price-ingest/internal/store/schema"
)

// Driver executes one chain's pass end to end: begin the run, stream pages
// from the source through the catalog upserter, sweep stale rows, finalize
// the run.
type Driver struct {
	tracker *Tracker
	catalog *catalog.Upserter
	clock   adapter.Clock
}

// NewDriver creates a pass driver
func NewDriver(tracker *Tracker, cat *catalog.Upserter, clock adapter.Clock) *Driver {
	return &Driver{
		tracker: tracker,
		catalog: cat,
		clock:   clock,
	}
}

// RunChain runs one pass over one chain and returns its summary. The run row
// always reaches a terminal state before RunChain returns: run-fatal errors
// mark it failed and are returned to the scheduler, tolerable failures are
// folded into the totals.
func (d *Driver) RunChain(ctx context.Context, src source.Source) (domain.ChainSummary, error) {
	chain := src.Chain()
	started := d.clock.Now()

	run, err := d.tracker.Begin(ctx, chain)
	if err != nil {
		return d.summarize(chain, "", schema.RunStatusFailed, domain.PageOutcome{}, started, err), err
	}

	outcome := domain.PageOutcome{}
	seenStores := make(map[string]bool)

	fetchSkipped, fetchErr := src.FetchPages(ctx, func(ctx context.Context, page source.Page) error {
		records, skipped := src.ParsePage(page)
		outcome.Failed += skipped

		pageOutcome, err := d.catalog.UpsertBatch(ctx, chain, src.Mode(), records)
		outcome.Add(pageOutcome)
		if pageOutcome.Reason != "" {
			outcome.Reason = pageOutcome.Reason
		}
		if err != nil {
			return err
		}

		if src.Mode() == domain.PricingStoreScoped && page.StoreTag != "" {
			seenStores[page.StoreTag] = true
		}
		return nil
	})
	// a page skipped on the fetch side never produced items, so it counts
	// against the run's failure total
	outcome.PagesSkipped += fetchSkipped
	outcome.Failed += fetchSkipped
	if fetchErr != nil {
		// run-fatal: record the failure, then re-raise to the scheduler
		d.failRun(ctx, run, outcome, fetchErr)
		return d.summarize(chain, run.ID, schema.RunStatusFailed, outcome, started, fetchErr), fetchErr
	}

	// staleness sweep: demote rows of visited stores not re-observed this run
	for tag := range seenStores {
		if _, err := d.catalog.SweepStale(ctx, chain, tag, run.StartedAt); err != nil {
			if ctx.Err() != nil {
				d.failRun(ctx, run, outcome, ctx.Err())
				return d.summarize(chain, run.ID, schema.RunStatusFailed, outcome, started, ctx.Err()), ctx.Err()
			}
			logger.Warn("staleness sweep failed",
				zap.String("chain", string(chain)),
				zap.String("store_tag", tag),
				zap.Error(err))
		}
	}

	// a technically clean zero-item pass of an authenticated source is a
	// silent auth failure, not an empty catalog
	if src.Authenticated() && outcome.Items == 0 {
		d.failRun(ctx, run, outcome, domain.ErrZeroItems)
		return d.summarize(chain, run.ID, schema.RunStatusFailed, outcome, started, domain.ErrZeroItems), nil
	}

	if err := d.tracker.Complete(ctx, run, outcome); err != nil {
		return d.summarize(chain, run.ID, schema.RunStatusFailed, outcome, started, err), err
	}

	return d.summarize(chain, run.ID, schema.RunStatusCompleted, outcome, started, nil), nil
}

func (d *Driver) failRun(ctx context.Context, run *schema.IngestionRun, outcome domain.PageOutcome, cause error) {
	if err := d.tracker.Fail(ctx, run, outcome, cause); err != nil {
		logger.Error(err, zap.String("run_id", run.ID))
	}
}

func (d *Driver) summarize(chain domain.Chain, runID string, status schema.RunStatus, outcome domain.PageOutcome, started time.Time, cause error) domain.ChainSummary {
	summary := domain.ChainSummary{
		Chain:        chain,
		RunID:        runID,
		Status:       string(status),
		ItemsTotal:   outcome.Items,
		ItemsChanged: outcome.Changed,
		ItemsFailed:  outcome.Failed,
		Duration:     d.clock.Since(started),
	}
	if cause != nil {
		summary.Error = cause.Error()
	}
	return summary
}
