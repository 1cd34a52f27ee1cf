// Package ingest drives one chain's pass: the run state machine, the
// fetch→parse→upsert loop and the staleness sweep.
package ingest

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/bottlescout/price-ingest/internal/adapter"
	"github.com/bottlescout/price-ingest/internal/domain"
	"github.com/bottlescout/price-ingest/internal/logger"
	"github.com/bottlescout/price-ingest/internal/store"
	"github.com/bottlescout/price-ingest/internal/store/schema"
)

// Tracker owns the IngestionRun state machine for one pass:
// running → completed | failed. Runs are persisted as running before the
// first fetch so a crash stays visible. Terminal rows never reopen; a new
// pass always creates a new run.
type Tracker struct {
	store store.Store
	clock adapter.Clock
}

// NewTracker creates a run tracker
func NewTracker(st store.Store, clock adapter.Clock) *Tracker {
	return &Tracker{
		store: st,
		clock: clock,
	}
}

// Begin creates and persists a new running ingestion run for a chain
func (t *Tracker) Begin(ctx context.Context, chain domain.Chain) (*schema.IngestionRun, error) {
	run := &schema.IngestionRun{
		ID:        ulid.Make().String(),
		Chain:     chain,
		Status:    schema.RunStatusRunning,
		StartedAt: t.clock.Now(),
	}

	if err := t.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	logger.Info("ingestion run started",
		zap.String("run_id", run.ID),
		zap.String("chain", string(chain)))
	return run, nil
}

// Complete transitions a run to completed with its totals
func (t *Tracker) Complete(ctx context.Context, run *schema.IngestionRun, outcome domain.PageOutcome) error {
	return t.finish(ctx, run, schema.RunStatusCompleted, outcome, nil)
}

// Fail transitions a run to failed, recording the cause in the run log.
// The write uses a detached context so a timed-out pass can still record its
// own failure.
func (t *Tracker) Fail(ctx context.Context, run *schema.IngestionRun, outcome domain.PageOutcome, cause error) error {
	return t.finish(context.WithoutCancel(ctx), run, schema.RunStatusFailed, outcome, cause)
}

func (t *Tracker) finish(ctx context.Context, run *schema.IngestionRun, status schema.RunStatus, outcome domain.PageOutcome, cause error) error {
	finishedAt := t.clock.Now()

	entry := map[string]string{}
	if cause != nil {
		entry["error"] = cause.Error()
	}
	if outcome.Reason != "" {
		entry["last_skip_reason"] = outcome.Reason
	}
	if outcome.PagesSkipped > 0 {
		entry["pages_skipped"] = strconv.Itoa(outcome.PagesSkipped)
	}
	var log []byte
	if len(entry) > 0 {
		log, _ = json.Marshal(entry)
	}

	err := t.store.FinishRun(ctx, run.ID, status, finishedAt, outcome.Items, outcome.Changed, outcome.Failed, datatypes.JSON(log))
	if err != nil {
		return err
	}

	run.Status = status
	run.FinishedAt = &finishedAt
	run.ItemsTotal = outcome.Items
	run.ItemsChanged = outcome.Changed
	run.ItemsFailed = outcome.Failed

	logger.Info("ingestion run finished",
		zap.String("run_id", run.ID),
		zap.String("chain", string(run.Chain)),
		zap.String("status", string(status)),
		zap.Int("items_total", outcome.Items),
		zap.Int("items_changed", outcome.Changed),
		zap.Int("items_failed", outcome.Failed))
	return nil
}

// PruneHistory deletes terminal runs older than the retention window
func (t *Tracker) PruneHistory(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	return t.store.PruneRuns(ctx, t.clock.Now().Add(-retention))
}
