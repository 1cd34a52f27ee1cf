package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottlescout/price-ingest/internal/catalog"
	"github.com/bottlescout/price-ingest/internal/config"
	"github.com/bottlescout/price-ingest/internal/domain"
	"github.com/bottlescout/price-ingest/internal/ingest"
	"github.com/bottlescout/price-ingest/internal/logger"
	"github.com/bottlescout/price-ingest/internal/mocks"
	"github.com/bottlescout/price-ingest/internal/scheduler"
	"github.com/bottlescout/price-ingest/internal/source"
	"github.com/bottlescout/price-ingest/internal/store/schema"
)

// fakeSource replays prepared records as a single page per chain
type fakeSource struct {
	chain    domain.Chain
	records  []domain.ProductRecord
	fetchErr error
	slow     time.Duration
}

func (s *fakeSource) Chain() domain.Chain      { return s.chain }
func (s *fakeSource) Mode() domain.PricingMode { return domain.PricingBroadcast }
func (s *fakeSource) Authenticated() bool      { return false }

func (s *fakeSource) FetchPages(ctx context.Context, visit func(ctx context.Context, page source.Page) error) (int, error) {
	if s.slow > 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(s.slow):
		}
	}
	if s.fetchErr != nil {
		return 0, s.fetchErr
	}
	return 0, visit(ctx, source.Page{Chain: s.chain, Number: 1})
}

func (s *fakeSource) ParsePage(page source.Page) ([]domain.ProductRecord, int) {
	return s.records, 0
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []*domain.PassReport
	err     error
}

func (r *fakeReporter) PublishReport(ctx context.Context, report *domain.PassReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.reports = append(r.reports, report)
	return nil
}

func (r *fakeReporter) Close() {}

func setupScheduler(t *testing.T, sources []source.Source, reporter *fakeReporter) (*scheduler.Scheduler, *mocks.FakeStore) {
	t.Helper()
	require.NoError(t, logger.Initialize(logger.Config{Debug: true}))

	st := mocks.NewFakeStore()
	clock := mocks.NewFakeClock(time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC))
	driver := ingest.NewDriver(ingest.NewTracker(st, clock), catalog.NewUpserter(st, clock), clock)

	sched := scheduler.NewScheduler(sources, driver, reporter, clock, config.SchedulerConfig{
		ChainTimeout:    5 * time.Second,
		InterChainDelay: 30 * time.Second, // fake clock makes this instant
	})
	t.Cleanup(sched.Close)
	return sched, st
}

func record(chain domain.Chain, sourceID string) domain.ProductRecord {
	return domain.ProductRecord{
		Chain:           chain,
		SourceProductID: sourceID,
		Name:            "Hendrick's Gin 70cl",
		Price:           34.00,
	}
}

func TestRunPass_RunsEveryChainInOrder(t *testing.T) {
	reporter := &fakeReporter{}
	srcX := &fakeSource{chain: "northcellar", records: []domain.ProductRecord{record("northcellar", "p1")}}
	srcY := &fakeSource{chain: "vintra", records: []domain.ProductRecord{record("vintra", "p1")}}
	sched, st := setupScheduler(t, []source.Source{srcX, srcY}, reporter)
	st.AddStore("northcellar", "downtown")
	st.AddStore("vintra", "harbour")

	pass, err := sched.RunPass(context.Background())
	require.NoError(t, err)

	require.Len(t, pass.Chains, 2)
	assert.Equal(t, domain.Chain("northcellar"), pass.Chains[0].Chain)
	assert.Equal(t, domain.Chain("vintra"), pass.Chains[1].Chain)
	assert.Equal(t, string(schema.RunStatusCompleted), pass.Chains[0].Status)
	assert.Equal(t, string(schema.RunStatusCompleted), pass.Chains[1].Status)
	assert.NotEmpty(t, pass.ReportID)

	require.Len(t, reporter.reports, 1)
	assert.Equal(t, pass.ReportID, reporter.reports[0].ReportID)
}

func TestRunPass_OneChainFailureDoesNotAbortThePass(t *testing.T) {
	reporter := &fakeReporter{}
	srcX := &fakeSource{chain: "northcellar", fetchErr: errors.New("catalog endpoint 500s")}
	srcY := &fakeSource{chain: "vintra", records: []domain.ProductRecord{record("vintra", "p1")}}
	sched, st := setupScheduler(t, []source.Source{srcX, srcY}, reporter)
	st.AddStore("vintra", "harbour")

	pass, err := sched.RunPass(context.Background())
	require.NoError(t, err, "a chain failure never propagates out of the pass")

	require.Len(t, pass.Chains, 2)
	assert.Equal(t, string(schema.RunStatusFailed), pass.Chains[0].Status)
	assert.Contains(t, pass.Chains[0].Error, "catalog endpoint 500s")
	assert.Equal(t, string(schema.RunStatusCompleted), pass.Chains[1].Status, "the next chain starts on schedule")
}

func TestRunPass_TimedOutChainFailsItsRunOnly(t *testing.T) {
	require.NoError(t, logger.Initialize(logger.Config{Debug: true}))

	reporter := &fakeReporter{}
	slow := &fakeSource{chain: "northcellar", slow: time.Second}
	fast := &fakeSource{chain: "vintra", records: []domain.ProductRecord{record("vintra", "p1")}}

	st := mocks.NewFakeStore()
	st.AddStore("vintra", "harbour")
	clock := mocks.NewFakeClock(time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC))
	driver := ingest.NewDriver(ingest.NewTracker(st, clock), catalog.NewUpserter(st, clock), clock)
	sched := scheduler.NewScheduler([]source.Source{slow, fast}, driver, reporter, clock, config.SchedulerConfig{
		ChainTimeout:    20 * time.Millisecond,
		InterChainDelay: time.Millisecond,
	})
	defer sched.Close()

	pass, err := sched.RunPass(context.Background())
	require.NoError(t, err)

	require.Len(t, pass.Chains, 2)
	assert.Equal(t, string(schema.RunStatusFailed), pass.Chains[0].Status)
	assert.Equal(t, string(schema.RunStatusCompleted), pass.Chains[1].Status)

	// the timed-out run still reached a terminal state in the store
	runs, err := st.GetRunsByChain(context.Background(), "northcellar", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, schema.RunStatusFailed, runs[0].Status)
}

func TestRunPass_ReporterFailureIsTolerated(t *testing.T) {
	reporter := &fakeReporter{err: errors.New("broker unreachable")}
	src := &fakeSource{chain: "northcellar", records: []domain.ProductRecord{record("northcellar", "p1")}}
	sched, st := setupScheduler(t, []source.Source{src}, reporter)
	st.AddStore("northcellar", "downtown")

	pass, err := sched.RunPass(context.Background())
	require.NoError(t, err)
	require.Len(t, pass.Chains, 1)
	assert.Equal(t, string(schema.RunStatusCompleted), pass.Chains[0].Status)
}

func TestRunPass_CanceledContextStopsTheRoster(t *testing.T) {
	reporter := &fakeReporter{}
	src := &fakeSource{chain: "northcellar"}
	sched, _ := setupScheduler(t, []source.Source{src}, reporter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pass, err := sched.RunPass(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pass.Chains)
}
