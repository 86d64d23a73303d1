package harvest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/govbrnews/harvester/internal/metrics"
	"github.com/govbrnews/harvester/internal/source"
)

// Extractor produces the raw items of one source for a date window.
type Extractor interface {
	Extract(ctx context.Context, src source.Endpoint, minDate, maxDate time.Time) ([]RawItem, error)
}

// Store persists canonical records idempotently.
type Store interface {
	Insert(ctx context.Context, records []Record, allowUpdate bool) (int, []StoredRecord, error)
}

// Notifier publishes stored-record notifications. Best effort; the
// returned count is informational only.
type Notifier interface {
	Notify(ctx context.Context, stored []StoredRecord) int
}

// Request describes one harvest invocation.
type Request struct {
	Sources     []string
	Family      source.Family
	MinDate     time.Time
	MaxDate     time.Time
	Sequential  bool
	AllowUpdate bool
}

// Coordinator runs extraction across many independently-failing sources
// and funnels results through normalization into storage.
type Coordinator struct {
	table       *source.Table
	extractor   Extractor
	normalizer  *Normalizer
	store       Store
	notifier    Notifier
	logger      *zap.Logger
	bulkWorkers int
}

// NewCoordinator constructs a Coordinator. notifier may be nil.
func NewCoordinator(
	table *source.Table,
	extractor Extractor,
	normalizer *Normalizer,
	store Store,
	notifier Notifier,
	bulkWorkers int,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bulkWorkers <= 0 {
		bulkWorkers = 1
	}
	return &Coordinator{
		table:       table,
		extractor:   extractor,
		normalizer:  normalizer,
		store:       store,
		notifier:    notifier,
		logger:      logger,
		bulkWorkers: bulkWorkers,
	}
}

// Run executes one harvest. Per-source failures of any kind are collected
// into the returned metrics and never abort the run; the only error Run
// itself returns is a bulk-mode storage failure, which is fatal to the
// whole batch.
func (c *Coordinator) Run(ctx context.Context, req Request) (RunMetrics, error) {
	start := time.Now()
	mode := "bulk"
	if req.Sequential {
		mode = "sequential"
	}
	defer func() { metrics.ObserveRun(mode, time.Since(start)) }()

	m := RunMetrics{
		AgenciesProcessed: []string{},
		Errors:            []SourceError{},
	}

	endpoints, failures := c.table.Resolve(req.Sources, req.Family)
	for _, f := range failures {
		m.Errors = append(m.Errors, SourceError{Agency: f.Key, Error: f.Reason})
		c.logger.Warn("skipping source", zap.String("agency", f.Key), zap.String("reason", f.Reason))
	}

	if req.Sequential {
		c.runSequential(ctx, req, endpoints, &m)
		return m, nil
	}
	return m, c.runBulk(ctx, req, endpoints, &m)
}

// runSequential processes each source fully before the next. A storage
// failure is recorded against its source and later sources still run.
func (c *Coordinator) runSequential(ctx context.Context, req Request, endpoints []source.Endpoint, m *RunMetrics) {
	for _, ep := range endpoints {
		items, err := c.extractor.Extract(ctx, ep, req.MinDate, req.MaxDate)
		if err != nil {
			c.recordFailure(m, ep.Key, err)
			continue
		}
		if len(items) == 0 {
			c.logger.Info("no news found", zap.String("agency", ep.Key))
			m.AgenciesProcessed = append(m.AgenciesProcessed, ep.Key)
			continue
		}

		m.ArticlesScraped += len(items)
		metrics.ObserveScraped(ep.Key, len(items))

		saved, err := c.storeAndNotify(ctx, c.normalizer.Normalize(items), req.AllowUpdate)
		if err != nil {
			c.recordFailure(m, ep.Key, err)
			continue
		}
		m.ArticlesSaved += saved
		m.AgenciesProcessed = append(m.AgenciesProcessed, ep.Key)
	}
}

// runBulk extracts every source first, then normalizes and stores the
// concatenation as one batch. A storage failure here aborts the batch.
func (c *Coordinator) runBulk(ctx context.Context, req Request, endpoints []source.Endpoint, m *RunMetrics) error {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		allItems []RawItem
	)

	work := make(chan source.Endpoint)
	for i := 0; i < c.bulkWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ep := range work {
				items, err := c.extractor.Extract(ctx, ep, req.MinDate, req.MaxDate)
				mu.Lock()
				if err != nil {
					c.recordFailure(m, ep.Key, err)
				} else {
					if len(items) == 0 {
						c.logger.Info("no news found", zap.String("agency", ep.Key))
					} else {
						allItems = append(allItems, items...)
						metrics.ObserveScraped(ep.Key, len(items))
					}
					m.AgenciesProcessed = append(m.AgenciesProcessed, ep.Key)
				}
				mu.Unlock()
			}
		}()
	}
	for _, ep := range endpoints {
		work <- ep
	}
	close(work)
	wg.Wait()

	if len(allItems) == 0 {
		c.logger.Info("no news found for any source")
		return nil
	}

	m.ArticlesScraped = len(allItems)
	saved, err := c.storeAndNotify(ctx, c.normalizer.Normalize(allItems), req.AllowUpdate)
	if err != nil {
		return fmt.Errorf("store batch: %w", err)
	}
	m.ArticlesSaved = saved
	return nil
}

// storeAndNotify inserts normalized records and fires best-effort
// notifications for the newly stored rows. Notification never affects the
// returned result.
func (c *Coordinator) storeAndNotify(ctx context.Context, records []Record, allowUpdate bool) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	saved, stored, err := c.store.Insert(ctx, records, allowUpdate)
	if err != nil {
		return 0, err
	}
	metrics.ObserveSaved(saved)
	if c.notifier != nil && len(stored) > 0 {
		published := c.notifier.Notify(ctx, stored)
		c.logger.Info("notifications published",
			zap.Int("published", published),
			zap.Int("stored", len(stored)),
		)
	}
	return saved, nil
}

func (c *Coordinator) recordFailure(m *RunMetrics, agency string, err error) {
	m.Errors = append(m.Errors, SourceError{Agency: agency, Error: err.Error()})
	metrics.ObserveSourceFailure(agency)
	c.logger.Error("source failed", zap.String("agency", agency), zap.Error(err))
}
