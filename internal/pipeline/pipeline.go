package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"jwmirror/internal/domain"
	"jwmirror/internal/fetcher"
	"jwmirror/internal/logger"
	"jwmirror/internal/resolver"
	"jwmirror/internal/store"
)

// Source feeds catalog entries into a run. fn returning false stops the
// iteration early. Matches catalog.Scanner.Scan.
type Source func(ctx context.Context, fn func(domain.CatalogEntry) bool) error

// SliceSource adapts an already-loaded entry list to a Source.
func SliceSource(entries []domain.CatalogEntry) Source {
	return func(ctx context.Context, fn func(domain.CatalogEntry) bool) error {
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !fn(e) {
				return nil
			}
		}
		return nil
	}
}

// Pipeline drives entries end to end: claim, resolve, fetch, persist.
// Entries are independent; two workers never hold the same key because
// the store's pending sentinel is taken before any network call.
type Pipeline struct {
	store    store.Store
	resolver resolver.Resolver
	fetcher  *fetcher.Executor
	logger   *logger.Logger

	workers int

	// outbound caps concurrent resolve and fetch calls independently
	// of the worker count, so the pool size never dictates how hard
	// the remote API is hit.
	outbound chan struct{}
}

type Options struct {
	Workers     int
	MaxOutbound int
}

func New(s store.Store, r resolver.Resolver, f *fetcher.Executor, log *logger.Logger, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxOutbound <= 0 {
		opts.MaxOutbound = opts.Workers
	}

	return &Pipeline{
		store:    s,
		resolver: r,
		fetcher:  f,
		logger:   log,
		workers:  opts.Workers,
		outbound: make(chan struct{}, opts.MaxOutbound),
	}
}

// Summary aggregates per-status terminal outcomes of one run, plus the
// keys that needed no work because an earlier run already finished them.
type Summary struct {
	mu          sync.Mutex
	counts      map[domain.Status]int
	alreadyDone int
}

func newSummary() *Summary {
	return &Summary{counts: make(map[domain.Status]int)}
}

func (s *Summary) record(status domain.Status) {
	s.mu.Lock()
	s.counts[status]++
	s.mu.Unlock()
}

func (s *Summary) skipDone() {
	s.mu.Lock()
	s.alreadyDone++
	s.mu.Unlock()
}

func (s *Summary) Counts() map[domain.Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[domain.Status]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

func (s *Summary) AlreadyDone() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alreadyDone
}

// Run processes every entry the source yields and returns the run
// bookkeeping row. Per-entry failures never abort the run; they end up
// as failed records and summary counts.
func (p *Pipeline) Run(ctx context.Context, kind domain.EntryKind, source Source) (*domain.Run, *Summary, error) {
	run := &domain.Run{
		ID:        ksuid.New().String(),
		Kind:      kind,
		StartedAt: time.Now().UTC(),
	}

	if err := p.store.StartRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("failed to start run: %w", err)
	}

	summary := newSummary()
	jobs := make(chan domain.CatalogEntry, p.workers*2)

	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobs {
				if ctx.Err() != nil {
					continue // Drain: the feeder stops on its own
				}
				p.process(ctx, run.ID, entry, summary)
			}
		}()
	}

	feedErr := source(ctx, func(entry domain.CatalogEntry) bool {
		select {
		case jobs <- entry:
			return true
		case <-ctx.Done():
			return false
		}
	})

	close(jobs)
	wg.Wait()

	run.Counts = summary.Counts()
	if err := p.store.FinishRun(ctx, run); err != nil {
		p.logger.Error("Failed to record run %s completion: %v", run.ID, err)
	}

	if feedErr != nil && ctx.Err() == nil {
		return run, summary, fmt.Errorf("catalog iteration failed: %w", feedErr)
	}
	return run, summary, ctx.Err()
}

// process walks one entry through the state machine. Exactly one
// terminal record is written per claimed key.
func (p *Pipeline) process(ctx context.Context, runID string, entry domain.CatalogEntry, summary *Summary) {
	key := entry.Key()

	claimed, err := p.store.Claim(ctx, key, runID)
	if err != nil {
		p.logger.Error("Failed to claim %s: %v", key, err)
		return
	}
	if !claimed {
		// Terminal in an earlier run, or another worker owns it
		summary.skipDone()
		return
	}

	res, err := p.resolveGated(ctx, entry)
	if err != nil {
		if ctx.Err() != nil {
			return // Key stays pending: the next run replays it
		}
		p.logger.Error("Resolution failed for %s: %v", key, err)
		p.finish(ctx, key, runID, summary, domain.DownloadRecord{
			Status: domain.StatusFailed,
			Reason: err.Error(),
		})
		return
	}

	switch res.Outcome {
	case resolver.Unavailable:
		p.logger.Info("No asset for %s: %s", key, res.Reason)
		p.finish(ctx, key, runID, summary, domain.DownloadRecord{
			Status: domain.StatusUnavailable,
			Reason: res.Reason,
		})
		return

	case resolver.Skipped:
		p.logger.Info("Skipping %s: %s", key, res.Reason)
		p.finish(ctx, key, runID, summary, domain.DownloadRecord{
			Status: domain.StatusSkipped,
			Reason: res.Reason,
		})
		return
	}

	path, bytes, err := p.fetchGated(ctx, res.Asset, key)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Error("Fetch failed for %s: %v", key, err)
		p.finish(ctx, key, runID, summary, domain.DownloadRecord{
			Status:      domain.StatusFailed,
			ResolvedURL: res.Asset.URL,
			Reason:      err.Error(),
		})
		return
	}

	p.logger.Info("Downloaded %s (%d bytes) -> %s", key, bytes, path)
	p.finish(ctx, key, runID, summary, domain.DownloadRecord{
		Status:      domain.StatusSuccess,
		ResolvedURL: res.Asset.URL,
	})
}

func (p *Pipeline) finish(ctx context.Context, key domain.Key, runID string, summary *Summary, rec domain.DownloadRecord) {
	rec.Key = key
	rec.RunID = runID

	if err := p.store.Upsert(ctx, &rec); err != nil {
		// Storage failure aborts this entry only; the claim row stays
		// pending and the next run replays the key.
		p.logger.Error("Failed to persist %s record for %s: %v", rec.Status, key, err)
		return
	}
	summary.record(rec.Status)
}

func (p *Pipeline) resolveGated(ctx context.Context, entry domain.CatalogEntry) (resolver.Resolution, error) {
	select {
	case p.outbound <- struct{}{}:
	case <-ctx.Done():
		return resolver.Resolution{}, ctx.Err()
	}
	defer func() { <-p.outbound }()

	return p.resolver.Resolve(ctx, entry)
}

func (p *Pipeline) fetchGated(ctx context.Context, asset domain.ResolvedAsset, key domain.Key) (string, int64, error) {
	select {
	case p.outbound <- struct{}{}:
	case <-ctx.Done():
		return "", 0, ctx.Err()
	}
	defer func() { <-p.outbound }()

	return p.fetcher.Fetch(ctx, asset, key)
}
