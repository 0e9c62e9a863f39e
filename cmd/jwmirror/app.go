package main

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"jwmirror/internal/config"
	"jwmirror/internal/domain"
	"jwmirror/internal/fetcher"
	"jwmirror/internal/logger"
	"jwmirror/internal/pipeline"
	"jwmirror/internal/resolver"
	"jwmirror/internal/store"
)

// appEnv holds the shared resources every subcommand needs: config,
// logger, state store and the outbound HTTP client.
type appEnv struct {
	cfg    *config.Config
	log    *logger.Logger
	store  store.Store
	client *http.Client
}

func newAppEnv(configPath string) (*appEnv, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	s, err := store.Open(cfg.Store)
	if err != nil {
		// No per-entry work can proceed without the store
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	return &appEnv{
		cfg:    cfg,
		log:    log,
		store:  s,
		client: &http.Client{Timeout: cfg.Download.Timeout},
	}, nil
}

func (a *appEnv) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("Failed to close state store: %v", err)
	}
}

// buildResolver picks the resolver implementation for an entry kind.
// The scrape fallback only knows how to find full media files on a
// rendered page, so subtitle and publication runs always use the API.
func (a *appEnv) buildResolver(kind domain.EntryKind) (resolver.Resolver, error) {
	if kind == domain.KindMedia && a.cfg.Resolver.Kind == "scrape" {
		return resolver.NewScrape(a.client, resolver.ScrapeOptions{
			BrowserlessURL:   a.cfg.Resolver.BrowserlessURL,
			BrowserlessToken: a.cfg.Resolver.BrowserlessToken,
			FinderURL:        a.cfg.Resolver.FinderURL,
			Language:         a.cfg.Language,
			MaxRetries:       a.cfg.Download.MaxRetries,
		}), nil
	}

	policy, err := resolver.PolicyFor(kind, a.cfg.Resolver.VideoLabel)
	if err != nil {
		return nil, err
	}

	return resolver.NewPubMedia(a.client, policy, resolver.PubMediaOptions{
		BaseURL:        a.cfg.Resolver.BaseURL,
		Language:       a.cfg.Language,
		FormatOrder:    a.cfg.Resolver.FormatPreference,
		ExcludeMarkers: a.cfg.Resolver.ExcludeTitleMarkers,
		MaxRetries:     a.cfg.Download.MaxRetries,
	}), nil
}

// runPipeline wires the pipeline for one entry kind and drains the
// source through it, then reports the summary.
func (a *appEnv) runPipeline(ctx context.Context, kind domain.EntryKind, source pipeline.Source) error {
	res, err := a.buildResolver(kind)
	if err != nil {
		return err
	}

	exec := fetcher.New(a.client, a.cfg.Download.OutDir, a.cfg.Download.MaxRetries, a.log)

	pipe := pipeline.New(a.store, res, exec, a.log, pipeline.Options{
		Workers:     a.cfg.Download.Workers,
		MaxOutbound: a.cfg.Download.MaxOutbound,
	})

	run, summary, err := pipe.Run(ctx, kind, source)
	if run != nil && summary != nil {
		a.printSummary(run, summary)
	}
	return err
}

func (a *appEnv) printSummary(run *domain.Run, summary *pipeline.Summary) {
	counts := summary.Counts()

	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)

	a.log.Info("Run %s finished", run.ID)
	for _, status := range statuses {
		a.log.Info("  %-12s %d", status, counts[domain.Status(status)])
	}
	if n := summary.AlreadyDone(); n > 0 {
		a.log.Info("  %-12s %d", "up-to-date", n)
	}
}
