package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jwmirror/internal/catalog"
	"jwmirror/internal/domain"
)

func newMediaCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "media",
		Short: "Mirror full media files from the media catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalogPipeline(*configFlag, domain.KindMedia)
		},
	}
}

func newVTTCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "vtt",
		Short: "Mirror subtitle tracks from the media catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalogPipeline(*configFlag, domain.KindSubtitle)
		},
	}
}

// runCatalogPipeline is the shared driver for the media-catalog based
// commands: fetch the catalog, then stream its entries through the
// pipeline. Catalog fetch failure is fatal; everything past it is
// per-entry.
func runCatalogPipeline(configPath string, kind domain.EntryKind) error {
	env, err := newAppEnv(configPath)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env.log.Info("Downloading media catalog for language %s", env.cfg.Language)
	jsonPath, err := catalog.DownloadMedia(ctx, env.client,
		env.cfg.Catalog.MediaURL, env.cfg.Catalog.WorkDir, env.cfg.Language)
	if err != nil {
		return err
	}

	scanner := catalog.NewScanner(jsonPath, kind)

	err = env.runPipeline(ctx, kind, scanner.Scan)

	if n := scanner.Malformed(); n > 0 {
		env.log.Warn("Skipped %d malformed catalog lines", n)
	}
	return err
}
