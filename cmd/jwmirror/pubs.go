package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jwmirror/internal/catalog"
	"jwmirror/internal/domain"
	"jwmirror/internal/pipeline"
)

func newPubsCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pubs",
		Short: "Mirror publication bundles from the publication catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPubsPipeline(*configFlag)
		},
	}
}

func runPubsPipeline(configPath string) error {
	env, err := newAppEnv(configPath)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env.log.Info("Fetching publication catalog snapshot")
	dbPath, err := catalog.FetchPublicationCatalog(ctx, env.client,
		env.cfg.Catalog.PublicationManifestURL, env.cfg.Catalog.PublicationCatalogURL,
		env.cfg.Catalog.WorkDir)
	if err != nil {
		return err
	}

	entries, err := catalog.Publications(ctx, dbPath)
	if err != nil {
		return err
	}
	env.log.Info("Publication catalog lists %d publications", len(entries))

	return env.runPipeline(ctx, domain.KindPublication, pipeline.SliceSource(entries))
}
