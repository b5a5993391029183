package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/engine"
	"github.com/your-org/faceid/internal/identify"
	"github.com/your-org/faceid/internal/storage"
	"github.com/your-org/faceid/internal/vision"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Embed the gallery and print the enrolled labels",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runGallery(cmd.Context(), cfg)
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge-cache",
	Short: "Drop cached gallery embeddings of the configured feature provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := storage.NewPostgresStore(cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.PurgeEmbeddings(cmd.Context(), cfg.Vision.FeatureProvider)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d cached embeddings for %s\n", n, cfg.Vision.FeatureProvider)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(galleryCmd)
	rootCmd.AddCommand(purgeCmd)
}

func runGallery(ctx context.Context, cfg *config.Config) error {
	destroy, err := engine.InitONNX(cfg.Vision.ONNXLibrary)
	if err != nil {
		return err
	}
	defer destroy()

	kind, err := vision.ParseFeatureProviderKind(cfg.Vision.FeatureProvider)
	if err != nil {
		return err
	}
	provider, err := vision.NewFeatureProvider(kind, cfg.Vision.ModelsDir, cfg.Vision.ProviderPoolSize)
	if err != nil {
		return err
	}
	defer provider.Close()

	deps, closeDeps, err := galleryDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDeps()

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Embedding gallery"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	var skipped, cached int
	deps.Observer = func(r identify.SampleResult) {
		switch {
		case r.Err != nil:
			skipped++
			slog.Debug("sample skipped", "label", r.Label, "name", r.Name, "error", r.Err)
		case r.Cached:
			cached++
		}
		_ = bar.Add(1)
	}

	session, err := engine.BuildSession(ctx, cfg, provider, deps)
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	g := session.Gallery()
	counts := g.LabelCounts()
	for _, label := range g.Labels() {
		fmt.Printf("%-24s %d\n", label, counts[label])
	}
	fmt.Printf("\n%d samples, %d labels, %d from cache, %d skipped (source %s, provider %s)\n",
		g.Len(), len(counts), cached, skipped, g.Source(), g.Provider().Name())
	return nil
}

// galleryDeps connects the optional stores the gallery may need: MinIO when
// the gallery lives in a bucket, Postgres when --db is set.
func galleryDeps(ctx context.Context, cfg *config.Config) (engine.GalleryDeps, func(), error) {
	var deps engine.GalleryDeps
	closeFn := func() {}

	if cfg.Identification.GallerySource == engine.SourceMinIO {
		objects, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			return deps, closeFn, err
		}
		deps.Objects = objects
	}

	if useDB {
		db, err := storage.NewPostgresStore(cfg.Database)
		if err != nil {
			return deps, closeFn, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return deps, closeFn, err
		}
		deps.Cache = db
		closeFn = db.Close
	}
	return deps, closeFn, nil
}
