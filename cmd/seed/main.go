// Command seed loads sample questions from a YAML file into the database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/observability"
	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ielts-writing-coach/internal/config"
	"github.com/fairyhunter13/ielts-writing-coach/internal/seed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	slog.SetDefault(observability.SetupLogger(cfg))

	file := flag.String("file", cfg.QuestionsSeedFile, "path to the questions YAML file")
	allowAbs := flag.Bool("allow-abs", false, "allow files outside the working directory")
	dryRun := flag.Bool("dry-run", false, "validate the file without writing")
	flag.Parse()

	if err := run(context.Background(), cfg, *file, seed.Options{AllowAbsPaths: *allowAbs}, *dryRun); err != nil {
		slog.Error("seed failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, file string, opts seed.Options, dryRun bool) error {
	if dryRun {
		qs, err := seed.LoadFile(file, opts)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d questions\n", file, len(qs))
		return nil
	}
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("op=seed.run: %w", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		return err
	}
	n, err := seed.SeedFile(ctx, postgres.NewQuestionRepo(pool), file, opts)
	if err != nil {
		return err
	}
	slog.Info("questions seeded", slog.String("file", file), slog.Int("count", n))
	return nil
}
