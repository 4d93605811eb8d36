// Command catalog-import bulk loads products from gzip-compressed JSON-lines
// files. Records are validated, duplicate ids across the whole run are
// rejected, and the rest is upserted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/grup/internal/repository"
)

func main() {
	var (
		dataDir     string
		databaseURL string
		capacity    uint
		fpr         float64
		workers     int
		dryRun      bool
		strict      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.jsonl.gz catalog files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&capacity, "bloom-capacity", 10_000_000, "expected products per file")
	flag.Float64Var(&fpr, "bloom-fpr", 0.001, "bloom filter false positive rate")
	flag.IntVar(&workers, "workers", runtime.GOMAXPROCS(0), "files processed concurrently")
	flag.BoolVar(&dryRun, "dry-run", false, "validate and report without writing")
	flag.BoolVar(&strict, "strict", false, "fail before writing when any record is invalid or duplicated")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	im := &importer{
		lg:       lg,
		capacity: capacity,
		fpr:      fpr,
		workers:  max(workers, 1),
		dryRun:   dryRun,
		strict:   strict,
	}
	if err := run(ctx, im, dataDir, databaseURL); err != nil {
		lg.Fatal("Catalog import failed", zap.Error(err))
	}
	lg.Info("Catalog import completed")
}

func run(ctx context.Context, im *importer, dataDir, databaseURL string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.jsonl.gz"))
	if err != nil {
		return errors.Wrap(err, "list files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.jsonl.gz files in %s", dataDir)
	}

	if !im.dryRun {
		pool, err := repository.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()
		im.repo = repository.NewProductRepository(pool)
	}

	rep, err := im.Run(ctx, files)
	if rep != nil {
		logReport(im.lg, rep)
	}
	return err
}

func logReport(lg *zap.Logger, rep *Report) {
	for _, e := range rep.Invalid {
		lg.Warn("Invalid record", zap.Error(e))
	}
	if len(rep.Duplicates) > 0 {
		lg.Warn("Duplicate product ids skipped", zap.Strings("ids", rep.Duplicates))
	}
	lg.Info("Import report",
		zap.Int("records", rep.Records),
		zap.Int("imported", rep.Imported),
		zap.Int("invalid", len(rep.Invalid)),
		zap.Int("duplicates", len(rep.Duplicates)),
	)
}
