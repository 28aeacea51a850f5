// Command code-ingest bulk-imports campaign-generated discount codes.
// Campaign tooling emits gzip files with one candidate code per line; this
// tool streams them, drops duplicates and malformed codes, and inserts the
// rest as SYSTEM-source codes with a single percentage rule.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/lonestarfoods/discount-engine/internal/storage/postgres"
)

const (
	bloomCapacity = 50_000_000
	bloomFPR      = 0.001
	minCodeLen    = 8
	maxCodeLen    = 10
	batchSize     = 1000
	progressEvery = 1_000_000
)

const (
	insertSystemCodeSQL = `INSERT INTO discount_codes
		(id, code, name, description, source, max_usage_per_email, created_by)
		VALUES ($1, $2, $3, $4, 'SYSTEM', 1, 'code-ingest')
		ON CONFLICT (code) DO NOTHING`

	insertSystemRuleSQL = `INSERT INTO discount_rules (id, discount_id, type, value)
		SELECT $1, id, 'PERCENTAGE', $2 FROM discount_codes
		WHERE code = $3 AND source = 'SYSTEM'
		AND NOT EXISTS (
			SELECT 1 FROM discount_rules r
			JOIN discount_codes c ON c.id = r.discount_id
			WHERE c.code = $3
		)`
)

func main() {
	var (
		databaseURL string
		campaign    string
		percent     int64
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&campaign, "campaign", "bulk import", "campaign name stored on each code")
	flag.Int64Var(&percent, "percent", 10, "percentage discount each imported code grants")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		slog.Error("at least one codes .gz file is required")
		os.Exit(1)
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if percent < 1 || percent > 100 {
		slog.Error("percent must be between 1 and 100")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, campaign, percent, files); err != nil {
		slog.Error("code ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("code ingest completed successfully")
}

func run(ctx context.Context, databaseURL, campaign string, percent int64, files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Readers stream codes into the channel; a single writer dedupes and
	// inserts. The bloom filter keeps the seen-set memory-bounded; the rare
	// false positive drops a valid code, which bulk campaigns tolerate.
	codes := make(chan string, 4*batchSize)

	g, ctx := errgroup.WithContext(ctx)
	readers, ctx := errgroup.WithContext(ctx)
	for _, f := range files {
		readers.Go(streamFile(ctx, f, codes))
	}
	g.Go(func() error {
		defer close(codes)
		return readers.Wait()
	})
	g.Go(func() error {
		return writeCodes(ctx, pool, campaign, percent, codes)
	})

	return g.Wait()
}

// streamFile reads one gzip file and sends normalized candidate codes.
func streamFile(ctx context.Context, path string, out chan<- string) func() error {
	return func() error {
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "open %s", path)
		}
		defer func() { _ = f.Close() }()

		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()

		var total, kept uint64
		scanner := bufio.NewScanner(gz)
		for scanner.Scan() {
			total++
			code := normalizeCode(scanner.Text())
			if code == "" {
				continue
			}
			kept++
			select {
			case out <- code:
			case <-ctx.Done():
				return ctx.Err()
			}
			if kept%progressEvery == 0 {
				slog.Info("read progress", slog.String("file", path), slog.Uint64("codes", kept))
			}
		}
		if err := scanner.Err(); err != nil {
			return errors.Wrapf(err, "scan %s", path)
		}

		slog.Info("file complete",
			slog.String("file", path),
			slog.Uint64("lines", total),
			slog.Uint64("candidates", kept),
		)
		return nil
	}
}

// normalizeCode upper-cases a candidate and rejects codes outside the
// campaign format: 8 to 10 alphanumeric characters.
func normalizeCode(raw string) string {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return ""
	}
	for _, c := range code {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return code
}

// writeCodes dedupes incoming codes and flushes them in batches.
func writeCodes(ctx context.Context, pool *pgxpool.Pool, campaign string, percent int64, codes <-chan string) error {
	seen := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	batch := make([]string, 0, batchSize)
	var written uint64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := insertBatch(ctx, pool, campaign, percent, batch); err != nil {
			return err
		}
		written += uint64(len(batch))
		if written%progressEvery < batchSize {
			slog.Info("write progress", slog.Uint64("written", written))
		}
		batch = batch[:0]
		return nil
	}

	for code := range codes {
		if seen.TestAndAddString(code) {
			continue
		}
		batch = append(batch, code)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	slog.Info("codes written", slog.Uint64("total", written))
	return nil
}

func insertBatch(ctx context.Context, pool *pgxpool.Pool, campaign string, percent int64, codes []string) error {
	b := &pgx.Batch{}
	description := fmt.Sprintf("%s: %d%% off", campaign, percent)
	for _, code := range codes {
		b.Queue(insertSystemCodeSQL, uuid.New().String(), code, campaign, description)
		b.Queue(insertSystemRuleSQL, uuid.New().String(), percent, code)
	}

	if err := pool.SendBatch(ctx, b).Close(); err != nil {
		return errors.Wrap(err, "insert code batch")
	}
	return nil
}
