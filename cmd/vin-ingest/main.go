// Command vin-ingest loads vehicle unit manifests into the database.
//
// Manufacturers and auction houses publish large gzipped VIN manifests that
// overlap heavily and contain typos and retracted entries. A VIN is trusted
// only when it appears in at least two independent feeds; single-feed VINs
// are discarded. The cross-feed check uses per-feed bloom filters so the full
// set never has to fit in memory at once.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/dealdesk/internal/storage/postgres"
)

const (
	bloomCapacity = 50_000_000
	bloomFPR      = 0.001
	numFeeds      = 3
	progressEvery = 5_000_000
	vinLen        = 17
)

// unitRecord is one parsed manifest line: VIN plus the catalog item it
// belongs to.
type unitRecord struct {
	vin           string
	catalogItemID string
}

// feedResult holds candidate VINs found in a single feed during pass 2.
type feedResult struct {
	candidates map[string]uint
	items      map[string]string
}

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing unitfeedN.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("vin ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("vin ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	feeds := make([]string, numFeeds)
	for i := range numFeeds {
		feeds[i] = filepath.Join(dataDir, fmt.Sprintf("unitfeed%d.gz", i+1))
	}
	for _, f := range feeds {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check feed %s", f)
		}
	}

	// Pass 1: build one bloom filter per feed, concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("feeds", numFeeds))

	filters, err := buildBloomFilters(ctx, feeds)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: find VINs appearing in 2+ feeds.
	slog.Info("pass 2: finding cross-feed VINs")

	units, err := findTrustedUnits(ctx, feeds, filters)
	if err != nil {
		return errors.Wrap(err, "find trusted units")
	}

	slog.Info("trusted units found", slog.Int("count", len(units)))

	if len(units) == 0 {
		slog.Info("no units to insert")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeUnits(ctx, pool, units); err != nil {
		return errors.Wrap(err, "write units to database")
	}

	return nil
}

// buildBloomFilters creates one bloom filter per feed, concurrently.
func buildBloomFilters(ctx context.Context, feeds []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(feeds))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range feeds {
		g.Go(buildFilterForFeed(ctx, i, f, filters))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

func buildFilterForFeed(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var count uint64

		if err := streamGzFeed(ctx, path, func(rec unitRecord) {
			filter.AddString(rec.vin)
			count++
			if count%progressEvery == 0 {
				slog.Info("pass 1 progress",
					slog.Int("feed", idx+1),
					slog.Uint64("vins", count),
				)
			}
		}); err != nil {
			return errors.Wrapf(err, "build filter for feed %d", idx+1)
		}

		slog.Info("pass 1 complete",
			slog.Int("feed", idx+1),
			slog.Uint64("total_vins", count),
		)

		filters[idx] = filter
		return nil
	}
}

// findTrustedUnits re-streams each feed and checks VINs against OTHER feeds'
// bloom filters. A VIN is trusted if it appears in 2 or more feeds.
func findTrustedUnits(ctx context.Context, feeds []string, filters []*bloom.BloomFilter) ([]unitRecord, error) {
	results := make([]feedResult, len(feeds))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range feeds {
		g.Go(findCandidatesInFeed(ctx, i, f, filters, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge bitmasks from all feeds.
	merged := make(map[string]uint)
	items := make(map[string]string)
	for _, r := range results {
		for vin, mask := range r.candidates {
			merged[vin] |= mask
			if _, ok := items[vin]; !ok {
				items[vin] = r.items[vin]
			}
		}
	}

	// Keep VINs appearing in 2+ feeds.
	var trusted []unitRecord
	for vin, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			trusted = append(trusted, unitRecord{vin: vin, catalogItemID: items[vin]})
		}
	}

	return trusted, nil
}

func findCandidatesInFeed(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	results []feedResult,
) func() error {
	return func() error {
		candidates := make(map[string]uint)
		items := make(map[string]string)
		feedBit := uint(1) << uint(idx)
		var count uint64

		if err := streamGzFeed(ctx, path, func(rec unitRecord) {
			count++
			if count%progressEvery == 0 {
				slog.Info("pass 2 progress",
					slog.Int("feed", idx+1),
					slog.Uint64("vins", count),
				)
			}

			// Check whether this VIN appears in any OTHER feed's bloom filter.
			for j, f := range filters {
				if j == idx {
					continue
				}
				if f.TestString(rec.vin) {
					candidates[rec.vin] |= feedBit
					items[rec.vin] = rec.catalogItemID
					break
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "scan feed %d for candidates", idx+1)
		}

		slog.Info("pass 2 complete",
			slog.Int("feed", idx+1),
			slog.Uint64("total_vins", count),
			slog.Int("candidates", len(candidates)),
		)

		results[idx] = feedResult{candidates: candidates, items: items}
		return nil
	}
}

// streamGzFeed opens a gzip-compressed manifest and calls fn for each valid
// line. Lines are "VIN,CATALOG_ITEM_ID"; malformed lines and VINs of the
// wrong length are skipped.
func streamGzFeed(ctx context.Context, path string, fn func(rec unitRecord)) error {
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

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		vin, itemID, ok := strings.Cut(scanner.Text(), ",")
		if !ok || len(vin) != vinLen || itemID == "" {
			continue
		}
		fn(unitRecord{vin: vin, catalogItemID: itemID})
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

// writeUnits upserts all trusted units as available inventory. Already known
// VINs are left untouched: a re-run must not flip sold units back.
func writeUnits(ctx context.Context, pool *pgxpool.Pool, units []unitRecord) error {
	slog.Info("writing units to database", slog.Int("count", len(units)))

	for i, u := range units {
		if _, err := pool.Exec(ctx, `
			INSERT INTO vehicle_units (vin, catalog_item_id, status)
			VALUES ($1, $2, 'available')
			ON CONFLICT (vin) DO NOTHING
		`, u.vin, u.catalogItemID); err != nil {
			return errors.Wrapf(err, "upsert unit %s", u.vin)
		}

		if (i+1)%100 == 0 || i+1 == len(units) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(units)))
		}
	}

	return nil
}
