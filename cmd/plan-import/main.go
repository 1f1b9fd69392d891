package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/cargo-orchestrator/internal/domain/plan"
	"github.com/xenking/cargo-orchestrator/internal/storage/postgres"
)

const progressEvery = 10_000

// assignment is one parsed row of an import file.
type assignment struct {
	customerID   string
	customerName string
	tier         plan.Tier
}

// fileResult holds the rows read from a single file, in file order.
type fileResult struct {
	rows     []assignment
	rejected int
}

func main() {
	var (
		dataDir     string
		databaseURL string
		strict      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.csv.gz plan files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&strict, "strict", false, "fail on the first malformed row instead of skipping it")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	files := flag.Args()
	if len(files) == 0 {
		matches, err := filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
		if err != nil {
			slog.Error("list plan files", slog.String("error", err.Error()))
			os.Exit(1)
		}
		files = matches
	}
	if len(files) == 0 {
		slog.Error("no plan files found", slog.String("data_dir", dataDir))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, files, databaseURL, strict); err != nil {
		slog.Error("plan import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("plan import completed successfully")
}

func run(ctx context.Context, files []string, databaseURL string, strict bool) error {
	slog.Info("reading plan files", slog.Int("files", len(files)))

	rows, err := readFiles(ctx, files, strict)
	if err != nil {
		return errors.Wrap(err, "read plan files")
	}
	if len(rows) == 0 {
		slog.Info("no plan assignments to import")
		return nil
	}

	slog.Info("connecting to database")

	if err := postgres.RunMigrations(ctx, databaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	d, err := postgres.Open(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer d.Close()

	return writePlans(ctx, plan.NewService(postgres.NewPlanRepository(d)), rows)
}

// readFiles parses every file concurrently and merges the rows. When a
// customer appears more than once the last occurrence wins, with files taken
// in the order given.
func readFiles(ctx context.Context, files []string, strict bool) ([]assignment, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			r, err := readFile(ctx, f, strict)
			if err != nil {
				return errors.Wrapf(err, "file %s", f)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		merged   []assignment
		index    = make(map[string]int)
		rejected int
	)
	for _, r := range results {
		rejected += r.rejected
		for _, a := range r.rows {
			if i, ok := index[a.customerID]; ok {
				merged[i] = a
				continue
			}
			index[a.customerID] = len(merged)
			merged = append(merged, a)
		}
	}

	slog.Info("plan files parsed",
		slog.Int("customers", len(merged)),
		slog.Int("rejected", rejected),
	)
	return merged, nil
}

func readFile(ctx context.Context, path string, strict bool) (fileResult, error) {
	var res fileResult

	f, err := os.Open(path)
	if err != nil {
		return res, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return res, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	return parse(ctx, gz, path, strict)
}

// parse reads customer_id,customer_name,tier records. A header row whose
// first field is customer_id is skipped.
func parse(ctx context.Context, r io.Reader, name string, strict bool) (fileResult, error) {
	var res fileResult

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err == nil && n == 1 && strings.EqualFold(rec[0], "customer_id") {
			continue
		}

		a, perr := toAssignment(rec, err)
		if perr != nil {
			if strict {
				return res, errors.Wrapf(perr, "record %d", n)
			}
			res.rejected++
			slog.Warn("skipping row",
				slog.String("file", name),
				slog.Int("record", n),
				slog.String("error", perr.Error()),
			)
			continue
		}
		res.rows = append(res.rows, a)

		if len(res.rows)%progressEvery == 0 {
			slog.Info("read progress", slog.String("file", name), slog.Int("rows", len(res.rows)))
		}
	}
	return res, nil
}

func toAssignment(rec []string, readErr error) (assignment, error) {
	if readErr != nil {
		return assignment{}, readErr
	}
	id := strings.TrimSpace(rec[0])
	if id == "" {
		return assignment{}, plan.ErrNoCustomer
	}
	tier, err := plan.ParseTier(strings.TrimSpace(rec[2]))
	if err != nil {
		return assignment{}, err
	}
	return assignment{
		customerID:   id,
		customerName: strings.TrimSpace(rec[1]),
		tier:         tier,
	}, nil
}

// writePlans upserts every assignment through the plan service.
func writePlans(ctx context.Context, svc *plan.Service, rows []assignment) error {
	slog.Info("writing plans to database", slog.Int("count", len(rows)))

	for i, a := range rows {
		if _, err := svc.Assign(ctx, a.customerID, a.customerName, string(a.tier)); err != nil {
			return errors.Wrapf(err, "assign plan for %s", a.customerID)
		}

		if (i+1)%progressEvery == 0 || i+1 == len(rows) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(rows)))
		}
	}
	return nil
}
