// Command tdc builds a spike catalogue from raw binary recordings and
// inspects the resulting store.
//
//	tdc build -channels 4 -rate 20000 seg0.raw seg1.raw
//	tdc status -db catalogue.db
//	tdc export -db catalogue.db -out catalogue.json
//	tdc migrate -db catalogue.db status
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"

	sqlitestore "github.com/egaudrain/tridesclous/internal/arraystore/sqlite"
	"github.com/egaudrain/tridesclous/internal/catalogue"
	"github.com/egaudrain/tridesclous/internal/config"
	"github.com/egaudrain/tridesclous/internal/dataio"
	"github.com/egaudrain/tridesclous/internal/monitoring"
	"github.com/egaudrain/tridesclous/internal/version"
)

const defaultDB = "catalogue.db"

const usage = "usage: tdc <build|status|export|migrate|version> [flags]"

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(os.Args[1:], os.Stdout); err != nil {
		err := xerrors.New(err)
		logger.ErrorContext(context.Background(), "tdc failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return errors.New(usage)
	}
	switch args[0] {
	case "build":
		return runBuild(args[1:], stdout)
	case "status":
		return runStatus(args[1:], stdout)
	case "export":
		return runExport(args[1:], stdout)
	case "migrate":
		return runMigrate(args[1:], stdout)
	case "version":
		fmt.Fprintln(stdout, version.String())
		return nil
	default:
		return fmt.Errorf("unknown subcommand %q; %s", args[0], usage)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func runBuild(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	dbPath := fs.String("db", envOr("TDC_DB", defaultDB), "SQLite store path")
	configPath := fs.String("config", envOr("TDC_CONFIG", ""), "Catalogue config JSON (config/catalogue.defaults.json or built-in defaults when empty)")
	dtype := fs.String("dtype", string(dataio.DtypeInt16), "Raw sample type: int16, float32 or float64")
	channels := fs.Int("channels", 0, "Number of interleaved channels")
	rate := fs.Float64("rate", 0, "Sample rate in Hz")
	chanGrp := fs.Int("chan-grp", 0, "Channel group recorded in the catalogue")
	seed := fs.Uint64("seed", 0, "Random seed (overrides the config seed when set)")
	verbose := fs.Bool("v", false, "Print stage timings")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("build: at least one raw file is required")
	}
	if *channels <= 0 || *rate <= 0 {
		return errors.New("build: -channels and -rate are required")
	}

	cfg := config.DefaultCatalogueConfig()
	if *configPath == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			*configPath = config.DefaultConfigPath
		}
	}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			cfg.Seed = seed
		}
	})
	if *verbose {
		monitoring.SetLogWriters(monitoring.LogWriters{Ops: os.Stderr, Diag: os.Stderr})
	}

	src, err := dataio.LoadRawFiles(fs.Args(), dataio.RawDtype(*dtype), *channels, *rate)
	if err != nil {
		return err
	}
	store, err := sqlitestore.Open(filepath.Clean(*dbPath))
	if err != nil {
		return err
	}
	defer store.Close()

	c, err := catalogue.Open(src, store, catalogue.WithSeed(cfg.GetSeed()), catalogue.WithChanGrp(*chanGrp))
	if err != nil {
		return err
	}
	cat, err := build(c, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, c.Status().Summary())
	fmt.Fprintf(stdout, "catalogue %s: %d clusters, window [%d, %d)\n",
		cat.CatalogueID, len(cat.ClusterLabels), cat.NLeft, cat.NRight)
	return nil
}

func runStatus(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	dbPath := fs.String("db", envOr("TDC_DB", defaultDB), "SQLite store path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	store, err := openExisting(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Runs()
	if err != nil {
		return err
	}
	for _, r := range runs {
		line := fmt.Sprintf("%s  %-24s %-9s %s", r.StartedAt.Format(time.RFC3339), r.Stage, r.Status, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
		if r.Error != "" {
			line += "  " + r.Error
		}
		fmt.Fprintln(stdout, line)
	}
	cat, err := catalogue.LoadCatalogue(store)
	if errors.Is(err, catalogue.ErrPrecondition) {
		fmt.Fprintln(stdout, "no catalogue saved")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "catalogue %s created %s: %d clusters %v\n",
		cat.CatalogueID, cat.CreatedAt.Format(time.RFC3339), len(cat.ClusterLabels), cat.ClusterLabels)
	return nil
}

func runExport(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	dbPath := fs.String("db", envOr("TDC_DB", defaultDB), "SQLite store path")
	out := fs.String("out", "", "Output JSON path (stdout when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	store, err := openExisting(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	cat, err := catalogue.LoadCatalogue(store)
	if err != nil {
		return err
	}
	w := stdout
	if *out != "" {
		f, err := os.Create(filepath.Clean(*out))
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(cat)
}

// openExisting refuses to create a fresh database for read-only commands.
func openExisting(path string) (*sqlitestore.Store, error) {
	path = filepath.Clean(path)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("store %s: %w", path, err)
	}
	return sqlitestore.Open(path)
}
