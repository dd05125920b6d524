package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/app"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/config"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/logging"
)

const usage = "expected 'export', 'import' or 'reproject' subcommands"

func main() {
	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)
	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	importFile := importCmd.String("file", "", "JSON file to import")
	reprojectCmd := flag.NewFlagSet("reproject", flag.ExitOnError)

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: "console"})

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	switch os.Args[1] {
	case "export":
		_ = exportCmd.Parse(os.Args[2:])
		err = doExport(ctx, a)
	case "import":
		_ = importCmd.Parse(os.Args[2:])
		if *importFile == "" {
			importCmd.PrintDefaults()
			os.Exit(1)
		}
		err = doImport(ctx, a, *importFile)
	case "reproject":
		_ = reprojectCmd.Parse(os.Args[2:])
		err = doReproject(ctx, a)
	default:
		fmt.Println(usage)
		os.Exit(1)
	}
	if err != nil {
		logging.Error().Err(err).Str("command", os.Args[1]).Msg("command failed")
		_ = a.Close()
		os.Exit(1)
	}
}

// doExport writes every link, archived ones included, as JSON to stdout.
func doExport(ctx context.Context, a *app.App) error {
	links, err := a.Repo.Dump(ctx)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(links)
}

// doImport loads links through the write path, so each record is projected
// to the edge cache as soon as it is stored.
func doImport(ctx context.Context, a *app.App, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("open %s: %w", filename, err)
	}
	defer file.Close()

	var links []domain.LinkRecord
	if err := json.NewDecoder(file).Decode(&links); err != nil {
		return fmt.Errorf("decode %s: %w", filename, err)
	}

	results, err := a.Links.Import(ctx, links)
	if err != nil {
		return err
	}

	imported, degraded := 0, 0
	for _, res := range results {
		switch {
		case res.Err != nil:
			logging.Warn().Err(res.Err).Str("key", res.Key).Msg("Failed to import")
		case res.Cache == domain.SyncDegraded:
			degraded++
			imported++
		default:
			imported++
		}
	}
	logging.Info().Int("imported", imported).Int("degraded", degraded).Int("total", len(links)).Msg("Import finished")
	return nil
}

// doReproject rewrites the projection of every link, e.g. after an edge
// cache flush. Archived links get a tombstone.
func doReproject(ctx context.Context, a *app.App) error {
	links, err := a.Repo.Dump(ctx)
	if err != nil {
		return err
	}
	mutations := make([]domain.Mutation, len(links))
	for i := range links {
		mutations[i] = domain.Mutation{Kind: domain.MutationCreate, Record: &links[i]}
	}
	counts := map[string]int{}
	for _, st := range a.Projector.OnBulkMutation(ctx, mutations) {
		counts[st.String()]++
	}
	logging.Info().Interface("status", counts).Int("links", len(links)).Msg("Reprojection finished")
	return nil
}
