package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/ingest"
)

func newIngestCmd() *cobra.Command {
	var (
		correlationID string
		actor         string
		format        string
	)

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Load a CSV or JSONL transaction file",
		Long:  "Idempotently loads transactions from a file. The format is taken from the file extension unless --format overrides it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			d, err := buildDependencies()
			if err != nil {
				return err
			}
			defer d.repo.Close()

			cacheImpl, err := cache.New(d.cfg.Cache)
			if err != nil {
				return fmt.Errorf("initializing cache: %w", err)
			}
			defer cacheImpl.Close()

			ing := ingest.NewIngester(d.repo, d.chain, cacheImpl, d.cfg.Ingest, d.configHash, slog.Default())
			opts := ingest.Options{CorrelationID: correlationID, Actor: actor}

			if format == "" {
				format = strings.TrimPrefix(filepath.Ext(path), ".")
			}

			var res *ingest.Result
			switch format {
			case "csv":
				res, err = ing.IngestCSV(ctx, path, opts)
			case "jsonl", "ndjson":
				res, err = ing.IngestJSONL(ctx, path, opts)
			default:
				return fmt.Errorf("unsupported format %q (want csv or jsonl)", format)
			}
			if err != nil {
				return fmt.Errorf("ingesting %s: %w", path, err)
			}

			fmt.Printf("Ingested %s: %d read, %d inserted, %d rejected in %s (correlation %s)\n",
				path, res.RowsRead, res.RowsInserted, res.RowsRejected, res.Duration.Round(1e6), res.CorrelationID)
			return nil
		},
	}

	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation id for the ingest audit entry")
	cmd.Flags().StringVar(&actor, "actor", "", "Actor label recorded in the audit trail")
	cmd.Flags().StringVar(&format, "format", "", "File format: csv or jsonl (default: file extension)")
	return cmd
}
