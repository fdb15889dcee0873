package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/opensource-finance/harrier/internal/domain"
)

// csvFields are the fixed column names accepted in transaction CSV files.
// ts and iban_or_acct are required; everything else falls back to defaults.
var csvRequired = []string{"ts", "iban_or_acct"}

// IngestCSV loads a CSV transaction file. Returns the ingestion summary;
// per-row parse failures are counted and recorded, not fatal.
func (i *Ingester) IngestCSV(ctx context.Context, path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return i.run(ctx, path, opts, func() (*record, error, bool) { return nil, nil, false })
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	index := make(map[string]int, len(header))
	for pos, name := range header {
		index[name] = pos
	}
	for _, required := range csvRequired {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("%w: csv is missing required column %q", domain.ErrInvalidInput, required)
		}
	}

	field := func(row []string, name string) string {
		pos, ok := index[name]
		if !ok || pos >= len(row) {
			return ""
		}
		return row[pos]
	}

	next := func() (*record, error, bool) {
		row, err := reader.Read()
		if err == io.EOF {
			return nil, nil, false
		}
		if err != nil {
			return nil, fmt.Errorf("parse_error:csv:%v", err), true
		}

		rec, err := parseRow(map[string]string{
			"external_id":   field(row, "external_id"),
			"customer_name": field(row, "customer_name"),
			"country":       field(row, "country"),
			"iban_or_acct":  field(row, "iban_or_acct"),
			"ts":            field(row, "ts"),
			"amount":        field(row, "amount"),
			"currency":      field(row, "currency"),
			"merchant":      field(row, "merchant"),
			"counterparty":  field(row, "counterparty"),
			"country_txn":   field(row, "country_txn"),
			"channel":       field(row, "channel"),
			"direction":     field(row, "direction"),
			"base_risk":     field(row, "base_risk"),
		})
		return rec, err, true
	}

	return i.run(ctx, path, opts, next)
}
