package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// IngestJSONL loads a JSONL transaction file, one object per line. Returns
// the ingestion summary; per-line parse failures are counted, not fatal.
func (i *Ingester) IngestJSONL(ctx context.Context, path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	next := func() (*record, error, bool) {
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var obj map[string]any
			if err := json.Unmarshal([]byte(line), &obj); err != nil {
				return nil, fmt.Errorf("parse_error:json:%v", err), true
			}

			fields := make(map[string]string, len(obj))
			for k, v := range obj {
				fields[k] = stringify(v)
			}
			rec, err := parseRow(fields)
			return rec, err, true
		}
		return nil, nil, false
	}

	return i.run(ctx, path, opts, next)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		// Integral floats print without a fraction so account references
		// survive the JSON number round trip.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
