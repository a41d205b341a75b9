// Package export writes the persisted dataset graph as nuScenes-style JSON
// tables, one array per table under <dir>/<version>/<table>.json.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/banshee-data/scenecapture/internal/dataset"
	"github.com/banshee-data/scenecapture/internal/fsutil"
	"github.com/banshee-data/scenecapture/internal/monitoring"
)

// Result reports where the tables were written and how many rows each holds.
type Result struct {
	Dir    string
	Tables map[dataset.Kind]int
}

type Exporter struct {
	fs  fsutil.FileSystem
	log *zap.SugaredLogger
}

func New(fsys fsutil.FileSystem, log *zap.SugaredLogger) *Exporter {
	return &Exporter{fs: fsys, log: monitoring.OrNop(log)}
}

// Export writes every table in dataset.Kinds. Tables with no rows are written
// as empty arrays so the output always has the full schema.
func (e *Exporter) Export(ctx context.Context, r dataset.Reader, dir, version string) (Result, error) {
	if version == "" || strings.ContainsAny(version, `/\`) || version == "." || version == ".." {
		return Result{}, fmt.Errorf("invalid dataset version %q", version)
	}
	out := filepath.Join(dir, version)
	if err := e.fs.MkdirAll(out, 0755); err != nil {
		return Result{}, fmt.Errorf("create export directory: %w", err)
	}

	res := Result{Dir: out, Tables: make(map[dataset.Kind]int, len(dataset.Kinds))}
	for _, kind := range dataset.Kinds {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rows, err := r.Rows(ctx, kind)
		if err != nil {
			return res, fmt.Errorf("read %s: %w", kind, err)
		}
		name := filepath.Join(out, string(kind)+".json")
		data, err := encodeTable(rows)
		if err != nil {
			return res, fmt.Errorf("encode %s: %w", kind, err)
		}
		if err := e.fs.WriteFile(name, data, 0644); err != nil {
			return res, fmt.Errorf("write %s: %w", name, err)
		}
		res.Tables[kind] = len(rows)
		e.log.Debugw("exported table", "table", kind, "rows", len(rows), "path", name)
	}
	e.log.Infow("dataset exported", "dir", out, "tables", len(res.Tables))
	return res, nil
}

// encodeTable renders rows as an indented JSON array.
func encodeTable(rows []dataset.Row) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("[")
	for i, row := range rows {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  ")
		if err := json.Indent(&buf, row.Body, "  ", "  "); err != nil {
			return nil, fmt.Errorf("%s %s: %w", row.Kind, row.Token, err)
		}
	}
	if len(rows) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("]\n")
	return buf.Bytes(), nil
}
