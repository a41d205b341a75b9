package db

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/scenecapture/internal/httputil"
	"github.com/banshee-data/scenecapture/internal/progress"
)

// AttachAdminRoutes mounts live SQL, a backup download and a progress
// summary under /debug/ on mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Dataset DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.serveBackup))
	debug.Handle("progress", "Capture progress and row counts", http.HandlerFunc(db.serveProgress))
	return nil
}

func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("scenecapture-backup-%d.db", time.Now().UnixNano()))
	if _, err := db.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to create backup: %v", err))
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			db.log.Warnw("failed to remove backup file", "path", backupPath, "error", err)
		}
	}()

	f, err := os.Open(backupPath)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to open backup file: %v", err))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(backupPath)))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		db.log.Warnw("backup download interrupted", "error", err)
	}
}

type progressSummary struct {
	Cursor   progress.Cursor `json:"cursor"`
	Rows     map[string]int  `json:"rows"`
	Failures int             `json:"failures"`
}

func (db *DB) serveProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}
	ctx := r.Context()
	cursor, err := db.LoadProgress(ctx)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	counts, err := db.Counts(ctx)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	failures, err := db.Failures(ctx, "")
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	s := progressSummary{Cursor: cursor, Rows: make(map[string]int, len(counts)), Failures: len(failures)}
	for k, n := range counts {
		s.Rows[string(k)] = n
	}
	if err := httputil.WriteJSONOK(w, s); err != nil {
		db.log.Warnw("failed to write progress summary", "error", err)
	}
}
