package catalog

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/frameplay/internal/catalog/report"
	"github.com/banshee-data/frameplay/internal/httputil"
	"github.com/banshee-data/frameplay/internal/monitoring"
)

// AttachAdminRoutes mounts the debug pages for the catalog on mux:
// tailsql over the database, a JSON run list, per-run charts and a backup
// download.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Playback catalog",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("runs", "Recent playback runs (JSON, ?limit=)", http.HandlerFunc(db.handleRuns))
	debug.Handle("run-chart", "Per-frame chart of a run (?run_id=, &format=png)", http.HandlerFunc(db.handleRunChart))
	debug.Handle("backup", "Create and download a backup of the catalog now", http.HandlerFunc(db.handleBackup))
	return nil
}

func (db *DB) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httputil.BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := db.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if runs == nil {
		runs = []*Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

func (db *DB) handleRunChart(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		httputil.BadRequest(w, "run_id is required")
		return
	}
	rep, err := db.RunReport(runID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrRunNotFound) {
			status = http.StatusNotFound
		}
		httputil.WriteJSONError(w, status, err.Error())
		return
	}

	if r.URL.Query().Get("format") == "png" {
		w.Header().Set("Content-Type", "image/png")
		if err := report.RunChartPNG(w, rep, 10*vg.Inch, 5*vg.Inch); err != nil {
			monitoring.Opsf("[catalog] run chart png: %v", err)
		}
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.RunChartHTML(w, rep); err != nil {
		monitoring.Opsf("[catalog] run chart html: %v", err)
	}
}

// RunReport loads the chart data for a run.
func (db *DB) RunReport(runID string) (report.Run, error) {
	run, err := db.GetRun(runID)
	if err != nil {
		return report.Run{}, err
	}
	frames, err := db.ListFrames(runID)
	if err != nil {
		return report.Run{}, err
	}
	rep := report.Run{RunID: run.RunID, Source: run.Source, Samples: make([]report.Sample, len(frames))}
	for i, f := range frames {
		rep.Samples[i] = report.Sample{Index: f.Index, Points: f.PointCount, LoadMS: f.LoadMS, Skipped: f.Skipped}
	}
	return rep, nil
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("frameplay-backup-%d.db", time.Now().UnixNano()))
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			monitoring.Opsf("[catalog] failed to remove backup file: %v", err)
		}
	}()

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		monitoring.Opsf("[catalog] backup copy: %v", err)
	}
}
