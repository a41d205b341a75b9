package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banshee-data/scenecapture/internal/capture"
	"github.com/banshee-data/scenecapture/internal/config"
	"github.com/banshee-data/scenecapture/internal/dataset"
	"github.com/banshee-data/scenecapture/internal/db"
	"github.com/banshee-data/scenecapture/internal/export"
	"github.com/banshee-data/scenecapture/internal/fsutil"
	"github.com/banshee-data/scenecapture/internal/monitoring"
	"github.com/banshee-data/scenecapture/internal/report"
	"github.com/banshee-data/scenecapture/internal/sim"
	"github.com/banshee-data/scenecapture/internal/sim/synthetic"
)

func (a *app) generateCmd() *cobra.Command {
	var (
		fresh         bool
		metricsListen string
	)
	cmd := &cobra.Command{
		Use:     "generate",
		Short:   "Run the capture job, resuming after the last committed repetition",
		Args:    cobra.NoArgs,
		PreRunE: a.load,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := a.openDB()
			if err != nil {
				return err
			}
			defer a.close(d)

			if fresh {
				if err := d.Reset(ctx); err != nil {
					return err
				}
				a.log.Infow("dataset reset", "database", d.Path())
			}

			reg := prometheus.NewRegistry()
			metrics := monitoring.NewMetrics(reg)
			if metricsListen == "" {
				metricsListen = a.cfg.Metrics.Listen
			}
			if metricsListen != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", monitoring.Handler(reg))
				srv := startServer(metricsListen, mux, a.log)
				defer shutdownServer(srv, a.log)
			}

			backend, err := newBackend(a.cfg)
			if err != nil {
				return err
			}
			gen := capture.NewGenerator(a.cfg, backend, d,
				capture.WithLogger(a.log),
				capture.WithMetrics(metrics),
				capture.WithJournal(d),
			)
			summary, err := gen.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"run %s: %d repetitions captured, failures: %d scene, %d capture, %d world; cursor %s\n",
				summary.RunID, summary.Repetitions,
				summary.FailedScenes, summary.FailedCaptures, summary.FailedWorlds,
				summary.Cursor)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "delete the existing dataset and progress before running")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address while running")
	return cmd
}

func newBackend(cfg *config.Config) (sim.Backend, error) {
	switch cfg.Client.Backend {
	case "synthetic":
		opts := synthetic.DefaultOptions()
		opts.Seed = cfg.Client.GetSeed()
		return synthetic.New(opts), nil
	default:
		return nil, fmt.Errorf("unsupported simulation backend %q", cfg.Client.Backend)
	}
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "verify",
		Short:   "Check the integrity of every chain in the persisted dataset",
		Args:    cobra.NoArgs,
		PreRunE: a.load,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := a.openDB()
			if err != nil {
				return err
			}
			defer a.close(d)
			out := cmd.OutOrStdout()

			counts, err := d.Counts(ctx)
			if err != nil {
				return err
			}
			for _, kind := range dataset.Kinds {
				fmt.Fprintf(out, "%-18s %d\n", kind, counts[kind])
			}
			cursor, err := d.LoadProgress(ctx)
			if err != nil {
				return err
			}
			failures, err := d.Failures(ctx, "")
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "cursor %s, %d recorded failures\n", cursor, len(failures))

			problems, err := dataset.Verify(ctx, d)
			if err != nil {
				return err
			}
			for _, p := range problems {
				fmt.Fprintln(out, p)
			}
			if len(problems) > 0 {
				return fmt.Errorf("dataset has %d problems", len(problems))
			}
			fmt.Fprintln(out, "dataset OK")
			return nil
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:     "export",
		Short:   "Write the dataset as JSON tables under <dir>/<version>/",
		Args:    cobra.NoArgs,
		PreRunE: a.load,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.openDB()
			if err != nil {
				return err
			}
			defer a.close(d)
			if dir == "" {
				dir = a.cfg.Dataset.Root
			}
			res, err := export.New(fsutil.OSFileSystem{}, a.log).Export(cmd.Context(), d, dir, a.cfg.Dataset.Version)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d tables to %s\n", len(res.Tables), res.Dir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "output", "o", "", "export directory (default: dataset root)")
	return cmd
}

func (a *app) reportCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:     "report",
		Short:   "Render summary charts and per-scene trajectory plots",
		Args:    cobra.NoArgs,
		PreRunE: a.load,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.openDB()
			if err != nil {
				return err
			}
			defer a.close(d)
			if dir == "" {
				dir = filepath.Join(a.cfg.Dataset.Root, "report")
			}
			res, err := report.New(fsutil.OSFileSystem{}, a.log).Write(cmd.Context(), d, dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %d scene plots\n", res.Summary, len(res.Plots))
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "output", "o", "", "report directory (default: <dataset root>/report)")
	return cmd
}

func (a *app) migrateCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "migrate up|down|status|version|force N",
		Short:   "Manage the dataset database schema",
		Args:    cobra.MinimumNArgs(1),
		PreRunE: a.load,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Dataset.Database
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return fmt.Errorf("create database directory: %w", err)
			}
			// Open without migrating so every action sees the schema as it is.
			d, err := db.OpenDB(path, db.WithLogger(a.log))
			if err != nil {
				return err
			}
			defer a.close(d)
			return d.RunMigrateCommand(args, cmd.InOrStdin(), cmd.OutOrStdout(), yes)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Serve live SQL, backups and metrics for the dataset database",
		Args:    cobra.NoArgs,
		PreRunE: a.load,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := a.openDB()
			if err != nil {
				return err
			}
			defer a.close(d)

			mux := http.NewServeMux()
			if err := d.AttachAdminRoutes(mux); err != nil {
				return err
			}
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
				collectors.NewDBStatsCollector(d.DB, "dataset"),
			)
			mux.Handle("/metrics", monitoring.Handler(reg))

			h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				a.log.Debugw("request", "method", r.Method, "path", r.URL.Path)
				mux.ServeHTTP(w, r)
			})
			srv := startServer(listen, h, a.log)
			fmt.Fprintf(cmd.OutOrStdout(), "serving %s on %s\n", d.Path(), listen)

			<-ctx.Done()
			a.log.Infow("shutting down HTTP server")
			shutdownServer(srv, a.log)
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":8080", "listen address")
	return cmd
}

func startServer(addr string, h http.Handler, log *zap.SugaredLogger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("HTTP server failed", "addr", addr, "error", err)
		}
	}()
	log.Infow("HTTP server listening", "addr", addr)
	return srv
}

func shutdownServer(srv *http.Server, log *zap.SugaredLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnw("HTTP server shutdown error", "error", err)
		if err := srv.Close(); err != nil {
			log.Warnw("HTTP server force close error", "error", err)
		}
	}
}
