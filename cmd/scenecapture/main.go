// Command scenecapture generates nuScenes-style driving datasets from a
// stepped simulation and inspects, exports and serves the result.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banshee-data/scenecapture/internal/config"
	"github.com/banshee-data/scenecapture/internal/db"
	"github.com/banshee-data/scenecapture/internal/monitoring"
	"github.com/banshee-data/scenecapture/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once the config is loaded.
type app struct {
	configPath string
	cfg        *config.Config
	log        *zap.SugaredLogger
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "scenecapture",
		Short:         "Capture annotated multi-sensor driving scenes from a simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetVersionTemplate(version.String() + "\n")
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "scenecapture.yaml", "capture job configuration file")

	root.AddCommand(
		a.generateCmd(),
		a.verifyCmd(),
		a.exportCmd(),
		a.reportCmd(),
		a.migrateCmd(),
		a.serveCmd(),
		versionCmd(),
	)
	return root
}

// load reads the configuration and builds the logger. It is the PreRunE of
// every command that works on a dataset.
func (a *app) load(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	log, err := monitoring.NewLogger(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log.With("config", a.configPath)
	return nil
}

// openDB opens the configured dataset database, creating its directory and
// applying pending migrations.
func (a *app) openDB() (*db.DB, error) {
	path := a.cfg.Dataset.Database
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	return db.NewDB(path, db.WithLogger(a.log))
}

func (a *app) close(d *db.DB) {
	if err := d.Close(); err != nil {
		a.log.Warnw("failed to close database", "error", err)
	}
	a.log.Sync()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
