// Package cli implements the mouser command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mouser/internal/archive"
	"mouser/internal/catalog"
	"mouser/internal/config"
	"mouser/internal/core"
	"mouser/internal/observability"
)

// PasswordEnv is consulted when --password is not given.
const PasswordEnv = "MOUSER_PASSWORD"

type app struct {
	cfgFile   string
	dataDir   string
	traceFile string

	cfg       *config.Config
	logger    *zap.Logger
	metrics   *observability.PrometheusRecorder
	catalog   catalog.Store
	svc       *core.Service
	traceSink io.Closer
}

// newRootCmd builds the command tree and the app its commands share. Each
// call returns an independent tree.
func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:   "mouser",
		Short: "Configure and save lab animal experiments",
		Long: `mouser creates experiment files for animal studies: groups, cage layout,
measurement items and the collected-data table. Files can be password
protected, archived to a directory or S3 bucket, and are indexed in a catalog.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (yaml, json or toml)")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "directory experiment files are written to")
	root.PersistentFlags().StringVar(&a.traceFile, "trace-file", "", "append operation spans as JSON lines to this file")
	root.AddCommand(newExperimentCmd(a))
	return root, a
}

// Run executes the command line in args. Metrics are flushed and opened
// resources released whether or not the command succeeds.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) (err error) {
	root, a := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	defer func() {
		if terr := a.teardown(); terr != nil {
			err = errors.Join(err, terr)
		}
	}()
	return root.ExecuteContext(ctx)
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgFile, func(v *viper.Viper) error {
		return v.BindPFlag("data_dir", cmd.Flags().Lookup("data-dir"))
	})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = observability.NewLogger(cfg.Logger, zapcore.AddSync(cmd.ErrOrStderr()))
	a.metrics = observability.NewPrometheusRecorder()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a.catalog, err = catalog.Open(ctx, cfg.Catalog)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	store, err := archive.Open(ctx, cfg.Archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	opts := []core.Option{
		core.WithDataDir(cfg.DataDir),
		core.WithLogger(observability.NewServiceLogger(a.logger)),
		core.WithMetrics(a.metrics),
		core.WithArchive(store),
	}
	if a.traceFile != "" {
		f, err := os.OpenFile(a.traceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		a.traceSink = f
		opts = append(opts, core.WithTracer(core.NewJSONTracer(f)))
	}
	a.svc = core.NewService(a.catalog, opts...)
	a.logger.Debug("configured", zap.String("data_dir", cfg.DataDir), zap.String("catalog", cfg.Catalog.Driver), zap.String("archive", string(cfg.Archive.Driver)))
	return nil
}

// teardown flushes metrics and closes what setup opened. It is safe to call
// when setup did not run or stopped early.
func (a *app) teardown() error {
	var errs []error
	if a.metrics != nil && a.cfg != nil {
		errs = append(errs, a.metrics.WriteTextfile(a.cfg.Metrics.File))
	}
	if a.traceSink != nil {
		errs = append(errs, a.traceSink.Close())
		a.traceSink = nil
	}
	if a.catalog != nil {
		errs = append(errs, a.catalog.Close())
		a.catalog = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
