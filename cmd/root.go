package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brensch/aqingest/internal/config"
	"github.com/brensch/aqingest/internal/orchestrator"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// rootOptions holds the persistent flags and what PersistentPreRunE builds
// from them.
type rootOptions struct {
	logFormat  string
	logLevel   string
	logOutput  string
	verbose    bool
	noProgress bool

	cacheRoot   string
	journalPath string
	metadataURL string
	fileListURL string
	yearFrom    int
	yearTo      int
	source      string
	userAgent   string
	httpTimeout time.Duration
	rps         float64

	stdout io.Writer
	stderr io.Writer

	logger  *slog.Logger
	logFile io.Closer
	config  config.Config
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}
	def := config.Default()

	rootCmd := &cobra.Command{
		Use:   "aqingest",
		Short: "Download EEA air quality data and load it into TimescaleDB.",
		Long: `aqingest mirrors the EEA AirQuality e-Reporting download service into a
local cache and loads the cached files into a relational database.

'download' builds the catalog and fetches every data file not cached yet.
'load meta' replaces the station and quantity tables, 'load observations'
appends observation files. Every step can be interrupted and rerun.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			if err := opts.initLogger(); err != nil {
				return err
			}
			opts.config = opts.buildConfig(def)
			opts.logger.Debug("Configuration loaded",
				slog.String("cache_root", opts.config.CacheRoot),
				slog.String("journal", opts.config.JournalPath),
				slog.Int("year_from", opts.config.YearFrom),
				slog.Int("year_to", opts.config.YearTo),
			)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logFile != nil {
				return opts.logFile.Close()
			}
			return nil
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.Version = "0.1.0"

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.logFormat, "log-format", "text", "Log output format (text, json or pretty)")
	pf.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&opts.logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Shorthand for --log-level debug")
	pf.BoolVar(&opts.noProgress, "no-progress", false, "Do not show progress bars")
	pf.StringVarP(&opts.cacheRoot, "cache-dir", "c", def.CacheRoot, "Root directory of the local cache")
	pf.StringVar(&opts.journalPath, "journal", config.DefaultJournalName, "Fetch journal database, relative to the cache root (empty disables it)")
	pf.StringVar(&opts.metadataURL, "metadata-url", def.MetadataURL, "URL of the pan-European metadata table")
	pf.StringVar(&opts.fileListURL, "file-list-url", def.FileListURL, "URL of the file list query service")
	pf.IntVar(&opts.yearFrom, "year-from", def.YearFrom, "First year requested in file list queries")
	pf.IntVar(&opts.yearTo, "year-to", def.YearTo, "Last year requested in file list queries")
	pf.StringVar(&opts.source, "source", def.Source, "Data source requested in file list queries (E1a or E2a)")
	pf.StringVar(&opts.userAgent, "user-agent", "", "User-Agent header sent to the download service")
	pf.DurationVar(&opts.httpTimeout, "http-timeout", def.HTTPTimeout, "Timeout of one HTTP request")
	pf.Float64Var(&opts.rps, "rate-limit", 0, "Maximum requests per second to the download service (0 for unlimited)")

	rootCmd.AddCommand(
		newDownloadCmd(opts),
		newLoadCmd(opts),
		newStateCmd(opts),
		newExportCmd(opts),
		newInspectCmd(opts),
		newSnapshotCmd(opts),
	)
	return rootCmd
}

func (o *rootOptions) initLogger() error {
	var level slog.Level
	switch strings.ToLower(o.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if o.verbose {
		level = slog.LevelDebug
	}

	logWriter := o.stderr
	switch strings.ToLower(o.logOutput) {
	case "", "stderr":
	case "stdout":
		logWriter = o.stdout
	default:
		f, err := os.OpenFile(o.logOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", o.logOutput, err)
		}
		o.logFile = f
		logWriter = f
	}

	var handler slog.Handler
	switch o.logFormat {
	case "json":
		handler = slog.NewJSONHandler(logWriter, &slog.HandlerOptions{Level: level})
	case "pretty":
		handler = tint.NewHandler(logWriter, &tint.Options{Level: level, TimeFormat: time.TimeOnly})
	default:
		handler = slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: level})
	}
	o.logger = slog.New(handler)
	slog.SetDefault(o.logger)
	return nil
}

func (o *rootOptions) buildConfig(def config.Config) config.Config {
	cfg := def
	cfg.CacheRoot = o.cacheRoot
	cfg.JournalPath = o.journalPath
	cfg.MetadataURL = o.metadataURL
	cfg.FileListURL = o.fileListURL
	cfg.YearFrom = o.yearFrom
	cfg.YearTo = o.yearTo
	cfg.Source = o.source
	cfg.UserAgent = o.userAgent
	cfg.HTTPTimeout = o.httpTimeout
	cfg.RequestsPerSecond = o.rps
	cfg.ConnectionString = os.Getenv(config.ConnectionEnv)
	cfg.Progress = !o.noProgress
	return cfg
}

// env builds the run context of one command.
func (o *rootOptions) env() *orchestrator.Env {
	return orchestrator.NewEnv(o.config, o.logger)
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cobra.EnableTraverseRunHooks = true
	rootCmd := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}
