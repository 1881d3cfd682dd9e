package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cohortkit/models"
	jobState "cohortkit/models/constants/job-state"
	"cohortkit/services/batch"
	"cohortkit/services/storage"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var cfg models.Config
var log = logrus.New()

var logLevel string
var logFormat string
var runLocal bool
var dryRun bool
var wait bool
var workers int
var requesterPaysProject string

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides COHORTKIT_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format, text or json (overrides COHORTKIT_LOG_FORMAT)")
	rootCmd.PersistentFlags().BoolVar(&runLocal, "local", false, "Run batches on this machine instead of the batch service")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Print the batch plan without running it")
	rootCmd.PersistentFlags().BoolVar(&wait, "wait", true, "Wait for submitted batches to finish")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 4, "Jobs run at the same time by the local backend")
	rootCmd.PersistentFlags().StringVar(&requesterPaysProject, "requester-pays-project", "", "Project billed for requester-pays buckets")
}

var rootCmd = &cobra.Command{
	Use:   "cohortkit",
	Short: "Cohort data wrangling and batch submission",
	Long: `cohortkit collects the cohort utilities of the group: matrix filtering and
subsetting, family extraction, metadata lookups, data transfers, and
submission of job graphs to a batch service or the local machine.`,
	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := envconfig.Process("", &cfg); err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if logFormat != "" {
			cfg.Log.Format = logFormat
		}
		return configureLogger(log, cfg.Log.Level, cfg.Log.Format, cfg.Debug)
	},
}

// Execute runs the root command; SIGINT and SIGTERM cancel its context
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func configureLogger(l *logrus.Logger, level string, format string, debug bool) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	if debug {
		lvl = logrus.DebugLevel
	}
	l.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

func newStore() storage.Store {
	return storage.NewRouter(requesterPaysProject)
}

func newBackend() batch.Backend {
	if runLocal {
		return batch.NewLocalBackend(newStore(), workers, log)
	}
	return batch.NewServiceBackend(&cfg, log)
}

// runBatch hands b to the configured backend and reports the outcome
func runBatch(ctx context.Context, out io.Writer, b *batch.Batch, forceDryRun bool) (*batch.Result, error) {
	b.SetBackend(newBackend())
	result, err := b.Run(ctx, batch.RunOptions{
		Wait:   wait,
		DryRun: dryRun || forceDryRun,
		Out:    out,
	})
	if err != nil {
		return result, err
	}

	if result.BatchId != "" {
		log.Infof("batch %s: %s", result.BatchId, result.State)
	}
	for _, j := range result.Jobs {
		if j.Message != "" {
			log.WithField("job", j.Name).Infof("%s: %s", j.State, j.Message)
		}
	}
	if result.State == jobState.Failed {
		return result, fmt.Errorf("batch %s failed", b.Name())
	}
	return result, nil
}
