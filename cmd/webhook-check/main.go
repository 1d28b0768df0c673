// Command webhook-check posts a sample submission to every configured webhook
// and reports which endpoints accept it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prohappy_backend/internal/app"
	"prohappy_backend/internal/config"
	"prohappy_backend/internal/diagnostics"
	"prohappy_backend/internal/forms"
	applog "prohappy_backend/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	verbose    bool
	configPath string
	envFile    string
	timeout    time.Duration
	formTypes  []string

	logger *zap.Logger
)

// newLogger builds a JSON production logger writing to stderr. Only warnings
// are shown unless verbose.
func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

var rootCmd = &cobra.Command{
	Use:   "webhook-check",
	Short: "Check that every form webhook accepts a sample submission",
	Long: `webhook-check sends one sample submission per form type to the
configured webhook, without retries, and prints PASS, FAIL or SKIP for each.

Sample payloads carry the access code TEST0 so they can be filtered out
downstream. The exit code is 1 when any configured endpoint fails.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = newLogger(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		// Delivery logs of the transport go to stderr only when verbose.
		var w io.Writer = io.Discard
		if verbose {
			w = os.Stderr
		}
		applog.SetLogger(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runCheck,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every request")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml (default $CONFIG_PATH or config/config.yaml)")
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "Optional .env file")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-request timeout (default from configuration)")
	rootCmd.Flags().StringSliceVarP(&formTypes, "form", "f", nil, "Form types to check (default all)")
}

func runCheck(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	required := path != ""
	if !required {
		path = "config/config.yaml"
	}

	cfg, err := config.LoadFrom(path, envFile, required)
	if err != nil {
		return err
	}
	if timeout > 0 {
		cfg.Webhooks.Timeout = timeout
	}
	logger.Debug("configuration loaded",
		zap.String("env", cfg.Server.Env),
		zap.Duration("timeout", cfg.Webhooks.Timeout))

	kinds := forms.Kinds()
	if len(formTypes) > 0 {
		kinds = kinds[:0]
		for _, ft := range formTypes {
			k, err := forms.ParseKind(ft)
			if err != nil {
				return fmt.Errorf("unknown form type %q", ft)
			}
			kinds = append(kinds, k)
		}
	}

	client, err := app.NewTransportClient(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report := diagnostics.Run(ctx, client, kinds, cmd.OutOrStdout())
	for _, c := range report.Checks {
		logger.Debug("check finished",
			zap.String("form", string(c.Kind)),
			zap.String("result", string(c.Result)),
			zap.Int("status", c.HTTPStatus),
			zap.Duration("latency", c.Latency))
	}
	if report.Failed() {
		logger.Warn("webhook check failed", zap.Int("failed", report.Count(diagnostics.ResultFail)))
		return errChecksFailed
	}
	return nil
}

var errChecksFailed = errors.New("one or more webhooks failed")

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if err != errChecksFailed {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
