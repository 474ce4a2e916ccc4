package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/muskanTaza/Tazapay-VS-Code-Assistant/config"
	payotel "github.com/muskanTaza/Tazapay-VS-Code-Assistant/otel"
	"github.com/muskanTaza/Tazapay-VS-Code-Assistant/tool"
	"github.com/muskanTaza/Tazapay-VS-Code-Assistant/tool/rpc"
)

const sessionCloseWait = 10 * time.Second

// session is one CLI command's worker connection and its collaborators.
type session struct {
	cfg       config.Config
	logger    *slog.Logger
	service   *tool.Service
	store     *tool.SQLiteStore
	providers *payotel.Providers
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, exitError(exitValidation, "loading config: %v", err)
	}
	return cfg, nil
}

// openHistoryStore opens the SQLite store named by cfg. It returns nil when
// history is disabled.
func openHistoryStore(cfg config.Config) (*tool.SQLiteStore, error) {
	if cfg.HistoryDisabled {
		return nil, nil
	}
	path := cfg.HistoryPath
	if path == "" {
		defaultPath, err := tool.DefaultSQLitePath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}
	return tool.NewSQLiteStore(tool.SQLiteStoreConfig{DSN: path})
}

// openSession loads config, starts the worker and loads the catalog.
func openSession(cmd *cobra.Command) (*session, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd)
	s := &session{cfg: cfg, logger: logger}

	store, err := openHistoryStore(cfg)
	if err != nil {
		logger.Warn("cli.history_unavailable", "error", err)
	} else {
		s.store = store
	}

	providers, err := payotel.Setup(ctx, payotel.SetupConfig{ServiceVersion: cmd.Root().Version})
	if err != nil {
		s.close(ctx)
		return nil, exitError(exitRuntime, "telemetry setup: %v", err)
	}
	s.providers = providers
	observer, err := payotel.NewToolObserver(providers.Meter(), providers.Tracer())
	if err != nil {
		s.close(ctx)
		return nil, exitError(exitRuntime, "telemetry setup: %v", err)
	}

	svcCfg := cfg.ServiceConfig()
	svcCfg.Logger = logger
	svcCfg.Observer = observer
	svcCfg.ClientInfo = rpc.ClientInfo{Name: "payassist", Version: cmd.Root().Version}
	if s.store != nil {
		svcCfg.Store = s.store
	}
	if !cfg.HasCredentials() {
		logger.Warn("cli.credentials_missing", "key_env", config.APIKeyEnv, "secret_env", config.APISecretEnv)
	}
	logger.Debug("cli.worker.launch", "launch", cfg.Launch)

	service, err := tool.NewService(svcCfg)
	if err != nil {
		s.close(ctx)
		return nil, exitError(exitValidation, "%v", err)
	}
	if err := service.Start(ctx); err != nil {
		s.close(ctx)
		return nil, exitError(exitWorker, "%s", tool.UserMessage("worker startup", err))
	}
	s.service = service
	return s, nil
}

func (s *session) close(ctx context.Context) {
	if s == nil {
		return
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionCloseWait)
	defer cancel()

	var errs []error
	if s.service != nil {
		errs = append(errs, s.service.Close(closeCtx))
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.providers != nil {
		errs = append(errs, s.providers.Shutdown(closeCtx))
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("cli.session.close_failed", "error", err)
	}
}

// infoWriter returns the writer for status messages, io.Discard under --quiet.
func infoWriter(cmd *cobra.Command) io.Writer {
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		return io.Discard
	}
	return cmd.OutOrStdout()
}
