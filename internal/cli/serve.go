package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"modelhost/internal/config"
	"modelhost/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Run the control API and manage the engine",
		Example: "  modelhost serve --config ~/.config/modelhost/config.yaml",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *Options) error {
	cfg, src, err := opts.loadConfig()
	if err != nil {
		return err
	}
	a, log, closer, err := opts.buildApp(cfg, src)
	if err != nil {
		return err
	}
	defer closer.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	if len(cfg.CORSOrigins) > 0 {
		httpapi.SetCORSOptions(true, cfg.CORSOrigins,
			[]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			[]string{"Content-Type", "X-Log-Level"})
	}

	a.Start(ctx)
	go func() {
		if err := a.EnsureReady(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("startup_ensure_failed")
		}
	}()

	if src != nil {
		w := &config.Watcher{
			Source: src,
			Logger: log,
			OnChange: func(prev, next config.Config) {
				if next.SelectedModel == prev.SelectedModel || next.SelectedModel == "" {
					return
				}
				if err := a.SwitchModel(ctx, next.SelectedModel); err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Str("model", next.SelectedModel).Msg("config_switch_failed")
				}
			},
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Warn().Err(err).Msg("config_watch_disabled")
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(a),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", a.Store.Dir()).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful_shutdown_failed")
	}
	if err := a.Close(); err != nil {
		log.Warn().Err(err).Msg("engine_stop_failed")
	}
	log.Info().Msg("stopped")
	return serveErr
}
