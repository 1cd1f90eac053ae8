package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rendis/flowsketch/internal/logging"
	"github.com/rendis/flowsketch/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

// runServe runs the HTTP server and the stats reset scheduler until ctx is
// cancelled. SIGHUP reloads settings.json and the environment.
func runServe(ctx context.Context, cfg Config, level *slog.LevelVar, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	h, gen, err := a.handler(ctx, cfg)
	if err != nil {
		return err
	}
	swapper := newHandlerSwapper(h)

	sched := scheduler.New(logger)
	if err := sched.Add(a.stats.ResetJob(cfg.ResetSpec)); err != nil {
		return err
	}

	if err := writePID(pidPath()); err != nil {
		logger.WarnContext(ctx, "write pidfile failed", "error", err)
	} else {
		defer os.Remove(pidPath())
	}

	rl := &reloader{app: a, swapper: swapper, level: level, logger: logger, current: cfg, apiKey: gen.apiKey}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listenAndServe(gctx, cfg.ListenAddr, swapper, logger) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return rl.watch(gctx) })
	return g.Wait()
}

// listenAndServe serves h on addr until ctx is done, then shuts down
// gracefully.
func listenAndServe(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// reloader applies configuration changes picked up on SIGHUP.
type reloader struct {
	app     *app
	swapper *handlerSwapper
	level   *slog.LevelVar
	logger  *slog.Logger
	current Config
	apiKey  string
	load    func() Config
}

func (r *reloader) watch(ctx context.Context) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	load := r.load
	if load == nil {
		load = loadConfig
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if _, err := r.apply(ctx, load()); err != nil {
				r.logger.ErrorContext(ctx, "reload failed", "error", err)
			}
		}
	}
}

// apply moves the running server to next. Fields that need a restart are
// logged and otherwise ignored.
func (r *reloader) apply(ctx context.Context, next Config) (configDiff, error) {
	d := diffConfigs(r.current, next)

	if d.LogLevelChanged {
		lvl, err := logging.ParseLevel(next.LogLevel)
		if err != nil {
			return d, err
		}
		r.level.Set(lvl)
		r.logger.InfoContext(ctx, "log level changed", "level", next.LogLevel)
	}

	// The vault may hold a new key even when the config is unchanged.
	h, gen, err := r.app.handler(ctx, next)
	if err != nil {
		return d, err
	}
	if d.HandlerChanged || gen.apiKey != r.apiKey {
		r.swapper.Swap(h)
		r.apiKey = gen.apiKey
		r.logger.InfoContext(ctx, "http handler reloaded")
	}

	if len(d.RestartNeeded) > 0 {
		r.logger.WarnContext(ctx, "settings changed that need a restart", "fields", d.RestartNeeded)
		next = next.withRestartFields(r.current)
	}
	r.current = next
	return d, nil
}
