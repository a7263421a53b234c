package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"resume-screener/internal/api"
	"resume-screener/internal/screening"
)

type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

type backgroundScheduler interface {
	Start(ctx context.Context) error
}

func newServeCmd(st *rootState) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and background sweeps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := st.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if addr != "" {
				cfg.Server.Addr = addr
			}

			deps, cleanup, err := buildApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			handler := api.NewHandler(api.Deps{
				Store:         deps.store,
				Screener:      deps.screener,
				Pipeline:      deps.engine,
				Scheduler:     deps.sched,
				Subscriptions: deps.subs,
			}, log)
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info("listening", zap.String("addr", cfg.Server.Addr))
			return runServer(ctx, srv, deps.sched, cfg.Server.ShutdownTimeout, log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

// runServer 运行 HTTP 服务与后台调度，ctx 取消后优雅关闭并等待调度退出。
func runServer(ctx context.Context, srv httpServer, sched backgroundScheduler, shutdownTimeout time.Duration, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("scheduler stopped", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel()
			<-schedDone
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	err := srv.Shutdown(shutdownCtx)
	cancel()
	<-schedDone
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// runOnceManual 装配依赖后执行一次指定的调度任务。
func runOnceManual(ctx context.Context, cfg AppConfig, name string, build appBuilder) (screening.SweepReport, error) {
	deps, cleanup, err := build(cfg)
	if err != nil {
		return screening.SweepReport{}, err
	}
	defer cleanup()
	return deps.sched.RunOnce(ctx, name)
}
