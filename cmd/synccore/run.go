package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/synccore/internal/statusapi"
)

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded", "component", "synccore")

	engine, st, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	slog.Info("store opened", "component", "synccore", "path", cfg.Store.Path)

	if err := engine.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	slog.Info("engine initialized", "component", "synccore")

	var srv *http.Server
	if cfg.StatusAPI.Enabled {
		handler := statusapi.NewHandler(engine)
		router := statusapi.NewRouter(handler)
		srv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.StatusAPI.Port),
			Handler: router,
		}
		go func() {
			slog.Info("status api starting", "component", "synccore", "port", cfg.StatusAPI.Port)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				slog.Error("status api error", "component", "synccore", "error", err)
				cancel()
			}
		}()
	}

	if result, resumed, err := engine.ResumeIfIncomplete(ctx); err != nil {
		slog.Error("resume failed", "component", "synccore", "error", err)
	} else if resumed {
		slog.Info("resumed incomplete session", "component", "synccore",
			"processed", result.Processed, "failed", result.Failed)
	}

	<-ctx.Done()
	slog.Info("shutdown initiated", "component", "synccore")

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("status api shutdown error", "component", "synccore", "error", err)
		}
	}

	slog.Info("shutdown complete", "component", "synccore")
	return nil
}
