package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/elclub/paqclub/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w, closeFn, err := buildWorker(cfg, defaultWorkerFactories())
	if err != nil {
		panic(err)
	}
	if closeFn != nil {
		defer closeFn()
	}

	go func() {
		err := runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr: cfg.PaqClub.WorkerHTTPAddr,
			worker:   w,
			cfg:      cfg,
		})
		if err != nil && err != http.ErrServerClosed {
			slog.Error("worker http server", "error", err.Error())
		}
	}()

	if err := w.Run(ctx); err != nil && err != context.Canceled {
		panic(err)
	}
}
