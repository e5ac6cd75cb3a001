package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ohmynofan/netease-music-bot/internal/app"
	"github.com/ohmynofan/netease-music-bot/internal/config"
	"github.com/ohmynofan/netease-music-bot/internal/platform/logger"
	"github.com/ohmynofan/netease-music-bot/internal/platform/ui"
)

func main() {
	cfg := config.Load()

	if err := cfg.Validate(); err != nil {
		print(err.Error() + "\n")
		os.Exit(1)
	}

	_ = logger.Init(cfg.LogPath)
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui.StartUISystem()
	err := app.New(cfg).Run(ctx)
	ui.StopUISystem()

	if err != nil {
		print(err.Error() + "\n")
		os.Exit(1)
	}

	time.Sleep(1 * time.Second)
}
