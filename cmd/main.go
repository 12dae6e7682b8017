package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yungbote/coursebuilder-backend/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx)
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	application.Log.Info("Course builder starting", "address", application.Cfg.HTTPAddr)
	if err := application.Run(ctx); err != nil {
		application.Log.Error("server exited", "error", err)
		application.Close()
		os.Exit(1)
	}
	application.Log.Info("Course builder stopped")
}
