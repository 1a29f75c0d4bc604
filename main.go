package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/cmsbridge/cmd"
	"github.com/tphakala/cmsbridge/internal/conf"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd := cmd.RootCommand(&conf.Settings{})
	err := rootCmd.ExecuteContext(ctx)

	stop()
	cmd.Shutdown()
	if err != nil {
		os.Exit(1)
	}
}
