package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/quantumauth-io/wc-bridge/internal/setup"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	build := setup.BuildInfo{Version: Version, Commit: Commit, BuildDate: BuildDate}
	if err := newRootCmd(build).ExecuteContext(ctx); err != nil {
		stop()
		log.Fatal("wc-bridge failed", "error", err)
	}
}
