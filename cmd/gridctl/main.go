package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gridforge/gridforge/internal/platform"
)

func main() {
	p, err := platform.New()
	if err != nil {
		fmt.Printf("Failed to initialize gridforge: %v\n", err)
		os.Exit(1)
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p.Start(ctx)

	if p.Cfg.RunHTTP {
		p.Log.Info("gridctl: status surface listening", "addr", p.Cfg.HTTPAddr)
		if err := p.Run(); err != nil {
			p.Log.Warn("gridctl: status surface stopped", "err", err)
		}
		return
	}

	<-ctx.Done()
}
