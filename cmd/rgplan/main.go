// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Command rgplan compiles render graphs described in YAML
// frame files and prints or replays the resulting plans.
package main

import (
	"context"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd(nil).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
