// Command shimmer measures content in headless Chrome and serves skeleton
// loading placeholders shaped like it.
//
// Usage:
//
//	shimmer serve --addr :8090               # HTTP API
//	shimmer measure card.html --preview      # one episode, printed
//	shimmer mcp                              # MCP tools over stdio
//	shimmer config                           # effective configuration
//	shimmer journal --limit 20               # recent episodes
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "shimmer:", err)
		os.Exit(1)
	}
}
