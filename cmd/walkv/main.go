// Command walkv runs the walkv store as an interactive REPL or a TCP server.
//
//	walkv repl
//	walkv --backend bolt --data kv.db serve --listen :6379
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config := NewCliConfig()
	if err := Cli(ctx, os.Args[1:], config); err != nil {
		fmt.Fprintf(config.Stderr, "walkv: %v\n", err)
		stop()
		os.Exit(1)
	}
}
