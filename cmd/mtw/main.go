// Command mtw is the Map The Walls device client.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/mapthewalls/internal/device/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
