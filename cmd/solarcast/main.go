package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/lox/solarcast/internal/config"
)

type CLI struct {
	config.Site

	Serve   ServeCmd   `cmd:"" default:"withargs" help:"Run the forecast engine with the HTTP API and optional MQTT publishing."`
	Once    OnceCmd    `cmd:"" help:"Run a single refresh cycle and print the forecast."`
	Console ConsoleCmd `cmd:"" help:"Run the forecast engine with an interactive console."`
}

func main() {
	if err := config.LoadDotenv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var cli CLI
	ctx := kong.Parse(&cli, config.Options()...)

	logger, err := cli.Logger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := ctx.Run(&cli.Site, logger); err != nil {
		logger.Error("exiting", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}
