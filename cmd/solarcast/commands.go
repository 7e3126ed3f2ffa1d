package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/lox/solarcast/internal/api"
	"github.com/lox/solarcast/internal/config"
	"github.com/lox/solarcast/internal/console"
	"github.com/lox/solarcast/internal/mqtt"
)

type ServeCmd struct {
	Addr   string `help:"HTTP listen address." default:":8080"`
	NoPoll bool   `help:"Serve the persisted forecast without refreshing (for local dev)."`

	config.MQTT
}

func (c *ServeCmd) Run(site *config.Site, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(site, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	server := api.NewServer(api.Config{
		Addr:     c.Addr,
		Location: eng.loc.TZ,
		State:    eng.scheduler,
		Control:  eng.coord,
		Store:    eng.store,
		Logger:   logger,
	})
	eng.scheduler.Subscribe(server.Publish)

	g, ctx := errgroup.WithContext(ctx)

	if c.Broker != "" {
		publisher := mqtt.NewPublisher(mqtt.Config{
			Broker:          c.Broker,
			Username:        c.Username,
			Password:        c.Password,
			ClientID:        c.ClientID,
			DiscoveryPrefix: c.DiscoveryPrefix,
			BaseTopic:       c.BaseTopic,
			ConnectTimeout:  2 * time.Minute,
		}, eng.coord.Arrays(), eng.coord, logger)
		if err := publisher.Connect(ctx); err != nil {
			return err
		}
		eng.scheduler.Subscribe(publisher.Publish)
		g.Go(func() error {
			publisher.Run(ctx)
			return nil
		})
	}

	if c.NoPoll {
		logger.Info("polling disabled")
		if !eng.scheduler.Restore() {
			logger.Warn("no persisted forecast to serve")
		}
	} else {
		g.Go(func() error {
			eng.scheduler.Run(ctx)
			return nil
		})
	}

	g.Go(func() error {
		return server.Run(ctx)
	})
	return g.Wait()
}

type OnceCmd struct{}

func (c *OnceCmd) Run(site *config.Site, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(site, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	eng.scheduler.Restore()
	eng.coord.LoadCachedTables()
	if err := eng.coord.LoadOverrides(); err != nil {
		logger.Warn("load snow overrides", zap.Error(err))
	}
	if err := eng.scheduler.RunOnce(ctx); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	cons := console.New(eng.scheduler, eng.coord, eng.loc.TZ)
	for _, cmd := range []string{"status", "arrays", "days"} {
		if err := cons.Execute(cmd); err != nil {
			return err
		}
		fmt.Println()
	}
	return nil
}

type ConsoleCmd struct{}

func (c *ConsoleCmd) Run(site *config.Site, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	// logs go through the console once it exists so they don't clobber the prompt
	var cons *console.Console
	sink := zapcore.AddSync(writerFunc(func(p []byte) (int, error) {
		if cons == nil {
			return os.Stderr.Write(p)
		}
		return cons.LogWriter().Write(p)
	}))
	level := zap.InfoLevel
	if site.Debug {
		level = zap.DebugLevel
	}
	consoleLogger := zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		sink,
		level,
	))
	defer consoleLogger.Sync()

	eng, err := newEngine(site, consoleLogger)
	if err != nil {
		return err
	}
	defer eng.Close()

	cons = console.New(eng.scheduler, eng.coord, eng.loc.TZ)

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g.Go(func() error {
		eng.scheduler.Run(ctx)
		return nil
	})
	g.Go(func() error {
		defer cancelRun()
		return cons.Run(ctx, cancelRun)
	})
	return g.Wait()
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
