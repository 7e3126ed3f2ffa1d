package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/lox/solarcast/internal/config"
	"github.com/lox/solarcast/internal/httputil"
	"github.com/lox/solarcast/internal/ingest"
	"github.com/lox/solarcast/internal/models"
	"github.com/lox/solarcast/internal/pvgis"
	"github.com/lox/solarcast/internal/store"
	"github.com/lox/solarcast/internal/weather"
)

// engine is the wired forecast pipeline shared by every command.
type engine struct {
	loc       models.Location
	db        *sql.DB
	store     *store.Store
	coord     *ingest.Coordinator
	scheduler *ingest.Scheduler
}

func newEngine(site *config.Site, logger *zap.Logger) (*engine, error) {
	e := &engine{loc: site.Location(logger)}

	if site.DB != "" {
		if dir := filepath.Dir(site.DB); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		db, err := store.Open(site.DB)
		if err != nil {
			return nil, err
		}
		e.db = db
		e.store = store.New(db, logger)
		if err := e.store.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		version, err := e.store.MigrationVersion()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("migration version: %w", err)
		}
		logger.Info("database ready", zap.String("path", site.DB), zap.Int("schema_version", version))
	} else {
		logger.Warn("no database configured, forecasts will not survive restarts")
	}

	radiation := pvgis.NewClient(httputil.NewBreakerClient("pvgis", logger), site.PVGISURL)

	fetcher := &weather.Fetcher{Location: e.loc.TZ, Logger: logger}
	switch site.Weather {
	case "open-meteo":
		client := httputil.NewBreakerClient("open-meteo", logger)
		fetcher.Primary = weather.NewOpenMeteo(client, site.OpenMeteoURL, site.Latitude, site.Longitude, e.loc.TZ)
	case "home-assistant":
		client := httputil.NewBreakerClient("homeassistant", logger)
		fetcher.Primary = weather.NewHomeAssistant(client, site.HAURL, site.HAToken, site.WeatherEntity)
		if site.SecondaryWeatherEntity != "" {
			fetcher.Secondary = weather.NewHomeAssistant(client, site.HAURL, site.HAToken, site.SecondaryWeatherEntity)
		}
	}

	e.coord = ingest.NewCoordinator(ingest.CoordinatorConfig{
		Location:  e.loc,
		Arrays:    site.ArrayConfigs(),
		Radiation: radiation,
		Weather:   fetcher,
		Store:     e.store,
		Logger:    logger,
	})
	fetcher.Observe = e.coord.ObserveWeather

	e.scheduler = ingest.NewScheduler(ingest.SchedulerConfig{
		Coordinator: e.coord,
		Store:       e.store,
		Logger:      logger,
		Interval:    site.Interval,
	})

	logger.Info("engine configured",
		zap.Float64("latitude", e.loc.Latitude),
		zap.Float64("longitude", e.loc.Longitude),
		zap.String("timezone", e.loc.TZ.String()),
		zap.Int("arrays", len(site.Arrays)),
		zap.String("weather", site.Weather))
	return e, nil
}

func (e *engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}
