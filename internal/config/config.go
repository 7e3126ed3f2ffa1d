// Package config holds the command-line and environment configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lox/solarcast/internal/models"
)

// EnvPrefix prefixes the environment variable of every flag.
const EnvPrefix = "SOLARCAST"

// Array is an --array value: name:tilt:azimuth:kwp[:loss[:mounting[:tech]]].
type Array struct {
	models.ArrayConfig
}

func (a *Array) UnmarshalText(b []byte) error {
	parts := strings.Split(string(b), ":")
	if len(parts) < 4 || len(parts) > 7 {
		return fmt.Errorf("array %q: want name:tilt:azimuth:kwp[:loss[:mounting[:tech]]]", b)
	}

	cfg := models.ArrayConfig{Name: strings.TrimSpace(parts[0]), Loss: models.DefaultLoss}
	floats := []struct {
		name string
		dst  *float64
		idx  int
	}{
		{"tilt", &cfg.Declination, 1},
		{"azimuth", &cfg.Azimuth, 2},
		{"kwp", &cfg.ModulesPower, 3},
		{"loss", &cfg.Loss, 4},
	}
	for _, f := range floats {
		if f.idx >= len(parts) || parts[f.idx] == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[f.idx]), 64)
		if err != nil {
			return fmt.Errorf("array %s: %s: %w", cfg.Name, f.name, err)
		}
		*f.dst = v
	}
	if len(parts) > 5 && parts[5] != "" {
		cfg.Mounting = models.Mounting(strings.ToLower(parts[5]))
	}
	if len(parts) > 6 && parts[6] != "" {
		cfg.Technology = models.Technology(strings.ToLower(parts[6]))
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.ArrayConfig = cfg
	return nil
}

// Site is the configuration shared by every command.
type Site struct {
	Debug bool `help:"Enable development logging."`

	DB string `help:"Path to the SQLite database. Empty disables persistence." default:"data/solarcast.db"`

	Latitude  float64 `help:"Site latitude." required:""`
	Longitude float64 `help:"Site longitude." required:""`
	Timezone  string  `help:"IANA time zone of the site." default:"Local"`

	Arrays []Array `name:"array" help:"PV array as name:tilt:azimuth:kwp[:loss[:mounting[:tech]]]. Repeatable." required:""`

	PVGISURL string        `name:"pvgis-url" help:"PVGIS seriescalc endpoint." default:"https://re.jrc.ec.europa.eu/api/seriescalc"`
	Interval time.Duration `help:"Refresh interval while weather is available." default:"30m"`

	Weather                string `help:"Weather source." enum:"open-meteo,home-assistant,none" default:"open-meteo"`
	OpenMeteoURL           string `name:"open-meteo-url" help:"Open-Meteo forecast endpoint." default:"https://api.open-meteo.com/v1/forecast"`
	HAURL                  string `name:"ha-url" help:"Home Assistant base URL."`
	HAToken                string `name:"ha-token" help:"Home Assistant long-lived access token."`
	WeatherEntity          string `help:"Home Assistant weather entity."`
	SecondaryWeatherEntity string `help:"Optional second weather entity used to extend coverage."`
}

// Validate is called by kong after parsing.
func (s *Site) Validate() error {
	if s.Latitude < -90 || s.Latitude > 90 {
		return fmt.Errorf("latitude %.4f out of range", s.Latitude)
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return fmt.Errorf("longitude %.4f out of range", s.Longitude)
	}
	seen := map[string]bool{}
	for _, a := range s.Arrays {
		if seen[a.Name] {
			return fmt.Errorf("duplicate array name %q", a.Name)
		}
		seen[a.Name] = true
	}
	if s.Weather == "home-assistant" && (s.HAURL == "" || s.HAToken == "" || s.WeatherEntity == "") {
		return errors.New("home-assistant weather needs --ha-url, --ha-token and --weather-entity")
	}
	return nil
}

// ArrayConfigs returns the parsed arrays.
func (s *Site) ArrayConfigs() []models.ArrayConfig {
	out := make([]models.ArrayConfig, len(s.Arrays))
	for i, a := range s.Arrays {
		out[i] = a.ArrayConfig
	}
	return out
}

// Location loads the site time zone, falling back to UTC.
func (s *Site) Location(logger *zap.Logger) models.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		logger.Warn("could not load timezone, using UTC", zap.String("timezone", s.Timezone), zap.Error(err))
		loc = time.UTC
	}
	return models.Location{Latitude: s.Latitude, Longitude: s.Longitude, TZ: loc}
}

// Logger builds the zap logger for the configured mode.
func (s *Site) Logger() (*zap.Logger, error) {
	if s.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// MQTT configures the Home Assistant publisher.
type MQTT struct {
	Broker          string `name:"mqtt-broker" help:"MQTT broker URL, e.g. tcp://localhost:1883. Empty disables MQTT."`
	Username        string `name:"mqtt-username" help:"MQTT username."`
	Password        string `name:"mqtt-password" help:"MQTT password."`
	ClientID        string `name:"mqtt-client-id" help:"MQTT client id." default:"solarcast"`
	DiscoveryPrefix string `name:"mqtt-discovery-prefix" help:"Home Assistant discovery prefix." default:"homeassistant"`
	BaseTopic       string `name:"mqtt-base-topic" help:"Base topic for state and commands." default:"solarcast"`
}

// LoadDotenv loads .env style files into the environment. Missing files
// are skipped; variables already set win.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Options are the kong options every entry point uses.
func Options() []kong.Option {
	return []kong.Option{
		kong.Name("solarcast"),
		kong.Description("PVGIS based solar production forecast."),
		kong.DefaultEnvars(EnvPrefix),
		kong.UsageOnError(),
	}
}
