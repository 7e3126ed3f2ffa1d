package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lox/solarcast/internal/models"
)

func TestArrayUnmarshalText(t *testing.T) {
	var a Array
	require.NoError(t, a.UnmarshalText([]byte("south:35:0:5.2")))
	assert.Equal(t, "south", a.Name)
	assert.Equal(t, 35.0, a.Declination)
	assert.Equal(t, 0.0, a.Azimuth)
	assert.Equal(t, 5.2, a.ModulesPower)
	assert.Equal(t, models.DefaultLoss, a.Loss)
	assert.Equal(t, models.MountingFree, a.Mounting)
	assert.Equal(t, models.TechCrystSi, a.Technology)

	require.NoError(t, a.UnmarshalText([]byte("garage:20:-90:3:10:building:CIS")))
	assert.Equal(t, -90.0, a.Azimuth)
	assert.Equal(t, 10.0, a.Loss)
	assert.Equal(t, models.MountingBuilding, a.Mounting)
	assert.Equal(t, models.TechCIS, a.Technology)

	// empty optional fields keep defaults
	require.NoError(t, a.UnmarshalText([]byte("shed:10:45:1::building")))
	assert.Equal(t, models.DefaultLoss, a.Loss)
	assert.Equal(t, models.TechCrystSi, a.Technology)
}

func TestArrayUnmarshalTextErrors(t *testing.T) {
	for _, in := range []string{
		"south",
		"south:35:0",
		"south:x:0:5",
		"south:35:0:5:14:free:crystsi:extra",
		"south:95:0:5",
		"south:35:0:0",
		"south:35:0:5:14:roof",
	} {
		var a Array
		assert.Error(t, a.UnmarshalText([]byte(in)), in)
	}
}

type testCLI struct {
	Site
	MQTT
}

func parse(t *testing.T, args ...string) (*testCLI, error) {
	t.Helper()
	var cli testCLI
	parser, err := kong.New(&cli, append(Options(), kong.Exit(func(int) { t.Fatal("unexpected exit") }))...)
	require.NoError(t, err)
	_, err = parser.Parse(args)
	return &cli, err
}

func TestParseFlags(t *testing.T) {
	cli, err := parse(t,
		"--latitude=50.08", "--longitude=14.42", "--timezone=Europe/Prague",
		"--array=south:35:0:5", "--array=west:35:90:2.5",
		"--interval=15m", "--weather=none",
	)
	require.NoError(t, err)
	assert.Equal(t, 50.08, cli.Latitude)
	assert.Equal(t, 15*time.Minute, cli.Interval)
	assert.Equal(t, "data/solarcast.db", cli.DB)
	assert.Equal(t, "solarcast", cli.BaseTopic)
	assert.Equal(t, "homeassistant", cli.DiscoveryPrefix)

	arrays := cli.ArrayConfigs()
	require.Len(t, arrays, 2)
	assert.Equal(t, "west", arrays[1].Name)
	assert.Equal(t, 2.5, arrays[1].ModulesPower)

	loc := cli.Location(zap.NewNop())
	assert.Equal(t, "Europe/Prague", loc.TZ.String())
}

func TestParseFromEnvironment(t *testing.T) {
	t.Setenv("SOLARCAST_LATITUDE", "-37.0")
	t.Setenv("SOLARCAST_LONGITUDE", "146.9")
	t.Setenv("SOLARCAST_ARRAY", "north:20:180:6.6")
	t.Setenv("SOLARCAST_MQTT_BROKER", "tcp://broker:1883")

	cli, err := parse(t, "--weather=none")
	require.NoError(t, err)
	assert.Equal(t, -37.0, cli.Latitude)
	require.Len(t, cli.Arrays, 1)
	assert.Equal(t, 180.0, cli.Arrays[0].Azimuth)
	assert.Equal(t, "tcp://broker:1883", cli.Broker)
}

func TestSiteValidate(t *testing.T) {
	south := Array{models.ArrayConfig{Name: "south", Declination: 35, ModulesPower: 5}}
	base := Site{Latitude: 50, Longitude: 14, Arrays: []Array{south}, Weather: "none"}
	require.NoError(t, base.Validate())

	s := base
	s.Latitude = 91
	assert.Error(t, s.Validate())

	s = base
	s.Longitude = -181
	assert.Error(t, s.Validate())

	s = base
	s.Arrays = []Array{south, south}
	assert.ErrorContains(t, s.Validate(), "duplicate")

	s = base
	s.Weather = "home-assistant"
	s.HAURL = "http://ha:8123"
	assert.Error(t, s.Validate())
	s.HAToken = "t"
	s.WeatherEntity = "weather.home"
	assert.NoError(t, s.Validate())
}

func TestLocationFallsBackToUTC(t *testing.T) {
	s := Site{Latitude: 1, Longitude: 2, Timezone: "Mars/Olympus_Mons"}
	loc := s.Location(zap.NewNop())
	assert.Equal(t, time.UTC, loc.TZ)
	assert.Equal(t, 1.0, loc.Latitude)
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SOLARCAST_TEST_DOTENV=from-file\nSOLARCAST_TEST_PRESET=from-file\n"), 0o600))
	t.Setenv("SOLARCAST_TEST_PRESET", "from-env")
	t.Cleanup(func() { os.Unsetenv("SOLARCAST_TEST_DOTENV") })

	require.NoError(t, LoadDotenv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("SOLARCAST_TEST_DOTENV"))
	assert.Equal(t, "from-env", os.Getenv("SOLARCAST_TEST_PRESET"))
}
