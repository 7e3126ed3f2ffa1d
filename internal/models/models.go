package models

import (
	"fmt"
	"strings"
	"time"
)

// Defaults applied to arrays that omit optional settings.
const (
	DefaultDeclination = 35.0
	DefaultAzimuth     = 0.0
	DefaultLoss        = 14.0
)

// Location is the fixed site all arrays belong to.
type Location struct {
	Latitude  float64
	Longitude float64
	TZ        *time.Location
}

// Mounting is the PVGIS mounting place.
type Mounting string

const (
	MountingFree     Mounting = "free"
	MountingBuilding Mounting = "building"
)

// Technology is the user-facing PV technology name.
type Technology string

const (
	TechCrystSi Technology = "crystsi"
	TechCIS     Technology = "cis"
	TechCdTe    Technology = "cdte"
	TechUnknown Technology = "unknown"
)

// PVGISCode returns the value PVGIS expects for pvtechchoice.
func (t Technology) PVGISCode() string {
	switch t {
	case TechCrystSi:
		return "crystSi"
	case TechCIS:
		return "CIS"
	case TechCdTe:
		return "CdTe"
	case TechUnknown:
		return "Unknown"
	}
	return "crystSi"
}

// ArrayConfig describes one PV array. Name is the unique key.
type ArrayConfig struct {
	Name         string
	Declination  float64 // tilt, 0-90
	Azimuth      float64 // -180..180, 0 = south
	ModulesPower float64 // kWp
	Loss         float64 // percent
	Mounting     Mounting
	Technology   Technology
}

// WithDefaults fills unset optional fields.
func (a ArrayConfig) WithDefaults() ArrayConfig {
	if a.Mounting == "" {
		a.Mounting = MountingFree
	}
	if a.Technology == "" {
		a.Technology = TechCrystSi
	}
	return a
}

// Validate checks ranges for the declared geometry.
func (a ArrayConfig) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("array name required")
	}
	if a.Declination < 0 || a.Declination > 90 {
		return fmt.Errorf("array %s: declination %.1f out of range 0-90", a.Name, a.Declination)
	}
	if a.Azimuth < -180 || a.Azimuth > 180 {
		return fmt.Errorf("array %s: azimuth %.1f out of range -180..180", a.Name, a.Azimuth)
	}
	if a.ModulesPower <= 0 {
		return fmt.Errorf("array %s: modules power must be positive", a.Name)
	}
	if a.Loss < 0 || a.Loss > 100 {
		return fmt.Errorf("array %s: loss %.1f out of range 0-100", a.Name, a.Loss)
	}
	switch a.Mounting {
	case MountingFree, MountingBuilding:
	default:
		return fmt.Errorf("array %s: unknown mounting %q", a.Name, a.Mounting)
	}
	switch a.Technology {
	case TechCrystSi, TechCIS, TechCdTe, TechUnknown:
	default:
		return fmt.Errorf("array %s: unknown technology %q", a.Name, a.Technology)
	}
	return nil
}

// Slug returns a lower-case identifier safe for topics and URLs.
func (a ArrayConfig) Slug() string {
	return Slugify(a.Name)
}

// Slugify lower-cases s and replaces anything outside [a-z0-9] with '_'.
func Slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// SnowOverride is the manual snow state of an array.
type SnowOverride int

const (
	SnowAuto SnowOverride = iota
	SnowCovered
	SnowClear
)

func (o SnowOverride) String() string {
	switch o {
	case SnowCovered:
		return "covered"
	case SnowClear:
		return "clear"
	}
	return "auto"
}

// ParseSnowOverride accepts covered/clear/auto and the boolean-ish aliases
// used by button payloads.
func ParseSnowOverride(s string) (SnowOverride, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "covered", "snow", "true", "on":
		return SnowCovered, nil
	case "clear", "false", "off":
		return SnowClear, nil
	case "auto", "unset", "", "none":
		return SnowAuto, nil
	}
	return SnowAuto, fmt.Errorf("unknown snow override %q", s)
}

// Value reports the forced state and whether an override is active.
func (o SnowOverride) Value() (covered bool, set bool) {
	switch o {
	case SnowCovered:
		return true, true
	case SnowClear:
		return false, true
	}
	return false, false
}

func (o SnowOverride) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *SnowOverride) UnmarshalText(b []byte) error {
	v, err := ParseSnowOverride(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}
