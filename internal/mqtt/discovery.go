// Package mqtt publishes the forecast to Home Assistant through MQTT
// discovery and accepts snow override button presses.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lox/solarcast/internal/forecast"
	"github.com/lox/solarcast/internal/models"
)

const (
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultBaseTopic       = "solarcast"

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// Entity is one Home Assistant discovery config.
type Entity struct {
	Component string `json:"-"`
	ObjectID  string `json:"object_id"`
	UniqueID  string `json:"unique_id"`
	Name      string `json:"name"`

	StateTopic    string `json:"state_topic,omitempty"`
	ValueTemplate string `json:"value_template,omitempty"`
	CommandTopic  string `json:"command_topic,omitempty"`
	PayloadPress  string `json:"payload_press,omitempty"`
	PayloadOn     string `json:"payload_on,omitempty"`
	PayloadOff    string `json:"payload_off,omitempty"`

	AvailabilityTopic string `json:"availability_topic"`

	DeviceClass               string `json:"device_class,omitempty"`
	StateClass                string `json:"state_class,omitempty"`
	Unit                      string `json:"unit_of_measurement,omitempty"`
	SuggestedDisplayPrecision *int   `json:"suggested_display_precision,omitempty"`
	EntityCategory            string `json:"entity_category,omitempty"`
	Icon                      string `json:"icon,omitempty"`

	Device Device `json:"device"`
}

type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// DiscoveryTopic is where the entity config is published.
func (e Entity) DiscoveryTopic(prefix string) string {
	return fmt.Sprintf("%s/%s/%s/config", prefix, e.Component, e.UniqueID)
}

type sensorKind int

const (
	kindEnergy sensorKind = iota
	kindPower
	kindTimestamp
)

type sensorDef struct {
	key  string
	name string
	kind sensorKind
}

func forecastSensors() []sensorDef {
	defs := []sensorDef{
		{"energy_production_today", "Estimated energy production - today", kindEnergy},
		{"energy_production_today_remaining", "Estimated energy production - remaining today", kindEnergy},
		{"energy_production_tomorrow", "Estimated energy production - tomorrow", kindEnergy},
	}
	for d := range forecast.HorizonDays {
		defs = append(defs, sensorDef{fmt.Sprintf("energy_production_day_%d", d), fmt.Sprintf("Estimated energy production - day %d", d), kindEnergy})
	}
	return append(defs,
		sensorDef{"power_production_now", "Estimated power production - now", kindPower},
		sensorDef{"energy_current_hour", "Estimated energy production - this hour", kindEnergy},
		sensorDef{"energy_next_hour", "Estimated energy production - next hour", kindEnergy},
		sensorDef{"power_highest_peak_time_today", "Highest power peak time - today", kindTimestamp},
		sensorDef{"power_highest_peak_time_tomorrow", "Highest power peak time - tomorrow", kindTimestamp},
		sensorDef{"peak_power_today", "Peak power - today", kindPower},
		sensorDef{"peak_power_tomorrow", "Peak power - tomorrow", kindPower},
	)
}

func intPtr(v int) *int { return &v }

type builder struct {
	base   string
	device Device
}

func newBuilder(base string) builder {
	return builder{
		base: base,
		device: Device{
			Identifiers:  []string{base},
			Name:         "Solarcast",
			Manufacturer: "Solarcast",
			Model:        "PVGIS forecast",
		},
	}
}

func (b builder) entity(component, objectID, name, stateTopic, field string) Entity {
	e := Entity{
		Component:         component,
		ObjectID:          b.base + "_" + objectID,
		UniqueID:          b.base + "_" + objectID,
		Name:              name,
		AvailabilityTopic: b.base + "/status",
		Device:            b.device,
	}
	if stateTopic != "" {
		e.StateTopic = stateTopic
		e.ValueTemplate = "{{ value_json." + field + " }}"
	}
	return e
}

func (b builder) sensor(def sensorDef, objectID, name, stateTopic string) Entity {
	e := b.entity("sensor", objectID, name, stateTopic, def.key)
	switch def.kind {
	case kindEnergy:
		e.DeviceClass = "energy"
		e.Unit = "Wh"
		e.SuggestedDisplayPrecision = intPtr(1)
		e.Icon = "mdi:solar-power"
	case kindPower:
		e.DeviceClass = "power"
		e.Unit = "W"
		e.StateClass = "measurement"
		e.SuggestedDisplayPrecision = intPtr(0)
	case kindTimestamp:
		e.DeviceClass = "timestamp"
	}
	return e
}

// StateTopic is the JSON state topic for the total.
func StateTopic(base string) string { return base + "/state" }

// ArrayStateTopic is the JSON state topic for one array.
func ArrayStateTopic(base string, arr models.ArrayConfig) string {
	return base + "/" + arr.Slug() + "/state"
}

// SnowCommandTopic receives covered/clear/auto for one array.
func SnowCommandTopic(base string, arr models.ArrayConfig) string {
	return base + "/" + arr.Slug() + "/snow/set"
}

// Entities lists every discovery entity for the site and its arrays.
func Entities(base string, arrays []models.ArrayConfig) []Entity {
	b := newBuilder(base)
	total := StateTopic(base)

	var out []Entity
	for _, def := range forecastSensors() {
		out = append(out, b.sensor(def, def.key, def.name, total))
	}

	cloud := b.entity("sensor", "cloud_coverage", "Cloud coverage", total, "cloud_coverage")
	cloud.Unit = "%"
	cloud.EntityCategory = "diagnostic"
	cloud.Icon = "mdi:weather-cloudy"

	avail := b.entity("binary_sensor", "weather_entity_available", "Weather entity available", total, "weather_entity_available")
	avail.DeviceClass = "connectivity"
	avail.PayloadOn = "ON"
	avail.PayloadOff = "OFF"
	avail.EntityCategory = "diagnostic"

	clearNow := b.entity("sensor", "clear_sky_power_now", "Clear sky power - now", total, "clear_sky_power_now")
	clearNow.DeviceClass = "power"
	clearNow.Unit = "W"
	clearNow.StateClass = "measurement"
	clearNow.EntityCategory = "diagnostic"

	clearToday := b.entity("sensor", "clear_sky_energy_today", "Clear sky energy - today", total, "clear_sky_energy_today")
	clearToday.DeviceClass = "energy"
	clearToday.Unit = "kWh"
	clearToday.SuggestedDisplayPrecision = intPtr(2)
	clearToday.EntityCategory = "diagnostic"

	out = append(out, cloud, avail, clearNow, clearToday)

	for _, arr := range arrays {
		slug := arr.Slug()
		topic := ArrayStateTopic(base, arr)
		for _, def := range forecastSensors() {
			out = append(out, b.sensor(def, slug+"_"+def.key, arr.Name+" "+def.name, topic))
		}

		snow := b.entity("binary_sensor", "snow_covered_"+slug, "Snow covered "+arr.Name, topic, "snow_covered")
		snow.PayloadOn = "ON"
		snow.PayloadOff = "OFF"
		snow.Icon = "mdi:snowflake"
		out = append(out, snow)

		cmd := SnowCommandTopic(base, arr)
		for _, btn := range []struct{ id, name, payload string }{
			{"mark_snow_covered", "Mark as snow covered", models.SnowCovered.String()},
			{"mark_snow_clear", "Mark as clear", models.SnowClear.String()},
			{"snow_auto", "Snow detection auto", models.SnowAuto.String()},
		} {
			e := b.entity("button", btn.id+"_"+slug, arr.Name+" "+btn.name, "", "")
			e.CommandTopic = cmd
			e.PayloadPress = btn.payload
			e.Icon = "mdi:snowflake-alert"
			out = append(out, e)
		}
	}
	return out
}

// Values are the sensor fields of one forecast, keyed as in the state
// payload.
func Values(f *forecast.ArrayForecast) map[string]any {
	v := map[string]any{}
	if f == nil {
		return v
	}
	v["energy_production_today"] = f.EnergyToday
	v["energy_production_today_remaining"] = f.EnergyTodayRemaining
	v["energy_production_tomorrow"] = f.EnergyTomorrow
	for d, wh := range f.EnergyDays {
		v[fmt.Sprintf("energy_production_day_%d", d)] = wh
	}
	v["power_production_now"] = f.PowerNow
	v["energy_current_hour"] = f.EnergyCurrentHour
	v["energy_next_hour"] = f.EnergyNextHour
	v["power_highest_peak_time_today"] = formatTime(f.PeakTimeToday)
	v["power_highest_peak_time_tomorrow"] = formatTime(f.PeakTimeTomorrow)
	v["peak_power_today"] = f.PeakPowerToday
	v["peak_power_tomorrow"] = f.PeakPowerTomorrow
	return v
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

// StateMessage is one retained state payload.
type StateMessage struct {
	Topic   string
	Payload []byte
}

// StateMessages encodes the total and per-array state payloads.
func StateMessages(base string, arrays []models.ArrayConfig, state *forecast.State) ([]StateMessage, error) {
	if state == nil {
		return nil, nil
	}

	total := Values(state.Total)
	total["cloud_coverage"] = state.CloudCoverageUsed
	total["weather_entity_available"] = onOff(state.WeatherAvailable)
	total["clear_sky_power_now"] = state.ClearSkyPowerNow
	total["clear_sky_energy_today"] = state.ClearSkyEnergyToday

	payload, err := json.Marshal(total)
	if err != nil {
		return nil, fmt.Errorf("encode total state: %w", err)
	}
	msgs := []StateMessage{{Topic: StateTopic(base), Payload: payload}}

	for _, arr := range arrays {
		f, ok := state.Arrays[arr.Name]
		if !ok {
			continue
		}
		values := Values(&f)
		values["snow_covered"] = onOff(f.SnowCovered)
		values["snow_override"] = state.Override(arr.Name).String()
		payload, err := json.Marshal(values)
		if err != nil {
			return nil, fmt.Errorf("encode %s state: %w", arr.Name, err)
		}
		msgs = append(msgs, StateMessage{Topic: ArrayStateTopic(base, arr), Payload: payload})
	}
	return msgs, nil
}
