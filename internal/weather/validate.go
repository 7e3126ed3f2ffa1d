package weather

import "fmt"

const (
	FlagCloudOutOfRange = "cloud_out_of_range"
	FlagTempOutOfRange  = "temp_out_of_range"
	FlagPrecipNegative  = "precip_negative"
	FlagSnowNegative    = "snow_negative"
)

// ValidateEntry returns quality flags for implausible values. Flagged fields
// are cleared on the entry; the rest of the entry stays usable.
func ValidateEntry(e *Entry) []string {
	var flags []string

	if e.CloudCoverage != nil && (*e.CloudCoverage < 0 || *e.CloudCoverage > 100) {
		flags = append(flags, FlagCloudOutOfRange)
		e.CloudCoverage = nil
	}
	if e.Temperature != nil && (*e.Temperature < -80 || *e.Temperature > 60) {
		flags = append(flags, FlagTempOutOfRange)
		e.Temperature = nil
	}
	if e.Precipitation != nil && *e.Precipitation < 0 {
		flags = append(flags, FlagPrecipNegative)
		e.Precipitation = nil
	}
	if e.Snow != nil && *e.Snow < 0 {
		flags = append(flags, FlagSnowNegative)
		e.Snow = nil
	}

	return flags
}

func describeFlags(datetime string, flags []string) string {
	return fmt.Sprintf("%s: %v", datetime, flags)
}
