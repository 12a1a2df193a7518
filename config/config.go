// Package config loads pipeline-wide knobs once at CLI startup using
// spf13/viper layered over an optional TOML file, mirroring the layered
// config approach seen in the pack's steveyegge-beads repo. The core
// ingestion packages never read global config themselves — everything
// they need arrives as an explicit Config value.
package config

import (
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config is the full set of knobs the load/validate pipeline consults.
type Config struct {
	// StorageDSN is either a sqlite directory path or a postgres
	// connection string, disambiguated by Backend.
	Backend   string // "sqlite" or "postgres"
	StorageDSN string

	// StrictCalendarDuplicateKey gates the calendar/calendar_dates
	// duplicate-service-id behavior documented in spec.md §9's open
	// questions: the source treats the same service_id appearing in
	// both calendar.txt and calendar_dates.txt as a DUPLICATE_KEY
	// error, which is legal per the GTFS reference. Default false.
	StrictCalendarDuplicateKey bool

	// Speed validator thresholds, meters/second, indexed by
	// model.RouteType. Flex route types fall back to BusSpeedThreshold
	// (see validate/speed.go).
	BusSpeedThreshold   float64
	RailSpeedThreshold  float64
	TravelTooSlowFloor  float64

	// DuplicateStopToleranceMeters is the distance under which two
	// stops sharing a parent are flagged DUPLICATE_STOP.
	DuplicateStopToleranceMeters float64

	// LoaderBatchSize is the number of rows buffered before a
	// parameterized-insert batch (or bulk-copy spool) is flushed.
	LoaderBatchSize int
}

// Default mirrors the thresholds spec.md §4.9 names informally (bus
// ~45 m/s, rail ~90 m/s).
func Default() Config {
	return Config{
		Backend:                      "sqlite",
		StorageDSN:                   ".",
		StrictCalendarDuplicateKey:   false,
		BusSpeedThreshold:            45.0,
		RailSpeedThreshold:           90.0,
		TravelTooSlowFloor:           0.1,
		DuplicateStopToleranceMeters: 2.0,
		LoaderBatchSize:              1000,
	}
}

// Load reads environment variables (prefixed GTFSINGEST_) and, if
// tomlPath is non-empty, a TOML file, layering them over Default().
func Load(tomlPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("gtfsingest")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("storage_dsn", cfg.StorageDSN)
	v.SetDefault("strict_calendar_duplicate_key", cfg.StrictCalendarDuplicateKey)
	v.SetDefault("bus_speed_threshold", cfg.BusSpeedThreshold)
	v.SetDefault("rail_speed_threshold", cfg.RailSpeedThreshold)
	v.SetDefault("travel_too_slow_floor", cfg.TravelTooSlowFloor)
	v.SetDefault("duplicate_stop_tolerance_meters", cfg.DuplicateStopToleranceMeters)
	v.SetDefault("loader_batch_size", cfg.LoaderBatchSize)

	if tomlPath != "" {
		v.SetConfigFile(tomlPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return cfg, err
		}
	}

	cfg.Backend = v.GetString("backend")
	cfg.StorageDSN = v.GetString("storage_dsn")
	cfg.StrictCalendarDuplicateKey = v.GetBool("strict_calendar_duplicate_key")
	cfg.BusSpeedThreshold = v.GetFloat64("bus_speed_threshold")
	cfg.RailSpeedThreshold = v.GetFloat64("rail_speed_threshold")
	cfg.TravelTooSlowFloor = v.GetFloat64("travel_too_slow_floor")
	cfg.DuplicateStopToleranceMeters = v.GetFloat64("duplicate_stop_tolerance_meters")
	cfg.LoaderBatchSize = v.GetInt("loader_batch_size")

	return cfg, nil
}

// ManifestEntry names one archive to load in a batch `gtfsingest load
// --manifest` run: a path plus an optional human label carried through
// to the CLI's summary line.
type ManifestEntry struct {
	Path  string `toml:"path"`
	Label string `toml:"label"`
}

// Manifest is decoded directly via BurntSushi/toml rather than through
// viper: it's a plain batch job list, not layered runtime config, so it
// doesn't need env-var overlay or defaulting semantics.
type Manifest struct {
	Entries []ManifestEntry `toml:"feed"`
}

func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	_, err := toml.DecodeFile(path, &m)
	return m, err
}
