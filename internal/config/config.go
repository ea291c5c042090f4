package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults match the analyser's traditional command-line defaults.
const (
	DefaultFeedSource    = "127.0.0.1:30003"
	DefaultMQTTHost      = "127.0.0.1"
	DefaultMQTTPort      = 1883
	DefaultMQTTTopic     = "adsb/analyser"
	DefaultPositionLat   = 51.501126
	DefaultPositionLon   = -0.14239
	DefaultDistanceMaxNM = 1000.0
	DefaultAltitudeMaxFt = 75000.0
	DefaultAltitudeMinFt = -1500.0
	DefaultCapacity      = 65536
	DefaultVoxelCellNM   = 5.0
	DefaultVoxelCellFt   = 5000.0
	DefaultStorageDir    = "./data"
)

// Config holds the analyser configuration.
type Config struct {
	FeedSource string

	MQTTHost  string
	MQTTPort  int
	MQTTTopic string

	// NATSURL enables the raw feed mirror when non-empty.
	NATSURL string

	PublishInterval time.Duration
	StatusInterval  time.Duration
	PersistInterval time.Duration

	PositionLat   float64
	PositionLon   float64
	DistanceMaxNM float64
	AltitudeMaxFt float64
	AltitudeMinFt float64

	RegistryCapacity int
	VoxelCellNM      float64
	VoxelCellFt      float64
	StorageDir       string

	Debug bool
}

// Load loads the configuration from environment variables and an optional
// .env file. Every setting has a default; only malformed values fail.
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		FeedSource: envString("ADSB_SOURCE", DefaultFeedSource),
		MQTTHost:   envString("MQTT_HOST", DefaultMQTTHost),
		MQTTTopic:  envString("MQTT_TOPIC", DefaultMQTTTopic),
		NATSURL:    envString("NATS_URL", ""),
		StorageDir: envString("STORAGE_DIR", DefaultStorageDir),
	}

	var err error
	if cfg.MQTTPort, err = envInt("MQTT_PORT", DefaultMQTTPort); err != nil {
		return nil, err
	}
	if cfg.PublishInterval, err = envDuration("PUBLISH_INTERVAL", 300*time.Second); err != nil {
		return nil, err
	}
	if cfg.StatusInterval, err = envDuration("STATUS_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.PersistInterval, err = envDuration("PERSIST_INTERVAL", 300*time.Second); err != nil {
		return nil, err
	}
	if cfg.PositionLat, err = envFloat("POSITION_LAT", DefaultPositionLat); err != nil {
		return nil, err
	}
	if cfg.PositionLon, err = envFloat("POSITION_LON", DefaultPositionLon); err != nil {
		return nil, err
	}
	if cfg.DistanceMaxNM, err = envFloat("DISTANCE_MAX_NM", DefaultDistanceMaxNM); err != nil {
		return nil, err
	}
	if cfg.AltitudeMaxFt, err = envFloat("ALTITUDE_MAX_FT", DefaultAltitudeMaxFt); err != nil {
		return nil, err
	}
	if cfg.AltitudeMinFt, err = envFloat("ALTITUDE_MIN_FT", DefaultAltitudeMinFt); err != nil {
		return nil, err
	}
	if cfg.RegistryCapacity, err = envInt("REGISTRY_CAPACITY", DefaultCapacity); err != nil {
		return nil, err
	}
	if cfg.VoxelCellNM, err = envFloat("VOXEL_CELL_NM", DefaultVoxelCellNM); err != nil {
		return nil, err
	}
	if cfg.VoxelCellFt, err = envFloat("VOXEL_CELL_FT", DefaultVoxelCellFt); err != nil {
		return nil, err
	}
	cfg.Debug = envBool("DEBUG")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.PositionLat < -90 || c.PositionLat > 90 || c.PositionLon < -180 || c.PositionLon > 180 {
		return fmt.Errorf("invalid reference position %.6f,%.6f", c.PositionLat, c.PositionLon)
	}
	if c.DistanceMaxNM <= 0 {
		return fmt.Errorf("invalid max distance %.1f", c.DistanceMaxNM)
	}
	if c.AltitudeMaxFt <= c.AltitudeMinFt {
		return fmt.Errorf("invalid altitude band [%.0f, %.0f]", c.AltitudeMinFt, c.AltitudeMaxFt)
	}
	if c.RegistryCapacity <= 0 || c.RegistryCapacity&(c.RegistryCapacity-1) != 0 {
		return fmt.Errorf("registry capacity must be a power of two, got %d", c.RegistryCapacity)
	}
	if c.VoxelCellNM <= 0 || c.VoxelCellFt <= 0 {
		return fmt.Errorf("invalid voxel cell sizes %.1fnm x %.0fft", c.VoxelCellNM, c.VoxelCellFt)
	}
	if c.PublishInterval <= 0 || c.StatusInterval <= 0 || c.PersistInterval <= 0 {
		return fmt.Errorf("intervals must be positive")
	}
	return nil
}

// String renders the effective configuration for the startup echo line.
func (c *Config) String() string {
	return fmt.Sprintf(
		"config: adsb=%s, mqtt=%s:%d, mqtt-topic=%s, publish-interval=%s, status-interval=%s, persist-interval=%s, distance-max=%.0fnm, altitude-max=%.0fft, position=%.6f,%.6f, storage=%s, debug=%t",
		c.FeedSource, c.MQTTHost, c.MQTTPort, c.MQTTTopic,
		c.PublishInterval, c.StatusInterval, c.PersistInterval,
		c.DistanceMaxNM, c.AltitudeMaxFt, c.PositionLat, c.PositionLon,
		c.StorageDir, c.Debug,
	)
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

// envDuration accepts Go duration strings ("5m") or bare seconds ("300").
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "1" || v == "true" || v == "yes"
}
