package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileName is the JSON config file the daemon looks for.
const ConfigFileName = "scannermap.cfg.json"

// Load reads configuration from the JSON file in configDir and sets default
// values for every knob the sync engine exposes.
func Load(configDir string) error {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./scannermap-logs")

	viper.SetDefault("api.serverUrl", "http://localhost:3000")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.timeout", "30s")
	viper.SetDefault("api.cacheTTL", "10s")
	viper.SetDefault("api.batchInterval", "250ms")
	viper.SetDefault("api.batchSize", 25)

	viper.SetDefault("stream.url", "ws://localhost:3000/socket")
	viper.SetDefault("stream.secret", "")

	viper.SetDefault("calls.rangeHours", 8)
	viper.SetDefault("calls.pendingSentinel", "pending")
	viper.SetDefault("calls.sweepInterval", "1m")

	viper.SetDefault("reconcile.interval", "5s")
	viper.SetDefault("reconcile.maxAttempts", 12)

	viper.SetDefault("livefeed.maxItems", 5)
	viper.SetDefault("livefeed.displayDuration", "45s")
	viper.SetDefault("livefeed.talkgroups", []int{})

	viper.SetDefault("history.pageSize", 20)
	viper.SetDefault("history.pollInterval", "10s")
	viper.SetDefault("history.talkgroups", []int{})

	viper.SetDefault("coverage.enabled", false)
	viper.SetDefault("coverage.minLat", -90.0)
	viper.SetDefault("coverage.maxLat", 90.0)
	viper.SetDefault("coverage.minLon", -180.0)
	viper.SetDefault("coverage.maxLon", 180.0)

	viper.SetDefault("playback.volume", 1.0)

	viper.SetDefault("persist.enabled", true)
	viper.SetDefault("persist.driver", "sqlite")
	viper.SetDefault("persist.sqlitePath", "./scannermap-cache.db")
	viper.SetDefault("persist.db.host", "localhost")
	viper.SetDefault("persist.db.port", "5432")
	viper.SetDefault("persist.db.username", "postgres")
	viper.SetDefault("persist.db.password", "postgres")
	viper.SetDefault("persist.db.database", "scannermap")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "scannermap-metrics")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("monitor.interval", "30s")

	viper.SetConfigName(ConfigFileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetFloat returns a float config value.
func GetFloat(key string) float64 {
	return viper.GetFloat64(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}
