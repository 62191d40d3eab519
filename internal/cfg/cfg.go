// Package cfg loads service settings from an optional .env file, an optional
// YAML config file and environment variables, in increasing precedence.
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fraudscore/internal/common"
)

type Settings struct {
	ListenAddr     string
	ModelDir       string
	ForestModel    string
	BoosterModel   string
	EncoderTable   string
	WeightForest   float64
	WeightBooster  float64
	FraudThreshold float64
	TopReasons     int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	HistoryBackend string
	DataPath       string
	RedisAddr      string
	HistoryTTL     time.Duration
	LogLevel       string
	LogFormat      string
}

type ConfigFile struct {
	Server struct {
		ListenAddr     string `yaml:"listenAddr"`
		ReadTimeout    string `yaml:"readTimeout"`
		WriteTimeout   string `yaml:"writeTimeout"`
		RequestTimeout string `yaml:"requestTimeout"`
	} `yaml:"server"`

	Models struct {
		Dir          string `yaml:"dir"`
		Forest       string `yaml:"forest"`
		Booster      string `yaml:"booster"`
		EncoderTable string `yaml:"encoderTable"`
	} `yaml:"models"`

	Ensemble struct {
		ForestWeight  *float64 `yaml:"forestWeight"`
		BoosterWeight *float64 `yaml:"boosterWeight"`
		Threshold     *float64 `yaml:"threshold"`
		TopReasons    int      `yaml:"topReasons"`
	} `yaml:"ensemble"`

	History struct {
		Backend   string `yaml:"backend"`
		DataPath  string `yaml:"dataPath"`
		RedisAddr string `yaml:"redisAddr"`
		TTL       string `yaml:"ttl"`
	} `yaml:"history"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Load reads .env when present, then CONFIG_FILE when set, with environment
// variables taking precedence over the file.
func Load() (Settings, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	settings := Settings{
		ListenAddr:     getEnvOrDefault(common.EnvListenAddr, orString(config.Server.ListenAddr, common.DefaultListenAddr)),
		ModelDir:       getEnvOrDefault(common.EnvModelDir, orString(config.Models.Dir, common.DefaultModelDir)),
		ForestModel:    getEnvOrDefault(common.EnvForestModel, orString(config.Models.Forest, common.DefaultForestModel)),
		BoosterModel:   getEnvOrDefault(common.EnvBoosterModel, orString(config.Models.Booster, common.DefaultBoosterModel)),
		EncoderTable:   getEnvOrDefault(common.EnvEncoderTable, orString(config.Models.EncoderTable, common.DefaultEncoderTable)),
		WeightForest:   getFloatOrDefault(common.EnvWeightForest, orFloat(config.Ensemble.ForestWeight, common.DefaultWeightForest)),
		WeightBooster:  getFloatOrDefault(common.EnvWeightBooster, orFloat(config.Ensemble.BoosterWeight, common.DefaultWeightBooster)),
		FraudThreshold: getFloatOrDefault(common.EnvFraudThreshold, orFloat(config.Ensemble.Threshold, common.DefaultFraudThreshold)),
		TopReasons:     getIntOrDefault(common.EnvTopReasons, orInt(config.Ensemble.TopReasons, common.DefaultTopReasons)),
		ReadTimeout:    getDurationOrDefault(common.EnvReadTimeout, parseDuration(config.Server.ReadTimeout, common.DefaultReadTimeout)),
		WriteTimeout:   getDurationOrDefault(common.EnvWriteTimeout, parseDuration(config.Server.WriteTimeout, common.DefaultWriteTimeout)),
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, parseDuration(config.Server.RequestTimeout, common.DefaultRequestTimeout)),
		HistoryBackend: strings.ToLower(getEnvOrDefault(common.EnvHistoryBackend, orString(config.History.Backend, common.DefaultHistoryBackend))),
		DataPath:       getEnvOrDefault(common.EnvDataPath, orString(config.History.DataPath, common.DefaultDataPath)),
		RedisAddr:      getEnvOrDefault(common.EnvRedisAddr, orString(config.History.RedisAddr, common.DefaultRedisAddr)),
		HistoryTTL:     getDurationOrDefault(common.EnvHistoryTTL, parseDuration(config.History.TTL, common.DefaultHistoryTTL)),
		LogLevel:       strings.ToLower(getEnvOrDefault(common.EnvLogLevel, orString(config.Logging.Level, common.DefaultLogLevel))),
		LogFormat:      strings.ToLower(getEnvOrDefault(common.EnvLogFormat, orString(config.Logging.Format, common.DefaultLogFormat))),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ListenAddr:     getEnvOrDefault(common.EnvListenAddr, common.DefaultListenAddr),
		ModelDir:       getEnvOrDefault(common.EnvModelDir, common.DefaultModelDir),
		ForestModel:    getEnvOrDefault(common.EnvForestModel, common.DefaultForestModel),
		BoosterModel:   getEnvOrDefault(common.EnvBoosterModel, common.DefaultBoosterModel),
		EncoderTable:   getEnvOrDefault(common.EnvEncoderTable, common.DefaultEncoderTable),
		WeightForest:   getFloatOrDefault(common.EnvWeightForest, common.DefaultWeightForest),
		WeightBooster:  getFloatOrDefault(common.EnvWeightBooster, common.DefaultWeightBooster),
		FraudThreshold: getFloatOrDefault(common.EnvFraudThreshold, common.DefaultFraudThreshold),
		TopReasons:     getIntOrDefault(common.EnvTopReasons, common.DefaultTopReasons),
		ReadTimeout:    getDurationOrDefault(common.EnvReadTimeout, common.DefaultReadTimeout),
		WriteTimeout:   getDurationOrDefault(common.EnvWriteTimeout, common.DefaultWriteTimeout),
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, common.DefaultRequestTimeout),
		HistoryBackend: strings.ToLower(getEnvOrDefault(common.EnvHistoryBackend, common.DefaultHistoryBackend)),
		DataPath:       getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		RedisAddr:      getEnvOrDefault(common.EnvRedisAddr, common.DefaultRedisAddr),
		HistoryTTL:     getDurationOrDefault(common.EnvHistoryTTL, common.DefaultHistoryTTL),
		LogLevel:       strings.ToLower(getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel)),
		LogFormat:      strings.ToLower(getEnvOrDefault(common.EnvLogFormat, common.DefaultLogFormat)),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseDuration(v string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultValue
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

// orFloat treats an absent YAML value as unset; an explicit 0 is kept so a
// single-model ensemble can be configured.
func orFloat(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if settings.ModelDir == "" {
		return fmt.Errorf("model directory cannot be empty")
	}
	if settings.ForestModel == "" || settings.BoosterModel == "" || settings.EncoderTable == "" {
		return fmt.Errorf("forest, booster and encoder table file names are required")
	}

	// Ensemble
	if settings.WeightForest < 0 || settings.WeightForest > 1 {
		return fmt.Errorf("forest weight must be between 0 and 1, got %f", settings.WeightForest)
	}
	if settings.WeightBooster < 0 || settings.WeightBooster > 1 {
		return fmt.Errorf("booster weight must be between 0 and 1, got %f", settings.WeightBooster)
	}
	if sum := settings.WeightForest + settings.WeightBooster; sum < 1-common.WeightEpsilon || sum > 1+common.WeightEpsilon {
		return fmt.Errorf("ensemble weights must sum to 1, got %f", sum)
	}
	if settings.FraudThreshold < 0 || settings.FraudThreshold > 1 {
		return fmt.Errorf("fraud threshold must be between 0 and 1, got %f", settings.FraudThreshold)
	}
	if settings.TopReasons < common.MinTopReasons || settings.TopReasons > common.MaxTopReasons {
		return fmt.Errorf("top reasons must be between %d and %d, got %d", common.MinTopReasons, common.MaxTopReasons, settings.TopReasons)
	}

	// Timeouts
	if settings.ReadTimeout < 100*time.Millisecond || settings.ReadTimeout > 5*time.Minute {
		return fmt.Errorf("read timeout must be between 100ms and 5m, got %v", settings.ReadTimeout)
	}
	if settings.WriteTimeout < 100*time.Millisecond || settings.WriteTimeout > 5*time.Minute {
		return fmt.Errorf("write timeout must be between 100ms and 5m, got %v", settings.WriteTimeout)
	}
	if settings.RequestTimeout < 10*time.Millisecond || settings.RequestTimeout > time.Minute {
		return fmt.Errorf("request timeout must be between 10ms and 1m, got %v", settings.RequestTimeout)
	}

	// History
	switch settings.HistoryBackend {
	case common.HistoryNone:
	case common.HistoryBolt:
		if settings.DataPath == "" {
			return fmt.Errorf("data path is required for the bolt history backend")
		}
	case common.HistoryRedis:
		if settings.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the redis history backend")
		}
		if settings.HistoryTTL < 0 {
			return fmt.Errorf("history TTL cannot be negative, got %v", settings.HistoryTTL)
		}
	default:
		return fmt.Errorf("history backend must be one of none, bolt, redis, got %q", settings.HistoryBackend)
	}

	// Logging
	switch settings.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got %q", settings.LogFormat)
	}

	return nil
}
