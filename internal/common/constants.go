package common

import "time"

// Environment variable keys
const (
	EnvConfigFile     = "CONFIG_FILE"
	EnvListenAddr     = "LISTEN_ADDR"
	EnvModelDir       = "MODEL_DIR"
	EnvForestModel    = "FOREST_MODEL"
	EnvBoosterModel   = "BOOSTER_MODEL"
	EnvEncoderTable   = "ENCODER_TABLE"
	EnvWeightForest   = "WEIGHT_FOREST"
	EnvWeightBooster  = "WEIGHT_BOOSTER"
	EnvFraudThreshold = "FRAUD_THRESHOLD"
	EnvTopReasons     = "TOP_REASONS"
	EnvReadTimeout    = "READ_TIMEOUT"
	EnvWriteTimeout   = "WRITE_TIMEOUT"
	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvHistoryBackend = "HISTORY_BACKEND"
	EnvDataPath       = "DATA_PATH"
	EnvRedisAddr      = "REDIS_ADDR"
	EnvHistoryTTL     = "HISTORY_TTL"
	EnvLogLevel       = "LOG_LEVEL"
	EnvLogFormat      = "LOG_FORMAT"
)

// Configuration defaults
const (
	DefaultListenAddr     = ":5001"
	DefaultModelDir       = "models"
	DefaultForestModel    = "rf_model.json"
	DefaultBoosterModel   = "xgb_model.json"
	DefaultEncoderTable   = "encoders.json"
	DefaultWeightForest   = 0.5
	DefaultWeightBooster  = 0.5
	DefaultFraudThreshold = 0.5
	DefaultTopReasons     = 5
	DefaultHistoryBackend = HistoryNone
	DefaultRedisAddr      = "localhost:6379"
	DefaultDataPath       = "data"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"

	DefaultReadTimeout    = 5 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultRequestTimeout = 2 * time.Second
	DefaultHistoryTTL     = 30 * 24 * time.Hour
)

// History backends
const (
	HistoryNone  = "none"
	HistoryBolt  = "bolt"
	HistoryRedis = "redis"
)

// Validation constants
const (
	MinTopReasons = 1
	MaxTopReasons = 19
	WeightEpsilon = 1e-9
)

// UnknownCategory replaces empty categorical values before encoding.
const UnknownCategory = "Unknown"

// EarthRadiusKm is the sphere radius used for great-circle distances.
const EarthRadiusKm = 6371.0
