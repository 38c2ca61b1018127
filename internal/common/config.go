package common

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"

	"github.com/joseph-ayodele/prescriptions-tracker/internal/extract"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	OCR        OCRConfig        `mapstructure:"ocr"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Log        LogConfig        `mapstructure:"log"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string        `mapstructure:"driver"` // postgres | sqlite
	DSN              string        `mapstructure:"dsn"`
	MaxConns         int32         `mapstructure:"max_conns"`
	MinConns         int32         `mapstructure:"min_conns"`
	MaxConnLifetime  time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `mapstructure:"max_conn_idle_time"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr       string   `mapstructure:"grpc_addr"`
	HTTPAddr       string   `mapstructure:"http_addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Provider         string        `mapstructure:"provider"` // tesseract | mistral | none
	TesseractPath    string        `mapstructure:"tesseract_path"`
	Languages        string        `mapstructure:"languages"`
	UseTSV           bool          `mapstructure:"use_tsv"`
	HeicConverter    string        `mapstructure:"heic_converter"`
	TessdataDir      string        `mapstructure:"tessdata_dir"`
	ArtifactCacheDir string        `mapstructure:"artifact_cache_dir"`
	MistralBaseURL   string        `mapstructure:"mistral_base_url"`
	MistralAPIKey    string        `mapstructure:"mistral_api_key"`
	MistralModel     string        `mapstructure:"mistral_model"`
	RatePerSecond    float64       `mapstructure:"rate_per_second"`
	Burst            int           `mapstructure:"burst"`
	MaxRetries       int           `mapstructure:"max_retries"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// CacheConfig configures the recognized-text cache.
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"` // none | memory | redis
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// ExtractionConfig configures the field extractor.
type ExtractionConfig struct {
	RulesFile        string   `mapstructure:"rules_file"`
	ConfidenceFields []string `mapstructure:"confidence_fields"`
	MinConfidence    float64  `mapstructure:"min_confidence"`
}

// QueueConfig configures the background processing queue.
type QueueConfig struct {
	Workers        int           `mapstructure:"workers"`
	Size           int           `mapstructure:"size"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`
}

// IngestConfig configures filesystem ingestion.
type IngestConfig struct {
	Debounce   time.Duration `mapstructure:"debounce"`
	SkipHidden bool          `mapstructure:"skip_hidden"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

// TelemetryConfig configures OTLP trace and metric export.
type TelemetryConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Endpoint       string        `mapstructure:"endpoint"`
	Insecure       bool          `mapstructure:"insecure"`
	ServiceName    string        `mapstructure:"service_name"`
	MetricInterval time.Duration `mapstructure:"metric_interval"`
	SampleRatio    float64       `mapstructure:"sample_ratio"`
	RuntimeMetrics bool          `mapstructure:"runtime_metrics"`
}

// EnvPrefix prefixes every environment override, e.g. RXTRACKER_LOG_LEVEL.
const EnvPrefix = "RXTRACKER"

// legacy environment names kept working alongside the prefixed ones
var legacyEnv = map[string]string{
	"database.dsn":           "DB_URL",
	"server.grpc_addr":       "GRPC_ADDR",
	"ocr.tessdata_dir":       "TESSDATA_PREFIX",
	"ocr.heic_converter":     "HEIC_CONVERTER",
	"ocr.artifact_cache_dir": "ARTIFACT_CACHE_DIR",
	"ocr.mistral_api_key":    "MISTRAL_API_KEY",
	"cache.redis_addr":       "REDIS_ADDR",
}

// LoadConfig reads configuration from an optional YAML file and the
// environment. An empty path looks for rxtracker.yaml in the working directory.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("rxtracker")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", env)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); path != "" || !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("database.dial_timeout", 3*time.Second)
	v.SetDefault("database.statement_timeout", time.Duration(0))

	v.SetDefault("server.grpc_addr", ":8080")
	v.SetDefault("server.http_addr", ":8081")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("ocr.provider", "tesseract")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.languages", "eng")
	v.SetDefault("ocr.use_tsv", true)
	v.SetDefault("ocr.heic_converter", "magick")
	v.SetDefault("ocr.tessdata_dir", "")
	v.SetDefault("ocr.artifact_cache_dir", "./tmp")
	v.SetDefault("ocr.mistral_base_url", "https://api.mistral.ai/v1")
	v.SetDefault("ocr.mistral_api_key", "")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("ocr.rate_per_second", 2.0)
	v.SetDefault("ocr.burst", 2)
	v.SetDefault("ocr.max_retries", 3)
	v.SetDefault("ocr.timeout", 60*time.Second)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", 24*time.Hour)

	v.SetDefault("extraction.rules_file", "")
	v.SetDefault("extraction.confidence_fields", []string{"medication", "dosage", "refills", "date"})
	v.SetDefault("extraction.min_confidence", 0.75)

	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.size", 100)
	v.SetDefault("queue.process_timeout", 2*time.Minute)

	v.SetDefault("ingest.debounce", 500*time.Millisecond)
	v.SetDefault("ingest.skip_hidden", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", "prescriptions-tracker")
	v.SetDefault("telemetry.metric_interval", 30*time.Second)
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.runtime_metrics", true)
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "database.dsn (DB_URL) is required", ErrInvalidInput)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return NewAppError("CONFIG_ERROR", "database.driver must be postgres or sqlite", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" && c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "at least one of server.grpc_addr or server.http_addr is required", ErrInvalidInput)
	}
	switch c.OCR.Provider {
	case "tesseract", "none":
	case "mistral":
		if c.OCR.MistralAPIKey == "" {
			return NewAppError("CONFIG_ERROR", "ocr.mistral_api_key (MISTRAL_API_KEY) is required for the mistral provider", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "unknown ocr.provider "+c.OCR.Provider, ErrInvalidInput)
	}
	switch c.Cache.Backend {
	case "none", "memory", "redis":
	default:
		return NewAppError("CONFIG_ERROR", "unknown cache.backend "+c.Cache.Backend, ErrInvalidInput)
	}
	if c.Extraction.MinConfidence < 0 || c.Extraction.MinConfidence > 1 {
		return NewAppError("CONFIG_ERROR", "extraction.min_confidence must be within [0,1]", ErrInvalidInput)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return NewAppError("CONFIG_ERROR", "telemetry.sample_ratio must be within [0,1]", ErrInvalidInput)
	}
	if _, ok := extract.ParseFields(c.Extraction.ConfidenceFields); !ok {
		return NewAppError("CONFIG_ERROR", "extraction.confidence_fields contains an unknown field", ErrInvalidInput)
	}
	return nil
}

// Fields returns the configured confidence fields, or nil for the
// extractor default when none are configured.
func (c ExtractionConfig) Fields() []extract.Field {
	if len(c.ConfidenceFields) == 0 {
		return nil
	}
	fields, _ := extract.ParseFields(c.ConfidenceFields)
	return fields
}
