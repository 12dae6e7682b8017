package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/coursebuilder-backend/internal/observability"
	"github.com/yungbote/coursebuilder-backend/internal/platform/envutil"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

// ConfigFileEnv names an optional YAML file read before the environment.
const ConfigFileEnv = "COURSEBUILDER_CONFIG"

type Config struct {
	HTTPAddr    string   `yaml:"http_addr"`
	LogMode     string   `yaml:"log_mode"`
	CORSOrigins []string `yaml:"cors_origins"`

	DBDriver string `yaml:"db_driver"`
	DBDSN    string `yaml:"db_dsn"`

	// RedisAddr enables cross-process session locks when set.
	RedisAddr    string        `yaml:"redis_addr"`
	RedisLockTTL time.Duration `yaml:"redis_lock_ttl"`

	OpenAIAPIKey      string        `yaml:"openai_api_key"`
	OpenAIBaseURL     string        `yaml:"openai_base_url"`
	OpenAIModel       string        `yaml:"openai_model"`
	AITimeout         time.Duration `yaml:"ai_timeout"`
	AIMaxAttempts     int           `yaml:"ai_max_attempts"`
	AIBreakerFailures int           `yaml:"ai_breaker_failures"`
	AIBreakerCooldown time.Duration `yaml:"ai_breaker_cooldown"`

	TurnWorkers      int           `yaml:"turn_workers"`
	MaxMessageRunes  int           `yaml:"max_message_runes"`
	AutoSaveInterval time.Duration `yaml:"autosave_interval"`
	StoreMaxAttempts int           `yaml:"store_max_attempts"`

	ReaperSchedule  string        `yaml:"reaper_schedule"`
	ReaperBatchSize int           `yaml:"reaper_batch_size"`
	InactivityTTL   time.Duration `yaml:"inactivity_ttl"`
	GraceTTL        time.Duration `yaml:"grace_ttl"`

	JWTSecretKey string `yaml:"jwt_secret_key"`
	AuthDisabled bool   `yaml:"auth_disabled"`

	Otel observability.OtelConfig `yaml:"-"`
}

type otelFile struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Environment string  `yaml:"environment"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type configFile struct {
	Config `yaml:",inline"`
	Otel   otelFile `yaml:"otel"`
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:          ":8080",
		LogMode:           "development",
		DBDriver:          "postgres",
		RedisLockTTL:      2 * time.Minute,
		OpenAIModel:       "gpt-4o-mini",
		AITimeout:         30 * time.Second,
		AIMaxAttempts:     3,
		AIBreakerFailures: 5,
		AIBreakerCooldown: 30 * time.Second,
		TurnWorkers:       4,
		MaxMessageRunes:   8000,
		AutoSaveInterval:  30 * time.Second,
		StoreMaxAttempts:  3,
		ReaperSchedule:    "@every 1h",
		ReaperBatchSize:   100,
		InactivityTTL:     30 * 24 * time.Hour,
		GraceTTL:          60 * 24 * time.Hour,
		Otel: observability.OtelConfig{
			ServiceName: "coursebuilder",
			SampleRatio: 0.1,
		},
	}
}

// LoadConfig layers defaults, the optional YAML file and the environment, in that order.
func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := defaultConfig()
	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
		log.Info("Loaded config file", "path", path)
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	file := configFile{
		Config: *cfg,
		Otel: otelFile{
			Enabled:     cfg.Otel.Enabled,
			ServiceName: cfg.Otel.ServiceName,
			Environment: cfg.Otel.Environment,
			Endpoint:    cfg.Otel.Endpoint,
			Insecure:    cfg.Otel.Insecure,
			SampleRatio: cfg.Otel.SampleRatio,
		},
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	*cfg = file.Config
	cfg.Otel.Enabled = file.Otel.Enabled
	cfg.Otel.ServiceName = file.Otel.ServiceName
	cfg.Otel.Environment = file.Otel.Environment
	cfg.Otel.Endpoint = file.Otel.Endpoint
	cfg.Otel.Insecure = file.Otel.Insecure
	cfg.Otel.SampleRatio = file.Otel.SampleRatio
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = envutil.String("HTTP_ADDR", cfg.HTTPAddr)
	if port := envutil.String("PORT", ""); port != "" {
		cfg.HTTPAddr = ":" + port
	}
	cfg.LogMode = envutil.String("LOG_MODE", cfg.LogMode)
	cfg.CORSOrigins = envutil.List("CORS_ORIGINS", cfg.CORSOrigins)

	cfg.DBDriver = envutil.String("DB_DRIVER", cfg.DBDriver)
	cfg.DBDSN = envutil.String("DB_DSN", cfg.DBDSN)
	if cfg.DBDSN == "" {
		cfg.DBDSN = postgresDSNFromParts()
	}

	cfg.RedisAddr = envutil.String("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisLockTTL = envutil.Duration("REDIS_LOCK_TTL", cfg.RedisLockTTL)

	cfg.OpenAIAPIKey = envutil.String("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = envutil.String("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.OpenAIModel = envutil.String("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.AITimeout = envutil.Duration("AI_TIMEOUT", cfg.AITimeout)
	cfg.AIMaxAttempts = envutil.Int("AI_MAX_ATTEMPTS", cfg.AIMaxAttempts)
	cfg.AIBreakerFailures = envutil.Int("AI_BREAKER_FAILURES", cfg.AIBreakerFailures)
	cfg.AIBreakerCooldown = envutil.Duration("AI_BREAKER_COOLDOWN", cfg.AIBreakerCooldown)

	cfg.TurnWorkers = envutil.Int("TURN_WORKERS", cfg.TurnWorkers)
	cfg.MaxMessageRunes = envutil.Int("MAX_MESSAGE_RUNES", cfg.MaxMessageRunes)
	cfg.AutoSaveInterval = envutil.Duration("AUTOSAVE_INTERVAL", cfg.AutoSaveInterval)
	cfg.StoreMaxAttempts = envutil.Int("STORE_MAX_ATTEMPTS", cfg.StoreMaxAttempts)

	cfg.ReaperSchedule = envutil.String("REAPER_SCHEDULE", cfg.ReaperSchedule)
	cfg.ReaperBatchSize = envutil.Int("REAPER_BATCH_SIZE", cfg.ReaperBatchSize)
	cfg.InactivityTTL = envutil.Duration("INACTIVITY_TTL", cfg.InactivityTTL)
	cfg.GraceTTL = envutil.Duration("GRACE_TTL", cfg.GraceTTL)

	cfg.JWTSecretKey = envutil.String("JWT_SECRET_KEY", cfg.JWTSecretKey)
	cfg.AuthDisabled = envutil.Bool("AUTH_DISABLED", cfg.AuthDisabled)

	cfg.Otel.Enabled = envutil.Bool("OTEL_ENABLED", cfg.Otel.Enabled)
	cfg.Otel.ServiceName = envutil.String("OTEL_SERVICE_NAME", cfg.Otel.ServiceName)
	cfg.Otel.Environment = envutil.String("OTEL_ENVIRONMENT", cfg.Otel.Environment)
	cfg.Otel.Version = envutil.String("SERVICE_VERSION", cfg.Otel.Version)
	cfg.Otel.Endpoint = envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Otel.Endpoint)
	cfg.Otel.Insecure = envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", cfg.Otel.Insecure)
	if raw := envutil.String("OTEL_EXPORTER_OTLP_HEADERS", ""); raw != "" {
		cfg.Otel.Headers = observability.ParseHeaders(raw)
	}
	if raw := envutil.String("OTEL_SAMPLE_RATIO", ""); raw != "" {
		var ratio float64
		if _, err := fmt.Sscanf(raw, "%g", &ratio); err == nil {
			cfg.Otel.SampleRatio = ratio
		}
	}
}

// postgresDSNFromParts keeps the POSTGRES_* variables working when DB_DSN is unset.
func postgresDSNFromParts() string {
	host := envutil.String("POSTGRES_HOST", "")
	if host == "" {
		return ""
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host,
		envutil.String("POSTGRES_PORT", "5432"),
		envutil.String("POSTGRES_USER", "postgres"),
		envutil.String("POSTGRES_PASSWORD", ""),
		envutil.String("POSTGRES_NAME", "coursebuilder"),
		envutil.String("POSTGRES_SSLMODE", "disable"),
	)
}

func (c Config) validate() error {
	if strings.TrimSpace(c.DBDSN) == "" {
		return fmt.Errorf("missing DB_DSN")
	}
	if c.GraceTTL < c.InactivityTTL {
		return fmt.Errorf("GRACE_TTL (%s) must not be shorter than INACTIVITY_TTL (%s)", c.GraceTTL, c.InactivityTTL)
	}
	return nil
}

// validateServer adds the settings only the API process needs.
func (c Config) validateServer() error {
	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		return fmt.Errorf("missing OPENAI_API_KEY")
	}
	if !c.AuthDisabled && strings.TrimSpace(c.JWTSecretKey) == "" {
		return fmt.Errorf("missing JWT_SECRET_KEY (set AUTH_DISABLED=true for local runs)")
	}
	return nil
}

// validateReaper refuses a writing reaper pass that could not see the API server's
// session locks. An in-process registry only knows about its own process.
func (c Config) validateReaper(dryRun, localLocks bool) error {
	if strings.TrimSpace(c.RedisAddr) != "" || dryRun || localLocks {
		return nil
	}
	return fmt.Errorf("missing REDIS_ADDR: a standalone reaper needs the shared session locks (use -dry-run, or -local-locks when no API server is running)")
}
