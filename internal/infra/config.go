package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

// Config — корневая структура конфигурации оркестратора.
type Config struct {
	Server   ServerConfig       `mapstructure:"server"`
	GRPC     GRPCConfig         `mapstructure:"grpc"`
	Database DatabaseConfig     `mapstructure:"database"`
	Redis    RedisConfig        `mapstructure:"redis"`
	Auth     AuthConfig         `mapstructure:"auth"`
	Engine   EngineConfig       `mapstructure:"engine"`
	Logger   LoggerConfig       `mapstructure:"logger"`
	Tracing  TracingConfig      `mapstructure:"tracing"`
	Agents   []domain.AgentSpec `mapstructure:"agents"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type GRPCConfig struct {
	Port int `mapstructure:"port"`
	// Адрес удаленного коннектора-исполнителя (пусто — только симуляция)
	BackendAddr string `mapstructure:"backend_addr"`
}

// DatabaseConfig описывает подключение к PostgreSQL. Пустой URL — работа в памяти.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub сигналы). Пустой адрес — без Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	// Оператор, который создается при старте, если его еще нет
	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"`
	PublicKey     []byte
	PrivateKey    []byte
}

// EngineConfig — настройки диспетчера, пула и исполнителей.
type EngineConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	Workers            int           `mapstructure:"workers"`    // 0 — по числу агентов
	PoolQueue          int           `mapstructure:"pool_queue"` // Буфер пула
	TaskTimeout        time.Duration `mapstructure:"task_timeout"`
	StepScale          float64       `mapstructure:"step_scale"` // Множитель длительности шагов симуляции
	FailureRate        float64       `mapstructure:"failure_rate"`
	CompletedRetention int           `mapstructure:"completed_retention"`
	MetricsInterval    time.Duration `mapstructure:"metrics_interval"`

	HealthPenalty        float64 `mapstructure:"health_penalty"`
	HealthRecovery       float64 `mapstructure:"health_recovery"`
	HealthBlockThreshold float64 `mapstructure:"health_block_threshold"`

	JournalBufferSize    int           `mapstructure:"journal_buffer_size"`
	JournalFlushInterval time.Duration `mapstructure:"journal_flush_interval"`

	// Категории, которые исполняются удаленным коннектором по gRPC
	RemoteCategories []string `mapstructure:"remote_categories"`

	// Настройки Circuit Breaker и лимитера для удаленного исполнителя
	CBMaxRequests int           `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	RateLimit     float64       `mapstructure:"rate_limit"`
	RateBurst     int           `mapstructure:"rate_burst"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// TracingConfig — экспорт трейсов в OTLP коллектор. Пустой endpoint — трейсинг выключен.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// ENGINE_WORKERS=4 перекроет engine.workers
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = domain.DefaultAgents()
	}

	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate отсекает заведомо нерабочие комбинации до старта сервисов.
func (c *Config) Validate() error {
	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("config: engine.poll_interval must be positive")
	}
	if c.Engine.FailureRate < 0 || c.Engine.FailureRate > 1 {
		return fmt.Errorf("config: engine.failure_rate must be within [0, 1]")
	}
	if c.Engine.StepScale < 0 {
		return fmt.Errorf("config: engine.step_scale must not be negative")
	}
	if c.Auth.Enabled && len(c.Auth.PublicKey) == 0 {
		return fmt.Errorf("config: auth is enabled but no public key configured")
	}
	if c.Auth.Enabled && c.Auth.AdminPassword != "" && len(c.Auth.PrivateKey) == 0 {
		return fmt.Errorf("config: admin bootstrap needs auth.private_key_path to issue tokens")
	}
	if len(c.Engine.RemoteCategories) > 0 && c.GRPC.BackendAddr == "" {
		return fmt.Errorf("config: engine.remote_categories requires grpc.backend_addr")
	}
	seen := make(map[string]struct{}, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" || a.Type == "" {
			return fmt.Errorf("config: agent needs id and type")
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("config: duplicate agent id %q", a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("grpc.port", 50052)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.admin_username", "admin")
	v.SetDefault("auth.admin_password", "")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("tracing.service_name", "agent-orchestrator")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("engine.poll_interval", 1*time.Second)
	v.SetDefault("engine.workers", 0)
	v.SetDefault("engine.pool_queue", 16)
	v.SetDefault("engine.task_timeout", 5*time.Minute)
	v.SetDefault("engine.step_scale", 1.0)
	v.SetDefault("engine.failure_rate", 0.0)
	v.SetDefault("engine.completed_retention", 1000)
	v.SetDefault("engine.metrics_interval", 30*time.Second)
	v.SetDefault("engine.health_penalty", 10.0)
	v.SetDefault("engine.health_recovery", 2.0)
	v.SetDefault("engine.health_block_threshold", 30.0)
	v.SetDefault("engine.journal_buffer_size", 1000)
	v.SetDefault("engine.journal_flush_interval", 500*time.Millisecond)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.rate_limit", 50.0)
	v.SetDefault("engine.rate_burst", 10)
}

func loadKeyResource(path string, envDataKey string) []byte {
	// Если ключ прилетел напрямую в ENV (PEM)
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
