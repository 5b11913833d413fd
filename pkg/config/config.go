package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development"`
	Version     string           `yaml:"version" default:"dev"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Logging     LoggingConfig    `yaml:"logging"`
	Exchange    ExchangeConfig   `yaml:"exchange"`
	Detection   DetectionConfig  `yaml:"detection"`
	Analyzer    AnalyzerConfig   `yaml:"analyzer"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Bridge      BridgeConfig     `yaml:"bridge"`
	Postgres    PostgresConfig   `yaml:"postgres"`
	Redis       RedisConfig      `yaml:"redis"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Telegram    TelegramConfig   `yaml:"telegram"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	SlowRequest     time.Duration `yaml:"slow_request" default:"500ms"`
	CORS            bool          `yaml:"cors" default:"true"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type LoggingConfig struct {
	Level     string `yaml:"level" default:"info"`
	Format    string `yaml:"format" default:"json"`
	Output    string `yaml:"output" default:"stdout"`
	Collector struct {
		Enabled   bool          `yaml:"enabled"`
		Topic     string        `yaml:"topic" default:"sniperadar.logs"`
		Interval  time.Duration `yaml:"interval" default:"1m"`
		Threshold int           `yaml:"threshold" default:"100"`
	} `yaml:"collector"`
}

type ExchangeConfig struct {
	WebBaseURL      string        `yaml:"web_base_url" default:"https://www.mexc.com"`
	APIBaseURL      string        `yaml:"api_base_url" default:"https://api.mexc.com"`
	StreamURL       string        `yaml:"stream_url" default:"wss://wbs.mexc.com/ws"`
	StreamChannels  []string      `yaml:"stream_channels"`
	Timeout         time.Duration `yaml:"timeout" default:"15s"`
	RatePerSecond   float64       `yaml:"rate_per_second" default:"5"`
	Burst           int           `yaml:"burst" default:"5"`
	BreakerFailures uint32        `yaml:"breaker_failures" default:"5"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" default:"30s"`
}

type DetectionConfig struct {
	CalendarInterval     time.Duration `yaml:"calendar_interval" default:"30s"`
	SymbolsInterval      time.Duration `yaml:"symbols_interval" default:"15s"`
	ExchangeInfoInterval time.Duration `yaml:"exchange_info_interval" default:"60s"`
	PollTimeout          time.Duration `yaml:"poll_timeout" default:"15s"`
	EnableStream         bool          `yaml:"enable_stream" default:"true"`
	ResultBuffer         int           `yaml:"result_buffer" default:"256"`
	RegistryBackend      string        `yaml:"registry_backend" default:"memory"`
	RegistryTTL          time.Duration `yaml:"registry_ttl" default:"24h"`
	RegistryMaxSize      int           `yaml:"registry_max_size" default:"50000"`
}

type AnalyzerConfig struct {
	ReadyMinConfidence    float64       `yaml:"ready_min_confidence" default:"85"`
	AdvanceMinConfidence  float64       `yaml:"advance_min_confidence" default:"70"`
	PreReadyMinConfidence float64       `yaml:"pre_ready_min_confidence" default:"60"`
	AdvanceBoostScale     float64       `yaml:"advance_boost_scale" default:"0.8"`
	Workers               int           `yaml:"workers" default:"8"`
	ActivityTimeout       time.Duration `yaml:"activity_timeout" default:"5s"`
	ActivityCacheTTL      time.Duration `yaml:"activity_cache_ttl" default:"5m"`
	Strategy              string        `yaml:"strategy" default:"rule_based"`
	RemoteURL             string        `yaml:"remote_url"`
	RemoteTimeout         time.Duration `yaml:"remote_timeout" default:"3s"`
	RemoteAttempts        int           `yaml:"remote_attempts" default:"2"`
}

type PipelineConfig struct {
	BufferSize     int           `yaml:"buffer_size" default:"64"`
	Policy         string        `yaml:"policy" default:"block"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout" default:"2s"`
	MaxRetries     int           `yaml:"max_retries" default:"3"`
}

type BridgeConfig struct {
	SupportedPatterns    []string      `yaml:"supported_patterns" default:"[\"ready_state\",\"launch_sequence\",\"pre_ready\"]"`
	MinConfidence        float64       `yaml:"min_confidence" default:"75"`
	RejectHighRisk       bool          `yaml:"reject_high_risk" default:"true"`
	MaxConcurrentPerUser int           `yaml:"max_concurrent_per_user" default:"10"`
	DedupGranularity     time.Duration `yaml:"dedup_granularity" default:"15s"`
	DedupBackend         string        `yaml:"dedup_backend" default:"memory"`
	ReadyBuffer          time.Duration `yaml:"ready_buffer" default:"5s"`
	PreReadyDelay        time.Duration `yaml:"pre_ready_delay" default:"30m"`
	DefaultUserIDs       []string      `yaml:"default_user_ids"`
	UrgentPriority       int           `yaml:"urgent_priority" default:"2"`
	ReadyQueue           string        `yaml:"ready_queue" default:"snipe:ready"`
	Defaults             struct {
		PositionSizeUsdt string  `yaml:"position_size_usdt" default:"100"`
		StopLossPercent  float64 `yaml:"stop_loss_percent" default:"5"`
		TakeProfitLevel  int     `yaml:"take_profit_level" default:"2"`
		EntryStrategy    string  `yaml:"entry_strategy" default:"market"`
	} `yaml:"defaults"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MinConns        int32         `yaml:"min_conns" default:"2"`
	MaxConns        int32         `yaml:"max_conns" default:"10"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
	Migrate         bool          `yaml:"migrate" default:"true"`
}

type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr" default:"localhost:6379"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size" default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
	PoolTimeout  time.Duration `yaml:"pool_timeout" default:"30s"`
	Prefix       string        `yaml:"prefix" default:"sniperadar"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	RequiredAcks int      `yaml:"required_acks" default:"-1"`
	Compression  string   `yaml:"compression" default:"snappy"`
	Topics       struct {
		Patterns    string `yaml:"patterns" default:"sniperadar.patterns"`
		NewListings string `yaml:"new_listings" default:"sniperadar.listings"`
		Targets     string `yaml:"targets" default:"sniperadar.targets"`
		Activity    string `yaml:"activity" default:"sniperadar.activity"`
	} `yaml:"topics"`
	Producer struct {
		MaxAttempts      int           `yaml:"max_attempts" default:"5"`
		Linger           time.Duration `yaml:"linger" default:"10ms"`
		BatchBytes       int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize        int           `yaml:"batch_size" default:"100"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		Async            bool          `yaml:"async"`
		AutoCreateTopics bool          `yaml:"auto_create_topics"`
	} `yaml:"producer"`
	Consumer struct {
		Enabled     bool          `yaml:"enabled"`
		GroupID     string        `yaml:"group_id" default:"sniperadar"`
		StartOffset string        `yaml:"start_offset" default:"latest"`
		Workers     int           `yaml:"workers" default:"4"`
		BufferSize  int           `yaml:"buffer_size" default:"100"`
		RetryMax    int           `yaml:"retry_max" default:"3"`
		BackoffMin  time.Duration `yaml:"backoff_min" default:"200ms"`
		BackoffMax  time.Duration `yaml:"backoff_max" default:"5s"`
		DLQTopic    string        `yaml:"dlq_topic"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"default"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
}

type TelegramConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Token      string        `yaml:"token"`
	ChatID     string        `yaml:"chat_id"`
	MaxRetries int           `yaml:"max_retries" default:"3"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"2s"`
}

// Load reads a YAML configuration file on top of the struct defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse applies defaults, then the YAML document, then validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads .env (when present), the YAML file, and then applies
// environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MEXC_BASE_URL"); v != "" {
		c.Exchange.WebBaseURL = v
	}
	if v := os.Getenv("MEXC_API_URL"); v != "" {
		c.Exchange.APIBaseURL = v
	}
	if v := os.Getenv("MEXC_STREAM_URL"); v != "" {
		c.Exchange.StreamURL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("SNIPE_DEFAULT_USERS"); v != "" {
		c.Bridge.DefaultUserIDs = splitList(v)
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Exchange.WebBaseURL == "" {
		return fmt.Errorf("exchange.web_base_url is required")
	}
	if c.Exchange.APIBaseURL == "" {
		return fmt.Errorf("exchange.api_base_url is required")
	}
	if c.Detection.EnableStream && c.Exchange.StreamURL == "" {
		return fmt.Errorf("exchange.stream_url is required when detection.enable_stream is set")
	}
	if c.Detection.RegistryBackend != "memory" && c.Detection.RegistryBackend != "redis" {
		return fmt.Errorf("detection.registry_backend must be 'memory' or 'redis', got '%s'", c.Detection.RegistryBackend)
	}
	if c.Analyzer.Strategy != "rule_based" && c.Analyzer.Strategy != "remote" {
		return fmt.Errorf("analyzer.strategy must be 'rule_based' or 'remote', got '%s'", c.Analyzer.Strategy)
	}
	if c.Analyzer.Strategy == "remote" && c.Analyzer.RemoteURL == "" {
		return fmt.Errorf("analyzer.remote_url is required")
	}
	if c.Pipeline.Policy != "block" && c.Pipeline.Policy != "drop_oldest" {
		return fmt.Errorf("pipeline.policy must be 'block' or 'drop_oldest', got '%s'", c.Pipeline.Policy)
	}
	if len(c.Bridge.SupportedPatterns) == 0 {
		return fmt.Errorf("bridge.supported_patterns is required")
	}
	if c.Bridge.MinConfidence < 0 || c.Bridge.MinConfidence > 100 {
		return fmt.Errorf("bridge.min_confidence must be between 0 and 100, got %v", c.Bridge.MinConfidence)
	}
	if c.Bridge.DedupBackend != "memory" && c.Bridge.DedupBackend != "redis" {
		return fmt.Errorf("bridge.dedup_backend must be 'memory' or 'redis', got '%s'", c.Bridge.DedupBackend)
	}
	if (c.Detection.RegistryBackend == "redis" || c.Bridge.DedupBackend == "redis") && !c.Redis.Enabled {
		return fmt.Errorf("redis.enabled is required for redis-backed registries")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if c.Kafka.Consumer.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("kafka.enabled is required for kafka.consumer")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required")
	}
	if c.Telegram.Enabled {
		if c.Telegram.Token == "" {
			return fmt.Errorf("telegram.token is required")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required")
		}
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
