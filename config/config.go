package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Gate     GateConfig     `mapstructure:"gate"`
	Cleaning CleaningConfig `mapstructure:"cleaning"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Render   RenderConfig   `mapstructure:"render"`
	Output   OutputConfig   `mapstructure:"output"`
	History  HistoryConfig  `mapstructure:"history"`
	Log      LogConfig      `mapstructure:"log"`
	Profiles ProfilesConfig `mapstructure:"profiles"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// CrawlConfig selects the partitions and bounds the search space
type CrawlConfig struct {
	Partitions    []string `mapstructure:"partitions"`
	Strategy      string   `mapstructure:"strategy"` // "paginated" or "taxonomy"
	MaxListings   int      `mapstructure:"max_listings"`
	MaxPages      int      `mapstructure:"max_pages"`
	PerPairLimit  int      `mapstructure:"per_pair_limit"`
	Condition     string   `mapstructure:"condition"` // "new", "used" or "all"
	MinPrice      int      `mapstructure:"min_price"`
	MaxPrice      int      `mapstructure:"max_price"`
	Makes         []string `mapstructure:"makes"`
	DetailPages   bool     `mapstructure:"detail_pages"`
	DetailWorkers int      `mapstructure:"detail_workers"`
}

// GateConfig holds the fetch gate's pacing and retry settings
type GateConfig struct {
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	MaxJitter        time.Duration `mapstructure:"max_jitter"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	BackoffUnit      time.Duration `mapstructure:"backoff_unit"`
	BlockBackoffBase float64       `mapstructure:"block_backoff_base"`
	ErrorBackoffBase float64       `mapstructure:"error_backoff_base"`
	SpeedupFactor    float64       `mapstructure:"speedup_factor"`
	SlowdownFactor   float64       `mapstructure:"slowdown_factor"`
	GlobalRPS        float64       `mapstructure:"global_rps"`
	UserAgents       []string      `mapstructure:"user_agents"`
}

// CleaningConfig holds the cleaning pipeline thresholds
type CleaningConfig struct {
	AllowedFuelTypes    []string `mapstructure:"allowed_fuel_types"`
	PriceFloor          float64  `mapstructure:"price_floor"`
	NewMileageThreshold float64  `mapstructure:"new_mileage_threshold"`
	SuspiciousAgeYears  int      `mapstructure:"suspicious_age_years"`
	SuspiciousMileage   float64  `mapstructure:"suspicious_mileage"`
	RequiredFields      []string `mapstructure:"required_fields"`
}

// CacheConfig holds cache-related configuration
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// RenderConfig enables the headless browser transport
type RenderConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ControlURL  string        `mapstructure:"control_url"`
	PageTimeout time.Duration `mapstructure:"page_timeout"`
}

// OutputConfig selects and configures the output sinks
type OutputConfig struct {
	Sinks              []string `mapstructure:"sinks"`
	Dir                string   `mapstructure:"dir"`
	SQLitePath         string   `mapstructure:"sqlite_path"`
	PostgresDSN        string   `mapstructure:"postgres_dsn"`
	RabbitMQURL        string   `mapstructure:"rabbitmq_url"`
	RabbitMQExchange   string   `mapstructure:"rabbitmq_exchange"`
	RabbitMQRoutingKey string   `mapstructure:"rabbitmq_routing_key"`
	KafkaBrokers       []string `mapstructure:"kafka_brokers"`
	KafkaTopic         string   `mapstructure:"kafka_topic"`
}

// HistoryConfig holds the run-to-run history settings
type HistoryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	SnapshotDir string `mapstructure:"snapshot_dir"`
	File        string `mapstructure:"file"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

// ProfilesConfig points at a directory of site profiles overriding the built-in ones
type ProfilesConfig struct {
	Dir string `mapstructure:"dir"`
}

var (
	strategies = []string{"paginated", "taxonomy"}
	conditions = []string{"new", "used", "all"}
	sinkKinds  = []string{"json", "csv", "sqlite", "postgres", "rabbitmq", "kafka"}
	logFormats = []string{"text", "json"}
)

// Load loads configuration from a .env file, environment variables and an
// optional config file. file may be empty to search the default locations.
func Load(file string) (*Config, error) {
	// .env is optional; real environment variables win over it
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/carscraper/")
	}

	// CARSCRAPER_GATE_MAX_CONCURRENT=8 overrides gate.max_concurrent
	v.SetEnvPrefix("CARSCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	config.normalize()

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Crawl defaults
	v.SetDefault("crawl.partitions", []string{"de", "fr", "it", "be", "tn"})
	v.SetDefault("crawl.strategy", "paginated")
	v.SetDefault("crawl.max_listings", 200)
	v.SetDefault("crawl.max_pages", 20)
	v.SetDefault("crawl.per_pair_limit", 20)
	v.SetDefault("crawl.condition", "all")
	v.SetDefault("crawl.min_price", 0)
	v.SetDefault("crawl.max_price", 0)
	v.SetDefault("crawl.makes", []string{})
	v.SetDefault("crawl.detail_pages", true)
	v.SetDefault("crawl.detail_workers", 5)

	// Gate defaults
	v.SetDefault("gate.max_concurrent", 5)
	v.SetDefault("gate.base_delay", "500ms")
	v.SetDefault("gate.max_delay", "10s")
	v.SetDefault("gate.max_jitter", "300ms")
	v.SetDefault("gate.max_retries", 3)
	v.SetDefault("gate.request_timeout", "30s")
	v.SetDefault("gate.backoff_unit", "1s")
	v.SetDefault("gate.block_backoff_base", 3.0)
	v.SetDefault("gate.error_backoff_base", 2.0)
	v.SetDefault("gate.speedup_factor", 0.75)
	v.SetDefault("gate.slowdown_factor", 2.0)
	v.SetDefault("gate.global_rps", 0.0)
	v.SetDefault("gate.user_agents", []string{})

	// Cleaning defaults
	v.SetDefault("cleaning.allowed_fuel_types", []string{"petrol", "diesel", "electric", "hybrid", "plug-in hybrid", "hybrid_rechargeable"})
	v.SetDefault("cleaning.price_floor", 500.0)
	v.SetDefault("cleaning.new_mileage_threshold", 100.0)
	v.SetDefault("cleaning.suspicious_age_years", 3)
	v.SetDefault("cleaning.suspicious_mileage", 100.0)
	v.SetDefault("cleaning.required_fields", []string{"price", "make", "model"})

	// Cache defaults
	v.SetDefault("cache.ttl", "24h")

	// Render defaults
	v.SetDefault("render.enabled", false)
	v.SetDefault("render.control_url", "")
	v.SetDefault("render.page_timeout", "30s")

	// Output defaults
	v.SetDefault("output.sinks", []string{"json"})
	v.SetDefault("output.dir", "data")
	v.SetDefault("output.sqlite_path", "")
	v.SetDefault("output.postgres_dsn", "")
	v.SetDefault("output.rabbitmq_url", "")
	v.SetDefault("output.rabbitmq_exchange", "listings")
	v.SetDefault("output.rabbitmq_routing_key", "listing")
	v.SetDefault("output.kafka_brokers", []string{})
	v.SetDefault("output.kafka_topic", "listings")

	// History defaults
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.snapshot_dir", "data/snapshots")
	v.SetDefault("history.file", "data/history.json")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("profiles.dir", "")
}

// normalize lower-cases enum-like values and drops empty list entries
func (c *Config) normalize() {
	c.Crawl.Strategy = strings.ToLower(strings.TrimSpace(c.Crawl.Strategy))
	c.Crawl.Condition = strings.ToLower(strings.TrimSpace(c.Crawl.Condition))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Crawl.Partitions = cleanList(c.Crawl.Partitions, true)
	c.Crawl.Makes = cleanList(c.Crawl.Makes, false)
	c.Output.Sinks = cleanList(c.Output.Sinks, true)
	c.Output.KafkaBrokers = cleanList(c.Output.KafkaBrokers, false)
}

func cleanList(values []string, lower bool) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate re-checks the configuration after callers changed it, for example
// from command-line flags
func (c *Config) Validate() error {
	c.normalize()
	if err := validate(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// validate validates the configuration
func validate(config *Config) error {
	if len(config.Crawl.Partitions) == 0 {
		return fmt.Errorf("at least one partition is required (set CARSCRAPER_CRAWL_PARTITIONS)")
	}

	if !slices.Contains(strategies, config.Crawl.Strategy) {
		return fmt.Errorf("crawl strategy must be 'paginated' or 'taxonomy', got: %s", config.Crawl.Strategy)
	}

	if !slices.Contains(conditions, config.Crawl.Condition) {
		return fmt.Errorf("crawl condition must be 'new', 'used' or 'all', got: %s", config.Crawl.Condition)
	}

	if config.Crawl.MaxPrice > 0 && config.Crawl.MinPrice > config.Crawl.MaxPrice {
		return fmt.Errorf("crawl min_price %d exceeds max_price %d", config.Crawl.MinPrice, config.Crawl.MaxPrice)
	}

	if config.Gate.MaxConcurrent < 1 {
		return fmt.Errorf("gate max_concurrent must be at least 1, got: %d", config.Gate.MaxConcurrent)
	}

	if config.Gate.MaxRetries < 1 {
		return fmt.Errorf("gate max_retries must be at least 1, got: %d", config.Gate.MaxRetries)
	}

	if config.Gate.SpeedupFactor <= 0 || config.Gate.SpeedupFactor > 1 {
		return fmt.Errorf("gate speedup_factor must be in (0, 1], got: %v", config.Gate.SpeedupFactor)
	}

	if config.Gate.SlowdownFactor < 1 {
		return fmt.Errorf("gate slowdown_factor must be at least 1, got: %v", config.Gate.SlowdownFactor)
	}

	for _, s := range config.Output.Sinks {
		if !slices.Contains(sinkKinds, s) {
			return fmt.Errorf("unknown output sink: %s", s)
		}
	}

	if slices.Contains(config.Output.Sinks, "postgres") && config.Output.PostgresDSN == "" {
		return fmt.Errorf("postgres DSN is required when the postgres sink is enabled")
	}

	if slices.Contains(config.Output.Sinks, "rabbitmq") && config.Output.RabbitMQURL == "" {
		return fmt.Errorf("RabbitMQ URL is required when the rabbitmq sink is enabled")
	}

	if slices.Contains(config.Output.Sinks, "kafka") && (len(config.Output.KafkaBrokers) == 0 || config.Output.KafkaTopic == "") {
		return fmt.Errorf("kafka brokers and topic are required when the kafka sink is enabled")
	}

	if !slices.Contains(logFormats, config.Log.Format) {
		return fmt.Errorf("log format must be 'text' or 'json', got: %s", config.Log.Format)
	}

	return nil
}
