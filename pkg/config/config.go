package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"120s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		RateLimitRPS    float64       `yaml:"rate_limit_rps" default:"5"`
		RateLimitBurst  int           `yaml:"rate_limit_burst" default:"10"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Log struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format     string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout"`
		MaxSizeMB  int    `yaml:"max_size_mb" default:"100"`
		MaxBackups int    `yaml:"max_backups" default:"5"`
		MaxAgeDays int    `yaml:"max_age_days" default:"28"`
	} `yaml:"log"`
	Forecast Forecast `yaml:"forecast"`
	Source   struct {
		Type      string `yaml:"type" default:"csv" validate:"oneof=csv clickhouse"`
		CSVDir    string `yaml:"csv_dir" default:"data"`
		SkipRows  int    `yaml:"skip_rows" default:"0" validate:"min=0"`
		Timeframe string `yaml:"timeframe" default:"4h"`
		Limit     int    `yaml:"limit" default:"3000" validate:"min=0"`
	} `yaml:"source"`
	Backend struct {
		Type       string `yaml:"type" default:"none" validate:"oneof=kafka clickhouse none"`
		BufferSize int    `yaml:"buffer_size" default:"256" validate:"min=1"`
	} `yaml:"backend"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		ResultTopic  string   `yaml:"result_topic" default:"finband.forecasts"`
		RequestTopic string   `yaml:"request_topic" default:"finband.forecast_requests"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"finband-forecasters"`
			Workers    int           `yaml:"workers" default:"2" validate:"min=1"`
			BufferSize int           `yaml:"buffer_size" default:"64"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"finband.forecast_requests.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"finband"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		BarsTable        string        `yaml:"bars_table" default:"bars"`
		ForecastTable    string        `yaml:"forecast_table" default:"forecasts"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"finband"`
	} `yaml:"redis"`
	Cache struct {
		TTL           time.Duration `yaml:"ttl" default:"5m"`
		MemoryMaxSize int           `yaml:"memory_max_size" default:"256"`
		LockTTL       time.Duration `yaml:"lock_ttl" default:"2m"`
	} `yaml:"cache"`
	Report struct {
		URL        string        `yaml:"url"`
		Timeout    time.Duration `yaml:"timeout" default:"30s"`
		MaxRetries int           `yaml:"max_retries" default:"2"`
	} `yaml:"report"`
}

// Forecast holds the engine parameters: by default a 6-period horizon, a
// 20-row backtest tail and alpha 0.01.
//
// Solver "auto" fits training sets up to SimplexMaxRows with the exact LP
// and larger ones with the MM approximation (stopping at MMTolerance
// relative objective change); reports list the method used per level.
type Forecast struct {
	Horizon        int           `yaml:"horizon" default:"6" validate:"min=1"`
	Window         int           `yaml:"window" default:"20" validate:"min=1"`
	Alpha          float64       `yaml:"alpha" default:"0.01" validate:"min=0"`
	Levels         []float64     `yaml:"levels" validate:"omitempty,dive,gt=0,lt=1"`
	Features       []string      `yaml:"features"`
	Cadence        string        `yaml:"cadence" default:"every_step" validate:"oneof=every_step once"`
	Solver         string        `yaml:"solver" default:"auto" validate:"oneof=auto simplex mm"`
	RepairCrossing bool          `yaml:"repair_crossing"`
	StepWorkers    int           `yaml:"step_workers" default:"1" validate:"min=1"`
	Sequential     bool          `yaml:"sequential"`
	Tolerance      float64       `yaml:"tolerance" default:"1e-9" validate:"gt=0"`
	MMTolerance    float64       `yaml:"mm_tolerance" default:"1e-6" validate:"gt=0"`
	MaxIter        int           `yaml:"max_iter" default:"5000" validate:"min=1"`
	SimplexMaxRows int           `yaml:"simplex_max_rows" default:"150" validate:"min=1"`
	Step           time.Duration `yaml:"step"`
	Timeout        time.Duration `yaml:"timeout" default:"5m"`
}

var validate = validator.New()

// Default returns a Config populated only from struct defaults.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, fills defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads an optional .env file, then the YAML config, and finally
// applies environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	// .env is optional; a missing file is not an error
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var (
		c   *Config
		err error
	)
	if path == "" {
		c = Default()
	} else if c, err = Load(path); err != nil {
		return nil, err
	}

	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FINBAND_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("FINBAND_SOURCE"); v != "" {
		c.Source.Type = v
	}
	if v := os.Getenv("FINBAND_CSV_DIR"); v != "" {
		c.Source.CSVDir = v
	}
	if v := os.Getenv("FINBAND_BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("FINBAND_SOLVER"); v != "" {
		c.Forecast.Solver = v
	}
	if v := os.Getenv("FINBAND_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = p
			}
		}
		c.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REPORT_SERVICE_URL"); v != "" {
		c.Report.URL = v
	}
}

// Validate checks tag constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Forecast.Horizon < 1 {
		return fmt.Errorf("forecast.horizon must be >= 1")
	}
	if c.Backend.Type == "kafka" && !c.Kafka.Enabled {
		return fmt.Errorf("backend.type 'kafka' requires kafka.enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	for _, name := range c.Forecast.Features {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("forecast.features contains an empty name")
		}
	}
	return nil
}

// UsesClickHouse reports whether any component needs a ClickHouse connection.
func (c *Config) UsesClickHouse() bool {
	return c.Source.Type == "clickhouse" || c.Backend.Type == "clickhouse"
}
