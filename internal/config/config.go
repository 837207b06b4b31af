package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Queue backends
const (
	QueueBackendMemory = "memory"
	QueueBackendRedis  = "redis"
)

// Config represents the complete application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Status     StatusConfig     `yaml:"status"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Workers    WorkersConfig    `yaml:"workers"`
	Retry      RetryConfig      `yaml:"retry"`
	Validation ValidationConfig `yaml:"validation"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Report     ReportConfig     `yaml:"report"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	Outreach   OutreachConfig   `yaml:"outreach"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds the lead API HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StatusConfig holds the campaign service status endpoint configuration.
// Port 0 disables the endpoint.
type StatusConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableSource bool   `yaml:"enable_source"`
	TimeFormat   string `yaml:"time_format"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	Migrate         bool          `yaml:"migrate"`
}

// RabbitMQConfig holds the inbox broker configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      InboxQueueConfig `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// InboxQueueConfig holds the RabbitMQ inbox queue configuration
type InboxQueueConfig struct {
	Name               string `yaml:"name"`
	Durable            bool   `yaml:"durable"`
	AutoDelete         bool   `yaml:"auto_delete"`
	Exclusive          bool   `yaml:"exclusive"`
	DeadLetterExchange string `yaml:"dead_letter_exchange"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// RedisConfig holds the Redis connection used by the redis queue backend
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QueueConfig selects the task queue backend
type QueueConfig struct {
	Backend   string `yaml:"backend"`
	Capacity  int    `yaml:"capacity"`
	KeyPrefix string `yaml:"key_prefix"`
}

// WorkersConfig holds worker pool sizes
type WorkersConfig struct {
	Verification int           `yaml:"verification"`
	Outreach     int           `yaml:"outreach"`
	TaskTimeout  time.Duration `yaml:"task_timeout"`
}

// RetryConfig holds the outreach retry policy
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// ValidationConfig holds email validation settings
type ValidationConfig struct {
	LookupTimeout     time.Duration `yaml:"lookup_timeout"`
	DisposableDomains []string      `yaml:"disposable_domains"`
	BlocklistFile     string        `yaml:"blocklist_file"`
	WatchBlocklist    bool          `yaml:"watch_blocklist"`
	LeadChecks        bool          `yaml:"lead_checks"`
}

// SupervisorConfig holds the supervisor cycle settings
type SupervisorConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	BatchSize       int           `yaml:"batch_size"`
	AggregateBudget int           `yaml:"aggregate_budget"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ReportConfig holds the periodic report settings
type ReportConfig struct {
	Time      string `yaml:"time"`
	Timezone  string `yaml:"timezone"`
	Recipient string `yaml:"recipient"`
}

// SMTPConfig holds the mail transport settings
type SMTPConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	From               string        `yaml:"from"`
	StartTLS           bool          `yaml:"starttls"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	SendTimeout        time.Duration `yaml:"send_timeout"`
}

// OutreachConfig holds the outreach email content
type OutreachConfig struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with environment values. A bare $
// is left alone so it can appear in passwords.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads and parses the configuration file and applies defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(expandEnv(data), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills in unset values
func (c *Config) ApplyDefaults() {
	if c.Workers.Verification == 0 {
		c.Workers.Verification = 2
	}
	if c.Workers.Outreach == 0 {
		c.Workers.Outreach = 2
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = time.Second
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 5 * time.Minute
	}
	if c.Validation.LookupTimeout == 0 {
		c.Validation.LookupTimeout = 5 * time.Second
	}
	if c.SMTP.SendTimeout == 0 {
		c.SMTP.SendTimeout = 10 * time.Second
	}
	if c.Supervisor.PollInterval == 0 {
		c.Supervisor.PollInterval = 5 * time.Minute
	}
	if c.Supervisor.BatchSize == 0 {
		c.Supervisor.BatchSize = 100
	}
	if c.Supervisor.AggregateBudget == 0 {
		c.Supervisor.AggregateBudget = 1000
	}
	if c.Supervisor.CallTimeout == 0 {
		c.Supervisor.CallTimeout = 30 * time.Second
	}
	if c.Supervisor.ShutdownTimeout == 0 {
		c.Supervisor.ShutdownTimeout = 30 * time.Second
	}
	if c.Report.Time == "" {
		c.Report.Time = "16:00"
	}
	if c.Report.Timezone == "" {
		c.Report.Timezone = "UTC"
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = QueueBackendMemory
	}
	if c.Queue.KeyPrefix == "" {
		c.Queue.KeyPrefix = "campaign"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
}

func validatePort(name string, port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("invalid %s port: %d (must be between %d and %d)", name, port, MinPort, MaxPort)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return errors.New("database host is required")
	}
	if err := validatePort("database", c.Database.Port); err != nil {
		return err
	}
	if c.Database.Database == "" {
		return errors.New("database name is required")
	}
	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return errors.New("rabbitmq host is required")
	}
	if err := validatePort("rabbitmq", c.RabbitMQ.Port); err != nil {
		return err
	}
	if c.RabbitMQ.Exchange.Name == "" {
		return errors.New("rabbitmq exchange name is required")
	}
	if c.RabbitMQ.Queue.Name == "" {
		return errors.New("rabbitmq queue name is required")
	}
	return nil
}

// ValidateAPIConfig checks the settings the lead API needs
func (c *Config) ValidateAPIConfig() error {
	if err := validatePort("server", c.Server.Port); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	return c.validateRabbitMQ()
}

// ValidateCampaignConfig checks the settings the campaign service needs
func (c *Config) ValidateCampaignConfig() error {
	if c.Status.Port != 0 {
		if err := validatePort("status", c.Status.Port); err != nil {
			return err
		}
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	switch c.Queue.Backend {
	case QueueBackendMemory:
	case QueueBackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis addr is required for the redis queue backend")
		}
	default:
		return fmt.Errorf("unknown queue backend: %q", c.Queue.Backend)
	}
	if c.Queue.Capacity < 0 {
		return errors.New("queue capacity must not be negative")
	}

	if c.Workers.Verification <= 0 {
		return errors.New("verification workers must be greater than 0")
	}
	if c.Workers.Outreach <= 0 {
		return errors.New("outreach workers must be greater than 0")
	}

	if c.Retry.MaxRetries <= 0 {
		return errors.New("retry max_retries must be greater than 0")
	}
	if c.Retry.BaseDelay <= 0 {
		return errors.New("retry base_delay must be greater than 0")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("retry max_delay must not be less than base_delay")
	}

	if c.Supervisor.BatchSize <= 0 {
		return errors.New("supervisor batch_size must be greater than 0")
	}
	if c.Queue.Capacity > 0 && c.Queue.Capacity < c.Supervisor.BatchSize {
		return fmt.Errorf("queue capacity %d must not be less than supervisor batch_size %d",
			c.Queue.Capacity, c.Supervisor.BatchSize)
	}
	if c.Supervisor.PollInterval <= 0 {
		return errors.New("supervisor poll_interval must be greater than 0")
	}

	if _, err := time.Parse("15:04", c.Report.Time); err != nil {
		return fmt.Errorf("invalid report time %q: must be HH:MM", c.Report.Time)
	}
	if _, err := time.LoadLocation(c.Report.Timezone); err != nil {
		return fmt.Errorf("invalid report timezone %q: %w", c.Report.Timezone, err)
	}
	if c.Report.Recipient == "" {
		return errors.New("report recipient is required")
	}

	if c.SMTP.Host == "" {
		return errors.New("smtp host is required")
	}
	if err := validatePort("smtp", c.SMTP.Port); err != nil {
		return err
	}
	if c.SMTP.From == "" {
		return errors.New("smtp from address is required")
	}

	return nil
}
