package config

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// HTTP holds HTTP server configuration.
type HTTP struct {
	Host string
	Port int
}

// GRPC holds gRPC server configuration.
type GRPC struct {
	Enabled bool
	Host    string
	Port    int
}

// Relations configures the remote relation API client. EntryEndpoints and
// CustomerEndpoints map a model name to an endpoint format taking the id.
type Relations struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	EntryEndpoints    map[string]string
	CustomerEndpoints map[string]string
}

// Search configures the search backend used for free-text signup queries.
type Search struct {
	Path       string
	MaxResults int
}

// Phone holds defaults for phone number interpretation.
type Phone struct {
	DefaultRegion      string
	DefaultCountryCode string
}

// Notification selects the channel signup notifications go through.
type Notification struct {
	Channel string
}

// Cache configures the key/value backend.
type Cache struct {
	Enabled    bool
	Driver     string
	DefaultTTL time.Duration
	Redis      Redis
}

// Redis contains redis-specific connection settings.
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Messaging configures the message bus used by the application.
type Messaging struct {
	Driver        string
	Enabled       bool
	Kafka         Kafka
	ConsumerGroup string
	Workers       Worker
}

// Kafka holds Kafka connection details.
type Kafka struct {
	Brokers        []string
	ClientID       string
	Topic          string
	CommitInterval time.Duration
	MinBytes       int
	MaxBytes       int
	ConnectTimeout time.Duration
}

// Worker configures background worker concurrency and polling.
type Worker struct {
	Enabled      bool
	PollInterval time.Duration
	Concurrency  int
}

// Observability contains logging, tracing, and metrics configuration.
type Observability struct {
	ServiceName     string
	Environment     string
	LogLevel        string
	LogEncoding     string
	EnableTracing   bool
	TraceExporter   string
	TraceEndpoint   string
	TraceInsecure   bool
	EnableMetrics   bool
	MetricsExporter string
	PrometheusPath  string
}

// Config wraps all application configuration knobs.
type Config struct {
	HTTP          HTTP
	GRPC          GRPC
	Relations     Relations
	Search        Search
	Phone         Phone
	Notification  Notification
	Cache         Cache
	Messaging     Messaging
	Observability Observability
}

// Module wires the configuration loader into the Fx graph.
var Module = fx.Provide(New)

var loadEnvOnce sync.Once

// New builds a Config from environment variables or defaults.
func New() (Config, error) {
	loadEnvOnce.Do(func() {
		_ = godotenv.Load()
	})

	cfg := Config{
		HTTP: HTTP{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnvAsInt("HTTP_PORT", 8080),
		},
		GRPC: GRPC{
			Enabled: getEnvAsBool("GRPC_ENABLED", true),
			Host:    getEnv("GRPC_HOST", "0.0.0.0"),
			Port:    getEnvAsInt("GRPC_PORT", 9090),
		},
		Relations: Relations{
			BaseURL: getEnv("RELATIONS_API_URL", "http://127.0.0.1:8000/v1"),
			Token:   getEnv("RELATIONS_API_TOKEN", ""),
			Timeout: getEnvAsDuration("RELATIONS_API_TIMEOUT", 10*time.Second),

			EntryEndpoints:    getEnvAsMap("RELATIONS_ENTRY_ENDPOINTS"),
			CustomerEndpoints: getEnvAsMap("RELATIONS_CUSTOMER_ENDPOINTS"),
		},
		Search: Search{
			Path:       getEnv("SEARCH_PATH", "search"),
			MaxResults: getEnvAsInt("SEARCH_MAX_RESULTS", 1000),
		},
		Phone: Phone{
			DefaultRegion:      getEnv("PHONE_DEFAULT_REGION", "NO"),
			DefaultCountryCode: getEnv("PHONE_DEFAULT_COUNTRY_CODE", "47"),
		},
		Notification: Notification{
			Channel: getEnv("NOTIFICATION_CHANNEL", "log"),
		},
		Cache: Cache{
			Enabled:    getEnvAsBool("CACHE_ENABLED", true),
			Driver:     getEnv("CACHE_DRIVER", "redis"),
			DefaultTTL: getEnvAsDuration("CACHE_DEFAULT_TTL", time.Hour*24),
			Redis: Redis{
				Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvAsInt("REDIS_DB", 0),
			},
		},
		Messaging: Messaging{
			Driver:  getEnv("MESSAGING_DRIVER", "kafka"),
			Enabled: getEnvAsBool("MESSAGING_ENABLED", true),
			Kafka: Kafka{
				Brokers:        getEnvAsStringSlice("KAFKA_BROKERS", []string{"127.0.0.1:9092"}),
				ClientID:       getEnv("KAFKA_CLIENT_ID", "signups-service"),
				Topic:          getEnv("KAFKA_TOPIC", "signups.events"),
				CommitInterval: getEnvAsDuration("KAFKA_COMMIT_INTERVAL", time.Second),
				MinBytes:       getEnvAsInt("KAFKA_MIN_BYTES", 10e3),
				MaxBytes:       getEnvAsInt("KAFKA_MAX_BYTES", 10e6),
				ConnectTimeout: getEnvAsDuration("KAFKA_CONNECT_TIMEOUT", 5*time.Second),
			},
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "signups-worker"),
			Workers: Worker{
				Enabled:      getEnvAsBool("WORKER_ENABLED", true),
				PollInterval: getEnvAsDuration("WORKER_POLL_INTERVAL", time.Second),
				Concurrency:  getEnvAsInt("WORKER_CONCURRENCY", 4),
			},
		},
		Observability: Observability{
			ServiceName:     getEnv("OBS_SERVICE_NAME", "signups"),
			Environment:     getEnv("OBS_ENVIRONMENT", "local"),
			LogLevel:        getEnv("OBS_LOG_LEVEL", "info"),
			LogEncoding:     getEnv("OBS_LOG_ENCODING", "json"),
			EnableTracing:   getEnvAsBool("OBS_ENABLE_TRACING", true),
			TraceExporter:   getEnv("OBS_TRACE_EXPORTER", "stdout"),
			TraceEndpoint:   getEnv("OBS_OTLP_ENDPOINT", "localhost:4317"),
			TraceInsecure:   getEnvAsBool("OBS_OTLP_INSECURE", true),
			EnableMetrics:   getEnvAsBool("OBS_ENABLE_METRICS", true),
			MetricsExporter: getEnv("OBS_METRICS_EXPORTER", "prometheus"),
			PrometheusPath:  getEnv("OBS_PROMETHEUS_PATH", "/metrics"),
		},
	}

	if cfg.HTTP.Port <= 0 {
		return Config{}, fmt.Errorf("invalid HTTP port: %d", cfg.HTTP.Port)
	}

	if cfg.GRPC.Enabled && cfg.GRPC.Port <= 0 {
		return Config{}, fmt.Errorf("invalid gRPC port: %d", cfg.GRPC.Port)
	}

	if err := normaliseRelations(&cfg.Relations); err != nil {
		return Config{}, err
	}

	cfg.Search.Path = strings.Trim(strings.TrimSpace(cfg.Search.Path), "/")
	if cfg.Search.Path == "" {
		cfg.Search.Path = "search"
	}
	if cfg.Search.MaxResults <= 0 {
		cfg.Search.MaxResults = 1000
	}

	cfg.Phone.DefaultRegion = strings.ToUpper(strings.TrimSpace(cfg.Phone.DefaultRegion))
	if cfg.Phone.DefaultRegion == "" {
		cfg.Phone.DefaultRegion = "NO"
	}
	cfg.Phone.DefaultCountryCode = strings.TrimPrefix(strings.TrimSpace(cfg.Phone.DefaultCountryCode), "+")
	if cfg.Phone.DefaultCountryCode == "" {
		cfg.Phone.DefaultCountryCode = "47"
	}

	cfg.Notification.Channel = strings.ToLower(strings.TrimSpace(cfg.Notification.Channel))
	switch cfg.Notification.Channel {
	case "":
		cfg.Notification.Channel = "log"
	case "log", "messaging":
		// supported
	default:
		return Config{}, fmt.Errorf("unsupported notification channel: %s", cfg.Notification.Channel)
	}

	if !cfg.Cache.Enabled {
		cfg.Cache.Driver = "noop"
	}

	switch cfg.Cache.Driver {
	case "redis", "memory", "noop":
		// supported
	default:
		return Config{}, fmt.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}

	if cfg.Cache.Driver == "redis" && cfg.Cache.Redis.Addr == "" {
		return Config{}, fmt.Errorf("missing REDIS_ADDR for redis cache")
	}

	if cfg.Cache.DefaultTTL <= 0 {
		cfg.Cache.DefaultTTL = time.Hour * 24
	}

	cfg.Observability.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Observability.LogLevel))
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	cfg.Observability.LogEncoding = strings.ToLower(strings.TrimSpace(cfg.Observability.LogEncoding))
	if cfg.Observability.LogEncoding == "" {
		cfg.Observability.LogEncoding = "json"
	}
	cfg.Observability.TraceExporter = strings.ToLower(strings.TrimSpace(cfg.Observability.TraceExporter))
	if cfg.Observability.TraceExporter == "" {
		cfg.Observability.TraceExporter = "stdout"
	}
	cfg.Observability.MetricsExporter = strings.ToLower(strings.TrimSpace(cfg.Observability.MetricsExporter))
	if cfg.Observability.MetricsExporter == "" {
		cfg.Observability.MetricsExporter = "prometheus"
	}

	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	} else if !strings.HasPrefix(cfg.Observability.PrometheusPath, "/") {
		cfg.Observability.PrometheusPath = "/" + cfg.Observability.PrometheusPath
	}

	if !cfg.Messaging.Enabled {
		cfg.Messaging.Driver = "noop"
	}

	switch cfg.Messaging.Driver {
	case "kafka", "noop":
		// supported
	default:
		return Config{}, fmt.Errorf("unsupported messaging driver: %s", cfg.Messaging.Driver)
	}

	if cfg.Messaging.Driver == "kafka" {
		if len(cfg.Messaging.Kafka.Brokers) == 0 {
			return Config{}, fmt.Errorf("KAFKA_BROKERS must be provided")
		}
		if cfg.Messaging.Kafka.Topic == "" {
			return Config{}, fmt.Errorf("KAFKA_TOPIC must be provided")
		}
		if cfg.Messaging.ConsumerGroup == "" {
			return Config{}, fmt.Errorf("KAFKA_CONSUMER_GROUP must be provided")
		}
	}

	if cfg.Notification.Channel == "messaging" && cfg.Messaging.Driver == "noop" {
		return Config{}, fmt.Errorf("notification channel messaging requires MESSAGING_ENABLED")
	}

	if cfg.Messaging.Workers.Concurrency <= 0 {
		cfg.Messaging.Workers.Concurrency = 1
	}
	if cfg.Messaging.Workers.PollInterval <= 0 {
		cfg.Messaging.Workers.PollInterval = time.Second
	}

	return cfg, nil
}

func normaliseRelations(r *Relations) error {
	r.BaseURL = strings.TrimRight(strings.TrimSpace(r.BaseURL), "/")
	if r.BaseURL == "" {
		return fmt.Errorf("missing RELATIONS_API_URL")
	}
	u, err := url.Parse(r.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid RELATIONS_API_URL: %q", r.BaseURL)
	}
	r.Token = strings.TrimSpace(r.Token)
	if r.Timeout <= 0 {
		r.Timeout = 10 * time.Second
	}
	if err := validateEndpoints("RELATIONS_ENTRY_ENDPOINTS", r.EntryEndpoints); err != nil {
		return err
	}
	return validateEndpoints("RELATIONS_CUSTOMER_ENDPOINTS", r.CustomerEndpoints)
}

// validateEndpoints requires a model name and a format with a single %s per pair.
func validateEndpoints(key string, endpoints map[string]string) error {
	for model, endpoint := range endpoints {
		if model == "" {
			return fmt.Errorf("%s: missing model name", key)
		}
		if strings.Count(endpoint, "%") != 1 || !strings.Contains(endpoint, "%s") {
			return fmt.Errorf("%s: endpoint for %q must contain exactly one %%s", key, model)
		}
	}
	return nil
}
