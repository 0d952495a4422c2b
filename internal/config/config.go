package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "SNOWJOB"

type Config struct {
	Environment string
	Server      Server
	Log         Log
	Store       Store
	Audit       Audit
	Events      Events
	Escrow      Escrow
	Reconcile   Reconcile
	RateLimit   RateLimit
	Tracing     Tracing
	Sentry      Sentry
}

type Server struct {
	Port            string
	Mode            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Log struct {
	Level      string
	Format     string
	Output     string
	OutputFile string
}

// Store selects the job store backend: memory, postgres, redis or mongo.
type Store struct {
	Backend       string
	PostgresURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MongoURI      string
	MongoDatabase string
}

// Audit selects where audit entries go: memory, postgres or mongo. The
// postgres and mongo sinks reuse the connection settings under store.
type Audit struct {
	Backend string
}

type Events struct {
	BusSize        int
	BusWorkers     int
	KafkaBrokers   []string
	KafkaTopic     string
	RabbitURL      string
	RabbitExchange string
}

// Escrow selects the payment gateway: sandbox or http.
type Escrow struct {
	Gateway             string
	BaseURL             string
	APIKey              string
	Timeout             time.Duration
	BreakerFailureRatio float64
	BreakerMinRequests  uint32
	BreakerOpenTimeout  time.Duration
}

type Reconcile struct {
	Interval      time.Duration
	Workers       int
	QueueCapacity int
}

type RateLimit struct {
	Capacity int
	Rate     time.Duration
}

type Tracing struct {
	Endpoint     string
	Insecure     bool
	SamplingRate float64
}

type Sentry struct {
	DSN string
}

var defaults = map[string]any{
	"environment":                  "development",
	"server.port":                  "8080",
	"server.mode":                  "release",
	"server.read_timeout":          10 * time.Second,
	"server.write_timeout":         10 * time.Second,
	"server.shutdown_timeout":      10 * time.Second,
	"log.level":                    "info",
	"log.format":                   "json",
	"log.output":                   "stdout",
	"log.output_file":              "",
	"store.backend":                "memory",
	"store.postgres_url":           "",
	"store.redis_addr":             "localhost:6379",
	"store.redis_password":         "",
	"store.redis_db":               0,
	"store.mongo_uri":              "",
	"store.mongo_database":         "snowjob",
	"audit.backend":                "memory",
	"events.bus_size":              256,
	"events.bus_workers":           2,
	"events.kafka_brokers":         []string{},
	"events.kafka_topic":           "snowjob.transitions",
	"events.rabbit_url":            "",
	"events.rabbit_exchange":       "snowjob.events",
	"escrow.gateway":               "sandbox",
	"escrow.base_url":              "",
	"escrow.api_key":               "",
	"escrow.timeout":               5 * time.Second,
	"escrow.breaker_failure_ratio": 0.6,
	"escrow.breaker_min_requests":  5,
	"escrow.breaker_open_timeout":  30 * time.Second,
	"reconcile.interval":           30 * time.Second,
	"reconcile.workers":            2,
	"reconcile.queue_capacity":     100,
	"ratelimit.capacity":           20,
	"ratelimit.rate":               100 * time.Millisecond,
	"tracing.endpoint":             "",
	"tracing.insecure":             false,
	"tracing.sampling_rate":        1.0,
	"sentry.dsn":                   "",
}

// Load reads the optional YAML file at path, then applies SNOWJOB_*
// environment overrides (server.port is SNOWJOB_SERVER_PORT). Values that
// fail to parse fall back to their defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Environment: v.GetString("environment"),
		Server: Server{
			Port:            v.GetString("server.port"),
			Mode:            v.GetString("server.mode"),
			ReadTimeout:     positiveDuration(v, "server.read_timeout"),
			WriteTimeout:    positiveDuration(v, "server.write_timeout"),
			ShutdownTimeout: positiveDuration(v, "server.shutdown_timeout"),
		},
		Log: Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Output:     v.GetString("log.output"),
			OutputFile: v.GetString("log.output_file"),
		},
		Store: Store{
			Backend:       strings.ToLower(v.GetString("store.backend")),
			PostgresURL:   v.GetString("store.postgres_url"),
			RedisAddr:     v.GetString("store.redis_addr"),
			RedisPassword: v.GetString("store.redis_password"),
			RedisDB:       v.GetInt("store.redis_db"),
			MongoURI:      v.GetString("store.mongo_uri"),
			MongoDatabase: v.GetString("store.mongo_database"),
		},
		Audit: Audit{
			Backend: strings.ToLower(v.GetString("audit.backend")),
		},
		Events: Events{
			BusSize:        positiveInt(v, "events.bus_size"),
			BusWorkers:     positiveInt(v, "events.bus_workers"),
			KafkaBrokers:   brokers(v.GetStringSlice("events.kafka_brokers")),
			KafkaTopic:     v.GetString("events.kafka_topic"),
			RabbitURL:      v.GetString("events.rabbit_url"),
			RabbitExchange: v.GetString("events.rabbit_exchange"),
		},
		Escrow: Escrow{
			Gateway:             strings.ToLower(v.GetString("escrow.gateway")),
			BaseURL:             v.GetString("escrow.base_url"),
			APIKey:              v.GetString("escrow.api_key"),
			Timeout:             positiveDuration(v, "escrow.timeout"),
			BreakerFailureRatio: v.GetFloat64("escrow.breaker_failure_ratio"),
			BreakerMinRequests:  uint32(positiveInt(v, "escrow.breaker_min_requests")),
			BreakerOpenTimeout:  positiveDuration(v, "escrow.breaker_open_timeout"),
		},
		Reconcile: Reconcile{
			Interval:      positiveDuration(v, "reconcile.interval"),
			Workers:       positiveInt(v, "reconcile.workers"),
			QueueCapacity: positiveInt(v, "reconcile.queue_capacity"),
		},
		RateLimit: RateLimit{
			Capacity: positiveInt(v, "ratelimit.capacity"),
			Rate:     positiveDuration(v, "ratelimit.rate"),
		},
		Tracing: Tracing{
			Endpoint:     v.GetString("tracing.endpoint"),
			Insecure:     v.GetBool("tracing.insecure"),
			SamplingRate: v.GetFloat64("tracing.sampling_rate"),
		},
		Sentry: Sentry{
			DSN: v.GetString("sentry.dsn"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.PostgresURL == "" {
			errs = append(errs, errors.New("store.postgres_url is required for the postgres backend"))
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis backend"))
		}
	case "mongo":
		if c.Store.MongoURI == "" {
			errs = append(errs, errors.New("store.mongo_uri is required for the mongo backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}

	switch c.Audit.Backend {
	case "memory":
	case "postgres":
		if c.Store.PostgresURL == "" {
			errs = append(errs, errors.New("store.postgres_url is required for the postgres audit sink"))
		}
	case "mongo":
		if c.Store.MongoURI == "" {
			errs = append(errs, errors.New("store.mongo_uri is required for the mongo audit sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audit.backend %q", c.Audit.Backend))
	}

	switch c.Escrow.Gateway {
	case "sandbox":
	case "http":
		if c.Escrow.BaseURL == "" {
			errs = append(errs, errors.New("escrow.base_url is required for the http gateway"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown escrow.gateway %q", c.Escrow.Gateway))
	}

	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("unknown server.mode %q", c.Server.Mode))
	}

	if len(c.Events.KafkaBrokers) > 0 && c.Events.KafkaTopic == "" {
		errs = append(errs, errors.New("events.kafka_topic is required when brokers are set"))
	}

	return errors.Join(errs...)
}

// positiveDuration returns the value at key, or its default when the value
// is missing, unparseable or not positive.
func positiveDuration(v *viper.Viper, key string) time.Duration {
	if d := v.GetDuration(key); d > 0 {
		return d
	}
	return defaults[key].(time.Duration)
}

func positiveInt(v *viper.Viper, key string) int {
	if n := v.GetInt(key); n > 0 {
		return n
	}
	return defaults[key].(int)
}

// brokers accepts both a YAML list and a comma-separated env value.
func brokers(raw []string) []string {
	var out []string
	for _, item := range raw {
		for _, b := range strings.Split(item, ",") {
			if b = strings.TrimSpace(b); b != "" {
				out = append(out, b)
			}
		}
	}
	return out
}
