package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultClientTimeout    = 10 * time.Second
	defaultCurrency         = "USD"
	defaultCartStorePath    = "data/cart.json"
	defaultSnapshotPath     = "data/snapshots.json"
	defaultSnapshotTTL      = 5 * time.Minute
	defaultDeliveryFreeFrom = int64(100)
	defaultDeliveryCharge   = int64(30)
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultBreakerRequests  = 3
	defaultBreakerInterval  = 60 * time.Second
	defaultBreakerTimeout   = 30 * time.Second
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Catalog     ServiceConfig
	Orders      ServiceConfig
	Payments    PaymentsConfig
	Profile     ServiceConfig
	Cart        CartConfig
	Redis       RedisConfig
	Delivery    DeliveryConfig
	Idempotency IdempotencyConfig
	Breaker     BreakerConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// ServiceConfig points at one of the consumed REST collaborators.
type ServiceConfig struct {
	BaseURL string
	Timeout time.Duration
}

// PaymentsConfig groups the payment service endpoint and gateway credentials.
type PaymentsConfig struct {
	BaseURL        string
	Timeout        time.Duration
	StripeAPIKey   string
	Currency       string
	DefaultGateway string
}

// CartConfig locates the durable local cart and snapshot stores.
type CartConfig struct {
	StorePath    string
	SnapshotPath string
	SnapshotTTL  time.Duration
}

// RedisConfig enables the redis-backed snapshot cache and idempotency store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis address was configured.
func (c RedisConfig) Enabled() bool { return strings.TrimSpace(c.Addr) != "" }

// DeliveryConfig holds the flat-surcharge delivery pricing rule.
type DeliveryConfig struct {
	FreeThreshold int64
	Charge        int64
}

// IdempotencyConfig controls the order-creation idempotency store.
type IdempotencyConfig struct {
	TTL time.Duration
}

// BreakerConfig tunes the circuit breakers wrapped around collaborator clients.
type BreakerConfig struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the dotenv file consulted before system env vars.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies explicit values, typically for tests.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// Load assembles the configuration from dotenv file, process env, and
// explicit overrides, applying defaults and validating required fields.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	values := map[string]string{}
	if options.envFile != "" {
		fileValues, err := readEnvFile(options.envFile)
		if err != nil {
			return Config{}, err
		}
		for k, v := range fileValues {
			values[k] = v
		}
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			if idx := strings.IndexByte(entry, '='); idx > 0 {
				values[entry[:idx]] = entry[idx+1:]
			}
		}
	}
	for k, v := range options.envMap {
		values[k] = v
	}

	get := func(key string) string { return strings.TrimSpace(values[key]) }

	cfg := Config{
		Server: ServerConfig{
			Port:         stringOr(get("CHECKOUT_PORT"), defaultPort),
			ReadTimeout:  durationOr(get("CHECKOUT_READ_TIMEOUT"), defaultReadTimeout),
			WriteTimeout: durationOr(get("CHECKOUT_WRITE_TIMEOUT"), defaultWriteTimeout),
			IdleTimeout:  durationOr(get("CHECKOUT_IDLE_TIMEOUT"), defaultIdleTimeout),
		},
		Catalog: ServiceConfig{
			BaseURL: get("CHECKOUT_CATALOG_URL"),
			Timeout: durationOr(get("CHECKOUT_CATALOG_TIMEOUT"), defaultClientTimeout),
		},
		Orders: ServiceConfig{
			BaseURL: get("CHECKOUT_ORDERS_URL"),
			Timeout: durationOr(get("CHECKOUT_ORDERS_TIMEOUT"), defaultClientTimeout),
		},
		Payments: PaymentsConfig{
			BaseURL:        get("CHECKOUT_PAYMENTS_URL"),
			Timeout:        durationOr(get("CHECKOUT_PAYMENTS_TIMEOUT"), defaultClientTimeout),
			StripeAPIKey:   get("CHECKOUT_STRIPE_API_KEY"),
			Currency:       strings.ToUpper(stringOr(get("CHECKOUT_CURRENCY"), defaultCurrency)),
			DefaultGateway: strings.ToLower(stringOr(get("CHECKOUT_DEFAULT_GATEWAY"), "stripe")),
		},
		Profile: ServiceConfig{
			BaseURL: get("CHECKOUT_PROFILE_URL"),
			Timeout: durationOr(get("CHECKOUT_PROFILE_TIMEOUT"), defaultClientTimeout),
		},
		Cart: CartConfig{
			StorePath:    stringOr(get("CHECKOUT_CART_STORE_PATH"), defaultCartStorePath),
			SnapshotPath: stringOr(get("CHECKOUT_SNAPSHOT_STORE_PATH"), defaultSnapshotPath),
			SnapshotTTL:  durationOr(get("CHECKOUT_SNAPSHOT_TTL"), defaultSnapshotTTL),
		},
		Redis: RedisConfig{
			Addr:     get("CHECKOUT_REDIS_ADDR"),
			Password: get("CHECKOUT_REDIS_PASSWORD"),
			DB:       intOr(get("CHECKOUT_REDIS_DB"), 0),
		},
		Delivery: DeliveryConfig{
			FreeThreshold: int64Or(get("CHECKOUT_DELIVERY_FREE_THRESHOLD"), defaultDeliveryFreeFrom),
			Charge:        int64Or(get("CHECKOUT_DELIVERY_CHARGE"), defaultDeliveryCharge),
		},
		Idempotency: IdempotencyConfig{
			TTL: durationOr(get("CHECKOUT_IDEMPOTENCY_TTL"), defaultIdempotencyTTL),
		},
		Breaker: BreakerConfig{
			MaxRequests: uint32(intOr(get("CHECKOUT_BREAKER_MAX_REQUESTS"), defaultBreakerRequests)),
			Interval:    durationOr(get("CHECKOUT_BREAKER_INTERVAL"), defaultBreakerInterval),
			Timeout:     durationOr(get("CHECKOUT_BREAKER_TIMEOUT"), defaultBreakerTimeout),
		},
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	var missing []string
	if cfg.Catalog.BaseURL == "" {
		missing = append(missing, "CHECKOUT_CATALOG_URL")
	}
	if cfg.Orders.BaseURL == "" {
		missing = append(missing, "CHECKOUT_ORDERS_URL")
	}
	if cfg.Payments.BaseURL == "" {
		missing = append(missing, "CHECKOUT_PAYMENTS_URL")
	}
	if cfg.Delivery.Charge < 0 || cfg.Delivery.FreeThreshold < 0 {
		missing = append(missing, "CHECKOUT_DELIVERY_CHARGE")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ValidationError{fields: missing}
	}
	return nil
}

func readEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("config: open env file %s: %w", path, err)
	}
	defer file.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		value = strings.Trim(value, `"'`)
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read env file %s: %w", path, err)
	}
	return values, nil
}

func stringOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func durationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func intOr(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func int64Or(value string, fallback int64) int64 {
	if value == "" {
		return fallback
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
