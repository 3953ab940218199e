// Package config loads the process configuration from the environment.
//
// Scalar settings come from MEMPOOLWATCH_-prefixed variables via envconfig;
// per-chain endpoint lists are discovered by scanning the supported chain
// registry for MEMPOOLWATCH_<CHAIN>_ENDPOINTS variables. A chain without an
// endpoint variable is simply not monitored. Broker and cache addresses are
// mandatory: the process must not start half-configured.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gabapcia/mempoolwatch/internal/pkg/types"
	"github.com/gabapcia/mempoolwatch/internal/pkg/validator"
	"github.com/gabapcia/mempoolwatch/internal/txingest"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix namespaces every environment variable read by this process.
const envPrefix = "MEMPOOLWATCH"

// Config is the read-only configuration snapshot taken at process start.
type Config struct {
	// Queue producer.
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" required:"true" validate:"required,min=1"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"raw-transactions" validate:"required"`

	// Cache server.
	RedisAddr     string `envconfig:"REDIS_ADDR" required:"true" validate:"required"`
	RedisUsername string `envconfig:"REDIS_USERNAME"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Observability.
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// Ingestion tunables.
	EMAAlpha            float64       `envconfig:"EMA_ALPHA" default:"0.1" validate:"gt=0,lte=1"`
	ViabilityFloor      float64       `envconfig:"VIABILITY_FLOOR" default:"0.5" validate:"gte=0,lte=1"`
	StalenessWindow     time.Duration `envconfig:"STALENESS_WINDOW" default:"2m"`
	HealthCheckInterval time.Duration `envconfig:"HEALTH_CHECK_INTERVAL" default:"30s"`
	ReconnectBackoff    time.Duration `envconfig:"RECONNECT_BACKOFF" default:"5s"`
	DialTimeout         time.Duration `envconfig:"DIAL_TIMEOUT" default:"10s"`
	SinkTimeout         time.Duration `envconfig:"SINK_TIMEOUT" default:"3s"`
	CacheTTL            time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	// Chains maps configured network names to their endpoint URL lists,
	// populated from per-chain environment variables.
	Chains map[string][]string `ignored:"true"`
}

// Load reads, validates, and returns the process configuration. It fails when
// a required setting is missing, a value violates its validation rule, or a
// chain's endpoint list contains duplicates.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("processing environment: %w", err)
	}

	if err := validator.Validate(cfg); err != nil {
		return Config{}, err
	}

	chains, err := chainEndpointsFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg.Chains = chains

	return cfg, nil
}

// chainEndpointsFromEnv collects the endpoint lists of every supported chain
// that has its MEMPOOLWATCH_<CHAIN>_ENDPOINTS variable set.
func chainEndpointsFromEnv() (map[string][]string, error) {
	chains := make(map[string][]string)

	for _, chain := range txingest.SupportedChains() {
		key := fmt.Sprintf("%s_%s_ENDPOINTS", envPrefix, strings.ToUpper(chain.Name))

		value, ok := os.LookupEnv(key)
		if !ok {
			continue
		}

		endpoints, err := parseEndpointList(chain.Name, value)
		if err != nil {
			return nil, err
		}
		chains[chain.Name] = endpoints
	}

	return chains, nil
}

// parseEndpointList splits a comma-separated endpoint list, trimming blanks
// and rejecting duplicate URLs within the same chain.
func parseEndpointList(chain, value string) ([]string, error) {
	var (
		endpoints []string
		seen      = types.NewSet[string]()
	)

	for _, raw := range strings.Split(value, ",") {
		endpoint := strings.TrimSpace(raw)
		if endpoint == "" {
			continue
		}

		if _, ok := seen[endpoint]; ok {
			return nil, fmt.Errorf("chain %q: duplicate endpoint %q", chain, endpoint)
		}

		seen.Add(endpoint)
		endpoints = append(endpoints, endpoint)
	}

	if len(endpoints) == 0 {
		return nil, fmt.Errorf("chain %q: endpoint list is empty", chain)
	}

	return endpoints, nil
}
