// Package config loads the process configuration from a properties
// file and FERRY_-prefixed environment variables, with environment
// taking precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dataferry/ferry/pkg/log"
	"github.com/dataferry/ferry/pkg/mgmt"
	"github.com/dataferry/ferry/pkg/types"
)

// Config is the full property surface of both process roles
type Config struct {
	LogLevel string

	// DataDir holds the local event log of either role
	DataDir string

	Management Management
	IDP        IDP
	Redis      Redis
	Jobs       Jobs
	Kafka      Kafka
	Files      Files
	Server     Server
	Metrics    Metrics
}

// Management configures the management-plane client
type Management struct {
	BaseURL             string
	NodeID              string
	RequestTimeout      time.Duration
	ConnectivityTimeout time.Duration
	Resilience          mgmt.Resilience
}

// IDP configures the identity-provider client
type IDP struct {
	TokenURL     string
	JWKSURL      string
	ClientID     string
	ClientSecret string
	Backoff      time.Duration
}

// Redis configures the offset store
type Redis struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string

	// AESKey is the base64-encoded symmetric key; empty disables
	// encryption at rest
	AESKey string
}

// Jobs configures the scheduler
type Jobs struct {
	StorageProvider   string
	BackgroundEnabled bool
	Parallelism       int

	// DynamicConfigSchedule drives the dynamic-config job itself
	DynamicConfigSchedule string
}

// Kafka configures the local sink naming
type Kafka struct {
	TopicPrefix string
}

// Files configures the file exchange
type Files struct {
	AzureContainer string
}

// Server configures the producer-side service
type Server struct {
	Port     int
	TLSCert  string
	TLSKey   string
	AuthMode string
	Audience string

	// FileSource is the directory served by the file-exchange RPC;
	// empty disables it
	FileSource string
}

// Metrics configures the prometheus endpoint
type Metrics struct {
	Enabled bool
	Addr    string
}

const (
	AuthModeIDP       = "idp"
	AuthModeAccessMap = "accessmap"
)

// Load reads the optional properties file and the environment.
// An empty path skips the file and uses environment plus defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FERRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		logger := log.WithComponent("config")
		logger.Info().Str("file", path).Msg("loaded configuration file")
	}

	retryWait, err := types.ParseISODuration(v.GetString("management.node.resilience.retry.initialWait"))
	if err != nil {
		return nil, fmt.Errorf("invalid management.node.resilience.retry.initialWait: %w", err)
	}

	res := mgmt.DefaultResilience()
	res.RetryMaxAttempts = v.GetUint("management.node.resilience.retry.maxAttempts")
	res.RetryInitialWait = retryWait
	res.BreakerMinimumCalls = v.GetUint32("management.node.resilience.circuitBreaker.minimumCalls")
	res.BreakerFailureThreshold = v.GetFloat64("management.node.resilience.circuitBreaker.failureThreshold")
	res.BreakerOpenWait = v.GetDuration("management.node.resilience.circuitBreaker.openWait")

	cfg := &Config{
		LogLevel: v.GetString("log.level"),
		DataDir:  v.GetString("data.dir"),
		Management: Management{
			BaseURL:             v.GetString("management.node.base.url"),
			NodeID:              v.GetString("management.node.id"),
			RequestTimeout:      time.Duration(v.GetInt("management.node.request.timeout")) * time.Second,
			ConnectivityTimeout: time.Duration(v.GetInt("management.node.connectivity.timeout")) * time.Second,
			Resilience:          res,
		},
		IDP: IDP{
			TokenURL:     v.GetString("idp.token.url"),
			JWKSURL:      v.GetString("idp.jwks.url"),
			ClientID:     v.GetString("idp.client.id"),
			ClientSecret: v.GetString("idp.client.secret"),
			Backoff:      time.Duration(v.GetInt("idp.token.backoff")) * time.Millisecond,
		},
		Redis: Redis{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			TLS:      v.GetBool("redis.tls"),
			Username: v.GetString("redis.username"),
			Password: v.GetString("redis.password"),
			AESKey:   v.GetString("redis.aes.key"),
		},
		Jobs: Jobs{
			StorageProvider:       v.GetString("jobs.storage.provider"),
			BackgroundEnabled:     v.GetBool("jobs.background.enabled"),
			Parallelism:           v.GetInt("jobs.parallelism"),
			DynamicConfigSchedule: v.GetString("jobs.dynamicconfig.schedule"),
		},
		Kafka: Kafka{
			TopicPrefix: v.GetString("kafka.topic.prefix"),
		},
		Files: Files{
			AzureContainer: v.GetString("files.azure.container"),
		},
		Server: Server{
			Port:       v.GetInt("server.port"),
			TLSCert:    v.GetString("server.tls.cert"),
			TLSKey:     v.GetString("server.tls.key"),
			AuthMode:   v.GetString("server.auth.mode"),
			Audience:   v.GetString("server.audience"),
			FileSource: v.GetString("server.files.source"),
		},
		Metrics: Metrics{
			Enabled: v.GetBool("metrics.enabled"),
			Addr:    v.GetString("metrics.addr"),
		},
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("data.dir", "/var/lib/ferry")

	v.SetDefault("management.node.id", types.DefaultManagementNodeID)
	v.SetDefault("management.node.request.timeout", 30)
	v.SetDefault("management.node.connectivity.timeout", 5)
	v.SetDefault("management.node.resilience.retry.maxAttempts", 3)
	v.SetDefault("management.node.resilience.retry.initialWait", "PT1S")
	v.SetDefault("management.node.resilience.circuitBreaker.minimumCalls", 10)
	v.SetDefault("management.node.resilience.circuitBreaker.failureThreshold", 0.5)
	v.SetDefault("management.node.resilience.circuitBreaker.openWait", "30s")

	v.SetDefault("idp.token.backoff", 1000)

	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.tls", false)

	v.SetDefault("jobs.storage.provider", "memory")
	v.SetDefault("jobs.background.enabled", true)
	v.SetDefault("jobs.parallelism", 8)
	v.SetDefault("jobs.dynamicconfig.schedule", "PT5M")

	v.SetDefault("kafka.topic.prefix", "")
	v.SetDefault("files.azure.container", "")

	v.SetDefault("server.port", types.DefaultServerPort)
	v.SetDefault("server.auth.mode", AuthModeIDP)
	v.SetDefault("server.audience", "ferry")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
}

// ValidateClient checks the properties the consumer role cannot run
// without. Missing mandatory properties are fatal at startup.
func (c *Config) ValidateClient() error {
	var missing []string
	if c.Management.BaseURL == "" {
		missing = append(missing, "management.node.base.url")
	}
	if c.IDP.TokenURL == "" {
		missing = append(missing, "idp.token.url")
	}
	if c.IDP.ClientID == "" {
		missing = append(missing, "idp.client.id")
	}
	if c.Redis.Host == "" {
		missing = append(missing, "redis.host")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing mandatory properties: %s", strings.Join(missing, ", "))
	}
	if c.Jobs.StorageProvider != "memory" {
		return fmt.Errorf("unsupported jobs.storage.provider %q", c.Jobs.StorageProvider)
	}
	return nil
}

// ValidateServer checks the properties the producer role cannot run
// without.
func (c *Config) ValidateServer() error {
	var missing []string
	if c.Management.BaseURL == "" {
		missing = append(missing, "management.node.base.url")
	}
	if c.IDP.TokenURL == "" {
		missing = append(missing, "idp.token.url")
	}
	if c.IDP.ClientID == "" {
		missing = append(missing, "idp.client.id")
	}
	if c.Server.AuthMode == AuthModeIDP && c.IDP.JWKSURL == "" {
		missing = append(missing, "idp.jwks.url")
	}
	if c.Server.AuthMode == AuthModeAccessMap && c.Redis.Host == "" {
		missing = append(missing, "redis.host")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing mandatory properties: %s", strings.Join(missing, ", "))
	}
	if c.Server.AuthMode != AuthModeIDP && c.Server.AuthMode != AuthModeAccessMap {
		return fmt.Errorf("unknown server.auth.mode %q", c.Server.AuthMode)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server.tls.cert and server.tls.key must be set together")
	}
	return nil
}
