package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"gopkg.in/yaml.v3"
)

const (
	BackendDynamo   = "dynamo"
	BackendPostgres = "postgres"
)

var ErrInvalidConfig = errors.New("invalid config")

type OAuthClient struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Config holds the server settings. Values come from the defaults, then the
// YAML file named by CONFIG_FILE, then environment variables.
type Config struct {
	DevMode bool `yaml:"dev_mode"`

	// StoreBackend selects where drawings live: "dynamo" or "postgres".
	StoreBackend string `yaml:"store_backend"`
	DatabaseDSN  string `yaml:"database_dsn"`

	DynamoDBEndpoint string `yaml:"dynamodb_endpoint"`
	DynamoDBTable    string `yaml:"dynamodb_table"`

	SQSEndpoint string `yaml:"sqs_endpoint"`
	SQSQueue    string `yaml:"sqs_queue"`

	RedisEndpoint string `yaml:"redis_endpoint"`

	// JWTSecret is base64 encoded.
	JWTSecret string `yaml:"jwt_secret"`

	// OAuth is keyed by provider name ("github", "google").
	OAuth            map[string]OAuthClient `yaml:"oauth"`
	OAuthRedirectURL string                 `yaml:"oauth_redirect_url"`

	AllowedOrigin string `yaml:"allowed_origin"`
	HostPort      string `yaml:"host_port"`
}

// Load builds the config from CONFIG_FILE (if set) and the environment.
// getenv is os.Getenv outside of tests.
func Load(getenv func(string) string) (Config, error) {
	var cfg Config
	if path := getenv("CONFIG_FILE"); path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = fileCfg
	}

	cfg.applyEnv(getenv)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads a YAML config file without applying defaults.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("DEV_MODE"); v != "" {
		c.DevMode = v == "true"
	}

	fields := map[string]*string{
		"STORE_BACKEND":      &c.StoreBackend,
		"DATABASE_DSN":       &c.DatabaseDSN,
		"DYNAMODB_ENDPOINT":  &c.DynamoDBEndpoint,
		"DYNAMODB_TABLE":     &c.DynamoDBTable,
		"SQS_ENDPOINT":       &c.SQSEndpoint,
		"SQS_QUEUE":          &c.SQSQueue,
		"REDIS_ENDPOINT":     &c.RedisEndpoint,
		"JWT_SECRET":         &c.JWTSecret,
		"OAUTH_REDIRECT_URL": &c.OAuthRedirectURL,
		"ALLOWED_ORIGIN":     &c.AllowedOrigin,
		"HOST_PORT":          &c.HostPort,
	}
	for key, field := range fields {
		if v := getenv(key); v != "" {
			*field = v
		}
	}

	for _, provider := range []string{"github", "google"} {
		prefix := strings.ToUpper(provider)
		client := c.OAuth[provider]
		if v := getenv(prefix + "_CLIENT_ID"); v != "" {
			client.ClientID = v
		}
		if v := getenv(prefix + "_CLIENT_SECRET"); v != "" {
			client.ClientSecret = v
		}
		if client.ClientID == "" {
			continue
		}
		if c.OAuth == nil {
			c.OAuth = make(map[string]OAuthClient)
		}
		c.OAuth[provider] = client
	}
}

func (c *Config) applyDefaults() {
	if c.StoreBackend == "" {
		c.StoreBackend = BackendDynamo
	}
	if c.DynamoDBTable == "" {
		c.DynamoDBTable = "SurveyCanvas"
	}
	if c.SQSQueue == "" {
		c.SQSQueue = "DeleteProjectDrawingsQueue"
	}
	if c.HostPort == "" {
		c.HostPort = "8080"
	}
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendDynamo:
	case BackendPostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("%w: database_dsn is required for the postgres backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, c.StoreBackend)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("%w: jwt_secret is required", ErrInvalidConfig)
	}
	if _, err := c.JWTSecretBytes(); err != nil {
		return err
	}

	return nil
}

func (c *Config) JWTSecretBytes() ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: jwt_secret is not base64: %v", ErrInvalidConfig, err)
	}
	return secret, nil
}

// OAuthConfigs returns a client config for every provider with a client id.
// Endpoints and scopes are filled in by the service.
func (c *Config) OAuthConfigs() map[string]*oauth2.Config {
	configs := make(map[string]*oauth2.Config, len(c.OAuth))
	for provider, client := range c.OAuth {
		if client.ClientID == "" {
			continue
		}
		configs[provider] = &oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			RedirectURL:  c.OAuthRedirectURL,
		}
	}
	return configs
}
