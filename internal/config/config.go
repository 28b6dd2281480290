package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lorawan-server/field-tester-server/internal/envelope"
	"github.com/lorawan-server/field-tester-server/internal/validation"
)

// DefaultFile is the config file used when no -config flag is given.
const DefaultFile = "config.yml"

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Parser   ParserConfig   `yaml:"parser"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	NATS     NATSConfig     `yaml:"nats"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Version string `yaml:"version"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// ParserConfig selects the envelope the MQTT and NATS uplinks are wrapped in.
type ParserConfig struct {
	Type string `yaml:"type" validate:"required"`
}

// MQTTConfig represents MQTT backend configuration
type MQTTConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Server               string        `yaml:"server"`
	Port                 int           `yaml:"port" validate:"min=1,max=65535"`
	Username             string        `yaml:"username"`
	Password             string        `yaml:"password"`
	ClientID             string        `yaml:"client_id"`
	Topic                string        `yaml:"topic"`
	QoS                  uint8         `yaml:"qos" validate:"max=2"`
	CleanSession         bool          `yaml:"clean_session"`
	KeepAlive            time.Duration `yaml:"keep_alive"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`
	CACert               string        `yaml:"ca_cert"`
	TLSCert              string        `yaml:"tls_cert"`
	TLSKey               string        `yaml:"tls_key"`
}

// NATSConfig represents NATS backend configuration
type NATSConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	Subject           string        `yaml:"subject"`
	QueueGroup        string        `yaml:"queue_group"`
	DownlinkSubject   string        `yaml:"downlink_subject"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// APIConfig represents HTTP API configuration
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port" validate:"min=1,max=65535"`

	// WebhookKeyHash is the bcrypt hash of the X-Webhook-Key header value.
	// Webhooks are open when empty.
	WebhookKeyHash string   `yaml:"webhook_key_hash"`
	CORSOrigins    []string `yaml:"cors_origins"`
}

// DatabaseConfig represents database configuration. Fix storage is disabled
// when the DSN is empty.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret         string        `yaml:"secret"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
}

// Load loads configuration from file. A missing file is an error unless
// allowMissing is set, in which case the server runs as an MQTT bridge
// with defaults and environment applied.
func Load(filename string, allowMissing bool) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(filename)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	case allowMissing && errors.Is(err, fs.ErrNotExist):
		cfg.MQTT.Enabled = true
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Apply environment overrides
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() error {
	// LOGGING_LEVEL is the older name, LOG_LEVEL wins when both are set
	for _, name := range []string{"LOGGING_LEVEL", "LOG_LEVEL"} {
		if logLevel := os.Getenv(name); logLevel != "" {
			c.Log.Level = logLevel
		}
	}

	if parserType := os.Getenv("PARSER_TYPE"); parserType != "" {
		c.Parser.Type = parserType
	}

	if server := os.Getenv("MQTT_SERVER"); server != "" {
		c.MQTT.Server = server
		c.MQTT.Enabled = true
	}

	if port := os.Getenv("MQTT_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid MQTT_PORT %q: %w", port, err)
		}
		c.MQTT.Port = p
	}

	if username := os.Getenv("MQTT_USERNAME"); username != "" {
		c.MQTT.Username = username
	}

	if password := os.Getenv("MQTT_PASSWORD"); password != "" {
		c.MQTT.Password = password
	}

	if topic := os.Getenv("MQTT_TOPIC"); topic != "" {
		c.MQTT.Topic = topic
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
		c.NATS.Enabled = true
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	return nil
}

// setDefaults fills in everything left empty by the file and environment
func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "field-tester-server"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if c.Parser.Type == "" {
		c.Parser.Type = string(envelope.TypeTTS3)
	}

	if c.MQTT.Server == "" {
		c.MQTT.Server = "localhost"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "field-tester-server"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "v3/+/devices/+/up"
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 30 * time.Second
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = 10 * time.Second
	}
	if c.MQTT.MaxReconnectInterval == 0 {
		c.MQTT.MaxReconnectInterval = time.Minute
	}

	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "fieldtester.uplink"
	}
	if c.NATS.QueueGroup == "" {
		c.NATS.QueueGroup = "field-tester-server"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}

	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8090
	}
	if len(c.API.CORSOrigins) == 0 {
		c.API.CORSOrigins = []string{"*"}
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 2
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}

	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 24 * time.Hour
	}
}

// Validate checks the configuration after defaults are applied
func (c *Config) Validate() error {
	if err := validation.NewValidator().Validate(c); err != nil {
		return err
	}

	typ, err := envelope.ParseType(c.Parser.Type)
	if err != nil {
		return fmt.Errorf("parser.type: %w", err)
	}
	c.Parser.Type = string(typ)

	if !c.MQTT.Enabled && !c.NATS.Enabled && !c.API.Enabled {
		return errors.New("at least one of mqtt, nats or api must be enabled")
	}

	if (c.MQTT.TLSCert == "") != (c.MQTT.TLSKey == "") {
		return errors.New("mqtt.tls_cert and mqtt.tls_key must be set together")
	}

	if c.Database.DSN != "" && c.API.Enabled && c.JWT.Secret == "" {
		return errors.New("jwt.secret is required to expose stored fixes through the api")
	}

	return nil
}

// EnvelopeType returns the validated parser type
func (c *Config) EnvelopeType() envelope.Type {
	return envelope.Type(c.Parser.Type)
}

// PrintConfigSummary prints the configuration with secrets masked
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== Field Tester Server Configuration ===\n")
	fmt.Printf("Server: %s %s\n", c.Server.Name, c.Server.Version)
	fmt.Printf("Log: level=%s format=%s\n", c.Log.Level, c.Log.Format)
	fmt.Printf("Parser: %s\n", c.Parser.Type)

	fmt.Printf("MQTT Enabled: %v\n", c.MQTT.Enabled)
	if c.MQTT.Enabled {
		fmt.Printf("  Broker: %s:%d (client %s)\n", c.MQTT.Server, c.MQTT.Port, c.MQTT.ClientID)
		fmt.Printf("  Topic: %s (qos %d)\n", c.MQTT.Topic, c.MQTT.QoS)
		fmt.Printf("  Username: %s\n", c.MQTT.Username)
		fmt.Printf("  Password: %s\n", mask(c.MQTT.Password))
		fmt.Printf("  TLS: ca=%q cert=%q\n", c.MQTT.CACert, c.MQTT.TLSCert)
	}

	fmt.Printf("NATS Enabled: %v\n", c.NATS.Enabled)
	if c.NATS.Enabled {
		fmt.Printf("  URL: %s\n", c.NATS.URL)
		fmt.Printf("  Subject: %s (queue %s)\n", c.NATS.Subject, c.NATS.QueueGroup)
		fmt.Printf("  Downlink Subject: %s\n", c.NATS.DownlinkSubject)
		fmt.Printf("  Password: %s\n", mask(c.NATS.Password))
	}

	fmt.Printf("API Enabled: %v\n", c.API.Enabled)
	if c.API.Enabled {
		fmt.Printf("  Listen: %s:%d\n", c.API.Host, c.API.Port)
		fmt.Printf("  Webhook Key: %s\n", mask(c.API.WebhookKeyHash))
		fmt.Printf("  CORS Origins: %s\n", strings.Join(c.API.CORSOrigins, ", "))
	}

	fmt.Printf("Fix Storage: %v\n", c.Database.DSN != "")
	if c.Database.DSN != "" {
		fmt.Printf("  DSN: %s\n", mask(c.Database.DSN))
	}
	fmt.Printf("JWT Secret: %s\n", mask(c.JWT.Secret))

	fmt.Printf("==========================================\n")
}

func mask(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	return "********"
}
