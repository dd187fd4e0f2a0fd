package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cardlink-protocol/cardlink-go/pkg/transport"
)

// Defaults applied by Default and by Load for fields the file omits.
const (
	DefaultAddress        = ":8765"
	DefaultMaxMessageSize = 1 << 20
	DefaultMaxPending     = 16
	DefaultAuthTimeout    = 10 * time.Second
	DefaultBridgeTimeout  = 30 * time.Second
)

// TLS holds the listener TLS settings. TLS is off unless Enabled is
// set; when it is, both file paths are required.
type TLS struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// KeepAlive holds the transport liveness-probe settings.
type KeepAlive struct {
	Enabled        bool          `yaml:"enabled"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	MaxMissedPongs int           `yaml:"max_missed_pongs"`
}

// Discovery holds the mDNS advertisement settings.
type Discovery struct {
	Enabled      bool   `yaml:"enabled"`
	InstanceName string `yaml:"instance_name"`
}

// Config is the relay's on-disk configuration.
type Config struct {
	// Address the relay listens on.
	Address string `yaml:"address"`

	// Token is the bearer token clients must present. TokenFile, when
	// set, is read instead; the file wins over the inline value.
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`

	// KeyFile is where the session key is stored. When the file does
	// not exist the relay generates a key and writes it there.
	KeyFile string `yaml:"key_file"`

	// AgeRecipients, when non-empty, makes the relay print the session
	// key sealed to these age public keys instead of in the clear.
	AgeRecipients []string `yaml:"age_recipients"`

	MaxMessageSize  uint32        `yaml:"max_message_size"`
	MaxPendingConns int           `yaml:"max_pending_conns"`
	AuthTimeout     time.Duration `yaml:"auth_timeout"`
	BridgeTimeout   time.Duration `yaml:"bridge_timeout"`

	TLS       TLS       `yaml:"tls"`
	KeepAlive KeepAlive `yaml:"keepalive"`
	Discovery Discovery `yaml:"discovery"`

	// ProtocolLogFile enables protocol capture when set.
	ProtocolLogFile string `yaml:"protocol_log_file"`

	// LogLevel is the operational log level: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns a configuration with all defaults applied and no
// credentials set.
func Default() Config {
	ka := transport.DefaultKeepAliveConfig()
	return Config{
		Address:         DefaultAddress,
		MaxMessageSize:  DefaultMaxMessageSize,
		MaxPendingConns: DefaultMaxPending,
		AuthTimeout:     DefaultAuthTimeout,
		BridgeTimeout:   DefaultBridgeTimeout,
		KeepAlive: KeepAlive{
			PingInterval:   ka.PingInterval,
			PongTimeout:    ka.PongTimeout,
			MaxMissedPongs: ka.MaxMissedPongs,
		},
		LogLevel: "info",
	}
}

// Parse parses a configuration from YAML bytes. Fields the document
// omits keep their defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks internal consistency. It does not check that the
// token is set: commands may supply it by flag or generate one.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address must not be empty")
	}
	if c.MaxPendingConns < 0 {
		return fmt.Errorf("max_pending_conns must not be negative, got %d", c.MaxPendingConns)
	}
	if c.AuthTimeout < 0 {
		return fmt.Errorf("auth_timeout must not be negative, got %s", c.AuthTimeout)
	}
	if c.BridgeTimeout < 0 {
		return fmt.Errorf("bridge_timeout must not be negative, got %s", c.BridgeTimeout)
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when tls.enabled is true")
		}
	}
	if c.KeepAlive.Enabled {
		if c.KeepAlive.PingInterval <= 0 {
			return fmt.Errorf("keepalive.ping_interval must be positive, got %s", c.KeepAlive.PingInterval)
		}
		if c.KeepAlive.PongTimeout <= 0 {
			return fmt.Errorf("keepalive.pong_timeout must be positive, got %s", c.KeepAlive.PongTimeout)
		}
		if c.KeepAlive.MaxMissedPongs < 1 {
			return fmt.Errorf("keepalive.max_missed_pongs must be at least 1, got %d", c.KeepAlive.MaxMissedPongs)
		}
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// ResolveToken returns the bearer token, reading TokenFile if set.
// Surrounding whitespace in the file is ignored.
func (c *Config) ResolveToken() (string, error) {
	if c.TokenFile == "" {
		return c.Token, nil
	}
	data, err := os.ReadFile(c.TokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", c.TokenFile)
	}
	return token, nil
}

// KeepAliveConfig converts the keepalive section to the transport's
// config type.
func (c *Config) KeepAliveConfig() transport.KeepAliveConfig {
	return transport.KeepAliveConfig{
		PingInterval:   c.KeepAlive.PingInterval,
		PongTimeout:    c.KeepAlive.PongTimeout,
		MaxMissedPongs: c.KeepAlive.MaxMissedPongs,
	}
}
