// Command cardlink-relay runs the CardLink relay: it accepts remote
// client connections, authenticates them, and forwards decrypted APDU
// commands to the local card bridge.
//
// The session key is generated at startup and written to the key file
// (base64, mode 0600). Distribute it to clients out-of-band; it is
// never logged. With -age-recipient the key is additionally printed
// sealed to the given age public keys, safe to paste into a channel
// the operators can read.
//
// Usage:
//
//	cardlink-relay [flags]
//
// Flags:
//
//	-config string         Configuration file path (YAML)
//	-address string        Listen address (default ":8765")
//	-token string          Bearer token clients must present
//	-token-file string     File containing the bearer token
//	-key-file string       Session key file path (default "cardlink.key")
//	-age-recipient value   age public key to seal the session key to (repeatable)
//	-tls-cert string       TLS certificate file (enables TLS together with -tls-key)
//	-tls-key string        TLS private key file
//	-advertise             Advertise the relay via mDNS
//	-protocol-log string   Write protocol capture to this .clog file
//	-log-level string      Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Soft-token relay on the default port, token from a file
//	cardlink-relay -token-file /etc/cardlink/token
//
//	# TLS listener with config file and mDNS advertising
//	cardlink-relay -config /etc/cardlink/relay.yaml -tls-cert relay.crt -tls-key relay.key -advertise
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cardlink-protocol/cardlink-go/pkg/config"
	"github.com/cardlink-protocol/cardlink-go/pkg/discovery"
	"github.com/cardlink-protocol/cardlink-go/pkg/log"
	"github.com/cardlink-protocol/cardlink-go/pkg/relay"
	"github.com/cardlink-protocol/cardlink-go/pkg/secure"
	"github.com/cardlink-protocol/cardlink-go/pkg/transport"
)

// stringList collects a repeatable string flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

var flags struct {
	configFile    string
	address       string
	token         string
	tokenFile     string
	keyFile       string
	ageRecipients stringList
	tlsCert       string
	tlsKey        string
	advertise     bool
	protocolLog   string
	logLevel      string
}

func init() {
	flag.StringVar(&flags.configFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&flags.address, "address", "", "Listen address")
	flag.StringVar(&flags.token, "token", "", "Bearer token clients must present")
	flag.StringVar(&flags.tokenFile, "token-file", "", "File containing the bearer token")
	flag.StringVar(&flags.keyFile, "key-file", "", "Session key file path")
	flag.Var(&flags.ageRecipients, "age-recipient", "age public key to seal the session key to (repeatable)")
	flag.StringVar(&flags.tlsCert, "tls-cert", "", "TLS certificate file")
	flag.StringVar(&flags.tlsKey, "tls-key", "", "TLS private key file")
	flag.BoolVar(&flags.advertise, "advertise", false, "Advertise the relay via mDNS")
	flag.StringVar(&flags.protocolLog, "protocol-log", "", "Write protocol capture to this .clog file")
	flag.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("relay failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig merges the config file and flags. Flags win.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if flags.configFile != "" {
		var err error
		cfg, err = config.Load(flags.configFile)
		if err != nil {
			return config.Config{}, err
		}
	}

	if flags.address != "" {
		cfg.Address = flags.address
	}
	if flags.token != "" {
		cfg.Token = flags.token
	}
	if flags.tokenFile != "" {
		cfg.TokenFile = flags.tokenFile
	}
	if flags.keyFile != "" {
		cfg.KeyFile = flags.keyFile
	}
	if len(flags.ageRecipients) > 0 {
		cfg.AgeRecipients = flags.ageRecipients
	}
	if flags.tlsCert != "" || flags.tlsKey != "" {
		cfg.TLS.Enabled = true
		cfg.TLS.CertFile = flags.tlsCert
		cfg.TLS.KeyFile = flags.tlsKey
	}
	if flags.advertise {
		cfg.Discovery.Enabled = true
	}
	if flags.protocolLog != "" {
		cfg.ProtocolLogFile = flags.protocolLog
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if cfg.KeyFile == "" {
		cfg.KeyFile = "cardlink.key"
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func run(cfg config.Config, logger *slog.Logger) error {
	token, err := cfg.ResolveToken()
	if err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("a bearer token is required (-token or -token-file)")
	}

	key, err := loadOrCreateKey(cfg, logger)
	if err != nil {
		return err
	}

	var tlsConfig *transport.TLSConfig
	if cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		tlsConfig = &transport.TLSConfig{Certificate: cert}
	}

	var protocolLogger log.Logger
	if cfg.ProtocolLogFile != "" {
		fileLogger, err := log.NewFileLogger(cfg.ProtocolLogFile)
		if err != nil {
			return fmt.Errorf("failed to open protocol log: %w", err)
		}
		defer fileLogger.Close()
		protocolLogger = fileLogger
	}

	svc, err := relay.New(relay.Config{
		Address:         cfg.Address,
		Token:           token,
		Key:             key,
		AuthTimeout:     cfg.AuthTimeout,
		BridgeTimeout:   cfg.BridgeTimeout,
		MaxMessageSize:  cfg.MaxMessageSize,
		MaxPendingConns: cfg.MaxPendingConns,
		EnableKeepAlive: cfg.KeepAlive.Enabled,
		KeepAlive:       cfg.KeepAliveConfig(),
		TLS:             tlsConfig,
		Logger:          logger,
		ProtocolLogger:  protocolLogger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return err
	}

	if cfg.Discovery.Enabled {
		advertiser := discovery.NewAdvertiser(discovery.AdvertiserConfig{
			InstanceName: cfg.Discovery.InstanceName,
			Port:         listenPort(svc.Addr()),
			TLS:          cfg.TLS.Enabled,
		})
		if err := advertiser.Start(); err != nil {
			logger.Warn("mDNS advertising failed", "error", err)
		} else {
			defer advertiser.Stop()
			logger.Info("advertising via mDNS", "instance", advertiser.InstanceName())
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return svc.Stop()
}

// loadOrCreateKey reads the session key file, generating a fresh key
// when the file does not exist.
func loadOrCreateKey(cfg config.Config, logger *slog.Logger) (secure.Key, error) {
	key, err := secure.ReadKeyFile(cfg.KeyFile)
	if err == nil {
		logger.Info("session key loaded", "path", cfg.KeyFile)
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	key, err = secure.NewKey()
	if err != nil {
		return nil, err
	}
	if err := secure.WriteKeyFile(cfg.KeyFile, key); err != nil {
		return nil, err
	}
	logger.Info("session key generated", "path", cfg.KeyFile)

	if len(cfg.AgeRecipients) > 0 {
		sealed, err := secure.SealKey(key, cfg.AgeRecipients)
		if err != nil {
			return nil, fmt.Errorf("failed to seal session key: %w", err)
		}
		fmt.Println("Session key, sealed to the configured age recipients:")
		fmt.Println(sealed)
	}

	return key, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func listenPort(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return transport.DefaultPort
}
