// Command cardlink-client is an interactive CardLink client for
// exercising a relay: it connects, authenticates, and sends APDU
// commands typed as hex.
//
// Usage:
//
//	cardlink-client -token <token> -key-file cardlink.key [flags]
//
// Flags:
//
//	-address string    Relay address (default "localhost:8765")
//	-discover          Find a relay via mDNS instead of -address
//	-token string      Bearer token
//	-token-file string File containing the bearer token
//	-key string        Session key (base64)
//	-key-file string   File containing the session key
//	-tls               Dial with TLS
//	-insecure          Skip TLS certificate verification
//
// Inside the prompt, enter an APDU as hex ("00 A4 04 00" or
// "00a40400"), or use the canned shortcuts:
//
//	select    SELECT applet
//	verify    VERIFY PIN 12345678
//	readbin   READ BINARY, 8 bytes
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/cardlink-protocol/cardlink-go/pkg/connection"
	"github.com/cardlink-protocol/cardlink-go/pkg/discovery"
	"github.com/cardlink-protocol/cardlink-go/pkg/secure"
	"github.com/cardlink-protocol/cardlink-go/pkg/session"
	"github.com/cardlink-protocol/cardlink-go/pkg/transport"
)

// Canned APDUs matching the relay's soft token demo flow.
var shortcuts = map[string][]byte{
	"select":  {0x00, 0xA4, 0x04, 0x00, 0x0A, 0xA0, 0x00, 0x00, 0x00, 0x62, 0x03, 0x01, 0x0C, 0x06, 0x01},
	"verify":  {0x00, 0x20, 0x00, 0x80, 0x08, 0x31, 0x32, 0x33, 0x34, 0x35, 0x36, 0x37, 0x38},
	"readbin": {0x00, 0xC0, 0x00, 0x00, 0x08},
}

var flags struct {
	address   string
	discover  bool
	token     string
	tokenFile string
	key       string
	keyFile   string
	useTLS    bool
	insecure  bool
}

func init() {
	flag.StringVar(&flags.address, "address", "localhost:8765", "Relay address")
	flag.BoolVar(&flags.discover, "discover", false, "Find a relay via mDNS instead of -address")
	flag.StringVar(&flags.token, "token", "", "Bearer token")
	flag.StringVar(&flags.tokenFile, "token-file", "", "File containing the bearer token")
	flag.StringVar(&flags.key, "key", "", "Session key (base64)")
	flag.StringVar(&flags.keyFile, "key-file", "", "File containing the session key")
	flag.BoolVar(&flags.useTLS, "tls", false, "Dial with TLS")
	flag.BoolVar(&flags.insecure, "insecure", false, "Skip TLS certificate verification")
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	token, err := resolveToken()
	if err != nil {
		return err
	}
	key, err := resolveKey()
	if err != nil {
		return err
	}

	address := flags.address
	if flags.discover {
		svc, err := discovery.Find(context.Background(), 5*time.Second)
		if err != nil {
			return err
		}
		address = svc.Addr()
		flags.useTLS = svc.TLS
		fmt.Printf("Discovered relay %q at %s\n", svc.InstanceName, address)
	}

	c := &client{
		address: address,
		token:   token,
		key:     key,
	}

	c.manager = connection.NewManager(c.connect)
	c.manager.SetAutoReconnect(true)
	c.manager.OnReconnecting(func(attempt int, delay time.Duration) {
		fmt.Printf("Reconnecting (attempt %d) in %s...\n", attempt, delay.Round(time.Millisecond))
	})
	c.manager.OnConnected(func() {
		fmt.Printf("Connected to %s\n", c.address)
	})
	defer c.manager.Close()

	if err := c.manager.Connect(context.Background()); err != nil {
		return err
	}

	return c.repl()
}

// client ties the reconnect manager to the current session.
type client struct {
	address string
	token   string
	key     secure.Key

	manager *connection.Manager
	sess    *session.ClientSession
}

// connect dials, authenticates, and swaps in a fresh session. Called
// by the manager on the initial connect and on every reconnect.
func (c *client) connect(ctx context.Context) error {
	var tlsConfig *transport.TLSConfig
	if flags.useTLS {
		tlsConfig = &transport.TLSConfig{InsecureSkipVerify: flags.insecure}
	}

	tc, err := transport.NewClient(transport.ClientConfig{TLSConfig: tlsConfig})
	if err != nil {
		return err
	}
	conn, err := tc.Connect(ctx, c.address)
	if err != nil {
		return err
	}

	sess, err := session.NewClientSession(conn, session.ClientConfig{
		Token: c.token,
		Key:   c.key,
	})
	if err != nil {
		conn.Close()
		return err
	}
	if err := sess.Authenticate(); err != nil {
		sess.Close()
		return err
	}

	if c.sess != nil {
		c.sess.Close()
	}
	c.sess = sess
	return nil
}

func (c *client) repl() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "apdu> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	printHelp()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return nil
		}

		input := strings.TrimSpace(strings.ToLower(line))
		switch input {
		case "":
			continue
		case "help", "?":
			printHelp()
			continue
		case "quit", "exit", "q":
			return nil
		}

		apdu, ok := shortcuts[input]
		if !ok {
			apdu, err = parseHex(input)
			if err != nil {
				fmt.Printf("Bad input: %v\n", err)
				continue
			}
		}

		c.exchange(apdu)
	}
}

// exchange sends one APDU and prints the response. A failed exchange
// kicks the reconnect manager; the session is gone either way.
func (c *client) exchange(apdu []byte) {
	fmt.Printf("-> %s\n", formatHex(apdu))

	response, err := c.sess.Exchange(apdu)
	if err != nil {
		fmt.Printf("Exchange failed: %v\n", err)
		c.manager.NotifyConnectionLost()
		return
	}

	fmt.Printf("<- %s\n", formatHex(response))
}

func resolveToken() (string, error) {
	if flags.tokenFile != "" {
		data, err := os.ReadFile(flags.tokenFile)
		if err != nil {
			return "", fmt.Errorf("failed to read token file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if flags.token == "" {
		return "", fmt.Errorf("a bearer token is required (-token or -token-file)")
	}
	return flags.token, nil
}

func resolveKey() (secure.Key, error) {
	if flags.keyFile != "" {
		return secure.ReadKeyFile(flags.keyFile)
	}
	if flags.key == "" {
		return nil, fmt.Errorf("a session key is required (-key or -key-file)")
	}
	return secure.ParseKey(flags.key)
}

// parseHex accepts "00A40400", "00 a4 04 00", and "00:a4:04:00".
func parseHex(s string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == ':' {
			return -1
		}
		return r
	}, s)
	apdu, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, err
	}
	if len(apdu) == 0 {
		return nil, fmt.Errorf("empty APDU")
	}
	return apdu, nil
}

func formatHex(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, " ")
}

func printHelp() {
	fmt.Print(`Enter an APDU as hex, or one of:
  select    SELECT applet
  verify    VERIFY PIN 12345678
  readbin   READ BINARY, 8 bytes
  help      Show this help
  quit      Exit
`)
}
