package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "lanshare"
	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "LANSHARE"
	// DefaultRelayPath is the websocket path served by the relay.
	DefaultRelayPath = "/ws"
	// DefaultReconnectInterval is the fixed delay between relay reconnect attempts.
	DefaultReconnectInterval = 5 * time.Second
	// DefaultLoadingTimeout bounds how long a placeholder waits for its file batch.
	DefaultLoadingTimeout = 2 * time.Minute
	// blobsDirName holds decoded inbound files.
	blobsDirName = "blobs"
)

// Config is the runtime configuration for the client and the reference relay.
type Config struct {
	RelayHost         string        `envconfig:"RELAY_HOST"`
	RelayPort         int           `envconfig:"RELAY_PORT"`
	RelaySecure       bool          `envconfig:"RELAY_SECURE" default:"false"`
	RelayPath         string        `envconfig:"RELAY_PATH" default:"/ws"`
	RelayListen       string        `envconfig:"RELAY_LISTEN" default:":8080"`
	ReconnectInterval time.Duration `envconfig:"RECONNECT_INTERVAL" default:"5s"`
	LoadingTimeout    time.Duration `envconfig:"LOADING_TIMEOUT" default:"2m"`
	DataDir           string        `envconfig:"DATA_DIR"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"info"`
	Discovery         bool          `envconfig:"DISCOVERY" default:"true"`
	DiscoveryTimeout  time.Duration `envconfig:"DISCOVERY_TIMEOUT" default:"3s"`
}

// Load reads an optional .env file, then LANSHARE_* environment variables.
//
// Variables already present in the environment win over .env entries.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, path := range envFiles {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}

	if cfg.DataDir == "" {
		dataDir, err := ResolveDataDir()
		if err != nil {
			return Config{}, err
		}
		cfg.DataDir = dataDir
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.RelayHost = strings.TrimSpace(c.RelayHost)
	if c.RelayPath == "" {
		c.RelayPath = DefaultRelayPath
	}
	if !strings.HasPrefix(c.RelayPath, "/") {
		c.RelayPath = "/" + c.RelayPath
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.LoadingTimeout <= 0 {
		c.LoadingTimeout = DefaultLoadingTimeout
	}
}

// Validate checks values that cannot be normalized.
func (c Config) Validate() error {
	if c.RelayPort < 0 || c.RelayPort > 65535 {
		return fmt.Errorf("relay port %d out of range", c.RelayPort)
	}
	if c.DataDir == "" {
		return errors.New("data directory is required")
	}
	return nil
}

// HasRelayEndpoint reports whether the relay host is configured explicitly.
func (c Config) HasRelayEndpoint() bool {
	return c.RelayHost != ""
}

// RelayURL returns the websocket endpoint for the configured relay.
func (c Config) RelayURL() string {
	return RelayURL(c.RelayHost, c.RelayPort, c.RelaySecure, c.RelayPath)
}

// RelayURL builds "<ws|wss>://host[:port]/path".
func RelayURL(host string, port int, secure bool, path string) string {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	if path == "" {
		path = DefaultRelayPath
	}

	hostPort := host
	if port > 0 {
		hostPort = net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(port))
	}

	u := url.URL{Scheme: scheme, Host: hostPort, Path: path}
	return u.String()
}

// BlobsDir returns the directory holding decoded inbound files.
func (c Config) BlobsDir() string {
	return filepath.Join(c.DataDir, blobsDirName)
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If LANSHARE_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(EnvPrefix + "_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, blobsDirName),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}
