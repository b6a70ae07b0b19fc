package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRoot     = "/mnt"
	DefaultPort     = 8800
	DefaultAppDir   = "/opt/nas-media-player"
	DefaultLogName  = "nas-media-player.log"
	DefaultMaxConns = 2048
)

// Config is intentionally small and JSON-friendly.
type Config struct {
	// Root is the media directory served (NAS_MEDIA_VIDEO_DIR).
	Root string `json:"root"`

	// Port is the TCP listen port (NAS_MEDIA_PORT).
	Port int `json:"port"`

	// AppDir holds dir_passwords.json, the cookie key and resumable upload
	// state (NAS_MEDIA_APP_DIR).
	AppDir string `json:"appDir"`

	// LogFile receives a copy of every log line.
	// Default: <AppDir>/nas-media-player.log
	LogFile string `json:"logFile,omitempty"`

	// LogLevel is a logrus level name. Default: info
	LogLevel string `json:"logLevel,omitempty"`

	// MaxConns caps concurrently accepted connections; 0 disables the cap.
	MaxConns int `json:"maxConns,omitempty"`

	// CookieKey, when set, derives the cookie keys instead of the persisted
	// <AppDir>/cookie.key. Only read from the environment.
	CookieKey string `json:"-"`
}

func Default() Config {
	return Config{
		Root:     DefaultRoot,
		Port:     DefaultPort,
		AppDir:   DefaultAppDir,
		LogLevel: "info",
		MaxConns: DefaultMaxConns,
	}
}

// LoadFile overlays the JSON file at path onto c. Fields missing from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overlays NAS_MEDIA_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	str("NAS_MEDIA_VIDEO_DIR", &c.Root)
	str("NAS_MEDIA_APP_DIR", &c.AppDir)
	str("NAS_MEDIA_LOG_FILE", &c.LogFile)
	str("NAS_MEDIA_LOG_LEVEL", &c.LogLevel)
	if v, ok := lookup("NAS_MEDIA_COOKIE_KEY"); ok {
		c.CookieKey = v
	}
	if err := num("NAS_MEDIA_PORT", &c.Port); err != nil {
		return err
	}
	return num("NAS_MEDIA_MAX_CONNS", &c.MaxConns)
}

// LoadDotEnv copies variables from an env file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// Load builds the serve configuration. Precedence, lowest first: defaults,
// -config JSON file, env file plus process environment, explicit flags.
func Load(args []string, stderr io.Writer) (Config, error) {
	fs := flag.NewFlagSet("nasmedia", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath  = fs.String("config", "", "path to config json (optional)")
		envFile  = fs.String("env-file", ".env", "env file loaded before reading NAS_MEDIA_* variables")
		root     = fs.String("root", "", "media root directory")
		port     = fs.Int("port", 0, "listen port")
		appDir   = fs.String("app-dir", "", "directory for the password registry, cookie key and logs")
		logFile  = fs.String("log-file", "", "log file path")
		logLevel = fs.String("log-level", "", "log level (debug, info, warn, error)")
		maxConns = fs.Int("max-conns", 0, "maximum concurrent connections (0 = unlimited)")
	)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if *cfgPath != "" {
		if err := cfg.LoadFile(*cfgPath); err != nil {
			return Config{}, err
		}
	}
	if err := LoadDotEnv(*envFile); err != nil {
		return Config{}, fmt.Errorf("env file: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "root":
			cfg.Root = *root
		case "port":
			cfg.Port = *port
		case "app-dir":
			cfg.AppDir = *appDir
		case "log-file":
			cfg.LogFile = *logFile
		case "log-level":
			cfg.LogLevel = *logLevel
		case "max-conns":
			cfg.MaxConns = *maxConns
		}
	})

	if err := cfg.Normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize validates c and fills derived defaults. Root becomes absolute
// and canonical and must be an existing directory.
func (c *Config) Normalize() error {
	if strings.TrimSpace(c.Root) == "" {
		return errors.New("config: root is required")
	}
	absRoot, err := filepath.Abs(c.Root)
	if err != nil {
		return fmt.Errorf("abs root: %w", err)
	}
	if absRoot, err = filepath.EvalSymlinks(absRoot); err != nil {
		return fmt.Errorf("root: %w", err)
	}
	st, err := os.Stat(absRoot)
	if err != nil {
		return fmt.Errorf("root: %w", err)
	}
	if !st.IsDir() {
		return fmt.Errorf("root %s is not a directory", absRoot)
	}
	c.Root = absRoot

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("config: invalid max conns %d", c.MaxConns)
	}

	if strings.TrimSpace(c.AppDir) == "" {
		c.AppDir = DefaultAppDir
	}
	if c.AppDir, err = filepath.Abs(c.AppDir); err != nil {
		return fmt.Errorf("abs app dir: %w", err)
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.AppDir, DefaultLogName)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Addr is the listen address on all interfaces, IPv4 and IPv6.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
