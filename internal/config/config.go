// Package config loads configuration for both binaries. Every setting
// has an environment-variable source of truth; an optional YAML file
// supplies defaults that the environment then overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config) is checked first by FindConfig; otherwise these are
// tried in order.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mcp-server-home", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // container convention
	paths = append(paths, "/etc/mcp-server-home/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty it must
// exist. Otherwise DefaultSearchPaths is searched in order. Returns
// ("", nil) if no file is found and none was explicitly requested — an
// absent optional YAML layer is not an error, since every setting also
// has an environment-variable source.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", nil
}

// fileLayer holds the subset of settings an optional YAML file may supply
// as defaults. Any field left zero here is simply not overridden; the
// environment variable (or the hardcoded default below it) wins.
type fileLayer struct {
	NTPServer       string `yaml:"ntp_server"`
	NTPBackupServer string `yaml:"ntp_backup_server"`
	NTPTimeout      string `yaml:"ntp_timeout"`
	ServerPort      int    `yaml:"server_port"`
	LogLevel        string `yaml:"log_level"`
	Redis           struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	HomeAssistant struct {
		URL      string `yaml:"url"`
		Token    string `yaml:"token"`
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"homeassistant"`

	LLMURL        string `yaml:"llm_url"`
	LLMModel      string `yaml:"llm_model"`
	ToolServerURL string `yaml:"tool_server_url"`
	ClientPort    int    `yaml:"client_port"`
	WhisperURL    string `yaml:"whisper_url"`
	MySQL         struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Database string `yaml:"database"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"mysql"`
}

// loadFileLayer reads and expands an optional YAML file. A missing path
// (empty string) yields a zero-value layer, not an error.
func loadFileLayer(path string) (fileLayer, error) {
	var layer fileLayer
	if path == "" {
		return layer, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return layer, err
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &layer); err != nil {
		return layer, err
	}
	return layer, nil
}

// ServerConfig configures cmd/toolserver.
type ServerConfig struct {
	NTPServer       string
	NTPBackupServer string
	NTPTimeout      time.Duration
	ServerPort      int
	LogLevel        string

	HAURL      string
	HAToken    string
	HACacheTTL time.Duration

	// TranscriberAddr is the streaming transcoder's host:port. Read from
	// WHISPER_URL, the same variable the orchestrator documents: the
	// transcribe_audio tool (and its TCP client) lives on the tool
	// server, while the orchestrator only proxies uploads to it.
	TranscriberAddr string
}

// OrchestratorConfig configures cmd/orchestrator. The Redis settings
// live here, not on ServerConfig: the ephemeral interaction store is
// the module's only Redis consumer and it belongs to the orchestrator.
type OrchestratorConfig struct {
	LLMURL        string
	LLMModel      string
	ToolServerURL string
	ClientPort    int
	LogLevel      string
	WhisperURL    string

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	MySQLHost     string
	MySQLPort     int
	MySQLDatabase string
	MySQLUser     string
	MySQLPassword string
	MySQLPoolSize int
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Accept bare integers as seconds, matching the source system's
		// plain-number environment variable convention.
		if n, convErr := strconv.Atoi(v); convErr == nil {
			return time.Duration(n) * time.Second, nil
		}
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

// LoadServer builds a ServerConfig from environment variables, layered
// over defaults from an optional YAML file (explicitPath, resolved via
// FindConfig), applies hardcoded defaults for anything still unset, and
// validates the result. After LoadServer returns successfully every field
// is usable without further nil/zero checks.
func LoadServer(explicitPath string) (*ServerConfig, error) {
	path, err := FindConfig(explicitPath)
	if err != nil {
		return nil, err
	}
	layer, err := loadFileLayer(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &ServerConfig{}
	cfg.NTPServer = getenv("NTP_SERVER", orDefault(layer.NTPServer, "pool.ntp.org"))
	cfg.NTPBackupServer = getenv("NTP_BACKUP_SERVER", orDefault(layer.NTPBackupServer, "time.google.com"))

	fileTimeout := 5 * time.Second
	if layer.NTPTimeout != "" {
		if d, perr := time.ParseDuration(layer.NTPTimeout); perr == nil {
			fileTimeout = d
		}
	}
	if cfg.NTPTimeout, err = getenvDuration("NTP_TIMEOUT", fileTimeout); err != nil {
		return nil, err
	}

	filePort := layer.ServerPort
	if filePort == 0 {
		filePort = 8080
	}
	if cfg.ServerPort, err = getenvInt("SERVER_PORT", filePort); err != nil {
		return nil, err
	}

	cfg.LogLevel = getenv("LOG_LEVEL", orDefault(layer.LogLevel, "info"))

	cfg.HAURL = getenv("HA_URL", layer.HomeAssistant.URL)
	cfg.HAToken = getenv("HA_TOKEN", layer.HomeAssistant.Token)

	fileTTL := 30 * time.Second
	if layer.HomeAssistant.CacheTTL != "" {
		if d, perr := time.ParseDuration(layer.HomeAssistant.CacheTTL); perr == nil {
			fileTTL = d
		}
	}
	if cfg.HACacheTTL, err = getenvDuration("HA_CACHE_TTL", fileTTL); err != nil {
		return nil, err
	}

	cfg.TranscriberAddr = getenv("WHISPER_URL", layer.WhisperURL)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that a ServerConfig is internally consistent.
func (c *ServerConfig) Validate() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("server_port %d out of range (1-65535)", c.ServerPort)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Configured reports whether Home Assistant has both a URL and a token.
// A partial configuration is treated as unconfigured.
func (c *ServerConfig) Configured() bool {
	return c.HAURL != "" && c.HAToken != ""
}

// LoadOrchestrator builds an OrchestratorConfig the same way LoadServer
// builds a ServerConfig.
func LoadOrchestrator(explicitPath string) (*OrchestratorConfig, error) {
	path, err := FindConfig(explicitPath)
	if err != nil {
		return nil, err
	}
	layer, err := loadFileLayer(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &OrchestratorConfig{}
	cfg.LLMURL = getenv("LLM_URL", orDefault(layer.LLMURL, "http://localhost:11434"))
	cfg.LLMModel = getenv("LLM_MODEL", orDefault(layer.LLMModel, "qwen2.5:7b"))
	cfg.ToolServerURL = getenv("TOOL_SERVER_URL", orDefault(layer.ToolServerURL, "http://localhost:8080"))

	filePort := layer.ClientPort
	if filePort == 0 {
		filePort = 8090
	}
	if cfg.ClientPort, err = getenvInt("CLIENT_PORT", filePort); err != nil {
		return nil, err
	}

	cfg.LogLevel = getenv("LOG_LEVEL", orDefault(layer.LogLevel, "info"))
	cfg.WhisperURL = getenv("WHISPER_URL", layer.WhisperURL)

	cfg.RedisHost = getenv("REDIS_HOST", orDefault(layer.Redis.Host, "localhost"))
	filePort = layer.Redis.Port
	if filePort == 0 {
		filePort = 6379
	}
	if cfg.RedisPort, err = getenvInt("REDIS_PORT", filePort); err != nil {
		return nil, err
	}
	cfg.RedisPassword = getenv("REDIS_PASSWORD", layer.Redis.Password)
	if cfg.RedisDB, err = getenvInt("REDIS_DB", layer.Redis.DB); err != nil {
		return nil, err
	}

	cfg.MySQLHost = getenv("MYSQL_HOST", orDefault(layer.MySQL.Host, "localhost"))
	filePort = layer.MySQL.Port
	if filePort == 0 {
		filePort = 3306
	}
	if cfg.MySQLPort, err = getenvInt("MYSQL_PORT", filePort); err != nil {
		return nil, err
	}
	cfg.MySQLDatabase = getenv("MYSQL_DATABASE", orDefault(layer.MySQL.Database, "mcp_server_home"))
	cfg.MySQLUser = getenv("MYSQL_USER", layer.MySQL.User)
	cfg.MySQLPassword = getenv("MYSQL_PASSWORD", layer.MySQL.Password)

	filePool := layer.MySQL.PoolSize
	if filePool == 0 {
		filePool = 10
	}
	if cfg.MySQLPoolSize, err = getenvInt("MYSQL_POOL_SIZE", filePool); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// RedisAddr returns the ephemeral store's host:port.
func (c *OrchestratorConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// Validate checks that an OrchestratorConfig is internally consistent.
func (c *OrchestratorConfig) Validate() error {
	if c.ClientPort < 1 || c.ClientPort > 65535 {
		return fmt.Errorf("client_port %d out of range (1-65535)", c.ClientPort)
	}
	if c.MySQLPoolSize < 1 {
		return fmt.Errorf("mysql_pool_size must be >= 1, got %d", c.MySQLPoolSize)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
