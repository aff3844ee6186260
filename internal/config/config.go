package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"sessionlink/pkg/types"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv
const EnvPrefix = "SESSIONLINK_"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Connection  *ConnectionConfig  `json:"connection"`
	Endpoint    *EndpointConfig    `json:"endpoint"`
	Status      *StatusConfig      `json:"status"`
	Journal     *JournalConfig     `json:"journal"`
	DebugServer *DebugServerConfig `json:"debug_server"`
	Logging     *LoggingConfig     `json:"logging"`
}

// FUNCTIONAL DISCOVERY: Retry and liveness tuning for classroom networks
type ConnectionConfig struct {
	MaxReconnectAttempts  int           `json:"max_reconnect_attempts"`
	ReconnectInterval     time.Duration `json:"reconnect_interval"`
	ReconnectCap          time.Duration `json:"reconnect_cap"`
	HeartbeatInterval     time.Duration `json:"heartbeat_interval"`
	ConnectionTimeout     time.Duration `json:"connection_timeout"`
	LivenessCheckInterval time.Duration `json:"liveness_check_interval"`
	DialTimeout           time.Duration `json:"dial_timeout"`
	WriteTimeout          time.Duration `json:"write_timeout"`
	SendBuffer            int           `json:"send_buffer"`
	RedirectDelay         time.Duration `json:"redirect_delay"`
	ConnectedDismiss      time.Duration `json:"connected_dismiss"`
	ResyncOnReconnect     bool          `json:"resync_on_reconnect"`
	MaxMalformedFrames    int           `json:"max_malformed_frames"`
	MalformedWindow       time.Duration `json:"malformed_window"`
	Debug                 bool          `json:"debug"`
}

// EndpointConfig locates the session channel. URL wins over PageURL, which
// wins over Host and Secure.
type EndpointConfig struct {
	SessionCode string `json:"session_code"`
	URL         string `json:"url"`
	PageURL     string `json:"page_url"`
	Host        string `json:"host"`
	Secure      bool   `json:"secure"`
}

// StatusConfig controls the terminal status indicator
type StatusConfig struct {
	Enabled bool `json:"enabled"`
	NoColor bool `json:"no_color"`
}

// FUNCTIONAL DISCOVERY: Journal configuration supports SQLite optimizations
type JournalConfig struct {
	Enabled bool          `json:"enabled"`
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

// DebugServerConfig exposes health, metrics and control endpoints locally
type DebugServerConfig struct {
	Enabled      bool          `json:"enabled"`
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// LoggingConfig selects the zap preset
type LoggingConfig struct {
	Debug    bool   `json:"debug"`
	Encoding string `json:"encoding"`
}

// DefaultConfig returns the classroom defaults: ten retries from 3s capped at
// 30s, a 30s heartbeat and a 60s liveness threshold checked every 10s
func DefaultConfig() *Config {
	return &Config{
		Connection: &ConnectionConfig{
			MaxReconnectAttempts:  10,
			ReconnectInterval:     3 * time.Second,
			ReconnectCap:          30 * time.Second,
			HeartbeatInterval:     30 * time.Second,
			ConnectionTimeout:     60 * time.Second,
			LivenessCheckInterval: 10 * time.Second,
			DialTimeout:           10 * time.Second,
			WriteTimeout:          5 * time.Second,
			SendBuffer:            256,
			RedirectDelay:         3 * time.Second,
			ConnectedDismiss:      3 * time.Second,
			ResyncOnReconnect:     true,
			MaxMalformedFrames:    0,
			MalformedWindow:       time.Minute,
		},
		Endpoint: &EndpointConfig{
			Host: "localhost:8000",
		},
		Status: &StatusConfig{
			Enabled: true,
		},
		Journal: &JournalConfig{
			Enabled: false,
			Path:    "./sessionlink.db",
			Timeout: 30 * time.Second,
		},
		DebugServer: &DebugServerConfig{
			Enabled:      false,
			Host:         "127.0.0.1",
			Port:         9464,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Logging: &LoggingConfig{
			Encoding: "console",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Connection == nil {
		return fmt.Errorf("connection configuration is required")
	}
	conn := c.Connection
	if conn.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("max reconnect attempts must be positive")
	}
	if conn.ReconnectInterval <= 0 {
		return fmt.Errorf("reconnect interval must be positive")
	}
	if conn.ReconnectCap < conn.ReconnectInterval {
		return fmt.Errorf("reconnect cap must not be below the reconnect interval")
	}
	if conn.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if conn.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}
	if conn.LivenessCheckInterval <= 0 {
		return fmt.Errorf("liveness check interval must be positive")
	}
	if conn.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive")
	}
	if conn.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if conn.SendBuffer <= 0 {
		return fmt.Errorf("send buffer must be positive")
	}
	if conn.RedirectDelay <= 0 {
		return fmt.Errorf("redirect delay must be positive")
	}
	if conn.MaxMalformedFrames < 0 {
		return fmt.Errorf("max malformed frames cannot be negative")
	}
	if conn.MaxMalformedFrames > 0 && conn.MalformedWindow <= 0 {
		return fmt.Errorf("malformed window must be positive when the frame budget is enabled")
	}

	if c.Endpoint == nil {
		return fmt.Errorf("endpoint configuration is required")
	}
	if c.Endpoint.SessionCode != "" && !types.IsValidSessionCode(c.Endpoint.SessionCode) {
		return fmt.Errorf("session code %q must be 1-32 word characters", c.Endpoint.SessionCode)
	}
	if c.Endpoint.URL == "" && c.Endpoint.PageURL == "" && c.Endpoint.Host == "" {
		return fmt.Errorf("endpoint needs a url, page url or host")
	}

	if c.Status == nil {
		return fmt.Errorf("status configuration is required")
	}

	if c.Journal == nil {
		return fmt.Errorf("journal configuration is required")
	}
	if c.Journal.Enabled {
		if c.Journal.Path == "" {
			return fmt.Errorf("journal path cannot be empty")
		}
		if c.Journal.Timeout <= 0 {
			return fmt.Errorf("journal timeout must be positive")
		}
	}

	if c.DebugServer == nil {
		return fmt.Errorf("debug server configuration is required")
	}
	if c.DebugServer.Enabled {
		if c.DebugServer.Port <= 0 || c.DebugServer.Port > 65535 {
			return fmt.Errorf("debug server port must be between 1 and 65535")
		}
		if c.DebugServer.Host == "" {
			return fmt.Errorf("debug server host cannot be empty")
		}
		if c.DebugServer.ReadTimeout <= 0 || c.DebugServer.WriteTimeout <= 0 {
			return fmt.Errorf("debug server timeouts must be positive")
		}
	}

	if c.Logging == nil {
		return fmt.Errorf("logging configuration is required")
	}
	if c.Logging.Encoding != "json" && c.Logging.Encoding != "console" {
		return fmt.Errorf("logging encoding must be json or console, got %q", c.Logging.Encoding)
	}
	return nil
}

// LoadFromEnv overlays SESSIONLINK_* variables on the defaults.
// Unparseable values are ignored and the default stays.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	conn := config.Connection
	envInt("CONNECTION_MAX_RECONNECT_ATTEMPTS", &conn.MaxReconnectAttempts)
	envDuration("CONNECTION_RECONNECT_INTERVAL", &conn.ReconnectInterval)
	envDuration("CONNECTION_RECONNECT_CAP", &conn.ReconnectCap)
	envDuration("CONNECTION_HEARTBEAT_INTERVAL", &conn.HeartbeatInterval)
	envDuration("CONNECTION_TIMEOUT", &conn.ConnectionTimeout)
	envDuration("CONNECTION_LIVENESS_CHECK_INTERVAL", &conn.LivenessCheckInterval)
	envDuration("CONNECTION_DIAL_TIMEOUT", &conn.DialTimeout)
	envDuration("CONNECTION_WRITE_TIMEOUT", &conn.WriteTimeout)
	envInt("CONNECTION_SEND_BUFFER", &conn.SendBuffer)
	envDuration("CONNECTION_REDIRECT_DELAY", &conn.RedirectDelay)
	envDuration("CONNECTION_CONNECTED_DISMISS", &conn.ConnectedDismiss)
	envBool("CONNECTION_RESYNC_ON_RECONNECT", &conn.ResyncOnReconnect)
	envInt("CONNECTION_MAX_MALFORMED_FRAMES", &conn.MaxMalformedFrames)
	envDuration("CONNECTION_MALFORMED_WINDOW", &conn.MalformedWindow)
	envBool("CONNECTION_DEBUG", &conn.Debug)

	ep := config.Endpoint
	envString("SESSION_CODE", &ep.SessionCode)
	envString("ENDPOINT_URL", &ep.URL)
	envString("ENDPOINT_PAGE_URL", &ep.PageURL)
	envString("ENDPOINT_HOST", &ep.Host)
	envBool("ENDPOINT_SECURE", &ep.Secure)

	envBool("STATUS_ENABLED", &config.Status.Enabled)
	envBool("STATUS_NO_COLOR", &config.Status.NoColor)

	envBool("JOURNAL_ENABLED", &config.Journal.Enabled)
	envString("JOURNAL_PATH", &config.Journal.Path)
	envDuration("JOURNAL_TIMEOUT", &config.Journal.Timeout)

	ds := config.DebugServer
	envBool("DEBUG_SERVER_ENABLED", &ds.Enabled)
	envString("DEBUG_SERVER_HOST", &ds.Host)
	envInt("DEBUG_SERVER_PORT", &ds.Port)
	envDuration("DEBUG_SERVER_READ_TIMEOUT", &ds.ReadTimeout)
	envDuration("DEBUG_SERVER_WRITE_TIMEOUT", &ds.WriteTimeout)

	envBool("LOG_DEBUG", &config.Logging.Debug)
	envString("LOG_ENCODING", &config.Logging.Encoding)
}

func envString(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// ConfigFile represents the file structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for parsing to handle duration strings.
// Pointers distinguish "absent" from an explicit false or zero.
type ConfigFile struct {
	Connection  *ConnectionConfigFile  `json:"connection" yaml:"connection"`
	Endpoint    *EndpointConfigFile    `json:"endpoint" yaml:"endpoint"`
	Status      *StatusConfigFile      `json:"status" yaml:"status"`
	Journal     *JournalConfigFile     `json:"journal" yaml:"journal"`
	DebugServer *DebugServerConfigFile `json:"debug_server" yaml:"debug_server"`
	Logging     *LoggingConfigFile     `json:"logging" yaml:"logging"`
}

type ConnectionConfigFile struct {
	MaxReconnectAttempts  int    `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReconnectInterval     string `json:"reconnect_interval" yaml:"reconnect_interval"`
	ReconnectCap          string `json:"reconnect_cap" yaml:"reconnect_cap"`
	HeartbeatInterval     string `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	ConnectionTimeout     string `json:"connection_timeout" yaml:"connection_timeout"`
	LivenessCheckInterval string `json:"liveness_check_interval" yaml:"liveness_check_interval"`
	DialTimeout           string `json:"dial_timeout" yaml:"dial_timeout"`
	WriteTimeout          string `json:"write_timeout" yaml:"write_timeout"`
	SendBuffer            int    `json:"send_buffer" yaml:"send_buffer"`
	RedirectDelay         string `json:"redirect_delay" yaml:"redirect_delay"`
	ConnectedDismiss      string `json:"connected_dismiss" yaml:"connected_dismiss"`
	ResyncOnReconnect     *bool  `json:"resync_on_reconnect" yaml:"resync_on_reconnect"`
	MaxMalformedFrames    *int   `json:"max_malformed_frames" yaml:"max_malformed_frames"`
	MalformedWindow       string `json:"malformed_window" yaml:"malformed_window"`
	Debug                 *bool  `json:"debug" yaml:"debug"`
}

type EndpointConfigFile struct {
	SessionCode string `json:"session_code" yaml:"session_code"`
	URL         string `json:"url" yaml:"url"`
	PageURL     string `json:"page_url" yaml:"page_url"`
	Host        string `json:"host" yaml:"host"`
	Secure      *bool  `json:"secure" yaml:"secure"`
}

type StatusConfigFile struct {
	Enabled *bool `json:"enabled" yaml:"enabled"`
	NoColor *bool `json:"no_color" yaml:"no_color"`
}

type JournalConfigFile struct {
	Enabled *bool  `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
	Timeout string `json:"timeout" yaml:"timeout"`
}

type DebugServerConfigFile struct {
	Enabled      *bool  `json:"enabled" yaml:"enabled"`
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
}

type LoggingConfigFile struct {
	Debug    *bool  `json:"debug" yaml:"debug"`
	Encoding string `json:"encoding" yaml:"encoding"`
}

// LoadFromFile reads a JSON or YAML (.yaml, .yml) file over the defaults
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// LoadConfigWithPrecedence resolves file > environment > defaults. An empty
// path skips the file layer.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()
	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := file.apply(config); err != nil {
		return fmt.Errorf("invalid value in %s: %w", path, err)
	}
	return nil
}

func (f *ConfigFile) apply(config *Config) error {
	if c := f.Connection; c != nil {
		conn := config.Connection
		if c.MaxReconnectAttempts > 0 {
			conn.MaxReconnectAttempts = c.MaxReconnectAttempts
		}
		if c.SendBuffer > 0 {
			conn.SendBuffer = c.SendBuffer
		}
		if c.ResyncOnReconnect != nil {
			conn.ResyncOnReconnect = *c.ResyncOnReconnect
		}
		if c.MaxMalformedFrames != nil {
			conn.MaxMalformedFrames = *c.MaxMalformedFrames
		}
		if c.Debug != nil {
			conn.Debug = *c.Debug
		}
		durations := []struct {
			name  string
			value string
			dst   *time.Duration
		}{
			{"reconnect_interval", c.ReconnectInterval, &conn.ReconnectInterval},
			{"reconnect_cap", c.ReconnectCap, &conn.ReconnectCap},
			{"heartbeat_interval", c.HeartbeatInterval, &conn.HeartbeatInterval},
			{"connection_timeout", c.ConnectionTimeout, &conn.ConnectionTimeout},
			{"liveness_check_interval", c.LivenessCheckInterval, &conn.LivenessCheckInterval},
			{"dial_timeout", c.DialTimeout, &conn.DialTimeout},
			{"write_timeout", c.WriteTimeout, &conn.WriteTimeout},
			{"redirect_delay", c.RedirectDelay, &conn.RedirectDelay},
			{"connected_dismiss", c.ConnectedDismiss, &conn.ConnectedDismiss},
			{"malformed_window", c.MalformedWindow, &conn.MalformedWindow},
		}
		for _, d := range durations {
			if err := parseDuration(d.name, d.value, d.dst); err != nil {
				return err
			}
		}
	}

	if e := f.Endpoint; e != nil {
		ep := config.Endpoint
		if e.SessionCode != "" {
			ep.SessionCode = e.SessionCode
		}
		if e.URL != "" {
			ep.URL = e.URL
		}
		if e.PageURL != "" {
			ep.PageURL = e.PageURL
		}
		if e.Host != "" {
			ep.Host = e.Host
		}
		if e.Secure != nil {
			ep.Secure = *e.Secure
		}
	}

	if s := f.Status; s != nil {
		if s.Enabled != nil {
			config.Status.Enabled = *s.Enabled
		}
		if s.NoColor != nil {
			config.Status.NoColor = *s.NoColor
		}
	}

	if j := f.Journal; j != nil {
		if j.Enabled != nil {
			config.Journal.Enabled = *j.Enabled
		}
		if j.Path != "" {
			config.Journal.Path = j.Path
		}
		if err := parseDuration("journal timeout", j.Timeout, &config.Journal.Timeout); err != nil {
			return err
		}
	}

	if d := f.DebugServer; d != nil {
		ds := config.DebugServer
		if d.Enabled != nil {
			ds.Enabled = *d.Enabled
		}
		if d.Host != "" {
			ds.Host = d.Host
		}
		if d.Port > 0 {
			ds.Port = d.Port
		}
		if err := parseDuration("debug server read_timeout", d.ReadTimeout, &ds.ReadTimeout); err != nil {
			return err
		}
		if err := parseDuration("debug server write_timeout", d.WriteTimeout, &ds.WriteTimeout); err != nil {
			return err
		}
	}

	if l := f.Logging; l != nil {
		if l.Debug != nil {
			config.Logging.Debug = *l.Debug
		}
		if l.Encoding != "" {
			config.Logging.Encoding = l.Encoding
		}
	}
	return nil
}

func parseDuration(name, value string, dst *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
