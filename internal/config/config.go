package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// History backends
const (
	HistoryBadger = "badger"
	HistorySQLite = "sqlite"
	HistoryMemory = "memory"
)

// Limiter backends
const (
	LimiterLocal = "local"
	LimiterHTTP  = "http"
	LimiterRedis = "redis"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	History   *HistoryConfig   `json:"history"`
	Limiter   *LimiterConfig   `json:"limiter"`
	Log       *LogConfig       `json:"log"`
}

// HTTPConfig is the public listener. TrustProxyHeaders takes the client
// address from CF-Connecting-IP or X-Forwarded-For, set it only behind a
// proxy that overwrites those headers.
type HTTPConfig struct {
	Port              int           `json:"port"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	Host              string        `json:"host"`
	TrustProxyHeaders bool          `json:"trust_proxy_headers"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	SendBuffer   int           `json:"send_buffer"`
}

// HistoryConfig selects where chat records are kept. Path is a directory for
// badger, a file for sqlite and ignored for memory.
type HistoryConfig struct {
	Backend    string        `json:"backend"`
	Path       string        `json:"path"`
	GCInterval time.Duration `json:"gc_interval"`
}

// FUNCTIONAL DISCOVERY: Limiter actors can live in this process, behind another
// roomchat process reached over HTTP, or in Redis shared by several processes
// ServeEndpoint publishes the local actors on /api/limiter/{id} for processes
// using the http backend. Anyone reaching the listener can then spend any
// identity's budget.
type LimiterConfig struct {
	Backend        string        `json:"backend"`
	ServeEndpoint  bool          `json:"serve_endpoint"`
	URL            string        `json:"url"`
	RedisAddr      string        `json:"redis_addr"`
	RedisPassword  string        `json:"redis_password"`
	RedisDB        int           `json:"redis_db"`
	RedisPrefix    string        `json:"redis_prefix"`
	Interval       time.Duration `json:"interval"`
	Grace          time.Duration `json:"grace"`
	RequestTimeout time.Duration `json:"request_timeout"`
	SweepInterval  time.Duration `json:"sweep_interval"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns a single process deployment with history on local disk.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
			SendBuffer:   100,
		},
		History: &HistoryConfig{
			Backend:    HistoryBadger,
			Path:       "./data/history",
			GCInterval: 10 * time.Minute,
		},
		Limiter: &LimiterConfig{
			Backend:        LimiterLocal,
			RedisPrefix:    "roomchat:limiter:",
			Interval:       5 * time.Second,
			Grace:          20 * time.Second,
			RequestTimeout: 10 * time.Second,
			SweepInterval:  time.Minute,
		},
		Log: &LogConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	// port 0 binds an ephemeral port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("WebSocket send buffer must be positive")
	}

	if c.History == nil {
		return fmt.Errorf("history configuration is required")
	}
	switch c.History.Backend {
	case HistoryBadger, HistorySQLite:
		if c.History.Path == "" {
			return fmt.Errorf("history path cannot be empty for the %s backend", c.History.Backend)
		}
	case HistoryMemory:
	default:
		return fmt.Errorf("unknown history backend %q", c.History.Backend)
	}
	if c.History.GCInterval < 0 {
		return fmt.Errorf("history GC interval cannot be negative")
	}

	if c.Limiter == nil {
		return fmt.Errorf("limiter configuration is required")
	}
	switch c.Limiter.Backend {
	case LimiterLocal:
	case LimiterHTTP:
		if c.Limiter.URL == "" {
			return fmt.Errorf("limiter URL is required for the http backend")
		}
	case LimiterRedis:
		if c.Limiter.RedisAddr == "" {
			return fmt.Errorf("limiter redis address is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown limiter backend %q", c.Limiter.Backend)
	}
	if c.Limiter.ServeEndpoint && c.Limiter.Backend != LimiterLocal {
		return fmt.Errorf("limiter endpoint can only be served by the local backend")
	}
	if c.Limiter.Interval <= 0 {
		return fmt.Errorf("limiter interval must be positive")
	}
	if c.Limiter.Grace < 0 {
		return fmt.Errorf("limiter grace cannot be negative")
	}
	if c.Limiter.RequestTimeout <= 0 {
		return fmt.Errorf("limiter request timeout must be positive")
	}
	if c.Limiter.SweepInterval <= 0 {
		return fmt.Errorf("limiter sweep interval must be positive")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	return nil
}

// environment lists every variable that can override a default. Unset
// variables leave their pointer nil.
type environment struct {
	HTTPPort         *int           `env:"ROOMCHAT_HTTP_PORT"`
	HTTPHost         *string        `env:"ROOMCHAT_HTTP_HOST"`
	HTTPReadTimeout  *time.Duration `env:"ROOMCHAT_HTTP_READ_TIMEOUT"`
	HTTPWriteTimeout *time.Duration `env:"ROOMCHAT_HTTP_WRITE_TIMEOUT"`
	HTTPTrustProxy   *bool          `env:"ROOMCHAT_HTTP_TRUST_PROXY_HEADERS"`

	WSPingInterval *time.Duration `env:"ROOMCHAT_WEBSOCKET_PING_INTERVAL"`
	WSReadTimeout  *time.Duration `env:"ROOMCHAT_WEBSOCKET_READ_TIMEOUT"`
	WSWriteTimeout *time.Duration `env:"ROOMCHAT_WEBSOCKET_WRITE_TIMEOUT"`
	WSSendBuffer   *int           `env:"ROOMCHAT_WEBSOCKET_SEND_BUFFER"`

	HistoryBackend    *string        `env:"ROOMCHAT_HISTORY_BACKEND"`
	HistoryPath       *string        `env:"ROOMCHAT_HISTORY_PATH"`
	HistoryGCInterval *time.Duration `env:"ROOMCHAT_HISTORY_GC_INTERVAL"`

	LimiterBackend        *string        `env:"ROOMCHAT_LIMITER_BACKEND"`
	LimiterServeEndpoint  *bool          `env:"ROOMCHAT_LIMITER_SERVE_ENDPOINT"`
	LimiterURL            *string        `env:"ROOMCHAT_LIMITER_URL"`
	LimiterRedisAddr      *string        `env:"ROOMCHAT_LIMITER_REDIS_ADDR"`
	LimiterRedisPassword  *string        `env:"ROOMCHAT_LIMITER_REDIS_PASSWORD"`
	LimiterRedisDB        *int           `env:"ROOMCHAT_LIMITER_REDIS_DB"`
	LimiterRedisPrefix    *string        `env:"ROOMCHAT_LIMITER_REDIS_PREFIX"`
	LimiterInterval       *time.Duration `env:"ROOMCHAT_LIMITER_INTERVAL"`
	LimiterGrace          *time.Duration `env:"ROOMCHAT_LIMITER_GRACE"`
	LimiterRequestTimeout *time.Duration `env:"ROOMCHAT_LIMITER_REQUEST_TIMEOUT"`
	LimiterSweepInterval  *time.Duration `env:"ROOMCHAT_LIMITER_SWEEP_INTERVAL"`

	LogLevel  *string `env:"ROOMCHAT_LOG_LEVEL"`
	LogFormat *string `env:"ROOMCHAT_LOG_FORMAT"`
}

func setIfPresent[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// A .env file in the working directory is loaded first when present; variables
// already set in the process environment win over it
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	var e environment
	if _, err := env.UnmarshalFromEnviron(&e); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	config := DefaultConfig()
	setIfPresent(&config.HTTP.Port, e.HTTPPort)
	setIfPresent(&config.HTTP.Host, e.HTTPHost)
	setIfPresent(&config.HTTP.ReadTimeout, e.HTTPReadTimeout)
	setIfPresent(&config.HTTP.WriteTimeout, e.HTTPWriteTimeout)
	setIfPresent(&config.HTTP.TrustProxyHeaders, e.HTTPTrustProxy)

	setIfPresent(&config.WebSocket.PingInterval, e.WSPingInterval)
	setIfPresent(&config.WebSocket.ReadTimeout, e.WSReadTimeout)
	setIfPresent(&config.WebSocket.WriteTimeout, e.WSWriteTimeout)
	setIfPresent(&config.WebSocket.SendBuffer, e.WSSendBuffer)

	setIfPresent(&config.History.Backend, e.HistoryBackend)
	setIfPresent(&config.History.Path, e.HistoryPath)
	setIfPresent(&config.History.GCInterval, e.HistoryGCInterval)

	setIfPresent(&config.Limiter.Backend, e.LimiterBackend)
	setIfPresent(&config.Limiter.ServeEndpoint, e.LimiterServeEndpoint)
	setIfPresent(&config.Limiter.URL, e.LimiterURL)
	setIfPresent(&config.Limiter.RedisAddr, e.LimiterRedisAddr)
	setIfPresent(&config.Limiter.RedisPassword, e.LimiterRedisPassword)
	setIfPresent(&config.Limiter.RedisDB, e.LimiterRedisDB)
	setIfPresent(&config.Limiter.RedisPrefix, e.LimiterRedisPrefix)
	setIfPresent(&config.Limiter.Interval, e.LimiterInterval)
	setIfPresent(&config.Limiter.Grace, e.LimiterGrace)
	setIfPresent(&config.Limiter.RequestTimeout, e.LimiterRequestTimeout)
	setIfPresent(&config.Limiter.SweepInterval, e.LimiterSweepInterval)

	setIfPresent(&config.Log.Level, e.LogLevel)
	setIfPresent(&config.Log.Format, e.LogFormat)

	return config, nil
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	History   *HistoryConfigFile   `json:"history"`
	Limiter   *LimiterConfigFile   `json:"limiter"`
	Log       *LogConfig           `json:"log"`
}

type HTTPConfigFile struct {
	Port              int    `json:"port"`
	ReadTimeout       string `json:"read_timeout"`
	WriteTimeout      string `json:"write_timeout"`
	Host              string `json:"host"`
	TrustProxyHeaders *bool  `json:"trust_proxy_headers"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	SendBuffer   int    `json:"send_buffer"`
}

type HistoryConfigFile struct {
	Backend    string `json:"backend"`
	Path       string `json:"path"`
	GCInterval string `json:"gc_interval"`
}

type LimiterConfigFile struct {
	Backend        string `json:"backend"`
	ServeEndpoint  *bool  `json:"serve_endpoint"`
	URL            string `json:"url"`
	RedisAddr      string `json:"redis_addr"`
	RedisPassword  string `json:"redis_password"`
	RedisDB        int    `json:"redis_db"`
	RedisPrefix    string `json:"redis_prefix"`
	Interval       string `json:"interval"`
	Grace          string `json:"grace"`
	RequestTimeout string `json:"request_timeout"`
	SweepInterval  string `json:"sweep_interval"`
}

// fileOverlay applies the non-empty values of a config file
type fileOverlay struct {
	err error
}

func (o *fileOverlay) duration(dst *time.Duration, field, value string) {
	if value == "" || o.err != nil {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		o.err = fmt.Errorf("invalid %s %q: %w", field, value, err)
		return
	}
	*dst = d
}

func str(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func positive(dst *int, value int) {
	if value > 0 {
		*dst = value
	}
}

// apply layers the file over config and reports the first malformed duration
func (f *ConfigFile) apply(config *Config) error {
	o := &fileOverlay{}

	if f.HTTP != nil {
		positive(&config.HTTP.Port, f.HTTP.Port)
		str(&config.HTTP.Host, f.HTTP.Host)
		o.duration(&config.HTTP.ReadTimeout, "http.read_timeout", f.HTTP.ReadTimeout)
		o.duration(&config.HTTP.WriteTimeout, "http.write_timeout", f.HTTP.WriteTimeout)
		setIfPresent(&config.HTTP.TrustProxyHeaders, f.HTTP.TrustProxyHeaders)
	}

	if f.WebSocket != nil {
		positive(&config.WebSocket.SendBuffer, f.WebSocket.SendBuffer)
		o.duration(&config.WebSocket.PingInterval, "websocket.ping_interval", f.WebSocket.PingInterval)
		o.duration(&config.WebSocket.ReadTimeout, "websocket.read_timeout", f.WebSocket.ReadTimeout)
		o.duration(&config.WebSocket.WriteTimeout, "websocket.write_timeout", f.WebSocket.WriteTimeout)
	}

	if f.History != nil {
		str(&config.History.Backend, f.History.Backend)
		str(&config.History.Path, f.History.Path)
		o.duration(&config.History.GCInterval, "history.gc_interval", f.History.GCInterval)
	}

	if f.Limiter != nil {
		str(&config.Limiter.Backend, f.Limiter.Backend)
		setIfPresent(&config.Limiter.ServeEndpoint, f.Limiter.ServeEndpoint)
		str(&config.Limiter.URL, f.Limiter.URL)
		str(&config.Limiter.RedisAddr, f.Limiter.RedisAddr)
		str(&config.Limiter.RedisPassword, f.Limiter.RedisPassword)
		positive(&config.Limiter.RedisDB, f.Limiter.RedisDB)
		str(&config.Limiter.RedisPrefix, f.Limiter.RedisPrefix)
		o.duration(&config.Limiter.Interval, "limiter.interval", f.Limiter.Interval)
		o.duration(&config.Limiter.Grace, "limiter.grace", f.Limiter.Grace)
		o.duration(&config.Limiter.RequestTimeout, "limiter.request_timeout", f.Limiter.RequestTimeout)
		o.duration(&config.Limiter.SweepInterval, "limiter.sweep_interval", f.Limiter.SweepInterval)
	}

	if f.Log != nil {
		str(&config.Log.Level, f.Log.Level)
		str(&config.Log.Format, f.Log.Format)
	}

	return o.err
}

// LoadFromFile layers a JSON file over the defaults and validates the result.
func LoadFromFile(filepath string) (*Config, error) {
	return loadFile(DefaultConfig(), filepath)
}

func loadFile(base *Config, filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	if err := configFile.apply(base); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := base.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return base, nil
}

// LoadConfigWithPrecedence builds the runtime configuration: defaults, then
// environment, then the file at filepath when one is given.
// FUNCTIONAL DISCOVERY: A named file that cannot be read or parsed is an error
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}

	if filepath != "" {
		return loadFile(config, filepath)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
