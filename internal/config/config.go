package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/vango-dev/tether/internal/errors"
	"github.com/vango-dev/tether/pkg/server"
)

const (
	// DefaultPort is the default listen port.
	DefaultPort = 8080

	// DefaultHost is the default listen host.
	DefaultHost = "localhost"

	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = "10s"

	// DefaultWebSocketPath is where clients connect.
	DefaultWebSocketPath = "/ws"

	// DefaultMetricsPath is where Prometheus metrics are served.
	DefaultMetricsPath = "/metrics"
)

// FileNames are the configuration file names, in lookup order.
var FileNames = []string{"tether.json", "tether.yaml", "tether.yml"}

// Config represents a tether project configuration file.
type Config struct {
	// Name is the project name.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Host is the host to bind to.
	Host string `json:"host,omitempty" yaml:"host,omitempty" env:"TETHER_HOST" validate:"omitempty,hostname|ip"`

	// Port is the port to listen on. 0 picks a free port.
	Port int `json:"port,omitempty" yaml:"port,omitempty" env:"TETHER_PORT" validate:"gte=0,lte=65535"`

	// Debug enables debug logging and the /state endpoint.
	Debug bool `json:"debug,omitempty" yaml:"debug,omitempty" env:"TETHER_DEBUG"`

	// ClientType selects the client runtime ("vue2" or "vue3").
	ClientType string `json:"clientType,omitempty" yaml:"clientType,omitempty" env:"TETHER_CLIENT_TYPE" validate:"oneof=vue2 vue3"`

	// ShutdownTimeout bounds graceful shutdown (e.g. "10s").
	ShutdownTimeout string `json:"shutdownTimeout,omitempty" yaml:"shutdownTimeout,omitempty" env:"TETHER_SHUTDOWN_TIMEOUT" validate:"duration"`

	// MaxFlushCascade bounds change listener follow-up flushes.
	MaxFlushCascade int `json:"maxFlushCascade,omitempty" yaml:"maxFlushCascade,omitempty" env:"TETHER_MAX_FLUSH_CASCADE" validate:"gte=0"`

	// StrictTriggers rejects duplicate trigger names.
	StrictTriggers bool `json:"strictTriggers,omitempty" yaml:"strictTriggers,omitempty" env:"TETHER_STRICT_TRIGGERS"`

	// WebSocket configures the websocket link.
	WebSocket WebSocketConfig `json:"websocket,omitempty" yaml:"websocket,omitempty"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// WebSocketConfig configures the websocket link.
type WebSocketConfig struct {
	// Path is the route clients connect to.
	Path string `json:"path,omitempty" yaml:"path,omitempty" env:"TETHER_WS_PATH" validate:"startswith=/"`

	// MaxMessageSize bounds inbound frames in bytes.
	MaxMessageSize int64 `json:"maxMessageSize,omitempty" yaml:"maxMessageSize,omitempty" env:"TETHER_WS_MAX_MESSAGE_SIZE" validate:"gte=0"`

	// SendBuffer is the per-client outbound queue length.
	SendBuffer int `json:"sendBuffer,omitempty" yaml:"sendBuffer,omitempty" env:"TETHER_WS_SEND_BUFFER" validate:"gte=0"`

	// AllowedOrigins lists accepted Origin hosts. Empty means same origin.
	AllowedOrigins []string `json:"allowedOrigins,omitempty" yaml:"allowedOrigins,omitempty" env:"TETHER_WS_ALLOWED_ORIGINS" envSeparator:","`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled serves metrics on Path.
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty" env:"TETHER_METRICS"`

	// Path is the metrics route.
	Path string `json:"path,omitempty" yaml:"path,omitempty" validate:"startswith=/"`

	// Namespace prefixes metric names.
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// validate is shared; validator caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d >= 0
	})
	return v
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		ClientType:      server.ClientVue3,
		ShutdownTimeout: DefaultShutdownTimeout,
		WebSocket: WebSocketConfig{
			Path: DefaultWebSocketPath,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
	}
}

// Load reads the first configuration file found in dir.
func Load(dir string) (*Config, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, errors.New(errors.CodeConfigNotFound).
		WithDetail("No tether.json or tether.yaml found in " + dir).
		WithSuggestion("Run 'tether config init' to create one")
}

// LoadFile reads configuration from path. The format follows the extension:
// .yaml and .yml are YAML, anything else is JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeConfigNotFound).
				WithDetail("No configuration file at " + path)
		}
		return nil, errors.New(errors.CodeConfigParse).Wrap(err)
	}

	cfg := New()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.New(errors.CodeConfigParse).
			WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error()).
			WithSuggestion("Check that " + filepath.Base(path) + " is valid")
	}

	cfg.configPath = path
	cfg.applyDefaults()
	return cfg, nil
}

// Resolve loads the configuration in dir (defaults when there is none),
// applies environment overrides and validates the result.
func Resolve(dir string) (*Config, error) {
	cfg, err := Load(dir)
	if err != nil {
		var te *errors.TetherError
		if !stderrors.As(err, &te) || te.Code != errors.CodeConfigNotFound {
			return nil, err
		}
		cfg = New()
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from TETHER_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return errors.New(errors.CodeConfigParse).
			WithDetail("environment: " + err.Error()).
			Wrap(err)
	}
	c.applyDefaults()
	return nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to path, as YAML or JSON by extension.
func (c *Config) SaveTo(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return errors.New(errors.CodeConfigParse).Wrap(err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New(errors.CodeConfigParse).Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.ClientType == "" {
		c.ClientType = server.ClientVue3
	}
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.WebSocket.Path == "" {
		c.WebSocket.Path = DefaultWebSocketPath
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.New(errors.CodeInvalidConfig).Wrap(err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	suggestion := "Check the TETHER_* environment variables"
	if c.configPath != "" {
		suggestion = "Check " + filepath.Base(c.configPath) + " and the TETHER_* environment variables"
	}
	return errors.New(errors.CodeInvalidConfig).
		WithDetail(strings.Join(msgs, "; ")).
		WithSuggestion(suggestion)
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "gte", "lte":
		if fe.Field() == "Port" {
			return "Port must be between 0 and 65535"
		}
		return fmt.Sprintf("%s must not be negative", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "duration":
		return fmt.Sprintf("%s must be a duration such as 10s, got %q", field, fe.Value())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, fe.Param())
	case "hostname|ip":
		return fmt.Sprintf("%s must be a hostname or IP address, got %q", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// ServerConfig converts the file configuration into the engine's.
func (c *Config) ServerConfig() (*server.Config, error) {
	timeout, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidConfig).
			WithDetail("shutdownTimeout: " + err.Error())
	}
	sc := &server.Config{
		Host:            c.Host,
		Port:            c.Port,
		Debug:           c.Debug,
		ClientType:      c.ClientType,
		ShutdownTimeout: timeout,
		MaxFlushCascade: c.MaxFlushCascade,
		StrictTriggers:  c.StrictTriggers,
	}
	if err := sc.Validate(); err != nil {
		return nil, errors.New(errors.CodeInvalidConfig).Wrap(err)
	}
	return sc, nil
}

// Address returns the listen address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	for _, name := range FileNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// FindProjectRoot walks up directories to find the project root.
// Returns the directory containing a tether config file, or an error if
// not found.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New(errors.CodeConfigNotFound).
				WithDetail("No tether config found in " + startDir + " or any parent directory").
				WithSuggestion("Run 'tether config init' to create one")
		}
		dir = parent
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
