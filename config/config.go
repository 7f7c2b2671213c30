package config

import (
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/origin-balancer/internal/backend"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	DispatchRedirect = "redirect"
	DispatchForward  = "forward"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
	// ControlAddress serves registration on its own listener. Empty shares
	// the client listener.
	ControlAddress string `mapstructure:"control_address"`
}

type TransportConfig struct {
	Address               string        `mapstructure:"address"`
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout"`
	BufferSize            int           `mapstructure:"buffer_size"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout"`
	RetryOnConnectFailure bool          `mapstructure:"retry_on_connect_failure"`
	ProbeBeforeConnect    bool          `mapstructure:"probe_before_connect"`
}

type RegistrationConfig struct {
	Address     string        `mapstructure:"address"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// RateLimit caps registrations per second in both modes. Zero disables
	// the limit.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

type DispatchConfig struct {
	Mode string `mapstructure:"mode"`
}

type HealthCheckConfig struct {
	Path             string        `mapstructure:"path"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Interval         time.Duration `mapstructure:"interval"`
	Background       bool          `mapstructure:"background"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	Evict            bool          `mapstructure:"evict"`
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Transport    TransportConfig    `mapstructure:"transport"`
	Registration RegistrationConfig `mapstructure:"registration"`
	Dispatch     DispatchConfig     `mapstructure:"dispatch"`
	HealthCheck  HealthCheckConfig  `mapstructure:"health_check"`
	Backends     []string           `mapstructure:"backends"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// NewViper returns a viper instance carrying every default and reading
// environment variables (server.address -> SERVER_ADDRESS). Callers may bind
// command line flags to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.control_address", "")

	v.SetDefault("transport.address", ":8080")
	v.SetDefault("transport.connect_timeout", "5s")
	v.SetDefault("transport.buffer_size", 32*1024)
	v.SetDefault("transport.idle_timeout", "0s")
	v.SetDefault("transport.retry_on_connect_failure", false)
	v.SetDefault("transport.probe_before_connect", false)

	v.SetDefault("registration.address", ":9090")
	v.SetDefault("registration.read_timeout", "500ms")
	v.SetDefault("registration.rate_limit", 0)
	v.SetDefault("registration.burst", 1)

	v.SetDefault("dispatch.mode", DispatchRedirect)

	v.SetDefault("health_check.path", "/healthCheck")
	v.SetDefault("health_check.timeout", "5s")
	v.SetDefault("health_check.interval", "10s")
	v.SetDefault("health_check.background", false)
	v.SetDefault("health_check.failure_threshold", 0)
	v.SetDefault("health_check.reset_timeout", "30s")
	v.SetDefault("health_check.evict", false)

	v.SetDefault("backends", []string{})
	v.SetDefault("metrics.buffer_size", 1000)
	v.SetDefault("logging.level", LogLevelInfo)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return v
}

// Load reads file, or config.yaml from ./config or the working directory
// when file is empty, on top of v and validates the result. A missing
// config.yaml is not an error; a missing explicit file is.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Debug("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Transport),
		validation.Field(&c.Registration),
		validation.Field(&c.Dispatch),
		validation.Field(&c.HealthCheck),
		validation.Field(&c.Backends,
			validation.Each(validation.By(validateBackend)),
		),
		validation.Field(&c.Metrics),
		validation.Field(&c.Logging),
	)
}

func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Environment,
			validation.Required,
			validation.In(EnvDev, EnvStaging, EnvProd),
		),
		validation.Field(&s.Address,
			validation.Required,
			validation.By(validateHostPort),
		),
		validation.Field(&s.ControlAddress,
			validation.By(validateHostPort),
		),
	)
}

func (t TransportConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Address,
			validation.Required,
			validation.By(validateHostPort),
		),
		validation.Field(&t.ConnectTimeout,
			validation.Required,
			validation.Min(time.Millisecond),
		),
		validation.Field(&t.BufferSize,
			validation.Required,
			validation.Min(512),
			validation.Max(1<<20),
		),
		validation.Field(&t.IdleTimeout,
			validation.Min(time.Duration(0)),
		),
	)
}

func (r RegistrationConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Address,
			validation.Required,
			validation.By(validateHostPort),
		),
		validation.Field(&r.ReadTimeout,
			validation.Min(time.Duration(0)),
		),
		validation.Field(&r.RateLimit,
			validation.Min(0.0),
		),
		validation.Field(&r.Burst,
			validation.When(r.RateLimit > 0, validation.Required, validation.Min(1)),
		),
	)
}

func (d DispatchConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Mode,
			validation.Required,
			validation.In(DispatchRedirect, DispatchForward),
		),
	)
}

func (h HealthCheckConfig) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.Path,
			validation.Required,
			validation.By(func(value interface{}) error {
				if p, _ := value.(string); !strings.HasPrefix(p, "/") {
					return validation.NewError("validation_invalid_path", "must start with /")
				}
				return nil
			}),
		),
		validation.Field(&h.Timeout,
			validation.Required,
			validation.Min(time.Millisecond),
		),
		validation.Field(&h.Interval,
			validation.When(h.Background, validation.Required, validation.Min(time.Millisecond)),
		),
		validation.Field(&h.FailureThreshold,
			validation.Min(0),
			validation.When(h.Evict, validation.Required.Error("is required when evict is enabled")),
		),
		validation.Field(&h.ResetTimeout,
			validation.Min(time.Duration(0)),
		),
	)
}

func (m MetricsConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.BufferSize,
			validation.Required,
			validation.Min(1),
		),
	)
}

func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level,
			validation.Required,
			validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if addr == "" {
		return nil
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if err := is.Port.Validate(port); err != nil && port != "0" {
		return validation.NewError("validation_invalid_port", "invalid port")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateBackend(value interface{}) error {
	raw, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := backend.Parse(raw); err != nil {
		return validation.NewError("validation_invalid_backend", err.Error())
	}

	return nil
}
