// Package config holds the operator client configuration.
//
// Values are resolved in this order, later sources taking precedence:
// built-in defaults, a .env file in the working directory, TELEOP_*
// environment variables and finally command line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/stv0g/robot-teleop/control"
)

const (
	envPrefix = "TELEOP_"

	DefaultSignalingURL       = "ws://localhost:8080/connect"
	DefaultReconnectDelay     = time.Second
	DefaultMaxRenegotiations  = 10
	DefaultNegotiationTimeout = 30 * time.Second
	DefaultJoystick           = "/dev/input/js0"
	DefaultDiscoveryTimeout   = 5 * time.Second
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultRedisPrefix        = "teleop.telemetry"
)

type Config struct {
	SignalingURL string
	ClientID     string

	// Robot pins the target peer. Without it the first advertised peer is used.
	Robot string

	Discover         bool
	DiscoveryTimeout time.Duration

	ReconnectDelay     time.Duration
	MaxRenegotiations  int
	NegotiationTimeout time.Duration
	ICEServers         []string

	ControlRate       float64
	MaxThrottleScale  float64
	ThrottleScaleRate float64
	SteeringScaleRate float64
	TrimRate          float64
	Joystick          string

	HTTPAddr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	LogLevel  string
	LogFormat string
}

func Default() *Config {
	return &Config{
		SignalingURL:       DefaultSignalingURL,
		ClientID:           NewClientID(),
		DiscoveryTimeout:   DefaultDiscoveryTimeout,
		ReconnectDelay:     DefaultReconnectDelay,
		MaxRenegotiations:  DefaultMaxRenegotiations,
		NegotiationTimeout: DefaultNegotiationTimeout,
		ControlRate:        control.DefaultRate,
		MaxThrottleScale:   control.DefaultMaxThrottleScale,
		ThrottleScaleRate:  control.DefaultThrottleScaleRate,
		SteeringScaleRate:  control.DefaultSteeringScaleRate,
		TrimRate:           control.DefaultTrimRate,
		Joystick:           DefaultJoystick,
		RedisPrefix:        DefaultRedisPrefix,
		LogLevel:           DefaultLogLevel,
		LogFormat:          DefaultLogFormat,
	}
}

// NewClientID returns a random token identifying this client at the relay.
func NewClientID() string {
	return "id" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Load returns the defaults overridden by .env and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if err := cfg.LoadEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadEnv overrides fields from TELEOP_* variables.
func (c *Config) LoadEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.string("SIGNALING_URL", &c.SignalingURL)
	e.string("CLIENT_ID", &c.ClientID)
	e.string("ROBOT", &c.Robot)
	e.bool("DISCOVER", &c.Discover)
	e.duration("DISCOVERY_TIMEOUT", &c.DiscoveryTimeout)
	e.duration("RECONNECT_DELAY", &c.ReconnectDelay)
	e.int("MAX_RENEGOTIATIONS", &c.MaxRenegotiations)
	e.duration("NEGOTIATION_TIMEOUT", &c.NegotiationTimeout)
	e.list("ICE_SERVERS", &c.ICEServers)
	e.float("CONTROL_RATE", &c.ControlRate)
	e.float("MAX_THROTTLE_SCALE", &c.MaxThrottleScale)
	e.float("THROTTLE_SCALE_RATE", &c.ThrottleScaleRate)
	e.float("STEERING_SCALE_RATE", &c.SteeringScaleRate)
	e.float("TRIM_RATE", &c.TrimRate)
	e.string("JOYSTICK", &c.Joystick)
	e.string("HTTP_ADDR", &c.HTTPAddr)
	e.string("REDIS_ADDR", &c.RedisAddr)
	e.string("REDIS_PASSWORD", &c.RedisPassword)
	e.int("REDIS_DB", &c.RedisDB)
	e.string("REDIS_PREFIX", &c.RedisPrefix)
	e.string("LOG_LEVEL", &c.LogLevel)
	e.string("LOG_FORMAT", &c.LogFormat)

	return e.err
}

// BindFlags registers command line flags defaulting to the current values.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.SignalingURL, "url", c.SignalingURL, "Signaling relay URL")
	fs.StringVar(&c.ClientID, "id", c.ClientID, "Client ID announced to the relay")
	fs.StringVar(&c.Robot, "robot", c.Robot, "Peer ID of the robot to connect to")
	fs.BoolVar(&c.Discover, "discover", c.Discover, "Discover the signaling relay via mDNS")
	fs.DurationVar(&c.DiscoveryTimeout, "discovery-timeout", c.DiscoveryTimeout, "Timeout for relay discovery")
	fs.DurationVar(&c.ReconnectDelay, "reconnect-delay", c.ReconnectDelay, "Delay before reconnecting to the relay")
	fs.IntVar(&c.MaxRenegotiations, "max-renegotiations", c.MaxRenegotiations, "Consecutive renegotiations before giving up (0 = unlimited)")
	fs.DurationVar(&c.NegotiationTimeout, "negotiation-timeout", c.NegotiationTimeout, "Time to wait for an answer before renegotiating (0 = forever)")
	fs.StringSliceVar(&c.ICEServers, "ice-server", c.ICEServers, "STUN/TURN server URLs, host candidates only if empty")
	fs.Float64Var(&c.ControlRate, "control-rate", c.ControlRate, "Control frame rate in Hz")
	fs.Float64Var(&c.MaxThrottleScale, "max-throttle-scale", c.MaxThrottleScale, "Upper bound of the throttle scale")
	fs.Float64Var(&c.ThrottleScaleRate, "throttle-scale-rate", c.ThrottleScaleRate, "Throttle scale change per second")
	fs.Float64Var(&c.SteeringScaleRate, "steering-scale-rate", c.SteeringScaleRate, "Steering scale change per second")
	fs.Float64Var(&c.TrimRate, "trim-rate", c.TrimRate, "Steering trim change per second")
	fs.StringVar(&c.Joystick, "joystick", c.Joystick, "Joystick device (empty to disable)")
	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "Address for the status and metrics endpoint (empty to disable)")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "Redis address for telemetry fan-out (empty to disable)")
	fs.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database")
	fs.StringVar(&c.RedisPrefix, "redis-prefix", c.RedisPrefix, "Prefix of the Redis telemetry channels")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format (text or json)")
}

func (c *Config) Validate() error {
	if !c.Discover {
		u, err := url.Parse(c.SignalingURL)
		if err != nil {
			return fmt.Errorf("invalid signaling URL: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("invalid signaling URL scheme %q", u.Scheme)
		}
	}

	if c.ClientID == "" {
		return errors.New("client ID must not be empty")
	}
	if c.ControlRate <= 0 || c.ControlRate > 1000 {
		return fmt.Errorf("control rate %v Hz out of range (0, 1000]", c.ControlRate)
	}
	if c.MaxThrottleScale < 0 || c.MaxThrottleScale > 1 {
		return fmt.Errorf("max throttle scale %v out of range [0, 1]", c.MaxThrottleScale)
	}
	if c.ThrottleScaleRate < 0 || c.SteeringScaleRate < 0 || c.TrimRate < 0 {
		return errors.New("scale rates must not be negative")
	}
	if c.ReconnectDelay < 0 {
		return errors.New("reconnect delay must not be negative")
	}
	if c.MaxRenegotiations < 0 {
		return errors.New("max renegotiations must not be negative")
	}
	if c.NegotiationTimeout < 0 {
		return errors.New("negotiation timeout must not be negative")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unsupported log format %q", c.LogFormat)
	}

	return nil
}

// Control returns the encoder configuration.
func (c *Config) Control() control.Config {
	cfg := control.DefaultConfig()

	cfg.Interval = time.Duration(float64(time.Second) / c.ControlRate)
	cfg.MaxThrottleScale = c.MaxThrottleScale
	cfg.ThrottleScaleRate = c.ThrottleScaleRate
	cfg.SteeringScaleRate = c.SteeringScaleRate
	cfg.TrimRate = c.TrimRate

	return cfg
}

// SetupLogging configures the standard logrus logger.
func (c *Config) SetupLogging() error {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}

	logrus.SetLevel(lvl)

	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return nil
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(envPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
}

func (e *envReader) string(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		var l []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				l = append(l, s)
			}
		}
		*dst = l
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = i
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}
