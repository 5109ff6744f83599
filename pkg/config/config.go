package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/vulu-live/liveconn/pkg/logger"
)

var (
	ErrAppIDRequired    = errors.New("app_id must be set")
	ErrTokenServiceURL  = errors.New("credentials.service_url must be set when no static token service is used")
	ErrInvalidRetryconf = errors.New("recovery.max_retries must be at least 1")
)

type Config struct {
	// application id handed to the transport provider when creating an engine
	AppID string `yaml:"app_id,omitempty"`

	Credentials CredentialConfig `yaml:"credentials,omitempty"`
	Session     SessionConfig    `yaml:"session,omitempty"`
	Recovery    RecoveryConfig   `yaml:"recovery,omitempty"`
	Audio       AudioConfig      `yaml:"audio,omitempty"`
	Logging     LoggingConfig    `yaml:"logging,omitempty"`

	PrometheusPort uint32 `yaml:"prometheus_port,omitempty"`
	Development    bool   `yaml:"development,omitempty"`
}

type CredentialConfig struct {
	ServiceURL     string        `yaml:"service_url,omitempty"`
	APIKey         string        `yaml:"api_key,omitempty"`
	APISecret      string        `yaml:"api_secret,omitempty"`
	TokenTTL       time.Duration `yaml:"token_ttl,omitempty"`
	RenewalBuffer  time.Duration `yaml:"renewal_buffer,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
}

type SessionConfig struct {
	// how long to wait for the provider's join-success callback
	JoinTimeout time.Duration `yaml:"join_timeout,omitempty"`
	// retry budget for the provider's not-ready result code during warm-up
	NotReadyRetries  int           `yaml:"join_not_ready_retries,omitempty"`
	NotReadyInterval time.Duration `yaml:"join_not_ready_interval,omitempty"`
	EventBufferSize  int           `yaml:"event_buffer_size,omitempty"`
	MaxReconnects    int           `yaml:"max_reconnects,omitempty"`
}

type RecoveryConfig struct {
	MaxRetries          int           `yaml:"max_retries,omitempty"`
	AttemptsPerStrategy int           `yaml:"attempts_per_strategy,omitempty"`
	BaseDelay           time.Duration `yaml:"base_delay,omitempty"`
	Multiplier          float64       `yaml:"multiplier,omitempty"`
	MaxDelay            time.Duration `yaml:"max_delay,omitempty"`
	ReconnectPause      time.Duration `yaml:"reconnect_pause,omitempty"`

	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold,omitempty"`
	CircuitBreakerTimeout   time.Duration `yaml:"circuit_breaker_timeout,omitempty"`

	HistorySize int `yaml:"history_size,omitempty"`
}

type AudioConfig struct {
	// minimum reported level (0-100) for a participant to count as speaking
	SpeakingLevel uint8 `yaml:"speaking_level,omitempty"`
	// roster change notifications are debounced by this much
	RosterDebounce time.Duration `yaml:"roster_debounce,omitempty"`
}

type LoggingConfig struct {
	logger.Config `yaml:",inline"`
}

var DefaultConfig = Config{
	Credentials: CredentialConfig{
		TokenTTL:       time.Hour,
		RenewalBuffer:  5 * time.Minute,
		RequestTimeout: 10 * time.Second,
	},
	Session: SessionConfig{
		JoinTimeout:      15 * time.Second,
		NotReadyRetries:  3,
		NotReadyInterval: 200 * time.Millisecond,
		EventBufferSize:  256,
		MaxReconnects:    5,
	},
	Recovery: RecoveryConfig{
		MaxRetries:              5,
		AttemptsPerStrategy:     2,
		BaseDelay:               time.Second,
		Multiplier:              2,
		MaxDelay:                30 * time.Second,
		ReconnectPause:          500 * time.Millisecond,
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeout:   time.Minute,
		HistorySize:             50,
	},
	Audio: AudioConfig{
		SpeakingLevel:  40,
		RosterDebounce: 250 * time.Millisecond,
	},
}

func NewConfig(confString string, strictMode bool, c *cli.Context) (*Config, error) {
	// start with defaults
	marshalled, err := yaml.Marshal(&DefaultConfig)
	if err != nil {
		return nil, err
	}

	var conf Config
	if err = yaml.Unmarshal(marshalled, &conf); err != nil {
		return nil, err
	}

	if confString != "" {
		decoder := yaml.NewDecoder(strings.NewReader(confString))
		decoder.KnownFields(strictMode)
		if err := decoder.Decode(&conf); err != nil {
			return nil, fmt.Errorf("could not parse config: %v", err)
		}
	}

	if c != nil {
		conf.updateFromCLI(c)
	}

	if conf.Logging.Level == "" && conf.Development {
		conf.Logging.Level = "debug"
	}

	return &conf, nil
}

func (conf *Config) Validate() error {
	if conf.AppID == "" {
		return ErrAppIDRequired
	}
	if conf.Recovery.MaxRetries < 1 {
		return ErrInvalidRetryconf
	}
	return nil
}

func (conf *Config) updateFromCLI(c *cli.Context) {
	if c.IsSet("dev") {
		conf.Development = c.Bool("dev")
	}
	if c.IsSet("app-id") {
		conf.AppID = c.String("app-id")
	}
	if c.IsSet("token-url") {
		conf.Credentials.ServiceURL = c.String("token-url")
	}
	if c.IsSet("api-key") {
		conf.Credentials.APIKey = c.String("api-key")
	}
	if c.IsSet("api-secret") {
		conf.Credentials.APISecret = c.String("api-secret")
	}
	if c.IsSet("prometheus-port") {
		conf.PrometheusPort = uint32(c.Uint("prometheus-port"))
	}
}

func InitLoggerFromConfig(conf *LoggingConfig) {
	logger.InitFromConfig(conf.Config, "liveconn")
}
