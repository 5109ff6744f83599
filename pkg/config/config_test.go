package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsSurviveEmptyConfig(t *testing.T) {
	conf, err := NewConfig("", true, nil)
	require.NoError(t, err)

	require.Equal(t, 15*time.Second, conf.Session.JoinTimeout)
	require.Equal(t, time.Hour, conf.Credentials.TokenTTL)
	require.Equal(t, 5*time.Minute, conf.Credentials.RenewalBuffer)
	require.Equal(t, 5, conf.Recovery.MaxRetries)
	require.Equal(t, time.Second, conf.Recovery.BaseDelay)
	require.Equal(t, 30*time.Second, conf.Recovery.MaxDelay)
	require.Equal(t, 3, conf.Recovery.CircuitBreakerThreshold)
	require.Equal(t, time.Minute, conf.Recovery.CircuitBreakerTimeout)
	require.Equal(t, 50, conf.Recovery.HistorySize)
}

func TestYAMLOverridesDefaults(t *testing.T) {
	conf, err := NewConfig(`
app_id: myapp
session:
  join_timeout: 5s
recovery:
  max_retries: 2
  circuit_breaker_timeout: 10s
logging:
  level: warn
`, true, nil)
	require.NoError(t, err)

	require.Equal(t, "myapp", conf.AppID)
	require.Equal(t, 5*time.Second, conf.Session.JoinTimeout)
	require.Equal(t, 2, conf.Recovery.MaxRetries)
	require.Equal(t, 10*time.Second, conf.Recovery.CircuitBreakerTimeout)
	require.Equal(t, "warn", conf.Logging.Level)

	// untouched sections keep their defaults
	require.Equal(t, 5*time.Minute, conf.Credentials.RenewalBuffer)
}

func TestStrictModeRejectsUnknownKeys(t *testing.T) {
	_, err := NewConfig("no_such_key: true\n", true, nil)
	require.Error(t, err)

	conf, err := NewConfig("no_such_key: true\n", false, nil)
	require.NoError(t, err)
	require.NotNil(t, conf)
}

func TestValidate(t *testing.T) {
	conf, err := NewConfig("app_id: myapp\n", true, nil)
	require.NoError(t, err)
	require.NoError(t, conf.Validate())

	conf.AppID = ""
	require.ErrorIs(t, conf.Validate(), ErrAppIDRequired)

	conf.AppID = "myapp"
	conf.Recovery.MaxRetries = 0
	require.ErrorIs(t, conf.Validate(), ErrInvalidRetryconf)
}

func TestDevelopmentDefaultsToDebugLogging(t *testing.T) {
	conf, err := NewConfig("development: true\n", true, nil)
	require.NoError(t, err)
	require.Equal(t, "debug", conf.Logging.Level)
}
