package service

import (
	"errors"
	"testing"

	"github.com/kelseyhightower/envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadConfig(t *testing.T, env map[string]string) *Config {
	t.Setenv("DATABASE_URI", "postgres://stackpay@localhost/stackpay")
	for k, v := range env {
		t.Setenv(k, v)
	}
	c := &Config{}
	require.NoError(t, envconfig.Process("", c))
	return c
}

func TestConfigDefaults(t *testing.T) {
	c := loadConfig(t, nil)
	require.NoError(t, c.Validate())
	assert.Equal(t, 3, c.MinConfirmations)
	assert.Equal(t, "10s", c.PollInterval().String())
	assert.Equal(t, "5s", c.ErrorBackoff().String())
	assert.Equal(t, "5s", c.LockTTL().String())
	assert.Equal(t, "30m0s", c.InvoiceExpiry().String())
	assert.Equal(t, "2s", c.WebhookBackoffBase().String())
	assert.Equal(t, "postgres", c.LockBackend)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		setting string
	}{
		{"zero poll interval", map[string]string{"POLL_INTERVAL_MS": "0"}, "POLL_INTERVAL_MS"},
		{"zero confirmations", map[string]string{"MIN_CONFIRMATIONS": "0"}, "MIN_CONFIRMATIONS"},
		{"no webhook attempts", map[string]string{"WEBHOOK_MAX_ATTEMPTS": "0"}, "WEBHOOK_MAX_ATTEMPTS"},
		{"redis without uri", map[string]string{"LOCK_BACKEND": "redis", "REDIS_URI": ""}, "REDIS_URI"},
		{"etcd without endpoints", map[string]string{"LOCK_BACKEND": "etcd", "ETCD_ENDPOINTS": " , "}, "ETCD_ENDPOINTS"},
		{"unknown lock backend", map[string]string{"LOCK_BACKEND": "zookeeper"}, "LOCK_BACKEND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := loadConfig(t, tt.env).Validate()
			var fatal *FatalConfigError
			require.True(t, errors.As(err, &fatal), "got %v", err)
			assert.Equal(t, tt.setting, fatal.Setting)
		})
	}
}

func TestEtcdEndpointList(t *testing.T) {
	c := &Config{EtcdEndpoints: "http://a:2379, ,http://b:2379 "}
	assert.Equal(t, []string{"http://a:2379", "http://b:2379"}, c.EtcdEndpointList())
}
