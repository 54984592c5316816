package conversion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	data := []byte(`
poll_interval: 30s
job_deadline: 12h
workers: 4
zone: east
role: converter
budgets:
  transforming_vm: 8h
  shutting_down_vm: 300000000000
`)
	cfg, err := ParseConfig(data)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.PollInterval.Std())
	assert.Equal(t, 12*time.Hour, cfg.JobDeadline.Std())
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "east", cfg.Zone)
	assert.Equal(t, "converter", cfg.Role)
	assert.Equal(t, 8*time.Hour, cfg.BudgetFor("transforming_vm", time.Minute))
	assert.Equal(t, 5*time.Minute, cfg.BudgetFor("shutting_down_vm", time.Minute))
	assert.Equal(t, time.Minute, cfg.BudgetFor("unknown_state", time.Minute))
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero poll interval", mutate: func(c *Config) { c.PollInterval = 0 }},
		{name: "zero deadline", mutate: func(c *Config) { c.JobDeadline = 0 }},
		{name: "no workers", mutate: func(c *Config) { c.Workers = 0 }},
		{name: "negative budget", mutate: func(c *Config) {
			c.Budgets = map[string]Duration{"x": Duration(-time.Second)}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseConfigRejectsBadDuration(t *testing.T) {
	_, err := ParseConfig([]byte("poll_interval: soon"))
	assert.Error(t, err)
}
