package conf

import (
	"testing"
	"time"

	"github.com/lk2023060901/csap/pkg/app"
	"github.com/lk2023060901/csap/pkg/config"
	"github.com/lk2023060901/csap/pkg/csap"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, args ...string) *Config {
	t.Helper()
	fs := pflag.NewFlagSet("csapctl", pflag.ContinueOnError)
	RegisterFlags(fs)

	var cfg Config
	err := app.LoadConfig(&cfg,
		app.WithFlagSet(fs, args),
		app.WithEnvPrefix("CSAPCTLTEST"),
		app.WithDefaults(Defaults()),
	)
	require.NoError(t, err)
	return &cfg
}

func TestLoad_FlagsAndDefaults(t *testing.T) {
	cfg := load(t,
		"--target-host", "127.0.0.1",
		"--target-port", "8080",
		"--target-service", "echo",
		"--send-data", "payload",
		"--session-codec", "FIXED",
	)

	assert.Equal(t, "127.0.0.1", cfg.Target.Host)
	assert.Equal(t, 8080, cfg.Target.Port)
	assert.Equal(t, "echo", cfg.Target.Service)
	assert.Equal(t, csap.ModePlain, cfg.Target.Mode)
	assert.Equal(t, "payload", cfg.Send.Data)
	assert.Equal(t, csap.CodecFixedWidth, cfg.Session.Codec)
	assert.Equal(t, csap.MaxSegmentSize, cfg.Session.MaxSegmentSize)
	assert.Equal(t, 10*time.Second, cfg.Session.HandshakeTimeout)
	assert.Equal(t, 8, cfg.Transport.WorkerPoolSize)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvCredentials(t *testing.T) {
	t.Setenv("CSAPCTLTEST_TARGET_USERNAME", "alice")
	t.Setenv("CSAPCTLTEST_TARGET_PASSWORD", "secret")

	cfg := load(t, "--target-host", "localhost", "--target-port", "9000", "--target-service", "svc")

	req := cfg.Target.OpenRequest()
	require.NotNil(t, req.Username)
	require.NotNil(t, req.Password)
	assert.Equal(t, "alice", *req.Username)
	assert.Equal(t, "secret", *req.Password)
}

func TestTarget_OpenRequestNullCredentials(t *testing.T) {
	req := Target{Host: "h", Port: 1, Service: "svc"}.OpenRequest()
	assert.Nil(t, req.Username)
	assert.Nil(t, req.Password)
	assert.Equal(t, "svc", req.Service)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing host", func(c *Config) { c.Target.Host = "" }, "target.host"},
		{"port out of range", func(c *Config) { c.Target.Port = 70000 }, "target.port"},
		{"missing service", func(c *Config) { c.Target.Service = "" }, "target.service"},
		{"bad mode", func(c *Config) { c.Target.Mode = "tcp" }, "target.mode"},
		{"bad codec", func(c *Config) { c.Session.Codec = "xml" }, "session.codec"},
		{"negative replies", func(c *Config) { c.Send.Replies = -1 }, "send.replies"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Target:  Target{Host: "localhost", Port: 8080, Service: "svc"},
				Session: *csap.DefaultConfig(),
			}
			cfg.Metrics.Path = "/metrics"
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, config.ErrValidationFailed)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSend_Empty(t *testing.T) {
	assert.True(t, Send{}.Empty())
	assert.False(t, Send{Data: "x"}.Empty())
	assert.False(t, Send{UsrCtl: "x"}.Empty())
}
