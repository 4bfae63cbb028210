package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnv(t *testing.T) {
	t.Setenv("LETTERFLOW_HTTP_ADDR", ":1111")
	t.Setenv("LETTERFLOW_SIGNING_BASE_URL", "https://env.example.com")
	t.Setenv("LETTERFLOW_SIGNING_VALIDITY", "24h")
	t.Setenv("LETTERFLOW_DATABASE_DSN", "")
	t.Setenv("LETTERFLOW_RENDER_URL", "http://render")

	var c Config
	c.LoadDefaults()
	parseEnv(&c)

	assert.Equal(t, ":1111", c.HTTPAddr)
	assert.Equal(t, "https://env.example.com", c.SigningBaseURL)
	assert.Equal(t, 24*time.Hour, c.SigningValidity)
	assert.Equal(t, "", c.DatabaseDSN)
	assert.Equal(t, "http://render", c.RenderURL)
	assert.Equal(t, ":50051", c.GRPCAddr)
}

func TestParseEnv_BadDuration(t *testing.T) {
	t.Setenv("LETTERFLOW_PRESIGN_TTL", "later")
	require.Panics(t, func() { parseEnv(&Config{}) })
}
