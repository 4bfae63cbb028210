package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	path := writeTempJSON(t, map[string]any{
		"server_endpoint_addr": "ops.example:9000",
		"token":                "from-file",
		"timeout":              "5s",
	})

	t.Run("loads from flag", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", path}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "ops.example:9000", cfg.ServerEndpointAddr)
		assert.Equal(t, "from-file", cfg.Token)
		assert.Equal(t, 5*time.Second, cfg.Timeout)
	})

	t.Run("loads from env", func(t *testing.T) {
		os.Args = []string{"testbin"}
		t.Setenv("LETTERFLOW_CONFIG", path)

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "ops.example:9000", cfg.ServerEndpointAddr)
	})

	t.Run("no file keeps defaults", func(t *testing.T) {
		os.Args = []string{"testbin"}
		t.Setenv("LETTERFLOW_CONFIG", "")

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "127.0.0.1:50051", cfg.ServerEndpointAddr)
	})

	t.Run("bad file panics", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
		os.Args = []string{"testbin", "-c", bad}

		require.Panics(t, func() { parseJson(&Config{}) })
	})
}
