package config

import "time"

// Config holds runtime settings for the sweep job.
//
// Fields:
//   - ServerEndpointAddr: host:port of the ops gRPC endpoint.
//   - Token: pre-issued access token. When empty one is minted from SecretKey.
//   - SecretKey: the server's JWT secret.
//   - Timeout: deadline for each sweep call.
type Config struct {
	ServerEndpointAddr string
	Token              string
	SecretKey          string
	Timeout            time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.Timeout = 30 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present), the environment and command-line flags. Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}
