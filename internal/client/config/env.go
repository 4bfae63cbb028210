package config

import "os"

const (
	TokenEnv     = "LETTERFLOW_SWEEP_TOKEN"
	SecretKeyEnv = "LETTERFLOW_SECRET_KEY"
)

func parseEnv(cfg *Config) {
	if v := os.Getenv(TokenEnv); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv(SecretKeyEnv); v != "" {
		cfg.SecretKey = v
	}
}
