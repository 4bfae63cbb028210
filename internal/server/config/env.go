package config

import (
	"os"
	"time"
)

// EnvPrefix prefixes every environment variable read by parseEnv.
const EnvPrefix = "LETTERFLOW_"

// parseEnv overlays LETTERFLOW_* variables. Unset variables are ignored; a
// malformed duration panics like a malformed config file.
func parseEnv(config *Config) {
	strs := map[string]*string{
		"HTTP_ADDR":             &config.HTTPAddr,
		"GRPC_ADDR":             &config.GRPCAddr,
		"SECRET_KEY":            &config.SecretKey,
		"SIGNING_SECRET":        &config.SigningSecret,
		"SIGNING_BASE_URL":      &config.SigningBaseURL,
		"S3_ROOT_USER":          &config.S3RootUser,
		"S3_ROOT_PASSWORD":      &config.S3RootPassword,
		"S3_BUCKET":             &config.S3Bucket,
		"S3_REGION":             &config.S3Region,
		"S3_BASE_ENDPOINT":      &config.S3BaseEndpoint,
		"STORAGE_DIR":           &config.StorageDir,
		"EVENT_SINK_URL":        &config.EventSinkURL,
		"RENDER_URL":            &config.RenderURL,
		"APPROVAL_PRESETS_FILE": &config.ApprovalPresetsFile,
		"LOG_LEVEL":             &config.LogLevel,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	// an explicitly empty DSN selects the memory store
	if v, ok := os.LookupEnv(EnvPrefix + "DATABASE_DSN"); ok {
		config.DatabaseDSN = v
	}

	durations := map[string]*time.Duration{
		"SIGNING_VALIDITY": &config.SigningValidity,
		"PRESIGN_TTL":      &config.PresignTTL,
	}
	for name, dst := range durations {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			panic(err)
		}
		*dst = d
	}
}
