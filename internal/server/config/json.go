package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/letterflow/internal/flagx"
	"github.com/dmitrijs2005/letterflow/internal/server/esign"
	"github.com/dmitrijs2005/letterflow/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "36h" and integer nanoseconds are accepted.
// Empty values leave the current setting untouched.
type JsonConfig struct {
	HTTPAddr            string         `json:"http_addr"`
	GRPCAddr            string         `json:"grpc_addr"`
	DatabaseDSN         *string        `json:"database_dsn"`
	SecretKey           string         `json:"secret_key"`
	SigningSecret       string         `json:"signing_secret"`
	SigningBaseURL      string         `json:"signing_base_url"`
	SigningValidity     timex.Duration `json:"signing_validity"`
	Providers           []esign.Config `json:"providers"`
	S3RootUser          string         `json:"s3_root_user"`
	S3RootPassword      string         `json:"s3_root_password"`
	S3Bucket            string         `json:"s3_bucket"`
	S3Region            string         `json:"s3_region"`
	S3BaseEndpoint      string         `json:"s3_base_endpoint"`
	PresignTTL          timex.Duration `json:"presign_ttl"`
	StorageDir          string         `json:"storage_dir"`
	EventSinkURL        string         `json:"event_sink_url"`
	RenderURL           string         `json:"render_url"`
	ApprovalPresetsFile string         `json:"approval_presets_file"`
	LogLevel            string         `json:"log_level"`
}

// parseJson loads the file named by -c/-config (or LETTERFLOW_CONFIG) into
// config. No path means nothing to load. An unreadable or invalid file
// panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigFile()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.GRPCAddr, c.GRPCAddr)
	// database_dsn may be set to "" on purpose to select the memory store
	if c.DatabaseDSN != nil {
		config.DatabaseDSN = *c.DatabaseDSN
	}
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.SigningSecret, c.SigningSecret)
	setString(&config.SigningBaseURL, c.SigningBaseURL)
	if c.SigningValidity.Duration > 0 {
		config.SigningValidity = c.SigningValidity.Duration
	}
	if len(c.Providers) > 0 {
		config.Providers = c.Providers
	}
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	if c.PresignTTL.Duration > 0 {
		config.PresignTTL = c.PresignTTL.Duration
	}
	setString(&config.StorageDir, c.StorageDir)
	setString(&config.EventSinkURL, c.EventSinkURL)
	setString(&config.RenderURL, c.RenderURL)
	setString(&config.ApprovalPresetsFile, c.ApprovalPresetsFile)
	setString(&config.LogLevel, c.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
