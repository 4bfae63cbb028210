package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/letterflow/internal/flagx"
	"github.com/dmitrijs2005/letterflow/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Timeout is a
// timex.Duration so it may be written as "30s" or integer nanoseconds.
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	Token              string         `json:"token"`
	Timeout            timex.Duration `json:"timeout"`
}

// parseJson overlays Config with values loaded from the file named by
// -c/-config or LETTERFLOW_CONFIG. Panics on read or unmarshal errors.
// Zero values in the file leave the current setting alone.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.ConfigFile()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerEndpointAddr != "" {
		cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	}
	if jc.Token != "" {
		cfg.Token = jc.Token
	}
	if jc.Timeout.Duration > 0 {
		cfg.Timeout = jc.Timeout.Duration
	}
}
