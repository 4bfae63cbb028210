// Package config loads runtime configuration for the letterflow sweep job.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c/-config or LETTERFLOW_CONFIG.
//  3. LETTERFLOW_SWEEP_TOKEN and LETTERFLOW_SECRET_KEY from the environment.
//  4. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   address:port of the ops gRPC endpoint
//	-t string   access token carrying the ops role
//	-k string   JWT secret used to mint a token when -t is empty
//	-w int      per-call timeout (seconds)
//
// # JSON schema
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "token": "",
//	  "timeout": "30s"
//	}
package config
