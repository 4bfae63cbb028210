package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/letterflow/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     HTTP bind address (e.g., ":8080")
//	-g string     gRPC ops bind address (e.g., ":50051")
//	-d string     PostgreSQL DSN ("" for the in-memory store)
//	-s string     JWT HMAC secret key
//	-k string     signing URL secret
//	-u string     public signing base URL
//	-v duration   signing request validity (e.g., "72h")
//	-b string     S3 bucket name
//	-e string     S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-p string     approval presets YAML file
//	-l string     log level (debug, info, warn, error)
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with -c/-config.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-g", "-d", "-s", "-k", "-u", "-v", "-b", "-e", "-p", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP address and port to run server")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "gRPC ops address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "JWT secret key")
	fs.StringVar(&config.SigningSecret, "k", config.SigningSecret, "signing URL secret")
	fs.StringVar(&config.SigningBaseURL, "u", config.SigningBaseURL, "public signing base URL")
	fs.DurationVar(&config.SigningValidity, "v", config.SigningValidity, "signing request validity")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.ApprovalPresetsFile, "p", config.ApprovalPresetsFile, "approval presets YAML file")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
