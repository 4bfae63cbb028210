package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/letterflow/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   address and port of the ops endpoint (default from Config)
//	-t string   access token
//	-k string   JWT secret for minting a token
//	-w int      per-call timeout in seconds (default from Config)
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, so the job name positional argument is left alone.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-t", "-k", "-w"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port of the ops endpoint")
	fs.StringVar(&cfg.Token, "t", cfg.Token, "access token with the ops role")
	fs.StringVar(&cfg.SecretKey, "k", cfg.SecretKey, "JWT secret used to mint a token")
	timeout := fs.Int("w", int(cfg.Timeout.Seconds()), "per-call timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.Timeout = time.Duration(*timeout) * time.Second
}
