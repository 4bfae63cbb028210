// Command sweep triggers the escalation and expiry sweeps on a running
// letterflow server. Usage: sweep [flags] escalations|expiry|all
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dmitrijs2005/letterflow/internal/client/config"
	"github.com/dmitrijs2005/letterflow/internal/client/sweep"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()

	job := sweep.JobAll
	if args := positional(os.Args[1:]); len(args) > 0 {
		job = args[0]
	}

	runner, closeConn, err := sweep.Dial(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer closeConn()

	if err := runner.Run(ctx, os.Stdout, job, time.Time{}); err != nil {
		log.Printf("%v", err)
		stop()
		_ = closeConn()
		os.Exit(1)
	}
}

// positional drops the flags handled by config and their values.
func positional(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "-") {
			if !strings.Contains(a, "=") && i+1 < len(args) {
				i++
			}
			continue
		}
		out = append(out, a)
	}
	return out
}

