// Package sweep runs the periodic escalation and expiry sweeps against the
// ops gRPC service.
package sweep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dmitrijs2005/letterflow/internal/client/config"
	"github.com/dmitrijs2005/letterflow/internal/opsapi"
	"github.com/dmitrijs2005/letterflow/internal/server/auth"
)

const (
	JobEscalations = "escalations"
	JobExpiry      = "expiry"
	JobAll         = "all"

	opsRole       = "ops"
	tokenValidity = 10 * time.Minute
)

var ErrUnknownJob = errors.New("unknown job")

// Ops is the subset of the ops client the runner calls.
type Ops interface {
	RunEscalationSweep(ctx context.Context, in *opsapi.EscalationSweepRequest) (*opsapi.EscalationSweepResponse, error)
	RunExpirySweep(ctx context.Context, in *opsapi.ExpirySweepRequest) (*opsapi.ExpirySweepResponse, error)
}

type Runner struct {
	ops     Ops
	timeout time.Duration
}

func NewRunner(ops Ops, timeout time.Duration) *Runner {
	return &Runner{ops: ops, timeout: timeout}
}

// Dial connects to the ops endpoint. The returned close func releases the
// connection.
func Dial(cfg *config.Config) (*Runner, func() error, error) {
	token, err := Token(cfg)
	if err != nil {
		return nil, nil, err
	}

	conn, err := grpc.NewClient(cfg.ServerEndpointAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return NewRunner(opsapi.NewClient(conn, token), cfg.Timeout), conn.Close, nil
}

// Token returns the configured token, or mints a short-lived one with the
// ops role from the secret key.
func Token(cfg *config.Config) (string, error) {
	if cfg.Token != "" {
		return cfg.Token, nil
	}
	if cfg.SecretKey == "" {
		return "", errors.New("either a token or a secret key is required")
	}
	return auth.GenerateToken(auth.Identity{ActorID: "sweep", Roles: []string{opsRole}}, []byte(cfg.SecretKey), tokenValidity)
}

// Run executes job and writes one JSON line per sweep to out. A zero now
// lets the server use its own clock. Partial failures reported by the
// server are returned as errors after the results are written.
func (r *Runner) Run(ctx context.Context, out io.Writer, job string, now time.Time) error {
	switch job {
	case JobEscalations:
		return r.escalations(ctx, out, now)
	case JobExpiry:
		return r.expiry(ctx, out, now)
	case JobAll:
		return errors.Join(r.escalations(ctx, out, now), r.expiry(ctx, out, now))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
}

func (r *Runner) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Runner) escalations(ctx context.Context, out io.Writer, now time.Time) error {
	ctx, cancel := r.call(ctx)
	defer cancel()

	resp, err := r.ops.RunEscalationSweep(ctx, &opsapi.EscalationSweepRequest{Now: now})
	if err != nil {
		return fmt.Errorf("escalation sweep: %w", err)
	}
	if err := writeLine(out, JobEscalations, resp); err != nil {
		return err
	}
	if resp.Errors != "" {
		return fmt.Errorf("escalation sweep incomplete: %s", resp.Errors)
	}
	return nil
}

func (r *Runner) expiry(ctx context.Context, out io.Writer, now time.Time) error {
	ctx, cancel := r.call(ctx)
	defer cancel()

	resp, err := r.ops.RunExpirySweep(ctx, &opsapi.ExpirySweepRequest{Now: now})
	if err != nil {
		return fmt.Errorf("expiry sweep: %w", err)
	}
	if err := writeLine(out, JobExpiry, resp); err != nil {
		return err
	}
	if resp.Errors != "" {
		return fmt.Errorf("expiry sweep incomplete: %s", resp.Errors)
	}
	return nil
}

func writeLine(out io.Writer, job string, result any) error {
	return json.NewEncoder(out).Encode(map[string]any{"job": job, "result": result})
}
