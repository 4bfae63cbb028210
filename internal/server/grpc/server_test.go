package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/dmitrijs2005/letterflow/internal/lockx"
	"github.com/dmitrijs2005/letterflow/internal/logging"
	"github.com/dmitrijs2005/letterflow/internal/opsapi"
	"github.com/dmitrijs2005/letterflow/internal/server/auth"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
	"github.com/dmitrijs2005/letterflow/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/letterflow/internal/server/services"
	"github.com/dmitrijs2005/letterflow/internal/server/signing"
	"github.com/dmitrijs2005/letterflow/internal/server/workflow"
	"github.com/dmitrijs2005/letterflow/internal/timex"
)

const secret = "grpc-secret"

func startServer(t *testing.T) (*services.LetterService, *opsapi.Client, *opsapi.Client) {
	t.Helper()

	m := repomanager.NewMemoryRepositoryManager()
	tx := repomanager.NewMemoryTransactor(m)
	locks := &lockx.Keyed{}
	signer, err := signing.NewSigner("s", "https://letters.example.com", time.Hour)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	letters := services.NewLetterService(tx, m, locks, logging.Nop{}, services.LetterConfig{})
	signingSvc := services.NewSigningService(tx, m, locks, logging.Nop{}, signer, nil, letters)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewGRPCServer("bufnet", logging.Nop{}, letters, signingSvc, secret)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		<-done
	})

	token := func(roles ...string) string {
		tok, err := auth.GenerateToken(auth.Identity{ActorID: "cron", Roles: roles}, []byte(secret), time.Hour)
		if err != nil {
			t.Fatalf("GenerateToken: %v", err)
		}
		return tok
	}
	return letters, opsapi.NewClient(conn, token(OpsRole)), opsapi.NewClient(conn, token())
}

func pendingLetter(t *testing.T, letters *services.LetterService) *models.Letter {
	t.Helper()
	ctx := context.Background()
	author := workflow.Actor{ID: "author"}

	l, _, err := letters.Create(ctx, author, "", services.CreateLetterInput{
		Type:            models.LetterPromotion,
		TemplateID:      "promo",
		TemplateVersion: 1,
		Data:            map[string]any{"employee": "Ada"},
		Signatories:     []models.Signatory{{Name: "CEO", Provider: "docsign"}},
		Steps:           []models.StepDefinition{{Number: 1, Approver: "mgr", SLA: timex.Duration{Duration: time.Hour}}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if l, err = letters.Submit(ctx, author, l.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return l
}

func TestOps_GetLetterState(t *testing.T) {
	letters, ops, _ := startServer(t)
	l := pendingLetter(t, letters)

	resp, err := ops.GetLetterState(context.Background(), &opsapi.LetterStateRequest{LetterID: l.ID})
	if err != nil {
		t.Fatalf("GetLetterState: %v", err)
	}
	if resp.State != models.StatePendingApproval || resp.CurrentStep != 1 || resp.Round != 1 {
		t.Fatalf("unexpected state: %+v", resp)
	}
	if resp.SerialNumber != l.SerialNumber {
		t.Fatalf("serial = %q, want %q", resp.SerialNumber, l.SerialNumber)
	}

	_, err = ops.GetLetterState(context.Background(), &opsapi.LetterStateRequest{LetterID: "missing"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	_, err = ops.GetLetterState(context.Background(), &opsapi.LetterStateRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestOps_Sweeps(t *testing.T) {
	letters, ops, plain := startServer(t)
	l := pendingLetter(t, letters)
	ctx := context.Background()

	_, err := plain.RunEscalationSweep(ctx, &opsapi.EscalationSweepRequest{})
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}

	resp, err := ops.RunEscalationSweep(ctx, &opsapi.EscalationSweepRequest{Now: time.Now().Add(2 * time.Hour)})
	if err != nil {
		t.Fatalf("RunEscalationSweep: %v", err)
	}
	if len(resp.Escalated) != 1 || resp.Escalated[0].LetterID != l.ID || resp.Escalated[0].Step != 1 {
		t.Fatalf("unexpected escalations: %+v", resp.Escalated)
	}

	trail, err := letters.Audit(ctx, l.ID)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	last := trail[len(trail)-1]
	if last.Action != models.ActionStepEscalated || last.Origin.Channel != models.ChannelGRPC {
		t.Fatalf("unexpected last audit entry: %+v", last)
	}

	exp, err := ops.RunExpirySweep(ctx, &opsapi.ExpirySweepRequest{})
	if err != nil {
		t.Fatalf("RunExpirySweep: %v", err)
	}
	if len(exp.Expired) != 0 {
		t.Fatalf("expected nothing expired, got %v", exp.Expired)
	}
}
