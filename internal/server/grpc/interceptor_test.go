package grpc

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/logging"
	"github.com/dmitrijs2005/letterflow/internal/opsapi"
	"github.com/dmitrijs2005/letterflow/internal/server/auth"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
	"github.com/dmitrijs2005/letterflow/internal/server/services"
)

func newTestServer(secret string) *GRPCServer {
	return NewGRPCServer(":0", logging.Nop{}, nil, nil, secret)
}

func withToken(t *testing.T, secret string, roles ...string) context.Context {
	t.Helper()
	token, err := auth.GenerateToken(auth.Identity{ActorID: "cron", Roles: roles}, []byte(secret), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}
	md := metadata.New(map[string]string{common.AccessTokenHeaderName: token})
	return metadata.NewIncomingContext(context.Background(), md)
}

func TestInterceptor_MissingToken(t *testing.T) {
	s := newTestServer("secret")
	info := &grpc.UnaryServerInfo{FullMethod: opsapi.GetLetterStateMethod}

	h := func(ctx context.Context, req any) (any, error) {
		t.Fatal("handler should not be called when token missing")
		return nil, nil
	}

	_, err := s.accessTokenInterceptor(context.Background(), nil, info, h)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
	}
	if status.Convert(err).Message() != "missing token" {
		t.Fatalf("expected 'missing token', got %q", status.Convert(err).Message())
	}
}

func TestInterceptor_InvalidToken(t *testing.T) {
	s := newTestServer("secret")
	md := metadata.New(map[string]string{common.AccessTokenHeaderName: "not-a-valid-jwt"})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	info := &grpc.UnaryServerInfo{FullMethod: opsapi.GetLetterStateMethod}

	h := func(ctx context.Context, req any) (any, error) {
		t.Fatal("handler should not be called for invalid token")
		return nil, nil
	}

	_, err := s.accessTokenInterceptor(ctx, nil, info, h)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
	}
}

func TestInterceptor_SweepRequiresOpsRole(t *testing.T) {
	s := newTestServer("secret")
	info := &grpc.UnaryServerInfo{FullMethod: opsapi.RunExpirySweepMethod}

	h := func(ctx context.Context, req any) (any, error) {
		t.Fatal("handler should not be called without the ops role")
		return nil, nil
	}

	_, err := s.accessTokenInterceptor(withToken(t, "secret", "hr"), nil, info, h)
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", status.Code(err))
	}
}

func TestInterceptor_ValidToken_SetsIdentityAndOrigin(t *testing.T) {
	s := newTestServer("secret")
	info := &grpc.UnaryServerInfo{FullMethod: opsapi.RunEscalationSweepMethod}

	var (
		gotID     auth.Identity
		gotOrigin models.Origin
	)
	h := func(ctx context.Context, req any) (any, error) {
		gotID, _ = auth.FromContext(ctx)
		gotOrigin = services.OriginFrom(ctx)
		return "ok", nil
	}

	resp, err := s.accessTokenInterceptor(withToken(t, "secret", OpsRole), nil, info, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "ok" {
		t.Fatalf("unexpected handler resp: %v", resp)
	}
	if gotID.ActorID != "cron" {
		t.Fatalf("identity not propagated: %+v", gotID)
	}
	if gotOrigin.Channel != models.ChannelGRPC {
		t.Fatalf("expected grpc origin, got %q", gotOrigin.Channel)
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{common.ErrorNotFound, codes.NotFound},
		{common.Invalid("x", "bad"), codes.InvalidArgument},
		{common.ErrForbidden, codes.PermissionDenied},
		{common.ErrInvalidTransition, codes.FailedPrecondition},
		{common.ErrProviderUnavailable, codes.Unavailable},
		{context.Canceled, codes.Internal},
	}
	for _, tt := range tests {
		if got := status.Code(toStatus(tt.err)); got != tt.code {
			t.Fatalf("toStatus(%v) = %v, want %v", tt.err, got, tt.code)
		}
	}
}
