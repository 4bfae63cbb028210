package grpc

import (
	"context"
	"slices"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/opsapi"
	"github.com/dmitrijs2005/letterflow/internal/server/auth"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
	"github.com/dmitrijs2005/letterflow/internal/server/services"
)

// OpsRole is required for the sweep methods.
const OpsRole = "ops"

var opsOnly = map[string]bool{
	opsapi.RunEscalationSweepMethod: true,
	opsapi.RunExpirySweepMethod:     true,
}

// accessTokenInterceptor authenticates every call with the access_token
// metadata value and tags the context with the grpc origin.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(common.AccessTokenHeaderName)
		if len(values) > 0 {
			accessToken = values[0]
		}
	}
	if len(accessToken) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	id, err := auth.ParseToken(accessToken, s.jwtSecret)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	if opsOnly[info.FullMethod] && !slices.Contains(id.Roles, OpsRole) {
		return nil, status.Error(codes.PermissionDenied, "role "+OpsRole+" required")
	}

	origin := models.Origin{Channel: models.ChannelGRPC}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		origin.IP = p.Addr.String()
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ua := md.Get("user-agent"); len(ua) > 0 {
			origin.UserAgent = ua[0]
		}
	}

	ctx = auth.WithIdentity(ctx, id)
	ctx = services.WithOrigin(ctx, origin)

	return handler(ctx, req)
}
