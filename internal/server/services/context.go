package services

import (
	"context"

	"github.com/dmitrijs2005/letterflow/internal/server/models"
	"github.com/dmitrijs2005/letterflow/internal/server/workflow"
)

type originKey struct{}

// WithOrigin attaches the caller's channel metadata; audit entries written
// under ctx carry it.
func WithOrigin(ctx context.Context, o models.Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFrom returns the origin stored in ctx, or the system channel.
func OriginFrom(ctx context.Context) models.Origin {
	if o, ok := ctx.Value(originKey{}).(models.Origin); ok {
		return o
	}
	return models.Origin{Channel: models.ChannelSystem}
}

// System is the actor recorded for automatic transitions and sweeps.
var System = workflow.Actor{ID: "system"}
