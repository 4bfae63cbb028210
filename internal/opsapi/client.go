package opsapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/dmitrijs2005/letterflow/internal/common"
)

// Client calls the ops service with a fixed access token.
type Client struct {
	conn  grpc.ClientConnInterface
	token string
}

func NewClient(conn grpc.ClientConnInterface, token string) *Client {
	return &Client{conn: conn, token: token}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	ctx = metadata.AppendToOutgoingContext(ctx, common.AccessTokenHeaderName, c.token)
	return c.conn.Invoke(ctx, method, in, out, grpc.CallContentSubtype(CodecName))
}

func (c *Client) RunEscalationSweep(ctx context.Context, in *EscalationSweepRequest) (*EscalationSweepResponse, error) {
	out := new(EscalationSweepResponse)
	if err := c.invoke(ctx, RunEscalationSweepMethod, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RunExpirySweep(ctx context.Context, in *ExpirySweepRequest) (*ExpirySweepResponse, error) {
	out := new(ExpirySweepResponse)
	if err := c.invoke(ctx, RunExpirySweepMethod, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetLetterState(ctx context.Context, in *LetterStateRequest) (*LetterStateResponse, error) {
	out := new(LetterStateResponse)
	if err := c.invoke(ctx, GetLetterStateMethod, in, out); err != nil {
		return nil, err
	}
	return out, nil
}
