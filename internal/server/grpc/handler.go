package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/opsapi"
	"github.com/dmitrijs2005/letterflow/internal/server/workflow"
)

func (s *GRPCServer) RunEscalationSweep(ctx context.Context, req *opsapi.EscalationSweepRequest) (*opsapi.EscalationSweepResponse, error) {
	now := req.Now
	if now.IsZero() {
		now = s.now()
	}

	reports, err := s.letters.CheckEscalations(ctx, now)
	resp := &opsapi.EscalationSweepResponse{Escalated: make([]opsapi.Escalation, 0, len(reports))}
	for _, r := range reports {
		resp.Escalated = append(resp.Escalated, opsapi.Escalation{
			LetterID:     r.LetterID,
			Step:         r.Escalation.StepNumber,
			Approver:     r.Escalation.Approver,
			Role:         r.Escalation.Role,
			SLA:          r.Escalation.SLA.String(),
			PendingSince: r.Escalation.PendingSince,
		})
	}
	if err != nil {
		s.logger.Error(ctx, "escalation sweep incomplete", "error", err)
		if len(reports) == 0 {
			return nil, toStatus(err)
		}
		resp.Errors = err.Error()
	}

	s.logger.Info(ctx, "escalation sweep", "escalated", len(resp.Escalated))
	return resp, nil
}

func (s *GRPCServer) RunExpirySweep(ctx context.Context, req *opsapi.ExpirySweepRequest) (*opsapi.ExpirySweepResponse, error) {
	now := req.Now
	if now.IsZero() {
		now = s.now()
	}

	ids, err := s.signing.SweepExpired(ctx, now)
	resp := &opsapi.ExpirySweepResponse{Expired: ids}
	if resp.Expired == nil {
		resp.Expired = []string{}
	}
	if err != nil {
		s.logger.Error(ctx, "expiry sweep incomplete", "error", err)
		if len(ids) == 0 {
			return nil, toStatus(err)
		}
		resp.Errors = err.Error()
	}

	s.logger.Info(ctx, "expiry sweep", "expired", len(resp.Expired))
	return resp, nil
}

func (s *GRPCServer) GetLetterState(ctx context.Context, req *opsapi.LetterStateRequest) (*opsapi.LetterStateResponse, error) {
	if req.LetterID == "" {
		return nil, status.Error(codes.InvalidArgument, "letter_id is required")
	}

	l, err := s.letters.Get(ctx, req.LetterID)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &opsapi.LetterStateResponse{
		LetterID:     l.ID,
		SerialNumber: l.SerialNumber,
		State:        l.State,
		Round:        l.Workflow.Round,
		UpdatedAt:    l.UpdatedAt,
	}
	if step := workflow.Current(&l.Workflow); step != nil {
		resp.CurrentStep = step.Number
	}
	return resp, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, common.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, common.ErrInvalidTransition), errors.Is(err, common.ErrOutOfOrderDecision):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, common.ErrProviderUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
