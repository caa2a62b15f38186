package request

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"repairflow/auth"
	"repairflow/notify"
)

type ResponseParams struct {
	RequestID int64
	// ContractorID is honoured only for actors holding
	// response:submit:any; everyone else responds as themselves.
	ContractorID  int64
	ProposedPrice float64
	EstimatedTime string
	Comment       string
}

// SubmitResponse records a contractor's bid. The first bid moves the request
// to CONTRACTOR_RESPONSES.
func (s *Service) SubmitResponse(ctx context.Context, actor auth.Actor, params ResponseParams) (Response, error) {
	contractorID := actor.ID
	if params.ContractorID != 0 && actor.Can(auth.ActionResponseSubmitAny) {
		contractorID = params.ContractorID
	}

	var created Response
	_, err := s.transition(ctx, actor, params.RequestID, EventRespond, func(ctx context.Context, st *step) error {
		if params.ProposedPrice <= 0 {
			return ErrInvalidPrice
		}
		if err := s.requireApproved(ctx, st, contractorID); err != nil {
			return err
		}
		resp, err := s.repo.CreateResponse(ctx, st.tx, Response{
			RequestID:     params.RequestID,
			ContractorID:  contractorID,
			ProposedPrice: params.ProposedPrice,
			EstimatedTime: strings.TrimSpace(params.EstimatedTime),
			Comment:       strings.TrimSpace(params.Comment),
			CreatedAt:     st.now,
		})
		if err != nil {
			return err
		}
		created = resp
		return nil
	})
	if err != nil {
		return Response{}, err
	}

	s.logger.Info("response submitted",
		zap.Int64("request_id", params.RequestID),
		zap.Int64("response_id", created.ID),
		zap.Int64("contractor_id", contractorID))
	return created, nil
}

// AcceptResponse assigns the request to the contractor behind responseID. Of
// two acceptances racing on one request, the second receives
// ErrAlreadyAssigned.
func (s *Service) AcceptResponse(ctx context.Context, actor auth.Actor, requestID, responseID int64) (Request, error) {
	return s.transition(ctx, actor, requestID, EventAccept, func(ctx context.Context, st *step) error {
		resp, err := s.repo.GetResponse(ctx, st.tx, responseID)
		if err != nil {
			return err
		}
		if resp.RequestID != requestID {
			return ErrResponseNotFound
		}
		if err := s.requireApproved(ctx, st, resp.ContractorID); err != nil {
			return err
		}
		if _, err := s.repo.MarkAccepted(ctx, st.tx, responseID); err != nil {
			return err
		}
		st.next.AssignedContractorID = &resp.ContractorID
		st.next.AssignedAt = &st.now
		st.emit(notify.EventResponseAccepted, map[string]any{
			"request_id":     requestID,
			"response_id":    responseID,
			"contractor_id":  resp.ContractorID,
			"customer_id":    st.next.CustomerID,
			"proposed_price": resp.ProposedPrice,
		})
		return nil
	})
}

func (s *Service) requireApproved(ctx context.Context, st *step, contractorID int64) error {
	ok, err := s.gate.ContractorApproved(ctx, st.tx, contractorID)
	if err != nil {
		return fmt.Errorf("request: check contractor %d: %w", contractorID, err)
	}
	if !ok {
		return ErrContractorNotApproved
	}
	return nil
}

// ResponseView pairs a response with its standing derived from the request.
type ResponseView struct {
	Response
	State ResponseState
}

// Responses lists the bids on a request. Contractors see only their own.
func (s *Service) Responses(ctx context.Context, actor auth.Actor, requestID int64) ([]ResponseView, error) {
	req, err := s.Get(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}
	list, err := s.repo.ListResponses(ctx, requestID)
	if err != nil {
		return nil, err
	}
	out := make([]ResponseView, 0, len(list))
	for _, r := range list {
		if !actor.Can(auth.ActionRequestViewAny) && !actor.Can(auth.ActionRequestViewOwn) && r.ContractorID != actor.ID {
			continue
		}
		out = append(out, ResponseView{Response: r, State: r.State(req)})
	}
	return out, nil
}
