package main

import (
	"net/http"
	"time"

	"repairflow/auth"
	"repairflow/request"
)

type requestResponse struct {
	ID                   int64    `json:"id"`
	CustomerID           int64    `json:"customer_id"`
	Title                string   `json:"title"`
	Description          string   `json:"description"`
	Urgency              string   `json:"urgency"`
	Address              string   `json:"address"`
	City                 string   `json:"city"`
	Region               string   `json:"region"`
	EquipmentType        string   `json:"equipment_type"`
	EquipmentBrand       string   `json:"equipment_brand"`
	EquipmentModel       string   `json:"equipment_model"`
	ProblemDescription   string   `json:"problem_description"`
	Priority             *string  `json:"priority,omitempty"`
	ManagerComment       *string  `json:"manager_comment,omitempty"`
	ClarificationDetails *string  `json:"clarification_details,omitempty"`
	EstimatedCost        *float64 `json:"estimated_cost,omitempty"`
	FinalPrice           *float64 `json:"final_price,omitempty"`
	ScheduledDate        *string  `json:"scheduled_date,omitempty"`
	Status               string   `json:"status"`
	ManagerID            *int64   `json:"manager_id,omitempty"`
	AssignedContractorID *int64   `json:"assigned_contractor_id,omitempty"`
	CancelReason         *string  `json:"cancel_reason,omitempty"`
	Version              int      `json:"version"`
	CreatedAt            string   `json:"created_at"`
	UpdatedAt            string   `json:"updated_at"`
	ProcessedAt          *string  `json:"processed_at,omitempty"`
	AssignedAt           *string  `json:"assigned_at,omitempty"`
	SentToBotAt          *string  `json:"sent_to_bot_at,omitempty"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func toRequestResponse(req request.Request) requestResponse {
	out := requestResponse{
		ID:                   req.ID,
		CustomerID:           req.CustomerID,
		Title:                req.Title,
		Description:          req.Description,
		Urgency:              string(req.Urgency),
		Address:              req.Address,
		City:                 req.City,
		Region:               req.Region,
		EquipmentType:        req.EquipmentType,
		EquipmentBrand:       req.EquipmentBrand,
		EquipmentModel:       req.EquipmentModel,
		ProblemDescription:   req.ProblemDescription,
		Priority:             req.Priority,
		ManagerComment:       req.ManagerComment,
		ClarificationDetails: req.ClarificationDetails,
		EstimatedCost:        req.EstimatedCost,
		FinalPrice:           req.FinalPrice,
		Status:               string(req.Status),
		ManagerID:            req.ManagerID,
		AssignedContractorID: req.AssignedContractorID,
		CancelReason:         req.CancelReason,
		Version:              req.Version,
		CreatedAt:            req.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:            req.UpdatedAt.UTC().Format(time.RFC3339),
		ProcessedAt:          formatTime(req.ProcessedAt),
		AssignedAt:           formatTime(req.AssignedAt),
		SentToBotAt:          formatTime(req.SentToBotAt),
	}
	if req.ScheduledDate != nil {
		d := req.ScheduledDate.Format(time.DateOnly)
		out.ScheduledDate = &d
	}
	return out
}

type responseResponse struct {
	ID            int64   `json:"id"`
	RequestID     int64   `json:"request_id"`
	ContractorID  int64   `json:"contractor_id"`
	ProposedPrice float64 `json:"proposed_price"`
	EstimatedTime string  `json:"estimated_time"`
	Comment       string  `json:"comment"`
	IsAccepted    bool    `json:"is_accepted"`
	State         string  `json:"state,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

func toResponseResponse(resp request.Response, state request.ResponseState) responseResponse {
	return responseResponse{
		ID:            resp.ID,
		RequestID:     resp.RequestID,
		ContractorID:  resp.ContractorID,
		ProposedPrice: resp.ProposedPrice,
		EstimatedTime: resp.EstimatedTime,
		Comment:       resp.Comment,
		IsAccepted:    resp.IsAccepted,
		State:         string(state),
		CreatedAt:     resp.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type historyResponse struct {
	ID         int64   `json:"id"`
	ActorID    int64   `json:"actor_id"`
	Event      string  `json:"event"`
	FromStatus *string `json:"from_status,omitempty"`
	ToStatus   string  `json:"to_status"`
	Comment    *string `json:"comment,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

type submitRequestBody struct {
	Title              string `json:"title"`
	Description        string `json:"description"`
	Urgency            string `json:"urgency"`
	Address            string `json:"address"`
	City               string `json:"city"`
	Region             string `json:"region"`
	EquipmentType      string `json:"equipment_type"`
	EquipmentBrand     string `json:"equipment_brand"`
	EquipmentModel     string `json:"equipment_model"`
	ProblemDescription string `json:"problem_description"`
}

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor auth.Actor) {
		var body submitRequestBody
		if !decodeJSON(w, r, &body) {
			return
		}
		req, err := s.requestService.Submit(r.Context(), actor, request.SubmitParams{
			Title:              body.Title,
			Description:        body.Description,
			Urgency:            request.Urgency(body.Urgency),
			Address:            body.Address,
			City:               body.City,
			Region:             body.Region,
			EquipmentType:      body.EquipmentType,
			EquipmentBrand:     body.EquipmentBrand,
			EquipmentModel:     body.EquipmentModel,
			ProblemDescription: body.ProblemDescription,
			IdempotencyKey:     r.Header.Get("Idempotency-Key"),
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRequestResponse(req))
	})
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor auth.Actor) {
		q := r.URL.Query()
		res, err := s.requestService.List(r.Context(), actor, request.Filters{
			Status:   request.Status(q.Get("status")),
			City:     q.Get("city"),
			Page:     queryInt(r, "page"),
			PageSize: queryInt(r, "page_size"),
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		items := make([]requestResponse, 0, len(res.Items))
		for _, req := range res.Items {
			items = append(items, toRequestResponse(req))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": res.Total})
	})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	s.requestCall(w, r, func(actor auth.Actor, id int64) (request.Request, error) {
		return s.requestService.Get(r.Context(), actor, id)
	})
}

type detailsBody struct {
	Title              *string `json:"title"`
	Description        *string `json:"description"`
	Urgency            *string `json:"urgency"`
	Address            *string `json:"address"`
	City               *string `json:"city"`
	Region             *string `json:"region"`
	EquipmentType      *string `json:"equipment_type"`
	EquipmentBrand     *string `json:"equipment_brand"`
	EquipmentModel     *string `json:"equipment_model"`
	ProblemDescription *string `json:"problem_description"`
}

func (s *Server) handleUpdateDetails(w http.ResponseWriter, r *http.Request) {
	var body detailsBody
	if !decodeJSON(w, r, &body) {
		return
	}
	params := request.DetailsParams{
		Title:              body.Title,
		Description:        body.Description,
		Address:            body.Address,
		City:               body.City,
		Region:             body.Region,
		EquipmentType:      body.EquipmentType,
		EquipmentBrand:     body.EquipmentBrand,
		EquipmentModel:     body.EquipmentModel,
		ProblemDescription: body.ProblemDescription,
	}
	if body.Urgency != nil {
		u := request.Urgency(*body.Urgency)
		params.Urgency = &u
	}
	s.requestCall(w, r, func(actor auth.Actor, id int64) (request.Request, error) {
		return s.requestService.UpdateDetails(r.Context(), actor, id, params)
	})
}

type reviewBody struct {
	Priority       *string  `json:"priority"`
	ManagerComment *string  `json:"manager_comment"`
	EstimatedCost  *float64 `json:"estimated_cost"`
	ScheduledDate  *string  `json:"scheduled_date"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var body reviewBody
	if !decodeJSON(w, r, &body) {
		return
	}
	params := request.ReviewParams{
		Priority:       body.Priority,
		ManagerComment: body.ManagerComment,
		EstimatedCost:  body.EstimatedCost,
	}
	if body.ScheduledDate != nil {
		d, err := time.Parse(time.DateOnly, *body.ScheduledDate)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "scheduled_date must be YYYY-MM-DD")
			return
		}
		params.ScheduledDate = &d
	}
	s.requestCall(w, r, func(actor auth.Actor, id int64) (request.Request, error) {
		return s.requestService.Review(r.Context(), actor, id, params)
	})
}

func (s *Server) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor auth.Actor) {
		id, ok := pathID(w, r, "requestID")
		if !ok {
			return
		}
		if err := s.requestService.Delete(r.Context(), actor, id); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor auth.Actor) {
		id, ok := pathID(w, r, "requestID")
		if !ok {
			return
		}
		entries, err := s.requestService.History(r.Context(), actor, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		items := make([]historyResponse, 0, len(entries))
		for _, h := range entries {
			item := historyResponse{
				ID:        h.ID,
				ActorID:   h.ActorID,
				Event:     string(h.Event),
				ToStatus:  string(h.ToStatus),
				Comment:   h.Comment,
				CreatedAt: h.CreatedAt.UTC().Format(time.RFC3339),
			}
			if h.FromStatus != nil {
				from := string(*h.FromStatus)
				item.FromStatus = &from
			}
			items = append(items, item)
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	})
}

func (s *Server) handleAllowedEvents(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor auth.Actor) {
		id, ok := pathID(w, r, "requestID")
		if !ok {
			return
		}
		events, err := s.requestService.AllowedEvents(r.Context(), actor, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		names := make([]string, 0, len(events))
		for _, ev := range events {
			names = append(names, string(ev))
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": names})
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	s.requestCall(w, r, func(actor auth.Actor, id int64) (request.Request, error) {
		return s.requestService.Claim(r.Context(), actor, id)
	})
}

func (s *Server) handleClarify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Details string `json:"details"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	s.requestCall(w, r, func(actor auth.Actor, id int64) (request.Request, error) {
		return s.requestService.RequestClarification(r.Context(), actor, id, body.Details)
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.requestCall(w, r, func(actor auth.Actor, id int64) (request.Request, error) {
		return s.requestService.Resume(r.Context(), actor, id)
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	s.requestCall(w, r, func(actor auth.Actor, id int64) (request.Request, error) {
		return s.requestService.SendToContractors(r.Context(), actor, id)
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.requestCall(w, r, func(actor auth.Actor, id int64) (request.Request, error) {
		return s.requestService.StartWork(r.Context(), actor, id)
	})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FinalPrice float64 `json:"final_price"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	s.requestCall(w, r, func(actor auth.Actor, id int64) (request.Request, error) {
		return s.requestService.CompleteWork(r.Context(), actor, id, body.FinalPrice)
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	s.requestCall(w, r, func(actor auth.Actor, id int64) (request.Request, error) {
		return s.requestService.Cancel(r.Context(), actor, id, body.Reason)
	})
}

// requestCall runs op against the request named in the path and writes the
// resulting request.
func (s *Server) requestCall(w http.ResponseWriter, r *http.Request, op func(actor auth.Actor, id int64) (request.Request, error)) {
	withActor(w, r, func(actor auth.Actor) {
		id, ok := pathID(w, r, "requestID")
		if !ok {
			return
		}
		req, err := op(actor, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequestResponse(req))
	})
}

func (s *Server) handleListResponses(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor auth.Actor) {
		id, ok := pathID(w, r, "requestID")
		if !ok {
			return
		}
		views, err := s.requestService.Responses(r.Context(), actor, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		items := make([]responseResponse, 0, len(views))
		for _, v := range views {
			items = append(items, toResponseResponse(v.Response, v.State))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	})
}

type submitResponseBody struct {
	ContractorID  int64   `json:"contractor_id"`
	ProposedPrice float64 `json:"proposed_price"`
	EstimatedTime string  `json:"estimated_time"`
	Comment       string  `json:"comment"`
}

func (s *Server) handleSubmitResponse(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor auth.Actor) {
		id, ok := pathID(w, r, "requestID")
		if !ok {
			return
		}
		var body submitResponseBody
		if !decodeJSON(w, r, &body) {
			return
		}
		resp, err := s.requestService.SubmitResponse(r.Context(), actor, request.ResponseParams{
			RequestID:     id,
			ContractorID:  body.ContractorID,
			ProposedPrice: body.ProposedPrice,
			EstimatedTime: body.EstimatedTime,
			Comment:       body.Comment,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toResponseResponse(resp, request.ResponsePending))
	})
}

func (s *Server) handleAcceptResponse(w http.ResponseWriter, r *http.Request) {
	responseID, ok := pathID(w, r, "responseID")
	if !ok {
		return
	}
	s.requestCall(w, r, func(actor auth.Actor, id int64) (request.Request, error) {
		return s.requestService.AcceptResponse(r.Context(), actor, id, responseID)
	})
}
