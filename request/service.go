package request

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"repairflow/apperr"
	"repairflow/auth"
	"repairflow/logging"
	"repairflow/notify"
)

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic notify.EventType, subjectID int64, payload map[string]any) error
}

// VerificationGate answers whether a contractor may bid or be assigned. It
// reads inside the caller's transaction.
type VerificationGate interface {
	ContractorApproved(ctx context.Context, tx pgx.Tx, contractorID int64) (bool, error)
}

type Service struct {
	pool   TxBeginner
	repo   Repository
	gate   VerificationGate
	outbox OutboxWriter
	now    func() time.Time
	logger *zap.Logger
}

func NewService(pool TxBeginner, repo Repository, gate VerificationGate, outbox OutboxWriter) *Service {
	return &Service{
		pool:   pool,
		repo:   repo,
		gate:   gate,
		outbox: outbox,
		now:    time.Now,
		logger: zap.NewNop(),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithLogger(l *zap.Logger) *Service {
	s.logger = logging.OrNop(l)
	return s
}

type SubmitParams struct {
	Title              string
	Description        string
	Urgency            Urgency
	Address            string
	City               string
	Region             string
	EquipmentType      string
	EquipmentBrand     string
	EquipmentModel     string
	ProblemDescription string
	// IdempotencyKey, when set, makes a retried submission return the
	// request created by the first attempt.
	IdempotencyKey string
}

// Submit creates a request in NEW on behalf of a customer.
func (s *Service) Submit(ctx context.Context, actor auth.Actor, params SubmitParams) (Request, error) {
	if err := auth.Authorize(actor, auth.ActionRequestSubmit); err != nil {
		return Request{}, err
	}
	title := strings.TrimSpace(params.Title)
	description := strings.TrimSpace(params.Description)
	if title == "" {
		return Request{}, invalidInput("title required")
	}
	if description == "" {
		return Request{}, invalidInput("description required")
	}
	if !params.Urgency.Valid() {
		return Request{}, invalidInput("invalid urgency %q", params.Urgency)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var key string
	if k := strings.TrimSpace(params.IdempotencyKey); k != "" {
		key = fmt.Sprintf("%d:%s", actor.ID, k)
		if err := s.repo.InsertIdempotencyKey(ctx, tx, key); err != nil {
			if errors.Is(err, ErrDuplicateIdempotencyKey) {
				_ = tx.Rollback(ctx)
				return s.replay(ctx, key)
			}
			return Request{}, err
		}
	}

	now := s.now()
	created, err := s.repo.Create(ctx, tx, Request{
		CustomerID:         actor.ID,
		Title:              title,
		Description:        description,
		Urgency:            params.Urgency,
		Address:            strings.TrimSpace(params.Address),
		City:               strings.TrimSpace(params.City),
		Region:             strings.TrimSpace(params.Region),
		EquipmentType:      strings.TrimSpace(params.EquipmentType),
		EquipmentBrand:     strings.TrimSpace(params.EquipmentBrand),
		EquipmentModel:     strings.TrimSpace(params.EquipmentModel),
		ProblemDescription: strings.TrimSpace(params.ProblemDescription),
		Status:             StatusNew,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		return Request{}, err
	}

	if key != "" {
		if err := s.repo.BindIdempotencyKey(ctx, tx, key, created.ID); err != nil {
			return Request{}, err
		}
	}

	if err := s.repo.AppendHistory(ctx, tx, HistoryEntry{
		RequestID: created.ID,
		ActorID:   actor.ID,
		Event:     "submit",
		ToStatus:  StatusNew,
		CreatedAt: now,
	}); err != nil {
		return Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("request: commit submit: %w", err)
	}

	s.logger.Info("request submitted", zap.Int64("request_id", created.ID), zap.Int64("customer_id", actor.ID))
	return created, nil
}

func (s *Service) replay(ctx context.Context, key string) (Request, error) {
	id, err := s.repo.ResolveIdempotencyKey(ctx, key)
	if err != nil {
		return Request{}, err
	}
	return s.repo.Get(ctx, id)
}

// step carries one locked write through its transaction. apply callbacks
// mutate next and may set the event to enqueue.
type step struct {
	tx      pgx.Tx
	actor   auth.Actor
	current Request
	next    Request
	now     time.Time
	comment *string
	topic   notify.EventType
	payload map[string]any
}

func (st *step) emit(topic notify.EventType, payload map[string]any) {
	st.topic = topic
	st.payload = payload
}

// transition fires ev on the request: role check, row lock, ownership and
// state checks, apply, conditional update, history, outbox, commit.
func (s *Service) transition(ctx context.Context, actor auth.Actor, id int64, ev Event, apply func(ctx context.Context, st *step) error) (Request, error) {
	if err := auth.Authorize(actor, eventActions[ev]...); err != nil {
		return Request{}, err
	}
	return s.write(ctx, actor, id, ev, func(cur Request) (Status, error) {
		return fire(cur, actor, ev)
	}, apply)
}

// edit changes fields without a status change. guard decides whether the
// actor may edit the request in its current state.
func (s *Service) edit(ctx context.Context, actor auth.Actor, id int64, guard func(cur Request) error, apply func(ctx context.Context, st *step) error) (Request, error) {
	return s.write(ctx, actor, id, "", func(cur Request) (Status, error) {
		if err := guard(cur); err != nil {
			return "", err
		}
		return cur.Status, nil
	}, apply)
}

func (s *Service) write(ctx context.Context, actor auth.Actor, id int64, ev Event, check func(cur Request) (Status, error), apply func(ctx context.Context, st *step) error) (Request, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cur, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Request{}, err
	}

	to, err := check(cur)
	if err != nil {
		return Request{}, err
	}

	now := s.now()
	st := &step{tx: tx, actor: actor, current: cur, next: cur, now: now}
	st.next.Status = to
	st.next.UpdatedAt = now
	if apply != nil {
		if err := apply(ctx, st); err != nil {
			return Request{}, err
		}
	}

	updated, err := s.repo.Update(ctx, tx, st.next)
	if err != nil {
		return Request{}, err
	}

	if cur.Status != updated.Status {
		from := cur.Status
		if err := s.repo.AppendHistory(ctx, tx, HistoryEntry{
			RequestID:  id,
			ActorID:    actor.ID,
			Event:      ev,
			FromStatus: &from,
			ToStatus:   updated.Status,
			Comment:    st.comment,
			CreatedAt:  now,
		}); err != nil {
			return Request{}, err
		}
	}

	if st.topic != "" && s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, st.topic, id, st.payload); err != nil {
			return Request{}, fmt.Errorf("request: enqueue %s: %w", st.topic, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("request: commit %s: %w", ev, err)
	}

	if ev != "" {
		s.logger.Info("request transition",
			zap.Int64("request_id", id),
			zap.String("event", string(ev)),
			zap.String("from", string(cur.Status)),
			zap.String("to", string(updated.Status)),
			zap.Int64("actor_id", actor.ID),
			zap.String("actor_role", string(actor.Role)))
	}
	return updated, nil
}

// Claim moves a NEW request into review by the acting manager. Of two
// managers racing, the second receives ErrAlreadyClaimed.
func (s *Service) Claim(ctx context.Context, actor auth.Actor, id int64) (Request, error) {
	return s.transition(ctx, actor, id, EventClaim, func(ctx context.Context, st *step) error {
		st.next.ManagerID = &actor.ID
		st.next.ProcessedAt = &st.now
		return nil
	})
}

// RequestClarification sends the request back to the customer for details.
func (s *Service) RequestClarification(ctx context.Context, actor auth.Actor, id int64, details string) (Request, error) {
	return s.transition(ctx, actor, id, EventClarify, func(ctx context.Context, st *step) error {
		text := strings.TrimSpace(details)
		if text == "" {
			return ErrClarificationRequired
		}
		st.next.ClarificationDetails = &text
		st.comment = &text
		return nil
	})
}

// Resume returns a request from clarification to manager review.
func (s *Service) Resume(ctx context.Context, actor auth.Actor, id int64) (Request, error) {
	return s.transition(ctx, actor, id, EventResume, nil)
}

// SendToContractors opens the request for contractor responses.
func (s *Service) SendToContractors(ctx context.Context, actor auth.Actor, id int64) (Request, error) {
	return s.transition(ctx, actor, id, EventSend, func(ctx context.Context, st *step) error {
		st.next.SentToBotAt = &st.now
		if st.next.ManagerID == nil {
			st.next.ManagerID = &actor.ID
		}
		st.emit(notify.EventSentToContractors, map[string]any{
			"request_id":     st.next.ID,
			"title":          st.next.Title,
			"urgency":        st.next.Urgency,
			"city":           st.next.City,
			"region":         st.next.Region,
			"equipment_type": st.next.EquipmentType,
		})
		return nil
	})
}

// StartWork moves an assigned request into progress.
func (s *Service) StartWork(ctx context.Context, actor auth.Actor, id int64) (Request, error) {
	return s.transition(ctx, actor, id, EventStart, nil)
}

// CompleteWork closes the request with the final price.
func (s *Service) CompleteWork(ctx context.Context, actor auth.Actor, id int64, finalPrice float64) (Request, error) {
	return s.transition(ctx, actor, id, EventComplete, func(ctx context.Context, st *step) error {
		if finalPrice <= 0 {
			return ErrFinalPriceRequired
		}
		st.next.FinalPrice = &finalPrice
		st.emit(notify.EventRequestCompleted, map[string]any{
			"request_id":    st.next.ID,
			"customer_id":   st.next.CustomerID,
			"contractor_id": st.next.AssignedContractorID,
			"final_price":   finalPrice,
		})
		return nil
	})
}

// Cancel ends the request. Owners may cancel only before it leaves manager
// review; managers and admins may cancel any non-terminal request.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id int64, reason string) (Request, error) {
	return s.transition(ctx, actor, id, EventCancel, func(ctx context.Context, st *step) error {
		text := strings.TrimSpace(reason)
		if text == "" {
			return ErrReasonRequired
		}
		payload := map[string]any{
			"request_id":      st.next.ID,
			"customer_id":     st.next.CustomerID,
			"reason":          text,
			"cancelled_by":    actor.ID,
			"previous_status": st.current.Status,
		}
		if st.current.AssignedContractorID != nil {
			payload["contractor_id"] = *st.current.AssignedContractorID
		}
		st.next.CancelReason = &text
		st.next.AssignedContractorID = nil
		st.comment = &text
		st.emit(notify.EventRequestCancelled, payload)
		return nil
	})
}

type DetailsParams struct {
	Title              *string
	Description        *string
	Urgency            *Urgency
	Address            *string
	City               *string
	Region             *string
	EquipmentType      *string
	EquipmentBrand     *string
	EquipmentModel     *string
	ProblemDescription *string
}

// UpdateDetails lets the owner revise the request while it is NEW or
// awaiting clarification.
func (s *Service) UpdateDetails(ctx context.Context, actor auth.Actor, id int64, params DetailsParams) (Request, error) {
	if err := auth.Authorize(actor, auth.ActionRequestEditOwn); err != nil {
		return Request{}, err
	}
	return s.edit(ctx, actor, id, func(cur Request) error {
		if cur.CustomerID != actor.ID {
			return ErrNotOwner
		}
		if cur.Status != StatusNew && cur.Status != StatusClarification {
			return fmt.Errorf("request: details are locked in %s: %w", cur.Status, apperr.ErrInvalidTransition)
		}
		return nil
	}, func(ctx context.Context, st *step) error {
		return params.apply(&st.next)
	})
}

func (p DetailsParams) apply(r *Request) error {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&r.Title, p.Title)
	set(&r.Description, p.Description)
	set(&r.Address, p.Address)
	set(&r.City, p.City)
	set(&r.Region, p.Region)
	set(&r.EquipmentType, p.EquipmentType)
	set(&r.EquipmentBrand, p.EquipmentBrand)
	set(&r.EquipmentModel, p.EquipmentModel)
	set(&r.ProblemDescription, p.ProblemDescription)
	if p.Urgency != nil {
		if !p.Urgency.Valid() {
			return invalidInput("invalid urgency %q", *p.Urgency)
		}
		r.Urgency = *p.Urgency
	}
	if r.Title == "" {
		return invalidInput("title required")
	}
	if r.Description == "" {
		return invalidInput("description required")
	}
	return nil
}

type ReviewParams struct {
	Priority       *string
	ManagerComment *string
	EstimatedCost  *float64
	ScheduledDate  *time.Time
}

// Review records the manager's assessment while the request is under review
// or awaiting clarification.
func (s *Service) Review(ctx context.Context, actor auth.Actor, id int64, params ReviewParams) (Request, error) {
	if err := auth.Authorize(actor, auth.ActionRequestReview); err != nil {
		return Request{}, err
	}
	return s.edit(ctx, actor, id, func(cur Request) error {
		if cur.Status != StatusManagerReview && cur.Status != StatusClarification {
			return fmt.Errorf("request: review notes are locked in %s: %w", cur.Status, apperr.ErrInvalidTransition)
		}
		return nil
	}, func(ctx context.Context, st *step) error {
		if params.EstimatedCost != nil {
			if *params.EstimatedCost < 0 {
				return invalidInput("estimated cost must not be negative")
			}
			st.next.EstimatedCost = params.EstimatedCost
		}
		if params.Priority != nil {
			st.next.Priority = optional(*params.Priority)
		}
		if params.ManagerComment != nil {
			st.next.ManagerComment = optional(*params.ManagerComment)
		}
		if params.ScheduledDate != nil {
			d := params.ScheduledDate.UTC().Truncate(24 * time.Hour)
			st.next.ScheduledDate = &d
		}
		return nil
	})
}

func optional(s string) *string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// Delete removes a request that is still NEW. Owners may delete their own;
// admins any.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, id int64) error {
	if err := auth.Authorize(actor, auth.ActionDeleteAny, auth.ActionDeleteOwn); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cur, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if !actor.Can(auth.ActionDeleteAny) && cur.CustomerID != actor.ID {
		return ErrNotOwner
	}
	if cur.Status != StatusNew {
		return fmt.Errorf("request: only NEW requests can be deleted, got %s: %w", cur.Status, apperr.ErrInvalidTransition)
	}
	if err := s.repo.Delete(ctx, tx, id); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("request: commit delete: %w", err)
	}

	s.logger.Info("request deleted", zap.Int64("request_id", id), zap.Int64("actor_id", actor.ID))
	return nil
}

// Get returns the request if the actor may see it.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id int64) (Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if !visible(req, actor) {
		return Request{}, ErrNotVisible
	}
	return req, nil
}

func visible(req Request, actor auth.Actor) bool {
	switch {
	case actor.Can(auth.ActionRequestViewAny):
		return true
	case actor.Can(auth.ActionRequestViewOwn) && req.CustomerID == actor.ID:
		return true
	case actor.Can(auth.ActionRequestViewOpen) && (req.Status.OpenForBids() || assignedTo(req, actor.ID)):
		return true
	default:
		return false
	}
}

type ListResult struct {
	Items []Request
	Total int
}

// List returns requests narrowed to what the actor may see.
func (s *Service) List(ctx context.Context, actor auth.Actor, filters Filters) (ListResult, error) {
	switch {
	case actor.Can(auth.ActionRequestViewAny):
	case actor.Can(auth.ActionRequestViewOwn):
		filters.CustomerID = &actor.ID
		filters.ContractorID = nil
	case actor.Can(auth.ActionRequestViewOpen):
		filters.ContractorID = &actor.ID
		filters.CustomerID = nil
	default:
		return ListResult{}, fmt.Errorf("request: list: %w", apperr.ErrAuthorizationDenied)
	}

	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

// History returns the request's status changes, oldest first.
func (s *Service) History(ctx context.Context, actor auth.Actor, id int64) ([]HistoryEntry, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

// AllowedEvents returns the events the actor may currently fire on the request.
func (s *Service) AllowedEvents(ctx context.Context, actor auth.Actor, id int64) ([]Event, error) {
	req, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return AllowedEvents(req, actor), nil
}
