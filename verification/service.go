package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"repairflow/apperr"
	"repairflow/auth"
	"repairflow/contractor"
	"repairflow/logging"
	"repairflow/notify"
)

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic notify.EventType, subjectID int64, payload map[string]any) error
}

// ProfileReader resolves the contractor profile checked before a cycle opens.
type ProfileReader interface {
	GetByID(ctx context.Context, userID int64) (contractor.Profile, error)
}

type Service struct {
	pool     TxBeginner
	repo     Repository
	profiles ProfileReader
	outbox   OutboxWriter
	now      func() time.Time
	logger   *zap.Logger
}

func NewService(pool TxBeginner, repo Repository, profiles ProfileReader, outbox OutboxWriter) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		profiles: profiles,
		outbox:   outbox,
		now:      time.Now,
		logger:   zap.NewNop(),
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

// Open starts a verification cycle for a contractor whose profile is
// complete. A new cycle is refused while a pending or approved one exists.
func (s *Service) Open(ctx context.Context, actor auth.Actor, contractorID int64) (Verification, error) {
	if !actor.Can(auth.ActionVerificationOpenAny) {
		if err := auth.Authorize(actor, auth.ActionVerificationOpenSelf); err != nil {
			return Verification{}, err
		}
		if actor.ID != contractorID {
			return Verification{}, fmt.Errorf("verification: open for another contractor: %w", apperr.ErrAuthorizationDenied)
		}
	}

	profile, err := s.profiles.GetByID(ctx, contractorID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Verification{}, ErrProfileIncomplete
		}
		return Verification{}, err
	}
	if missing := profile.Missing(); len(missing) > 0 {
		return Verification{}, fmt.Errorf("%w: missing %v", ErrProfileIncomplete, missing)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Verification{}, fmt.Errorf("verification: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	latest, err := s.repo.LatestForUpdate(ctx, tx, contractorID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return Verification{}, err
	case latest.OverallStatus() != StatusRejected:
		return Verification{}, ErrActiveCycle
	}

	created, err := s.repo.Create(ctx, tx, contractorID)
	if err != nil {
		return Verification{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Verification{}, fmt.Errorf("verification: commit open: %w", err)
	}

	s.logger.Info("verification opened",
		zap.Int64("verification_id", created.ID),
		zap.Int64("contractor_id", contractorID),
		zap.Int("cycle", created.Cycle),
		zap.Int64("actor_id", actor.ID))
	return created, nil
}

type DecisionParams struct {
	VerificationID int64
	Decision       Decision
	Notes          string
}

// SubmitSecurityDecision records the security stage outcome.
func (s *Service) SubmitSecurityDecision(ctx context.Context, actor auth.Actor, params DecisionParams) (Verification, error) {
	if err := auth.Authorize(actor, auth.ActionVerificationSecurity); err != nil {
		return Verification{}, err
	}
	return s.decide(ctx, actor, params, StageSecurity)
}

// SubmitManagerDecision records the manager stage outcome once security has approved.
func (s *Service) SubmitManagerDecision(ctx context.Context, actor auth.Actor, params DecisionParams) (Verification, error) {
	if err := auth.Authorize(actor, auth.ActionVerificationManager); err != nil {
		return Verification{}, err
	}
	return s.decide(ctx, actor, params, StageManager)
}

func (s *Service) decide(ctx context.Context, actor auth.Actor, params DecisionParams, stage Stage) (Verification, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Verification{}, fmt.Errorf("verification: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, params.VerificationID)
	if err != nil {
		return Verification{}, err
	}

	now := s.now()
	var next Verification
	if stage == StageSecurity {
		next, err = current.decideSecurity(params.Decision, params.Notes, actor.ID, now)
	} else {
		next, err = current.decideManager(params.Decision, params.Notes, actor.ID, now)
	}
	if err != nil {
		return Verification{}, err
	}

	updated, err := s.repo.Update(ctx, tx, next)
	if err != nil {
		return Verification{}, err
	}

	before, after := current.OverallStatus(), updated.OverallStatus()
	if before != after && s.outbox != nil {
		topic := notify.EventVerificationApproved
		if after == StatusRejected {
			topic = notify.EventVerificationRejected
		}
		payload := map[string]any{
			"verification_id": updated.ID,
			"contractor_id":   updated.ContractorID,
			"stage":           stage,
			"status":          after,
		}
		if stage == StageSecurity && updated.SecurityNotes != nil {
			payload["reason"] = *updated.SecurityNotes
		}
		if stage == StageManager && updated.ManagerNotes != nil {
			payload["reason"] = *updated.ManagerNotes
		}
		if err := s.outbox.Enqueue(ctx, tx, topic, updated.ContractorID, payload); err != nil {
			return Verification{}, fmt.Errorf("verification: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Verification{}, fmt.Errorf("verification: commit decision: %w", err)
	}

	s.logger.Info("verification stage decided",
		zap.Int64("verification_id", updated.ID),
		zap.String("stage", string(stage)),
		zap.String("decision", string(params.Decision)),
		zap.String("overall", string(after)),
		zap.Int64("actor_id", actor.ID))
	return updated, nil
}

// Get returns a verification to staff or to the contractor it belongs to.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id int64) (Verification, error) {
	if err := auth.Authorize(actor, auth.ActionVerificationViewAny, auth.ActionVerificationViewSelf); err != nil {
		return Verification{}, err
	}
	v, err := s.repo.Get(ctx, id)
	if err != nil {
		return Verification{}, err
	}
	if !actor.Can(auth.ActionVerificationViewAny) && v.ContractorID != actor.ID {
		return Verification{}, fmt.Errorf("verification: view %d: %w", id, apperr.ErrAuthorizationDenied)
	}
	return v, nil
}

// Latest returns the contractor's current cycle.
func (s *Service) Latest(ctx context.Context, actor auth.Actor, contractorID int64) (Verification, error) {
	if !actor.Can(auth.ActionVerificationViewAny) {
		if err := auth.Authorize(actor, auth.ActionVerificationViewSelf); err != nil {
			return Verification{}, err
		}
		if actor.ID != contractorID {
			return Verification{}, fmt.Errorf("verification: view contractor %d: %w", contractorID, apperr.ErrAuthorizationDenied)
		}
	}
	return s.repo.Latest(ctx, contractorID)
}

// Queue lists cycles waiting on stage for the actor able to decide it.
func (s *Service) Queue(ctx context.Context, actor auth.Actor, stage Stage, limit int) ([]Verification, error) {
	action := auth.ActionVerificationSecurity
	if stage == StageManager {
		action = auth.ActionVerificationManager
	} else if stage != StageSecurity {
		return nil, fmt.Errorf("verification: unknown stage %q: %w", stage, apperr.ErrPreconditionFailed)
	}
	if err := auth.Authorize(actor, action); err != nil {
		return nil, err
	}
	return s.repo.Queue(ctx, stage, limit)
}

// ContractorApproved reports whether the contractor's latest cycle is
// approved, reading it inside tx so the answer holds until tx ends.
func (s *Service) ContractorApproved(ctx context.Context, tx pgx.Tx, contractorID int64) (bool, error) {
	v, err := s.repo.LatestShared(ctx, tx, contractorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return v.OverallStatus() == StatusApproved, nil
}
