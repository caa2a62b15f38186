package verification

import (
	"fmt"
	"strings"
	"time"

	"repairflow/apperr"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

type Stage string

const (
	StageSecurity Stage = "security"
	StageManager  Stage = "manager"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

var (
	ErrNotFound          = fmt.Errorf("verification: not found: %w", apperr.ErrNotFound)
	ErrStageDecided      = fmt.Errorf("verification: stage already decided: %w", apperr.ErrInvalidTransition)
	ErrSecurityPending   = fmt.Errorf("verification: security stage not approved: %w", apperr.ErrPreconditionFailed)
	ErrReasonRequired    = fmt.Errorf("verification: rejection reason required: %w", apperr.ErrPreconditionFailed)
	ErrInvalidDecision   = fmt.Errorf("verification: unknown decision: %w", apperr.ErrPreconditionFailed)
	ErrProfileIncomplete = fmt.Errorf("verification: contractor profile incomplete: %w", apperr.ErrPreconditionFailed)
	ErrActiveCycle       = fmt.Errorf("verification: contractor already has an active verification: %w", apperr.ErrPreconditionFailed)
	ErrStale             = fmt.Errorf("verification: modified concurrently: %w", apperr.ErrConcurrentModification)
)

// Verification is one review cycle for a contractor. Only the latest cycle
// counts; a new cycle is opened explicitly after a rejection.
type Verification struct {
	ID                int64
	ContractorID      int64
	Cycle             int
	SecurityStatus    Status
	SecurityNotes     *string
	SecurityCheckedBy *int64
	SecurityCheckedAt *time.Time
	ManagerStatus     Status
	ManagerNotes      *string
	ManagerCheckedBy  *int64
	ManagerCheckedAt  *time.Time
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OverallStatus derives the contractor's standing from the two stages. It is
// never stored.
func (v Verification) OverallStatus() Status {
	return Overall(v.SecurityStatus, v.ManagerStatus)
}

func Overall(security, manager Status) Status {
	switch {
	case security == StatusRejected || manager == StatusRejected:
		return StatusRejected
	case security == StatusApproved && manager == StatusApproved:
		return StatusApproved
	default:
		return StatusPending
	}
}

func (d Decision) status() (Status, error) {
	switch d {
	case DecisionApprove:
		return StatusApproved, nil
	case DecisionReject:
		return StatusRejected, nil
	default:
		return "", ErrInvalidDecision
	}
}

func cleanNotes(notes string) *string {
	trimmed := strings.TrimSpace(notes)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// decideSecurity records the security stage outcome. A rejection needs a reason.
func (v Verification) decideSecurity(decision Decision, notes string, actorID int64, now time.Time) (Verification, error) {
	status, err := decision.status()
	if err != nil {
		return v, err
	}
	if v.SecurityStatus != StatusPending {
		return v, ErrStageDecided
	}
	n := cleanNotes(notes)
	if status == StatusRejected && n == nil {
		return v, ErrReasonRequired
	}
	v.SecurityStatus = status
	v.SecurityNotes = n
	v.SecurityCheckedBy = &actorID
	v.SecurityCheckedAt = &now
	v.UpdatedAt = now
	return v, nil
}

// decideManager records the manager stage outcome. It is only reachable once
// security has approved.
func (v Verification) decideManager(decision Decision, notes string, actorID int64, now time.Time) (Verification, error) {
	status, err := decision.status()
	if err != nil {
		return v, err
	}
	if v.ManagerStatus != StatusPending {
		return v, ErrStageDecided
	}
	if v.SecurityStatus != StatusApproved {
		return v, ErrSecurityPending
	}
	v.ManagerStatus = status
	v.ManagerNotes = cleanNotes(notes)
	v.ManagerCheckedBy = &actorID
	v.ManagerCheckedAt = &now
	v.UpdatedAt = now
	return v, nil
}
