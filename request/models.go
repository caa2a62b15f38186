package request

import (
	"fmt"
	"time"

	"repairflow/apperr"
)

type Status string

const (
	StatusNew                 Status = "NEW"
	StatusManagerReview       Status = "MANAGER_REVIEW"
	StatusClarification       Status = "CLARIFICATION"
	StatusSentToContractors   Status = "SENT_TO_CONTRACTORS"
	StatusContractorResponses Status = "CONTRACTOR_RESPONSES"
	StatusAssigned            Status = "ASSIGNED"
	StatusInProgress          Status = "IN_PROGRESS"
	StatusCompleted           Status = "COMPLETED"
	StatusCancelled           Status = "CANCELLED"
)

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// OpenForBids reports whether contractors may respond in s.
func (s Status) OpenForBids() bool {
	return s == StatusSentToContractors || s == StatusContractorResponses
}

// HasAssignment reports whether a request in s must carry an assigned contractor.
func (s Status) HasAssignment() bool {
	return s == StatusAssigned || s == StatusInProgress || s == StatusCompleted
}

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	default:
		return false
	}
}

// Request is a customer's repair request. Status changes only through the
// transition table in machine.go.
type Request struct {
	ID                   int64
	CustomerID           int64
	Title                string
	Description          string
	Urgency              Urgency
	Address              string
	City                 string
	Region               string
	EquipmentType        string
	EquipmentBrand       string
	EquipmentModel       string
	ProblemDescription   string
	Priority             *string
	ManagerComment       *string
	ClarificationDetails *string
	EstimatedCost        *float64
	FinalPrice           *float64
	ScheduledDate        *time.Time
	Status               Status
	ManagerID            *int64
	AssignedContractorID *int64
	CancelReason         *string
	Version              int
	CreatedAt            time.Time
	UpdatedAt            time.Time
	ProcessedAt          *time.Time
	AssignedAt           *time.Time
	// SentToBotAt is stamped when the request is broadcast to contractors.
	SentToBotAt *time.Time
}

// Response is a contractor's bid on a request.
type Response struct {
	ID            int64
	RequestID     int64
	ContractorID  int64
	ProposedPrice float64
	EstimatedTime string
	Comment       string
	IsAccepted    bool
	CreatedAt     time.Time
}

type ResponseState string

const (
	ResponsePending    ResponseState = "pending"
	ResponseAccepted   ResponseState = "accepted"
	ResponseSuperseded ResponseState = "superseded"
)

// State derives the response's standing from its parent request. Siblings of
// the accepted response are never rewritten; they read as superseded once
// bidding has closed.
func (r Response) State(parent Request) ResponseState {
	switch {
	case r.IsAccepted:
		return ResponseAccepted
	case parent.Status.OpenForBids():
		return ResponsePending
	default:
		return ResponseSuperseded
	}
}

// HistoryEntry records one status change.
type HistoryEntry struct {
	ID         int64
	RequestID  int64
	ActorID    int64
	Event      Event
	FromStatus *Status
	ToStatus   Status
	Comment    *string
	CreatedAt  time.Time
}

type Filters struct {
	CustomerID *int64
	// ContractorID limits results to requests open for bids or assigned to
	// this contractor.
	ContractorID *int64
	Status       Status
	City         string
	Page         int
	PageSize     int
}

var (
	ErrNotFound                = fmt.Errorf("request: not found: %w", apperr.ErrNotFound)
	ErrResponseNotFound        = fmt.Errorf("request: response not found: %w", apperr.ErrNotFound)
	ErrNotOwner                = fmt.Errorf("request: actor does not own the request: %w", apperr.ErrAuthorizationDenied)
	ErrNotAssigned             = fmt.Errorf("request: actor is not the assigned contractor: %w", apperr.ErrAuthorizationDenied)
	ErrNotVisible              = fmt.Errorf("request: not visible to actor: %w", apperr.ErrAuthorizationDenied)
	ErrAlreadyClaimed          = fmt.Errorf("request: already claimed by a manager: %w", apperr.ErrConcurrentModification)
	ErrAlreadyAssigned         = fmt.Errorf("request: a response was already accepted: %w", apperr.ErrConcurrentModification)
	ErrStale                   = fmt.Errorf("request: modified concurrently: %w", apperr.ErrConcurrentModification)
	ErrReasonRequired          = fmt.Errorf("request: cancellation reason required: %w", apperr.ErrPreconditionFailed)
	ErrClarificationRequired   = fmt.Errorf("request: clarification text required: %w", apperr.ErrPreconditionFailed)
	ErrFinalPriceRequired      = fmt.Errorf("request: final price required: %w", apperr.ErrPreconditionFailed)
	ErrInvalidPrice            = fmt.Errorf("request: price must be positive: %w", apperr.ErrPreconditionFailed)
	ErrContractorNotApproved   = fmt.Errorf("request: contractor verification not approved: %w", apperr.ErrPreconditionFailed)
	ErrDuplicateResponse       = fmt.Errorf("request: contractor already responded: %w", apperr.ErrPreconditionFailed)
	ErrDuplicateIdempotencyKey = fmt.Errorf("request: duplicate idempotency key: %w", apperr.ErrConcurrentModification)
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("request: "+format+": %w", append(args, apperr.ErrPreconditionFailed)...)
}
