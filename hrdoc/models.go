package hrdoc

import (
	"fmt"
	"sort"
	"time"

	"repairflow/apperr"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusGenerated Status = "generated"
	StatusCompleted Status = "completed"
)

// Type names a document from the catalog.
type Type string

const (
	TypeEmploymentCertificate Type = "employment_certificate"
	TypeSafetyClearance       Type = "safety_clearance"
	TypeAccessPermit          Type = "access_permit"
	TypeContractorAgreement   Type = "contractor_agreement"
	TypeNonDisclosure         Type = "non_disclosure_agreement"
)

var catalog = map[Type]string{
	TypeEmploymentCertificate: "Employment Certificate",
	TypeSafetyClearance:       "Safety Clearance",
	TypeAccessPermit:          "Site Access Permit",
	TypeContractorAgreement:   "Contractor Agreement",
	TypeNonDisclosure:         "Non-Disclosure Agreement",
}

func (t Type) Valid() bool {
	_, ok := catalog[t]
	return ok
}

// Title is the heading printed on the rendered document.
func (t Type) Title() string {
	return catalog[t]
}

// Catalog lists the document types in a stable order.
func Catalog() []Type {
	out := make([]Type, 0, len(catalog))
	for t := range catalog {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Document is an HR document issued to a verified contractor. Content and
// path are written once, on pending to generated.
type Document struct {
	ID            int64
	ContractorID  int64
	Type          Type
	Status        Status
	CreatedBy     int64
	GeneratedBy   *int64
	GeneratedAt   *time.Time
	CompletedBy   *int64
	CompletedAt   *time.Time
	Path          *string
	ContentSHA256 *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var (
	ErrNotFound              = fmt.Errorf("hrdoc: document not found: %w", apperr.ErrNotFound)
	ErrUnknownType           = fmt.Errorf("hrdoc: unknown document type: %w", apperr.ErrPreconditionFailed)
	ErrContractorNotApproved = fmt.Errorf("hrdoc: contractor verification not approved: %w", apperr.ErrPreconditionFailed)
	ErrContentRequired       = fmt.Errorf("hrdoc: document content required: %w", apperr.ErrPreconditionFailed)
	ErrContentEncoding       = fmt.Errorf("hrdoc: document content is not valid UTF-8: %w", apperr.ErrPreconditionFailed)
	ErrNotGenerated          = fmt.Errorf("hrdoc: document has no content yet: %w", apperr.ErrPreconditionFailed)
	ErrNotVisible            = fmt.Errorf("hrdoc: document not visible to actor: %w", apperr.ErrAuthorizationDenied)
	ErrStale                 = fmt.Errorf("hrdoc: document modified concurrently: %w", apperr.ErrConcurrentModification)
)

func invalidTransition(from, to Status) error {
	return fmt.Errorf("hrdoc: cannot move from %s to %s: %w", from, to, apperr.ErrInvalidTransition)
}
