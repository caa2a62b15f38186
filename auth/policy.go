package auth

import (
	"fmt"
	"sort"

	"repairflow/apperr"
)

// Action names a capability. Scoped variants (own, assigned, self) are
// distinct actions from their unrestricted counterparts.
type Action string

const (
	ActionRequestSubmit   Action = "request:submit"
	ActionRequestViewOwn  Action = "request:view:own"
	ActionRequestViewOpen Action = "request:view:open"
	ActionRequestViewAny  Action = "request:view:any"
	ActionRequestEditOwn  Action = "request:edit:own"
	ActionRequestReview   Action = "request:review"
	ActionRequestClaim    Action = "request:claim"
	ActionRequestClarify  Action = "request:clarify"
	ActionRequestResume   Action = "request:resume"
	ActionRequestSend     Action = "request:send"
	ActionCancelOwn       Action = "request:cancel:own"
	ActionCancelAny       Action = "request:cancel:any"
	ActionDeleteOwn       Action = "request:delete:own"
	ActionDeleteAny       Action = "request:delete:any"

	ActionResponseSubmit    Action = "response:submit"
	ActionResponseSubmitAny Action = "response:submit:any"
	ActionResponseAccept    Action = "response:accept"

	ActionWorkStartAssigned    Action = "work:start:assigned"
	ActionWorkStartAny         Action = "work:start:any"
	ActionWorkCompleteAssigned Action = "work:complete:assigned"
	ActionWorkCompleteAny      Action = "work:complete:any"

	ActionProfileEditSelf   Action = "profile:edit:self"
	ActionContractorViewAny Action = "contractor:view:any"

	ActionVerificationOpenSelf Action = "verification:open:self"
	ActionVerificationOpenAny  Action = "verification:open:any"
	ActionVerificationSecurity Action = "verification:security"
	ActionVerificationManager  Action = "verification:manager"
	ActionVerificationViewSelf Action = "verification:view:self"
	ActionVerificationViewAny  Action = "verification:view:any"

	ActionDocumentCreate   Action = "document:create"
	ActionDocumentGenerate Action = "document:generate"
	ActionDocumentComplete Action = "document:complete"
	ActionDocumentViewOwn  Action = "document:view:own"
	ActionDocumentViewAny  Action = "document:view:any"

	ActionUserProvision Action = "user:provision"
)

var catalog = []Action{
	ActionRequestSubmit, ActionRequestViewOwn, ActionRequestViewOpen, ActionRequestViewAny,
	ActionRequestEditOwn, ActionRequestReview, ActionRequestClaim, ActionRequestClarify,
	ActionRequestResume, ActionRequestSend, ActionCancelOwn, ActionCancelAny,
	ActionDeleteOwn, ActionDeleteAny,
	ActionResponseSubmit, ActionResponseSubmitAny, ActionResponseAccept,
	ActionWorkStartAssigned, ActionWorkStartAny, ActionWorkCompleteAssigned, ActionWorkCompleteAny,
	ActionProfileEditSelf, ActionContractorViewAny,
	ActionVerificationOpenSelf, ActionVerificationOpenAny, ActionVerificationSecurity,
	ActionVerificationManager, ActionVerificationViewSelf, ActionVerificationViewAny,
	ActionDocumentCreate, ActionDocumentGenerate, ActionDocumentComplete,
	ActionDocumentViewOwn, ActionDocumentViewAny,
	ActionUserProvision,
}

// Capabilities is the set of actions granted to a role.
type Capabilities map[Action]struct{}

func capabilities(actions ...Action) Capabilities {
	set := make(Capabilities, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	return set
}

// Has reports whether the set contains action.
func (c Capabilities) Has(action Action) bool {
	_, ok := c[action]
	return ok
}

var policy = map[Role]Capabilities{
	RoleCustomer: capabilities(
		ActionRequestSubmit, ActionRequestViewOwn, ActionRequestEditOwn,
		ActionCancelOwn, ActionDeleteOwn,
	),
	RoleManager: capabilities(
		ActionRequestViewAny, ActionRequestReview, ActionRequestClaim, ActionRequestClarify,
		ActionRequestResume, ActionRequestSend, ActionCancelAny,
		ActionResponseAccept, ActionWorkStartAny, ActionWorkCompleteAny,
		ActionContractorViewAny, ActionVerificationOpenAny, ActionVerificationManager,
		ActionVerificationViewAny,
	),
	RoleContractor: capabilities(
		ActionRequestViewOpen, ActionResponseSubmit,
		ActionWorkStartAssigned, ActionWorkCompleteAssigned,
		ActionProfileEditSelf, ActionVerificationOpenSelf, ActionVerificationViewSelf,
		ActionDocumentViewOwn,
	),
	RoleSecurity: capabilities(
		ActionContractorViewAny, ActionVerificationSecurity, ActionVerificationViewAny,
	),
	RoleHR: capabilities(
		ActionContractorViewAny, ActionVerificationViewAny,
		ActionDocumentCreate, ActionDocumentGenerate, ActionDocumentComplete, ActionDocumentViewAny,
	),
	RoleAdmin: capabilities(catalog...),
}

// Actor identifies who performs an operation. It is passed explicitly into
// every workflow call.
type Actor struct {
	ID   int64
	Role Role
}

// Can reports whether the actor's role holds action.
func (a Actor) Can(action Action) bool {
	return policy[a.Role].Has(action)
}

// Authorize succeeds when the actor holds at least one of actions.
func Authorize(actor Actor, actions ...Action) error {
	for _, action := range actions {
		if actor.Can(action) {
			return nil
		}
	}
	if len(actions) == 1 {
		return fmt.Errorf("auth: role %q may not %s: %w", actor.Role, actions[0], apperr.ErrAuthorizationDenied)
	}
	return fmt.Errorf("auth: role %q may not %v: %w", actor.Role, actions, apperr.ErrAuthorizationDenied)
}

// AllowedActions lists the role's capabilities in a stable order.
func AllowedActions(role Role) []Action {
	set := policy[role]
	out := make([]Action, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func isValidRole(role Role) bool {
	_, ok := policy[role]
	return ok
}
