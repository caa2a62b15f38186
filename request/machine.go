package request

import (
	"fmt"

	"repairflow/apperr"
	"repairflow/auth"
)

// Event names a request transition.
type Event string

const (
	EventClaim    Event = "claim"
	EventClarify  Event = "clarify"
	EventResume   Event = "resume"
	EventSend     Event = "send"
	EventRespond  Event = "respond"
	EventAccept   Event = "accept"
	EventStart    Event = "start"
	EventComplete Event = "complete"
	EventCancel   Event = "cancel"
)

var events = []Event{
	EventClaim, EventClarify, EventResume, EventSend, EventRespond,
	EventAccept, EventStart, EventComplete, EventCancel,
}

var transitions = map[Status]map[Event]Status{
	StatusNew: {
		EventClaim:  StatusManagerReview,
		EventCancel: StatusCancelled,
	},
	StatusManagerReview: {
		EventClarify: StatusClarification,
		EventSend:    StatusSentToContractors,
		EventCancel:  StatusCancelled,
	},
	StatusClarification: {
		EventResume: StatusManagerReview,
		EventSend:   StatusSentToContractors,
		EventCancel: StatusCancelled,
	},
	StatusSentToContractors: {
		EventRespond: StatusContractorResponses,
		EventAccept:  StatusAssigned,
		EventCancel:  StatusCancelled,
	},
	StatusContractorResponses: {
		EventRespond: StatusContractorResponses,
		EventAccept:  StatusAssigned,
		EventCancel:  StatusCancelled,
	},
	StatusAssigned: {
		EventStart:  StatusInProgress,
		EventCancel: StatusCancelled,
	},
	StatusInProgress: {
		EventComplete: StatusCompleted,
		EventCancel:   StatusCancelled,
	},
}

// eventActions lists the capabilities that may fire each event; holding any
// one of them is enough to pass the role check.
var eventActions = map[Event][]auth.Action{
	EventClaim:    {auth.ActionRequestClaim},
	EventClarify:  {auth.ActionRequestClarify},
	EventResume:   {auth.ActionRequestResume},
	EventSend:     {auth.ActionRequestSend},
	EventRespond:  {auth.ActionResponseSubmit},
	EventAccept:   {auth.ActionResponseAccept},
	EventStart:    {auth.ActionWorkStartAny, auth.ActionWorkStartAssigned},
	EventComplete: {auth.ActionWorkCompleteAny, auth.ActionWorkCompleteAssigned},
	EventCancel:   {auth.ActionCancelAny, auth.ActionCancelOwn},
}

// customerCancellable are the states an owner may still withdraw from.
var customerCancellable = map[Status]bool{
	StatusNew:           true,
	StatusManagerReview: true,
}

// Next returns the state ev leads to from s.
func Next(s Status, ev Event) (Status, error) {
	to, ok := transitions[s][ev]
	if !ok {
		return "", invalidTransition(s, ev)
	}
	return to, nil
}

func invalidTransition(s Status, ev Event) error {
	return fmt.Errorf("request: cannot %s from %s: %w", ev, s, apperr.ErrInvalidTransition)
}

// fire validates ev against the request and actor and returns the target
// state. The role check has already passed.
func fire(req Request, actor auth.Actor, ev Event) (Status, error) {
	switch ev {
	case EventCancel:
		if !actor.Can(auth.ActionCancelAny) {
			if req.CustomerID != actor.ID {
				return "", ErrNotOwner
			}
			if !req.Status.Terminal() && !customerCancellable[req.Status] {
				return "", fmt.Errorf("request: owner cannot cancel in %s: %w", req.Status, apperr.ErrInvalidTransition)
			}
		}
	case EventStart:
		if !actor.Can(auth.ActionWorkStartAny) && !assignedTo(req, actor.ID) {
			return "", ErrNotAssigned
		}
	case EventComplete:
		if !actor.Can(auth.ActionWorkCompleteAny) && !assignedTo(req, actor.ID) {
			return "", ErrNotAssigned
		}
	case EventClaim:
		if req.Status != StatusNew && req.ManagerID != nil && !req.Status.Terminal() {
			return "", ErrAlreadyClaimed
		}
	case EventAccept:
		// Only ASSIGNED means another acceptance won; later states are plain
		// invalid transitions.
		if req.Status == StatusAssigned {
			return "", ErrAlreadyAssigned
		}
	}
	return Next(req.Status, ev)
}

func assignedTo(req Request, contractorID int64) bool {
	return req.AssignedContractorID != nil && *req.AssignedContractorID == contractorID
}

// AllowedEvents lists the events actor could fire on req right now. It is a
// read model for clients; every operation re-checks on write.
func AllowedEvents(req Request, actor auth.Actor) []Event {
	var out []Event
	for _, ev := range events {
		if auth.Authorize(actor, eventActions[ev]...) != nil {
			continue
		}
		if _, err := fire(req, actor, ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}
