// Package actors drives the workflow services concurrently against a real
// database. Rejections from the error taxonomy are expected under contention;
// anything else is counted as an infrastructure failure.
package actors

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"repairflow/apperr"
	"repairflow/auth"
	"repairflow/outbox"
	"repairflow/request"
	"repairflow/verification"
)

// Stats counts outcomes across every actor.
type Stats struct {
	OK       atomic.Int64
	Rejected atomic.Int64
	Failed   atomic.Int64
}

func (s *Stats) record(err error) {
	switch {
	case err == nil:
		s.OK.Add(1)
	case apperr.Kind(err) != nil:
		s.Rejected.Add(1)
	default:
		s.Failed.Add(1)
	}
}

func (s *Stats) String() string {
	return fmt.Sprintf("ok=%d rejected=%d failed=%d", s.OK.Load(), s.Rejected.Load(), s.Failed.Load())
}

// World bundles the services the actors share.
type World struct {
	Requests      *request.Service
	Verifications *verification.Service
	Relay         *outbox.Relay
	Stats         *Stats
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(minMS, spreadMS int) {
	time.Sleep(time.Duration(minMS+rand.Intn(spreadMS)) * time.Millisecond)
}

// pick lists requests in status visible to actor and returns one at random.
func pick(ctx context.Context, w *World, actor auth.Actor, status request.Status) (request.Request, bool) {
	res, err := w.Requests.List(ctx, actor, request.Filters{Status: status, PageSize: 20})
	if err != nil || len(res.Items) == 0 {
		return request.Request{}, false
	}
	return res.Items[rand.Intn(len(res.Items))], true
}

// Customer submits requests, sometimes replaying an idempotency key, and
// withdraws some of them before work begins.
func Customer(ctx context.Context, w *World, actor auth.Actor, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, err := w.Requests.Submit(ctx, actor, request.SubmitParams{
			Title:          "Stress repair",
			Description:    "Generated under load",
			Urgency:        request.UrgencyMedium,
			City:           "Almaty",
			IdempotencyKey: fmt.Sprintf("stress-%d", rand.Intn(50)),
		})
		w.Stats.record(err)

		if rand.Intn(5) == 0 {
			if req, ok := pick(ctx, w, actor, request.StatusManagerReview); ok {
				_, err := w.Requests.Cancel(ctx, actor, req.ID, "changed my mind")
				w.Stats.record(err)
			}
		}
		pause(20, 40)
	}
	return nil
}

// Manager claims new requests, publishes them and accepts bids.
func Manager(ctx context.Context, w *World, actor auth.Actor, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if req, ok := pick(ctx, w, actor, request.StatusNew); ok {
			_, err := w.Requests.Claim(ctx, actor, req.ID)
			w.Stats.record(err)
		}
		if req, ok := pick(ctx, w, actor, request.StatusManagerReview); ok {
			_, err := w.Requests.SendToContractors(ctx, actor, req.ID)
			w.Stats.record(err)
		}
		if req, ok := pick(ctx, w, actor, request.StatusContractorResponses); ok {
			views, err := w.Requests.Responses(ctx, actor, req.ID)
			if err == nil && len(views) > 0 {
				v := views[rand.Intn(len(views))]
				_, err = w.Requests.AcceptResponse(ctx, actor, req.ID, v.ID)
			}
			w.Stats.record(err)
		}
		if rand.Intn(10) == 0 {
			if req, ok := pick(ctx, w, actor, request.StatusAssigned); ok {
				_, err := w.Requests.Cancel(ctx, actor, req.ID, "customer unreachable")
				w.Stats.record(err)
			}
		}
		pause(15, 30)
	}
	return nil
}

// Contractor bids on open requests and works the ones assigned to them.
func Contractor(ctx context.Context, w *World, actor auth.Actor, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		status := request.StatusSentToContractors
		if rand.Intn(2) == 0 {
			status = request.StatusContractorResponses
		}
		if req, ok := pick(ctx, w, actor, status); ok {
			_, err := w.Requests.SubmitResponse(ctx, actor, request.ResponseParams{
				RequestID:     req.ID,
				ProposedPrice: float64(50 + rand.Intn(500)),
				EstimatedTime: "2 days",
			})
			w.Stats.record(err)
		}
		if req, ok := pick(ctx, w, actor, request.StatusAssigned); ok {
			_, err := w.Requests.StartWork(ctx, actor, req.ID)
			w.Stats.record(err)
		}
		if req, ok := pick(ctx, w, actor, request.StatusInProgress); ok {
			_, err := w.Requests.CompleteWork(ctx, actor, req.ID, float64(100+rand.Intn(900)))
			w.Stats.record(err)
		}
		pause(15, 30)
	}
	return nil
}

// Vetter reopens rejected verification cycles and works both review queues,
// so the approval gate flips while bids are being accepted.
func Vetter(ctx context.Context, w *World, security, manager auth.Actor, contractorIDs []int64, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		id := contractorIDs[rand.Intn(len(contractorIDs))]
		_, err := w.Verifications.Open(ctx, manager, id)
		w.Stats.record(err)

		if queue, err := w.Verifications.Queue(ctx, security, verification.StageSecurity, 10); err == nil {
			for _, v := range queue {
				decision := verification.DecisionApprove
				if rand.Intn(4) == 0 {
					decision = verification.DecisionReject
				}
				_, err := w.Verifications.SubmitSecurityDecision(ctx, security, verification.DecisionParams{
					VerificationID: v.ID, Decision: decision, Notes: "stress review",
				})
				w.Stats.record(err)
			}
		}
		if queue, err := w.Verifications.Queue(ctx, manager, verification.StageManager, 10); err == nil {
			for _, v := range queue {
				_, err := w.Verifications.SubmitManagerDecision(ctx, manager, verification.DecisionParams{
					VerificationID: v.ID, Decision: verification.DecisionApprove,
				})
				w.Stats.record(err)
			}
		}
		pause(100, 100)
	}
	return nil
}

// OutboxWorker drains the outbox through the relay.
func OutboxWorker(ctx context.Context, w *World, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, err := w.Relay.RunOnce(ctx)
		w.Stats.record(err)
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}
