// Package hrdoc issues HR documents to contractors who cleared verification.
package hrdoc

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

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

type VerificationGate interface {
	ContractorApproved(ctx context.Context, tx pgx.Tx, contractorID int64) (bool, error)
}

type Service struct {
	pool   TxBeginner
	repo   Repository
	gate   VerificationGate
	outbox OutboxWriter
	render func(Sheet) ([]byte, error)
	now    func() time.Time
	logger *zap.Logger
}

func NewService(pool TxBeginner, repo Repository, gate VerificationGate, outbox OutboxWriter) *Service {
	return &Service{
		pool:   pool,
		repo:   repo,
		gate:   gate,
		outbox: outbox,
		render: Render,
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

// WithRenderer replaces the PDF renderer.
func (s *Service) WithRenderer(render func(Sheet) ([]byte, error)) *Service {
	s.render = render
	return s
}

// Create opens a pending document for an approved contractor. Approval is
// read in the same transaction as the insert.
func (s *Service) Create(ctx context.Context, actor auth.Actor, contractorID int64, docType Type) (Document, error) {
	if err := auth.Authorize(actor, auth.ActionDocumentCreate); err != nil {
		return Document{}, err
	}
	if !docType.Valid() {
		return Document{}, fmt.Errorf("%w: %q", ErrUnknownType, docType)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("hrdoc: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ok, err := s.gate.ContractorApproved(ctx, tx, contractorID)
	if err != nil {
		return Document{}, fmt.Errorf("hrdoc: check contractor %d: %w", contractorID, err)
	}
	if !ok {
		return Document{}, ErrContractorNotApproved
	}

	doc, err := s.repo.Create(ctx, tx, Document{
		ContractorID: contractorID,
		Type:         docType,
		Status:       StatusPending,
		CreatedBy:    actor.ID,
	})
	if err != nil {
		return Document{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Document{}, fmt.Errorf("hrdoc: commit create: %w", err)
	}

	s.logger.Info("hr document created",
		zap.Int64("document_id", doc.ID),
		zap.Int64("contractor_id", contractorID),
		zap.String("type", string(docType)))
	return doc, nil
}

// Generate renders body into the document's PDF and moves it to generated.
// Content is immutable afterwards.
func (s *Service) Generate(ctx context.Context, actor auth.Actor, id int64, body string) (Document, error) {
	if err := auth.Authorize(actor, auth.ActionDocumentGenerate); err != nil {
		return Document{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("hrdoc: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	doc, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Document{}, err
	}
	if doc.Status != StatusPending {
		return Document{}, invalidTransition(doc.Status, StatusGenerated)
	}
	if !doc.Type.Valid() {
		return Document{}, fmt.Errorf("%w: %q", ErrUnknownType, doc.Type)
	}
	if strings.TrimSpace(body) == "" {
		return Document{}, ErrContentRequired
	}
	if !utf8.ValidString(body) {
		return Document{}, ErrContentEncoding
	}

	now := s.now()
	content, err := s.render(Sheet{
		Type:         doc.Type,
		DocumentID:   doc.ID,
		ContractorID: doc.ContractorID,
		IssuedBy:     actor.ID,
		IssuedAt:     now,
		Body:         body,
	})
	if err != nil {
		return Document{}, err
	}

	path := documentPath(doc)
	sum := digest(content)
	doc.GeneratedBy = &actor.ID
	doc.GeneratedAt = &now
	doc.Path = &path
	doc.ContentSHA256 = &sum

	updated, err := s.repo.MarkGenerated(ctx, tx, doc, content)
	if err != nil {
		return Document{}, err
	}

	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, notify.EventDocumentGenerated, updated.ID, map[string]any{
			"document_id":   updated.ID,
			"contractor_id": updated.ContractorID,
			"document_type": updated.Type,
			"document_path": path,
		}); err != nil {
			return Document{}, fmt.Errorf("hrdoc: enqueue %s: %w", notify.EventDocumentGenerated, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Document{}, fmt.Errorf("hrdoc: commit generate: %w", err)
	}

	s.logger.Info("hr document generated",
		zap.Int64("document_id", updated.ID),
		zap.String("path", path),
		zap.Int("bytes", len(content)))
	return updated, nil
}

// Complete finalises a generated document. Completing an already completed
// document returns it unchanged.
func (s *Service) Complete(ctx context.Context, actor auth.Actor, id int64) (Document, error) {
	if err := auth.Authorize(actor, auth.ActionDocumentComplete); err != nil {
		return Document{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("hrdoc: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	doc, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Document{}, err
	}
	switch doc.Status {
	case StatusCompleted:
		return doc, nil
	case StatusGenerated:
	default:
		return Document{}, invalidTransition(doc.Status, StatusCompleted)
	}

	updated, err := s.repo.MarkCompleted(ctx, tx, id, actor.ID, s.now())
	if err != nil {
		return Document{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Document{}, fmt.Errorf("hrdoc: commit complete: %w", err)
	}

	s.logger.Info("hr document completed", zap.Int64("document_id", id), zap.Int64("actor_id", actor.ID))
	return updated, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id int64) (Document, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if err := canView(actor, doc.ContractorID); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// List returns documents, optionally for one contractor. Contractors always
// get their own.
func (s *Service) List(ctx context.Context, actor auth.Actor, contractorID *int64) ([]Document, error) {
	if !actor.Can(auth.ActionDocumentViewAny) {
		if err := auth.Authorize(actor, auth.ActionDocumentViewOwn); err != nil {
			return nil, err
		}
		contractorID = &actor.ID
	}
	return s.repo.List(ctx, contractorID)
}

// Content returns the rendered PDF of a generated or completed document.
func (s *Service) Content(ctx context.Context, actor auth.Actor, id int64) ([]byte, Document, error) {
	doc, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, Document{}, err
	}
	if doc.Status == StatusPending {
		return nil, Document{}, ErrNotGenerated
	}
	content, err := s.repo.Content(ctx, id)
	if err != nil {
		return nil, Document{}, err
	}
	return content, doc, nil
}

func canView(actor auth.Actor, contractorID int64) error {
	if actor.Can(auth.ActionDocumentViewAny) {
		return nil
	}
	if err := auth.Authorize(actor, auth.ActionDocumentViewOwn); err != nil {
		return err
	}
	if actor.ID != contractorID {
		return ErrNotVisible
	}
	return nil
}
