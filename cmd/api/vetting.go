package main

import (
	"context"
	"net/http"
	"time"

	"repairflow/auth"
	"repairflow/hrdoc"
	"repairflow/verification"
)

type verificationResponse struct {
	ID                int64   `json:"id"`
	ContractorID      int64   `json:"contractor_id"`
	Cycle             int     `json:"cycle"`
	OverallStatus     string  `json:"overall_status"`
	SecurityStatus    string  `json:"security_status"`
	SecurityNotes     *string `json:"security_notes,omitempty"`
	SecurityCheckedBy *int64  `json:"security_checked_by,omitempty"`
	SecurityCheckedAt *string `json:"security_checked_at,omitempty"`
	ManagerStatus     string  `json:"manager_status"`
	ManagerNotes      *string `json:"manager_notes,omitempty"`
	ManagerCheckedBy  *int64  `json:"manager_checked_by,omitempty"`
	ManagerCheckedAt  *string `json:"manager_checked_at,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

func toVerificationResponse(v verification.Verification) verificationResponse {
	return verificationResponse{
		ID:                v.ID,
		ContractorID:      v.ContractorID,
		Cycle:             v.Cycle,
		OverallStatus:     string(v.OverallStatus()),
		SecurityStatus:    string(v.SecurityStatus),
		SecurityNotes:     v.SecurityNotes,
		SecurityCheckedBy: v.SecurityCheckedBy,
		SecurityCheckedAt: formatTime(v.SecurityCheckedAt),
		ManagerStatus:     string(v.ManagerStatus),
		ManagerNotes:      v.ManagerNotes,
		ManagerCheckedBy:  v.ManagerCheckedBy,
		ManagerCheckedAt:  formatTime(v.ManagerCheckedAt),
		CreatedAt:         v.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleOpenVerification(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor auth.Actor) {
		var body struct {
			ContractorID int64 `json:"contractor_id"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		if body.ContractorID == 0 {
			body.ContractorID = actor.ID
		}
		v, err := s.verificationService.Open(r.Context(), actor, body.ContractorID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toVerificationResponse(v))
	})
}

func (s *Server) handleGetVerification(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor auth.Actor) {
		id, ok := pathID(w, r, "verificationID")
		if !ok {
			return
		}
		v, err := s.verificationService.Get(r.Context(), actor, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toVerificationResponse(v))
	})
}

func (s *Server) handleLatestVerification(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor auth.Actor) {
		id, ok := pathID(w, r, "contractorID")
		if !ok {
			return
		}
		v, err := s.verificationService.Latest(r.Context(), actor, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toVerificationResponse(v))
	})
}

func (s *Server) handleVerificationQueue(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor auth.Actor) {
		stage := verification.Stage(r.URL.Query().Get("stage"))
		if stage == "" {
			stage = verification.StageSecurity
		}
		if stage != verification.StageSecurity && stage != verification.StageManager {
			writeMessage(w, http.StatusBadRequest, "stage must be security or manager")
			return
		}
		list, err := s.verificationService.Queue(r.Context(), actor, stage, queryInt(r, "limit"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		items := make([]verificationResponse, 0, len(list))
		for _, v := range list {
			items = append(items, toVerificationResponse(v))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	})
}

type decisionBody struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
}

func (s *Server) handleSecurityDecision(w http.ResponseWriter, r *http.Request) {
	s.decision(w, r, s.verificationService.SubmitSecurityDecision)
}

func (s *Server) handleManagerDecision(w http.ResponseWriter, r *http.Request) {
	s.decision(w, r, s.verificationService.SubmitManagerDecision)
}

func (s *Server) decision(w http.ResponseWriter, r *http.Request,
	submit func(ctx context.Context, actor auth.Actor, params verification.DecisionParams) (verification.Verification, error),
) {
	withActor(w, r, func(actor auth.Actor) {
		id, ok := pathID(w, r, "verificationID")
		if !ok {
			return
		}
		var body decisionBody
		if !decodeJSON(w, r, &body) {
			return
		}
		v, err := submit(r.Context(), actor, verification.DecisionParams{
			VerificationID: id,
			Decision:       verification.Decision(body.Decision),
			Notes:          body.Notes,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toVerificationResponse(v))
	})
}

type documentResponse struct {
	ID            int64   `json:"id"`
	ContractorID  int64   `json:"contractor_id"`
	DocumentType  string  `json:"document_type"`
	Status        string  `json:"document_status"`
	CreatedBy     int64   `json:"created_by"`
	GeneratedBy   *int64  `json:"generated_by,omitempty"`
	GeneratedAt   *string `json:"generated_at,omitempty"`
	CompletedBy   *int64  `json:"completed_by,omitempty"`
	CompletedAt   *string `json:"completed_at,omitempty"`
	DocumentPath  *string `json:"document_path,omitempty"`
	ContentSHA256 *string `json:"content_sha256,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

func toDocumentResponse(d hrdoc.Document) documentResponse {
	return documentResponse{
		ID:            d.ID,
		ContractorID:  d.ContractorID,
		DocumentType:  string(d.Type),
		Status:        string(d.Status),
		CreatedBy:     d.CreatedBy,
		GeneratedBy:   d.GeneratedBy,
		GeneratedAt:   formatTime(d.GeneratedAt),
		CompletedBy:   d.CompletedBy,
		CompletedAt:   formatTime(d.CompletedAt),
		DocumentPath:  d.Path,
		ContentSHA256: d.ContentSHA256,
		CreatedAt:     d.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleDocumentTypes(w http.ResponseWriter, _ *http.Request) {
	type entry struct {
		Type  string `json:"type"`
		Title string `json:"title"`
	}
	types := hrdoc.Catalog()
	items := make([]entry, 0, len(types))
	for _, t := range types {
		items = append(items, entry{Type: string(t), Title: t.Title()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor auth.Actor) {
		var body struct {
			ContractorID int64  `json:"contractor_id"`
			DocumentType string `json:"document_type"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		doc, err := s.documentService.Create(r.Context(), actor, body.ContractorID, hrdoc.Type(body.DocumentType))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toDocumentResponse(doc))
	})
}

func (s *Server) handleGenerateDocument(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	s.documentCall(w, r, func(actor auth.Actor, id int64) (hrdoc.Document, error) {
		return s.documentService.Generate(r.Context(), actor, id, body.Content)
	})
}

func (s *Server) handleCompleteDocument(w http.ResponseWriter, r *http.Request) {
	s.documentCall(w, r, func(actor auth.Actor, id int64) (hrdoc.Document, error) {
		return s.documentService.Complete(r.Context(), actor, id)
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	s.documentCall(w, r, func(actor auth.Actor, id int64) (hrdoc.Document, error) {
		return s.documentService.Get(r.Context(), actor, id)
	})
}

func (s *Server) documentCall(w http.ResponseWriter, r *http.Request, op func(actor auth.Actor, id int64) (hrdoc.Document, error)) {
	withActor(w, r, func(actor auth.Actor) {
		id, ok := pathID(w, r, "documentID")
		if !ok {
			return
		}
		doc, err := op(actor, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toDocumentResponse(doc))
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor auth.Actor) {
		contractorID, err := queryID(r, "contractor_id")
		if err != nil {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		docs, err := s.documentService.List(r.Context(), actor, contractorID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		items := make([]documentResponse, 0, len(docs))
		for _, d := range docs {
			items = append(items, toDocumentResponse(d))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	})
}

func (s *Server) handleDocumentContent(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor auth.Actor) {
		id, ok := pathID(w, r, "documentID")
		if !ok {
			return
		}
		content, doc, err := s.documentService.Content(r.Context(), actor, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		if doc.ContentSHA256 != nil {
			w.Header().Set("ETag", `"`+*doc.ContentSHA256+`"`)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content)
	})
}
