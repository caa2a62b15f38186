package main

import (
	"net/http"
	"time"

	"repairflow/auth"
	"repairflow/contractor"
)

type userResponse struct {
	ID        int64   `json:"id"`
	Email     string  `json:"email"`
	FullName  string  `json:"full_name"`
	Phone     *string `json:"phone,omitempty"`
	Role      string  `json:"role"`
	CreatedAt string  `json:"created_at"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Phone:     u.Phone,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body auth.RegisterRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	user, err := s.authService.Register(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body auth.LoginRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	res, err := s.authService.Login(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": res.Token,
		"user":  toUserResponse(res.User),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor auth.Actor) {
		user, err := s.authService.GetUserByID(r.Context(), actor.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		actions := auth.AllowedActions(actor.Role)
		names := make([]string, 0, len(actions))
		for _, a := range actions {
			names = append(names, string(a))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user":    toUserResponse(*user),
			"actions": names,
		})
	})
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor auth.Actor) {
		var body auth.RegisterRequest
		if !decodeJSON(w, r, &body) {
			return
		}
		user, err := s.authService.Provision(r.Context(), actor, body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toUserResponse(*user))
	})
}

type profileBody struct {
	FullName        string `json:"full_name"`
	Phone           string `json:"phone"`
	City            string `json:"city"`
	Specialization  string `json:"specialization"`
	ExperienceYears int    `json:"experience_years"`
}

type profileResponse struct {
	UserID          int64    `json:"user_id"`
	FullName        string   `json:"full_name"`
	Phone           string   `json:"phone"`
	City            string   `json:"city"`
	Specialization  string   `json:"specialization"`
	ExperienceYears int      `json:"experience_years"`
	Complete        bool     `json:"complete"`
	Missing         []string `json:"missing,omitempty"`
	UpdatedAt       string   `json:"updated_at"`
}

func toProfileResponse(p contractor.Profile) profileResponse {
	return profileResponse{
		UserID:          p.UserID,
		FullName:        p.FullName,
		Phone:           p.Phone,
		City:            p.City,
		Specialization:  p.Specialization,
		ExperienceYears: p.ExperienceYears,
		Complete:        p.Complete(),
		Missing:         p.Missing(),
		UpdatedAt:       p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor auth.Actor) {
		var body profileBody
		if !decodeJSON(w, r, &body) {
			return
		}
		p, err := s.contractorService.SaveProfile(r.Context(), actor, contractor.Profile{
			FullName:        body.FullName,
			Phone:           body.Phone,
			City:            body.City,
			Specialization:  body.Specialization,
			ExperienceYears: body.ExperienceYears,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toProfileResponse(p))
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor auth.Actor) {
		id, ok := pathID(w, r, "contractorID")
		if !ok {
			return
		}
		p, err := s.contractorService.Get(r.Context(), actor, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toProfileResponse(p))
	})
}

// handleListContractors lists contractors eligible for work.
func (s *Server) handleListContractors(w http.ResponseWriter, r *http.Request) {
	withActor(w, r, func(actor auth.Actor) {
		q := r.URL.Query()
		list, err := s.contractorService.ListEligible(r.Context(), actor, contractor.Filters{
			City:           q.Get("city"),
			Specialization: q.Get("specialization"),
			Limit:          queryInt(r, "limit"),
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		items := make([]profileResponse, 0, len(list))
		for _, p := range list {
			items = append(items, toProfileResponse(p))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
	})
}
