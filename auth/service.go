package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"repairflow/apperr"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = fmt.Errorf("auth: password must be at least 8 characters: %w", apperr.ErrPreconditionFailed)
	// ErrSelfServiceRole signals a staff role requested through self-registration.
	ErrSelfServiceRole = fmt.Errorf("auth: role requires provisioning by an administrator: %w", apperr.ErrAuthorizationDenied)
)

// Service handles authentication business logic.
type Service struct {
	repo      Repository
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

// LoginResult bundles the token and domain user returned after a successful login.
type LoginResult struct {
	Token string
	User  User
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  24 * time.Hour,
		now:       time.Now,
	}
}

func (s *Service) WithTokenTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.tokenTTL = ttl
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates a customer or contractor account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleCustomer
	}
	if role != RoleCustomer && role != RoleContractor {
		if isValidRole(role) {
			return nil, ErrSelfServiceRole
		}
		return nil, fmt.Errorf("auth: invalid role %q: %w", role, apperr.ErrPreconditionFailed)
	}
	req.Role = role
	return s.create(ctx, req)
}

// Provision creates an account of any role on behalf of an administrator.
func (s *Service) Provision(ctx context.Context, actor Actor, req RegisterRequest) (*User, error) {
	if err := Authorize(actor, ActionUserProvision); err != nil {
		return nil, err
	}
	if !isValidRole(req.Role) {
		return nil, fmt.Errorf("auth: invalid role %q: %w", req.Role, apperr.ErrPreconditionFailed)
	}
	return s.create(ctx, req)
}

func (s *Service) create(ctx context.Context, req RegisterRequest) (*User, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	email := NormalizeEmail(req.Email)
	if email == "" || strings.TrimSpace(req.FullName) == "" {
		return nil, fmt.Errorf("auth: email and full_name are required: %w", apperr.ErrPreconditionFailed)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	var phone *string
	if p := strings.TrimSpace(req.Phone); p != "" {
		phone = &p
	}

	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		Email:        email,
		FullName:     strings.TrimSpace(req.FullName),
		Phone:        phone,
		PasswordHash: string(passwordHash),
		Role:         req.Role,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Login authenticates a user and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, NormalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(user.ID, user.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{
		Token: token,
		User:  user,
	}, nil
}

// NormalizeEmail is the form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetUserByID retrieves user information by ID.
func (s *Service) GetUserByID(ctx context.Context, userID int64) (*User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// VerifyToken validates a JWT token and returns the actor it was issued to.
func (s *Service) VerifyToken(tokenString string) (Actor, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return Actor{}, fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Actor{}, fmt.Errorf("auth: invalid token")
	}

	rawID, ok := claims["user_id"].(string)
	if !ok {
		return Actor{}, fmt.Errorf("auth: invalid user_id in token")
	}
	userID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return Actor{}, fmt.Errorf("auth: invalid user_id in token: %w", err)
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return Actor{}, fmt.Errorf("auth: invalid role in token")
	}
	role := Role(roleStr)
	if !isValidRole(role) {
		return Actor{}, fmt.Errorf("auth: invalid role %q in token", roleStr)
	}
	return Actor{ID: userID, Role: role}, nil
}

func (s *Service) generateToken(userID int64, role Role) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": strconv.FormatInt(userID, 10),
		"role":    role,
		"exp":     now.Add(s.tokenTTL).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
