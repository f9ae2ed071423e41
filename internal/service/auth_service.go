package service

import (
	"context"
	"fmt"

	"github.com/emotionsapp/messaging/internal/domain"
	"github.com/emotionsapp/messaging/internal/security"
)

// AuthService handles registration and login for patients and mood mentors.
type AuthService struct {
	users  domain.UserRepository
	tokens *security.TokenService
	hash   *security.PasswordHasher
}

func NewAuthService(users domain.UserRepository, tokens *security.TokenService, hash *security.PasswordHasher) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		hash:   hash,
	}
}

type RegisterInput struct {
	Username    string
	DisplayName string
	Password    string
	Role        domain.Role
}

type LoginInput struct {
	Username string
	Password string
}

type TokenResponse struct {
	AccessToken string
	TokenType   string
	User        *domain.User
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	if in.Username == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", domain.ErrValidation)
	}
	switch in.Role {
	case domain.RolePatient, domain.RoleMoodMentor:
	case "":
		in.Role = domain.RolePatient
	default:
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrValidation, in.Role)
	}
	if in.DisplayName == "" {
		in.DisplayName = in.Username
	}

	if existing, err := s.users.GetByUsername(ctx, in.Username); err != nil {
		return nil, domain.Backendf("check username", err)
	} else if existing != nil {
		return nil, fmt.Errorf("%w: username already registered", domain.ErrValidation)
	}

	hashed, err := s.hash.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Username:       in.Username,
		DisplayName:    in.DisplayName,
		Role:           in.Role,
		HashedPassword: hashed,
		IsActive:       true,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, domain.Backendf("create user", err)
	}
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*TokenResponse, error) {
	user, err := s.users.GetByUsername(ctx, in.Username)
	if err != nil {
		return nil, domain.Backendf("get user", err)
	}
	if user == nil || !user.IsActive {
		return nil, fmt.Errorf("%w: incorrect username or password", domain.ErrAuth)
	}

	if err := s.hash.Verify(in.Password, user.HashedPassword); err != nil {
		return nil, fmt.Errorf("%w: incorrect username or password", domain.ErrAuth)
	}

	token, err := s.tokens.CreateForUser(user.Username, string(user.Role))
	if err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}

	return &TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user,
	}, nil
}
