package service

import (
	"context"
	"fmt"

	"github.com/emotionsapp/messaging/internal/domain"
)

// UserService exposes read operations for counterpart discovery.
type UserService struct {
	users domain.UserRepository
}

func NewUserService(users domain.UserRepository) *UserService {
	return &UserService{users: users}
}

func (s *UserService) GetByID(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, domain.Backendf("get user", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
	}
	return user, nil
}

func (s *UserService) ListActive(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	users, err := s.users.ListActive(ctx, offset, limit)
	if err != nil {
		return nil, domain.Backendf("list users", err)
	}
	return users, nil
}
