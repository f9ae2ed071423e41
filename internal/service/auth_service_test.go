package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/emotionsapp/messaging/internal/domain"
	"github.com/emotionsapp/messaging/internal/security"
	"github.com/emotionsapp/messaging/internal/service"
)

type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) ListActive(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	return nil, nil // Not used in auth tests
}

func TestRegister(t *testing.T) {
	tokenSvc := security.NewTokenService("secret", time.Hour)
	hasher := security.NewPasswordHasher(4) // low cost for tests

	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

		mockRepo.On("GetByUsername", mock.Anything, "newuser").Return(nil, nil)
		mockRepo.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
			return u.Username == "newuser" && u.Role == domain.RolePatient
		})).Return(nil)

		user, err := svc.Register(context.Background(), service.RegisterInput{
			Username: "newuser",
			Password: "Password1!",
		})
		assert.NoError(t, err)
		assert.NotNil(t, user)
		assert.Equal(t, "newuser", user.Username)
		assert.Equal(t, "newuser", user.DisplayName)
	})

	t.Run("UsernameTaken", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

		existing := &domain.User{Username: "existing"}
		mockRepo.On("GetByUsername", mock.Anything, "existing").Return(existing, nil)

		user, err := svc.Register(context.Background(), service.RegisterInput{
			Username: "existing",
			Password: "Password1!",
		})
		assert.Error(t, err)
		assert.Nil(t, user)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("UnknownRole", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)

		user, err := svc.Register(context.Background(), service.RegisterInput{
			Username: "someone",
			Password: "Password1!",
			Role:     "admin",
		})
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Nil(t, user)
	})
}

func TestLogin(t *testing.T) {
	tokenSvc := security.NewTokenService("secret", time.Hour)
	hasher := security.NewPasswordHasher(4)

	hashed, err := hasher.Hash("Password1!")
	assert.NoError(t, err)

	active := &domain.User{
		ID:             "u1",
		Username:       "mentor",
		DisplayName:    "A Mentor",
		Role:           domain.RoleMoodMentor,
		HashedPassword: hashed,
		IsActive:       true,
	}

	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)
		mockRepo.On("GetByUsername", mock.Anything, "mentor").Return(active, nil)

		res, err := svc.Login(context.Background(), service.LoginInput{
			Username: "mentor",
			Password: "Password1!",
		})
		assert.NoError(t, err)
		assert.NotEmpty(t, res.AccessToken)
		assert.Equal(t, "bearer", res.TokenType)

		claims, err := tokenSvc.Parse(res.AccessToken)
		assert.NoError(t, err)
		assert.Equal(t, "mentor", claims["sub"])
		assert.Equal(t, "mood_mentor", claims["role"])
	})

	t.Run("WrongPassword", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)
		mockRepo.On("GetByUsername", mock.Anything, "mentor").Return(active, nil)

		res, err := svc.Login(context.Background(), service.LoginInput{
			Username: "mentor",
			Password: "nope",
		})
		assert.ErrorIs(t, err, domain.ErrAuth)
		assert.Nil(t, res)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc := service.NewAuthService(mockRepo, tokenSvc, hasher)
		mockRepo.On("GetByUsername", mock.Anything, "ghost").Return(nil, nil)

		res, err := svc.Login(context.Background(), service.LoginInput{
			Username: "ghost",
			Password: "Password1!",
		})
		assert.ErrorIs(t, err, domain.ErrAuth)
		assert.Nil(t, res)
	})
}
