package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/exchange"
)

// UserService resolves the user behind a request, creating it on first
// sight.
type UserService struct {
	engine          *exchange.Engine
	startingBalance float64
	logger          *slog.Logger
}

// NewUserService creates a UserService. New users receive startingBalance
// tokens.
func NewUserService(engine *exchange.Engine, startingBalance float64, logger *slog.Logger) *UserService {
	return &UserService{
		engine:          engine,
		startingBalance: startingBalance,
		logger:          logger.With(slog.String("component", "user_service")),
	}
}

// GetOrCreate returns the user with the given id, creating it with the
// starting balance if it does not exist yet.
func (s *UserService) GetOrCreate(ctx context.Context, id string) (domain.User, error) {
	u, err := s.engine.GetUser(ctx, id)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, fmt.Errorf("user_service: %w", err)
	}

	u, err = s.engine.CreateUser(ctx, id, s.startingBalance)
	if errors.Is(err, domain.ErrAlreadyExists) {
		// lost a race with a concurrent first request
		u, err = s.engine.GetUser(ctx, id)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("user_service: %w", err)
	}
	s.logger.InfoContext(ctx, "user created",
		slog.String("user_id", id),
		slog.Float64("balance", u.Balance),
	)
	return u, nil
}

// Get returns an existing user.
func (s *UserService) Get(ctx context.Context, id string) (domain.User, error) {
	u, err := s.engine.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("user_service: %w", err)
	}
	return u, nil
}
