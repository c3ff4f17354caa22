package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/shopguard/internal/apperrors"
	"github.com/nkiryanov/shopguard/internal/models"
)

type UserRepo struct {
	s *Storage
}

func (r *UserRepo) CreateUser(_ context.Context, u models.User) (models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.users {
		if u.Username != "" && existing.Username == u.Username {
			return models.User{}, apperrors.ErrUserAlreadyExists
		}
		if u.Mobile != "" && existing.Mobile == u.Mobile {
			return models.User{}, apperrors.ErrUserAlreadyExists
		}
	}

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if _, ok := r.s.users[u.ID]; ok {
		return models.User{}, apperrors.ErrUserAlreadyExists
	}
	u.CreatedAt = time.Now()

	r.s.users[u.ID] = u
	return u, nil
}

func (r *UserRepo) GetUserByID(_ context.Context, id uuid.UUID) (models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return models.User{}, apperrors.ErrUserNotFound
	}
	return u, nil
}

func (r *UserRepo) GetUserByUsername(_ context.Context, username string) (models.User, error) {
	return r.find(func(u models.User) bool { return u.Username == username })
}

func (r *UserRepo) GetUserByMobile(_ context.Context, mobile string) (models.User, error) {
	return r.find(func(u models.User) bool { return u.Mobile == mobile })
}

func (r *UserRepo) UpdatePassword(_ context.Context, id uuid.UUID, hashedPassword string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return apperrors.ErrUserNotFound
	}
	u.HashedPassword = hashedPassword
	r.s.users[id] = u
	return nil
}

func (r *UserRepo) find(match func(models.User) bool) (models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if match(u) {
			return u, nil
		}
	}
	return models.User{}, apperrors.ErrUserNotFound
}
