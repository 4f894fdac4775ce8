package auth

import (
	"context"
	"errors"

	"authcore.dev/internal/ids"
)

// EnsureSuperAdmin creates a superAdmin role and user for email unless a user
// with that email already exists. It reports whether anything was created.
func (s *Service) EnsureSuperAdmin(ctx context.Context, email, password string) (bool, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return false, invalidInput("bootstrap email and password are required")
	}
	_, err := call(ctx, s, "find user", func(c context.Context) (*User, error) {
		return s.store.Users(c).FindByEmail(c, email)
	})
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	hash, err := HashPassword(password, nil)
	if err != nil {
		return false, err
	}
	now := s.now()
	role := &Role{
		ID:        ids.New(),
		Name:      "Super Admin",
		Type:      RoleTypeSuperAdmin,
		Abilities: []Ability{{Subject: SubjectAll, Actions: []Action{ActionManage}}},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := exec(ctx, s, "create role", func(c context.Context) error {
		return s.store.Roles(c).Create(c, role)
	}); err != nil {
		return false, err
	}
	user := &User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash.Hash,
		PasswordSalt: hash.Salt,
		Status:       UserStatusActive,
		RoleID:       role.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := exec(ctx, s, "create user", func(c context.Context) error {
		return s.store.Users(c).Create(c, user)
	}); err != nil {
		if errors.Is(err, ErrConflict) {
			// another instance bootstrapped concurrently
			return false, nil
		}
		return false, err
	}
	s.emit(ctx, "auth.bootstrap.super_admin", map[string]any{"user_id": user.ID})
	return true, nil
}
