package users

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-rms/meridian-rms/internal/shared"
)

// RoleDirectory is the slice of the rbac service the users module needs.
type RoleDirectory interface {
	UserRoles(ctx context.Context, userID int64) ([]string, error)
	ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64) error
}

// AuditPort records state changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles user management business rules.
type Service struct {
	repo  Repository
	roles RoleDirectory
	audit AuditPort
}

// NewService builds a Service.
func NewService(repo Repository, roles RoleDirectory, audit AuditPort) *Service {
	return &Service{repo: repo, roles: roles, audit: audit}
}

// CreateInput collects the fields for a new account.
type CreateInput struct {
	Email    string
	Name     string
	Password string
	RoleIDs  []int64
}

// List returns users with their role names resolved.
func (s *Service) List(ctx context.Context, req shared.PageRequest, search string, includeInactive bool) ([]User, int, error) {
	users, total, err := s.repo.List(ctx, req, search, includeInactive)
	if err != nil {
		return nil, 0, err
	}
	for i := range users {
		if err := s.attachRoles(ctx, &users[i]); err != nil {
			return nil, 0, err
		}
	}
	return users, total, nil
}

// Get fetches one user with roles.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err := s.attachRoles(ctx, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Create adds an account with a bcrypt password hash and optional roles.
func (s *Service) Create(ctx context.Context, input CreateInput, actorID int64) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	id, err := s.repo.Create(ctx, User{
		Email:        input.Email,
		Name:         input.Name,
		PasswordHash: string(hash),
		IsActive:     true,
	})
	if err != nil {
		return User{}, err
	}
	if len(input.RoleIDs) > 0 {
		if err := s.roles.ReplaceUserRoles(ctx, id, input.RoleIDs); err != nil {
			return User{}, err
		}
	}
	s.record(ctx, actorID, "users:create", id, map[string]any{"email": input.Email})
	return s.Get(ctx, id)
}

// Update changes name/email/active state.
func (s *Service) Update(ctx context.Context, id int64, email, name string, isActive bool, actorID int64) (User, error) {
	if err := s.repo.Update(ctx, User{ID: id, Email: email, Name: name, IsActive: isActive}); err != nil {
		return User{}, err
	}
	s.record(ctx, actorID, "users:update", id, map[string]any{"email": email, "is_active": isActive})
	return s.Get(ctx, id)
}

// SetPassword replaces the password hash.
func (s *Service) SetPassword(ctx context.Context, id int64, password string, actorID int64) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("users: hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, id, string(hash)); err != nil {
		return err
	}
	s.record(ctx, actorID, "users:set_password", id, nil)
	return nil
}

// Deactivate soft-deletes the account; existing tokens die at expiry.
func (s *Service) Deactivate(ctx context.Context, id int64, actorID int64) error {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "users:deactivate", id, nil)
	return nil
}

// ReplaceRoles swaps the user's role set.
func (s *Service) ReplaceRoles(ctx context.Context, id int64, roleIDs []int64, actorID int64) (User, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return User{}, err
	}
	if err := s.roles.ReplaceUserRoles(ctx, id, roleIDs); err != nil {
		return User{}, err
	}
	s.record(ctx, actorID, "users:replace_roles", id, map[string]any{"role_ids": roleIDs})
	return s.Get(ctx, id)
}

func (s *Service) attachRoles(ctx context.Context, user *User) error {
	if s.roles == nil {
		return nil
	}
	roles, err := s.roles.UserRoles(ctx, user.ID)
	if err != nil {
		return err
	}
	user.Roles = roles
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, userID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(userID, 10),
		Meta:     meta,
	})
}
