package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const permissionCacheTTL = 5 * time.Minute

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, name, description string, permissions []string) (int64, error)
	UpdateRole(ctx context.Context, id int64, name, description string, permissions []string) error
	DeleteRole(ctx context.Context, id int64) error
	ListPermissions(ctx context.Context) ([]Permission, error)
	UserPermissions(ctx context.Context, userID int64) ([]string, error)
	UserRoles(ctx context.Context, userID int64) ([]string, error)
	ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64) error
}

// Service orchestrates RBAC operations. Effective permission lookups are
// cached in Redis because the RBAC middleware runs on every request.
type Service struct {
	repo  RepositoryPort
	cache *redis.Client
}

// NewService constructs a Service. cache may be nil, lookups then always hit
// the database.
func NewService(repo RepositoryPort, cache *redis.Client) *Service {
	return &Service{repo: repo, cache: cache}
}

// EffectivePermissions returns the distinct permission names granted to the
// user via any role.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	key := permissionCacheKey(userID)
	if s.cache != nil {
		payload, err := s.cache.Get(ctx, key).Bytes()
		if err == nil {
			var perms []string
			if jsonErr := json.Unmarshal(payload, &perms); jsonErr == nil {
				return perms, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("rbac: permission cache get: %w", err)
		}
	}
	perms, err := s.repo.UserPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if perms == nil {
		perms = []string{}
	}
	if s.cache != nil {
		raw, _ := json.Marshal(perms)
		_ = s.cache.Set(ctx, key, raw, permissionCacheTTL).Err()
	}
	return perms, nil
}

// ListRoles returns all roles with their grants.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a single role.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole adds a role with the named permissions.
func (s *Service) CreateRole(ctx context.Context, name, description string, permissions []string) (Role, error) {
	id, err := s.repo.CreateRole(ctx, name, description, permissions)
	if err != nil {
		return Role{}, err
	}
	s.invalidateAll(ctx)
	return s.repo.GetRole(ctx, id)
}

// UpdateRole replaces a role's name, description and grants.
func (s *Service) UpdateRole(ctx context.Context, id int64, name, description string, permissions []string) (Role, error) {
	if err := s.repo.UpdateRole(ctx, id, name, description, permissions); err != nil {
		return Role{}, err
	}
	s.invalidateAll(ctx)
	return s.repo.GetRole(ctx, id)
}

// DeleteRole removes a role.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.invalidateAll(ctx)
	return nil
}

// ListPermissions returns the permission catalogue.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// UserRoles lists role names for a user.
func (s *Service) UserRoles(ctx context.Context, userID int64) ([]string, error) {
	return s.repo.UserRoles(ctx, userID)
}

// ReplaceUserRoles swaps a user's role assignments and drops the user's
// cached permissions.
func (s *Service) ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	if err := s.repo.ReplaceUserRoles(ctx, userID, roleIDs); err != nil {
		return err
	}
	s.invalidateUser(ctx, userID)
	return nil
}

func (s *Service) invalidateUser(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, permissionCacheKey(userID)).Err()
}

// invalidateAll drops every cached permission set. Role mutations affect an
// unknown set of users, so the whole keyspace goes.
func (s *Service) invalidateAll(ctx context.Context) {
	if s.cache == nil {
		return
	}
	iter := s.cache.Scan(ctx, 0, permissionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		_ = s.cache.Del(ctx, iter.Val()).Err()
	}
}

const permissionKeyPrefix = "rbac:perms:"

func permissionCacheKey(userID int64) string {
	return permissionKeyPrefix + strconv.FormatInt(userID, 10)
}
