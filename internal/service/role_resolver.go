package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/auth-api/internal/models"
)

type roleRepository interface {
	FindRoleByName(ctx context.Context, name models.RoleName) (*models.Role, error)
}

// RoleResolver maps role names to rows of the static role set, caching the
// result. It is only used when assigning a role on registration; the role of
// an authenticated caller is always read from the store.
type RoleResolver struct {
	repo   roleRepository
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
}

// NewRoleResolver constructs a RoleResolver. cache may be nil.
func NewRoleResolver(repo roleRepository, cache *CacheService, ttl time.Duration, logger *zap.Logger) *RoleResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleResolver{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// Resolve returns the role named name.
func (r *RoleResolver) Resolve(ctx context.Context, name models.RoleName) (*models.Role, error) {
	key := roleCacheKey(name)

	var cached models.Role
	if hit, _ := r.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	role, err := r.repo.FindRoleByName(ctx, name)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, key, role, r.ttl); err != nil {
		r.logger.Debug("role not cached", zap.String("role", string(name)), zap.Error(err))
	}
	return role, nil
}

func roleCacheKey(name models.RoleName) string {
	return "roles:" + string(name)
}
