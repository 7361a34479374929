package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultCacheTTL bounds how long a resolved set may be served from cache.
const DefaultCacheTTL = 5 * time.Minute

// ResolverConfig configures a [Resolver].
type ResolverConfig struct {
	// CacheTTL defaults to [DefaultCacheTTL].
	CacheTTL time.Duration
	// OnCacheLookup is called with the outcome of every cache read.
	OnCacheLookup func(hit bool)
	Logger        *slog.Logger
}

// Resolver computes effective permission sets for admins.
type Resolver struct {
	store  Store
	cache  Cache
	config ResolverConfig
	logger *slog.Logger
}

// NewResolver creates a resolver over store. cache may be nil to disable caching.
func NewResolver(store Store, cache Cache, cfg ResolverConfig) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("permission: store required")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{store: store, cache: cache, config: cfg, logger: logger}, nil
}

// EffectivePermissions returns the admin's current set. Users without a role
// binding fail with [ErrNotAdmin]. A failing cache degrades to reading the store.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string) (Set, error) {
	var (
		gen      uint64
		writable bool
	)
	if r.cache != nil {
		codes, g, ok, err := r.cache.Get(ctx, userID)
		if err != nil {
			r.logger.Warn("permission cache read failed", "user_id", userID, "error", err)
		}
		if r.config.OnCacheLookup != nil {
			r.config.OnCacheLookup(ok)
		}
		if ok {
			return NewSet(codes...), nil
		}
		gen, writable = g, err == nil
	}

	set, err := r.load(ctx, userID)
	if err != nil {
		return Set{}, err
	}

	if writable {
		written, err := r.cache.Set(ctx, userID, set.Codes(), r.config.CacheTTL, gen)
		switch {
		case err != nil:
			r.logger.Warn("permission cache write failed", "user_id", userID, "error", err)
		case !written:
			r.logger.Debug("permission cache write skipped after invalidation", "user_id", userID)
		}
	}
	return set, nil
}

func (r *Resolver) load(ctx context.Context, userID string) (Set, error) {
	binding, err := r.store.GetBinding(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Set{}, ErrNotAdmin
	}
	if err != nil {
		return Set{}, fmt.Errorf("load role binding: %w", err)
	}

	role, err := r.store.GetRole(ctx, binding.RoleID)
	if err != nil {
		return Set{}, fmt.Errorf("load role %s: %w", binding.RoleID, err)
	}
	switch role.Name {
	case SuperAdmin:
		return All(), nil
	case Customer:
		return NewSet(CustomerPermissions...), nil
	}
	return Compute(role.Permissions, binding.Override), nil
}

// RequirePermissions reports whether the admin holds every one of codes.
func (r *Resolver) RequirePermissions(ctx context.Context, userID string, codes ...string) (bool, error) {
	set, err := r.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.HasAll(codes...), nil
}

// Invalidate drops cached sets for userIDs and moves their generations, so
// resolutions already in flight do not write back.
func (r *Resolver) Invalidate(ctx context.Context, userIDs ...string) error {
	if r.cache == nil || len(userIDs) == 0 {
		return nil
	}
	if err := r.cache.Delete(ctx, userIDs...); err != nil {
		return fmt.Errorf("invalidate permission cache: %w", err)
	}
	return nil
}

// InvalidateRole drops cached sets for every admin assigned roleID.
func (r *Resolver) InvalidateRole(ctx context.Context, roleID string) error {
	users, err := r.store.UsersWithRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("list role members: %w", err)
	}
	return r.Invalidate(ctx, users...)
}
