package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/bastion/pkg/observability"
)

const tracerName = "github.com/platinummonkey/bastion/pkg/rbac"

// Resolver computes effective permissions and answers permission checks.
//
// Reads go through the PermissionCache. Concurrent misses for the same
// user share one datastore load. A load that was started before an
// invalidation of its user is never written back to the cache, so a
// check that begins after InvalidateUser returns always sees committed
// state. Cached entries computed before the latest invalidation of their
// user are treated as misses, so a cache delete that fails does not keep
// serving revoked permissions.
//
// The super-admin bypass lives here and nowhere else.
type Resolver struct {
	store   Store
	cache   PermissionCache
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
	otel    *observability.OTelMetrics
	tracer  trace.Tracer
	now     func() time.Time

	group singleflight.Group

	// fill and read guards
	mu             sync.RWMutex
	epoch          uint64
	seq            uint64
	invalidatedAll time.Time
	invalidated    *lru.LRU[int64, invalidation]
}

// invalidation marks the last InvalidateUser call for a user. Markers are
// dropped once every entry they could shadow has expired.
type invalidation struct {
	seq uint64
	at  time.Time
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithCache sets the permission cache and its entry TTL. A nil cache or a
// non-positive TTL disables caching.
func WithCache(cache PermissionCache, ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if cache == nil || ttl <= 0 {
			r.cache = NopCache{}
			r.ttl = 0
			return
		}
		r.cache = cache
		r.ttl = ttl
	}
}

// WithLogger sets the logger used for degraded-cache warnings
func WithLogger(logger *observability.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records checks and cache activity
func WithMetrics(metrics *observability.Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = metrics
	}
}

// WithOTelMetrics records check and load latencies
func WithOTelMetrics(m *observability.OTelMetrics) ResolverOption {
	return func(r *Resolver) {
		r.otel = m
	}
}

// WithTracer overrides the global tracer
func WithTracer(tracer trace.Tracer) ResolverOption {
	return func(r *Resolver) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// NewResolver creates a resolver over store. Without WithCache it uses an
// in-memory cache with DefaultCacheTTL.
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:  store,
		cache:  NewMemoryCache(0, DefaultCacheTTL),
		ttl:    DefaultCacheTTL,
		logger: observability.NewNopLogger(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	markerTTL := 2 * r.ttl
	if markerTTL <= 0 {
		markerTTL = DefaultCacheTTL
	}
	r.invalidated = lru.NewLRU[int64, invalidation](0, nil, markerTTL)
	return r
}

// GetUserWithRoles loads a user and every role assigned to it. It always
// reads the datastore.
func (r *Resolver) GetUserWithRoles(ctx context.Context, userID int64) (*UserWithRoles, error) {
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	roles, err := r.store.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &UserWithRoles{User: *user, Roles: roles}, nil
}

// HasPermission reports whether the user holds p
func (r *Resolver) HasPermission(ctx context.Context, userID int64, p Permission) (bool, error) {
	missing, err := r.Covers(ctx, userID, []Permission{p})
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}

// RequirePermission returns a *PermissionDeniedError unless the user holds p
func (r *Resolver) RequirePermission(ctx context.Context, userID int64, p Permission) error {
	return r.RequireAll(ctx, userID, p)
}

// RequireAll returns a *PermissionDeniedError listing every permission in
// perms the user lacks
func (r *Resolver) RequireAll(ctx context.Context, userID int64, perms ...Permission) error {
	start := r.now()
	missing, err := r.Covers(ctx, userID, perms)
	if err != nil {
		r.recordCheck(ctx, "error", start)
		return err
	}
	if len(missing) > 0 {
		r.recordCheck(ctx, "denied", start)
		return &PermissionDeniedError{UserID: userID, Missing: missing}
	}

	r.recordCheck(ctx, "allowed", start)
	return nil
}

// RequireAny succeeds if the user holds at least one of perms
func (r *Resolver) RequireAny(ctx context.Context, userID int64, perms ...Permission) error {
	start := r.now()
	missing, err := r.Covers(ctx, userID, perms)
	if err != nil {
		r.recordCheck(ctx, "error", start)
		return err
	}
	if len(perms) > 0 && len(missing) == len(NewPermissionSet(perms...)) {
		r.recordCheck(ctx, "denied", start)
		return &PermissionDeniedError{UserID: userID, Missing: missing}
	}

	r.recordCheck(ctx, "allowed", start)
	return nil
}

func (r *Resolver) recordCheck(ctx context.Context, result string, start time.Time) {
	r.metrics.RecordPermissionCheck(result)
	r.otel.RecordPermissionCheck(ctx, result, r.now().Sub(start))
}

// Covers returns the permissions in required that the user does not hold.
// An empty result means every permission is held.
func (r *Resolver) Covers(ctx context.Context, userID int64, required []Permission) ([]Permission, error) {
	for _, p := range required {
		if !p.IsValid() {
			return nil, invalid("permission", "unknown permission %q", p.String())
		}
	}

	entry, err := r.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	return missingFrom(entry, required), nil
}

// EffectivePermissions returns the user's permission set. Super-admins
// receive the whole catalog and superAdmin=true.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID int64) (perms PermissionSet, superAdmin bool, err error) {
	entry, err := r.resolve(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if entry.SuperAdmin {
		return NewPermissionSet(AllPermissions()...), true, nil
	}
	return entry.Permissions.Union(nil), false, nil
}

// missingFrom applies the super-admin bypass
func missingFrom(entry *CacheEntry, required []Permission) []Permission {
	if entry.SuperAdmin {
		return nil
	}
	return entry.Permissions.Missing(required)
}

// InvalidateUser discards any cached computation for userID. Loads that
// are in flight when it is called will not repopulate the cache, and this
// resolver ignores older entries even if the cache delete fails.
func (r *Resolver) InvalidateUser(ctx context.Context, userID int64) {
	r.mu.Lock()
	r.seq++
	r.invalidated.Add(userID, invalidation{seq: r.seq, at: r.now()})
	r.mu.Unlock()

	r.metrics.RecordCacheInvalidation("user")
	if err := r.cache.Invalidate(context.WithoutCancel(ctx), userID); err != nil {
		r.metrics.RecordCacheError("invalidate")
		r.logger.WithError(err).WithField("user_id", userID).Warn("Failed to invalidate permission cache entry")
	}
}

// InvalidateAll discards every cached computation
func (r *Resolver) InvalidateAll(ctx context.Context) {
	r.mu.Lock()
	r.epoch++
	r.invalidatedAll = r.now()
	r.invalidated.Purge()
	r.mu.Unlock()

	r.metrics.RecordCacheInvalidation("all")
	if err := r.cache.InvalidateAll(context.WithoutCancel(ctx)); err != nil {
		r.metrics.RecordCacheError("invalidate_all")
		r.logger.WithError(err).Warn("Failed to invalidate permission cache")
	}
}

type fillToken struct {
	epoch uint64
	gen   uint64
}

// generation must be called with r.mu held
func (r *Resolver) generation(userID int64) uint64 {
	m, ok := r.invalidated.Peek(userID)
	if !ok {
		return 0
	}
	return m.seq
}

func (r *Resolver) currentToken(userID int64) fillToken {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fillToken{epoch: r.epoch, gen: r.generation(userID)}
}

// invalidatedSince reports whether userID was invalidated after entry
// was computed
func (r *Resolver) invalidatedSince(entry *CacheEntry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry.ComputedAt.Before(r.invalidatedAll) {
		return true
	}
	m, ok := r.invalidated.Peek(entry.UserID)
	return ok && entry.ComputedAt.Before(m.at)
}

func (r *Resolver) resolve(ctx context.Context, userID int64) (*CacheEntry, error) {
	entry, err := r.cache.Get(ctx, userID)
	if err == nil && r.invalidatedSince(entry) {
		err = ErrCacheMiss
	}
	if err == nil {
		r.metrics.RecordCacheHit()
		return entry, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		r.metrics.RecordCacheError("get")
		r.logger.WithError(err).WithField("user_id", userID).Warn("Permission cache read failed, reading datastore")
	}
	r.metrics.RecordCacheMiss()

	token := r.currentToken(userID)
	key := fmt.Sprintf("%d/%d/%d", userID, token.epoch, token.gen)

	// the shared load must not fail because the caller that started it
	// went away
	ch := r.group.DoChan(key, func() (interface{}, error) {
		return r.load(context.WithoutCancel(ctx), userID, token)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*CacheEntry), nil
	}
}

func (r *Resolver) load(ctx context.Context, userID int64, token fillToken) (entry *CacheEntry, err error) {
	ctx, span := r.tracer.Start(ctx, "rbac.Resolver.load",
		trace.WithAttributes(attribute.Int64("rbac.user_id", userID)))
	defer span.End()

	start := r.now()
	defer func() { r.otel.RecordPermissionLoad(ctx, r.now().Sub(start), err) }()

	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	entry = &CacheEntry{
		UserID:      userID,
		SuperAdmin:  user.IsSuperAdmin,
		Permissions: make(PermissionSet),
		ComputedAt:  start,
	}

	if !user.IsSuperAdmin {
		roles, err := r.store.GetUserRoles(ctx, userID)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		for _, role := range roles {
			for _, p := range role.Permissions {
				entry.Permissions.Add(p)
			}
		}
	}
	entry.ExpiresAt = entry.ComputedAt.Add(r.ttl)

	span.SetAttributes(
		attribute.Bool("rbac.super_admin", entry.SuperAdmin),
		attribute.Int("rbac.permission_count", entry.Permissions.Len()),
	)

	r.fill(ctx, entry, token)
	return entry, nil
}

// fill stores entry unless the user was invalidated after token was taken.
// The read lock excludes InvalidateUser and InvalidateAll for the duration
// of the check and the write.
func (r *Resolver) fill(ctx context.Context, entry *CacheEntry, token fillToken) {
	if r.ttl <= 0 {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.epoch != token.epoch || r.generation(entry.UserID) != token.gen {
		return
	}

	if err := r.cache.Put(ctx, entry, r.ttl); err != nil {
		r.metrics.RecordCacheError("put")
		r.logger.WithError(err).WithField("user_id", entry.UserID).Warn("Failed to populate permission cache")
	}
}
