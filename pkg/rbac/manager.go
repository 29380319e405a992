package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/bastion/pkg/audit"
	"github.com/platinummonkey/bastion/pkg/observability"
)

// Config holds RBAC configuration
type Config struct {
	// CacheTTL is how long a computed permission set may be served
	CacheTTL time.Duration

	// CacheSize bounds the in-memory cache
	CacheSize int

	// Cache overrides the in-memory cache, for example with a RedisCache
	Cache PermissionCache

	// SeedDefaultRoles creates the built-in roles on Initialize
	SeedDefaultRoles bool
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		CacheTTL:         DefaultCacheTTL,
		CacheSize:        10000,
		SeedDefaultRoles: true,
	}
}

// Deps carries the optional collaborators of a Manager
type Deps struct {
	Audit       *audit.Writer
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	OTelMetrics *observability.OTelMetrics
}

// Manager manages all RBAC components
type Manager struct {
	db         *sql.DB
	store      *SQLStore
	cache      PermissionCache
	resolver   *Resolver
	guard      *Guard
	service    *Service
	middleware *PermissionMiddleware
	handlers   *Handlers
	logger     *observability.Logger
	config     Config
}

// NewManager creates a new RBAC manager
func NewManager(db *sql.DB, config Config, deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	cache := config.Cache
	if cache == nil {
		cache = NewMemoryCache(config.CacheSize, config.CacheTTL)
	}

	store := NewSQLStore(db, WithStoreLogger(logger), WithStoreMetrics(deps.Metrics))
	resolver := NewResolver(store,
		WithCache(cache, config.CacheTTL),
		WithLogger(logger),
		WithMetrics(deps.Metrics),
		WithOTelMetrics(deps.OTelMetrics),
	)
	guard := NewGuard(store, resolver, deps.Metrics)
	service := NewService(store, resolver, guard, deps.Audit, logger)
	mw := NewPermissionMiddleware(resolver, service, logger)

	return &Manager{
		db:         db,
		store:      store,
		cache:      cache,
		resolver:   resolver,
		guard:      guard,
		service:    service,
		middleware: mw,
		handlers:   NewHandlers(service, resolver, mw, logger),
		logger:     logger,
		config:     config,
	}
}

// Initialize runs migrations and seeds the built-in roles when configured
func (m *Manager) Initialize(ctx context.Context) error {
	if err := RunMigrations(ctx, m.db, m.logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if m.config.SeedDefaultRoles {
		if _, err := m.service.SeedDefaultRoles(ctx); err != nil {
			return fmt.Errorf("failed to initialize built-in roles: %w", err)
		}
	}

	return nil
}

// RegisterRoutes registers RBAC routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// Store returns the RBAC store
func (m *Manager) Store() *SQLStore {
	return m.store
}

// Resolver returns the permission resolver
func (m *Manager) Resolver() *Resolver {
	return m.resolver
}

// Guard returns the assignment authority guard
func (m *Manager) Guard() *Guard {
	return m.guard
}

// Service returns the role management service
func (m *Manager) Service() *Service {
	return m.service
}

// Middleware returns the permission middleware
func (m *Manager) Middleware() *PermissionMiddleware {
	return m.middleware
}

// Stats summarizes the RBAC tables
type Stats struct {
	TotalRoles       int64       `json:"total_roles"`
	TotalAssignments int64       `json:"total_assignments"`
	SuperAdmins      int64       `json:"super_admins"`
	Cache            *CacheStats `json:"cache,omitempty"`
}

// GetStats returns RBAC statistics
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM roles").Scan(&stats.TotalRoles); err != nil {
		return nil, fmt.Errorf("failed to count roles: %w", err)
	}

	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM role_assignments").Scan(&stats.TotalAssignments); err != nil {
		return nil, fmt.Errorf("failed to count role assignments: %w", err)
	}

	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE is_super_admin = $1", true).Scan(&stats.SuperAdmins); err != nil {
		return nil, fmt.Errorf("failed to count super admins: %w", err)
	}

	if mc, ok := m.cache.(*MemoryCache); ok {
		cs := mc.Stats()
		stats.Cache = &cs
	}

	return stats, nil
}
