package rbac

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/bastion/pkg/audit"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			is_super_admin BOOLEAN NOT NULL DEFAULT 0
		);

		CREATE TABLE roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			code TEXT NOT NULL UNIQUE,
			permissions TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE role_assignments (
			user_id INTEGER NOT NULL,
			role_id INTEGER NOT NULL,
			assigned_by INTEGER,
			assigned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, role_id)
		);
	`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

func createUser(t *testing.T, db *sql.DB, superAdmin bool) int64 {
	t.Helper()

	result, err := db.Exec("INSERT INTO users (is_super_admin) VALUES ($1)", superAdmin)
	require.NoError(t, err)
	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

func createRole(t *testing.T, store Store, name, code string, perms ...Permission) *Role {
	t.Helper()

	role := &Role{Name: name, Code: code, Permissions: perms}
	require.NoError(t, store.CreateRole(context.Background(), role))
	return role
}

// recordingSink keeps audit entries in memory
type recordingSink struct {
	mu      sync.Mutex
	entries []*audit.Entry
	err     error
}

func (s *recordingSink) Log(_ context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) Entries() []*audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*audit.Entry(nil), s.entries...)
}

func (s *recordingSink) Actions() []audit.Action {
	var actions []audit.Action
	for _, e := range s.Entries() {
		actions = append(actions, e.Action)
	}
	return actions
}

type testEnv struct {
	db       *sql.DB
	store    *SQLStore
	cache    *MemoryCache
	resolver *Resolver
	guard    *Guard
	service  *Service
	sink     *recordingSink
}

func newTestEnv(t *testing.T, writerOpts ...audit.WriterOption) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	store := NewSQLStore(db)
	cache := NewMemoryCache(100, time.Minute)
	resolver := NewResolver(store, WithCache(cache, time.Minute))
	guard := NewGuard(store, resolver, nil)
	sink := &recordingSink{}
	writer := audit.NewWriter(sink, nil, writerOpts...)

	return &testEnv{
		db:       db,
		store:    store,
		cache:    cache,
		resolver: resolver,
		guard:    guard,
		service:  NewService(store, resolver, guard, writer, nil),
		sink:     sink,
	}
}

// seedDefaults creates the built-in roles and returns them by code
func (e *testEnv) seedDefaults(t *testing.T) map[string]*Role {
	t.Helper()

	roles := make(map[string]*Role)
	for _, r := range DefaultRoles() {
		roles[r.Code] = createRole(t, e.store, r.Name, r.Code, r.Permissions...)
	}
	return roles
}
