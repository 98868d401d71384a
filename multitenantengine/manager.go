package multitenantengine

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/retrofor/Siamese/internal/logger"
	"github.com/retrofor/Siamese/rules"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrReadOnlyTenant = errors.New("tenant is read-only")
	ErrInvalidSchema  = errors.New("validation failed")
)

// TenantEngine wraps a rules.Engine with tenant-specific metadata
type TenantEngine struct {
	TenantID string
	Schema   Schema
	Engine   *rules.Engine
	ReadOnly bool
}

// StoreFactory creates the rule store backing a tenant
type StoreFactory func(tenantID string) rules.RuleStore

// Option configures a Manager
type Option func(*Manager)

// WithStoreFactory overrides how tenant rule stores are created.
// By default tenants use a PostgresRuleStore on the manager's database,
// or an in-memory store when the manager has no database.
func WithStoreFactory(f StoreFactory) Option {
	return func(m *Manager) {
		m.newStore = f
	}
}

// Manager manages engines for all tenants. Tenant engines are replaced as a
// whole, so a schema change never exposes a half-built engine to evaluations.
type Manager struct {
	engines  map[string]*TenantEngine
	db       *sql.DB
	newStore StoreFactory
	mu       sync.RWMutex
}

// NewManager creates a new manager instance. With a nil db, tenants keep
// their rules in memory for the life of the manager.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		engines: make(map[string]*TenantEngine),
		db:      db,
	}
	if db != nil {
		m.newStore = func(tenantID string) rules.RuleStore {
			return rules.NewPostgresRuleStore(db, tenantID)
		}
	} else {
		m.newStore = memoryStoreFactory()
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// memoryStoreFactory hands out one InMemoryRuleStore per tenant, so rules
// survive the engine rebuild of a schema update
func memoryStoreFactory() StoreFactory {
	var mu sync.Mutex
	stores := make(map[string]*rules.InMemoryRuleStore)
	return func(tenantID string) rules.RuleStore {
		mu.Lock()
		defer mu.Unlock()
		store, ok := stores[tenantID]
		if !ok {
			store = rules.NewInMemoryRuleStore()
			stores[tenantID] = store
		}
		return store
	}
}

// LoadAllTenants loads all tenants with an active schema from the database
// and initializes their engines
func (m *Manager) LoadAllTenants() error {
	if m.db == nil {
		return fmt.Errorf("no database configured")
	}

	rows, err := m.db.Query(`
		SELECT t.id, s.definition
		FROM tenants t
		JOIN schemas s ON s.tenant_id = t.id
		WHERE s.active = true
	`)
	if err != nil {
		return fmt.Errorf("failed to fetch tenants: %w", err)
	}
	defer rows.Close()

	type tenantRow struct {
		id     string
		schema Schema
	}
	var tenants []tenantRow
	for rows.Next() {
		var (
			tenantID   string
			schemaJSON []byte
		)
		if err := rows.Scan(&tenantID, &schemaJSON); err != nil {
			return fmt.Errorf("failed to scan tenant row: %w", err)
		}

		var schema Schema
		if err := json.Unmarshal(schemaJSON, &schema); err != nil {
			return fmt.Errorf("invalid schema for tenant %s: %w", tenantID, err)
		}
		tenants = append(tenants, tenantRow{id: tenantID, schema: schema})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating tenant rows: %w", err)
	}

	// Rows are closed before the engines query the rules table
	rows.Close()

	for _, t := range tenants {
		if err := m.CreateTenant(t.id, t.schema); err != nil {
			return fmt.Errorf("failed to initialize tenant %s: %w", t.id, err)
		}
	}

	logger.Info("tenants loaded", "count", len(tenants))
	return nil
}

// CreateTenant builds the engine for a tenant and registers it
func (m *Manager) CreateTenant(tenantID string, schema Schema) error {
	if err := ValidateSchema(schema); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}

	engine, err := rules.NewEngine(m.newStore(tenantID))
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	m.mu.Lock()
	m.engines[tenantID] = &TenantEngine{
		TenantID: tenantID,
		Schema:   schema,
		Engine:   engine,
	}
	m.mu.Unlock()

	return nil
}

// RegisterEngine registers a tenant backed by an existing engine, such as
// one serving rules from files
func (m *Manager) RegisterEngine(tenantID string, schema Schema, engine *rules.Engine, readOnly bool) error {
	if schema != nil {
		if err := ValidateSchema(schema); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSchema, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.engines[tenantID] = &TenantEngine{
		TenantID: tenantID,
		Schema:   schema,
		Engine:   engine,
		ReadOnly: readOnly,
	}
	return nil
}

// GetTenant retrieves the tenant engine and metadata
func (m *Manager) GetTenant(tenantID string) (*TenantEngine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	te, exists := m.engines[tenantID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}

	return te, nil
}

// GetEngine retrieves the engine for a specific tenant
func (m *Manager) GetEngine(tenantID string) (*rules.Engine, error) {
	te, err := m.GetTenant(tenantID)
	if err != nil {
		return nil, err
	}
	return te.Engine, nil
}

// UpdateTenantSchema stores a new schema version and swaps in a freshly
// built engine. Evaluations in flight keep using the previous engine.
func (m *Manager) UpdateTenantSchema(tenantID string, newSchema Schema) (int, error) {
	if err := ValidateSchema(newSchema); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}

	m.mu.RLock()
	current, exists := m.engines[tenantID]
	m.mu.RUnlock()
	if exists && current.ReadOnly {
		return 0, fmt.Errorf("%w: %s", ErrReadOnlyTenant, tenantID)
	}

	version := 0
	if m.db != nil {
		v, err := m.saveSchema(tenantID, newSchema)
		if err != nil {
			return 0, err
		}
		version = v
	}

	engine, err := rules.NewEngine(m.newStore(tenantID))
	if err != nil {
		return 0, fmt.Errorf("failed to create new engine: %w", err)
	}

	m.mu.Lock()
	m.engines[tenantID] = &TenantEngine{
		TenantID: tenantID,
		Schema:   newSchema,
		Engine:   engine,
	}
	m.mu.Unlock()

	logger.Info("tenant schema updated",
		"tenant_id", tenantID,
		"version", version,
		"rules", engine.Executor().Len(),
	)
	return version, nil
}

// saveSchema deactivates the previous schema and inserts the next version
func (m *Manager) saveSchema(tenantID string, schema Schema) (int, error) {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal schema: %w", err)
	}

	tx, err := m.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE schemas
		SET active = false
		WHERE tenant_id = $1
	`, tenantID); err != nil {
		return 0, fmt.Errorf("failed to deactivate old schemas: %w", err)
	}

	var version int
	err = tx.QueryRow(`
		INSERT INTO schemas (tenant_id, version, definition, active, created_at)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, true, NOW()
		FROM schemas
		WHERE tenant_id = $1
		RETURNING version
	`, tenantID, string(schemaJSON)).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to save new schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit schema: %w", err)
	}
	return version, nil
}

// ListTenants returns all loaded tenant IDs in sorted order
func (m *Manager) ListTenants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenants := make([]string, 0, len(m.engines))
	for tenantID := range m.engines {
		tenants = append(tenants, tenantID)
	}
	sort.Strings(tenants)
	return tenants
}

// DeleteTenant removes a tenant's engine from the manager.
// The tenant's rows in the database are left untouched.
func (m *Manager) DeleteTenant(tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.engines[tenantID]; !exists {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}

	delete(m.engines, tenantID)
	return nil
}

// Execute decodes raw facts with the tenant schema and evaluates the
// tenant's rules. Tenants without a schema use rules.FactsFromNative.
func (m *Manager) Execute(tenantID string, raw map[string]any) (*rules.Result, error) {
	te, err := m.GetTenant(tenantID)
	if err != nil {
		return nil, err
	}

	var facts rules.FactMap
	if te.Schema != nil {
		facts, err = te.Schema.DecodeFacts(raw)
	} else {
		facts, err = rules.FactsFromNative(raw)
	}
	if err != nil {
		return nil, err
	}

	return te.Engine.Execute(facts)
}
