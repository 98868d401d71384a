package rules

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL.
// Each rule is stored as a JSONB rule document alongside indexed columns;
// the seq column preserves insertion order across restarts.
type PostgresRuleStore struct {
	db       *sql.DB
	tenantID string
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore for a specific tenant
func NewPostgresRuleStore(db *sql.DB, tenantID string) *PostgresRuleStore {
	return &PostgresRuleStore{
		db:       db,
		tenantID: tenantID,
	}
}

// Add inserts a new rule into the database
func (s *PostgresRuleStore) Add(rule *Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	doc, err := MarshalRule(rule)
	if err != nil {
		return fmt.Errorf("failed to encode rule %s: %w", rule.id, err)
	}

	now := time.Now()
	result, err := s.db.Exec(`
		INSERT INTO rules (id, tenant_id, name, priority, enabled, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (tenant_id, id) DO NOTHING
	`, rule.id, s.tenantID, rule.name, rule.priority, rule.enabled, string(doc), now)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleExists, rule.id)
	}

	return nil
}

// Get retrieves a rule by ID
func (s *PostgresRuleStore) Get(id string) (*Rule, error) {
	var doc []byte
	err := s.db.QueryRow(`
		SELECT document
		FROM rules
		WHERE id = $1 AND tenant_id = $2
	`, id, s.tenantID).Scan(&doc)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	rule, err := UnmarshalRule(doc)
	if err != nil {
		return nil, fmt.Errorf("stored rule %s is invalid: %w", id, err)
	}
	return rule, nil
}

// List returns all rules for the tenant in insertion order
func (s *PostgresRuleStore) List() ([]*Rule, error) {
	rows, err := s.db.Query(`
		SELECT id, document
		FROM rules
		WHERE tenant_id = $1
		ORDER BY seq ASC
	`, s.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*Rule
	for rows.Next() {
		var (
			id  string
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule, err := UnmarshalRule(doc)
		if err != nil {
			return nil, fmt.Errorf("stored rule %s is invalid: %w", id, err)
		}
		rulesList = append(rulesList, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rulesList, nil
}

// Update replaces an existing rule; seq and created_at are kept
func (s *PostgresRuleStore) Update(rule *Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	doc, err := MarshalRule(rule)
	if err != nil {
		return fmt.Errorf("failed to encode rule %s: %w", rule.id, err)
	}

	result, err := s.db.Exec(`
		UPDATE rules
		SET name = $1, priority = $2, enabled = $3, document = $4, updated_at = $5
		WHERE id = $6 AND tenant_id = $7
	`, rule.name, rule.priority, rule.enabled, string(doc), time.Now(), rule.id, s.tenantID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.id)
	}

	return nil
}

// Delete removes a rule from the database
func (s *PostgresRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM rules
		WHERE id = $1 AND tenant_id = $2
	`, id, s.tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}

	return nil
}
