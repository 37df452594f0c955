package rules

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrRuleNotFound is returned when a rule id does not exist.
var ErrRuleNotFound = errors.New("rule not found")

// Store persists rules in a local SQLite database. Deleting a rule only
// flips IsActive so the audit history stays intact.
type Store struct {
	db *gorm.DB
}

// NewStore opens (or creates) the database at path and migrates the
// rules table.
func NewStore(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("NewStore: opening database: %w", err)
	}
	if err := db.AutoMigrate(&Rule{}); err != nil {
		return nil, fmt.Errorf("NewStore: migrating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// ListActive returns active rules ordered by priority (highest first);
// equal priorities keep insertion order.
func (s *Store) ListActive(ctx context.Context) ([]Rule, error) {
	var rules []Rule
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("priority DESC, id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("ListActive: %w", err)
	}
	return rules, nil
}

// Get fetches a single rule by id, active or not.
func (s *Store) Get(ctx context.Context, id uint) (*Rule, error) {
	var rule Rule
	err := s.db.WithContext(ctx).First(&rule, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &rule, nil
}

// Create inserts a new rule. New rules are active unless explicitly
// created inactive.
func (s *Store) Create(ctx context.Context, rule *Rule) error {
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// Update replaces the mutable fields of an existing rule.
func (s *Store) Update(ctx context.Context, id uint, updated *Rule) (*Rule, error) {
	rule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rule.Name = updated.Name
	rule.Priority = updated.Priority
	rule.PayeeExact = updated.PayeeExact
	rule.PayeeContains = updated.PayeeContains
	rule.PayeeRegex = updated.PayeeRegex
	rule.MemoContains = updated.MemoContains
	rule.MemoRegex = updated.MemoRegex
	rule.AmountExact = updated.AmountExact
	rule.AmountMin = updated.AmountMin
	rule.AmountMax = updated.AmountMax
	rule.CategoryID = updated.CategoryID
	rule.CategoryName = updated.CategoryName

	if err := s.db.WithContext(ctx).Save(rule).Error; err != nil {
		return nil, fmt.Errorf("Update: %w", err)
	}
	return rule, nil
}

// SoftDelete deactivates a rule. The row itself is kept.
func (s *Store) SoftDelete(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).
		Model(&Rule{}).
		Where("id = ?", id).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("SoftDelete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}
