// Package rules holds the categorization rule model, the matching
// engine that applies rules to parsed transactions, and the pattern
// analyzer that mines ledger history for new rule candidates.
package rules

import "time"

// Rule is one categorization rule. All non-nil match conditions must
// hold for the rule to apply (AND semantics); a rule with no conditions
// therefore matches every transaction. That vacuous-match behavior is
// intentional-for-now and pinned by tests. Rules are soft-deleted via
// IsActive so history is never lost.
type Rule struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"not null" json:"name"`
	Priority int    `gorm:"not null;default:0" json:"priority"`

	// Match conditions (all non-nil conditions must match).
	PayeeExact    *string  `json:"payee_exact"`
	PayeeContains *string  `json:"payee_contains"`
	PayeeRegex    *string  `json:"payee_regex"`
	MemoContains  *string  `json:"memo_contains"`
	MemoRegex     *string  `json:"memo_regex"`
	AmountExact   *float64 `json:"amount_exact"`
	AmountMin     *float64 `json:"amount_min"`
	AmountMax     *float64 `json:"amount_max"`

	// Action: which category to assign.
	CategoryID   string `gorm:"not null" json:"category_id"`
	CategoryName string `gorm:"not null" json:"category_name"`

	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
