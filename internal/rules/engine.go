package rules

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/tmakela/opynab/internal/opbank"
)

// amountTolerance is the absolute tolerance used for amount_exact
// comparisons, guarding against float rounding in parsed amounts.
const amountTolerance = 0.01

// suffixStopwords are corporate suffixes skipped when deriving a
// payee_contains fragment for a suggested rule.
var suffixStopwords = map[string]bool{
	"OY":  true,
	"AB":  true,
	"OYJ": true,
}

// RuleSet is an immutable, priority-ordered snapshot of active rules
// for one categorization batch. Rules edited mid-session are picked up
// by building a fresh snapshot; there is no ambient cache to
// invalidate.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet sorts the given rules by priority, highest first. Ties
// keep their original (insertion) order.
func NewRuleSet(rules []Rule) *RuleSet {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return &RuleSet{rules: sorted}
}

// Rules returns the snapshot's rules in evaluation order.
func (s *RuleSet) Rules() []Rule {
	return s.rules
}

// Len returns the number of rules in the snapshot.
func (s *RuleSet) Len() int {
	return len(s.rules)
}

// CategorizedTransaction is a parsed transaction annotated with the
// outcome of rule matching. When no rule matched, the category fields
// are empty and AutoCategorized is false so the transaction can be
// flagged for manual review.
type CategorizedTransaction struct {
	opbank.Transaction

	CategoryID      string `json:"category_id,omitempty"`
	CategoryName    string `json:"category_name,omitempty"`
	MatchedRuleID   uint   `json:"matched_rule_id,omitempty"`
	MatchedRuleName string `json:"matched_rule_name,omitempty"`
	AutoCategorized bool   `json:"auto_categorized"`
}

// Engine applies a rule snapshot to transactions.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a matching engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log}
}

// Categorize evaluates the snapshot against each transaction. Rules are
// tried in priority order and the first full match wins.
func (e *Engine) Categorize(txns []opbank.Transaction, set *RuleSet) []CategorizedTransaction {
	result := make([]CategorizedTransaction, 0, len(txns))
	for _, txn := range txns {
		categorized := CategorizedTransaction{Transaction: txn}
		if rule := e.findMatch(txn, set); rule != nil {
			categorized.CategoryID = rule.CategoryID
			categorized.CategoryName = rule.CategoryName
			categorized.MatchedRuleID = rule.ID
			categorized.MatchedRuleName = rule.Name
			categorized.AutoCategorized = true
		}
		result = append(result, categorized)
	}
	return result
}

func (e *Engine) findMatch(txn opbank.Transaction, set *RuleSet) *Rule {
	for i := range set.rules {
		if e.matches(&set.rules[i], txn) {
			return &set.rules[i]
		}
	}
	return nil
}

// matches reports whether every non-nil condition of the rule holds for
// the transaction.
func (e *Engine) matches(rule *Rule, txn opbank.Transaction) bool {
	if rule.PayeeExact != nil {
		if !strings.EqualFold(txn.Payee, *rule.PayeeExact) {
			return false
		}
	}

	if rule.PayeeContains != nil {
		if !containsFold(txn.Payee, *rule.PayeeContains) {
			return false
		}
	}

	if rule.PayeeRegex != nil {
		if matched, ok := e.regexSearch(rule, *rule.PayeeRegex, txn.Payee); ok && !matched {
			return false
		}
	}

	if rule.MemoContains != nil {
		if txn.Memo == "" {
			return false // condition present, data absent
		}
		if !containsFold(txn.Memo, *rule.MemoContains) {
			return false
		}
	}

	if rule.MemoRegex != nil {
		if txn.Memo == "" {
			return false
		}
		if matched, ok := e.regexSearch(rule, *rule.MemoRegex, txn.Memo); ok && !matched {
			return false
		}
	}

	if rule.AmountExact != nil {
		if math.Abs(txn.Amount-*rule.AmountExact) > amountTolerance {
			return false
		}
	}

	if rule.AmountMin != nil && txn.Amount < *rule.AmountMin {
		return false
	}
	if rule.AmountMax != nil && txn.Amount > *rule.AmountMax {
		return false
	}

	return true
}

// regexSearch runs a case-insensitive unanchored search. An invalid
// pattern does not disqualify the rule: the condition is skipped
// (ok=false) and the misconfiguration is logged instead of masked.
func (e *Engine) regexSearch(rule *Rule, pattern, value string) (matched, ok bool) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		e.log.Warn().
			Uint("rule_id", rule.ID).
			Str("rule", rule.Name).
			Str("pattern", pattern).
			Msg("invalid regex in rule, condition skipped")
		return false, false
	}
	return re.MatchString(value), true
}

// containsFold is a case-insensitive substring test.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToUpper(s), strings.ToUpper(substr))
}

// SuggestRule drafts a rule from a single transaction and a chosen
// category. Short single-word payees get an exact match; longer ones
// get a contains match on the first meaningful token. Whole amounts are
// pinned with amount_exact since they often indicate subscriptions.
func SuggestRule(txn opbank.Transaction, categoryID, categoryName string) Rule {
	rule := Rule{
		Name:         fmt.Sprintf("Rule for %s", truncate(txn.Payee, 30)),
		Priority:     10,
		CategoryID:   categoryID,
		CategoryName: categoryName,
	}

	if utf8.RuneCountInString(txn.Payee) <= 30 && !strings.Contains(txn.Payee, " ") {
		payee := txn.Payee
		rule.PayeeExact = &payee
	} else if words := strings.Fields(txn.Payee); len(words) > 0 {
		mainWord := words[0]
		for _, word := range words {
			if utf8.RuneCountInString(word) > 3 && !suffixStopwords[strings.ToUpper(word)] {
				mainWord = word
				break
			}
		}
		rule.PayeeContains = &mainWord
	}

	if txn.Amount == math.Trunc(txn.Amount) {
		amount := txn.Amount
		rule.AmountExact = &amount
	}

	return rule
}

// truncate cuts s to at most n characters, never splitting a rune.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
