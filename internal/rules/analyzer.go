package rules

import (
	"math"
	"sort"
	"strings"

	"github.com/tmakela/opynab/internal/ynab"
)

// transferPrefix marks YNAB internal transfers, which are never useful
// categorization candidates.
const transferPrefix = "Transfer :"

// uncategorizedKey is the reserved bucket for transactions without a
// category. It counts toward group totals but is never suggested.
const uncategorizedKey = "__uncategorized__"

// maxSampleTransactions caps the example transactions attached to each
// suggestion and summary.
const maxSampleTransactions = 5

// Direction splits a payee's transactions by money flow. The same payee
// frequently carries different categories for money in vs money out, so
// the analyzer treats the two sides independently.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// DirectionOf classifies an amount: non-negative is incoming.
func DirectionOf(amount float64) Direction {
	if amount >= 0 {
		return DirectionIncoming
	}
	return DirectionOutgoing
}

// RuleSuggestion is a categorization candidate mined from ledger
// history: within one payee+direction group, Confidence percent of the
// transactions share this category. Suggestions are ephemeral; they
// become rules only when explicitly promoted.
type RuleSuggestion struct {
	PayeeName          string             `json:"payee_name"`
	CategoryID         string             `json:"category_id"`
	CategoryName       string             `json:"category_name"`
	Direction          Direction          `json:"direction"`
	Confidence         float64            `json:"confidence"`
	TransactionCount   int                `json:"transaction_count"`
	TotalForPayee      int                `json:"total_for_payee"`
	SampleTransactions []ynab.Transaction `json:"sample_transactions"`
}

// CategoryShare is one category's slice of a payee+direction group.
type CategoryShare struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// PayeeSummary is the full category breakdown of one payee+direction
// group, reported regardless of confidence threshold.
type PayeeSummary struct {
	Payee             string          `json:"payee"`
	Direction         Direction       `json:"direction"`
	TotalTransactions int             `json:"total_transactions"`
	Categories        []CategoryShare `json:"categories"`
	DominantCategory  *CategoryShare  `json:"dominant_category"`
}

// PatternAnalyzer mines already-categorized transactions for payees
// whose history is consistent enough to automate.
type PatternAnalyzer struct {
	// Threshold is the minimum share (0-100) of a group that must
	// carry a category before it is suggested.
	Threshold float64
	// MinTransactions is the minimum group size considered at all.
	MinTransactions int
}

// NewPatternAnalyzer creates an analyzer with the given confidence
// threshold (percent) and minimum group size.
func NewPatternAnalyzer(threshold float64, minTransactions int) *PatternAnalyzer {
	return &PatternAnalyzer{Threshold: threshold, MinTransactions: minTransactions}
}

// groupKey partitions history by payee and money direction.
type groupKey struct {
	payee     string
	direction Direction
}

// categoryTally accumulates one category's occurrences within a group.
type categoryTally struct {
	count   int
	name    string
	samples []ynab.Transaction
}

// txnGroup is all transactions of one payee+direction, with category
// tallies keyed by category id. Key order is tracked so output is
// deterministic.
type txnGroup struct {
	total      int
	tallies    map[string]*categoryTally
	tallyOrder []string
}

func (g *txnGroup) add(txn ynab.Transaction) {
	g.total++

	catID := txn.CategoryID
	catName := txn.CategoryName
	if catID == "" {
		catID = uncategorizedKey
		catName = "Uncategorized"
	}
	if catName == "" {
		catName = "Uncategorized"
	}

	tally, ok := g.tallies[catID]
	if !ok {
		tally = &categoryTally{}
		g.tallies[catID] = tally
		g.tallyOrder = append(g.tallyOrder, catID)
	}
	tally.count++
	tally.name = catName
	if len(tally.samples) < maxSampleTransactions {
		tally.samples = append(tally.samples, txn)
	}
}

// groupTransactions partitions transactions by (payee, direction),
// discarding blank payees and internal transfers. Returned keys are in
// encounter order.
func groupTransactions(txns []ynab.Transaction) (map[groupKey]*txnGroup, []groupKey) {
	groups := make(map[groupKey]*txnGroup)
	var order []groupKey

	for _, txn := range txns {
		payee := strings.TrimSpace(txn.PayeeName)
		if payee == "" || strings.HasPrefix(payee, transferPrefix) {
			continue
		}

		key := groupKey{payee: payee, direction: DirectionOf(txn.Amount)}
		group, ok := groups[key]
		if !ok {
			group = &txnGroup{tallies: make(map[string]*categoryTally)}
			groups[key] = group
			order = append(order, key)
		}
		group.add(txn)
	}

	return groups, order
}

// Analyze returns rule suggestions for every payee+direction group of
// at least MinTransactions members where a category's share clears
// Threshold. Several categories of one group can each clear the
// threshold and produce independent suggestions. Results are sorted by
// confidence, then transaction count, both descending.
func (a *PatternAnalyzer) Analyze(txns []ynab.Transaction) []RuleSuggestion {
	groups, order := groupTransactions(txns)

	var suggestions []RuleSuggestion
	for _, key := range order {
		group := groups[key]
		if group.total < a.MinTransactions {
			continue
		}

		for _, catID := range group.tallyOrder {
			if catID == uncategorizedKey {
				continue
			}
			tally := group.tallies[catID]
			confidence := float64(tally.count) / float64(group.total) * 100

			if confidence >= a.Threshold {
				suggestions = append(suggestions, RuleSuggestion{
					PayeeName:          key.payee,
					CategoryID:         catID,
					CategoryName:       tally.name,
					Direction:          key.direction,
					Confidence:         confidence,
					TransactionCount:   tally.count,
					TotalForPayee:      group.total,
					SampleTransactions: tally.samples,
				})
			}
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		return suggestions[i].TransactionCount > suggestions[j].TransactionCount
	})

	return suggestions
}

// Summarize reports the complete category breakdown of every
// payee+direction group with at least MinTransactions members,
// bypassing the confidence threshold. Intended for manual review.
func (a *PatternAnalyzer) Summarize(txns []ynab.Transaction) []PayeeSummary {
	groups, order := groupTransactions(txns)

	var summaries []PayeeSummary
	for _, key := range order {
		group := groups[key]
		if group.total < a.MinTransactions {
			continue
		}

		categories := make([]CategoryShare, 0, len(group.tallyOrder))
		for _, catID := range group.tallyOrder {
			tally := group.tallies[catID]
			categories = append(categories, CategoryShare{
				ID:         catID,
				Name:       tally.name,
				Count:      tally.count,
				Percentage: roundShare(float64(tally.count) / float64(group.total) * 100),
			})
		}
		sort.SliceStable(categories, func(i, j int) bool {
			return categories[i].Count > categories[j].Count
		})

		summary := PayeeSummary{
			Payee:             key.payee,
			Direction:         key.direction,
			TotalTransactions: group.total,
			Categories:        categories,
		}
		if len(categories) > 0 {
			summary.DominantCategory = &categories[0]
		}
		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].TotalTransactions > summaries[j].TotalTransactions
	})

	return summaries
}

// roundShare rounds a percentage to one decimal for display.
func roundShare(v float64) float64 {
	return math.Round(v*10) / 10
}
