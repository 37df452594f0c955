// Package importer wires parsing and categorization into the upload
// pipeline: one uploaded CSV runs through a fixed sequence of steps
// sharing a single State.
package importer

import (
	"context"
	"fmt"

	"github.com/tmakela/opynab/internal/opbank"
	"github.com/tmakela/opynab/internal/rules"
)

// RuleSource supplies the active rules for one batch. Implemented by
// rules.Store; mocked in tests.
type RuleSource interface {
	ListActive(ctx context.Context) ([]rules.Rule, error)
}

// State holds the shared state across all pipeline steps for one upload.
type State struct {
	FileName string
	Content  string

	Transactions []opbank.Transaction
	Issues       []opbank.RowIssue
	RuleSet      *rules.RuleSet
	Categorized  []rules.CategorizedTransaction
	Stats        Stats
}

// Stats summarizes one categorization batch for the caller.
type Stats struct {
	Total           int `json:"total"`
	AutoCategorized int `json:"auto_categorized"`
	NeedsReview     int `json:"needs_review"`
	SkippedRows     int `json:"skipped_rows"`
}

// Step is a single stage of the upload pipeline.
type Step interface {
	Execute(ctx context.Context, state *State) error
}

// ParseStep turns the raw CSV content into normalized transactions.
type ParseStep struct {
	Parser *opbank.Parser
}

func (s *ParseStep) Execute(ctx context.Context, state *State) error {
	txns, issues, err := s.Parser.Parse(state.Content)
	if err != nil {
		return err
	}
	state.Transactions = txns
	state.Issues = issues
	return nil
}

// SnapshotRulesStep takes the per-batch snapshot of active rules. The
// snapshot lives only for this State; a later upload builds a fresh one
// so mid-session rule edits are always picked up.
type SnapshotRulesStep struct {
	Rules RuleSource
}

func (s *SnapshotRulesStep) Execute(ctx context.Context, state *State) error {
	active, err := s.Rules.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("loading active rules: %w", err)
	}
	state.RuleSet = rules.NewRuleSet(active)
	return nil
}

// CategorizeStep applies the rule snapshot to the parsed transactions.
type CategorizeStep struct {
	Engine *rules.Engine
}

func (s *CategorizeStep) Execute(ctx context.Context, state *State) error {
	state.Categorized = s.Engine.Categorize(state.Transactions, state.RuleSet)
	return nil
}

// StatsStep counts what happened for the response payload.
type StatsStep struct{}

func (s *StatsStep) Execute(ctx context.Context, state *State) error {
	stats := Stats{Total: len(state.Categorized)}
	for _, txn := range state.Categorized {
		if txn.AutoCategorized {
			stats.AutoCategorized++
		} else {
			stats.NeedsReview++
		}
	}
	for _, issue := range state.Issues {
		if issue.Code != opbank.IssueUnparsableAmount {
			stats.SkippedRows++
		}
	}
	state.Stats = stats
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially, stopping at the first failure.
func (p *Pipeline) Execute(ctx context.Context, state *State) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// NewUploadPipeline creates the standard pipeline for one CSV upload.
func NewUploadPipeline(parser *opbank.Parser, ruleSource RuleSource, engine *rules.Engine) *Pipeline {
	return NewPipeline(
		&ParseStep{Parser: parser},
		&SnapshotRulesStep{Rules: ruleSource},
		&CategorizeStep{Engine: engine},
		&StatsStep{},
	)
}
