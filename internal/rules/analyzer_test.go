package rules

import (
	"fmt"
	"testing"

	"github.com/tmakela/opynab/internal/ynab"
)

func histTxn(payee string, amount float64, catID, catName string) ynab.Transaction {
	return ynab.Transaction{
		Date:         "2024-03-15",
		PayeeName:    payee,
		Amount:       amount,
		CategoryID:   catID,
		CategoryName: catName,
	}
}

func repeatTxns(n int, payee string, amount float64, catID, catName string) []ynab.Transaction {
	txns := make([]ynab.Transaction, 0, n)
	for i := 0; i < n; i++ {
		txns = append(txns, histTxn(payee, amount, catID, catName))
	}
	return txns
}

func TestDirectionOf(t *testing.T) {
	if DirectionOf(10) != DirectionIncoming {
		t.Error("positive amount should be incoming")
	}
	if DirectionOf(0) != DirectionIncoming {
		t.Error("zero amount should be incoming")
	}
	if DirectionOf(-0.01) != DirectionOutgoing {
		t.Error("negative amount should be outgoing")
	}
}

func TestAnalyze_ConfidenceThresholdBoundary(t *testing.T) {
	// 9 of 10 transactions share one category: confidence exactly 90.0.
	txns := append(
		repeatTxns(9, "K-MARKET", -20, "cat-groceries", "Groceries"),
		histTxn("K-MARKET", -20, "cat-other", "Other"),
	)

	t.Run("included at threshold 90.0", func(t *testing.T) {
		suggestions := NewPatternAnalyzer(90.0, 3).Analyze(txns)
		if len(suggestions) != 1 {
			t.Fatalf("expected 1 suggestion, got %d", len(suggestions))
		}
		s := suggestions[0]
		if s.Confidence != 90.0 {
			t.Errorf("confidence = %v, want 90.0", s.Confidence)
		}
		if s.TransactionCount != 9 || s.TotalForPayee != 10 {
			t.Errorf("counts = %d/%d, want 9/10", s.TransactionCount, s.TotalForPayee)
		}
		if s.CategoryID != "cat-groceries" {
			t.Errorf("category = %q, want cat-groceries", s.CategoryID)
		}
	})

	t.Run("excluded at threshold 90.1", func(t *testing.T) {
		suggestions := NewPatternAnalyzer(90.1, 3).Analyze(txns)
		if len(suggestions) != 0 {
			t.Fatalf("expected no suggestions, got %+v", suggestions)
		}
	})
}

func TestAnalyze_DirectionsAreIndependent(t *testing.T) {
	var txns []ynab.Transaction
	txns = append(txns, repeatTxns(5, "WOLT", 15, "cat-refund", "Refund")...)
	txns = append(txns, repeatTxns(5, "WOLT", -25, "cat-groceries", "Groceries")...)

	suggestions := NewPatternAnalyzer(90, 3).Analyze(txns)
	if len(suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %d: %+v", len(suggestions), suggestions)
	}

	byDirection := map[Direction]RuleSuggestion{}
	for _, s := range suggestions {
		byDirection[s.Direction] = s
	}

	in, ok := byDirection[DirectionIncoming]
	if !ok || in.CategoryName != "Refund" || in.Confidence != 100 {
		t.Errorf("incoming suggestion wrong: %+v", in)
	}
	out, ok := byDirection[DirectionOutgoing]
	if !ok || out.CategoryName != "Groceries" || out.Confidence != 100 {
		t.Errorf("outgoing suggestion wrong: %+v", out)
	}
}

func TestAnalyze_SkipsTransfersAndBlankPayees(t *testing.T) {
	var txns []ynab.Transaction
	txns = append(txns, repeatTxns(5, "Transfer : Savings", -100, "cat1", "X")...)
	txns = append(txns, repeatTxns(5, "   ", -100, "cat1", "X")...)
	txns = append(txns, repeatTxns(5, "", -100, "cat1", "X")...)

	suggestions := NewPatternAnalyzer(50, 1).Analyze(txns)
	if len(suggestions) != 0 {
		t.Fatalf("expected no suggestions, got %+v", suggestions)
	}
}

func TestAnalyze_MinTransactionsFilter(t *testing.T) {
	txns := repeatTxns(2, "RARE SHOP", -10, "cat1", "Shopping")

	if got := NewPatternAnalyzer(50, 3).Analyze(txns); len(got) != 0 {
		t.Errorf("group below min count should be skipped, got %+v", got)
	}
	if got := NewPatternAnalyzer(50, 2).Analyze(txns); len(got) != 1 {
		t.Errorf("group at min count should be analyzed, got %+v", got)
	}
}

func TestAnalyze_UncategorizedNeverSuggested(t *testing.T) {
	// 3 categorized + 1 uncategorized: the uncategorized bucket counts
	// toward the total but is never itself a suggestion.
	txns := append(
		repeatTxns(3, "K-MARKET", -20, "cat-groceries", "Groceries"),
		histTxn("K-MARKET", -20, "", ""),
	)

	suggestions := NewPatternAnalyzer(50, 3).Analyze(txns)
	if len(suggestions) != 1 {
		t.Fatalf("expected 1 suggestion, got %d", len(suggestions))
	}
	if suggestions[0].Confidence != 75.0 {
		t.Errorf("confidence = %v, want 75.0 (3 of 4)", suggestions[0].Confidence)
	}
}

func TestAnalyze_MultipleCategoriesCanEachClearThreshold(t *testing.T) {
	// 50/50 split with threshold 50: both categories qualify.
	txns := append(
		repeatTxns(3, "PRISMA", -20, "cat-a", "A"),
		repeatTxns(3, "PRISMA", -20, "cat-b", "B")...,
	)

	suggestions := NewPatternAnalyzer(50, 3).Analyze(txns)
	if len(suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(suggestions))
	}
}

func TestAnalyze_SortedByConfidenceThenCount(t *testing.T) {
	var txns []ynab.Transaction
	// 100% confidence, 3 txns.
	txns = append(txns, repeatTxns(3, "SMALL SURE", -5, "cat1", "A")...)
	// 100% confidence, 6 txns.
	txns = append(txns, repeatTxns(6, "BIG SURE", -5, "cat2", "B")...)
	// 80% confidence, 4 of 5 txns.
	txns = append(txns, repeatTxns(4, "MOSTLY", -5, "cat3", "C")...)
	txns = append(txns, histTxn("MOSTLY", -5, "cat4", "D"))

	suggestions := NewPatternAnalyzer(75, 3).Analyze(txns)
	if len(suggestions) != 3 {
		t.Fatalf("expected 3 suggestions, got %d", len(suggestions))
	}

	wantPayees := []string{"BIG SURE", "SMALL SURE", "MOSTLY"}
	for i, want := range wantPayees {
		if suggestions[i].PayeeName != want {
			t.Errorf("position %d: got %q, want %q", i, suggestions[i].PayeeName, want)
		}
	}
}

func TestAnalyze_SamplesCappedAtFive(t *testing.T) {
	txns := make([]ynab.Transaction, 0, 8)
	for i := 0; i < 8; i++ {
		txn := histTxn("K-MARKET", -20, "cat1", "Groceries")
		txn.ID = fmt.Sprintf("txn-%d", i)
		txns = append(txns, txn)
	}

	suggestions := NewPatternAnalyzer(90, 3).Analyze(txns)
	if len(suggestions) != 1 {
		t.Fatalf("expected 1 suggestion, got %d", len(suggestions))
	}

	samples := suggestions[0].SampleTransactions
	if len(samples) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(samples))
	}
	for i, s := range samples {
		if want := fmt.Sprintf("txn-%d", i); s.ID != want {
			t.Errorf("sample %d = %q, want %q (encounter order)", i, s.ID, want)
		}
	}
}

func TestSummarize_BypassesThreshold(t *testing.T) {
	// A 60/40 split would never clear a 98% threshold, but the summary
	// reports it anyway.
	txns := append(
		repeatTxns(3, "PRISMA", -20, "cat-a", "Groceries"),
		repeatTxns(2, "PRISMA", -20, "cat-b", "Household")...,
	)

	summaries := NewPatternAnalyzer(98, 3).Summarize(txns)
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}

	s := summaries[0]
	if s.TotalTransactions != 5 {
		t.Errorf("total = %d, want 5", s.TotalTransactions)
	}
	if len(s.Categories) != 2 {
		t.Fatalf("expected 2 categories, got %d", len(s.Categories))
	}
	if s.Categories[0].Name != "Groceries" || s.Categories[0].Percentage != 60.0 {
		t.Errorf("dominant share wrong: %+v", s.Categories[0])
	}
	if s.DominantCategory == nil || s.DominantCategory.ID != "cat-a" {
		t.Errorf("dominant category wrong: %+v", s.DominantCategory)
	}
}

func TestSummarize_AppliesMinCountOnly(t *testing.T) {
	txns := repeatTxns(2, "RARE SHOP", -10, "cat1", "Shopping")

	if got := NewPatternAnalyzer(98, 3).Summarize(txns); len(got) != 0 {
		t.Errorf("expected min-count filter to apply, got %+v", got)
	}
}
