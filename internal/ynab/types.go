package ynab

// Budget is one YNAB budget.
type Budget struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Account is an open account within the configured budget.
type Account struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	OnBudget bool   `json:"on_budget"`
}

// Category is a flattened budget category with its group name attached.
type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	GroupName   string `json:"group_name"`
	DisplayName string `json:"display_name"`
	Budgeted    int64  `json:"budgeted"`
	Activity    int64  `json:"activity"`
	Balance     int64  `json:"balance"`
}

// Payee is a named payee within the budget.
type Payee struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Transaction is a historical transaction fetched from the ledger.
// Amount is in currency units; AmountMilliunits keeps the ledger's
// native integer representation.
type Transaction struct {
	ID               string  `json:"id"`
	Date             string  `json:"date"`
	Amount           float64 `json:"amount"`
	AmountMilliunits int64   `json:"amount_milliunits"`
	PayeeID          string  `json:"payee_id"`
	PayeeName        string  `json:"payee_name"`
	CategoryID       string  `json:"category_id"`
	CategoryName     string  `json:"category_name"`
	Memo             string  `json:"memo"`
	AccountID        string  `json:"account_id"`
	AccountName      string  `json:"account_name"`
	Cleared          string  `json:"cleared"`
	Approved         bool    `json:"approved"`
}

// NewTransaction is one transaction to be created in the ledger.
// AmountMilliunits must already be in milliunits; ImportID should
// always be set so the ledger can deduplicate re-imports.
type NewTransaction struct {
	Date             string `json:"date"`
	AmountMilliunits int64  `json:"amount_milliunits"`
	PayeeName        string `json:"payee_name"`
	Memo             string `json:"memo,omitempty"`
	CategoryID       string `json:"category_id,omitempty"`
	ImportID         string `json:"import_id,omitempty"`
}

// ImportResult summarizes a CreateTransactions call: how many rows the
// ledger accepted and which import ids it recognized as duplicates.
type ImportResult struct {
	Created            int      `json:"created"`
	Duplicates         int      `json:"duplicates"`
	DuplicateImportIDs []string `json:"duplicate_import_ids"`
}
