// Package ynab is a client for the YNAB v1 REST API, covering the
// operations the importer needs: reading categories, accounts and
// historical transactions, and creating new transactions.
package ynab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://api.ynab.com/v1"

// reservedGroups are YNAB system category groups that must never be
// offered as categorization targets.
var reservedGroups = map[string]bool{
	"Internal Master Category": true,
	"Credit Card Payments":     true,
}

// APIError is returned for any ledger response with status >= 400, or
// for configuration problems that make a call impossible (status 0).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("YNAB API error (%d): %s", e.StatusCode, e.Message)
}

// Client talks to the YNAB API for a single budget. Category and
// account lists are cached per client instance; callers that need fresh
// data should construct a new client.
type Client struct {
	baseURL    string
	token      string
	budgetID   string
	httpClient *http.Client
	log        zerolog.Logger

	categoriesCache []Category
	accountsCache   []Account
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (used in tests).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the given API token and budget.
func NewClient(token, budgetID string, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		token:      token,
		budgetID:   budgetID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request performs one API call and decodes the "data" envelope into out.
func (c *Client) request(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("request: encoding body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("request: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error struct {
				Detail string `json:"detail"`
			} `json:"error"`
		}
		message := "Unknown error"
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error.Detail != "" {
			message = errResp.Error.Detail
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("request: decoding response: %w", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("request: decoding data envelope: %w", err)
	}
	return nil
}

// GetBudgets lists all budgets visible to the token.
func (c *Client) GetBudgets(ctx context.Context) ([]Budget, error) {
	var data struct {
		Budgets []Budget `json:"budgets"`
	}
	if err := c.request(ctx, http.MethodGet, "/budgets", nil, &data); err != nil {
		return nil, err
	}
	return data.Budgets, nil
}

// GetAccounts lists the open accounts of the configured budget.
func (c *Client) GetAccounts(ctx context.Context) ([]Account, error) {
	if c.accountsCache != nil {
		return c.accountsCache, nil
	}
	if c.budgetID == "" {
		return nil, nil
	}

	var data struct {
		Accounts []struct {
			Account
			Closed  bool `json:"closed"`
			Deleted bool `json:"deleted"`
		} `json:"accounts"`
	}
	if err := c.request(ctx, http.MethodGet, "/budgets/"+c.budgetID+"/accounts", nil, &data); err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(data.Accounts))
	for _, acc := range data.Accounts {
		if acc.Closed || acc.Deleted {
			continue
		}
		accounts = append(accounts, acc.Account)
	}
	c.accountsCache = accounts
	return accounts, nil
}

// GetCategories returns the budget's categories flattened with their
// group names. Hidden and deleted entries and the reserved system
// groups are excluded.
func (c *Client) GetCategories(ctx context.Context) ([]Category, error) {
	if c.categoriesCache != nil {
		return c.categoriesCache, nil
	}
	if c.budgetID == "" {
		return nil, nil
	}

	var data struct {
		CategoryGroups []struct {
			Name       string `json:"name"`
			Hidden     bool   `json:"hidden"`
			Deleted    bool   `json:"deleted"`
			Categories []struct {
				ID       string `json:"id"`
				Name     string `json:"name"`
				Hidden   bool   `json:"hidden"`
				Deleted  bool   `json:"deleted"`
				Budgeted int64  `json:"budgeted"`
				Activity int64  `json:"activity"`
				Balance  int64  `json:"balance"`
			} `json:"categories"`
		} `json:"category_groups"`
	}
	if err := c.request(ctx, http.MethodGet, "/budgets/"+c.budgetID+"/categories", nil, &data); err != nil {
		return nil, err
	}

	var categories []Category
	for _, group := range data.CategoryGroups {
		if group.Hidden || group.Deleted || reservedGroups[group.Name] {
			continue
		}
		for _, cat := range group.Categories {
			if cat.Hidden || cat.Deleted {
				continue
			}
			categories = append(categories, Category{
				ID:          cat.ID,
				Name:        cat.Name,
				GroupName:   group.Name,
				DisplayName: group.Name + ": " + cat.Name,
				Budgeted:    cat.Budgeted,
				Activity:    cat.Activity,
				Balance:     cat.Balance,
			})
		}
	}
	c.categoriesCache = categories
	return categories, nil
}

// GetPayees lists the budget's payees, excluding deleted ones.
func (c *Client) GetPayees(ctx context.Context) ([]Payee, error) {
	if c.budgetID == "" {
		return nil, nil
	}

	var data struct {
		Payees []struct {
			Payee
			Deleted bool `json:"deleted"`
		} `json:"payees"`
	}
	if err := c.request(ctx, http.MethodGet, "/budgets/"+c.budgetID+"/payees", nil, &data); err != nil {
		return nil, err
	}

	payees := make([]Payee, 0, len(data.Payees))
	for _, p := range data.Payees {
		if p.Deleted {
			continue
		}
		payees = append(payees, p.Payee)
	}
	return payees, nil
}

// GetTransactions fetches the budget's transactions, optionally limited
// to a start date and a single account. Deleted transactions are
// filtered out and milliunit amounts are converted to currency units.
func (c *Client) GetTransactions(ctx context.Context, sinceDate, accountID string) ([]Transaction, error) {
	if c.budgetID == "" {
		return nil, nil
	}

	endpoint := "/budgets/" + c.budgetID + "/transactions"
	if accountID != "" {
		endpoint = "/budgets/" + c.budgetID + "/accounts/" + accountID + "/transactions"
	}
	if sinceDate != "" {
		endpoint += "?since_date=" + url.QueryEscape(sinceDate)
	}

	var data struct {
		Transactions []struct {
			ID           string `json:"id"`
			Date         string `json:"date"`
			Amount       int64  `json:"amount"` // milliunits on the wire
			PayeeID      string `json:"payee_id"`
			PayeeName    string `json:"payee_name"`
			CategoryID   string `json:"category_id"`
			CategoryName string `json:"category_name"`
			Memo         string `json:"memo"`
			AccountID    string `json:"account_id"`
			AccountName  string `json:"account_name"`
			Cleared      string `json:"cleared"`
			Approved     bool   `json:"approved"`
			Deleted      bool   `json:"deleted"`
		} `json:"transactions"`
	}
	if err := c.request(ctx, http.MethodGet, endpoint, nil, &data); err != nil {
		return nil, err
	}

	result := make([]Transaction, 0, len(data.Transactions))
	for _, txn := range data.Transactions {
		if txn.Deleted {
			continue
		}
		result = append(result, Transaction{
			ID:               txn.ID,
			Date:             txn.Date,
			Amount:           float64(txn.Amount) / 1000,
			AmountMilliunits: txn.Amount,
			PayeeID:          txn.PayeeID,
			PayeeName:        txn.PayeeName,
			CategoryID:       txn.CategoryID,
			CategoryName:     txn.CategoryName,
			Memo:             txn.Memo,
			AccountID:        txn.AccountID,
			AccountName:      txn.AccountName,
			Cleared:          txn.Cleared,
			Approved:         txn.Approved,
		})
	}
	return result, nil
}

// CreateTransactions creates transactions in the ledger. The budget
// must be configured; when accountID is empty the first open account is
// used. The ledger deduplicates by import_id, so every transaction
// should carry one.
func (c *Client) CreateTransactions(ctx context.Context, accountID string, txns []NewTransaction) (*ImportResult, error) {
	if c.budgetID == "" {
		return nil, &APIError{StatusCode: 0, Message: "budget ID not configured"}
	}

	if accountID == "" {
		accounts, err := c.GetAccounts(ctx)
		if err != nil {
			return nil, err
		}
		if len(accounts) == 0 {
			return nil, &APIError{StatusCode: 0, Message: "no accounts found in budget"}
		}
		accountID = accounts[0].ID
	}

	type wireTransaction struct {
		AccountID  string `json:"account_id"`
		Date       string `json:"date"`
		Amount     int64  `json:"amount"`
		PayeeName  string `json:"payee_name"`
		Memo       string `json:"memo,omitempty"`
		CategoryID string `json:"category_id,omitempty"`
		ImportID   string `json:"import_id,omitempty"`
		Cleared    string `json:"cleared"`
		Approved   bool   `json:"approved"`
	}

	formatted := make([]wireTransaction, 0, len(txns))
	for _, txn := range txns {
		memo := txn.Memo
		if utf8.RuneCountInString(memo) > 200 {
			memo = string([]rune(memo)[:200])
		}
		formatted = append(formatted, wireTransaction{
			AccountID:  accountID,
			Date:       txn.Date,
			Amount:     txn.AmountMilliunits,
			PayeeName:  txn.PayeeName,
			Memo:       memo,
			CategoryID: txn.CategoryID,
			ImportID:   txn.ImportID,
			Cleared:    "cleared",
			Approved:   true,
		})
	}

	var data struct {
		TransactionIDs     []string `json:"transaction_ids"`
		DuplicateImportIDs []string `json:"duplicate_import_ids"`
	}
	err := c.request(ctx, http.MethodPost,
		"/budgets/"+c.budgetID+"/transactions",
		map[string]interface{}{"transactions": formatted},
		&data,
	)
	if err != nil {
		return nil, err
	}

	c.log.Info().
		Int("created", len(data.TransactionIDs)).
		Int("duplicates", len(data.DuplicateImportIDs)).
		Msg("transactions sent to YNAB")

	return &ImportResult{
		Created:            len(data.TransactionIDs),
		Duplicates:         len(data.DuplicateImportIDs),
		DuplicateImportIDs: data.DuplicateImportIDs,
	}, nil
}
