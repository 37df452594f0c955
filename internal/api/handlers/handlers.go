// Package handlers contains the HTTP handlers for the JSON API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tmakela/opynab/internal/api/middleware"
	"github.com/tmakela/opynab/internal/importer"
	"github.com/tmakela/opynab/internal/rules"
	"github.com/tmakela/opynab/internal/ynab"
)

const maxUploadBytes = 10 << 20 // 10 MB

// Ledger is the slice of the budget ledger the handlers need.
// Implemented by ynab.Client; mocked in tests.
type Ledger interface {
	GetCategories(ctx context.Context) ([]ynab.Category, error)
	GetAccounts(ctx context.Context) ([]ynab.Account, error)
	GetPayees(ctx context.Context) ([]ynab.Payee, error)
	GetTransactions(ctx context.Context, sinceDate, accountID string) ([]ynab.Transaction, error)
	CreateTransactions(ctx context.Context, accountID string, txns []ynab.NewTransaction) (*ynab.ImportResult, error)
}

// RuleRepository is the rule persistence surface the handlers need.
// Implemented by rules.Store; mocked in tests.
type RuleRepository interface {
	ListActive(ctx context.Context) ([]rules.Rule, error)
	Get(ctx context.Context, id uint) (*rules.Rule, error)
	Create(ctx context.Context, rule *rules.Rule) error
	Update(ctx context.Context, id uint, updated *rules.Rule) (*rules.Rule, error)
	SoftDelete(ctx context.Context, id uint) error
}

// UploadHandler handles bank statement uploads.
type UploadHandler struct {
	pipeline *importer.Pipeline
	log      zerolog.Logger
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(pipeline *importer.Pipeline, log zerolog.Logger) *UploadHandler {
	return &UploadHandler{pipeline: pipeline, log: log}
}

// Upload handles POST /api/upload. It accepts a multipart form with a
// "file" field, runs the parse/categorize pipeline, and returns the
// per-transaction results without touching the ledger.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "A CSV file is required in the 'file' field")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		h.log.Error().Err(err).Str("file", header.Filename).Msg("Failed to read upload")
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}

	state := &importer.State{
		FileName: header.Filename,
		Content:  string(content),
	}

	if err := h.pipeline.Execute(ctx, state); err != nil {
		h.log.Error().Err(err).Str("file", header.Filename).Msg("Upload pipeline failed")
		middleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	h.log.Info().
		Str("file", header.Filename).
		Int("total", state.Stats.Total).
		Int("auto_categorized", state.Stats.AutoCategorized).
		Msg("Processed upload")

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"file_name":    state.FileName,
		"transactions": state.Categorized,
		"issues":       state.Issues,
		"stats":        state.Stats,
	})
}

// RulesHandler handles rule CRUD endpoints.
type RulesHandler struct {
	repo RuleRepository
	log  zerolog.Logger
}

// NewRulesHandler creates a new rules handler.
func NewRulesHandler(repo RuleRepository, log zerolog.Logger) *RulesHandler {
	return &RulesHandler{repo: repo, log: log}
}

// ListRules handles GET /api/rules
func (h *RulesHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ruleList, err := h.repo.ListActive(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list rules")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list rules")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rules": ruleList,
		"count": len(ruleList),
	})
}

// CreateRule handles POST /api/rules
func (h *RulesHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if msg := validateRule(&rule); msg != "" {
		middleware.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	rule.ID = 0
	rule.IsActive = true
	if err := h.repo.Create(ctx, &rule); err != nil {
		h.log.Error().Err(err).Str("name", rule.Name).Msg("Failed to create rule")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to create rule")
		return
	}

	h.log.Info().Uint("rule_id", rule.ID).Str("name", rule.Name).Msg("Created rule")
	middleware.WriteJSON(w, http.StatusCreated, rule)
}

// UpdateRule handles PUT /api/rules/:id
func (h *RulesHandler) UpdateRule(w http.ResponseWriter, r *http.Request, idStr string) {
	ctx := r.Context()

	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid rule ID")
		return
	}

	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if msg := validateRule(&rule); msg != "" {
		middleware.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	updated, err := h.repo.Update(ctx, uint(id), &rule)
	if err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Rule not found")
			return
		}
		h.log.Error().Err(err).Uint64("rule_id", id).Msg("Failed to update rule")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to update rule")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, updated)
}

// DeleteRule handles DELETE /api/rules/:id. Rules are deactivated, not
// removed, so past categorization decisions stay auditable.
func (h *RulesHandler) DeleteRule(w http.ResponseWriter, r *http.Request, idStr string) {
	ctx := r.Context()

	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid rule ID")
		return
	}

	if err := h.repo.SoftDelete(ctx, uint(id)); err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Rule not found")
			return
		}
		h.log.Error().Err(err).Uint64("rule_id", id).Msg("Failed to delete rule")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to delete rule")
		return
	}

	h.log.Info().Uint64("rule_id", id).Msg("Deactivated rule")
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func validateRule(rule *rules.Rule) string {
	if rule.Name == "" {
		return "Rule name is required"
	}
	if rule.CategoryID == "" || rule.CategoryName == "" {
		return "Category ID and name are required"
	}
	return ""
}

// SuggestionsHandler handles pattern analysis endpoints.
type SuggestionsHandler struct {
	ledger Ledger
	repo   RuleRepository
	log    zerolog.Logger
}

// NewSuggestionsHandler creates a new suggestions handler.
func NewSuggestionsHandler(ledger Ledger, repo RuleRepository, log zerolog.Logger) *SuggestionsHandler {
	return &SuggestionsHandler{ledger: ledger, repo: repo, log: log}
}

// Analyze handles GET /api/suggestions/analyze. It mines categorized
// ledger history for payees that consistently map to one category and
// returns suggestions the caller can promote into rules.
//
// Query parameters: since_date (default one year back), threshold
// (50-100, default 98), min_transactions (default 3), account_id.
func (h *SuggestionsHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	sinceDate := q.Get("since_date")
	if sinceDate == "" {
		sinceDate = time.Now().AddDate(-1, 0, 0).Format("2006-01-02")
	}

	threshold := 98.0
	if v := q.Get("threshold"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 50 || parsed > 100 {
			middleware.WriteError(w, http.StatusBadRequest, "threshold must be between 50 and 100")
			return
		}
		threshold = parsed
	}

	minTransactions := 3
	if v := q.Get("min_transactions"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			middleware.WriteError(w, http.StatusBadRequest, "min_transactions must be a positive integer")
			return
		}
		minTransactions = parsed
	}

	txns, err := h.ledger.GetTransactions(ctx, sinceDate, q.Get("account_id"))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to fetch transactions")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to fetch transactions from ledger")
		return
	}

	analyzer := rules.NewPatternAnalyzer(threshold, minTransactions)
	suggestions := analyzer.Analyze(txns)

	covered, err := h.coveredPayees(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list rules")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list rules")
		return
	}

	filtered := suggestions[:0]
	for _, s := range suggestions {
		if covered.covers(s.PayeeName) {
			continue
		}
		filtered = append(filtered, s)
	}

	h.log.Info().
		Str("since_date", sinceDate).
		Int("transactions", len(txns)).
		Int("suggestions", len(filtered)).
		Msg("Analyzed transaction history")

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"since_date":  sinceDate,
		"suggestions": filtered,
		"count":       len(filtered),
	})
}

// Summary handles GET /api/suggestions/summary. Unlike Analyze it
// reports every payee group's category breakdown, with no confidence
// filter.
func (h *SuggestionsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	sinceDate := q.Get("since_date")
	if sinceDate == "" {
		sinceDate = time.Now().AddDate(-1, 0, 0).Format("2006-01-02")
	}

	minTransactions := 3
	if v := q.Get("min_transactions"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			middleware.WriteError(w, http.StatusBadRequest, "min_transactions must be a positive integer")
			return
		}
		minTransactions = parsed
	}

	txns, err := h.ledger.GetTransactions(ctx, sinceDate, q.Get("account_id"))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to fetch transactions")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to fetch transactions from ledger")
		return
	}

	analyzer := rules.NewPatternAnalyzer(0, minTransactions)
	summaries := analyzer.Summarize(txns)

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"since_date": sinceDate,
		"payees":     summaries,
		"count":      len(summaries),
	})
}

// bulkCreateRequest is the body of POST /api/suggestions/bulk-create.
type bulkCreateRequest struct {
	Suggestions []rules.RuleSuggestion `json:"suggestions"`
}

// BulkCreate handles POST /api/suggestions/bulk-create. Each accepted
// suggestion becomes an exact-match rule bounded to the suggestion's
// direction so an incoming pattern never categorizes outgoing spend.
func (h *SuggestionsHandler) BulkCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req bulkCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Suggestions) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "At least one suggestion is required")
		return
	}

	covered, err := h.coveredPayees(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list rules")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list rules")
		return
	}

	created := 0
	skipped := 0
	for _, s := range req.Suggestions {
		if s.PayeeName == "" || s.CategoryID == "" {
			skipped++
			continue
		}
		if covered.covers(s.PayeeName) {
			skipped++
			continue
		}

		rule := ruleFromSuggestion(s)
		if err := h.repo.Create(ctx, &rule); err != nil {
			h.log.Error().Err(err).Str("payee", s.PayeeName).Msg("Failed to create suggested rule")
			skipped++
			continue
		}
		covered.addExact(s.PayeeName)
		created++
	}

	h.log.Info().Int("created", created).Int("skipped", skipped).Msg("Bulk-created rules")
	middleware.WriteJSON(w, http.StatusOK, map[string]int{
		"created": created,
		"skipped": skipped,
	})
}

// ruleFromSuggestion builds an exact-match rule from one suggestion.
// The amount bound pins the rule to the direction it was mined from.
func ruleFromSuggestion(s rules.RuleSuggestion) rules.Rule {
	payee := s.PayeeName
	rule := rules.Rule{
		Name:         "Auto: " + payee + " -> " + s.CategoryName,
		Priority:     10,
		PayeeExact:   &payee,
		CategoryID:   s.CategoryID,
		CategoryName: s.CategoryName,
		IsActive:     true,
	}

	if s.Direction == rules.DirectionIncoming {
		min := 0.0
		rule.AmountMin = &min
	} else {
		max := -0.01
		rule.AmountMax = &max
	}
	return rule
}

// payeeCoverage answers whether an active rule already categorizes a
// payee. Exact patterns must equal the payee, contains patterns are
// substrings; both compare uppercased.
type payeeCoverage struct {
	exact    map[string]bool
	contains []string
}

func (c *payeeCoverage) covers(payee string) bool {
	upper := strings.ToUpper(payee)
	if c.exact[upper] {
		return true
	}
	for _, pattern := range c.contains {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}

func (c *payeeCoverage) addExact(payee string) {
	c.exact[strings.ToUpper(payee)] = true
}

func (h *SuggestionsHandler) coveredPayees(ctx context.Context) (*payeeCoverage, error) {
	active, err := h.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	coverage := &payeeCoverage{exact: make(map[string]bool)}
	for _, rule := range active {
		if rule.PayeeExact != nil {
			coverage.exact[strings.ToUpper(*rule.PayeeExact)] = true
		}
		if rule.PayeeContains != nil {
			coverage.contains = append(coverage.contains, strings.ToUpper(*rule.PayeeContains))
		}
	}
	return coverage, nil
}

// LedgerHandler handles endpoints that talk to the ledger directly.
type LedgerHandler struct {
	ledger         Ledger
	defaultAccount string
	log            zerolog.Logger
}

// NewLedgerHandler creates a new ledger handler. defaultAccount may be
// empty, in which case imports fall back to the first open account.
func NewLedgerHandler(ledger Ledger, defaultAccount string, log zerolog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, defaultAccount: defaultAccount, log: log}
}

// ListCategories handles GET /api/categories
func (h *LedgerHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	categories, err := h.ledger.GetCategories(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to fetch categories")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to fetch categories from ledger")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": categories,
		"count":      len(categories),
	})
}

// ListPayees handles GET /api/payees
func (h *LedgerHandler) ListPayees(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payees, err := h.ledger.GetPayees(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to fetch payees")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to fetch payees from ledger")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"payees": payees,
		"count":  len(payees),
	})
}

// importRequest is the body of POST /api/transactions/import.
type importRequest struct {
	AccountID    string                         `json:"account_id"`
	Transactions []rules.CategorizedTransaction `json:"transactions"`
}

// ImportTransactions handles POST /api/transactions/import. It pushes
// reviewed transactions to the ledger; the ledger deduplicates on
// import id so re-submitting a batch is safe.
func (h *LedgerHandler) ImportTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Transactions) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "At least one transaction is required")
		return
	}

	accountID, err := h.resolveAccount(ctx, req.AccountID)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to resolve target account")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to resolve target account")
		return
	}

	newTxns := make([]ynab.NewTransaction, 0, len(req.Transactions))
	for _, txn := range req.Transactions {
		if txn.Date == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Every transaction needs a date")
			return
		}
		newTxns = append(newTxns, ynab.NewTransaction{
			Date:             txn.Date,
			AmountMilliunits: txn.AmountMilliunits,
			PayeeName:        txn.Payee,
			Memo:             txn.Memo,
			CategoryID:       txn.CategoryID,
			ImportID:         txn.ImportID,
		})
	}

	result, err := h.ledger.CreateTransactions(ctx, accountID, newTxns)
	if err != nil {
		var apiErr *ynab.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 {
			middleware.WriteError(w, http.StatusBadGateway, apiErr.Error())
			return
		}
		h.log.Error().Err(err).Msg("Failed to create transactions")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to create transactions in ledger")
		return
	}

	h.log.Info().
		Str("account_id", accountID).
		Int("created", result.Created).
		Int("duplicates", result.Duplicates).
		Msg("Imported transactions")

	middleware.WriteJSON(w, http.StatusOK, result)
}

func (h *LedgerHandler) resolveAccount(ctx context.Context, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if h.defaultAccount != "" {
		return h.defaultAccount, nil
	}

	accounts, err := h.ledger.GetAccounts(ctx)
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", errors.New("no open accounts in budget")
	}
	return accounts[0].ID, nil
}

// HealthHandler handles health check endpoints.
type HealthHandler struct{}

// NewHealthHandler creates a new health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
