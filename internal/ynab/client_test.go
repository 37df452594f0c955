package ynab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-token", "budget-1", zerolog.Nop(), WithBaseURL(srv.URL))
}

func TestGetCategories_FlattensAndFilters(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/budgets/budget-1/categories" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"data":{"category_groups":[
			{"name":"Everyday","hidden":false,"deleted":false,"categories":[
				{"id":"c1","name":"Groceries","hidden":false,"deleted":false,"budgeted":50000},
				{"id":"c2","name":"Old","hidden":true,"deleted":false},
				{"id":"c3","name":"Gone","hidden":false,"deleted":true}
			]},
			{"name":"Internal Master Category","categories":[
				{"id":"c4","name":"Inflow"}
			]},
			{"name":"Credit Card Payments","categories":[
				{"id":"c5","name":"Visa"}
			]},
			{"name":"Hidden Group","hidden":true,"categories":[
				{"id":"c6","name":"X"}
			]}
		]}}`))
	})

	categories, err := client.GetCategories(context.Background())
	if err != nil {
		t.Fatalf("GetCategories() error = %v", err)
	}

	if len(categories) != 1 {
		t.Fatalf("got %d categories, want 1: %+v", len(categories), categories)
	}
	got := categories[0]
	if got.ID != "c1" || got.Name != "Groceries" || got.GroupName != "Everyday" {
		t.Errorf("unexpected category %+v", got)
	}
	if got.DisplayName != "Everyday: Groceries" {
		t.Errorf("DisplayName = %q", got.DisplayName)
	}
	if got.Budgeted != 50000 {
		t.Errorf("Budgeted = %d", got.Budgeted)
	}
}

func TestGetCategories_Cached(t *testing.T) {
	calls := 0
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"data":{"category_groups":[
			{"name":"Everyday","categories":[{"id":"c1","name":"Groceries"}]}
		]}}`))
	})

	for i := 0; i < 3; i++ {
		if _, err := client.GetCategories(context.Background()); err != nil {
			t.Fatalf("GetCategories() error = %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("server hit %d times, want 1", calls)
	}
}

func TestGetAccounts_SkipsClosedAndDeleted(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"accounts":[
			{"id":"a1","name":"Checking","type":"checking","on_budget":true},
			{"id":"a2","name":"Closed","closed":true},
			{"id":"a3","name":"Deleted","deleted":true}
		]}}`))
	})

	accounts, err := client.GetAccounts(context.Background())
	if err != nil {
		t.Fatalf("GetAccounts() error = %v", err)
	}
	if len(accounts) != 1 || accounts[0].ID != "a1" {
		t.Errorf("accounts = %+v, want only a1", accounts)
	}
}

func TestGetTransactions_AccountScopeAndConversion(t *testing.T) {
	var gotPath, gotQuery string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"data":{"transactions":[
			{"id":"t1","date":"2024-03-15","amount":-45670,"payee_name":"K-MARKET","category_id":"c1","category_name":"Groceries"},
			{"id":"t2","date":"2024-03-16","amount":-1000,"payee_name":"GONE","deleted":true}
		]}}`))
	})

	txns, err := client.GetTransactions(context.Background(), "2024-01-01", "acc-1")
	if err != nil {
		t.Fatalf("GetTransactions() error = %v", err)
	}

	if gotPath != "/budgets/budget-1/accounts/acc-1/transactions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "since_date=2024-01-01" {
		t.Errorf("query = %q", gotQuery)
	}
	if len(txns) != 1 {
		t.Fatalf("got %d transactions, want 1 (deleted filtered)", len(txns))
	}
	if txns[0].Amount != -45.67 {
		t.Errorf("Amount = %v, want -45.67", txns[0].Amount)
	}
	if txns[0].AmountMilliunits != -45670 {
		t.Errorf("AmountMilliunits = %d", txns[0].AmountMilliunits)
	}
}

func TestCreateTransactions_WireFormat(t *testing.T) {
	var gotBody struct {
		Transactions []map[string]interface{} `json:"transactions"`
	}
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decoding request body: %v", err)
		}
		w.Write([]byte(`{"data":{"transaction_ids":["t1"],"duplicate_import_ids":["OP:dup"]}}`))
	})

	longMemo := strings.Repeat("ä", 250)
	result, err := client.CreateTransactions(context.Background(), "acc-1", []NewTransaction{
		{
			Date:             "2024-03-15",
			AmountMilliunits: -45670,
			PayeeName:        "K-MARKET",
			Memo:             longMemo,
			CategoryID:       "c1",
			ImportID:         "OP:abc",
		},
	})
	if err != nil {
		t.Fatalf("CreateTransactions() error = %v", err)
	}

	if result.Created != 1 || result.Duplicates != 1 {
		t.Errorf("result = %+v, want 1 created 1 duplicate", result)
	}
	if result.DuplicateImportIDs[0] != "OP:dup" {
		t.Errorf("DuplicateImportIDs = %v", result.DuplicateImportIDs)
	}

	if len(gotBody.Transactions) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(gotBody.Transactions))
	}
	sent := gotBody.Transactions[0]
	if sent["account_id"] != "acc-1" {
		t.Errorf("account_id = %v", sent["account_id"])
	}
	if sent["amount"] != float64(-45670) {
		t.Errorf("amount = %v, want -45670 milliunits", sent["amount"])
	}
	if sent["cleared"] != "cleared" {
		t.Errorf("cleared = %v", sent["cleared"])
	}
	if sent["approved"] != true {
		t.Errorf("approved = %v", sent["approved"])
	}
	if memo := sent["memo"].(string); utf8.RuneCountInString(memo) != 200 || !utf8.ValidString(memo) {
		t.Errorf("memo = %d chars (valid=%v), want 200 chars of intact UTF-8",
			utf8.RuneCountInString(memo), utf8.ValidString(memo))
	}
	if sent["import_id"] != "OP:abc" {
		t.Errorf("import_id = %v", sent["import_id"])
	}
}

func TestCreateTransactions_FirstAccountFallback(t *testing.T) {
	var sentAccountID string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/accounts") {
			w.Write([]byte(`{"data":{"accounts":[
				{"id":"a1","name":"Checking"},{"id":"a2","name":"Savings"}
			]}}`))
			return
		}
		var body struct {
			Transactions []struct {
				AccountID string `json:"account_id"`
			} `json:"transactions"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		sentAccountID = body.Transactions[0].AccountID
		w.Write([]byte(`{"data":{"transaction_ids":["t1"],"duplicate_import_ids":[]}}`))
	})

	_, err := client.CreateTransactions(context.Background(), "", []NewTransaction{
		{Date: "2024-03-15", AmountMilliunits: -1000, PayeeName: "X"},
	})
	if err != nil {
		t.Fatalf("CreateTransactions() error = %v", err)
	}
	if sentAccountID != "a1" {
		t.Errorf("account_id = %q, want first open account a1", sentAccountID)
	}
}

func TestCreateTransactions_BudgetNotConfigured(t *testing.T) {
	client := NewClient("token", "", zerolog.Nop())

	_, err := client.CreateTransactions(context.Background(), "acc-1", []NewTransaction{
		{Date: "2024-03-15"},
	})

	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", apiErr.StatusCode)
	}
}

func TestRequest_APIError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"detail":"Unauthorized"}}`))
	})

	_, err := client.GetBudgets(context.Background())

	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
	if apiErr.Message != "Unauthorized" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if !strings.Contains(apiErr.Error(), "YNAB API error (401)") {
		t.Errorf("Error() = %q", apiErr.Error())
	}
}

func TestRequest_APIErrorWithoutDetail(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`oops`))
	})

	_, err := client.GetBudgets(context.Background())

	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Message != "Unknown error" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}
