package opbank

// Transaction is one normalized transaction parsed from an OP bank CSV
// export. Amounts are signed: positive for money in, negative for money
// out. ImportID is stable for a given source row so re-importing the
// same file never creates duplicates downstream.
type Transaction struct {
	Date             string  `json:"date"` // ISO YYYY-MM-DD
	Payee            string  `json:"payee"`
	Amount           float64 `json:"amount"`
	AmountMilliunits int64   `json:"amount_milliunits"`
	Memo             string  `json:"memo,omitempty"`
	ImportID         string  `json:"import_id"`

	// Original row data kept for audit.
	OriginalDate   string `json:"original_date"`
	OriginalAmount string `json:"original_amount"`
	Reference      string `json:"reference,omitempty"`
	ArchiveID      string `json:"archive_id,omitempty"`
}

// Row issue codes reported by the parser when a row is skipped or a
// field is silently defaulted.
const (
	IssueMissingDate      = "missing_date"
	IssueInvalidDate      = "invalid_date"
	IssueUnparsableAmount = "unparsable_amount"
	IssueMalformedRow     = "malformed_row"
)

// RowIssue describes a non-fatal problem with a single CSV row. Rows
// with date issues are dropped; an unparsable amount keeps the row with
// amount 0.0 but is still reported here.
type RowIssue struct {
	Line    int    `json:"line"` // 1-based, header is line 1
	Code    string `json:"code"`
	Message string `json:"message"`
}
