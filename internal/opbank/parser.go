// Package opbank parses CSV exports from OP (Osuuspankki) online
// banking. The format is Finnish-locale: semicolon separators,
// DD.MM.YYYY dates and comma as the decimal separator.
package opbank

import (
	"crypto/md5"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// columnMappings maps lower-cased Finnish header names to canonical
// field names. Headers not listed here pass through under their
// lower-cased, trimmed name.
var columnMappings = map[string]string{
	"kirjauspäivä":      "booking_date",
	"arvopäivä":         "value_date",
	"määrä":             "amount",
	"laji":              "type",
	"selitys":           "explanation",
	"saaja/maksaja":     "payee",
	"saajan tilinumero": "payee_account",
	"viite":             "reference",
	"viesti":            "message",
	"arkistointitunnus": "archive_id",
}

var (
	finnishDateRe = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4})`)
	isoDateRe     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
)

// Parser parses OP bank CSV exports into normalized transactions.
type Parser struct {
	log zerolog.Logger
}

// NewParser creates a parser that reports skipped rows to the given logger.
func NewParser(log zerolog.Logger) *Parser {
	return &Parser{log: log}
}

// Parse reads CSV content and returns the parsed transactions plus a
// list of row-level issues. A bad row never aborts the whole batch: it
// is skipped (or its amount defaulted) and reported as a RowIssue. The
// only fatal condition is content that is not valid UTF-8.
func (p *Parser) Parse(content string) ([]Transaction, []RowIssue, error) {
	if !utf8.ValidString(content) {
		return nil, nil, fmt.Errorf("Parse: content is not valid UTF-8")
	}
	content = strings.TrimPrefix(content, "\uFEFF")

	delimiter := detectDelimiter(content)

	reader := csv.NewReader(strings.NewReader(content))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("Parse: reading header: %w", err)
	}

	columns := make([]string, len(header))
	for i, col := range header {
		columns[i] = normalizeColumn(col)
	}

	var (
		transactions []Transaction
		issues       []RowIssue
	)

	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			issues = append(issues, RowIssue{
				Line:    line,
				Code:    IssueMalformedRow,
				Message: err.Error(),
			})
			p.log.Warn().Int("line", line).Err(err).Msg("skipping malformed CSV row")
			continue
		}

		row := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = record[i]
			}
		}

		txn, rowIssues := p.parseRow(line, row)
		issues = append(issues, rowIssues...)
		if txn != nil {
			transactions = append(transactions, *txn)
		}
	}

	return transactions, issues, nil
}

// parseRow converts one CSV row into a Transaction. A nil transaction
// means the row was dropped; issues explain why.
func (p *Parser) parseRow(line int, row map[string]string) (*Transaction, []RowIssue) {
	var issues []RowIssue

	// Prefer booking date, fall back to value date.
	dateStr := row["booking_date"]
	if strings.TrimSpace(dateStr) == "" {
		dateStr = row["value_date"]
	}
	if strings.TrimSpace(dateStr) == "" {
		issues = append(issues, RowIssue{
			Line:    line,
			Code:    IssueMissingDate,
			Message: "row has neither booking date nor value date",
		})
		return nil, issues
	}

	date, ok := parseDate(dateStr)
	if !ok {
		issues = append(issues, RowIssue{
			Line:    line,
			Code:    IssueInvalidDate,
			Message: fmt.Sprintf("unrecognized date %q", strings.TrimSpace(dateStr)),
		})
		p.log.Warn().Int("line", line).Str("date", dateStr).Msg("dropping row with invalid date")
		return nil, issues
	}

	amountStr, hasAmount := row["amount"]
	if !hasAmount {
		amountStr = "0"
	}
	amount, ok := parseAmount(amountStr)
	if !ok {
		// Kept with amount 0.0 rather than dropped, but observable.
		issues = append(issues, RowIssue{
			Line:    line,
			Code:    IssueUnparsableAmount,
			Message: fmt.Sprintf("amount %q defaulted to 0.0", strings.TrimSpace(amountStr)),
		})
		p.log.Warn().Int("line", line).Str("amount", amountStr).Msg("unparsable amount defaulted to zero")
	}

	payee := strings.TrimSpace(row["payee"])
	if payee == "" {
		payee = strings.TrimSpace(row["explanation"])
	}
	if payee == "" {
		payee = "Unknown"
	}

	var memoParts []string
	if v := strings.TrimSpace(row["explanation"]); v != "" {
		memoParts = append(memoParts, v)
	}
	if v := strings.TrimSpace(row["message"]); v != "" {
		memoParts = append(memoParts, v)
	}
	memo := strings.Join(memoParts, " | ")

	archiveID := row["archive_id"]

	return &Transaction{
		Date:             date,
		Payee:            payee,
		Amount:           amount,
		AmountMilliunits: Milliunits(amount),
		Memo:             memo,
		ImportID:         GenerateImportID(date, payee, amount, archiveID),
		OriginalDate:     dateStr,
		OriginalAmount:   amountStr,
		Reference:        row["reference"],
		ArchiveID:        archiveID,
	}, issues
}

// detectDelimiter counts ";" vs "," in the first line and picks ";"
// only when it is strictly more frequent.
func detectDelimiter(content string) rune {
	firstLine, _, _ := strings.Cut(content, "\n")
	if strings.Count(firstLine, ";") > strings.Count(firstLine, ",") {
		return ';'
	}
	return ','
}

// normalizeColumn lower-cases and trims a header cell, then maps known
// Finnish names to canonical field names.
func normalizeColumn(column string) string {
	normalized := strings.ToLower(strings.TrimSpace(column))
	if mapped, ok := columnMappings[normalized]; ok {
		return mapped
	}
	return normalized
}

// parseDate converts a Finnish DD.MM.YYYY date to ISO YYYY-MM-DD,
// rejecting combinations that are not real calendar dates. Input that
// already looks ISO is passed through unchanged.
func parseDate(dateStr string) (string, bool) {
	dateStr = strings.TrimSpace(dateStr)

	if m := finnishDateRe.FindStringSubmatch(dateStr); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])

		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
			return "", false // e.g. 31.02.2024 normalizes away
		}
		return t.Format("2006-01-02"), true
	}

	if isoDateRe.MatchString(dateStr) {
		return dateStr, true
	}

	return "", false
}

// parseAmount parses a Finnish-formatted amount ("1.234,56", "-12,50").
// Spaces and non-breaking spaces are stripped; when both "," and "."
// appear, "." is a thousands separator. Returns (0, false) when the
// string cannot be parsed.
func parseAmount(amountStr string) (float64, bool) {
	amountStr = strings.TrimSpace(amountStr)
	if amountStr == "" {
		return 0, true
	}

	amountStr = strings.ReplaceAll(amountStr, " ", "")
	amountStr = strings.ReplaceAll(amountStr, " ", "")

	if strings.Contains(amountStr, ",") && strings.Contains(amountStr, ".") {
		amountStr = strings.ReplaceAll(amountStr, ".", "")
	}
	amountStr = strings.ReplaceAll(amountStr, ",", ".")

	value, err := strconv.ParseFloat(amountStr, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// Milliunits converts a currency amount to the integer milliunit
// representation used by YNAB (1 unit = 1000 milliunits), truncating
// toward zero the way the ledger does.
func Milliunits(amount float64) int64 {
	return int64(amount * 1000)
}

// GenerateImportID builds the deduplication key for a transaction. The
// bank's archive id wins when present; otherwise the id is derived from
// (date, payee, amount) so identical rows always produce identical ids.
func GenerateImportID(date, payee string, amount float64, archiveID string) string {
	if archiveID != "" {
		return "OP:" + archiveID
	}

	unique := date + ":" + payee + ":" + strconv.FormatFloat(amount, 'g', -1, 64)
	sum := md5.Sum([]byte(unique))
	return fmt.Sprintf("YNAB:%d:%s:%s", Milliunits(amount), date, hex.EncodeToString(sum[:])[:8])
}
