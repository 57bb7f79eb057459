// Package expense turns raw document-analysis payloads into typed invoice data.
package expense

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iago/invoice-pipeline/internal/domain"
)

const groupReceiverBillTo = "RECEIVER_BILL_TO"

var (
	nonNumeric    = regexp.MustCompile(`[^0-9.]`)
	decimalPrefix = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)`)
	integerPrefix = regexp.MustCompile(`^[+-]?\d+`)
)

// billToRules are checked in order and the first substring hit wins.
var billToRules = []struct {
	needle string
	assign func(*domain.BillToAddress, string)
}{
	{"address_block", func(b *domain.BillToAddress, v string) { b.AddressBlock = v }},
	{"street", func(b *domain.BillToAddress, v string) { b.Street = v }},
	{"city", func(b *domain.BillToAddress, v string) { b.City = v }},
	{"state", func(b *domain.BillToAddress, v string) { b.State = v }},
	{"zip", func(b *domain.BillToAddress, v string) { b.ZipCode = v }},
	{"name", func(b *domain.BillToAddress, v string) { b.Name = v }},
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"01-02-2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"02-Jan-2006",
	"02-Jan-06",
	"Mon, 02 Jan 2006",
	"Monday, January 2, 2006",
}

// ParseExpense derives a ParsedExpense from a raw analysis payload. It never
// fails: a nil or empty payload yields the default value with the current time
// as invoice date.
func ParseExpense(payload *domain.AnalysisResult) domain.ParsedExpense {
	return ParseExpenseAt(payload, time.Now().UTC())
}

// ParseExpenseAt is ParseExpense with an explicit default invoice date.
func ParseExpenseAt(payload *domain.AnalysisResult, now time.Time) domain.ParsedExpense {
	parsed := domain.ParsedExpense{
		InvoiceDate: now,
		LineItems:   []domain.LineItem{},
	}

	document, ok := expenseDocument(payload)
	if !ok {
		return parsed
	}

	parseSummaryFields(document.SummaryFields, &parsed)
	parsed.LineItems = parseLineItems(document.LineItemGroups)
	return parsed
}

// expenseDocument prefers the pre-structured document and falls back to
// synthesizing one from KEY_VALUE_SET blocks.
func expenseDocument(payload *domain.AnalysisResult) (domain.ExpenseDocument, bool) {
	if payload == nil {
		return domain.ExpenseDocument{}, false
	}
	if len(payload.ExpenseDocuments) > 0 {
		return payload.ExpenseDocuments[0], true
	}
	if payload.Blocks == nil {
		return domain.ExpenseDocument{}, false
	}

	document := domain.ExpenseDocument{SummaryFields: []domain.ExpenseField{}}
	for _, block := range payload.Blocks {
		if block.BlockType != domain.BlockTypeKeyValueSet {
			continue
		}
		document.SummaryFields = append(document.SummaryFields, domain.ExpenseField{
			Type:  strings.Join(block.EntityTypes, "_"),
			Value: block.Text,
		})
	}
	return document, true
}

func parseSummaryFields(fields []domain.ExpenseField, parsed *domain.ParsedExpense) {
	for _, field := range fields {
		label := strings.ToLower(field.Type)

		if field.InGroup(groupReceiverBillTo) {
			if parsed.BillTo == nil {
				parsed.BillTo = &domain.BillToAddress{}
			}
			for _, rule := range billToRules {
				if strings.Contains(label, rule.needle) {
					rule.assign(parsed.BillTo, field.Value)
					break
				}
			}
			continue
		}

		// Header rules are independent: one label may feed several targets.
		if strings.Contains(label, "vendor") {
			parsed.Vendor = field.Value
		}
		if strings.Contains(label, "total") {
			if amount, ok := parseAmount(field.Value); ok {
				parsed.TotalAmount = amount
			}
		}
		if strings.Contains(label, "date") {
			if date, ok := parseDate(field.Value); ok {
				parsed.InvoiceDate = date
				parsed.InvoiceDateDetected = true
			}
		}
	}
}

func parseLineItems(groups []domain.LineItemGroup) []domain.LineItem {
	items := make([]domain.LineItem, 0)
	for _, group := range groups {
		for _, row := range group.LineItems {
			var item domain.LineItem
			for _, field := range row.Fields {
				label := strings.ToLower(field.Type)
				if strings.Contains(label, "item") || strings.Contains(label, "product") {
					item.Description = field.Value
				}
				if strings.Contains(label, "quantity") {
					if quantity, ok := parseQuantity(field.Value); ok {
						item.Quantity = quantity
					}
				}
				if strings.Contains(label, "unit") {
					item.Unit = field.Value
				}
				if strings.Contains(label, "price") {
					if price, ok := parseAmount(field.Value); ok {
						item.Price = price
					}
				}
			}
			if item.Description == "" {
				continue
			}
			items = append(items, item)
		}
	}
	return items
}

// parseAmount strips everything but digits and dots, then reads the longest
// leading decimal number ("$1,573.76" -> 1573.76, "1.2.3" -> 1.2).
func parseAmount(value string) (decimal.Decimal, bool) {
	digits := decimalPrefix.FindString(nonNumeric.ReplaceAllString(value, ""))
	digits = strings.TrimSuffix(digits, ".")
	if digits == "" {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Zero, false
	}
	return amount, true
}

func parseQuantity(value string) (int, bool) {
	digits := integerPrefix.FindString(strings.TrimSpace(value))
	if digits == "" {
		return 0, false
	}
	quantity, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return quantity, true
}

func parseDate(value string) (time.Time, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}
