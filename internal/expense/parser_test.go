package expense

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/invoice-pipeline/internal/domain"
)

var parseTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func field(label, value string, groups ...string) domain.ExpenseField {
	return domain.ExpenseField{Type: label, Value: value, GroupTypes: groups}
}

func singleDocument(summary []domain.ExpenseField, rows ...[]domain.ExpenseField) *domain.AnalysisResult {
	group := domain.LineItemGroup{}
	for _, row := range rows {
		group.LineItems = append(group.LineItems, domain.LineItemFields{Fields: row})
	}
	return &domain.AnalysisResult{
		Status: domain.AnalysisStatusSucceeded,
		ExpenseDocuments: []domain.ExpenseDocument{{
			SummaryFields:  summary,
			LineItemGroups: []domain.LineItemGroup{group},
		}},
	}
}

func TestParseExpenseEndToEnd(t *testing.T) {
	payload := singleDocument(
		[]domain.ExpenseField{
			field("VENDOR", "Acme Co"),
			field("TOTAL", "$12.50"),
			field("INVOICE_DATE", "2024-01-01"),
		},
		[]domain.ExpenseField{
			field("ITEM", "Widget"),
			field("QUANTITY", "2"),
			field("PRICE", "6.25"),
		},
	)

	parsed := ParseExpenseAt(payload, parseTime)

	assert.Equal(t, "Acme Co", parsed.Vendor)
	assert.Equal(t, "12.5", parsed.TotalAmount.String())
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), parsed.InvoiceDate)
	assert.True(t, parsed.InvoiceDateDetected)
	assert.Nil(t, parsed.BillTo)
	require.Len(t, parsed.LineItems, 1)
	item := parsed.LineItems[0]
	assert.Equal(t, "Widget", item.Description)
	assert.Equal(t, 2, item.Quantity)
	assert.Equal(t, "", item.Unit)
	assert.Equal(t, "6.25", item.Price.String())
}

func TestParseExpenseDefaults(t *testing.T) {
	cases := map[string]*domain.AnalysisResult{
		"nil payload":        nil,
		"empty payload":      {},
		"no documents":       {ExpenseDocuments: []domain.ExpenseDocument{}},
		"empty document":     {ExpenseDocuments: []domain.ExpenseDocument{{}}},
		"failed job payload": {Status: domain.AnalysisStatusFailed, StatusMessage: "unsupported document"},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			parsed := ParseExpenseAt(payload, parseTime)
			assert.Equal(t, "", parsed.Vendor)
			assert.True(t, parsed.TotalAmount.IsZero())
			assert.Equal(t, parseTime, parsed.InvoiceDate)
			assert.False(t, parsed.InvoiceDateDetected)
			assert.NotNil(t, parsed.LineItems)
			assert.Empty(t, parsed.LineItems)
			assert.Nil(t, parsed.BillTo)
		})
	}
}

func TestParseExpenseUsesCurrentTimeByDefault(t *testing.T) {
	before := time.Now().UTC()
	parsed := ParseExpense(&domain.AnalysisResult{})
	after := time.Now().UTC()

	assert.False(t, parsed.InvoiceDate.Before(before))
	assert.False(t, parsed.InvoiceDate.After(after))
}

func TestParseExpenseMatchesLabelsBySubstring(t *testing.T) {
	parsed := ParseExpenseAt(singleDocument([]domain.ExpenseField{
		field("VENDOR_NAME", "Globex"),
		field("Total Due", "$1,573.76"),
	}), parseTime)

	assert.Equal(t, "Globex", parsed.Vendor)
	assert.Equal(t, "1573.76", parsed.TotalAmount.String())
}

func TestParseAmountStripsNonNumericCharacters(t *testing.T) {
	cases := map[string]string{
		"$1,573.76":  "1573.76",
		"$1573.76":   "1573.76",
		"USD 42":     "42",
		"12.":        "12",
		".5":         "0.5",
		"1.2.3":      "1.2",
		"EUR 9.99 €": "9.99",
		"9,99":       "999",
	}
	for input, expected := range cases {
		amount, ok := parseAmount(input)
		require.True(t, ok, input)
		assert.Equal(t, expected, amount.String(), input)
	}

	for _, input := range []string{"", "N/A", "$", "..."} {
		_, ok := parseAmount(input)
		assert.False(t, ok, input)
	}
}

func TestParseExpenseSkipsInvalidValuesKeepingPreviousDefault(t *testing.T) {
	parsed := ParseExpenseAt(singleDocument([]domain.ExpenseField{
		field("TOTAL", "$99.10"),
		field("SUBTOTAL", "n/a"),
		field("INVOICE_DATE", "2024-02-29"),
		field("DUE_DATE", "upon receipt"),
	}), parseTime)

	assert.Equal(t, "99.1", parsed.TotalAmount.String())
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), parsed.InvoiceDate)
}

func TestParseExpenseLastMatchingFieldWins(t *testing.T) {
	parsed := ParseExpenseAt(singleDocument([]domain.ExpenseField{
		field("TOTAL", "10.00"),
		field("VENDOR", "First"),
		field("SUBTOTAL", "8.00"),
		field("VENDOR_NAME", "Second"),
	}), parseTime)

	assert.Equal(t, "8", parsed.TotalAmount.String())
	assert.Equal(t, "Second", parsed.Vendor)
}

func TestParseExpenseBillTo(t *testing.T) {
	parsed := ParseExpenseAt(singleDocument([]domain.ExpenseField{
		field("VENDOR", "International Gourmet Foods, Inc."),
		field("NAME", "Bonafide Delicious", "RECEIVER_BILL_TO"),
		field("STREET", "1854 LA DRANCE STREET NE", "RECEIVER_BILL_TO"),
		field("CITY", "Atlanta,", "RECEIVER_BILL_TO"),
		field("STATE", "GA", "RECEIVER_BILL_TO"),
		field("ZIP_CODE", "30007", "RECEIVER_BILL_TO"),
		field("ADDRESS_BLOCK", "1854 LA DRANCE STREET NE Atlanta, GA 30007", "RECEIVER_BILL_TO"),
	}), parseTime)

	require.NotNil(t, parsed.BillTo)
	assert.Equal(t, "Bonafide Delicious", parsed.BillTo.Name)
	assert.Equal(t, "1854 LA DRANCE STREET NE", parsed.BillTo.Street)
	assert.Equal(t, "Atlanta,", parsed.BillTo.City)
	assert.Equal(t, "GA", parsed.BillTo.State)
	assert.Equal(t, "30007", parsed.BillTo.ZipCode)
	assert.Equal(t, "1854 LA DRANCE STREET NE Atlanta, GA 30007", parsed.BillTo.AddressBlock)
	assert.Equal(t, "International Gourmet Foods, Inc.", parsed.Vendor)
}

func TestParseExpenseBillToFirstRuleWins(t *testing.T) {
	parsed := ParseExpenseAt(singleDocument([]domain.ExpenseField{
		// "street_name" hits "street" before "name".
		field("STREET_NAME", "Main St", "RECEIVER_BILL_TO"),
		// Bill-to fields never feed header targets.
		field("TOTAL_STATE", "$5.00", "RECEIVER_BILL_TO"),
	}), parseTime)

	require.NotNil(t, parsed.BillTo)
	assert.Equal(t, "Main St", parsed.BillTo.Street)
	assert.Equal(t, "", parsed.BillTo.Name)
	assert.Equal(t, "$5.00", parsed.BillTo.State)
	assert.True(t, parsed.TotalAmount.IsZero())
}

func TestParseExpenseBillToPresentEvenWhenEmpty(t *testing.T) {
	parsed := ParseExpenseAt(singleDocument([]domain.ExpenseField{
		field("PHONE", "555-0100", "RECEIVER_BILL_TO"),
	}), parseTime)

	require.NotNil(t, parsed.BillTo)
	assert.Equal(t, domain.BillToAddress{}, *parsed.BillTo)
}

func TestParseExpenseBillToAbsentForOtherGroups(t *testing.T) {
	parsed := ParseExpenseAt(singleDocument([]domain.ExpenseField{
		field("NAME", "Vendor Inc", "VENDOR"),
		field("STREET", "1 Supplier Way", "RECEIVER_SHIP_TO"),
	}), parseTime)

	assert.Nil(t, parsed.BillTo)
}

func TestParseExpenseDropsLineItemsWithoutDescription(t *testing.T) {
	parsed := ParseExpenseAt(singleDocument(nil,
		[]domain.ExpenseField{field("QUANTITY", "3"), field("PRICE", "$4.00")},
		[]domain.ExpenseField{field("PRODUCT_CODE", "SKU-9"), field("QUANTITY", "1 EA")},
		[]domain.ExpenseField{field("ITEM", ""), field("PRICE", "1.00")},
	), parseTime)

	require.Len(t, parsed.LineItems, 1)
	assert.Equal(t, "SKU-9", parsed.LineItems[0].Description)
	assert.Equal(t, 1, parsed.LineItems[0].Quantity)
}

func TestParseExpenseLineItemFields(t *testing.T) {
	parsed := ParseExpenseAt(singleDocument(nil,
		[]domain.ExpenseField{
			field("ITEM", "SALT, KOSHER DIAMOND CRYSTAL 3-LB"),
			field("QUANTITY", "4"),
			field("UNIT", "9.46 /BOX"),
			field("PRICE", "37.84"),
		},
		[]domain.ExpenseField{
			field("ITEM", "Gloves"),
			field("QUANTITY", "a few"),
			field("UNIT_PRICE", "$2.10"),
		},
	), parseTime)

	require.Len(t, parsed.LineItems, 2)
	first := parsed.LineItems[0]
	assert.Equal(t, "SALT, KOSHER DIAMOND CRYSTAL 3-LB", first.Description)
	assert.Equal(t, 4, first.Quantity)
	assert.Equal(t, "9.46 /BOX", first.Unit)
	assert.Equal(t, "37.84", first.Price.String())

	second := parsed.LineItems[1]
	assert.Equal(t, 0, second.Quantity)
	assert.Equal(t, "$2.10", second.Unit)
	assert.Equal(t, "2.1", second.Price.String())
}

func TestParseExpenseKeepsLineItemOrderAcrossGroups(t *testing.T) {
	payload := &domain.AnalysisResult{ExpenseDocuments: []domain.ExpenseDocument{{
		LineItemGroups: []domain.LineItemGroup{
			{LineItems: []domain.LineItemFields{{Fields: []domain.ExpenseField{field("ITEM", "a")}}}},
			{LineItems: []domain.LineItemFields{
				{Fields: []domain.ExpenseField{field("ITEM", "b")}},
				{Fields: []domain.ExpenseField{field("ITEM", "c")}},
			}},
		},
	}}}

	parsed := ParseExpenseAt(payload, parseTime)

	require.Len(t, parsed.LineItems, 3)
	assert.Equal(t, "a", parsed.LineItems[0].Description)
	assert.Equal(t, "b", parsed.LineItems[1].Description)
	assert.Equal(t, "c", parsed.LineItems[2].Description)
}

func TestParseExpenseSynthesizesDocumentFromBlocks(t *testing.T) {
	payload := &domain.AnalysisResult{
		Blocks: []domain.Block{
			{BlockType: "PAGE"},
			{BlockType: "KEY_VALUE_SET", EntityTypes: []string{"VENDOR"}, Text: "Block Vendor"},
			{BlockType: "LINE", Text: "TOTAL 5.00"},
			{BlockType: "KEY_VALUE_SET", EntityTypes: []string{"TOTAL"}, Text: "$5.00"},
		},
	}

	parsed := ParseExpenseAt(payload, parseTime)

	assert.Equal(t, "Block Vendor", parsed.Vendor)
	assert.Equal(t, "5", parsed.TotalAmount.String())
	assert.Empty(t, parsed.LineItems)
}

func TestParseExpensePrefersStructuredDocumentOverBlocks(t *testing.T) {
	payload := singleDocument([]domain.ExpenseField{field("VENDOR", "Structured")})
	payload.Blocks = []domain.Block{{BlockType: "KEY_VALUE_SET", EntityTypes: []string{"VENDOR"}, Text: "Blocks"}}

	parsed := ParseExpenseAt(payload, parseTime)

	assert.Equal(t, "Structured", parsed.Vendor)
}

func TestParseDateLayouts(t *testing.T) {
	expected := time.Date(2025, 2, 21, 0, 0, 0, 0, time.UTC)
	for _, input := range []string{"2025-02-21", "02/21/2025", "2/21/2025", "Feb 21, 2025", "February 21, 2025", "21 Feb 2025"} {
		parsed, ok := parseDate(input)
		require.True(t, ok, input)
		assert.Equal(t, expected, parsed, input)
	}

	withTime := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	for _, input := range []string{"2024-01-15 10:30:00", "2024-01-15 10:30"} {
		parsed, ok := parseDate(input)
		require.True(t, ok, input)
		assert.Equal(t, withTime, parsed, input)
	}

	_, ok := parseDate("not a date")
	assert.False(t, ok)
}

func TestParseQuantity(t *testing.T) {
	quantity, ok := parseQuantity(" 12 boxes")
	require.True(t, ok)
	assert.Equal(t, 12, quantity)

	_, ok = parseQuantity("x2")
	assert.False(t, ok)
}
