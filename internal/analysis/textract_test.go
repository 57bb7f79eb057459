package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/invoice-pipeline/internal/domain"
	"github.com/iago/invoice-pipeline/internal/expense"
)

type fakeTextract struct {
	expensePages  []*textract.GetExpenseAnalysisOutput
	documentPages []*textract.GetDocumentAnalysisOutput
	expenseStart  *textract.StartExpenseAnalysisInput
	documentStart *textract.StartDocumentAnalysisInput
	tokens        []string
	err           error
}

func (f *fakeTextract) StartExpenseAnalysis(_ context.Context, params *textract.StartExpenseAnalysisInput, _ ...func(*textract.Options)) (*textract.StartExpenseAnalysisOutput, error) {
	f.expenseStart = params
	if f.err != nil {
		return nil, f.err
	}
	return &textract.StartExpenseAnalysisOutput{JobId: aws.String("expense-job")}, nil
}

func (f *fakeTextract) GetExpenseAnalysis(_ context.Context, params *textract.GetExpenseAnalysisInput, _ ...func(*textract.Options)) (*textract.GetExpenseAnalysisOutput, error) {
	f.tokens = append(f.tokens, aws.ToString(params.NextToken))
	page := f.expensePages[0]
	f.expensePages = f.expensePages[1:]
	return page, nil
}

func (f *fakeTextract) StartDocumentAnalysis(_ context.Context, params *textract.StartDocumentAnalysisInput, _ ...func(*textract.Options)) (*textract.StartDocumentAnalysisOutput, error) {
	f.documentStart = params
	return &textract.StartDocumentAnalysisOutput{JobId: aws.String("document-job")}, nil
}

func (f *fakeTextract) GetDocumentAnalysis(_ context.Context, params *textract.GetDocumentAnalysisInput, _ ...func(*textract.Options)) (*textract.GetDocumentAnalysisOutput, error) {
	f.tokens = append(f.tokens, aws.ToString(params.NextToken))
	page := f.documentPages[0]
	f.documentPages = f.documentPages[1:]
	return page, nil
}

func expenseField(label, value string, groups ...string) types.ExpenseField {
	field := types.ExpenseField{
		Type:           &types.ExpenseType{Text: aws.String(label)},
		ValueDetection: &types.ExpenseDetection{Text: aws.String(value)},
	}
	if len(groups) > 0 {
		field.GroupProperties = []types.ExpenseGroupProperty{{Types: groups}}
	}
	return field
}

func TestTextractClientStartsExpenseAnalysis(t *testing.T) {
	api := &fakeTextract{}
	client := NewTextractClient(api, TextractModeExpense)

	jobID, err := client.Start(context.Background(), domain.DocumentLocator{Bucket: "invoices", Key: "igf.pdf"})

	require.NoError(t, err)
	assert.Equal(t, "expense-job", jobID)
	require.NotNil(t, api.expenseStart)
	assert.Equal(t, "invoices", aws.ToString(api.expenseStart.DocumentLocation.S3Object.Bucket))
	assert.Equal(t, "igf.pdf", aws.ToString(api.expenseStart.DocumentLocation.S3Object.Name))
	assert.Nil(t, api.documentStart)
}

func TestTextractClientStartError(t *testing.T) {
	boom := errors.New("access denied")
	client := NewTextractClient(&fakeTextract{err: boom}, "")

	_, err := client.Start(context.Background(), domain.DocumentLocator{Bucket: "b", Key: "k"})

	require.ErrorIs(t, err, boom)
}

func TestTextractClientExpensePollInProgress(t *testing.T) {
	api := &fakeTextract{expensePages: []*textract.GetExpenseAnalysisOutput{
		{JobStatus: types.JobStatusInProgress},
	}}
	client := NewTextractClient(api, TextractModeExpense)

	result, err := client.Poll(context.Background(), "expense-job")

	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisStatusInProgress, result.Status)
	assert.Empty(t, result.ExpenseDocuments)
}

func TestTextractClientEmptyJobStatusIsInProgress(t *testing.T) {
	api := &fakeTextract{expensePages: []*textract.GetExpenseAnalysisOutput{{}}}
	client := NewTextractClient(api, TextractModeExpense)

	result, err := client.Poll(context.Background(), "expense-job")

	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisStatusInProgress, result.Status)
}

func TestTextractClientExpensePollPaginatesAndConverts(t *testing.T) {
	api := &fakeTextract{expensePages: []*textract.GetExpenseAnalysisOutput{
		{
			JobStatus: types.JobStatusSucceeded,
			NextToken: aws.String("page-2"),
			ExpenseDocuments: []types.ExpenseDocument{{
				SummaryFields: []types.ExpenseField{
					expenseField("VENDOR_NAME", "International Gourmet Foods, Inc."),
					expenseField("TOTAL", "$1573.76"),
					expenseField("INVOICE_RECEIPT_DATE", "2025-02-21"),
					expenseField("CITY", "Atlanta,", "RECEIVER_BILL_TO", "RECEIVER"),
					expenseField("ZIP_CODE", "30007", "RECEIVER_BILL_TO"),
				},
				LineItemGroups: []types.LineItemGroup{{
					LineItems: []types.LineItemFields{{
						LineItemExpenseFields: []types.ExpenseField{
							expenseField("ITEM", "SALT, KOSHER DIAMOND CRYSTAL 3-LB"),
							expenseField("QUANTITY", "4"),
							expenseField("UNIT_PRICE", "9.46 /BOX"),
							expenseField("PRICE", "37.84"),
						},
					}},
				}},
			}},
		},
		{
			JobStatus:        types.JobStatusSucceeded,
			ExpenseDocuments: []types.ExpenseDocument{{}},
		},
	}}
	client := NewTextractClient(api, TextractModeExpense)

	result, err := client.Poll(context.Background(), "expense-job")

	require.NoError(t, err)
	assert.Equal(t, []string{"", "page-2"}, api.tokens)
	assert.Equal(t, domain.AnalysisStatusSucceeded, result.Status)
	assert.Equal(t, "expense-job", result.JobID)
	require.Len(t, result.ExpenseDocuments, 2)
	city := result.ExpenseDocuments[0].SummaryFields[3]
	assert.Equal(t, "CITY", city.Type)
	assert.True(t, city.InGroup("RECEIVER_BILL_TO"))

	parsed := expense.ParseExpense(result)
	assert.Equal(t, "International Gourmet Foods, Inc.", parsed.Vendor)
	assert.Equal(t, "1573.76", parsed.TotalAmount.String())
	assert.Equal(t, "2025-02-21", parsed.InvoiceDate.Format("2006-01-02"))
	require.NotNil(t, parsed.BillTo)
	assert.Equal(t, "Atlanta,", parsed.BillTo.City)
	assert.Equal(t, "30007", parsed.BillTo.ZipCode)
	require.Len(t, parsed.LineItems, 1)
	assert.Equal(t, 4, parsed.LineItems[0].Quantity)
	assert.Equal(t, "9.46 /BOX", parsed.LineItems[0].Unit)
}

func TestTextractClientPartialSuccessCountsAsSucceeded(t *testing.T) {
	api := &fakeTextract{expensePages: []*textract.GetExpenseAnalysisOutput{
		{JobStatus: types.JobStatusPartialSuccess, StatusMessage: aws.String("page 3 unreadable")},
	}}

	result, err := NewTextractClient(api, TextractModeExpense).Poll(context.Background(), "j")

	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisStatusSucceeded, result.Status)
	assert.Equal(t, "page 3 unreadable", result.StatusMessage)
}

func TestTextractClientDocumentMode(t *testing.T) {
	api := &fakeTextract{documentPages: []*textract.GetDocumentAnalysisOutput{
		{
			JobStatus: types.JobStatusSucceeded,
			Blocks: []types.Block{
				{BlockType: types.BlockTypePage},
				{BlockType: types.BlockTypeKeyValueSet, EntityTypes: []types.EntityType{types.EntityTypeKey}, Text: aws.String("VENDOR")},
			},
		},
	}}
	client := NewTextractClient(api, TextractModeDocument)

	jobID, err := client.Start(context.Background(), domain.DocumentLocator{Bucket: "b", Key: "k"})
	require.NoError(t, err)
	assert.Equal(t, "document-job", jobID)
	require.NotNil(t, api.documentStart)
	assert.Contains(t, api.documentStart.FeatureTypes, types.FeatureTypeForms)

	result, err := client.Poll(context.Background(), jobID)
	require.NoError(t, err)
	require.Len(t, result.Blocks, 2)
	assert.Equal(t, domain.BlockTypeKeyValueSet, result.Blocks[1].BlockType)
	assert.Equal(t, []string{"KEY"}, result.Blocks[1].EntityTypes)
	assert.Equal(t, "VENDOR", result.Blocks[1].Text)
}

func TestTextractClientFailedStatus(t *testing.T) {
	api := &fakeTextract{documentPages: []*textract.GetDocumentAnalysisOutput{
		{JobStatus: types.JobStatusFailed, StatusMessage: aws.String("bad input")},
	}}

	result, err := NewTextractClient(api, TextractModeDocument).Poll(context.Background(), "j")

	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisStatusFailed, result.Status)
	assert.Equal(t, "bad input", result.StatusMessage)
}
