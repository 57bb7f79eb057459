package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/iago/invoice-pipeline/internal/domain"
)

type TextractMode string

const (
	TextractModeExpense  TextractMode = "expense"
	TextractModeDocument TextractMode = "document"
)

const statusPartialSuccess = "PARTIAL_SUCCESS"

// TextractAPI is the subset of *textract.Client used by TextractClient.
type TextractAPI interface {
	StartExpenseAnalysis(ctx context.Context, params *textract.StartExpenseAnalysisInput, optFns ...func(*textract.Options)) (*textract.StartExpenseAnalysisOutput, error)
	GetExpenseAnalysis(ctx context.Context, params *textract.GetExpenseAnalysisInput, optFns ...func(*textract.Options)) (*textract.GetExpenseAnalysisOutput, error)
	StartDocumentAnalysis(ctx context.Context, params *textract.StartDocumentAnalysisInput, optFns ...func(*textract.Options)) (*textract.StartDocumentAnalysisOutput, error)
	GetDocumentAnalysis(ctx context.Context, params *textract.GetDocumentAnalysisInput, optFns ...func(*textract.Options)) (*textract.GetDocumentAnalysisOutput, error)
}

// TextractClient runs expense analysis (pre-structured documents) or generic
// document analysis (flat blocks) against Amazon Textract.
type TextractClient struct {
	api  TextractAPI
	mode TextractMode
}

func NewTextractClient(api TextractAPI, mode TextractMode) *TextractClient {
	if mode != TextractModeDocument {
		mode = TextractModeExpense
	}
	return &TextractClient{api: api, mode: mode}
}

func (c *TextractClient) Start(ctx context.Context, document domain.DocumentLocator) (string, error) {
	location := &types.DocumentLocation{
		S3Object: &types.S3Object{
			Bucket: aws.String(document.Bucket),
			Name:   aws.String(document.Key),
		},
	}

	var jobID *string
	if c.mode == TextractModeDocument {
		output, err := c.api.StartDocumentAnalysis(ctx, &textract.StartDocumentAnalysisInput{
			DocumentLocation: location,
			FeatureTypes:     []types.FeatureType{types.FeatureTypeForms, types.FeatureTypeTables},
		})
		if err != nil {
			return "", fmt.Errorf("start document analysis: %w", err)
		}
		jobID = output.JobId
	} else {
		output, err := c.api.StartExpenseAnalysis(ctx, &textract.StartExpenseAnalysisInput{
			DocumentLocation: location,
		})
		if err != nil {
			return "", fmt.Errorf("start expense analysis: %w", err)
		}
		jobID = output.JobId
	}

	if aws.ToString(jobID) == "" {
		return "", fmt.Errorf("textract returned no job id for %s", document)
	}
	return aws.ToString(jobID), nil
}

func (c *TextractClient) Poll(ctx context.Context, jobID string) (*domain.AnalysisResult, error) {
	if c.mode == TextractModeDocument {
		return c.pollDocument(ctx, jobID)
	}
	return c.pollExpense(ctx, jobID)
}

func (c *TextractClient) pollExpense(ctx context.Context, jobID string) (*domain.AnalysisResult, error) {
	result := &domain.AnalysisResult{JobID: jobID}
	var nextToken *string
	for {
		output, err := c.api.GetExpenseAnalysis(ctx, &textract.GetExpenseAnalysisInput{
			JobId:     aws.String(jobID),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("get expense analysis: %w", err)
		}

		result.Status = convertJobStatus(output.JobStatus)
		result.StatusMessage = aws.ToString(output.StatusMessage)
		if result.Status != domain.AnalysisStatusSucceeded {
			return result, nil
		}
		for _, document := range output.ExpenseDocuments {
			result.ExpenseDocuments = append(result.ExpenseDocuments, convertExpenseDocument(document))
		}

		nextToken = output.NextToken
		if aws.ToString(nextToken) == "" {
			return result, nil
		}
	}
}

func (c *TextractClient) pollDocument(ctx context.Context, jobID string) (*domain.AnalysisResult, error) {
	result := &domain.AnalysisResult{JobID: jobID}
	var nextToken *string
	for {
		output, err := c.api.GetDocumentAnalysis(ctx, &textract.GetDocumentAnalysisInput{
			JobId:     aws.String(jobID),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("get document analysis: %w", err)
		}

		result.Status = convertJobStatus(output.JobStatus)
		result.StatusMessage = aws.ToString(output.StatusMessage)
		if result.Status != domain.AnalysisStatusSucceeded {
			return result, nil
		}
		if result.Blocks == nil {
			result.Blocks = make([]domain.Block, 0, len(output.Blocks))
		}
		for _, block := range output.Blocks {
			result.Blocks = append(result.Blocks, convertBlock(block))
		}

		nextToken = output.NextToken
		if aws.ToString(nextToken) == "" {
			return result, nil
		}
	}
}

func convertJobStatus(status types.JobStatus) domain.AnalysisStatus {
	switch string(status) {
	case string(types.JobStatusSucceeded), statusPartialSuccess:
		return domain.AnalysisStatusSucceeded
	case string(types.JobStatusInProgress), "":
		return domain.AnalysisStatusInProgress
	default:
		return domain.AnalysisStatusFailed
	}
}

func convertExpenseDocument(document types.ExpenseDocument) domain.ExpenseDocument {
	converted := domain.ExpenseDocument{
		SummaryFields: make([]domain.ExpenseField, 0, len(document.SummaryFields)),
	}
	for _, field := range document.SummaryFields {
		converted.SummaryFields = append(converted.SummaryFields, convertExpenseField(field))
	}
	for _, group := range document.LineItemGroups {
		convertedGroup := domain.LineItemGroup{}
		for _, row := range group.LineItems {
			fields := make([]domain.ExpenseField, 0, len(row.LineItemExpenseFields))
			for _, field := range row.LineItemExpenseFields {
				fields = append(fields, convertExpenseField(field))
			}
			convertedGroup.LineItems = append(convertedGroup.LineItems, domain.LineItemFields{Fields: fields})
		}
		converted.LineItemGroups = append(converted.LineItemGroups, convertedGroup)
	}
	return converted
}

func convertExpenseField(field types.ExpenseField) domain.ExpenseField {
	converted := domain.ExpenseField{}
	if field.Type != nil {
		converted.Type = aws.ToString(field.Type.Text)
	}
	if field.ValueDetection != nil {
		converted.Value = aws.ToString(field.ValueDetection.Text)
	}
	for _, group := range field.GroupProperties {
		converted.GroupTypes = append(converted.GroupTypes, group.Types...)
	}
	return converted
}

func convertBlock(block types.Block) domain.Block {
	entityTypes := make([]string, 0, len(block.EntityTypes))
	for _, entityType := range block.EntityTypes {
		entityTypes = append(entityTypes, string(entityType))
	}
	return domain.Block{
		BlockType:   strings.ToUpper(string(block.BlockType)),
		Text:        aws.ToString(block.Text),
		EntityTypes: entityTypes,
	}
}
