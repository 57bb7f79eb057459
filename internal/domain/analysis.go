package domain

type AnalysisStatus string

const (
	AnalysisStatusInProgress AnalysisStatus = "IN_PROGRESS"
	AnalysisStatusSucceeded  AnalysisStatus = "SUCCEEDED"
	AnalysisStatusFailed     AnalysisStatus = "FAILED"
)

// AnalysisJobHandle tracks one external analysis job while it is polled.
type AnalysisJobHandle struct {
	JobID  string
	Status AnalysisStatus
}

// AnalysisResult is the raw payload returned by the document-analysis service.
// The same value carries the job status while polling and the extracted
// documents once the job succeeds.
type AnalysisResult struct {
	JobID            string            `json:"jobId"`
	Status           AnalysisStatus    `json:"jobStatus"`
	StatusMessage    string            `json:"statusMessage,omitempty"`
	ExpenseDocuments []ExpenseDocument `json:"expenseDocuments,omitempty"`
	Blocks           []Block           `json:"blocks,omitempty"`
}

type ExpenseDocument struct {
	SummaryFields  []ExpenseField  `json:"summaryFields,omitempty"`
	LineItemGroups []LineItemGroup `json:"lineItemGroups,omitempty"`
}

// ExpenseField is a single detected key/value pair. GroupTypes carries the
// group tags the service attached to it, e.g. RECEIVER_BILL_TO.
type ExpenseField struct {
	Type       string   `json:"type"`
	Value      string   `json:"value"`
	GroupTypes []string `json:"groupTypes,omitempty"`
}

func (f ExpenseField) InGroup(groupType string) bool {
	for _, candidate := range f.GroupTypes {
		if candidate == groupType {
			return true
		}
	}
	return false
}

type LineItemGroup struct {
	LineItems []LineItemFields `json:"lineItems,omitempty"`
}

type LineItemFields struct {
	Fields []ExpenseField `json:"fields,omitempty"`
}

const BlockTypeKeyValueSet = "KEY_VALUE_SET"

// Block is an entry of the flat block list returned by generic document analysis.
type Block struct {
	BlockType   string   `json:"blockType"`
	Text        string   `json:"text,omitempty"`
	EntityTypes []string `json:"entityTypes,omitempty"`
}
