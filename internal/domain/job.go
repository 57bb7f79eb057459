package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var ErrMalformedJob = errors.New("malformed invoice job")

// InvoiceJob is the queue wire format produced when an invoice is created.
type InvoiceJob struct {
	InvoiceID   int64  `json:"invoiceId"`
	S3Bucket    string `json:"s3Bucket"`
	DocumentKey string `json:"documentKey"`
}

// DocumentLocator identifies the source document of an invoice.
type DocumentLocator struct {
	Bucket string
	Key    string
}

func (j InvoiceJob) Locator() DocumentLocator {
	return DocumentLocator{Bucket: j.S3Bucket, Key: j.DocumentKey}
}

func (l DocumentLocator) String() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

const invoiceJobSchema = `{
	"type": "object",
	"required": ["invoiceId", "s3Bucket", "documentKey"],
	"properties": {
		"invoiceId": {"type": "integer", "minimum": 1},
		"s3Bucket": {"type": "string", "minLength": 1},
		"documentKey": {"type": "string", "minLength": 1}
	}
}`

var (
	jobSchemaOnce sync.Once
	jobSchema     *jsonschema.Schema
	jobSchemaErr  error
)

func compiledJobSchema() (*jsonschema.Schema, error) {
	jobSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("invoice_job.json", bytes.NewReader([]byte(invoiceJobSchema))); err != nil {
			jobSchemaErr = fmt.Errorf("add invoice job schema: %w", err)
			return
		}
		jobSchema, jobSchemaErr = compiler.Compile("invoice_job.json")
	})
	return jobSchema, jobSchemaErr
}

// DecodeInvoiceJob validates a queue message body and decodes it. Every
// validation failure wraps ErrMalformedJob.
func DecodeInvoiceJob(body []byte) (InvoiceJob, error) {
	schema, err := compiledJobSchema()
	if err != nil {
		return InvoiceJob{}, err
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var document any
	if err := decoder.Decode(&document); err != nil {
		return InvoiceJob{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if err := schema.Validate(document); err != nil {
		return InvoiceJob{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}

	var job InvoiceJob
	if err := json.Unmarshal(body, &job); err != nil {
		return InvoiceJob{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	return job, nil
}

func EncodeInvoiceJob(job InvoiceJob) ([]byte, error) {
	encoded, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode invoice job: %w", err)
	}
	return encoded, nil
}
