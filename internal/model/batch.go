package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// PriorityBucket is the batch-level scheduling class. Lower score runs
// first.
type PriorityBucket string

const (
	BucketUrgent PriorityBucket = "urgent"
	BucketHigh   PriorityBucket = "high"
	BucketNormal PriorityBucket = "normal"
	BucketLow    PriorityBucket = "low"
)

// Score maps a bucket to its integer scheduling score (urgent=1 .. low=4).
func (b PriorityBucket) Score() int {
	switch b {
	case BucketUrgent:
		return 1
	case BucketHigh:
		return 2
	case BucketNormal:
		return 3
	case BucketLow:
		return 4
	default:
		return 3
	}
}

// TaskPriority converts the bucket score into a task-queue priority where
// larger is more urgent.
func (b PriorityBucket) TaskPriority() float64 {
	return float64(5 - b.Score())
}

// ExportFormat selects the batch export encoding.
type ExportFormat string

const (
	ExportJSON    ExportFormat = "json"
	ExportCSV     ExportFormat = "csv"
	ExportTabular ExportFormat = "tabular"
)

// BatchStatus is the lifecycle of a batch.
type BatchStatus string

const (
	BatchQueued             BatchStatus = "queued"
	BatchProcessing         BatchStatus = "processing"
	BatchCompleted          BatchStatus = "completed"
	BatchPartiallyCompleted BatchStatus = "partially_completed"
	BatchFailed             BatchStatus = "failed"
	BatchCancelled          BatchStatus = "cancelled"
)

const maxBatchCompanies = 100

// BatchRequest describes a multi-company extraction job.
type BatchRequest struct {
	CompanyNames []string           `json:"company_names"`
	Mode         ExtractionMode     `json:"mode"`
	Bucket       PriorityBucket     `json:"priority_bucket"`
	Overrides    map[string]Request `json:"overrides,omitempty"`
	ExportFormat ExportFormat       `json:"export_format"`
	ExportPath   string             `json:"export_path,omitempty"`
}

// NormalizeCompanies dedups the company list case-insensitively, keeping
// first spellings in submission order, and validates the 1..100 bound.
func (br *BatchRequest) NormalizeCompanies() error {
	seen := make(map[string]bool)
	out := make([]string, 0, len(br.CompanyNames))
	for _, name := range br.CompanyNames {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return eris.New("model: batch has no companies")
	}
	if len(out) > maxBatchCompanies {
		return eris.Errorf("model: batch exceeds %d companies", maxBatchCompanies)
	}
	br.CompanyNames = out

	switch br.Bucket {
	case BucketUrgent, BucketHigh, BucketNormal, BucketLow:
	case "":
		br.Bucket = BucketNormal
	default:
		return eris.Errorf("model: unknown priority bucket %q", br.Bucket)
	}
	switch br.ExportFormat {
	case ExportJSON, ExportCSV, ExportTabular:
	case "":
		br.ExportFormat = ExportJSON
	default:
		return eris.Errorf("model: unknown export format %q", br.ExportFormat)
	}
	return nil
}

// BatchProgress is an immutable progress snapshot delivered to observers.
type BatchProgress struct {
	BatchID     string        `json:"batch_id"`
	Total       int           `json:"total"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Processing  int           `json:"processing"`
	Queued      int           `json:"queued"`
	SuccessRate float64       `json:"success_rate"`
	AvgProcTime time.Duration `json:"avg_proc_time"`
	ETA         time.Duration `json:"eta,omitempty"`
}

// BatchSummary aggregates statistics over a settled batch.
type BatchSummary struct {
	Total                int                 `json:"total_companies"`
	Succeeded            int                 `json:"succeeded"`
	Failed               int                 `json:"failed"`
	SuccessRate          float64             `json:"success_rate"`
	AvgProcTime          time.Duration       `json:"avg_processing_time"`
	AvgConfidence        float64             `json:"avg_confidence"`
	IndustryDistribution map[string]int      `json:"industry_distribution,omitempty"`
	SizeDistribution     map[CompanySize]int `json:"size_distribution,omitempty"`
}

// BatchResult pairs a company with its extraction response, in submission
// order.
type BatchResult struct {
	CompanyName string    `json:"company_name"`
	Response    *Response `json:"response,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// BatchSnapshot is the copy handed out by status and result reads.
type BatchSnapshot struct {
	BatchID     string         `json:"batch_id"`
	Status      BatchStatus    `json:"status"`
	Bucket      PriorityBucket `json:"priority_bucket"`
	Progress    BatchProgress  `json:"progress"`
	Results     []BatchResult  `json:"results,omitempty"`
	Summary     *BatchSummary  `json:"summary,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	ExportPath  string         `json:"export_path,omitempty"`
}
