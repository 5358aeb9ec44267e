package models

// MemoryLevel classifies index memory use against its budget.
type MemoryLevel string

const (
	MemoryOK       MemoryLevel = "ok"       // below 80% of budget
	MemoryWarning  MemoryLevel = "warning"  // 80-95%
	MemoryCritical MemoryLevel = "critical" // 95-100%
	MemoryExceeded MemoryLevel = "exceeded" // over budget
)

// MemoryStatus is a derived, read-only view of index memory use.
// Recomputed on demand, never persisted.
type MemoryStatus struct {
	UsedBytes      int64       `json:"used_bytes"`
	BudgetBytes    int64       `json:"budget_bytes"`
	AvailableBytes int64       `json:"available_bytes"`
	PercentUsed    float64     `json:"percent_used"`
	DocumentCount  int         `json:"document_count"`
	Status         MemoryLevel `json:"status"`
}

// IndexStats summarizes the in-memory index.
type IndexStats struct {
	DocumentCount      int   `json:"document_count"`
	EmbeddingDimension int   `json:"embedding_dimension"`
	IndexSizeBytes     int64 `json:"index_size_bytes"`
}

// BatchError records one failed entry of a batch add.
type BatchError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BatchResult summarizes a batch add: one bad entry never aborts the rest.
type BatchResult struct {
	SuccessCount int          `json:"success_count"`
	FailureCount int          `json:"failure_count"`
	Errors       []BatchError `json:"errors,omitempty"`
}
