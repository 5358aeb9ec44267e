package models

// SourceAttribution identifies where an admitted chunk came from. Attributions
// are deduplicated by (FilePath, StartLine, EndLine), keeping the highest score.
type SourceAttribution struct {
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"score"`
	Snippet   string  `json:"snippet"`
}

// RetrievedContext is an assembled, token-bounded context block.
// BudgetUsed is the sum of admitted chunk tokens and never exceeds the budget;
// BudgetAvailable is the remainder.
type RetrievedContext struct {
	Chunks          []RetrievedChunk    `json:"chunks"`
	Sources         []SourceAttribution `json:"sources"`
	ContextText     string              `json:"context_text"`
	TotalTokens     int                 `json:"total_tokens"`
	BudgetUsed      int                 `json:"budget_used"`
	BudgetAvailable int                 `json:"budget_available"`
}

// AugmentedPrompt is the final system prompt handed to the chat layer for one
// turn. Discarded after use.
type AugmentedPrompt struct {
	SystemPrompt string              `json:"system_prompt"`
	HasContext   bool                `json:"has_context"`
	Sources      []SourceAttribution `json:"sources"`
	TotalTokens  int                 `json:"total_tokens"`
}
