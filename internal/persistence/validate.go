package persistence

import "fmt"

// ValidationResult is the structured outcome of envelope validation.
// Problems are hard failures that make the file unusable and trigger backup
// recovery; Warnings are soft issues that are logged but do not block a load.
type ValidationResult struct {
	Valid    bool
	Problems []string
	Warnings []string
}

// ValidateEnvelope checks an index envelope against the on-disk schema.
// A document missing its id, content, or embedding is a hard failure.
// Version and documentCount mismatches are soft.
func ValidateEnvelope(env *Envelope) ValidationResult {
	var res ValidationResult
	if env == nil {
		res.Problems = append(res.Problems, "envelope is nil")
		return res
	}
	for i, doc := range env.Documents {
		if doc.ID == "" {
			res.Problems = append(res.Problems, fmt.Sprintf("document %d: missing id", i))
		}
		if doc.Content == "" {
			res.Problems = append(res.Problems, fmt.Sprintf("document %d (%s): missing content", i, doc.ID))
		}
		if len(doc.Embedding) == 0 {
			res.Problems = append(res.Problems, fmt.Sprintf("document %d (%s): missing embedding", i, doc.ID))
		} else if env.EmbeddingDimension > 0 && len(doc.Embedding) != env.EmbeddingDimension {
			res.Warnings = append(res.Warnings, fmt.Sprintf("document %d (%s): embedding dimension %d, envelope says %d",
				i, doc.ID, len(doc.Embedding), env.EmbeddingDimension))
		}
	}
	if env.Version != CurrentVersion {
		res.Warnings = append(res.Warnings, fmt.Sprintf("version %d, current is %d", env.Version, CurrentVersion))
	}
	if env.DocumentCount != len(env.Documents) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("documentCount %d does not match %d documents",
			env.DocumentCount, len(env.Documents)))
	}
	res.Valid = len(res.Problems) == 0
	return res
}
