package model

import "time"

// Document status constants.
const (
	DocumentStatusDraft = "draft"
)

// Document is the final PRD produced when all abstractions have been
// processed. It is created once at workflow completion and never mutated
// by the pipeline afterwards.
type Document struct {
	ID        string           `json:"id"`
	RunID     string           `json:"run_id"`
	UserID    string           `json:"user_id"`
	Title     string           `json:"title"`
	Summary   string           `json:"summary"`
	Status    string           `json:"status"`
	Metadata  DocumentMetadata `json:"metadata"`
	Chapters  []Chapter        `json:"chapters"`
	CreatedAt time.Time        `json:"created_at"`
}

// DocumentMetadata records provenance for a generated document.
type DocumentMetadata struct {
	GeneratedAt      time.Time `json:"generated_at"`
	AbstractionCount int       `json:"abstraction_count"`
	RunID            string    `json:"run_id"`
}

// Chapter is one ordered markdown section of a document. Index 0 is the
// overview, index 1 the abstractions summary, and 2..N one chapter per
// abstraction that yielded at least one requirement.
type Chapter struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	OrderIndex int    `json:"order_index"`
}
