package model

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// Requirement type constants.
const (
	RequirementFunctional    = "functional"
	RequirementNonFunctional = "non-functional"
	RequirementTechnical     = "technical"
	RequirementUserStory     = "user-story"
)

// Requirement priority constants.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// GenerationState is the cross-stage pipeline state. It is serialized into
// each WorkflowState output snapshot and must be fully reconstructable from
// the latest snapshot alone — that is the resumability contract.
type GenerationState struct {
	RunID      string         `json:"run_id"`
	UserID     string         `json:"user_id"`
	Repository RepositoryMeta `json:"repository"`

	// Populated by the repository_analysis stage.
	Analysis *RepositoryAnalysis `json:"analysis,omitempty"`

	// Populated by the core_abstractions stage.
	Abstractions []Abstraction `json:"abstractions,omitempty"`

	// Maintained by the requirements_extraction stage.
	CurrentAbstraction   int  `json:"current_abstraction"`
	AbstractionsComplete bool `json:"abstractions_complete"`
}

// RepositoryMeta is the analyzed repository's metadata as reported by the
// code host.
type RepositoryMeta struct {
	Owner       string   `json:"owner"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Language    string   `json:"language,omitempty"`
	Topics      []string `json:"topics,omitempty"`
}

// FullName returns the "owner/name" repository reference.
func (m RepositoryMeta) FullName() string {
	return m.Owner + "/" + m.Name
}

// RepositoryAnalysis is the stage-1 output: opaque prose consumed by later
// prompts and by the final document summary.
type RepositoryAnalysis struct {
	Summary     string    `json:"summary"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Abstraction is a named conceptual unit of the analyzed codebase.
// Requirements are populated only after the requirements_extraction stage
// has visited the abstraction's index.
type Abstraction struct {
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Responsibilities []string       `json:"responsibilities,omitempty"`
	Relationships    []Relationship `json:"relationships,omitempty"`
	Requirements     []Requirement  `json:"requirements,omitempty"`
}

// Relationship links one abstraction to another.
type Relationship struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Requirement is a typed, prioritized statement derived from code
// supporting an abstraction's behavior.
type Requirement struct {
	ID             string   `json:"id"`
	Type           string   `json:"type"`
	Description    string   `json:"description"`
	Rationale      string   `json:"rationale,omitempty"`
	CodeReferences []string `json:"code_references,omitempty"`
	Priority       string   `json:"priority"`
}

// RequirementID derives the stable content hash used as a requirement's
// identity: the first 8 hex characters of MD5(title+type+description).
// It is a weak dedup key, not a strong guarantee.
func RequirementID(title, reqType, description string) string {
	sum := md5.Sum([]byte(title + reqType + description))
	return hex.EncodeToString(sum[:])[:8]
}

// LLMCallDetails is the audit record of a single completion call made by a
// stage's exec step.
type LLMCallDetails struct {
	Prompt      string    `json:"prompt"`
	Response    string    `json:"response"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	TotalTokens int       `json:"total_tokens,omitempty"`
	Error       string    `json:"error,omitempty"`
}
