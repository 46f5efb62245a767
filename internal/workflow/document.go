package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gitlify/gitlify/model"
)

// Requirement type sections rendered in fixed order within a chapter.
var requirementSections = []struct {
	reqType string
	heading string
}{
	{model.RequirementFunctional, "Functional Requirements"},
	{model.RequirementNonFunctional, "Non-Functional Requirements"},
	{model.RequirementTechnical, "Technical Requirements"},
	{model.RequirementUserStory, "User Stories"},
}

// buildDocument assembles the final PRD once every abstraction has been
// processed: chapter 0 is the overview, chapter 1 the abstractions
// summary, then one chapter per abstraction with at least one requirement.
// The document is created once and never mutated afterwards.
func buildDocument(run model.WorkflowRun, state model.GenerationState) model.Document {
	now := time.Now().UTC()

	summary := ""
	if state.Analysis != nil {
		summary = state.Analysis.Summary
	}

	doc := model.Document{
		ID:      uuid.NewString(),
		RunID:   run.ID,
		UserID:  run.UserID,
		Title:   fmt.Sprintf("Project Requirement Document: %s", state.Repository.FullName()),
		Summary: summary,
		Status:  model.DocumentStatusDraft,
		Metadata: model.DocumentMetadata{
			GeneratedAt:      now,
			AbstractionCount: len(state.Abstractions),
			RunID:            run.ID,
		},
		CreatedAt: now,
	}

	addChapter := func(title, content string) {
		doc.Chapters = append(doc.Chapters, model.Chapter{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Title:      title,
			Content:    content,
			OrderIndex: len(doc.Chapters),
		})
	}

	addChapter("Overview", renderOverview(state))
	addChapter("Core Abstractions", renderAbstractionsSummary(state.Abstractions))

	for _, abstraction := range state.Abstractions {
		if len(abstraction.Requirements) == 0 {
			continue
		}
		addChapter(abstraction.Name, renderAbstractionChapter(abstraction))
	}

	return doc
}

func renderOverview(state model.GenerationState) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Overview\n\n")
	fmt.Fprintf(&b, "Repository: **%s**\n\n", state.Repository.FullName())
	if state.Repository.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", state.Repository.Description)
	}
	if state.Analysis != nil && state.Analysis.Summary != "" {
		b.WriteString(state.Analysis.Summary)
		b.WriteString("\n")
	}
	return b.String()
}

func renderAbstractionsSummary(abstractions []model.Abstraction) string {
	var b strings.Builder

	b.WriteString("# Core Abstractions\n\n")
	for _, a := range abstractions {
		fmt.Fprintf(&b, "## %s\n\n", a.Name)
		if a.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", a.Description)
		}
		if len(a.Responsibilities) > 0 {
			b.WriteString("**Responsibilities:**\n\n")
			for _, r := range a.Responsibilities {
				fmt.Fprintf(&b, "- %s\n", r)
			}
			b.WriteString("\n")
		}
		if len(a.Relationships) > 0 {
			b.WriteString("**Relationships:**\n\n")
			for _, rel := range a.Relationships {
				if rel.Description != "" {
					fmt.Fprintf(&b, "- %s (%s): %s\n", rel.Name, rel.Type, rel.Description)
				} else {
					fmt.Fprintf(&b, "- %s (%s)\n", rel.Name, rel.Type)
				}
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderAbstractionChapter(abstraction model.Abstraction) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", abstraction.Name)
	if abstraction.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", abstraction.Description)
	}

	byType := make(map[string][]model.Requirement)
	for _, req := range abstraction.Requirements {
		byType[req.Type] = append(byType[req.Type], req)
	}

	for _, section := range requirementSections {
		reqs := byType[section.reqType]
		if len(reqs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", section.heading)
		for _, req := range reqs {
			fmt.Fprintf(&b, "### %s\n\n", req.Description)
			fmt.Fprintf(&b, "- Priority: %s\n", req.Priority)
			if req.Rationale != "" {
				fmt.Fprintf(&b, "- Rationale: %s\n", req.Rationale)
			}
			if len(req.CodeReferences) > 0 {
				fmt.Fprintf(&b, "- Code references: %s\n", strings.Join(req.CodeReferences, ", "))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
