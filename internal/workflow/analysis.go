package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gitlify/gitlify/internal/githost"
	"github.com/gitlify/gitlify/model"
)

// README filenames tried in order; the first hit wins.
var readmeCandidates = []string{"README.md", "Readme.md", "readme.md", "README", "Readme", "readme"}

// Directory entries never surfaced in listings shown to the model.
var excludedListingDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
}

const noReadmePlaceholder = "No README found"

// RepositoryAnalysisStage produces a free-text architectural summary of
// the target repository. Its output is opaque prose; later stages embed it
// in their prompts verbatim.
type RepositoryAnalysisStage struct {
	host   githost.Client
	logger *zap.Logger
}

// NewRepositoryAnalysisStage creates the stage.
func NewRepositoryAnalysisStage(host githost.Client, logger *zap.Logger) *RepositoryAnalysisStage {
	return &RepositoryAnalysisStage{host: host, logger: logger}
}

// Name implements Stage.
func (s *RepositoryAnalysisStage) Name() string { return model.StageRepositoryAnalysis }

// Prep fetches repository metadata, the README, and a shallow root listing,
// then builds the analysis prompt. All fetches are best effort: absence of
// data shrinks the prompt rather than failing the stage.
func (s *RepositoryAnalysisStage) Prep(ctx context.Context, state model.GenerationState) (PrepResult, error) {
	repo := state.Repository

	if meta, ok := s.fetchMeta(ctx, repo.Owner, repo.Name); ok {
		state.Repository = meta
		repo = meta
	}

	readme := s.fetchReadme(ctx, repo.Owner, repo.Name)
	listing := s.fetchRootListing(ctx, repo.Owner, repo.Name)

	return PrepResult{
		Prompt: buildAnalysisPrompt(repo, readme, listing),
		State:  state,
	}, nil
}

// Post wraps the raw response verbatim; the analysis is never parsed.
func (s *RepositoryAnalysisStage) Post(response string, state model.GenerationState) (model.GenerationState, error) {
	state.Analysis = &model.RepositoryAnalysis{
		Summary:     response,
		GeneratedAt: time.Now().UTC(),
	}
	return state, nil
}

// fetchMeta refreshes repository metadata. The run was validated against
// the host at initialization, so a transient failure here keeps the stored
// metadata instead.
func (s *RepositoryAnalysisStage) fetchMeta(ctx context.Context, owner, name string) (model.RepositoryMeta, bool) {
	meta, err := s.host.GetRepo(ctx, owner, name)
	if err != nil {
		s.logger.Warn("repository metadata refresh failed",
			zap.String("repository", owner+"/"+name),
			zap.Error(err),
		)
		return model.RepositoryMeta{}, false
	}
	return *meta, true
}

// fetchReadme tries the canonical README filenames in order and returns a
// placeholder when none exists.
func (s *RepositoryAnalysisStage) fetchReadme(ctx context.Context, owner, name string) string {
	for _, candidate := range readmeCandidates {
		content, err := s.host.GetFile(ctx, owner, name, candidate)
		if err == nil {
			return content
		}
		if !errors.Is(err, githost.ErrPathNotFound) {
			s.logger.Debug("readme fetch failed",
				zap.String("path", candidate),
				zap.Error(err),
			)
		}
	}
	return noReadmePlaceholder
}

// fetchRootListing returns the repository's top-level entries, excluding
// vendored and VCS directories. Failures yield an empty listing.
func (s *RepositoryAnalysisStage) fetchRootListing(ctx context.Context, owner, name string) []githost.Entry {
	entries, err := s.host.ListDir(ctx, owner, name, "")
	if err != nil {
		s.logger.Warn("root listing failed",
			zap.String("repository", owner+"/"+name),
			zap.Error(err),
		)
		return nil
	}

	filtered := entries[:0]
	for _, e := range entries {
		if excludedListingDirs[e.Name] {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

func buildAnalysisPrompt(repo model.RepositoryMeta, readme string, listing []githost.Entry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are analyzing the repository %s.\n\n", repo.FullName())
	b.WriteString("Repository metadata:\n")
	fmt.Fprintf(&b, "- Name: %s\n", repo.Name)
	fmt.Fprintf(&b, "- Owner: %s\n", repo.Owner)
	if repo.Description != "" {
		fmt.Fprintf(&b, "- Description: %s\n", repo.Description)
	}
	if repo.Language != "" {
		fmt.Fprintf(&b, "- Primary language: %s\n", repo.Language)
	}
	if len(repo.Topics) > 0 {
		fmt.Fprintf(&b, "- Topics: %s\n", strings.Join(repo.Topics, ", "))
	}

	b.WriteString("\nREADME:\n")
	b.WriteString(readme)
	b.WriteString("\n\nTop-level contents:\n")
	if len(listing) == 0 {
		b.WriteString("(not available)\n")
	}
	for _, e := range listing {
		fmt.Fprintf(&b, "- %s (%s)\n", e.Name, e.Type)
	}

	b.WriteString("\nExplain this project's purpose, intended audience, problem domain, ")
	b.WriteString("main components, overall architecture, and technology stack. ")
	b.WriteString("Write in clear prose without headings.\n")

	return b.String()
}
