package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/gitlify/gitlify/internal/githost"
	"github.com/gitlify/gitlify/internal/observability"
	"github.com/gitlify/gitlify/model"
)

// Candidate source directories searched at the repository root.
var sourceDirCandidates = []string{"src", "lib", "app", "core", "models", "services", "components", "api"}

const (
	maxAbstractionDirs        = 3
	maxFilesPerDir            = 5
	maxAbstractionFiles       = 15
	defaultAbstractionName    = "Unknown Abstraction"
	relationshipTypeDefault   = "related to"
	abstractionBlockSeparator = "## "
)

var abstractionLabels = []string{"Description:", "Responsibilities:", "Relationships:"}

// CoreAbstractionsStage turns the stage-1 summary into a list of named
// abstractions with responsibilities and relationships.
type CoreAbstractionsStage struct {
	host    githost.Client
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewCoreAbstractionsStage creates the stage.
func NewCoreAbstractionsStage(host githost.Client, logger *zap.Logger, metrics *observability.Metrics) *CoreAbstractionsStage {
	return &CoreAbstractionsStage{host: host, logger: logger, metrics: metrics}
}

// Name implements Stage.
func (s *CoreAbstractionsStage) Name() string { return model.StageCoreAbstractions }

// Prep requires the stage-1 analysis and builds a prompt embedding it plus
// a sample of source file paths from candidate directories.
func (s *CoreAbstractionsStage) Prep(ctx context.Context, state model.GenerationState) (PrepResult, error) {
	if state.Analysis == nil || state.Analysis.Summary == "" {
		return PrepResult{}, model.NewMissingInputError(s.Name(), "repository analysis output is required")
	}

	paths := s.collectSourcePaths(ctx, state.Repository.Owner, state.Repository.Name)

	return PrepResult{
		Prompt: buildAbstractionsPrompt(state.Repository, state.Analysis.Summary, paths),
		State:  state,
	}, nil
}

// Post parses the completion into abstractions and resets the extraction
// cursor. Malformed blocks are skipped, never fatal.
func (s *CoreAbstractionsStage) Post(response string, state model.GenerationState) (model.GenerationState, error) {
	state.Abstractions = s.parseAbstractions(response)
	state.CurrentAbstraction = 0
	state.AbstractionsComplete = false
	return state, nil
}

// collectSourcePaths samples file paths (not contents) from up to three
// candidate source directories. Host failures shrink the sample.
func (s *CoreAbstractionsStage) collectSourcePaths(ctx context.Context, owner, name string) []string {
	root, err := s.host.ListDir(ctx, owner, name, "")
	if err != nil {
		s.logger.Warn("source path sampling failed", zap.Error(err))
		return nil
	}

	present := make(map[string]bool)
	for _, e := range root {
		if e.Type == "dir" {
			present[e.Name] = true
		}
	}

	var dirs []string
	for _, candidate := range sourceDirCandidates {
		if present[candidate] {
			dirs = append(dirs, candidate)
		}
		if len(dirs) == maxAbstractionDirs {
			break
		}
	}

	var paths []string
	for _, dir := range dirs {
		entries, err := s.host.ListDir(ctx, owner, name, dir)
		if err != nil {
			s.logger.Debug("directory listing failed", zap.String("dir", dir), zap.Error(err))
			continue
		}
		taken := 0
		for _, e := range entries {
			if e.Type != "file" || !isSourceCandidate(e.Name) {
				continue
			}
			paths = append(paths, e.Path)
			if len(paths) == maxAbstractionFiles {
				return paths
			}
			if taken++; taken == maxFilesPerDir {
				break
			}
		}
	}
	return paths
}

// isSourceCandidate filters out test, config, and dotfiles from sampled
// listings.
func isSourceCandidate(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, ".") {
		return false
	}
	if strings.Contains(lower, ".test.") || strings.Contains(lower, ".spec.") || strings.Contains(lower, "_test.") {
		return false
	}
	if strings.Contains(lower, "config") {
		return false
	}
	return true
}

// parseAbstractions applies the markdown micro-format contract: blocks
// split on "## ", sections labeled Description/Responsibilities/
// Relationships, bullet lists split on "\n- ".
func (s *CoreAbstractionsStage) parseAbstractions(response string) []model.Abstraction {
	var abstractions []model.Abstraction

	for _, block := range strings.Split(response, abstractionBlockSeparator) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}

		abstraction, ok := parseAbstractionBlock(block)
		if !ok {
			s.logger.Warn("skipping malformed abstraction block",
				zap.String("head", firstLine(block)),
			)
			if s.metrics != nil {
				s.metrics.RecordParseSkip(model.StageCoreAbstractions)
			}
			continue
		}
		abstractions = append(abstractions, abstraction)
	}
	return abstractions
}

// parseAbstractionBlock parses one block. A block with a name but none of
// the known section labels is considered malformed and skipped; a block
// missing individual sections keeps their defaults.
func parseAbstractionBlock(block string) (model.Abstraction, bool) {
	name := firstLine(block)
	if name == "" {
		name = defaultAbstractionName
	}

	description, hasDesc := cutSection(block, "Description:", abstractionLabels)
	responsibilitiesText, hasResp := cutSection(block, "Responsibilities:", abstractionLabels)
	relationshipsText, hasRel := cutSection(block, "Relationships:", abstractionLabels)

	if !hasDesc && !hasResp && !hasRel {
		return model.Abstraction{}, false
	}

	var relationships []model.Relationship
	for _, line := range splitBullets(relationshipsText) {
		relationships = append(relationships, parseRelationship(line))
	}

	return model.Abstraction{
		Name:             name,
		Description:      description,
		Responsibilities: splitBullets(responsibilitiesText),
		Relationships:    relationships,
	}, true
}

// parseRelationship splits a "Name: Type - description" line. Lines that
// use only hyphens ("Name - Type - description") split on the first "- "
// instead. A line with no separator at all becomes a bare name with the
// default relationship type.
func parseRelationship(line string) model.Relationship {
	name, rest, found := strings.Cut(line, ": ")
	if !found {
		name, rest, found = strings.Cut(line, "- ")
		if !found {
			return model.Relationship{
				Name: strings.TrimSpace(line),
				Type: relationshipTypeDefault,
			}
		}
		relType, description, _ := strings.Cut(rest, "- ")
		return model.Relationship{
			Name:        strings.TrimSpace(name),
			Type:        strings.TrimSpace(relType),
			Description: strings.TrimSpace(description),
		}
	}

	rest = strings.TrimPrefix(rest, "- ")
	relType, description, found := strings.Cut(rest, " - ")
	if !found {
		return model.Relationship{
			Name: strings.TrimSpace(name),
			Type: strings.TrimSpace(rest),
		}
	}

	return model.Relationship{
		Name:        strings.TrimSpace(name),
		Type:        strings.TrimSpace(relType),
		Description: strings.TrimSpace(description),
	}
}

func firstLine(block string) string {
	line, _, _ := strings.Cut(block, "\n")
	return strings.TrimSpace(line)
}

func buildAbstractionsPrompt(repo model.RepositoryMeta, analysis string, paths []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Based on the following analysis of %s, identify 5-10 core abstractions ", repo.FullName())
	b.WriteString("(entities, components, or subsystems) of the codebase.\n\n")
	b.WriteString("Repository analysis:\n")
	b.WriteString(analysis)

	if len(paths) > 0 {
		b.WriteString("\n\nSource files observed:\n")
		for _, p := range paths {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}

	b.WriteString("\nFor each abstraction, use exactly this format:\n\n")
	b.WriteString("## Abstraction Name\n")
	b.WriteString("Description: one or two sentences describing the abstraction\n")
	b.WriteString("Responsibilities:\n")
	b.WriteString("- responsibility one\n")
	b.WriteString("- responsibility two\n")
	b.WriteString("Relationships:\n")
	b.WriteString("- Other Abstraction: relationship type - short description\n")

	return b.String()
}
