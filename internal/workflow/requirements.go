package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/gitlify/gitlify/internal/githost"
	"github.com/gitlify/gitlify/internal/observability"
	"github.com/gitlify/gitlify/model"
)

const (
	requirementBlockSeparator = "## Requirement:"
	maxRequirementFiles       = 7
	maxScoredFilesPerDir      = 5
	maxFileContentChars       = 1000
	truncationSuffix          = "... [content truncated]"

	filenameTermScore = 5
	webExtensionScore = 3
)

var requirementLabels = []string{"Type:", "Description:", "Rationale:", "Code References:", "Priority:"}

var scoredExtensions = map[string]bool{".ts": true, ".tsx": true, ".js": true, ".jsx": true}

// RequirementsExtractionStage extracts typed requirements for the
// abstraction at the current cursor, then advances the cursor. It is
// re-entered once per abstraction across separate advance calls.
type RequirementsExtractionStage struct {
	host    githost.Client
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewRequirementsExtractionStage creates the stage.
func NewRequirementsExtractionStage(host githost.Client, logger *zap.Logger, metrics *observability.Metrics) *RequirementsExtractionStage {
	return &RequirementsExtractionStage{host: host, logger: logger, metrics: metrics}
}

// Name implements Stage.
func (s *RequirementsExtractionStage) Name() string { return model.StageRequirementsExtraction }

// Prep requires a valid abstraction cursor, scores repository files against
// search terms derived from the abstraction, and embeds truncated file
// contents in the prompt.
func (s *RequirementsExtractionStage) Prep(ctx context.Context, state model.GenerationState) (PrepResult, error) {
	if len(state.Abstractions) == 0 {
		return PrepResult{}, model.NewMissingInputError(s.Name(), "abstractions are required")
	}
	if state.CurrentAbstraction < 0 || state.CurrentAbstraction >= len(state.Abstractions) {
		return PrepResult{}, model.NewMissingInputError(s.Name(),
			fmt.Sprintf("abstraction index %d out of range (have %d)", state.CurrentAbstraction, len(state.Abstractions)))
	}

	abstraction := state.Abstractions[state.CurrentAbstraction]
	terms := searchTerms(abstraction)
	files := s.relevantFiles(ctx, state.Repository.Owner, state.Repository.Name, abstraction.Name, terms)
	contents := s.fetchContents(ctx, state.Repository.Owner, state.Repository.Name, files)

	return PrepResult{
		Prompt: buildRequirementsPrompt(abstraction, contents),
		State:  state,
	}, nil
}

// Post parses the completion into requirements, attaches them to the
// current abstraction, and advances the cursor. The pipeline is complete
// once the cursor runs past the last abstraction.
func (s *RequirementsExtractionStage) Post(response string, state model.GenerationState) (model.GenerationState, error) {
	idx := state.CurrentAbstraction
	if idx < 0 || idx >= len(state.Abstractions) {
		return state, model.NewMissingInputError(s.Name(),
			fmt.Sprintf("abstraction index %d out of range (have %d)", idx, len(state.Abstractions)))
	}

	abstraction := state.Abstractions[idx]
	abstraction.Requirements = s.parseRequirements(response)
	state.Abstractions[idx] = abstraction

	state.CurrentAbstraction = idx + 1
	state.AbstractionsComplete = state.CurrentAbstraction >= len(state.Abstractions)
	return state, nil
}

// searchTerms derives candidate filename terms: the abstraction name
// verbatim, its camelCase word splits, and responsibility words longer
// than three characters.
func searchTerms(abstraction model.Abstraction) []string {
	seen := make(map[string]bool)
	var terms []string

	add := func(term string) {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" && !seen[term] {
			seen[term] = true
			terms = append(terms, term)
		}
	}

	add(abstraction.Name)
	for _, word := range splitCamelCase(abstraction.Name) {
		if len(word) > 2 {
			add(word)
		}
	}
	for _, resp := range abstraction.Responsibilities {
		for _, word := range strings.Fields(resp) {
			word = strings.TrimFunc(word, func(r rune) bool { return !unicode.IsLetter(r) })
			if len(word) > 3 {
				add(word)
			}
		}
	}
	return terms
}

// splitCamelCase breaks "UserAccountService" into its constituent words.
func splitCamelCase(name string) []string {
	var words []string
	var current []rune
	for _, r := range name {
		if unicode.IsUpper(r) && len(current) > 0 {
			words = append(words, string(current))
			current = current[:0]
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current = append(current, r)
		} else if len(current) > 0 {
			words = append(words, string(current))
			current = current[:0]
		}
	}
	if len(current) > 0 {
		words = append(words, string(current))
	}
	return words
}

// relevantFiles scores files from directories likely related to the
// abstraction, keeping the top scorers per directory and capping the final
// deduplicated list.
func (s *RequirementsExtractionStage) relevantFiles(ctx context.Context, owner, name, abstractionName string, terms []string) []string {
	dirs := s.candidateDirs(ctx, owner, name, abstractionName)

	seen := make(map[string]bool)
	var files []string
	for _, dir := range dirs {
		entries, err := s.host.ListDir(ctx, owner, name, dir)
		if err != nil {
			s.logger.Debug("directory listing failed", zap.String("dir", dir), zap.Error(err))
			continue
		}
		for _, path := range topScoredFiles(entries, terms) {
			if seen[path] {
				continue
			}
			seen[path] = true
			files = append(files, path)
			if len(files) == maxRequirementFiles {
				return files
			}
		}
	}
	return files
}

// candidateDirs returns root directories matching the source allowlist or
// containing the abstraction name. Falls back to the repository root when
// nothing matches.
func (s *RequirementsExtractionStage) candidateDirs(ctx context.Context, owner, name, abstractionName string) []string {
	root, err := s.host.ListDir(ctx, owner, name, "")
	if err != nil {
		s.logger.Warn("root listing failed", zap.Error(err))
		return []string{""}
	}

	allowlist := make(map[string]bool, len(sourceDirCandidates))
	for _, d := range sourceDirCandidates {
		allowlist[d] = true
	}
	lowerName := strings.ToLower(abstractionName)

	var dirs []string
	for _, e := range root {
		if e.Type != "dir" {
			continue
		}
		lower := strings.ToLower(e.Name)
		if allowlist[lower] || (lowerName != "" && strings.Contains(lower, lowerName)) {
			dirs = append(dirs, e.Path)
		}
	}
	if len(dirs) == 0 {
		return []string{""}
	}
	return dirs
}

// topScoredFiles scores a directory's files against the search terms and
// keeps the best five positive scorers, highest first.
func topScoredFiles(entries []githost.Entry, terms []string) []string {
	type scored struct {
		path  string
		score int
	}
	var candidates []scored

	for _, e := range entries {
		if e.Type != "file" {
			continue
		}
		lower := strings.ToLower(e.Name)

		score := 0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				score += filenameTermScore
			}
		}
		if dot := strings.LastIndex(lower, "."); dot >= 0 && scoredExtensions[lower[dot:]] {
			score += webExtensionScore
		}
		if score > 0 {
			candidates = append(candidates, scored{path: e.Path, score: score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > maxScoredFilesPerDir {
		candidates = candidates[:maxScoredFilesPerDir]
	}

	paths := make([]string, len(candidates))
	for i, c := range candidates {
		paths[i] = c.path
	}
	return paths
}

// fetchContents fetches each file and truncates its content for the
// prompt. Fetch failures drop the file.
func (s *RequirementsExtractionStage) fetchContents(ctx context.Context, owner, name string, paths []string) map[string]string {
	contents := make(map[string]string, len(paths))
	for _, path := range paths {
		content, err := s.host.GetFile(ctx, owner, name, path)
		if err != nil {
			s.logger.Debug("file fetch failed", zap.String("path", path), zap.Error(err))
			continue
		}
		if runes := []rune(content); len(runes) > maxFileContentChars {
			content = string(runes[:maxFileContentChars]) + truncationSuffix
		}
		contents[path] = content
	}
	return contents
}

// parseRequirements applies the requirement micro-format contract: blocks
// split on "## Requirement:", sections labeled Type/Description/Rationale/
// Code References/Priority, content-hash ids.
func (s *RequirementsExtractionStage) parseRequirements(response string) []model.Requirement {
	blocks := strings.Split(response, requirementBlockSeparator)
	if len(blocks) < 2 {
		return nil
	}

	var requirements []model.Requirement
	for _, block := range blocks[1:] { // text before the first marker is discarded
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}

		req, ok := parseRequirementBlock(block)
		if !ok {
			s.logger.Warn("skipping malformed requirement block",
				zap.String("head", firstLine(block)),
			)
			if s.metrics != nil {
				s.metrics.RecordParseSkip(model.StageRequirementsExtraction)
			}
			continue
		}
		requirements = append(requirements, req)
	}
	return requirements
}

// parseRequirementBlock parses one block. A block without a title line is
// malformed; every section is otherwise optional with defaults.
func parseRequirementBlock(block string) (model.Requirement, bool) {
	title := firstLine(block)
	if title == "" {
		return model.Requirement{}, false
	}

	reqType := requirementType(sectionOrDefault(block, "Type:"))

	description := title
	if desc, ok := cutSection(block, "Description:", requirementLabels); ok && desc != "" {
		description = title + ": " + desc
	}

	rationale := sectionOrDefault(block, "Rationale:")
	priority := requirementPriority(sectionOrDefault(block, "Priority:"))
	codeRefs := splitCodeReferences(sectionOrDefault(block, "Code References:"))

	return model.Requirement{
		ID:             model.RequirementID(title, reqType, description),
		Type:           reqType,
		Description:    description,
		Rationale:      rationale,
		CodeReferences: codeRefs,
		Priority:       priority,
	}, true
}

func sectionOrDefault(block, label string) string {
	text, _ := cutSection(block, label, requirementLabels)
	return text
}

// requirementType keyword-matches the declared type, most specific first.
func requirementType(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "non-functional"):
		return model.RequirementNonFunctional
	case strings.Contains(lower, "technical"):
		return model.RequirementTechnical
	case strings.Contains(lower, "user"):
		return model.RequirementUserStory
	default:
		return model.RequirementFunctional
	}
}

// requirementPriority keyword-matches the declared priority.
func requirementPriority(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "high"):
		return model.PriorityHigh
	case strings.Contains(lower, "low"):
		return model.PriorityLow
	default:
		return model.PriorityMedium
	}
}

// splitCodeReferences splits on newlines and commas, stripping bullet
// markers.
func splitCodeReferences(text string) []string {
	if text == "" {
		return nil
	}

	var refs []string
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == ',' }) {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
		if line != "" {
			refs = append(refs, line)
		}
	}
	return refs
}

func buildRequirementsPrompt(abstraction model.Abstraction, contents map[string]string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Extract 5-10 requirements for the abstraction %q.\n\n", abstraction.Name)
	fmt.Fprintf(&b, "Description: %s\n", abstraction.Description)

	if len(abstraction.Responsibilities) > 0 {
		b.WriteString("Responsibilities:\n")
		for _, r := range abstraction.Responsibilities {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	if len(abstraction.Relationships) > 0 {
		b.WriteString("Relationships:\n")
		for _, rel := range abstraction.Relationships {
			fmt.Fprintf(&b, "- %s: %s - %s\n", rel.Name, rel.Type, rel.Description)
		}
	}

	if len(contents) > 0 {
		paths := make([]string, 0, len(contents))
		for p := range contents {
			paths = append(paths, p)
		}
		sort.Strings(paths)

		b.WriteString("\nRelevant code excerpts:\n")
		for _, p := range paths {
			fmt.Fprintf(&b, "\n--- %s ---\n%s\n", p, contents[p])
		}
	}

	b.WriteString("\nFor each requirement, use exactly this format:\n\n")
	b.WriteString("## Requirement: Title\n")
	b.WriteString("Type: functional | non-functional | technical | user story\n")
	b.WriteString("Description: what the system must do\n")
	b.WriteString("Rationale: why this requirement exists\n")
	b.WriteString("Code References: file paths supporting this requirement\n")
	b.WriteString("Priority: high | medium | low\n")

	return b.String()
}
