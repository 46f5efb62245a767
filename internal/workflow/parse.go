package workflow

import (
	"regexp"
	"strings"
)

// A section ends at a blank line followed by a capitalized word, at the
// next known section label, or at the end of the block.
var sectionBoundary = regexp.MustCompile(`\n[ \t]*\n[ \t]*[A-Z]`)

var bulletSplit = regexp.MustCompile(`\n-\s+`)

// cutSection returns the trimmed text following "label" within block, and
// whether the label was present at all. The other labels bound the capture
// so single-line sections don't swallow their successors.
func cutSection(block, label string, labels []string) (string, bool) {
	idx := strings.Index(block, label)
	if idx < 0 {
		return "", false
	}
	rest := block[idx+len(label):]

	end := len(rest)
	if loc := sectionBoundary.FindStringIndex(rest); loc != nil && loc[0] < end {
		end = loc[0]
	}
	for _, other := range labels {
		if other == label {
			continue
		}
		if j := strings.Index(rest, "\n"+other); j >= 0 && j < end {
			end = j
		}
	}
	return strings.TrimSpace(rest[:end]), true
}

// splitBullets splits a captured section into its bullet items, trimming
// each and dropping empties.
func splitBullets(text string) []string {
	if text == "" {
		return nil
	}
	parts := bulletSplit.Split("\n"+text, -1)
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			items = append(items, p)
		}
	}
	return items
}
