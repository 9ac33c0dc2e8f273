package chunk

import (
	"strconv"
	"strings"
)

// splitMarkdown splits strictly at ATX heading boundaries of levels 1-3.
// Each chunk's meta carries the heading path ("H1 > H2") that encloses it.
// There is no size-based fallback: a very large section under one heading
// remains one chunk. Headings of level 4+ stay inside their section.
func splitMarkdown(text string) []Draft {
	lines := strings.Split(text, "\n")

	// headingStack[i] holds the active heading text for level i+1.
	var headingStack [3]string

	var drafts []Draft
	var current []string
	currentPath := ""

	flush := func() {
		content := strings.TrimRight(strings.Join(current, "\n"), "\n")
		if strings.TrimSpace(content) == "" {
			current = nil
			return
		}
		meta := map[string]string{"strategy": StrategyMarkdown}
		if currentPath != "" {
			meta["heading_path"] = currentPath
		}
		drafts = append(drafts, Draft{Content: content, Meta: meta})
		current = nil
	}

	for _, line := range lines {
		level, heading := parseHeading(line)
		if level >= 1 && level <= 3 {
			flush()
			headingStack[level-1] = heading
			for i := level; i < len(headingStack); i++ {
				headingStack[i] = ""
			}
			currentPath = joinHeadingPath(headingStack[:level])
		}
		current = append(current, line)
	}
	flush()

	// Annotate chunk ordinals within the document for debugging.
	for i := range drafts {
		drafts[i].Meta["section"] = strconv.Itoa(i)
	}
	return drafts
}

// parseHeading returns the ATX heading level and text, or (0, "") when the
// line is not a heading.
func parseHeading(line string) (int, string) {
	trimmed := strings.TrimLeft(line, " ")
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, ""
	}
	rest := trimmed[level:]
	if rest == "" {
		return level, ""
	}
	if rest[0] != ' ' && rest[0] != '\t' {
		return 0, ""
	}
	return level, strings.TrimSpace(rest)
}

func joinHeadingPath(headings []string) string {
	var parts []string
	for _, h := range headings {
		if h != "" {
			parts = append(parts, h)
		}
	}
	return strings.Join(parts, " > ")
}
