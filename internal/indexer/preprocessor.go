package indexer

import (
	"regexp"
	"strings"
)

var (
	hyphenBreak = regexp.MustCompile(`(\p{L})-\n(\p{Ll})`)
	blankRuns   = regexp.MustCompile(`\n{3,}`)
	spaceRuns   = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
)

// Normalize cleans extracted text before chunking: line endings become LF,
// horizontal whitespace collapses to one space, lines lose trailing spaces,
// words hyphenated across a line break are rejoined and blank-line runs
// shrink to a single blank line.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(spaceRuns.ReplaceAllString(line, " "), " ")
	}
	text = strings.Join(lines, "\n")
	text = hyphenBreak.ReplaceAllString(text, "$1$2")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
