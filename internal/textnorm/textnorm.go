// Package textnorm prepares raw extracted document text for submission to a
// generation model: whitespace cleanup, repeated-line removal, heading-based
// section prioritization and a word budget.
package textnorm

import (
	"regexp"
	"strings"
)

// DefaultMaxWords is the budget used by callers that are not configured with one.
const DefaultMaxWords = 2000

var headingPattern = regexp.MustCompile(`(?i)(chapter\s+\d+|section\s+\d+|introduction|summary)`)

// Section is a heading marker together with the text that follows it up to
// the next marker.
type Section struct {
	Heading string
	Body    string
}

// Normalize runs the full pipeline over raw and returns at most maxWords
// words. A non-positive maxWords yields an empty string.
func Normalize(raw string, maxWords int) string {
	deduped := RemoveRepeatedLines(raw)
	cleaned := CollapseWhitespace(deduped)
	prioritized := PrioritizeSections(cleaned)
	return TrimWords(prioritized, maxWords)
}

// CollapseWhitespace replaces every run of whitespace with a single space and
// trims both ends.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// RemoveRepeatedLines keeps the first occurrence of every trimmed, non-empty
// line and joins the survivors with single spaces. Matching is exact and
// case-sensitive, which is enough to drop headers and footers repeated on
// every page.
func RemoveRepeatedLines(s string) string {
	lines := strings.Split(s, "\n")
	seen := make(map[string]struct{}, len(lines))
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		kept = append(kept, line)
	}
	return strings.Join(kept, " ")
}

// Sections splits s at every heading marker. Text before the first marker is
// not part of any section.
func Sections(s string) []Section {
	matches := headingPattern.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]Section, 0, len(matches))
	for i, m := range matches {
		end := len(s)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		out = append(out, Section{
			Heading: strings.TrimSpace(s[m[0]:m[1]]),
			Body:    strings.TrimSpace(s[m[1]:end]),
		})
	}
	return out
}

// PrioritizeSections keeps only the Introduction, Summary and Chapter
// sections of s, in document order. Section N headings take part in the
// split but are dropped. When nothing is kept the input is returned as is.
func PrioritizeSections(s string) string {
	sections := Sections(s)
	if len(sections) == 0 {
		return s
	}
	var kept []string
	for _, sec := range sections {
		if !priorityHeading(sec.Heading) {
			continue
		}
		kept = append(kept, strings.TrimSpace(sec.Heading+" "+sec.Body))
	}
	if len(kept) == 0 {
		return s
	}
	return strings.Join(kept, " ")
}

func priorityHeading(heading string) bool {
	h := strings.ToLower(heading)
	return h == "introduction" || h == "summary" || strings.Contains(h, "chapter")
}

// TrimWords keeps the first maxWords whitespace-separated words of s.
func TrimWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if maxWords < 0 {
		maxWords = 0
	}
	if len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.Join(words, " ")
}

// WordCount reports the number of whitespace-separated words in s.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
