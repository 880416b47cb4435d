package services

import (
	"strings"

	"incident-vault-sync/internal/interfaces"
)

// The section reconciler treats a document as lines and only ever touches
// the line range owned by the target heading; everything else passes
// through byte-for-byte. It relies on the vault's pre-computed heading
// index rather than parsing structure itself.

// targetHeadingText strips leading '#' markers from the configured header
// so it can be compared against index heading text.
func targetHeadingText(header string) string {
	t := strings.TrimSpace(header)
	t = strings.TrimLeft(t, "#")
	return strings.TrimSpace(t)
}

// sectionRange locates the half-open line range [start, end) owned by the
// first heading matching the configured header: from the heading's line up
// to the next heading of equal or higher level, or end of document.
func sectionRange(headings []interfaces.Heading, header string, totalLines int) (start, end int, found bool) {
	target := targetHeadingText(header)

	for i, h := range headings {
		if strings.TrimSpace(h.Text) != target {
			continue
		}

		end = totalLines
		for _, next := range headings[i+1:] {
			if next.Level <= h.Level {
				end = next.Line
				break
			}
		}
		return h.Line, end, true
	}

	return 0, 0, false
}

// ReplaceSection splices body over the section owned by header, preserving
// all surrounding content. When the section does not exist the body is
// appended to the end of the document.
func ReplaceSection(content string, headings []interfaces.Heading, header, body string) string {
	body = strings.Trim(body, "\n")

	lines := strings.Split(content, "\n")
	start, end, found := sectionRange(headings, header, len(lines))

	if !found {
		if strings.TrimSpace(body) == "" {
			return content
		}
		return content + "\n\n" + body
	}

	out := make([]string, 0, len(lines))
	out = append(out, lines[:start]...)

	// Keep a single separating blank line against non-empty neighbours,
	// suppress it when the neighbour is already blank.
	if start > 0 && strings.TrimSpace(lines[start-1]) != "" {
		out = append(out, "")
	}

	out = append(out, strings.Split(body, "\n")...)

	if end < len(lines) && strings.TrimSpace(lines[end]) != "" {
		out = append(out, "")
	}

	out = append(out, lines[end:]...)

	return strings.Join(out, "\n")
}

// RemoveSection deletes the section owned by header entirely, then tidies
// the result: runs of three or more blank lines collapse to one, trailing
// whitespace is trimmed. A missing section is a no-op.
func RemoveSection(content string, headings []interfaces.Heading, header string) string {
	lines := strings.Split(content, "\n")
	start, end, found := sectionRange(headings, header, len(lines))
	if !found {
		return content
	}

	remaining := make([]string, 0, len(lines))
	remaining = append(remaining, lines[:start]...)
	remaining = append(remaining, lines[end:]...)

	collapsed := collapseBlankRuns(remaining)

	result := strings.TrimRight(strings.Join(collapsed, "\n"), " \t\n")
	if result == "" {
		return ""
	}
	return result + "\n"
}

// collapseBlankRuns reduces any run of 3+ blank lines to exactly one blank
// line. Shorter runs keep their original bytes, whitespace included, so
// content outside the removed section is not rewritten.
func collapseBlankRuns(lines []string) []string {
	out := make([]string, 0, len(lines))
	var run []string

	flush := func() {
		if len(run) >= 3 {
			out = append(out, "")
		} else {
			out = append(out, run...)
		}
		run = run[:0]
	}

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			run = append(run, line)
			continue
		}
		flush()
		out = append(out, line)
	}
	flush()

	return out
}
