package services

import (
	"strings"
	"testing"

	"incident-vault-sync/internal/interfaces"

	"github.com/stretchr/testify/assert"
)

func heading(text string, level, line int) interfaces.Heading {
	return interfaces.Heading{Text: text, Level: level, Line: line}
}

const dailyDoc = `# Monday

Intro text.

## Incidents

- old line

## Notes

Some notes.
`

func dailyHeadings() []interfaces.Heading {
	return []interfaces.Heading{
		heading("Monday", 1, 0),
		heading("Incidents", 2, 4),
		heading("Notes", 2, 8),
	}
}

func TestReplaceSectionPreservesSurroundings(t *testing.T) {
	body := "## Incidents\n\n- new line"

	got := ReplaceSection(dailyDoc, dailyHeadings(), "## Incidents", body)

	want := `# Monday

Intro text.

## Incidents

- new line

## Notes

Some notes.
`
	assert.Equal(t, want, got)

	// Everything outside the owned range must be byte-identical
	assert.True(t, strings.HasPrefix(got, "# Monday\n\nIntro text.\n"))
	assert.True(t, strings.HasSuffix(got, "## Notes\n\nSome notes.\n"))
}

func TestReplaceSectionAppendsWhenMissing(t *testing.T) {
	content := "# Monday\n\nIntro text.\n"
	headings := []interfaces.Heading{heading("Monday", 1, 0)}
	body := "## Incidents\n\n- new line"

	got := ReplaceSection(content, headings, "## Incidents", body)

	assert.Equal(t, content+"\n\n"+body, got)
}

func TestReplaceSectionMissingWithEmptyBodyIsNoop(t *testing.T) {
	content := "# Monday\n\nIntro text.\n"
	headings := []interfaces.Heading{heading("Monday", 1, 0)}

	got := ReplaceSection(content, headings, "## Incidents", "")

	assert.Equal(t, content, got)
}

func TestReplaceSectionOwnsToEndOfDocument(t *testing.T) {
	content := "# Monday\n\n## Incidents\n\n- old\n- older\n"
	headings := []interfaces.Heading{
		heading("Monday", 1, 0),
		heading("Incidents", 2, 2),
	}

	got := ReplaceSection(content, headings, "## Incidents", "## Incidents\n\n- new")

	assert.Equal(t, "# Monday\n\n## Incidents\n\n- new", got)
}

func TestReplaceSectionStopsAtEqualLevelHeading(t *testing.T) {
	// A deeper subsection belongs to the managed range and is replaced
	content := "## Incidents\n\n### On-call\n\n- someone\n\n## Notes\n\nKeep.\n"
	headings := []interfaces.Heading{
		heading("Incidents", 2, 0),
		heading("On-call", 3, 2),
		heading("Notes", 2, 6),
	}

	got := ReplaceSection(content, headings, "## Incidents", "## Incidents\n\n- x")

	assert.Equal(t, "## Incidents\n\n- x\n\n## Notes\n\nKeep.\n", got)
}

func TestRemoveSection(t *testing.T) {
	got := RemoveSection(dailyDoc, dailyHeadings(), "## Incidents")

	want := `# Monday

Intro text.

## Notes

Some notes.
`
	assert.Equal(t, want, got)
}

func TestRemoveSectionMissingIsNoop(t *testing.T) {
	content := "# Monday\n\nIntro text.\n"
	headings := []interfaces.Heading{heading("Monday", 1, 0)}

	assert.Equal(t, content, RemoveSection(content, headings, "## Incidents"))
}

func TestRemoveSectionCollapsesBlankRuns(t *testing.T) {
	content := "A\n\n\n\n## Gone\nbody\n## Keep\nK\n"
	headings := []interfaces.Heading{
		heading("Gone", 2, 4),
		heading("Keep", 2, 6),
	}

	got := RemoveSection(content, headings, "## Gone")

	assert.Equal(t, "A\n\n## Keep\nK\n", got)
}

func TestRemoveSectionPreservesDistantWhitespaceLines(t *testing.T) {
	// A whitespace-only line far from the removed section keeps its bytes
	content := "# Monday\n\nA\n   \nB\n\n## Gone\nbody\n\n## Keep\nK\n"
	headings := []interfaces.Heading{
		heading("Monday", 1, 0),
		heading("Gone", 2, 6),
		heading("Keep", 2, 9),
	}

	got := RemoveSection(content, headings, "## Gone")

	assert.Equal(t, "# Monday\n\nA\n   \nB\n\n## Keep\nK\n", got)
}

func TestRemoveSectionTrimsTrailingWhitespace(t *testing.T) {
	content := "# Monday\n\nIntro.\n\n## Incidents\n\n- line\n"
	headings := []interfaces.Heading{
		heading("Monday", 1, 0),
		heading("Incidents", 2, 4),
	}

	got := RemoveSection(content, headings, "## Incidents")

	assert.Equal(t, "# Monday\n\nIntro.\n", got)
}

func TestRemoveSectionWholeDocument(t *testing.T) {
	content := "## Incidents\n\n- only\n"
	headings := []interfaces.Heading{heading("Incidents", 2, 0)}

	assert.Equal(t, "", RemoveSection(content, headings, "## Incidents"))
}

func TestSectionRangeMatchesFirstOccurrence(t *testing.T) {
	headings := []interfaces.Heading{
		heading("Incidents", 2, 2),
		heading("Incidents", 2, 8),
	}

	start, end, found := sectionRange(headings, "## Incidents", 12)

	assert.True(t, found)
	assert.Equal(t, 2, start)
	assert.Equal(t, 8, end)
}
