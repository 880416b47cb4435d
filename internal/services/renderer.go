package services

import (
	"fmt"
	"strings"
	"time"

	"incident-vault-sync/internal/interfaces"
)

const noteTimeFormat = "2006-01-02 15:04"

// EncodeYAMLValue makes a scalar safe for the note's YAML header. Plain
// values stay bare; anything with structural characters or surrounding
// whitespace is quoted with embedded newlines escaped.
func EncodeYAMLValue(value string) string {
	if value == "" {
		return ""
	}

	needsQuoting := strings.ContainsAny(value, ":#[]{}|>\"'\n\r") ||
		strings.TrimSpace(value) != value

	if !needsQuoting {
		return value
	}

	escaped := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
	).Replace(value)

	return `"` + escaped + `"`
}

// FormatDuration renders minutes as a compact h/m string.
func FormatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	rest := minutes % 60
	if rest == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, rest)
}

// RenderIncidentNote produces the full detail document for one incident:
// YAML header, title, overview and the conditional sections in fixed order.
// Deterministic except for the last-synced stamp.
func RenderIncidentNote(full *interfaces.FullIncident, now time.Time) string {
	var b strings.Builder

	field := func(key, value string) {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(EncodeYAMLValue(value))
		b.WriteString("\n")
	}

	b.WriteString("---\n")
	field("incident_id", full.ID)
	field("reference", full.Reference)
	field("name", full.Name)
	field("created", full.CreatedAt.Format(time.RFC3339))
	if full.UpdatedAt != nil {
		field("updated", full.UpdatedAt.Format(time.RFC3339))
	}
	if full.ClosedAt != nil {
		field("closed", full.ClosedAt.Format(time.RFC3339))
	}
	if full.DurationMinutes != nil {
		field("duration", FormatDuration(*full.DurationMinutes))
	}
	field("status", full.Status)
	field("severity", full.Severity)
	if full.Type != "" {
		field("type", full.Type)
	}
	field("url", full.URL)
	b.WriteString("---\n\n")

	fmt.Fprintf(&b, "# %s: %s\n\n", full.Reference, full.Name)

	if full.Summary != "" {
		for _, line := range strings.Split(full.Summary, "\n") {
			b.WriteString("> ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("| Field | Value |\n")
	b.WriteString("| --- | --- |\n")
	fmt.Fprintf(&b, "| Status | %s |\n", full.Status)
	fmt.Fprintf(&b, "| Severity | %s |\n", full.Severity)
	fmt.Fprintf(&b, "| Created | %s |\n", full.CreatedAt.Format(noteTimeFormat))
	if full.DurationMinutes != nil {
		fmt.Fprintf(&b, "| Duration | %s |\n", FormatDuration(*full.DurationMinutes))
	}

	if timestamps := presentTimestamps(full.Timestamps); len(timestamps) > 0 {
		b.WriteString("\n## Timestamps\n\n")
		for _, ts := range timestamps {
			fmt.Fprintf(&b, "- **%s**: %s\n", ts.Name, ts.Value.Format(noteTimeFormat))
		}
	}

	if len(full.Roles) > 0 {
		b.WriteString("\n## Roles\n\n")
		for _, role := range full.Roles {
			fmt.Fprintf(&b, "- **%s**: %s\n", role.Role, role.Assignee)
		}
	}

	if len(full.CustomFields) > 0 {
		b.WriteString("\n## Custom Fields\n\n")
		for _, cf := range full.CustomFields {
			fmt.Fprintf(&b, "- **%s**: %s\n", cf.Name, cf.Value)
		}
	}

	if len(full.Updates) > 0 {
		b.WriteString("\n## Timeline\n\n")
		for _, update := range full.Updates {
			b.WriteString(renderUpdateLine(update))
			b.WriteString("\n")
		}
	}

	if len(full.Actions) > 0 {
		b.WriteString("\n## Actions\n\n")
		for _, action := range full.Actions {
			fmt.Fprintf(&b, "- %s %s", checkbox(action.Status), action.Description)
			if action.Assignee != "" {
				fmt.Fprintf(&b, " (%s)", action.Assignee)
			}
			b.WriteString("\n")
		}
	}

	if len(full.FollowUps) > 0 {
		b.WriteString("\n## Follow-ups\n\n")
		for _, fu := range full.FollowUps {
			fmt.Fprintf(&b, "- %s %s", checkbox(fu.Status), fu.Title)
			if fu.IssueURL != "" {
				name := fu.IssueName
				if name == "" {
					name = fu.IssueURL
				}
				fmt.Fprintf(&b, " ([%s](%s))", name, fu.IssueURL)
			}
			if fu.Assignee != "" {
				fmt.Fprintf(&b, " - %s", fu.Assignee)
			} else {
				b.WriteString(" - Unassigned")
			}
			b.WriteString("\n")
		}
	}

	if len(full.Attachments) > 0 {
		b.WriteString("\n## Attachments\n\n")
		for _, att := range full.Attachments {
			fmt.Fprintf(&b, "- [%s](%s)\n", att.Title, att.Permalink)
		}
	}

	fmt.Fprintf(&b, "\n---\n*Last synced: %s*\n", now.Format(time.RFC3339))

	return b.String()
}

func presentTimestamps(timestamps []interfaces.IncidentTimestamp) []interfaces.IncidentTimestamp {
	present := make([]interfaces.IncidentTimestamp, 0, len(timestamps))
	for _, ts := range timestamps {
		if ts.Value != nil {
			present = append(present, ts)
		}
	}
	return present
}

func renderUpdateLine(update interfaces.IncidentUpdate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- **%s**", update.CreatedAt.Format(noteTimeFormat))

	var tags []string
	if update.NewStatus != "" {
		tags = append(tags, update.NewStatus)
	}
	if update.NewSeverity != "" {
		tags = append(tags, update.NewSeverity)
	}
	if len(tags) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(tags, ", "))
	}

	if update.Message != "" {
		b.WriteString(" ")
		b.WriteString(strings.ReplaceAll(update.Message, "\n", " "))
	}
	return b.String()
}

func checkbox(status string) string {
	switch strings.ToLower(status) {
	case "completed", "done", "resolved", "closed":
		return "[x]"
	}
	return "[ ]"
}

// SummaryOptions controls how the daily summary section is rendered.
type SummaryOptions struct {
	SectionHeader    string
	IncludeOnCall    bool
	IncludeIncidents bool
	OmitEmpty        bool
	LinkToNotes      bool
	IncidentFolder   string
}

const nothingToReport = "Nothing to report."

// RenderDailySummary builds the managed daily section for one date. The
// on-call subsection only appears for the current day; on-call status is
// point-in-time and meaningless to backfill. remove=true signals that the
// section should be deleted from the document instead of written.
func RenderDailySummary(result *interfaces.SyncResult, date time.Time, today bool, opts SummaryOptions) (body string, remove bool) {
	header := strings.TrimSpace(opts.SectionHeader)
	childPrefix := strings.Repeat("#", headingLevel(header)+1)

	var sections []string

	if opts.IncludeOnCall && today {
		var lines []string
		if result.OnCall != nil {
			for _, schedule := range result.OnCall.Schedules {
				lines = append(lines, "- "+schedule)
			}
		}
		if len(lines) == 0 && !opts.OmitEmpty {
			lines = []string{nothingToReport}
		}
		if len(lines) > 0 {
			sections = append(sections, childPrefix+" On-call\n\n"+strings.Join(lines, "\n"))
		}
	}

	if opts.IncludeIncidents {
		var lines []string
		for _, full := range result.FullIncidents {
			if !IsActiveOn(full, date) {
				continue
			}
			lines = append(lines, incidentLine(full, opts))
		}
		if len(lines) == 0 && !opts.OmitEmpty {
			lines = []string{nothingToReport}
		}
		if len(lines) > 0 {
			sections = append(sections, childPrefix+" Incidents\n\n"+strings.Join(lines, "\n"))
		}
	}

	if len(sections) == 0 && opts.OmitEmpty {
		return "", true
	}

	if len(sections) == 0 {
		return header, false
	}

	return header + "\n\n" + strings.Join(sections, "\n\n"), false
}

func incidentLine(full *interfaces.FullIncident, opts SummaryOptions) string {
	if opts.LinkToNotes {
		target := full.Reference
		if opts.IncidentFolder != "" {
			target = opts.IncidentFolder + "/" + full.Reference
		}
		return fmt.Sprintf("- [[%s|%s: %s]]", target, full.Reference, full.Name)
	}
	return fmt.Sprintf("- [%s: %s (%s)](%s)", full.Reference, full.Name, full.Status, full.URL)
}

func headingLevel(header string) int {
	level := 0
	for _, r := range header {
		if r != '#' {
			break
		}
		level++
	}
	if level == 0 {
		return 2
	}
	return level
}
